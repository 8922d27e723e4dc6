package ratelimit

import (
	"errors"
	"time"
)

var (
	ErrCapacity     = errors.New("capacity must be positive")
	ErrRefillPeriod = errors.New("refill period must be positive")
)

// Policy is shared by every key and never changes after startup.
type Policy struct {
	Capacity     int           // burst size, max tokens per bucket
	RefillPeriod time.Duration // time to refill an empty bucket to Capacity
}

func (p Policy) Validate() error {
	if p.Capacity <= 0 {
		return ErrCapacity
	}
	if p.RefillPeriod <= 0 {
		return ErrRefillPeriod
	}
	return nil
}

// Bucket is the state of one key. Tokens is only correct as of LastRefill.
type Bucket struct {
	Tokens     int
	LastRefill time.Time
}

type Decision struct {
	Allowed   bool
	Limit     int // policy capacity
	Remaining int // tokens after this request (0 when denied)
}

type Limiter interface {
	Allow(key string) Decision
}
