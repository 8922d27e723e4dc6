package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AlexKimmel/rtlmtr/internal/ratelimit"
)

const DefaultPath = "./config.yaml"

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/_/metrics"
}

type Limits struct {
	Capacity     int      `yaml:"capacity"`
	RefillPeriod Duration `yaml:"refill_period"`
}

type Sweep struct {
	Enabled     bool `yaml:"enabled"`
	IdlePeriods int  `yaml:"idle_periods"` // idle time before removal, in refill periods
	IntervalMS  int  `yaml:"interval_ms"`
}

type Store struct {
	Shards int   `yaml:"shards"`
	Sweep  Sweep `yaml:"sweep"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Limits        Limits        `yaml:"limits"`
	Store         Store         `yaml:"store"`
}

// Default mirrors a config.yaml with every field at its default.
func Default() *Root {
	return &Root{
		Server: Server{Addr: ":3000"},
		Observability: Observability{
			LogLevel:       "info",
			PrometheusPath: "/_/metrics",
		},
		Limits: Limits{
			Capacity:     100,
			RefillPeriod: Duration(60 * time.Second),
		},
		Store: Store{
			Shards: 64,
			Sweep:  Sweep{IdlePeriods: 3, IntervalMS: 60_000},
		},
	}
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (l Limits) Policy() ratelimit.Policy {
	return ratelimit.Policy{Capacity: l.Capacity, RefillPeriod: time.Duration(l.RefillPeriod)}
}

// SweepIdle is how long a bucket must go without an admitted request
// before the sweeper may drop it.
func (r *Root) SweepIdle() time.Duration {
	return time.Duration(r.Store.Sweep.IdlePeriods) * time.Duration(r.Limits.RefillPeriod)
}

func (r *Root) SweepInterval() time.Duration {
	return time.Duration(r.Store.Sweep.IntervalMS) * time.Millisecond
}

// Load reads a yaml file over the defaults. Keys missing from the file keep
// their default; keys present with a zero value stay zero and fail Validate.
func Load(path string) (*Root, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv builds the startup configuration: the yaml file named by
// CONFIG_FILE (or DefaultPath, which may be absent), then CAPACITY,
// REFILL_PERIOD, PORT and LOG_LEVEL on top, then Validate.
func FromEnv(lookup func(string) (string, bool)) (*Root, error) {
	path, explicit := lookup("CONFIG_FILE")
	if !explicit || path == "" {
		path, explicit = DefaultPath, false
	}

	cfg, err := Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		cfg = Default()
	default:
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *Root) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &Error{Field: "CAPACITY", Value: v, Err: err}
		}
		r.Limits.Capacity = n
	}

	// REFILL_PERIOD_SECONDS is the older name; REFILL_PERIOD wins when both are set.
	for _, name := range []string{"REFILL_PERIOD_SECONDS", "REFILL_PERIOD"} {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return &Error{Field: name, Value: v, Err: err}
		}
		r.Limits.RefillPeriod = Duration(d)
	}

	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > math.MaxUint16 {
			return &Error{Field: "PORT", Value: v, Err: errors.New("must be a port number")}
		}
		r.Server.Addr = ":" + v
	}

	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		r.Observability.LogLevel = v
	}
	return nil
}

// Validate rejects anything the limiter cannot run with.
func (r *Root) Validate() error {
	if err := r.Limits.Policy().Validate(); err != nil {
		if errors.Is(err, ratelimit.ErrCapacity) {
			return &Error{Field: "capacity", Value: strconv.Itoa(r.Limits.Capacity), Err: err}
		}
		return &Error{Field: "refill_period", Value: r.Limits.RefillPeriod.String(), Err: err}
	}
	if r.Store.Shards < 1 {
		return &Error{Field: "store.shards", Value: strconv.Itoa(r.Store.Shards), Err: errors.New("must be at least 1")}
	}
	if r.Store.Sweep.Enabled {
		if r.Store.Sweep.IdlePeriods < 1 {
			return &Error{Field: "store.sweep.idle_periods", Value: strconv.Itoa(r.Store.Sweep.IdlePeriods), Err: errors.New("must be at least 1")}
		}
		if int64(r.Store.Sweep.IdlePeriods) > math.MaxInt64/int64(r.Limits.RefillPeriod) {
			return &Error{Field: "store.sweep.idle_periods", Value: strconv.Itoa(r.Store.Sweep.IdlePeriods), Err: errors.New("idle time overflows a duration")}
		}
		if r.Store.Sweep.IntervalMS <= 0 {
			return &Error{Field: "store.sweep.interval_ms", Value: strconv.Itoa(r.Store.Sweep.IntervalMS), Err: errors.New("must be positive")}
		}
	}
	if err := validateOpsPath(r.Observability.PrometheusPath); err != nil {
		return &Error{Field: "observability.prometheus_path", Value: r.Observability.PrometheusPath, Err: err}
	}
	if r.Server.Addr == "" {
		return &Error{Field: "server.addr", Err: errors.New("must not be empty")}
	}
	return nil
}

// validateOpsPath keeps operational endpoints off single-segment paths,
// which all belong to rate-limit keys. Empty disables the endpoint.
func validateOpsPath(path string) error {
	switch {
	case path == "":
		return nil
	case !strings.HasPrefix(path, "/_/") || len(path) == len("/_/"):
		return errors.New(`must be a path under "/_/"`)
	case path == "/_/health" || path == "/_/version":
		return errors.New("already in use")
	}
	return nil
}

// Duration accepts either a whole number of seconds or a Go duration string.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := parseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs > math.MaxInt64/int64(time.Second) || secs < math.MinInt64/int64(time.Second) {
			return 0, fmt.Errorf("%d seconds is out of range", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("not a number of seconds or a duration: %q", s)
	}
	return d, nil
}
