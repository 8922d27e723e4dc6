package gateway

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/rtlmtr/internal/ratelimit"
)

const (
	// KeyPattern routes every single-segment path to the limiter.
	KeyPattern = "/{key}"

	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
)

// Admit answers 200 when the path key has a token left and 429 otherwise,
// with no body either way.
// It must be registered under KeyPattern. onDecision, if set, sees every
// decision before the response is written.
func Admit(lim ratelimit.Limiter, onDecision func(ratelimit.Decision)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")

		dec := lim.Allow(key)
		if onDecision != nil {
			onDecision(dec)
		}

		// the access log line for this request carries the decision
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("key", key).Bool("allowed", dec.Allowed).Int("remaining", dec.Remaining)
		})

		w.Header().Set(HeaderLimit, strconv.Itoa(dec.Limit))
		w.Header().Set(HeaderRemaining, strconv.Itoa(max(dec.Remaining, 0)))

		if !dec.Allowed {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}
