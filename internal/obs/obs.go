package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

func SetupLogger(level string) zerolog.Logger {
	return NewLogger(os.Stdout, level)
}

// NewLogger falls back to info for an unknown level.
func NewLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// Logger returns the access-log middleware. Handlers below it add fields to
// the request logger (gateway.Admit adds key, allowed and remaining), and
// those fields land on the single line written once the response is done.
// Server errors log at error level, everything else, 429 included, at info.
func Logger(logger zerolog.Logger) func(http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		l := hlog.FromRequest(r)
		ev := l.Info()
		if status >= http.StatusInternalServerError {
			ev = l.Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("dur", duration).
			Msg("request")
	})

	return func(next http.Handler) http.Handler {
		return hlog.NewHandler(logger)(
			access(
				hlog.RemoteAddrHandler("remote")(
					hlog.RequestIDHandler("req_id", "X-Request-ID")(next),
				),
			),
		)
	}
}
