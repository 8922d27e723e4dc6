package gateway

import "net/http"

// Ops holds the operational endpoints. They live under two-segment paths
// so they never shadow a rate-limit key.
type Ops struct {
	Version     string
	MetricsPath string
	Metrics     http.Handler
}

func NewMux(admit http.Handler, ops Ops) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/_/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	mux.HandleFunc("/_/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(ops.Version))
	})

	if ops.Metrics != nil && ops.MetricsPath != "" {
		mux.Handle(ops.MetricsPath, ops.Metrics)
	}

	mux.Handle(KeyPattern, admit)
	return mux
}
