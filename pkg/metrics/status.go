package metrics

import (
	"expvar"
	"fmt"
	"net/http"

	logging "github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusConfig holds the listen address and optional TLS material for
// the status HTTP server.
type StatusConfig struct {
	Enabled bool
	Listen  string
	TLS     bool
	Cert    string
	Key     string
}

// RunStatusServer serves /metrics (Prometheus) and /debug/vars (raw
// expvar JSON) until the process exits. Meant to be launched in its own
// goroutine; calls log.Fatal on a listen failure.
func RunStatusServer(log *logging.Logger, cfg StatusConfig) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/vars", expvar.Handler())

	if cfg.TLS {
		log.Notice(fmt.Sprintf("Starting HTTPS status server on %s", cfg.Listen))
		if err := http.ListenAndServeTLS(cfg.Listen, cfg.Cert, cfg.Key, mux); err != nil {
			log.Fatal(fmt.Sprintf("Error starting HTTPS status server: %s", err.Error()))
		}
	} else {
		log.Notice(fmt.Sprintf("Starting HTTP status server on %s", cfg.Listen))
		if err := http.ListenAndServe(cfg.Listen, mux); err != nil {
			log.Fatal(fmt.Sprintf("Error starting HTTP status server: %s", err.Error()))
		}
	}
}
