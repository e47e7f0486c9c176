package daemon

import (
	"net/http"
	"time"

	"github.com/harun/closedai/internal/observability"
)

// startMetrics serves Prometheus metrics when a listen address is set.
func (d *Daemon) startMetrics() {
	addr := d.config.Metrics.Listen
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", d.healthz)

	d.metrics = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srv := d.metrics
	go func() {
		zl := d.logger.Zerolog()
		zl.Info().Str("addr", addr).Msg("Metrics listener started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl := d.logger.Zerolog()
			zl.Error().Err(err).Msg("Metrics listener failed")
		}
	}()
}

func (d *Daemon) healthz(w http.ResponseWriter, r *http.Request) {
	if err := d.store.Ping(r.Context()); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
