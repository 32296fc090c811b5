package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/irctrakz/meshlink/pkg/config"
	"github.com/irctrakz/meshlink/pkg/core"
	"github.com/irctrakz/meshlink/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startObservability starts the health and metrics endpoint and the
// periodic metrics dump when configured. Both stop with ctx.
func startObservability(ctx context.Context, cfg *config.Config, t *core.Transport, reg *prometheus.Registry) {
	if cfg.Metrics.Listen != "" {
		go serveHealth(ctx, cfg.Metrics.Listen, newHealthMux(t, reg))
	}
	if d := cfg.MetricsInterval(); d > 0 {
		go runMetricsReporter(ctx, t, d, cfg.Metrics.Format)
	}
}

func newHealthMux(t *core.Transport, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(t))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

type healthStatus struct {
	Status     string `json:"status"`
	Interfaces int    `json:"interfaces"`
	Online     int    `json:"online"`
	Clients    int    `json:"clients"`
}

// healthHandler reports ok while at least one interface is online.
func healthHandler(t *core.Transport) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ifaces := t.Interfaces.Snapshot()
		st := healthStatus{Status: "ok", Interfaces: len(ifaces), Clients: t.LocalClients.Len()}
		for _, i := range ifaces {
			if i.Online() {
				st.Online++
			}
		}
		code := http.StatusOK
		if st.Online == 0 {
			st.Status = "offline"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	}
}

func serveHealth(ctx context.Context, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Infof("Health and metrics endpoint listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Warnf("Health endpoint failed: %v", err)
	}
}
