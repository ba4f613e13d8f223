// Package monitoring exposes the metrics and healthcheck endpoints.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/loranode/lorawan-device-agent/internal/config"
)

// Setup starts the monitoring server when a bind address is configured.
func Setup(c config.Config) error {
	if c.Monitoring.Bind == "" {
		return nil
	}

	mux := http.NewServeMux()

	if c.Monitoring.PrometheusEndpoint {
		log.WithField("endpoint", "/metrics").Info("monitoring: registering prometheus endpoint")
		mux.Handle("/metrics", promhttp.Handler())
	}

	if c.Monitoring.HealthcheckEndpoint {
		log.WithField("endpoint", "/health").Info("monitoring: registering healthcheck endpoint")
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
	}

	server := http.Server{
		Handler: mux,
		Addr:    c.Monitoring.Bind,
	}

	go func() {
		err := server.ListenAndServe()
		log.WithError(err).Error("monitoring: monitoring server error")
	}()

	log.WithField("bind", c.Monitoring.Bind).Info("monitoring: monitoring server started")
	return nil
}
