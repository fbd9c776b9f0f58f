package server

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// promLogger routes promhttp encoding errors into zerolog.
type promLogger struct{}

func (promLogger) Println(v ...interface{}) {
	log.Warn().Str("component", "metrics").Msg(fmt.Sprint(v...))
}

// MetricsHandler serves the registry and counts its own scrapes in it.
// Collection errors are logged and the remaining metrics are still served.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.InstrumentMetricHandler(registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{},
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      registry,
	}))
}
