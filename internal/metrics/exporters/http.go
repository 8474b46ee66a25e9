// Package exporters serves the capture metrics over HTTP.
package exporters

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/omnicapture/internal/logging"
	"github.com/smazurov/omnicapture/internal/version"
)

var buildInfoOnce sync.Once

// registerBuildInfo adds omnicapture_build_info{version,commit,go_version}
// to the default registry once per process.
func registerBuildInfo() {
	buildInfoOnce.Do(func() {
		info := version.Get()
		gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "omnicapture",
			Name:      "build_info",
			Help:      "Build metadata of the running binary; always 1",
		}, []string{"version", "commit", "go_version"})
		gauge.WithLabelValues(info.Version, info.GitCommit, info.GoVersion).Set(1)

		var are prometheus.AlreadyRegisteredError
		if err := prometheus.Register(gauge); err != nil && !errors.As(err, &are) {
			logging.GetLogger("metrics").Warn("Failed to register build info", "error", err)
		}
	})
}

// errorLog routes promhttp gather errors to the metrics logger.
type errorLog struct{ logger *slog.Logger }

func (l errorLog) Println(v ...any) {
	l.logger.Warn("Metrics gather error", "error", fmt.Sprint(v...))
}

// HTTPHandler serves every promauto-registered capture and preview metric.
// A failing collector is logged and skipped so one bad metric does not blank
// the scrape.
func HTTPHandler() http.Handler {
	registerBuildInfo()
	return promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorLog:          errorLog{logger: logging.GetLogger("metrics")},
			ErrorHandling:     promhttp.ContinueOnError,
			EnableOpenMetrics: true,
		}))
}
