// Package exporters publishes camera metrics over Prometheus HTTP and SSE.
package exporters

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/version"
)

var (
	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camnode_build_info",
		Help: "Build metadata of the running binary, always 1",
	}, []string{"version", "git_commit", "go_version"})

	buildInfoOnce sync.Once
)

// HTTPHandler returns the Prometheus scrape handler for the default
// registry. Scrape errors are logged through the metrics logger and the
// handler's own request counters are registered alongside camera metrics.
func HTTPHandler() http.Handler {
	buildInfoOnce.Do(func() {
		info := version.Get()
		buildInfo.WithLabelValues(info.Version, info.GitCommit, info.GoVersion).Set(1)
	})

	errorLog := slog.NewLogLogger(logging.GetLogger("metrics").Handler(), slog.LevelWarn)
	return promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorLog:          errorLog,
			ErrorHandling:     promhttp.ContinueOnError,
			EnableOpenMetrics: true,
		}),
	)
}
