package observability

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves the medilink_* collectors alongside the Go runtime metrics.
// Scrapers that ask for OpenMetrics get it; a failing collector does not blank the whole scrape.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()

	handler := promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
		}),
	)
	return adaptor.HTTPHandler(handler)
}
