package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler returns an http.Handler that serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// WriteTextfile writes the metrics of reg in the text exposition format, for
// pickup by a node exporter textfile collector. The file is replaced atomically.
func WriteTextfile(reg *prom.Registry, path string) error {
	return prom.WriteToTextfile(path, reg)
}
