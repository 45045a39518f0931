package ruddr

import "github.com/VictoriaMetrics/metrics"

// Process-wide counters. Exposed through metrics.WritePrometheus by
// whatever HTTP surface the embedding program provides; the library
// only increments them.
var (
	metricNotify4      = metrics.NewCounter(`ruddr_notify_total{family="ipv4"}`)
	metricNotify6      = metrics.NewCounter(`ruddr_notify_total{family="ipv6"}`)
	metricNotifyFailed = metrics.NewCounter(`ruddr_notify_checks_failed_total`)

	metricPublished      = metrics.NewCounter(`ruddr_publish_total{result="published"}`)
	metricPublishSkipped = metrics.NewCounter(`ruddr_publish_total{result="skipped"}`)
	metricPublishFailed  = metrics.NewCounter(`ruddr_publish_total{result="failed"}`)
	metricPublishFatal   = metrics.NewCounter(`ruddr_publish_total{result="fatal"}`)
)
