// Package metrics declares the prometheus collectors of the sharding pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// metrics labels.
const (
	LblType       = "type"
	LblDataSource = "datasource"
	LblResult     = "result"

	opSucc   = "ok"
	opFailed = "err"
)

var (
	RouteCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardroute",
			Subsystem: "route",
			Name:      "statement_total",
			Help:      "Counter of routed statements.",
		}, []string{LblType, LblResult})

	RouteUnits = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "shardroute",
			Subsystem: "route",
			Name:      "units_num",
			Help:      "Bucketed histogram of routing units per statement.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1 ~ 512
		})

	FullRouteCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shardroute",
			Subsystem: "route",
			Name:      "full_route_total",
			Help:      "Counter of statements broadcast to every node of a sharded table.",
		})

	ExecuteCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardroute",
			Subsystem: "execute",
			Name:      "unit_total",
			Help:      "Counter of executed sql units.",
		}, []string{LblDataSource, LblResult})

	ExecuteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shardroute",
			Subsystem: "execute",
			Name:      "unit_duration_seconds",
			Help:      "Bucketed histogram of sql unit execution duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 20), // 0.5ms ~ 262s
		}, []string{LblDataSource})

	PanicCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardroute",
			Subsystem: "execute",
			Name:      "panic_total",
			Help:      "Counter of panics recovered in the worker pool.",
		}, []string{LblType})
)

// RetLabel returns "ok" when err == nil and "err" when err != nil.
func RetLabel(err error) string {
	if err == nil {
		return opSucc
	}
	return opFailed
}

// RegisterMetrics registers every collector with r, or the default registerer when r is nil.
func RegisterMetrics(r prometheus.Registerer) {
	if r == nil {
		r = prometheus.DefaultRegisterer
	}
	r.MustRegister(RouteCounter)
	r.MustRegister(RouteUnits)
	r.MustRegister(FullRouteCounter)
	r.MustRegister(ExecuteCounter)
	r.MustRegister(ExecuteDuration)
	r.MustRegister(PanicCounter)
}
