package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xdeploy_events_published_total",
		Help: "Events successfully published to the bus, by topic.",
	}, []string{"topic"})

	publishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xdeploy_events_publish_errors_total",
		Help: "Events that failed to publish, by topic.",
	}, []string{"topic"})

	droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xdeploy_events_dropped_total",
		Help: "Events dropped because the queue was full, by topic.",
	}, []string{"topic"})
)
