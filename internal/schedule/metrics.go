package schedule

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "schedbot"

var (
	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "schedule",
		Name:      "queue_length",
		Help:      "Pending jobs at the last load or save.",
	})

	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "schedule",
		Name:      "ticks_total",
		Help:      "Poll loop ticks by outcome.",
	}, []string{"outcome"})

	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "schedule",
		Name:      "dispatch_total",
		Help:      "Dispatch attempts by result.",
	}, []string{"result"})

	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "schedule",
		Name:      "dispatch_duration_seconds",
		Help:      "Time spent in the dispatch gateway.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	deadLettersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "schedule",
		Name:      "dead_letters_total",
		Help:      "Jobs moved to the dead-letter list after repeated dispatch failures.",
	})
)

func recordTick(outcome string) { ticksTotal.WithLabelValues(outcome).Inc() }

func recordDispatch(result string, d time.Duration) {
	dispatchTotal.WithLabelValues(result).Inc()
	dispatchDuration.Observe(d.Seconds())
}
