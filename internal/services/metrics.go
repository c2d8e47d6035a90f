// Package services – pipeline metrics
//
// Prometheus collectors for the round pipeline. Labels are kept to bounded
// enumerations (phase, outcome) so cardinality stays flat regardless of how
// many threads exist.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// roundsStarted counts submitted turns that opened a round.
	roundsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roundtable_rounds_started_total",
			Help: "Total number of rounds started.",
		},
	)

	// roundsFinished counts rounds by terminal outcome.
	roundsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundtable_rounds_finished_total",
			Help: "Total number of rounds reaching a terminal phase.",
		},
		[]string{"outcome"}, // complete | failed
	)

	// streamsStarted counts model streams by pipeline phase.
	streamsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundtable_streams_started_total",
			Help: "Total number of upstream model streams opened.",
		},
		[]string{"phase"}, // participant | analysis
	)

	// streamDuration records wall time of one model stream in seconds.
	streamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roundtable_stream_duration_seconds",
			Help:    "Duration of upstream model streams in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"phase"},
	)

	// resumeRequests counts resume lookups by result.
	resumeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundtable_resume_requests_total",
			Help: "Total number of stream resume lookups.",
		},
		[]string{"result"}, // none | live | stale
	)
)

// RegisterMetrics registers the pipeline collectors on a registry.
// Double registration is tolerated for tests.
func RegisterMetrics(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{
		roundsStarted, roundsFinished, streamsStarted, streamDuration, resumeRequests,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
