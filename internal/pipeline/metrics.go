package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	llmCalls      *prometheus.CounterVec
	webSearches   prometheus.Counter
	personaRetry  prometheus.Counter
)

func init() {
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prospector",
		Name:      "runs_total",
		Help:      "Research runs by terminal status",
	},
		[]string{"status"},
	)
	stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "prospector",
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each pipeline stage",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	},
		[]string{"stage", "outcome"},
	)
	llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prospector",
		Name:      "llm_calls_total",
		Help:      "Successful model calls by provider",
	},
		[]string{"provider"},
	)
	webSearches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prospector",
		Name:      "web_searches_total",
		Help:      "Web search queries issued by the pipeline",
	})
	personaRetry = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prospector",
		Name:      "persona_retries_total",
		Help:      "Persona stage retries after placeholder names",
	})

	prometheus.MustRegister(runsTotal, stageDuration, llmCalls, webSearches, personaRetry)
}
