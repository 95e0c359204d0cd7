package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PollPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfp_poll_passes_total",
			Help: "Poll passes by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	PollPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rfp_poll_pass_duration_seconds",
			Help:    "Duration of a complete poll pass",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
	)

	MessagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfp_messages_total",
			Help: "Inbox messages by pipeline outcome",
		},
		[]string{"outcome"},
	)

	ExtractionResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfp_extraction_total",
			Help: "Proposal field extractions by result",
		},
		[]string{"result"},
	)

	ScoringPath = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfp_scoring_path_total",
			Help: "Which stage of the scoring waterfall produced the score",
		},
		[]string{"path"},
	)

	ScoreFloorApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rfp_score_floor_applied_total",
			Help: "Scores raised from zero by the completeness floor",
		},
	)

	ProposalScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rfp_proposal_score",
			Help:    "Distribution of final proposal scores",
			Buckets: []float64{0, 20, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfp_llm_requests_total",
			Help: "Completion requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfp_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	Recommendations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfp_recommendations_total",
			Help: "Recommendation reads by source",
		},
		[]string{"source"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfp_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfp_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	EmailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfp_emails_sent_total",
			Help: "Outbound RFP emails by status",
		},
		[]string{"status"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rfp_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	registerOnce sync.Once
)

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PollPasses,
			PollPassDuration,
			MessagesProcessed,
			ExtractionResults,
			ScoringPath,
			ScoreFloorApplied,
			ProposalScores,
			LLMRequests,
			LLMTokensUsed,
			Recommendations,
			CacheHits,
			CacheMisses,
			EmailsSent,
			BreakerState,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
