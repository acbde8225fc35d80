package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("mrv-backend/workflow")

var (
	analysisOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrv_analysis_outcomes_total",
		Help: "Completed verification analyses by resulting status.",
	}, []string{"status"})

	analysisFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrv_analysis_fallbacks_total",
		Help: "Analyses resolved through the fallback path, by reason.",
	}, []string{"reason"})

	analysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mrv_analysis_duration_seconds",
		Help:    "Wall time of one analysis attempt including the analyzer call.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	})

	evidenceSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mrv_evidence_submitted_total",
		Help: "Verification records created.",
	})

	creditsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrv_credits_generated_total",
		Help: "Carbon credit records created, by credit type.",
	}, []string{"credit_type"})

	reportsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrv_compliance_reports_total",
		Help: "Compliance reports generated, by certification eligibility.",
	}, []string{"eligible"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mrv_analysis_queue_depth",
		Help: "Tasks waiting in the in-process analysis queue.",
	})
)
