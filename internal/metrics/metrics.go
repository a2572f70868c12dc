// Package metrics registers the zymctrl Prometheus collectors and exposes
// them over HTTP or as a node-exporter textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zymctrl"

var (
	candidatesGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generate",
			Name:      "candidates_total",
			Help:      "Candidates sampled, by stop reason",
		},
		[]string{"stop_reason"},
	)

	generationBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generate",
			Name:      "batch_duration_seconds",
			Help:      "Wall time to sample one batch of candidates",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	filterOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "candidates_total",
			Help:      "Filter decisions per candidate",
		},
		[]string{"outcome"},
	)

	predictorFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "predictor_failures_total",
			Help:      "Predictor calls that failed after retries",
		},
	)

	trainingSteps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "steps_total",
			Help:      "Optimizer steps taken",
		},
	)

	heldOutPerplexity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "held_out_perplexity",
			Help:      "Most recent held-out perplexity",
		},
	)

	recordsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "records_skipped_total",
			Help:      "Dataset records skipped for invalid codes or symbols",
		},
	)

	checkpointSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "saves_total",
			Help:      "Checkpoint save attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		candidatesGenerated, generationBatchDuration,
		filterOutcomes, predictorFailures,
		trainingSteps, heldOutPerplexity, recordsSkipped,
		checkpointSaves,
		httpRequestsTotal,
	)
}

// ObserveCandidate counts one sampled candidate.
func ObserveCandidate(stopReason string) {
	candidatesGenerated.WithLabelValues(stopReason).Inc()
}

// ObserveGenerationBatch records the duration of one sampled batch.
func ObserveGenerationBatch(d time.Duration) {
	generationBatchDuration.Observe(d.Seconds())
}

// ObserveFilter counts filter outcomes such as "retained" or "duplicate".
func ObserveFilter(outcome string, n int) {
	if n > 0 {
		filterOutcomes.WithLabelValues(outcome).Add(float64(n))
	}
}

// IncPredictorFailure counts a predictor call that exhausted its retries.
func IncPredictorFailure() { predictorFailures.Inc() }

// ObserveTrainingStep counts one optimizer step.
func ObserveTrainingStep() { trainingSteps.Inc() }

// SetHeldOutPerplexity publishes the latest evaluation result.
func SetHeldOutPerplexity(ppl float64) { heldOutPerplexity.Set(ppl) }

// AddSkippedRecords counts skipped dataset records.
func AddSkippedRecords(n int) {
	if n > 0 {
		recordsSkipped.Add(float64(n))
	}
}

// ObserveCheckpointSave counts a save attempt.
func ObserveCheckpointSave(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	checkpointSaves.WithLabelValues(result).Inc()
}
