package knn

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments a classification run. A nil *Metrics records nothing.
type Metrics struct {
	PartitionsScanned   prometheus.Counter
	CandidatesEvaluated prometheus.Counter
	FragmentsMerged     *prometheus.CounterVec
	QueriesClassified   prometheus.Counter
	QueriesSkipped      *prometheus.CounterVec
}

// NewMetrics registers the knn metrics with r.
func NewMetrics(r prometheus.Registerer) *Metrics {
	return &Metrics{
		PartitionsScanned: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "knn_partitions_scanned_total",
			Help: "Number of reference partitions scanned by map tasks",
		}),
		CandidatesEvaluated: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "knn_candidates_evaluated_total",
			Help: "Number of (query, reference) distances computed",
		}),
		FragmentsMerged: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "knn_fragments_merged_total",
			Help: "Number of partition fragments consumed by the reducer, by selection strategy",
		}, []string{"strategy"}),
		QueriesClassified: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "knn_queries_classified_total",
			Help: "Number of queries that received a label",
		}),
		QueriesSkipped: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "knn_queries_skipped_total",
			Help: "Number of queries dropped from the output, by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) partitionScanned(candidates int) {
	if m == nil {
		return
	}

	m.PartitionsScanned.Inc()
	m.CandidatesEvaluated.Add(float64(candidates))
}

func (m *Metrics) fragmentsMerged(s Strategy, n int) {
	if m == nil {
		return
	}

	m.FragmentsMerged.WithLabelValues(string(s)).Add(float64(n))
}

func (m *Metrics) queryClassified() {
	if m == nil {
		return
	}

	m.QueriesClassified.Inc()
}

func (m *Metrics) querySkipped(err error) {
	if m == nil {
		return
	}

	reason := "other"
	switch {
	case errors.Is(err, ErrEmptyReferenceSet):
		reason = "empty_reference_set"
	case errors.Is(err, ErrEmptyNeighborSet):
		reason = "empty_neighbor_set"
	}
	m.QueriesSkipped.WithLabelValues(reason).Inc()
}
