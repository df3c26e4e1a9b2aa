package treetank

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the engine counters of one resource. They are registered only when
// Options.Registerer is set, otherwise they are still counted and can be collected directly.
type Metrics struct {
	BucketsRead    prometheus.Counter
	BucketsWritten prometheus.Counter
	BytesWritten   prometheus.Counter
	Commits        prometheus.Counter
	ChainLength    prometheus.Histogram // buckets merged per leaf read
	Corruptions    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		BucketsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "treetank", Name: "buckets_read_total",
			Help: "Buckets fetched from the backend and deserialized.",
		}),
		BucketsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "treetank", Name: "buckets_written_total",
			Help: "Buckets handed to the backend by commits.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "treetank", Name: "bytes_written_total",
			Help: "Stored bytes of committed buckets, after compression.",
		}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "treetank", Name: "commits_total",
			Help: "Successfully published revisions.",
		}),
		ChainLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "treetank", Name: "leaf_chain_length",
			Help:    "Physical leaf versions merged to rebuild one logical leaf.",
			Buckets: prometheus.LinearBuckets(1, 1, 16),
		}),
		Corruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "treetank", Name: "corruptions_total",
			Help: "Buckets which failed to decode or verify.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.BucketsRead, m.BucketsWritten, m.BytesWritten, m.Commits, m.ChainLength, m.Corruptions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
