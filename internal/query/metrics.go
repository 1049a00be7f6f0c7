package query

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts cache effectiveness per key family (the first key part).
type Metrics struct {
	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	fetchErrors *prometheus.CounterVec
	discarded   *prometheus.CounterVec
}

// NewMetrics registers the cache collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	vec := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperlens",
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, []string{"query"})
	}
	m := &Metrics{
		hits:        vec("hits_total", "Reads served from a fresh cache entry."),
		misses:      vec("misses_total", "Reads that had to fetch."),
		fetchErrors: vec("fetch_errors_total", "Fetches that failed after retries."),
		discarded:   vec("discarded_total", "Fetch results dropped because the entry changed meanwhile."),
	}
	reg.MustRegister(m.hits, m.misses, m.fetchErrors, m.discarded)
	return m
}

func (m *Metrics) inc(vec func(*Metrics) *prometheus.CounterVec, key Key) {
	if m == nil {
		return
	}
	vec(m).WithLabelValues(key.label()).Inc()
}

func hits(m *Metrics) *prometheus.CounterVec        { return m.hits }
func misses(m *Metrics) *prometheus.CounterVec      { return m.misses }
func fetchErrors(m *Metrics) *prometheus.CounterVec { return m.fetchErrors }
func discarded(m *Metrics) *prometheus.CounterVec   { return m.discarded }
