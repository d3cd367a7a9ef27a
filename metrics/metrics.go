// Package metrics exposes grouped counters, gauges and stopwatches backed by a
// prometheus registry.
package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "tcpio"

type vecKey struct {
	policy Policy
	name   string
	labels string
}

type store struct {
	mu       sync.Mutex
	registry *prometheus.Registry
	vecs     map[vecKey]prometheus.Collector
}

var _store = newStore()

func newStore() *store {
	return &store{
		registry: prometheus.NewRegistry(),
		vecs:     make(map[vecKey]prometheus.Collector),
	}
}

// Registry returns the registry all metrics are registered with.
func Registry() *prometheus.Registry {
	_store.mu.Lock()
	defer _store.mu.Unlock()
	return _store.registry
}

// Handler serves the registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}

// Reset drops every metric. Intended for tests.
func Reset() {
	_store.mu.Lock()
	defer _store.mu.Unlock()
	_store.registry = prometheus.NewRegistry()
	_store.vecs = make(map[vecKey]prometheus.Collector)
}

func labelKeys(dims Dimension) []string {
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// vec returns the collector for (policy, name, label keys), creating and registering it on
// first use. Returns nil when the name clashes with an incompatible metric.
func (s *store) vec(policy Policy, group, name string, keys []string) prometheus.Collector {
	fq := prometheus.BuildFQName(Namespace, group, name)
	k := vecKey{policy: policy, name: fq, labels: strings.Join(keys, ",")}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.vecs[k]; ok {
		return c
	}

	var c prometheus.Collector
	switch policy {
	case PolicySum:
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: fq, Help: group + " " + name}, keys)
	case PolicySet:
		c = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: fq, Help: group + " " + name}, keys)
	case PolicyStopwatch:
		c = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fq,
			Help:    group + " " + name,
			Buckets: prometheus.DefBuckets,
		}, keys)
	default:
		return nil
	}
	if err := s.registry.Register(c); err != nil {
		return nil
	}
	s.vecs[k] = c
	return c
}

// Counter returns the counter for group/name with the given dimensions.
// Returns nil when the metric cannot be registered.
func Counter(group, name string, dims Dimension) prometheus.Counter {
	keys := labelKeys(dims)
	v, ok := _store.vec(PolicySum, group, name, keys).(*prometheus.CounterVec)
	if !ok {
		return nil
	}
	return v.With(prometheus.Labels(dims))
}

// Gauge returns the gauge for group/name with the given dimensions.
// Returns nil when the metric cannot be registered.
func Gauge(group, name string, dims Dimension) prometheus.Gauge {
	keys := labelKeys(dims)
	v, ok := _store.vec(PolicySet, group, name, keys).(*prometheus.GaugeVec)
	if !ok {
		return nil
	}
	return v.With(prometheus.Labels(dims))
}

// IncrCounterWithGroup 累加计数.
func IncrCounterWithGroup(group, name string, value Value) {
	IncrCounterWithDimGroup(group, name, value, nil)
}

// IncrCounterWithDimGroup 带维度累加计数.
func IncrCounterWithDimGroup(group, name string, value Value, dims Dimension) {
	if c := Counter(group, name, dims); c != nil && value >= 0 {
		c.Add(float64(value))
	}
}

// UpdateGaugeWithGroup 设置瞬时值.
func UpdateGaugeWithGroup(group, name string, value Value) {
	UpdateGaugeWithDimGroup(group, name, value, nil)
}

// UpdateGaugeWithDimGroup 带维度设置瞬时值.
func UpdateGaugeWithDimGroup(group, name string, value Value, dims Dimension) {
	if g := Gauge(group, name, dims); g != nil {
		g.Set(float64(value))
	}
}

// RecordStopwatchWithGroup 记录耗时.
func RecordStopwatchWithGroup(group, name string, d time.Duration) {
	RecordStopwatchWithDimGroup(group, name, d, nil)
}

// RecordStopwatchWithDimGroup 带维度记录耗时, 单位秒.
func RecordStopwatchWithDimGroup(group, name string, d time.Duration, dims Dimension) {
	v, ok := _store.vec(PolicyStopwatch, group, name, labelKeys(dims)).(*prometheus.HistogramVec)
	if !ok {
		return
	}
	v.With(prometheus.Labels(dims)).Observe(d.Seconds())
}
