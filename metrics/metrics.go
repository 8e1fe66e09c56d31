// Package metrics provides a small Collector/Scope abstraction over
// Prometheus, in the same shape as the runtime's other ambient packages: a
// Collector owns the registry, Scopes carry a fixed set of tags (Prometheus
// label values), and call sites never touch prometheus types directly.
package metrics

import (
	"net/http"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neurobench/runtime/logger"
)

type Collector struct {
	config   CollectorConfig
	logger   logger.Logger
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

type CollectorConfig struct {
	// Enabled toggles whether Count/Timing actually record anything. Disabled
	// collectors are safe zero values used by tests that don't care about
	// metrics.
	Enabled bool

	// Namespace prefixes every metric name, e.g. "neurobench".
	Namespace string
}

func NewCollector(l logger.Logger, c CollectorConfig) *Collector {
	return &Collector{
		config:     c,
		logger:     l,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (c *Collector) Start() error {
	if c.config.Enabled {
		c.logger.Info("Starting metrics collection (namespace=%s)", c.config.Namespace)
	}
	return nil
}

func (c *Collector) Stop() error {
	if c.config.Enabled {
		c.logger.Info("Stopping metrics collection")
	}
	return nil
}

// Handler returns an http.Handler serving the collector's registry in the
// Prometheus exposition format, for mounting onto the HTTP host's /metrics
// route.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Scope(tags Tags) *Scope {
	return &Scope{
		Tags: tags,
		c:    c,
	}
}

type Scope struct {
	Tags Tags
	c    *Collector
}

// With returns a scope with more tags added.
func (s *Scope) With(tags Tags) *Scope {
	return &Scope{
		Tags: s.mergeTags(tags),
		c:    s.c,
	}
}

// Count increments a named counter by value, labeled with the scope's tags.
func (s *Scope) Count(name string, value int64, tags ...Tags) {
	if !s.c.config.Enabled {
		return
	}

	merged := s.mergeTags(tags...)
	labelNames, labelValues := merged.sortedPairs()

	s.c.logger.Debug("Metrics count %s=%d %v", name, value, merged)

	vec := s.c.counterVec(name, labelNames)
	vec.WithLabelValues(labelValues...).Add(float64(value))
}

// Timing records a duration observation (in seconds) in a named histogram,
// labeled with the scope's tags.
func (s *Scope) Timing(name string, value time.Duration, tags ...Tags) {
	if !s.c.config.Enabled {
		return
	}

	merged := s.mergeTags(tags...)
	labelNames, labelValues := merged.sortedPairs()

	s.c.logger.Debug("Metrics timing %s=%v %v", name, value, merged)

	vec := s.c.histogramVec(name, labelNames)
	vec.WithLabelValues(labelValues...).Observe(value.Seconds())
}

func (s *Scope) mergeTags(tagsSlice ...Tags) Tags {
	merged := Tags{}
	for k, v := range s.Tags {
		merged[formatName(k)] = formatName(v)
	}
	for _, tags := range tagsSlice {
		for k, v := range tags {
			merged[formatName(k)] = formatName(v)
		}
	}
	return merged
}

// counterVec returns (creating if necessary) the CounterVec registered under
// name with the given label set. The label set for a given name is fixed by
// its first caller; every call site for a name must use the same tag keys.
func (c *Collector) counterVec(name string, labelNames []string) *prometheus.CounterVec {
	c.mu.Lock()
	defer c.mu.Unlock()

	if vec, ok := c.counters[name]; ok {
		return vec
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.config.Namespace,
		Name:      name,
	}, labelNames)
	c.registry.MustRegister(vec)
	c.counters[name] = vec
	return vec
}

func (c *Collector) histogramVec(name string, labelNames []string) *prometheus.HistogramVec {
	c.mu.Lock()
	defer c.mu.Unlock()

	if vec, ok := c.histograms[name]; ok {
		return vec
	}

	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.config.Namespace,
		Name:      name,
		Buckets:   prometheus.DefBuckets,
	}, labelNames)
	c.registry.MustRegister(vec)
	c.histograms[name] = vec
	return vec
}

type Tags map[string]string

// sortedPairs returns the tag keys and matching values in a stable order, for
// use as Prometheus label names/values (which must be supplied positionally).
func (tags Tags) sortedPairs() (names, values []string) {
	names = make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)

	values = make([]string, len(names))
	for i, k := range names {
		values[i] = tags[k]
	}
	return names, values
}

// Prometheus label names/values only allow a constrained character set;
// anything else is folded to an underscore so a stray tag can't break
// registration.
var nameRegex = regexp.MustCompile(`[^._a-zA-Z0-9]+`)

func formatName(name string) string {
	return nameRegex.ReplaceAllString(name, "_")
}
