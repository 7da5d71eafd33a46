// Prometheus text-format metrics
//
// Counters, gauges and histograms keyed by label set, collected in a
// Registry and rendered in registration order.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents the type of metric
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "untyped"
	}
}

// Labels represents metric labels as key-value pairs
type Labels map[string]string

func (l Labels) keys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// key identifies a label set inside one metric.
func (l Labels) key() string {
	var sb strings.Builder
	for i, k := range l.keys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// String renders the set as {k="v",...}; an empty set renders as "".
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range l.keys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(escapeLabel(l[k]))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

func (l Labels) with(k, v string) Labels {
	out := make(Labels, len(l)+1)
	for kk, vv := range l {
		out[kk] = vv
	}
	out[k] = v
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(s string) string { return labelEscaper.Replace(s) }

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is the interface for all metric types
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// desc is the name/help pair shared by every metric type.
type desc struct {
	name string
	help string
}

func (d desc) Name() string { return d.name }
func (d desc) Help() string { return d.help }

func (d desc) header(sb *strings.Builder, t MetricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", d.name, d.help, d.name, t)
}

// series holds one value per label set and renders them sorted by key.
type series[V any] struct {
	values sync.Map // label key -> *entry[V]
	newV   func() *V
}

type entry[V any] struct {
	labels Labels
	v      *V
}

func (s *series[V]) get(labels Labels) *V {
	key := labels.key()
	if e, ok := s.values.Load(key); ok {
		return e.(*entry[V]).v
	}
	e, _ := s.values.LoadOrStore(key, &entry[V]{labels: labels, v: s.newV()})
	return e.(*entry[V]).v
}

func (s *series[V]) lookup(labels Labels) (*V, bool) {
	e, ok := s.values.Load(labels.key())
	if !ok {
		return nil, false
	}
	return e.(*entry[V]).v, true
}

func (s *series[V]) each(fn func(labels Labels, v *V)) {
	var keys []string
	entries := map[string]*entry[V]{}
	s.values.Range(func(k, e interface{}) bool {
		keys = append(keys, k.(string))
		entries[k.(string)] = e.(*entry[V])
		return true
	})
	sort.Strings(keys)
	for _, k := range keys {
		fn(entries[k].labels, entries[k].v)
	}
}

// Counter is a monotonically increasing metric
type Counter struct {
	desc
	s series[atomic.Uint64]
}

// NewCounter creates a new counter metric
func NewCounter(name, help string) *Counter {
	return &Counter{
		desc: desc{name, help},
		s:    series[atomic.Uint64]{newV: func() *atomic.Uint64 { return new(atomic.Uint64) }},
	}
}

func (c *Counter) Type() MetricType { return TypeCounter }

// Inc increments the counter by 1
func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add increments the counter by delta
func (c *Counter) Add(labels Labels, delta uint64) { c.s.get(labels).Add(delta) }

// Get returns the current counter value for labels
func (c *Counter) Get(labels Labels) uint64 {
	if v, ok := c.s.lookup(labels); ok {
		return v.Load()
	}
	return 0
}

func (c *Counter) Write(sb *strings.Builder) {
	c.header(sb, TypeCounter)
	c.s.each(func(labels Labels, v *atomic.Uint64) {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, labels, v.Load())
	})
}

// Gauge is a metric that can go up and down
type Gauge struct {
	desc
	s series[atomic.Uint64] // float64 bits
}

// NewGauge creates a new gauge metric
func NewGauge(name, help string) *Gauge {
	return &Gauge{
		desc: desc{name, help},
		s:    series[atomic.Uint64]{newV: func() *atomic.Uint64 { return new(atomic.Uint64) }},
	}
}

func (g *Gauge) Type() MetricType { return TypeGauge }

// Set sets the gauge to value
func (g *Gauge) Set(labels Labels, value float64) {
	g.s.get(labels).Store(math.Float64bits(value))
}

// Add adds delta to the gauge
func (g *Gauge) Add(labels Labels, delta float64) {
	v := g.s.get(labels)
	for {
		old := v.Load()
		if v.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}

// Get returns the current gauge value for labels
func (g *Gauge) Get(labels Labels) float64 {
	if v, ok := g.s.lookup(labels); ok {
		return math.Float64frombits(v.Load())
	}
	return 0
}

func (g *Gauge) Write(sb *strings.Builder) {
	g.header(sb, TypeGauge)
	g.s.each(func(labels Labels, v *atomic.Uint64) {
		fmt.Fprintf(sb, "%s%s %s\n", g.name, labels, formatFloat(math.Float64frombits(v.Load())))
	})
}

// Histogram tracks the distribution of observations
type Histogram struct {
	desc
	buckets []float64
	s       series[histogramValue]
}

type histogramValue struct {
	mu     sync.Mutex
	count  uint64
	sum    float64
	counts []uint64 // per bucket, not cumulative
}

// NewHistogram creates a histogram with the given upper bounds
func NewHistogram(name, help string, buckets []float64) *Histogram {
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	h := &Histogram{desc: desc{name, help}, buckets: sorted}
	h.s.newV = func() *histogramValue {
		return &histogramValue{counts: make([]uint64, len(sorted))}
	}
	return h
}

// DefaultBuckets returns default histogram buckets for latency metrics
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

// ExponentialBuckets creates count buckets starting at start with factor multiplier
func ExponentialBuckets(start, factor float64, count int) []float64 {
	buckets := make([]float64, count)
	for i := range buckets {
		buckets[i] = start
		start *= factor
	}
	return buckets
}

func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records a value
func (h *Histogram) Observe(labels Labels, value float64) {
	hv := h.s.get(labels)
	i := sort.SearchFloat64s(h.buckets, value)
	hv.mu.Lock()
	hv.count++
	hv.sum += value
	if i < len(hv.counts) {
		hv.counts[i]++
	}
	hv.mu.Unlock()
}

// Timer returns a function that records the elapsed time when called
func (h *Histogram) Timer(labels Labels) func() {
	start := time.Now()
	return func() { h.Observe(labels, time.Since(start).Seconds()) }
}

// HistogramSnapshot is a point-in-time copy with cumulative bucket counts
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// Snapshot returns the histogram state for labels
func (h *Histogram) Snapshot(labels Labels) HistogramSnapshot {
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.buckets))}
	hv, ok := h.s.lookup(labels)
	if !ok {
		return snap
	}
	hv.mu.Lock()
	defer hv.mu.Unlock()
	snap.Count, snap.Sum = hv.count, hv.sum
	var cum uint64
	for i, bound := range h.buckets {
		cum += hv.counts[i]
		snap.Buckets[bound] = cum
	}
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	h.header(sb, TypeHistogram)
	h.s.each(func(labels Labels, _ *histogramValue) {
		snap := h.Snapshot(labels)
		for _, bound := range h.buckets {
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, labels.with("le", formatFloat(bound)), snap.Buckets[bound])
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, labels.with("le", "+Inf"), snap.Count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, labels, formatFloat(snap.Sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, labels, snap.Count)
	})
}

// Registry holds registered metrics
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a metric; names must be unique
func (r *Registry) Register(metric Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := metric.Name()
	if _, exists := r.metrics[name]; exists {
		return fmt.Errorf("metric %q already registered", name)
	}
	r.metrics[name] = metric
	r.order = append(r.order, name)
	return nil
}

// MustRegister adds metrics and panics on a duplicate name
func (r *Registry) MustRegister(metrics ...Metric) {
	for _, m := range metrics {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

// Get returns a metric by name
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather renders all metrics in Prometheus text format
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
