// Package metrics is a small registry that renders counters, gauges and
// histograms in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LatencyBuckets suit model calls, which run from tens of milliseconds to
// about a minute.
var LatencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge holds a float64 as its bit pattern.
type Gauge struct{ bits atomic.Uint64 }

func (g *Gauge) Set(v float64)  { g.bits.Store(math.Float64bits(v)) }
func (g *Gauge) Value() float64 { return math.Float64frombits(g.bits.Load()) }

type Histogram struct {
	mu      sync.Mutex
	bounds  []float64
	buckets []uint64
	sum     float64
	count   uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	return &Histogram{bounds: b, buckets: make([]uint64, len(b))}
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds) {
		h.buckets[i]++
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family is every series sharing one metric name.
type family struct {
	name   string
	help   string
	kind   kind
	bounds []float64
	series map[string]any // rendered label set -> *Counter | *Gauge | *Histogram
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	order    []string
}

func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

func (r *Registry) get(name, help string, k kind, bounds []float64, labels []string) any {
	key := labelSet(labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, bounds: bounds, series: make(map[string]any)}
		r.families[name] = f
		r.order = append(r.order, name)
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, k))
	}
	if m, ok := f.series[key]; ok {
		return m
	}
	var m any
	switch k {
	case kindCounter:
		m = &Counter{}
	case kindGauge:
		m = &Gauge{}
	case kindHistogram:
		m = newHistogram(f.bounds)
	}
	f.series[key] = m
	return m
}

// Counter returns the counter for name and the given label pairs
// ("k1", "v1", "k2", "v2", ...), creating it on first use.
func (r *Registry) Counter(name, help string, labels ...string) *Counter {
	return r.get(name, help, kindCounter, nil, labels).(*Counter)
}

func (r *Registry) Gauge(name, help string, labels ...string) *Gauge {
	return r.get(name, help, kindGauge, nil, labels).(*Gauge)
}

// Histogram uses bounds only when the family is first created; nil means
// LatencyBuckets.
func (r *Registry) Histogram(name, help string, bounds []float64, labels ...string) *Histogram {
	if bounds == nil {
		bounds = LatencyBuckets
	}
	return r.get(name, help, kindHistogram, bounds, labels).(*Histogram)
}

// labelSet renders pairs as k1="v1",k2="v2". An odd trailing key is dropped.
func labelSet(pairs []string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", pairs[i], pairs[i+1])
	}
	return b.String()
}

func braces(set string) string {
	if set == "" {
		return ""
	}
	return "{" + set + "}"
}

func join(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "," + b
}

// Render writes every family in registration order, series sorted by labels.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, name := range r.order {
		f := r.families[name]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, f.kind)

		keys := make([]string, 0, len(f.series))
		for k := range f.series {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			switch m := f.series[key].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", name, braces(key), m.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s%s %g\n", name, braces(key), m.Value())
			case *Histogram:
				m.mu.Lock()
				var cum uint64
				for i, bound := range m.bounds {
					cum += m.buckets[i]
					fmt.Fprintf(&b, "%s_bucket{%s} %d\n", name, join(key, fmt.Sprintf("le=%q", fmt.Sprint(bound))), cum)
				}
				fmt.Fprintf(&b, "%s_bucket{%s} %d\n", name, join(key, `le="+Inf"`), m.count)
				fmt.Fprintf(&b, "%s_sum%s %g\n", name, braces(key), m.sum)
				fmt.Fprintf(&b, "%s_count%s %d\n", name, braces(key), m.count)
				m.mu.Unlock()
			}
		}
	}
	return b.String()
}

// Handler serves Render output.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}
