package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestCounterLabelsAreDistinctSeries(t *testing.T) {
	r := New()
	ok := r.Counter("batch_items_total", "Items processed", "op", "evaluate", "status", "succeeded")
	failed := r.Counter("batch_items_total", "", "op", "evaluate", "status", "failed")
	ok.Inc()
	ok.Add(2)
	failed.Inc()

	if ok.Value() != 3 || failed.Value() != 1 {
		t.Fatalf("ok=%d failed=%d", ok.Value(), failed.Value())
	}
	if again := r.Counter("batch_items_total", "", "op", "evaluate", "status", "succeeded"); again != ok {
		t.Fatal("same labels should return the same counter")
	}
}

func TestGaugeFloat(t *testing.T) {
	r := New()
	g := r.Gauge("evaluation_rate_percent", "")
	g.Set(62.5)
	if g.Value() != 62.5 {
		t.Fatalf("gauge = %v", g.Value())
	}
}

func TestHistogramBuckets(t *testing.T) {
	r := New()
	h := r.Histogram("llm_call_seconds", "Model call latency", []float64{1, 0.1, 0.5})
	for _, v := range []float64{0.05, 0.1, 0.3, 0.8, 2.0} {
		h.Observe(v)
	}
	if h.Count() != 5 {
		t.Fatalf("count = %d", h.Count())
	}

	out := r.Render()
	for _, want := range []string{
		`llm_call_seconds_bucket{le="0.1"} 2`,
		`llm_call_seconds_bucket{le="0.5"} 3`,
		`llm_call_seconds_bucket{le="1"} 4`,
		`llm_call_seconds_bucket{le="+Inf"} 5`,
		`llm_call_seconds_count 5`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q\n%s", want, out)
		}
	}
}

func TestRenderOrderAndLabels(t *testing.T) {
	r := New()
	r.Counter("b_total", "second", "op", "translate").Inc()
	r.Counter("a_total", "first").Inc()
	r.Histogram("lat_seconds", "", []float64{1}, "op", "evaluate").Observe(0.5)

	out := r.Render()
	if strings.Index(out, "b_total") > strings.Index(out, "a_total") {
		t.Error("families should render in registration order")
	}
	for _, want := range []string{
		"# HELP b_total second",
		"# TYPE b_total counter",
		`b_total{op="translate"} 1`,
		"a_total 1",
		`lat_seconds_bucket{op="evaluate",le="1"} 1`,
		`lat_seconds_sum{op="evaluate"} 0.5`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q\n%s", want, out)
		}
	}
}

func TestKindMismatchPanics(t *testing.T) {
	r := New()
	r.Counter("x", "")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	r.Gauge("x", "")
}

func TestConcurrentUse(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				r.Counter("hits_total", "").Inc()
			}
		}()
	}
	wg.Wait()
	if got := r.Counter("hits_total", "").Value(); got != 1000 {
		t.Fatalf("hits = %d", got)
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("requests_total", "").Inc()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("content-type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "requests_total 1") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
