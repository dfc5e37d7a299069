package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dealscout/dealscout/pkg/resilience"
)

func newTestEnhancer(url string, limiter *resilience.Limiter) *Enhancer {
	return New(Options{BaseURL: url, Model: "test", MaxTerms: 4}, limiter, nil)
}

// generateReply builds a generate-endpoint body whose response field holds
// the terms payload as an embedded JSON string.
func generateReply(terms ...string) string {
	inner, _ := json.Marshal(map[string][]string{"search_terms": terms})
	body, _ := json.Marshal(map[string]string{"response": string(inner)})
	return string(body)
}

func TestExpandParsesTerms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, generateReply("retro camera", "film slr", " ", "analog camera"))
	}))
	defer srv.Close()

	exp := newTestEnhancer(srv.URL, nil).Expand(context.Background(), "vintage camera")
	want := []string{"retro camera", "film slr", "analog camera"}
	if len(exp.Terms) != len(want) {
		t.Fatalf("got %v, want %v", exp.Terms, want)
	}
	for i := range want {
		if exp.Terms[i] != want[i] {
			t.Fatalf("got %v, want %v", exp.Terms, want)
		}
	}
}

func TestExpandTolerantOfSurroundingProse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"response": "Sure! Here you go:\n{\"search_terms\": [\"retro camera\"]}\nHope that helps."}`)
	}))
	defer srv.Close()

	exp := newTestEnhancer(srv.URL, nil).Expand(context.Background(), "vintage camera")
	if len(exp.Terms) != 1 || exp.Terms[0] != "retro camera" {
		t.Fatalf("got %v", exp.Terms)
	}
}

func TestExpandCapsTerms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, generateReply("a", "b", "c", "d", "e", "f"))
	}))
	defer srv.Close()

	exp := newTestEnhancer(srv.URL, nil).Expand(context.Background(), "x")
	if len(exp.Terms) != 4 {
		t.Fatalf("got %d terms, want 4", len(exp.Terms))
	}
}

func TestFallbackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	exp := newTestEnhancer(srv.URL, nil).Expand(context.Background(), "vintage camera")
	assertFallback(t, exp, "vintage camera")
}

func TestFallbackOnMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"response": "no json here at all"}`)
	}))
	defer srv.Close()

	exp := newTestEnhancer(srv.URL, nil).Expand(context.Background(), "vintage camera")
	assertFallback(t, exp, "vintage camera")
}

func TestFallbackOnUnreachableService(t *testing.T) {
	e := newTestEnhancer("http://127.0.0.1:1", nil)
	exp := e.Expand(context.Background(), "vintage camera")
	assertFallback(t, exp, "vintage camera")
}

func TestCacheSuppressesRepeatCalls(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, generateReply("retro camera"))
	}))
	defer srv.Close()

	e := newTestEnhancer(srv.URL, nil)
	for i := 0; i < 3; i++ {
		e.Expand(context.Background(), "vintage camera")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("%d outbound calls for one distinct term, want 1", got)
	}

	e.Expand(context.Background(), "other term")
	if got := calls.Load(); got != 2 {
		t.Fatalf("%d outbound calls for two distinct terms, want 2", got)
	}
}

func TestFailuresAreNotCached(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, generateReply("retro camera"))
	}))
	defer srv.Close()

	e := newTestEnhancer(srv.URL, nil)
	assertFallback(t, e.Expand(context.Background(), "vintage camera"), "vintage camera")

	exp := e.Expand(context.Background(), "vintage camera")
	if len(exp.Terms) != 1 || exp.Terms[0] != "retro camera" {
		t.Fatalf("recovery expansion got %v", exp.Terms)
	}
}

func TestLimiterSkipsService(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, generateReply("retro camera"))
	}))
	defer srv.Close()

	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: 0.0001, Burst: 1})
	e := newTestEnhancer(srv.URL, limiter)

	e.Expand(context.Background(), "first")
	exp := e.Expand(context.Background(), "second")
	assertFallback(t, exp, "second")
	if got := calls.Load(); got != 1 {
		t.Fatalf("%d outbound calls, want 1 (limiter should skip the second)", got)
	}
}

func assertFallback(t *testing.T, exp Expansion, term string) {
	t.Helper()
	want := Fallback(term)
	if len(exp.Terms) != len(want.Terms) {
		t.Fatalf("got %v, want fallback %v", exp.Terms, want.Terms)
	}
	for i := range want.Terms {
		if exp.Terms[i] != want.Terms[i] {
			t.Fatalf("got %v, want fallback %v", exp.Terms, want.Terms)
		}
	}
}
