package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dealscout/dealscout/engine/aggregate"
	"github.com/dealscout/dealscout/engine/enhance"
	"github.com/dealscout/dealscout/engine/listing"
	"github.com/dealscout/dealscout/engine/quota"
	"github.com/dealscout/dealscout/engine/sources"
	"github.com/dealscout/dealscout/pkg/metrics"
)

type stubExpander struct{}

func (stubExpander) Expand(_ context.Context, term string) enhance.Expansion {
	return enhance.Expansion{Terms: []string{term}}
}

type stubSource struct {
	name    listing.Source
	primary bool
	items   []listing.Listing
}

func (s *stubSource) Name() string  { return string(s.name) }
func (s *stubSource) Primary() bool { return s.primary }
func (s *stubSource) Fetch(context.Context, string) ([]listing.Listing, error) {
	return s.items, nil
}

func testHandler(t *testing.T, limit int, adminToken string) http.HandlerFunc {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := &stubSource{name: listing.SourceEBay, primary: true, items: []listing.Listing{{
		Title:  "Bike Lock heavy duty D-lock",
		Price:  "£25.00",
		Link:   "https://example.com/1",
		Image:  "https://example.com/1.jpg",
		Source: listing.SourceEBay,
	}}}
	agg := aggregate.New(stubExpander{}, []sources.Source{src}, aggregate.Options{
		PhraseDelay: 0,
	}, nil, logger)
	return handleSearch(agg, quota.New(limit), nil, metrics.New(), adminToken, logger)
}

func doSearch(h http.HandlerFunc, body, cookie, adminToken string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:54321"
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: cookie})
	}
	if adminToken != "" {
		req.Header.Set("X-Admin-Token", adminToken)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSearchEndpoint(t *testing.T) {
	h := testHandler(t, 1, "")

	rec := doSearch(h, `{"term":"bike lock"}`, "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp SearchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Listings) != 1 {
		t.Fatalf("count = %d, listings = %d", resp.Count, len(resp.Listings))
	}
	if resp.Listings[0].Score < 0.30 {
		t.Fatalf("score = %v, should clear the cutoff", resp.Listings[0].Score)
	}
	if got, want := resp.Remaining, float64(0); got != want {
		t.Fatalf("remaining = %v, want %v", got, want)
	}
	if resp.ResetAt.IsZero() {
		t.Fatal("reset_at not set")
	}
}

func TestSearchEmptyResults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := &stubSource{name: listing.SourceEBay, primary: true}
	agg := aggregate.New(stubExpander{}, []sources.Source{src}, aggregate.Options{PhraseDelay: 0}, nil, logger)
	h := handleSearch(agg, quota.New(1), nil, metrics.New(), "", logger)

	rec := doSearch(h, `{"term":"bike lock"}`, "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, empty results are a valid outcome", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"listings":[]`) {
		t.Fatalf("listings must encode as [], body = %s", body)
	}
	var resp SearchResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 0 {
		t.Fatalf("count = %d, want 0", resp.Count)
	}
}

func TestSearchQuotaExhausted(t *testing.T) {
	h := testHandler(t, 1, "")

	if rec := doSearch(h, `{"term":"bike lock"}`, "alice", ""); rec.Code != http.StatusOK {
		t.Fatalf("first call status = %d", rec.Code)
	}
	rec := doSearch(h, `{"term":"bike lock"}`, "alice", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second call status = %d, want 429", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" || body["remaining"] != float64(0) {
		t.Fatalf("body = %v", body)
	}
	if body["reset_at"] == nil {
		t.Fatal("reset_at missing from rejection")
	}
}

func TestSearchQuotaPerIdentity(t *testing.T) {
	h := testHandler(t, 1, "")

	doSearch(h, `{"term":"bike lock"}`, "alice", "")
	if rec := doSearch(h, `{"term":"bike lock"}`, "bob", ""); rec.Code != http.StatusOK {
		t.Fatalf("bob should have an untouched quota, got %d", rec.Code)
	}
}

func TestSearchPrivilegedBypass(t *testing.T) {
	h := testHandler(t, 1, "hunter2")

	for i := 0; i < 3; i++ {
		rec := doSearch(h, `{"term":"bike lock"}`, "alice", "hunter2")
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d", i, rec.Code)
		}
		var resp SearchResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Remaining != "unlimited" {
			t.Fatalf("remaining = %v, want unlimited", resp.Remaining)
		}
	}
	// Privileged calls never consumed the quota.
	if rec := doSearch(h, `{"term":"bike lock"}`, "alice", ""); rec.Code != http.StatusOK {
		t.Fatalf("unprivileged call after bypasses: status = %d", rec.Code)
	}
}

func TestSearchWrongAdminTokenCounts(t *testing.T) {
	h := testHandler(t, 1, "hunter2")

	if rec := doSearch(h, `{"term":"bike lock"}`, "alice", "wrong"); rec.Code != http.StatusOK {
		t.Fatalf("first call status = %d", rec.Code)
	}
	if rec := doSearch(h, `{"term":"bike lock"}`, "alice", "wrong"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("wrong token must not bypass quota, got %d", rec.Code)
	}
}

func TestSearchBadRequest(t *testing.T) {
	h := testHandler(t, 10, "")

	if rec := doSearch(h, `{not json`, "alice", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status = %d", rec.Code)
	}
	if rec := doSearch(h, `{"term":""}`, "alice", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty term: status = %d", rec.Code)
	}
	// Rejected requests never consume quota.
	if rec := doSearch(h, `{"term":"bike lock"}`, "alice", ""); rec.Code != http.StatusOK {
		t.Fatalf("valid call after bad requests: status = %d", rec.Code)
	}
}

func TestSearchUnknownCurrency(t *testing.T) {
	h := testHandler(t, 10, "")

	if rec := doSearch(h, `{"term":"bike lock","currency":"XYZ"}`, "alice", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCallerIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/search", nil)
	req.RemoteAddr = "192.168.1.5:1234"
	if got := callerIdentity(req); got != "192.168.1.5" {
		t.Fatalf("got %q", got)
	}

	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "sess-1"})
	if got := callerIdentity(req); got != "sess-1" {
		t.Fatalf("cookie should win, got %q", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}
