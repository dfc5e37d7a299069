package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dealscout/dealscout/engine/listing"
)

const browseFixture = `{
	"itemSummaries": [
		{
			"title": "Canon AE-1 35mm Film Camera",
			"price": {"value": "45.00", "currency": "GBP"},
			"itemWebUrl": "https://www.ebay.co.uk/itm/1",
			"image": {"imageUrl": "https://i.ebayimg.com/1.jpg"},
			"shortDescription": "Classic vintage camera, tested and working"
		},
		{
			"title": "Untitled lot",
			"price": {"value": "", "currency": "GBP"},
			"itemWebUrl": "https://www.ebay.co.uk/itm/2"
		},
		{
			"title": "Pentax K1000",
			"price": {"value": "60.00", "currency": "USD"},
			"itemWebUrl": "https://www.ebay.co.uk/itm/3"
		}
	]
}`

func newTestEBay(url string) *EBay {
	return NewEBay(EBayConfig{BaseURL: url, Token: "tok", MarketID: "EBAY_GB"}, nil)
}

func TestEBayFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/item_summary/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		if r.URL.Query().Get("q") != "vintage camera" {
			t.Errorf("q = %q", r.URL.Query().Get("q"))
		}
		fmt.Fprint(w, browseFixture)
	}))
	defer srv.Close()

	got, err := newTestEBay(srv.URL).Fetch(context.Background(), "vintage camera")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The priceless lot is dropped at fetch time.
	if len(got) != 2 {
		t.Fatalf("got %d listings, want 2", len(got))
	}
	if got[0].Price != "£45.00" {
		t.Errorf("GBP price = %q", got[0].Price)
	}
	if got[1].Price != "$60.00" {
		t.Errorf("USD price = %q", got[1].Price)
	}
	if got[0].Source != listing.SourceEBay {
		t.Errorf("source = %q", got[0].Source)
	}
	if got[0].Image == "" || got[0].Description == "" {
		t.Error("optional fields lost")
	}
}

func TestEBayMissingToken(t *testing.T) {
	s := NewEBay(EBayConfig{}, nil)
	if _, err := s.Fetch(context.Background(), "x"); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestEBayAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := newTestEBay(srv.URL)
	s.retry.InitialWait = 0
	if _, err := s.Fetch(context.Background(), "x"); err == nil {
		t.Fatal("expected error on API failure")
	}
}

func TestEBayDropsPricelessItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"itemSummaries": [
			{"title": "No price at all", "price": {"value": "", "currency": "GBP"}, "itemWebUrl": "https://www.ebay.co.uk/itm/9"},
			{"title": "No price object either", "itemWebUrl": "https://www.ebay.co.uk/itm/10"}
		]}`)
	}))
	defer srv.Close()

	got, err := newTestEBay(srv.URL).Fetch(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// An empty value must not survive as a bare currency symbol.
	if len(got) != 0 {
		t.Fatalf("got %d listings (%+v), want 0", len(got), got)
	}
}

func TestEBayZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	got, err := newTestEBay(srv.URL).Fetch(context.Background(), "x")
	if err != nil {
		t.Fatalf("zero results must not be an error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d listings, want 0", len(got))
	}
}

func TestEBayIsPrimary(t *testing.T) {
	if !newTestEBay("x").Primary() {
		t.Fatal("ebay is the designated primary marketplace")
	}
}
