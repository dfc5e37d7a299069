// Package sources implements one fetcher per marketplace. Each fetcher
// turns a search phrase into normalized listings or fails; callers treat a
// failure as zero results from that source, never as fatal.
package sources

import (
	"context"
	"log/slog"

	"github.com/dealscout/dealscout/engine/fetch"
	"github.com/dealscout/dealscout/engine/listing"
	"github.com/dealscout/dealscout/pkg/fn"
	"github.com/dealscout/dealscout/pkg/resilience"
)

// Source is one external marketplace or listing provider.
type Source interface {
	Name() string
	// Primary marks the designated primary marketplace (scoring bonus).
	Primary() bool
	// Fetch returns normalized listings for term. Zero results is a valid
	// non-error outcome (nil slice, nil error).
	Fetch(ctx context.Context, term string) ([]listing.Listing, error)
}

// PageFetcher is the slice of fetch.Client the scraped sources depend on.
type PageFetcher interface {
	FetchPage(ctx context.Context, targetURL string, opts fetch.Options) (string, error)
}

// dropInvalid filters out candidates missing required fields. Dropping is
// not an error; it is logged for observability only.
func dropInvalid(cands []listing.Listing, name string, logger *slog.Logger) []listing.Listing {
	return fn.Filter(cands, func(l listing.Listing) bool {
		if err := l.Validate(); err != nil {
			logger.Debug("dropping invalid listing", "source", name, "err", err)
			return false
		}
		return true
	})
}

// guarded wraps a Source with a circuit breaker so a repeatedly failing
// marketplace stops consuming retry budget until it recovers.
type guarded struct {
	Source
	breaker *resilience.Breaker
}

// Guarded returns s wrapped with b. A nil breaker returns s unchanged.
func Guarded(s Source, b *resilience.Breaker) Source {
	if b == nil {
		return s
	}
	return &guarded{Source: s, breaker: b}
}

func (g *guarded) Fetch(ctx context.Context, term string) ([]listing.Listing, error) {
	return resilience.CallResult(g.breaker, ctx, func(ctx context.Context) fn.Result[[]listing.Listing] {
		return fn.FromPair(g.Source.Fetch(ctx, term))
	}).Unwrap()
}
