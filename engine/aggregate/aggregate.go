// Package aggregate orchestrates the search pipeline: query expansion, a
// paced phrase loop fanning out to every source concurrently, then dedupe,
// scoring, ranking, and currency normalization. Any number of sources may
// fail without failing the request; total failure is an empty result, not
// an error.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dealscout/dealscout/engine/enhance"
	"github.com/dealscout/dealscout/engine/listing"
	"github.com/dealscout/dealscout/engine/sources"
	"github.com/dealscout/dealscout/pkg/fn"
	"github.com/dealscout/dealscout/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

var (
	ErrEmptyTerm       = errors.New("empty search term")
	ErrUnknownCurrency = errors.New("unknown target currency")
)

// Expander abstracts the query enhancer.
type Expander interface {
	Expand(ctx context.Context, term string) enhance.Expansion
}

// Params are the inputs of one aggregation call. Location narrows the
// classifieds sources when they are configured for it. A zero price bound
// is unset.
type Params struct {
	Term     string
	Location string
	Currency string
	MinPrice decimal.Decimal
	MaxPrice decimal.Decimal
}

// Options configures the Aggregator.
type Options struct {
	// MaxPhrases caps the phrase list, original term included.
	MaxPhrases int
	// MaxResults caps the final listing count.
	MaxResults int
	// PhraseDelay paces the serial phrase loop to bound outbound rate.
	PhraseDelay time.Duration
	// Weights are the scoring constants.
	Weights Weights
	// Workers bounds per-phrase source fan-out; 0 means one per source.
	Workers int
}

// DefaultOptions returns the stock configuration.
func DefaultOptions() Options {
	return Options{
		MaxPhrases:  5,
		MaxResults:  30,
		PhraseDelay: 1500 * time.Millisecond,
		Weights:     DefaultWeights(),
	}
}

// Aggregator runs searches across all configured sources.
type Aggregator struct {
	enhancer Expander
	sources  []sources.Source
	primary  map[listing.Source]bool
	opts     Options
	logger   *slog.Logger

	searches  *metrics.Counter
	inflight  *metrics.Gauge
	srcErrors map[string]*metrics.Counter
	duration  *metrics.Histogram
}

// New creates an Aggregator. reg may be nil to disable metrics.
func New(enhancer Expander, srcs []sources.Source, opts Options, reg *metrics.Registry, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxPhrases <= 0 {
		opts.MaxPhrases = DefaultOptions().MaxPhrases
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultOptions().MaxResults
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}

	primary := make(map[listing.Source]bool)
	for _, s := range srcs {
		if s.Primary() {
			primary[listing.Source(s.Name())] = true
		}
	}

	a := &Aggregator{
		enhancer: enhancer,
		sources:  srcs,
		primary:  primary,
		opts:     opts,
		logger:   logger,
	}
	if reg != nil {
		a.searches = reg.Counter("dealscout_searches_total", "Aggregation searches started.")
		a.inflight = reg.Gauge("dealscout_searches_inflight", "Aggregation searches currently running.")
		a.duration = reg.Histogram("dealscout_search_duration_seconds", "End-to-end search duration.", nil)
		a.srcErrors = make(map[string]*metrics.Counter)
		for _, s := range srcs {
			a.srcErrors[s.Name()] = reg.Counter(
				metrics.WithLabels("dealscout_source_errors_total", "source", s.Name()),
				"Source fetches that exhausted retries.")
		}
	}
	return a
}

// Search runs the full pipeline and returns at most MaxResults listings,
// ordered by descending score. An empty result is a valid outcome.
func (a *Aggregator) Search(ctx context.Context, p Params) ([]listing.Listing, error) {
	ctx, span := otel.Tracer("engine/aggregate").Start(ctx, "aggregate.search")
	defer span.End()

	term := strings.TrimSpace(p.Term)
	if term == "" {
		return nil, ErrEmptyTerm
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = "GBP"
	}
	if _, ok := symbols[currency]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCurrency, p.Currency)
	}

	if a.searches != nil {
		a.searches.Inc()
	}
	if a.inflight != nil {
		a.inflight.Inc()
	}
	start := time.Now()
	defer func() {
		if a.inflight != nil {
			a.inflight.Dec()
		}
		if a.duration != nil {
			a.duration.Since(start)
		}
	}()

	exp := a.enhancer.Expand(ctx, term)
	phrases := fn.Truncate(fn.Unique(append([]string{term}, exp.Terms...)), a.opts.MaxPhrases)
	a.logger.Info("search start", "term", term, "currency", currency, "location", p.Location, "phrases", len(phrases))

	working, err := a.collect(ctx, phrases)
	if err != nil {
		return nil, err
	}

	pipe := fn.Pipeline(
		fn.TracedStage("aggregate.dedupe", fn.MapStage(a.dedupe)),
		fn.TracedStage("aggregate.score", fn.MapStage(func(ls []listing.Listing) []listing.Listing {
			return a.scoreAll(ls, term, exp.Terms)
		})),
		fn.TracedStage("aggregate.rank", fn.MapStage(a.rank)),
		fn.TracedStage("aggregate.currency", fn.MapStage(func(ls []listing.Listing) []listing.Listing {
			return normalizeCurrency(ls, currency)
		})),
		fn.TracedStage("aggregate.price_band", fn.MapStage(func(ls []listing.Listing) []listing.Listing {
			return priceBand(ls, p.MinPrice, p.MaxPrice)
		})),
	)

	out, err := pipe(ctx, working).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("aggregate %q: %w", term, err)
	}
	a.logger.Info("search done", "term", term, "collected", len(working), "returned", len(out), "duration", time.Since(start))
	return out, nil
}

// collect runs the paced phrase loop. Phrases are serialized with a fixed
// delay to respect external rate limits; sources within one phrase run
// concurrently with a barrier join.
func (a *Aggregator) collect(ctx context.Context, phrases []string) ([]listing.Listing, error) {
	var working []listing.Listing
	for i, phrase := range phrases {
		if i > 0 && a.opts.PhraseDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.opts.PhraseDelay):
			}
		}

		results := fn.ParMapResult(a.sources, a.opts.Workers, func(src sources.Source) fn.Result[[]listing.Listing] {
			return fn.FromPair(src.Fetch(ctx, phrase))
		})
		for j, r := range results {
			found, err := r.Unwrap()
			if err != nil {
				// One source failing for one phrase costs nothing but its
				// own results.
				a.logger.Warn("source fetch failed", "source", a.sources[j].Name(), "phrase", phrase, "err", err)
				if c, ok := a.srcErrors[a.sources[j].Name()]; ok {
					c.Inc()
				}
				continue
			}
			working = append(working, found...)
		}
	}
	return working, nil
}

// dedupe drops invalid stragglers and collapses duplicates by normalized
// title+price key, first occurrence winning.
func (a *Aggregator) dedupe(items []listing.Listing) []listing.Listing {
	valid := fn.Filter(items, func(l listing.Listing) bool {
		return l.Validate() == nil
	})
	return fn.UniqueBy(valid, listing.Listing.Key)
}

func (a *Aggregator) scoreAll(items []listing.Listing, term string, phrases []string) []listing.Listing {
	return fn.Map(items, func(l listing.Listing) listing.Listing {
		l.Score = a.opts.Weights.score(l, term, phrases, a.primary)
		return l
	})
}

// rank sorts by descending score, applies the cutoff, and truncates.
func (a *Aggregator) rank(items []listing.Listing) []listing.Listing {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
	kept := fn.Filter(items, func(l listing.Listing) bool {
		return l.Score >= a.opts.Weights.Cutoff
	})
	return fn.Truncate(kept, a.opts.MaxResults)
}
