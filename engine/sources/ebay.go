package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dealscout/dealscout/engine/listing"
	"github.com/dealscout/dealscout/pkg/fn"
)

// currencySymbols maps ISO codes from the eBay API to display symbols.
var currencySymbols = map[string]string{
	"GBP": "£",
	"USD": "$",
	"EUR": "€",
}

// EBay fetches listings from the official eBay Browse API. It is the
// designated primary marketplace.
type EBay struct {
	baseURL    string
	token      string
	marketID   string
	maxResults int
	client     *http.Client
	retry      fn.RetryOpts
	logger     *slog.Logger
}

// EBayConfig configures the eBay source.
type EBayConfig struct {
	BaseURL    string // defaults to the production Browse API
	Token      string // OAuth application token
	MarketID   string // e.g. EBAY_GB
	MaxResults int
}

// NewEBay creates the eBay source.
func NewEBay(cfg EBayConfig, logger *slog.Logger) *EBay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.ebay.com/buy/browse/v1"
	}
	if cfg.MarketID == "" {
		cfg.MarketID = "EBAY_GB"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 50
	}
	return &EBay{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		marketID:   cfg.MarketID,
		maxResults: cfg.MaxResults,
		client:     &http.Client{Timeout: 30 * time.Second},
		retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 2 * time.Second,
			MaxWait:     20 * time.Second,
			Jitter:      true,
		},
		logger: logger,
	}
}

func (s *EBay) Name() string  { return string(listing.SourceEBay) }
func (s *EBay) Primary() bool { return true }

// browseResponse is the subset of the Browse API search response we read.
type browseResponse struct {
	ItemSummaries []struct {
		Title string `json:"title"`
		Price struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"price"`
		ItemWebURL string `json:"itemWebUrl"`
		Image      struct {
			ImageURL string `json:"imageUrl"`
		} `json:"image"`
		ShortDescription string `json:"shortDescription"`
	} `json:"itemSummaries"`
}

// Fetch searches the Browse API for term.
func (s *EBay) Fetch(ctx context.Context, term string) ([]listing.Listing, error) {
	if s.token == "" {
		return nil, fmt.Errorf("ebay: missing API token")
	}

	result := fn.Retry(ctx, s.retry, func(ctx context.Context) fn.Result[browseResponse] {
		return s.search(ctx, term)
	})
	br, err := result.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("ebay search %q: %w", term, err)
	}

	var cands []listing.Listing
	for _, item := range br.ItemSummaries {
		if item.Price.Value == "" {
			// A bare currency symbol is not a price.
			s.logger.Debug("dropping priceless item", "source", s.Name(), "title", item.Title)
			continue
		}
		symbol := currencySymbols[item.Price.Currency]
		cands = append(cands, listing.Listing{
			Title:       item.Title,
			Price:       symbol + item.Price.Value,
			Link:        item.ItemWebURL,
			Image:       item.Image.ImageURL,
			Source:      listing.SourceEBay,
			Description: item.ShortDescription,
		})
	}
	return dropInvalid(cands, s.Name(), s.logger), nil
}

func (s *EBay) search(ctx context.Context, term string) fn.Result[browseResponse] {
	params := url.Values{
		"q":     {term},
		"limit": {strconv.Itoa(s.maxResults)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/item_summary/search?"+params.Encode(), nil)
	if err != nil {
		return fn.Err[browseResponse](err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("X-EBAY-C-MARKETPLACE-ID", s.marketID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fn.Err[browseResponse](err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fn.Errf[browseResponse]("status %d", resp.StatusCode)
	}

	var br browseResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return fn.Err[browseResponse](err)
	}
	return fn.Ok(br)
}
