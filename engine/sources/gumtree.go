package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dealscout/dealscout/engine/fetch"
	"github.com/dealscout/dealscout/engine/listing"
)

// Gumtree scrapes the Gumtree search results page through the rendering
// proxy. Listings there are classifieds, so descriptions are usually present.
type Gumtree struct {
	baseURL  string
	location string
	pages    PageFetcher
	logger   *slog.Logger
}

// NewGumtree creates the Gumtree source. location narrows results when set.
func NewGumtree(pages PageFetcher, location string, logger *slog.Logger) *Gumtree {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gumtree{
		baseURL:  "https://www.gumtree.com",
		location: location,
		pages:    pages,
		logger:   logger,
	}
}

func (s *Gumtree) Name() string  { return string(listing.SourceGumtree) }
func (s *Gumtree) Primary() bool { return false }

// Fetch retrieves and parses one results page for term.
func (s *Gumtree) Fetch(ctx context.Context, term string) ([]listing.Listing, error) {
	params := url.Values{"search_category": {"all"}, "q": {term}}
	if s.location != "" {
		params.Set("search_location", s.location)
	}

	html, err := s.pages.FetchPage(ctx, s.baseURL+"/search?"+params.Encode(), fetch.Options{
		RenderJS:     true,
		PremiumProxy: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gumtree search %q: %w", term, err)
	}

	cands, err := s.parse(html)
	if err != nil {
		return nil, fmt.Errorf("gumtree parse %q: %w", term, err)
	}
	return dropInvalid(cands, s.Name(), s.logger), nil
}

func (s *Gumtree) parse(html string) ([]listing.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var cands []listing.Listing
	doc.Find(`article[data-q="search-result"]`).Each(func(_ int, card *goquery.Selection) {
		href, _ := card.Find("a").First().Attr("href")
		img, _ := card.Find("img").First().Attr("src")
		cands = append(cands, listing.Listing{
			Title:       strings.TrimSpace(card.Find(`[data-q="tile-title"]`).Text()),
			Price:       strings.TrimSpace(card.Find(`[data-q="tile-price"]`).Text()),
			Link:        s.absolute(href),
			Image:       img,
			Source:      listing.SourceGumtree,
			Description: strings.TrimSpace(card.Find(`[data-q="tile-description"]`).Text()),
		})
	})
	return cands, nil
}

func (s *Gumtree) absolute(href string) string {
	if href == "" || strings.HasPrefix(href, "http") {
		return href
	}
	return s.baseURL + href
}
