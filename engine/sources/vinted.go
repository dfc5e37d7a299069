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

// Vinted scrapes the Vinted catalog grid through the rendering proxy. The
// grid only renders after script execution, so RenderJS is mandatory here.
type Vinted struct {
	baseURL string
	pages   PageFetcher
	logger  *slog.Logger
}

// NewVinted creates the Vinted source.
func NewVinted(pages PageFetcher, logger *slog.Logger) *Vinted {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vinted{
		baseURL: "https://www.vinted.co.uk",
		pages:   pages,
		logger:  logger,
	}
}

func (s *Vinted) Name() string  { return string(listing.SourceVinted) }
func (s *Vinted) Primary() bool { return false }

// Fetch retrieves and parses one catalog page for term.
func (s *Vinted) Fetch(ctx context.Context, term string) ([]listing.Listing, error) {
	params := url.Values{"search_text": {term}}

	html, err := s.pages.FetchPage(ctx, s.baseURL+"/catalog?"+params.Encode(), fetch.Options{
		RenderJS:     true,
		PremiumProxy: true,
	})
	if err != nil {
		return nil, fmt.Errorf("vinted search %q: %w", term, err)
	}

	cands, err := s.parse(html)
	if err != nil {
		return nil, fmt.Errorf("vinted parse %q: %w", term, err)
	}
	return dropInvalid(cands, s.Name(), s.logger), nil
}

func (s *Vinted) parse(html string) ([]listing.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var cands []listing.Listing
	doc.Find("div.feed-grid__item").Each(func(_ int, card *goquery.Selection) {
		anchor := card.Find(`a[data-testid$="overlay-link"]`).First()
		href, _ := anchor.Attr("href")
		title, _ := anchor.Attr("title")
		img, _ := card.Find("img").First().Attr("src")

		// The overlay title packs "Title, price: £x, ..." together; the
		// first comma-separated part is the item title.
		if idx := strings.Index(title, ","); idx != -1 {
			title = title[:idx]
		}

		cands = append(cands, listing.Listing{
			Title:  strings.TrimSpace(title),
			Price:  strings.TrimSpace(card.Find(`[data-testid$="price-text"]`).First().Text()),
			Link:   s.absolute(href),
			Image:  img,
			Source: listing.SourceVinted,
		})
	})
	return cands, nil
}

func (s *Vinted) absolute(href string) string {
	if href == "" || strings.HasPrefix(href, "http") {
		return href
	}
	return s.baseURL + href
}
