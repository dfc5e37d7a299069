// Package listing defines the marketplace listing type and acts as the
// validation gate at pipeline entry points: a listing without title, price,
// and link never makes it past fetch time.
package listing

import (
	"regexp"
	"strings"
)

// Source identifies a known marketplace source.
type Source string

const (
	SourceEBay    Source = "ebay"
	SourceGumtree Source = "gumtree"
	SourceVinted  Source = "vinted"
)

// ValidSources is the set of recognised source identifiers.
var ValidSources = map[Source]bool{
	SourceEBay: true, SourceGumtree: true, SourceVinted: true,
}

// Listing is one marketplace item candidate. Price is kept as the raw
// currency-tagged text (e.g. "£12.50") until currency normalization.
type Listing struct {
	Title       string  `json:"title"`
	Price       string  `json:"price"`
	Link        string  `json:"link"`
	Image       string  `json:"image,omitempty"`
	Source      Source  `json:"source"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score,omitempty"` // assigned by scoring, zero before
}

var whitespace = regexp.MustCompile(`\s+`)

// Key returns the cross-source dedupe key: lowercase-normalized,
// whitespace-collapsed title joined with the lowercase-normalized price.
func (l Listing) Key() string {
	title := whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(l.Title)), " ")
	price := strings.ToLower(strings.TrimSpace(l.Price))
	return title + "|" + price
}
