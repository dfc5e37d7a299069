package aggregate

import (
	"regexp"
	"strings"

	"github.com/dealscout/dealscout/engine/listing"
	"github.com/dealscout/dealscout/pkg/fn"
	"github.com/shopspring/decimal"
)

// symbols maps supported target currencies to their display symbols.
var symbols = map[string]string{
	"GBP": "£",
	"USD": "$",
	"EUR": "€",
}

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// normalizeCurrency keeps only listings priced in the target currency and
// prefixes the symbol where it is missing but a bare number is present.
//
// GBP is asymmetric on purpose: symbol-less prices are treated as implicitly
// GBP (the default market), while other targets require the symbol already.
func normalizeCurrency(items []listing.Listing, currency string) []listing.Listing {
	symbol := symbols[currency]

	kept := fn.Filter(items, func(l listing.Listing) bool {
		if strings.Contains(l.Price, symbol) {
			return true
		}
		return currency == "GBP" && !hasAnySymbol(l.Price)
	})

	return fn.Map(kept, func(l listing.Listing) listing.Listing {
		if strings.Contains(l.Price, symbol) {
			return l
		}
		loc := numberPattern.FindStringIndex(l.Price)
		if loc == nil {
			return l
		}
		if _, err := decimal.NewFromString(l.Price[loc[0]:loc[1]]); err != nil {
			return l
		}
		l.Price = l.Price[:loc[0]] + symbol + l.Price[loc[0]:]
		return l
	})
}

func hasAnySymbol(price string) bool {
	for _, sym := range symbols {
		if strings.Contains(price, sym) {
			return true
		}
	}
	return false
}

// priceBand drops listings whose numeric price falls outside [min, max].
// A zero bound is unset. Prices that do not parse are kept: the band is
// best-effort, never a validator.
func priceBand(items []listing.Listing, min, max decimal.Decimal) []listing.Listing {
	if min.IsZero() && max.IsZero() {
		return items
	}
	return fn.Filter(items, func(l listing.Listing) bool {
		m := numberPattern.FindString(l.Price)
		if m == "" {
			return true
		}
		d, err := decimal.NewFromString(m)
		if err != nil {
			return true
		}
		if !min.IsZero() && d.LessThan(min) {
			return false
		}
		if !max.IsZero() && d.GreaterThan(max) {
			return false
		}
		return true
	})
}
