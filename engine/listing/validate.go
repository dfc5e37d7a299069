package listing

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for validation failures.
var (
	ErrMissingTitle  = errors.New("missing title")
	ErrMissingPrice  = errors.New("missing price")
	ErrMissingLink   = errors.New("missing link")
	ErrUnknownSource = errors.New("unknown source")
)

// FieldError wraps a sentinel with the offending field value.
type FieldError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("listing: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *FieldError) Unwrap() error { return e.Wrapped }

// Validate reports whether the listing may enter the pipeline.
func (l Listing) Validate() error {
	if strings.TrimSpace(l.Title) == "" {
		return &FieldError{Field: "title", Value: l.Title, Wrapped: ErrMissingTitle}
	}
	if strings.TrimSpace(l.Price) == "" {
		return &FieldError{Field: "price", Value: l.Price, Wrapped: ErrMissingPrice}
	}
	if strings.TrimSpace(l.Link) == "" {
		return &FieldError{Field: "link", Value: l.Link, Wrapped: ErrMissingLink}
	}
	if !ValidSources[l.Source] {
		return &FieldError{Field: "source", Value: string(l.Source), Wrapped: ErrUnknownSource}
	}
	return nil
}
