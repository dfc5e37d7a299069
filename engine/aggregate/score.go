package aggregate

import (
	"math"
	"strings"

	"github.com/dealscout/dealscout/engine/listing"
)

// Weights are the additive scoring constants. They are empirical, tunable
// defaults, not derived values; DefaultWeights preserves behavioral parity.
type Weights struct {
	Base            float64 `yaml:"base"`
	TokenTitle      float64 `yaml:"token_title"`
	TokenDesc       float64 `yaml:"token_desc"`
	PhraseTitle     float64 `yaml:"phrase_title"`
	PhraseDesc      float64 `yaml:"phrase_desc"`
	FullTermTitle   float64 `yaml:"full_term_title"`
	Image           float64 `yaml:"image"`
	ShortTitle      float64 `yaml:"short_title_penalty"`
	ShortTitleUnder int     `yaml:"short_title_under"`
	PrimarySource   float64 `yaml:"primary_source"`
	Cutoff          float64 `yaml:"cutoff"`
}

// DefaultWeights returns the stock scoring constants.
func DefaultWeights() Weights {
	return Weights{
		Base:            0.05,
		TokenTitle:      0.30,
		TokenDesc:       0.10,
		PhraseTitle:     0.20,
		PhraseDesc:      0.05,
		FullTermTitle:   0.40,
		Image:           0.05,
		ShortTitle:      0.20,
		ShortTitleUnder: 20,
		PrimarySource:   0.10,
		Cutoff:          0.30,
	}
}

// score computes the relevance score of one listing against the original
// term and the enhanced phrase list. Deterministic, clamped to [0,1],
// rounded to two decimal places.
func (w Weights) score(l listing.Listing, term string, phrases []string, primary map[listing.Source]bool) float64 {
	title := strings.ToLower(l.Title)
	desc := strings.ToLower(l.Description)
	lterm := strings.ToLower(term)

	s := w.Base

	for _, token := range strings.Fields(lterm) {
		if strings.Contains(title, token) {
			s += w.TokenTitle
		}
		if strings.Contains(desc, token) {
			s += w.TokenDesc
		}
	}

	for _, phrase := range phrases {
		lp := strings.ToLower(phrase)
		if strings.Contains(title, lp) {
			s += w.PhraseTitle
		}
		if strings.Contains(desc, lp) {
			s += w.PhraseDesc
		}
	}

	if strings.Contains(title, lterm) {
		s += w.FullTermTitle
	}
	if l.Image != "" {
		s += w.Image
	}
	if len(l.Title) < w.ShortTitleUnder {
		s -= w.ShortTitle
	}
	if primary[l.Source] {
		s += w.PrimarySource
	}

	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return math.Round(s*100) / 100
}
