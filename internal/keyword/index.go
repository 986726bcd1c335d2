// Package keyword provides the full-text case index behind the admin search.
package keyword

import "github.com/hyperjump/bami/internal/models"

// DefaultLimit is used when SearchOptions.Limit is not positive.
const DefaultLimit = 50

// SearchOptions narrow a case search. Nil means defaults.
type SearchOptions struct {
	Limit int
	// Stage restricts hits to one stage.
	Stage models.Stage
	// FuzzyEnabled matches terms within Fuzziness edits (default 1).
	FuzzyEnabled bool
	Fuzziness    int
}

// CaseResult is one search hit.
type CaseResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// caseDoc is the indexed shape of a case.
type caseDoc struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Stage   string `json:"stage"`
	Product string `json:"product"`
	Channel string `json:"channel"`
}
