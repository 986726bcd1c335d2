// Package analytics aggregates read-only reports over stored cases for the admin console.
package analytics

import (
	"sort"
	"time"

	"github.com/hyperjump/bami/internal/models"
)

// MaxLeads caps the lead list in a Report.
const MaxLeads = 50

// Totals are headline counters.
type Totals struct {
	Cases        int     `json:"cases"`
	Approved     int     `json:"aprobados"`
	Alternatives int     `json:"alternativas"`
	UnderReview  int     `json:"en_revision"`
	MissingAvg   float64 `json:"missing_avg"`
	ApprovalRate float64 `json:"approval_rate"`
}

// Lead is one row of the newest-cases list.
type Lead struct {
	ID           string                 `json:"id"`
	Product      string                 `json:"product"`
	Channel      string                 `json:"channel"`
	Applicant    map[string]interface{} `json:"applicant"`
	Stage        models.Stage           `json:"stage"`
	MissingCount int                    `json:"missing_count"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Report is the admin analytics payload.
type Report struct {
	Totals    Totals               `json:"totals"`
	Funnel    map[models.Stage]int `json:"funnel"`
	ByProduct map[string]int       `json:"by_product"`
	Leads     []Lead               `json:"leads"`
}

// Summarize builds a Report. Every known stage appears in the funnel, even at zero.
func Summarize(all []*models.Case) Report {
	r := Report{
		Funnel:    make(map[models.Stage]int, len(models.Stages)),
		ByProduct: make(map[string]int),
		Leads:     []Lead{},
	}
	for _, s := range models.Stages {
		r.Funnel[s] = 0
	}

	missing := 0
	for _, c := range all {
		if _, ok := r.Funnel[c.Stage]; ok {
			r.Funnel[c.Stage]++
		}
		r.ByProduct[c.Product]++
		missing += len(c.Missing)
		switch c.Stage {
		case models.StageApproved:
			r.Totals.Approved++
		case models.StageAlternative:
			r.Totals.Alternatives++
		case models.StageUnderReview:
			r.Totals.UnderReview++
		}
	}
	r.Totals.Cases = len(all)
	if n := len(all); n > 0 {
		r.Totals.MissingAvg = float64(missing) / float64(n)
		r.Totals.ApprovalRate = float64(r.Totals.Approved) / float64(n)
	}

	for _, c := range Newest(all, MaxLeads) {
		r.Leads = append(r.Leads, Lead{
			ID:           c.ID,
			Product:      c.Product,
			Channel:      c.Channel,
			Applicant:    c.Applicant,
			Stage:        c.Stage,
			MissingCount: len(c.Missing),
			CreatedAt:    c.CreatedAt,
		})
	}
	return r
}

// Newest returns up to limit cases ordered by creation time, newest first.
// A non-positive limit returns all of them. The input is not modified.
func Newest(all []*models.Case, limit int) []*models.Case {
	sorted := append([]*models.Case(nil), all...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// CaseItem is the compact row of the admin case list.
type CaseItem struct {
	ID        string       `json:"id"`
	Product   string       `json:"product"`
	Stage     models.Stage `json:"stage"`
	Channel   string       `json:"channel"`
	CreatedAt time.Time    `json:"created_at"`
}

// Items projects cases to list rows, newest first.
func Items(all []*models.Case) []CaseItem {
	out := make([]CaseItem, 0, len(all))
	for _, c := range Newest(all, 0) {
		out = append(out, CaseItem{ID: c.ID, Product: c.Product, Stage: c.Stage, Channel: c.Channel, CreatedAt: c.CreatedAt})
	}
	return out
}
