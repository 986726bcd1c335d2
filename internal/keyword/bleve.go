package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/bami/internal/models"
)

// CaseIndex is a Bleve index of case text: id, product, channel, owner, applicant
// attributes and missing documents.
type CaseIndex struct {
	index bleve.Index
}

func caseMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer lowercases and tokenizes without stemming, so names and
	// document slots match as typed.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", text)
	for _, f := range []string{"id", "stage", "product", "channel"} {
		docMapping.AddFieldMappingsAt(f, bleve.NewKeywordFieldMapping())
	}
	im.AddDocumentMapping("case", docMapping)
	im.DefaultType = "case"
	im.DefaultMapping = docMapping
	return im
}

// NewCaseIndex opens the index at path, creating it if needed. An empty path
// keeps the index in memory; it is rebuilt from storage on start either way.
func NewCaseIndex(path string) (*CaseIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(caseMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory case index: %w", err)
		}
		return &CaseIndex{index: index}, nil
	}
	if _, err := os.Stat(path); err == nil {
		index, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open case index: %w", err)
		}
		return &CaseIndex{index: index}, nil
	}
	index, err := bleve.New(path, caseMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create case index: %w", err)
	}
	return &CaseIndex{index: index}, nil
}

func toDoc(c *models.Case) caseDoc {
	parts := []string{c.ID, c.Product, c.Channel, c.Owner}
	keys := make([]string, 0, len(c.Applicant))
	for k := range c.Applicant {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := c.Applicant[k]; v != nil {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	parts = append(parts, c.Missing...)
	return caseDoc{
		ID:      c.ID,
		Text:    strings.Join(parts, " "),
		Stage:   string(c.Stage),
		Product: c.Product,
		Channel: c.Channel,
	}
}

// Index adds or replaces c.
func (x *CaseIndex) Index(c *models.Case) error {
	return x.index.Index(c.ID, toDoc(c))
}

// IndexAll indexes cases in one batch.
func (x *CaseIndex) IndexAll(all []*models.Case) error {
	batch := x.index.NewBatch()
	for _, c := range all {
		if err := batch.Index(c.ID, toDoc(c)); err != nil {
			return fmt.Errorf("failed to batch case %s: %w", c.ID, err)
		}
	}
	return x.index.Batch(batch)
}

// Search returns case ids matching query, best first. An empty query matches every
// case, which combined with SearchOptions.Stage lists one stage.
func (x *CaseIndex) Search(ctx context.Context, query string, opts *SearchOptions) ([]*CaseResult, error) {
	limit := DefaultLimit
	var filters []blevequery.Query
	fuzzy, fuzziness := false, 1
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		if opts.Stage != "" {
			tq := bleve.NewTermQuery(string(opts.Stage))
			tq.SetField("stage")
			filters = append(filters, tq)
		}
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	var q blevequery.Query
	switch {
	case strings.TrimSpace(query) == "":
		q = bleve.NewMatchAllQuery()
	case fuzzy:
		q = buildFuzzyQuery(query, fuzziness)
	default:
		mq := bleve.NewMatchQuery(query)
		mq.SetField("text")
		q = mq
	}
	if len(filters) > 0 {
		q = bleve.NewConjunctionQuery(append([]blevequery.Query{q}, filters...)...)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("case search failed: %w", err)
	}
	out := make([]*CaseResult, len(res.Hits))
	for i, hit := range res.Hits {
		out[i] = &CaseResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// buildFuzzyQuery ORs a fuzzy query per term over the text field.
func buildFuzzyQuery(query string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(query)
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("text")
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Terms returns every distinct term of the text field.
func (x *CaseIndex) Terms() ([]string, error) {
	dict, err := x.index.FieldDict("text")
	if err != nil {
		return nil, fmt.Errorf("failed to read term dictionary: %w", err)
	}
	defer dict.Close()
	var terms []string
	for {
		entry, err := dict.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return terms, nil
		}
		terms = append(terms, entry.Term)
	}
}

// Delete removes a case from the index.
func (x *CaseIndex) Delete(id string) error {
	return x.index.Delete(id)
}

// DocCount returns the number of indexed cases.
func (x *CaseIndex) DocCount() (uint64, error) {
	return x.index.DocCount()
}

// Close closes the index.
func (x *CaseIndex) Close() error {
	return x.index.Close()
}
