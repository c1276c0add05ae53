package store

import (
	"context"
	"sort"
	"strings"

	"github.com/rcliao/senja-sync/internal/model"
	"github.com/rcliao/senja-sync/internal/sanitize"
)

// SearchParams holds parameters for searching the cache.
type SearchParams struct {
	// Collection restricts the search; empty searches every collection.
	Collection model.Collection
	// Query is a case-insensitive substring matched against every field.
	Query string
	// Where holds exact field filters (case-insensitive), e.g.
	// classGrade=3 or studentNisn=12345.
	Where map[string]string
	Limit int
}

// SearchResult is a matching record with the field the query hit.
type SearchResult struct {
	Collection model.Collection `json:"collection"`
	Key        string           `json:"key"`
	Record     model.Record     `json:"record"`
	MatchField string           `json:"match_field,omitempty"`
}

// Search finds records matching every filter in p.Where and, when set,
// containing p.Query in some field.
func Search(ctx context.Context, s Store, p SearchParams) ([]SearchResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	cols := model.AllCollections
	if p.Collection != "" {
		cols = []model.Collection{p.Collection}
	}

	query := sanitize.Fold(p.Query)
	where := make(map[string]string, len(p.Where))
	for k, v := range p.Where {
		where[k] = sanitize.Fold(v)
	}

	var results []SearchResult
	for _, c := range cols {
		records, err := s.GetAll(ctx, c)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			flat := r.Flatten()
			if !matchesWhere(flat, where) {
				continue
			}
			field, ok := matchQuery(flat, query)
			if !ok {
				continue
			}
			results = append(results, SearchResult{
				Collection: c,
				Key:        r.Key(),
				Record:     r,
				MatchField: field,
			})
			if len(results) >= limit {
				return results, nil
			}
		}
	}
	return results, nil
}

func matchesWhere(flat model.RawRecord, where map[string]string) bool {
	for field, want := range where {
		v, ok := flat[field]
		if !ok || sanitize.Fold(model.Stringify(v)) != want {
			return false
		}
	}
	return true
}

// matchQuery reports the first field, in name order, containing query.
func matchQuery(flat model.RawRecord, query string) (string, bool) {
	if query == "" {
		return "", true
	}
	fields := make([]string, 0, len(flat))
	for k := range flat {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if strings.Contains(sanitize.Fold(model.Stringify(flat[f])), query) {
			return f, true
		}
	}
	return "", false
}
