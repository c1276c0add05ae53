package store

import (
	"context"
	"os"
	"time"

	"github.com/rcliao/senja-sync/internal/model"
)

// Stats holds cache statistics.
type Stats struct {
	DBPath      string            `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	DBSizeBytes int64             `json:"db_size_bytes" yaml:"db_size_bytes"`
	Total       int               `json:"total_records" yaml:"total_records"`
	Collections []CollectionStats `json:"collections" yaml:"collections"`
}

// CollectionStats holds per-collection counts.
type CollectionStats struct {
	Collection model.Collection `json:"collection" yaml:"collection"`
	Records    int              `json:"records" yaml:"records"`
	BlobBytes  int              `json:"blob_bytes" yaml:"blob_bytes"`
	SavedAt    *time.Time       `json:"saved_at,omitempty" yaml:"saved_at,omitempty"`
}

// Stats returns cache statistics. The database size is reported when the
// backend is file based.
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	if p, ok := c.backend.(interface{ Path() string }); ok {
		st.DBPath = p.Path()
		if info, err := os.Stat(st.DBPath); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}

	for _, name := range model.AllCollections {
		col := c.cols[name]
		col.mu.Lock()
		cs := CollectionStats{
			Collection: name,
			Records:    len(col.records),
			BlobBytes:  col.bytes,
		}
		if !col.savedAt.IsZero() {
			t := col.savedAt
			cs.SavedAt = &t
		}
		col.mu.Unlock()

		st.Total += cs.Records
		st.Collections = append(st.Collections, cs)
	}
	return st, nil
}
