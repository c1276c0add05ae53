package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rcliao/senja-sync/internal/model"
)

// ExportVersion is the format version written by ExportAll.
const ExportVersion = 1

// Export is a portable dump of cached collections.
type Export struct {
	Version     int                                 `json:"version" yaml:"version"`
	ExportedAt  time.Time                           `json:"exported_at" yaml:"exported_at"`
	Collections map[model.Collection][]model.Record `json:"collections" yaml:"collections"`
}

// ExportAll dumps the given collections, or all of them when none is named.
func ExportAll(ctx context.Context, s Store, cols ...model.Collection) (*Export, error) {
	if len(cols) == 0 {
		cols = model.AllCollections
	}
	exp := &Export{
		Version:     ExportVersion,
		ExportedAt:  time.Now().UTC(),
		Collections: make(map[model.Collection][]model.Record, len(cols)),
	}
	for _, c := range cols {
		records, err := s.GetAll(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", c, err)
		}
		exp.Collections[c] = records
	}
	return exp, nil
}

// UnmarshalJSON decodes each collection into its record type. Collection
// names are resolved like ParseCollection, so legacy sheet names work.
func (e *Export) UnmarshalJSON(data []byte) error {
	var aux struct {
		Version     int                        `json:"version"`
		ExportedAt  time.Time                  `json:"exported_at"`
		Collections map[string]json.RawMessage `json:"collections"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Version != ExportVersion {
		return fmt.Errorf("unsupported export version %d", aux.Version)
	}
	e.Version = aux.Version
	e.ExportedAt = aux.ExportedAt
	e.Collections = make(map[model.Collection][]model.Record, len(aux.Collections))
	for name, raw := range aux.Collections {
		c, err := model.ParseCollection(name)
		if err != nil {
			return err
		}
		records, err := model.DecodeRecords(c, raw)
		if err != nil {
			return fmt.Errorf("decode %s: %w", c, err)
		}
		e.Collections[c] = records
	}
	return nil
}
