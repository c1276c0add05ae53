package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rcliao/senja-sync/internal/model"
)

// PendingWrite is a local write the remote has not acknowledged yet. A nil
// Record marks a delete of Key.
type PendingWrite struct {
	Seq    uint64
	Key    string
	Record model.Record
}

// Journal persists the pending writes of each collection so that they
// survive a restart.
type Journal interface {
	LoadPending(ctx context.Context, c model.Collection) ([]PendingWrite, error)
	SavePending(ctx context.Context, c model.Collection, writes []PendingWrite) error
}

// PendingKey is the backend key holding the pending writes of c.
func PendingKey(c model.Collection) string {
	return keyPrefix + "pending/" + c.WireName()
}

type pendingEnvelope struct {
	Version    int              `json:"version"`
	Collection model.Collection `json:"collection"`
	Writes     []pendingEntry   `json:"writes"`
}

type pendingEntry struct {
	Seq    uint64          `json:"seq"`
	Key    string          `json:"key"`
	Record json.RawMessage `json:"record,omitempty"`
}

// LoadPending returns the pending writes of c in sequence order. A missing
// blob yields none.
func (c *Cache) LoadPending(ctx context.Context, name model.Collection) ([]PendingWrite, error) {
	if _, err := c.col(name); err != nil {
		return nil, err
	}
	blob, err := c.backend.Load(ctx, PendingKey(name))
	if errors.Is(err, ErrNoBlob) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var env pendingEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("decode pending %s: %w", name, err)
	}
	if env.Version != envelopeVersion || env.Collection != name {
		return nil, fmt.Errorf("pending %s: envelope %s v%d", name, env.Collection, env.Version)
	}

	out := make([]PendingWrite, 0, len(env.Writes))
	for _, e := range env.Writes {
		w := PendingWrite{Seq: e.Seq, Key: e.Key}
		if len(e.Record) > 0 && string(e.Record) != "null" {
			records, err := model.DecodeRecords(name, append(append([]byte("["), e.Record...), ']'))
			if err != nil {
				return nil, fmt.Errorf("decode pending %s/%s: %w", name, e.Key, err)
			}
			w.Record = records[0]
		}
		out = append(out, w)
	}
	return out, nil
}

// SavePending replaces the pending writes of c.
func (c *Cache) SavePending(ctx context.Context, name model.Collection, writes []PendingWrite) error {
	if _, err := c.col(name); err != nil {
		return err
	}
	env := pendingEnvelope{
		Version:    envelopeVersion,
		Collection: name,
		Writes:     make([]pendingEntry, 0, len(writes)),
	}
	for _, w := range writes {
		e := pendingEntry{Seq: w.Seq, Key: w.Key}
		if w.Record != nil {
			raw, err := json.Marshal(w.Record)
			if err != nil {
				return fmt.Errorf("encode pending %s/%s: %w", name, w.Key, err)
			}
			e.Record = raw
		}
		env.Writes = append(env.Writes, e)
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode pending %s: %w", name, err)
	}
	if err := c.backend.Save(ctx, PendingKey(name), blob); err != nil {
		return fmt.Errorf("save pending %s: %w", name, err)
	}
	return nil
}
