package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/senja-sync/internal/chunker"
	"github.com/rcliao/senja-sync/internal/model"
	"github.com/rcliao/senja-sync/internal/remote"
)

// PullReport summarizes a successful pull.
type PullReport struct {
	At time.Time `json:"at" yaml:"at"`
	// Records is the cached record count of every replaced collection.
	Records map[model.Collection]int `json:"records" yaml:"records"`
	// Absent lists collections the remote did not return; their cache was
	// left as is.
	Absent    []model.Collection `json:"absent,omitempty" yaml:"absent,omitempty"`
	Malformed []string           `json:"malformed,omitempty" yaml:"malformed,omitempty"`
	Truncated []Truncated        `json:"truncated,omitempty" yaml:"truncated,omitempty"`
	// Reapplied counts local writes re-applied on top of the pulled data.
	Reapplied map[model.Collection]int `json:"reapplied,omitempty" yaml:"reapplied,omitempty"`
}

// Truncated is a pulled row with fields rebuilt from an incomplete
// fragment sequence.
type Truncated struct {
	Collection model.Collection     `json:"collection" yaml:"collection"`
	Row        int                  `json:"row" yaml:"row"`
	Fields     []chunker.Truncation `json:"fields" yaml:"fields"`
}

// Refresh pulls every collection and replaces the cache with the result.
// Concurrent calls share one pull. On a transport failure the cache is
// left untouched, every lane is marked degraded and the error is returned.
func (o *Orchestrator) Refresh(ctx context.Context) (*PullReport, error) {
	if o.transport == nil {
		return nil, remote.ErrNotConfigured
	}
	v, err, shared := o.pulls.Do("pull", func() (any, error) {
		return o.refresh(ctx)
	})
	if shared {
		o.logger.Debug("joined in-flight pull")
	}
	report, _ := v.(*PullReport)
	return report, err
}

func (o *Orchestrator) refresh(ctx context.Context) (*PullReport, error) {
	// Lock order follows model.AllCollections.
	for _, c := range model.AllCollections {
		o.lanes[c].op.Lock()
	}
	defer func() {
		for i := len(model.AllCollections) - 1; i >= 0; i-- {
			o.lanes[model.AllCollections[i]].op.Unlock()
		}
	}()

	for _, c := range model.AllCollections {
		o.update(o.lanes[c], func(l *lane) { l.state = StatePulling })
	}

	snap, err := o.transport.PullAll(ctx)
	if err != nil {
		for _, c := range model.AllCollections {
			o.update(o.lanes[c], func(l *lane) {
				l.degraded = true
				l.lastErr = err
				l.state = StateFailed
			})
		}
		o.logger.Warn("pull failed, serving cached data", "err", err)
		return nil, err
	}

	report := &PullReport{
		At:        o.now(),
		Records:   map[model.Collection]int{},
		Reapplied: map[model.Collection]int{},
	}
	for _, m := range snap.Malformed {
		report.Malformed = append(report.Malformed, m.Error())
	}

	var errs []error
	var repush []*lane
	for _, c := range model.AllCollections {
		l := o.lanes[c]
		raw, ok := snap.Collections[c]
		if !ok {
			report.Absent = append(report.Absent, c)
			o.update(l, func(l *lane) {
				l.degraded = false
				l.state = StateIdle
			})
			continue
		}

		rows := make([]model.RawRecord, 0, len(raw))
		for i, row := range raw {
			decoded, err := chunker.Decode(row)
			var seqErr *chunker.SequenceError
			if errors.As(err, &seqErr) {
				report.Truncated = append(report.Truncated, Truncated{Collection: c, Row: i, Fields: seqErr.Fields})
				o.logger.Warn("pulled row has truncated fields", "collection", c, "row", i, "err", err)
			}
			rows = append(rows, decoded)
		}
		records := o.sanitizer.Sanitize(c, rows)
		if c == model.Settings {
			records = o.keepBackground(ctx, records)
		}

		n, reapplied, err := o.apply(ctx, l, records)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.Records[c] = n
		if reapplied > 0 {
			report.Reapplied[c] = reapplied
			repush = append(repush, l)
		}
	}

	// Workers wait on the op locks held here and start after the defer.
	for _, l := range repush {
		o.schedulePush(l)
	}
	o.logger.Info("pull complete", "records", report.Records, "absent", len(report.Absent),
		"malformed", len(report.Malformed), "truncated", len(report.Truncated))
	return report, errors.Join(errs...)
}

// keepBackground keeps the cached certificate background when the pulled
// settings carry none.
func (o *Orchestrator) keepBackground(ctx context.Context, records []model.Record) []model.Record {
	pulled, ok := records[0].(model.AppSettings)
	if !ok || pulled.CertBackground != "" {
		return records
	}
	cur, err := o.store.Get(ctx, model.Settings, model.SettingsKey)
	if err != nil {
		return records
	}
	return []model.Record{cur}
}

// apply replaces the cached collection and re-applies pending writes in
// order. It returns the resulting record count and the number of writes
// re-applied.
func (o *Orchestrator) apply(ctx context.Context, l *lane, records []model.Record) (int, int, error) {
	var n, reapplied int
	var applyErr error
	o.update(l, func(l *lane) {
		if err := o.store.Replace(ctx, l.c, records); err != nil {
			applyErr = fmt.Errorf("replace %s: %w", l.c, err)
			l.lastErr = applyErr
			l.state = StateFailed
			return
		}
		for _, w := range l.pending {
			var err error
			if w.Record != nil {
				_, err = o.store.Upsert(ctx, w.Record)
			} else {
				_, err = o.store.Delete(ctx, l.c, w.Key)
			}
			if err != nil {
				o.logger.Warn("re-applying local write failed", "collection", l.c, "key", w.Key, "err", err)
				continue
			}
			reapplied++
		}
		all, _ := o.store.GetAll(ctx, l.c)
		n = len(all)
		l.lastPull = o.now()
		l.degraded = false
		l.lastErr = nil
		l.state = StateIdle
	})
	return n, reapplied, applyErr
}
