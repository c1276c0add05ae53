// Package syncer keeps the local cache and the remote backend consistent.
//
// Reads are served from the cache. Writes are applied to the cache first and
// pushed to the remote in the background, one worker per collection. A pull
// replaces cached collections wholesale and then re-applies local writes
// that the remote has not acknowledged yet.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rcliao/senja-sync/internal/chunker"
	"github.com/rcliao/senja-sync/internal/model"
	"github.com/rcliao/senja-sync/internal/remote"
	"github.com/rcliao/senja-sync/internal/sanitize"
	"github.com/rcliao/senja-sync/internal/store"
)

// ErrProtected is returned when deleting or renaming the reserved
// administrator.
var ErrProtected = errors.New("the administrator account is protected")

// Options configures an Orchestrator.
type Options struct {
	// ChunkLimit is the largest field size, in characters, sent to the
	// remote. Zero means chunker.DefaultLimit.
	ChunkLimit int
	Logger     *slog.Logger
	Sanitizer  *sanitize.Sanitizer
	Events     Events
	Clock      func() time.Time
}

// Orchestrator coordinates the cache, the sanitizer, the chunk codec and
// the transport.
type Orchestrator struct {
	store     store.Store
	journal   store.Journal
	transport remote.Transport
	chunks    chunker.Options
	logger    *slog.Logger
	sanitizer *sanitize.Sanitizer
	events    Events
	now       func() time.Time

	lanes map[model.Collection]*lane
	pulls singleflight.Group

	workersMu sync.Mutex
	workers   int
	idle      *sync.Cond
}

// New creates an Orchestrator. A nil transport runs in cache-only mode:
// writes stay local and Refresh reports remote.ErrNotConfigured. When s is
// also a store.Journal, pending writes are persisted through it and the
// ones left by an earlier process are restored here.
func New(s store.Store, t remote.Transport, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:     s,
		transport: t,
		chunks:    chunker.DefaultOptions(),
		logger:    opts.Logger,
		sanitizer: opts.Sanitizer,
		events:    opts.Events,
		now:       opts.Clock,
		lanes:     make(map[model.Collection]*lane, len(model.AllCollections)),
	}
	if opts.ChunkLimit > 0 {
		o.chunks.Limit = opts.ChunkLimit
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.sanitizer == nil {
		o.sanitizer = sanitize.New(sanitize.WithLogger(o.logger))
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.idle = sync.NewCond(&o.workersMu)
	o.journal, _ = s.(store.Journal)
	for _, c := range model.AllCollections {
		l := newLane(c)
		o.restorePending(l)
		o.lanes[c] = l
	}
	return o
}

func (o *Orchestrator) restorePending(l *lane) {
	if o.journal == nil {
		return
	}
	writes, err := o.journal.LoadPending(context.Background(), l.c)
	if err != nil {
		o.logger.Warn("pending writes unreadable, dropping them", "collection", l.c, "err", err)
		return
	}
	if len(writes) > 0 {
		o.logger.Debug("restored pending writes", "collection", l.c, "count", len(writes))
	}
	l.mu.Lock()
	l.restore(writes)
	l.mu.Unlock()
}

// savePending persists the pending writes of l. l.mu must be held.
func (o *Orchestrator) savePending(ctx context.Context, l *lane) {
	if o.journal == nil {
		return
	}
	if err := o.journal.SavePending(ctx, l.c, l.pending); err != nil {
		o.logger.Warn("persisting pending writes failed", "collection", l.c, "err", err)
	}
}

func (o *Orchestrator) lane(c model.Collection) (*lane, error) {
	l, ok := o.lanes[c]
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrUnknownCollection, c)
	}
	return l, nil
}

// update mutates l under its lock and then reports the new status.
func (o *Orchestrator) update(l *lane, fn func(l *lane)) LaneStatus {
	l.mu.Lock()
	before := l.state
	fn(l)
	st := l.status()
	l.mu.Unlock()
	if st.State != before && o.events.OnStateChange != nil {
		o.events.OnStateChange(st)
	}
	return st
}

// Status returns the sync status of collection c.
func (o *Orchestrator) Status(c model.Collection) (LaneStatus, error) {
	l, err := o.lane(c)
	if err != nil {
		return LaneStatus{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status(), nil
}

// Statuses returns the status of every collection.
func (o *Orchestrator) Statuses() []LaneStatus {
	out := make([]LaneStatus, 0, len(model.AllCollections))
	for _, c := range model.AllCollections {
		st, _ := o.Status(c)
		out = append(out, st)
	}
	return out
}

// List returns the cached records of c.
func (o *Orchestrator) List(ctx context.Context, c model.Collection) ([]model.Record, error) {
	return o.store.GetAll(ctx, c)
}

// Get returns the cached record of c with the given key.
func (o *Orchestrator) Get(ctx context.Context, c model.Collection, key string) (model.Record, error) {
	return o.store.Get(ctx, c, key)
}

// Search queries the cache.
func (o *Orchestrator) Search(ctx context.Context, p store.SearchParams) ([]store.SearchResult, error) {
	return store.Search(ctx, o.store, p)
}

// Export dumps the cached collections.
func (o *Orchestrator) Export(ctx context.Context, cols ...model.Collection) (*store.Export, error) {
	return store.ExportAll(ctx, o.store, cols...)
}

// Save normalizes r, stores it locally and schedules a push of its
// collection. The stored record, with its key, is returned before any
// network activity.
func (o *Orchestrator) Save(ctx context.Context, r model.Record) (model.Record, error) {
	if r == nil {
		return nil, errors.New("save: nil record")
	}
	saved, err := o.SaveAll(ctx, r.Collection(), []model.Record{r})
	if err != nil {
		return nil, err
	}
	return saved[0], nil
}

// SaveAll stores several records of collection c and schedules a single
// push. Records are applied in order; on a local failure the records
// already applied stay applied.
func (o *Orchestrator) SaveAll(ctx context.Context, c model.Collection, records []model.Record) ([]model.Record, error) {
	l, err := o.lane(c)
	if err != nil {
		return nil, err
	}
	normalized := make([]model.Record, 0, len(records))
	for _, r := range records {
		if r == nil || r.Collection() != c {
			return nil, fmt.Errorf("save %s: record of another collection", c)
		}
		n := o.sanitizer.Normalize(r)
		if err := o.checkAdmin(ctx, n); err != nil {
			return nil, err
		}
		normalized = append(normalized, n)
	}

	saved := make([]model.Record, 0, len(normalized))
	l.mu.Lock()
	for _, r := range normalized {
		stored, err := o.store.Upsert(ctx, r)
		if err != nil {
			o.savePending(ctx, l)
			l.mu.Unlock()
			if len(saved) > 0 {
				o.schedulePush(l)
			}
			return saved, err
		}
		l.record(stored, stored.Key())
		saved = append(saved, stored)
	}
	o.savePending(ctx, l)
	l.mu.Unlock()

	if len(saved) > 0 {
		o.schedulePush(l)
	}
	return saved, nil
}

// checkAdmin rejects an account write that would rename the administrator
// away.
func (o *Orchestrator) checkAdmin(ctx context.Context, r model.Record) error {
	a, ok := r.(model.Account)
	if !ok || a.Key() == "" || a.IsAdmin() {
		return nil
	}
	cur, err := o.store.Get(ctx, model.Accounts, a.Key())
	if err != nil {
		return nil
	}
	if cur.(model.Account).IsAdmin() {
		return fmt.Errorf("%w: username must stay %q", ErrProtected, model.AdminUsername)
	}
	return nil
}

// Delete removes a record locally and schedules a push. It reports whether
// a record was removed; deleting an unknown key changes nothing.
func (o *Orchestrator) Delete(ctx context.Context, c model.Collection, key string) (bool, error) {
	l, err := o.lane(c)
	if err != nil {
		return false, err
	}
	if c.Singleton() {
		return false, store.ErrSingleton
	}
	if c == model.Accounts {
		if r, err := o.store.Get(ctx, c, key); err == nil && r.(model.Account).IsAdmin() {
			return false, ErrProtected
		}
	}

	l.mu.Lock()
	removed, err := o.store.Delete(ctx, c, key)
	if err == nil && removed {
		l.record(nil, key)
		o.savePending(ctx, l)
	}
	l.mu.Unlock()

	if removed {
		o.schedulePush(l)
	}
	return removed, err
}

// Import saves every collection of an export, one push per collection.
// It returns the number of records saved.
func (o *Orchestrator) Import(ctx context.Context, exp *store.Export) (int, error) {
	n := 0
	for _, c := range model.AllCollections {
		records, ok := exp.Collections[c]
		if !ok || len(records) == 0 {
			continue
		}
		if c.Singleton() {
			records = records[len(records)-1:]
		}
		saved, err := o.SaveAll(ctx, c, records)
		n += len(saved)
		if err != nil {
			return n, fmt.Errorf("import %s: %w", c, err)
		}
	}
	return n, nil
}

// Close waits for background pushes and closes the store.
func (o *Orchestrator) Close() error {
	o.Flush()
	return o.store.Close()
}
