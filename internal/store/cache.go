package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/senja-sync/internal/model"
)

// envelopeVersion is bumped whenever the blob layout changes. Blobs of any
// other version are discarded on load.
const envelopeVersion = 1

const keyPrefix = "senja/v1/"

// BlobKey is the backend key holding collection c.
func BlobKey(c model.Collection) string {
	return keyPrefix + c.WireName()
}

type envelope struct {
	Version    int              `json:"version"`
	Collection model.Collection `json:"collection"`
	SavedAt    time.Time        `json:"saved_at"`
	Records    json.RawMessage  `json:"records"`
}

type collection struct {
	mu      sync.Mutex
	records []model.Record
	index   map[string]int
	savedAt time.Time
	bytes   int
}

// Cache implements Store over a Backend. Each collection is held in memory
// and written through to the backend on every mutation.
type Cache struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
	cols    map[model.Collection]*collection

	idMu    sync.Mutex
	entropy *rand.Rand
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for load warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock overrides the time source used for saved_at stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache loads every collection from backend. A collection whose blob is
// missing, unreadable or of another version starts from its defaults.
func NewCache(ctx context.Context, backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
		cols:    make(map[model.Collection]*collection, len(model.AllCollections)),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(c)
	}
	for _, name := range model.AllCollections {
		col := &collection{}
		records, err := c.load(ctx, name, col)
		if err != nil {
			if !errors.Is(err, ErrNoBlob) {
				c.logger.Warn("cache unreadable, starting from defaults",
					"collection", name, "err", err)
			}
			records = defaults(name)
		}
		col.set(records)
		c.cols[name] = col
	}
	return c
}

func (c *Cache) load(ctx context.Context, name model.Collection, col *collection) ([]model.Record, error) {
	blob, err := c.backend.Load(ctx, BlobKey(name))
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("envelope version %d, want %d", env.Version, envelopeVersion)
	}
	if env.Collection != name {
		return nil, fmt.Errorf("envelope holds %q", env.Collection)
	}
	records, err := model.DecodeRecords(name, env.Records)
	if err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if name.Singleton() && len(records) != 1 {
		return nil, fmt.Errorf("settings blob holds %d records", len(records))
	}
	col.savedAt = env.SavedAt
	col.bytes = len(blob)
	return records, nil
}

// defaults is the content of a collection that has never been synced.
func defaults(c model.Collection) []model.Record {
	switch c {
	case model.Accounts:
		return []model.Record{model.DefaultAdmin()}
	case model.Settings:
		return []model.Record{model.AppSettings{}}
	}
	return nil
}

func (c *Cache) newID() string {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy).String()
}

func (c *Cache) col(name model.Collection) (*collection, error) {
	col, ok := c.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return col, nil
}

func (c *Cache) GetAll(ctx context.Context, name model.Collection) ([]model.Record, error) {
	col, err := c.col(name)
	if err != nil {
		return nil, err
	}
	col.mu.Lock()
	defer col.mu.Unlock()
	return append([]model.Record(nil), col.records...), nil
}

func (c *Cache) Get(ctx context.Context, name model.Collection, key string) (model.Record, error) {
	col, err := c.col(name)
	if err != nil {
		return nil, err
	}
	col.mu.Lock()
	defer col.mu.Unlock()
	if name.Singleton() {
		return col.records[0], nil
	}
	i, ok := col.index[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, name, key)
	}
	return col.records[i], nil
}

func (c *Cache) Replace(ctx context.Context, name model.Collection, records []model.Record) error {
	col, err := c.col(name)
	if err != nil {
		return err
	}
	next := make([]model.Record, 0, len(records))
	for _, r := range records {
		if r.Collection() != name {
			return fmt.Errorf("replace %s: record of %s", name, r.Collection())
		}
		next = append(next, r)
	}
	if name.Singleton() {
		if len(next) == 0 {
			next = defaults(name)
		}
		next = next[len(next)-1:]
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	return c.commit(ctx, name, col, next)
}

func (c *Cache) Upsert(ctx context.Context, r model.Record) (model.Record, error) {
	if r == nil {
		return nil, errors.New("upsert: nil record")
	}
	name := r.Collection()
	col, err := c.col(name)
	if err != nil {
		return nil, err
	}
	if r.Key() == "" {
		r = r.WithKey(c.newID())
	}

	col.mu.Lock()
	defer col.mu.Unlock()

	var next []model.Record
	switch i, ok := col.index[r.Key()]; {
	case name.Singleton():
		next = []model.Record{r}
	case ok:
		next = append([]model.Record(nil), col.records...)
		next[i] = r
	default:
		next = append(append(make([]model.Record, 0, len(col.records)+1), col.records...), r)
	}
	if err := c.commit(ctx, name, col, next); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Cache) Delete(ctx context.Context, name model.Collection, key string) (bool, error) {
	if name.Singleton() {
		return false, ErrSingleton
	}
	col, err := c.col(name)
	if err != nil {
		return false, err
	}

	col.mu.Lock()
	defer col.mu.Unlock()

	i, ok := col.index[key]
	if !ok {
		return false, nil
	}
	next := make([]model.Record, 0, len(col.records)-1)
	next = append(append(next, col.records[:i]...), col.records[i+1:]...)
	if err := c.commit(ctx, name, col, next); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Close() error {
	return c.backend.Close()
}

// commit persists next and then makes it the in-memory state. On a backend
// failure the previous state is kept. col.mu must be held.
func (c *Cache) commit(ctx context.Context, name model.Collection, col *collection, next []model.Record) error {
	data, err := model.EncodeRecords(next)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	now := c.now().UTC()
	blob, err := json.Marshal(envelope{
		Version:    envelopeVersion,
		Collection: name,
		SavedAt:    now,
		Records:    data,
	})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", name, err)
	}
	if err := c.backend.Save(ctx, BlobKey(name), blob); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	col.set(next)
	col.savedAt = now
	col.bytes = len(blob)
	return nil
}

func (col *collection) set(records []model.Record) {
	col.records = records
	col.index = make(map[string]int, len(records))
	for i, r := range records {
		col.index[r.Key()] = i
	}
}
