package syncer

import (
	"sync"
	"time"

	"github.com/rcliao/senja-sync/internal/model"
	"github.com/rcliao/senja-sync/internal/store"
)

// State is the sync activity of one collection.
type State string

const (
	StateIdle    State = "idle"
	StatePulling State = "pulling"
	StatePushing State = "pushing"
	StateFailed  State = "failed"
)

// LaneStatus is a point-in-time view of a collection's sync lane.
type LaneStatus struct {
	Collection model.Collection `json:"collection" yaml:"collection"`
	State      State            `json:"state" yaml:"state"`
	// Degraded is set while the cache may be stale because the last pull
	// failed.
	Degraded      bool       `json:"degraded" yaml:"degraded"`
	LastError     string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastPull      *time.Time `json:"last_pull,omitempty" yaml:"last_pull,omitempty"`
	LastPush      *time.Time `json:"last_push,omitempty" yaml:"last_push,omitempty"`
	PendingWrites int        `json:"pending_writes" yaml:"pending_writes"`
}

// Events are optional hooks fired from the goroutine that caused them.
type Events struct {
	OnStateChange func(LaneStatus)
	OnPushError   func(c model.Collection, err error)
}

// lane serializes the network activity of one collection.
type lane struct {
	c model.Collection

	// op is held for the whole of a pull-apply or a push, so the two never
	// overlap for the same collection.
	op sync.Mutex

	mu       sync.Mutex
	state    State
	degraded bool
	lastErr  error
	lastPull time.Time
	lastPush time.Time
	pending  []store.PendingWrite
	seq      uint64
	running  bool // a push worker is alive
	dirty    bool // a push was requested while the worker was busy
}

func newLane(c model.Collection) *lane {
	return &lane{c: c, state: StateIdle}
}

// record appends a pending write, replacing any earlier write of the same
// key: replaying only the last write of a key gives the same result. l.mu
// must be held.
func (l *lane) record(r model.Record, key string) {
	l.seq++
	kept := l.pending[:0]
	for _, w := range l.pending {
		if w.Key != key {
			kept = append(kept, w)
		}
	}
	l.pending = append(kept, store.PendingWrite{Seq: l.seq, Key: key, Record: r})
}

// acknowledge drops pending writes up to and including seq and reports
// whether any was dropped. l.mu must be held.
func (l *lane) acknowledge(seq uint64) bool {
	kept := make([]store.PendingWrite, 0, len(l.pending))
	for _, w := range l.pending {
		if w.Seq > seq {
			kept = append(kept, w)
		}
	}
	dropped := len(kept) != len(l.pending)
	l.pending = kept
	return dropped
}

// restore installs pending writes loaded from a journal. l.mu must be held.
func (l *lane) restore(writes []store.PendingWrite) {
	l.pending = writes
	for _, w := range writes {
		if w.Seq > l.seq {
			l.seq = w.Seq
		}
	}
}

// status snapshots the lane. l.mu must be held.
func (l *lane) status() LaneStatus {
	st := LaneStatus{
		Collection:    l.c,
		State:         l.state,
		Degraded:      l.degraded,
		PendingWrites: len(l.pending),
	}
	if l.lastErr != nil {
		st.LastError = l.lastErr.Error()
	}
	if !l.lastPull.IsZero() {
		t := l.lastPull
		st.LastPull = &t
	}
	if !l.lastPush.IsZero() {
		t := l.lastPush
		st.LastPush = &t
	}
	return st
}
