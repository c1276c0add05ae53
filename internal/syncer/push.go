package syncer

import (
	"context"
	"fmt"

	"github.com/rcliao/senja-sync/internal/chunker"
	"github.com/rcliao/senja-sync/internal/model"
	"github.com/rcliao/senja-sync/internal/remote"
)

// schedulePush starts the push worker of l, or marks the lane dirty when
// the worker is already running so that it pushes once more with the
// newest snapshot.
func (o *Orchestrator) schedulePush(l *lane) {
	if o.transport == nil {
		return
	}
	l.mu.Lock()
	if l.running {
		l.dirty = true
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	o.workersMu.Lock()
	o.workers++
	o.workersMu.Unlock()

	go o.pushWorker(l)
}

func (o *Orchestrator) pushWorker(l *lane) {
	defer func() {
		o.workersMu.Lock()
		o.workers--
		o.idle.Broadcast()
		o.workersMu.Unlock()
	}()

	for {
		// Background pushes run to completion; failures are recorded on
		// the lane and reported through Events.
		_ = o.pushOnce(context.Background(), l)

		l.mu.Lock()
		if !l.dirty {
			l.running = false
			l.mu.Unlock()
			return
		}
		l.dirty = false
		l.mu.Unlock()
	}
}

// Flush blocks until no background push is running.
func (o *Orchestrator) Flush() {
	o.workersMu.Lock()
	defer o.workersMu.Unlock()
	for o.workers > 0 {
		o.idle.Wait()
	}
}

// Push sends the current content of collection c to the remote and waits
// for the result.
func (o *Orchestrator) Push(ctx context.Context, c model.Collection) error {
	l, err := o.lane(c)
	if err != nil {
		return err
	}
	if o.transport == nil {
		return remote.ErrNotConfigured
	}
	return o.pushOnce(ctx, l)
}

func (o *Orchestrator) pushOnce(ctx context.Context, l *lane) error {
	l.op.Lock()
	defer l.op.Unlock()

	// Snapshot the collection together with the newest write it contains.
	l.mu.Lock()
	records, err := o.store.GetAll(ctx, l.c)
	mark := l.seq
	l.mu.Unlock()
	if err != nil {
		return o.pushFailed(l, fmt.Errorf("read %s: %w", l.c, err))
	}

	o.update(l, func(l *lane) { l.state = StatePushing })

	rows := make([]model.RawRecord, 0, len(records))
	for _, r := range records {
		rows = append(rows, chunker.EncodeRecord(r.Flatten(), o.chunks))
	}
	if err := o.transport.PushCollection(ctx, l.c, rows); err != nil {
		return o.pushFailed(l, err)
	}

	o.update(l, func(l *lane) {
		if l.acknowledge(mark) {
			o.savePending(ctx, l)
		}
		l.lastPush = o.now()
		l.lastErr = nil
		l.state = StateIdle
	})
	o.logger.Debug("pushed collection", "collection", l.c, "records", len(rows))
	return nil
}

func (o *Orchestrator) pushFailed(l *lane, err error) error {
	st := o.update(l, func(l *lane) {
		l.lastErr = err
		l.state = StateFailed
	})
	o.logger.Error("push failed, keeping local changes",
		"collection", l.c, "pending", st.PendingWrites, "err", err)
	if o.events.OnPushError != nil {
		o.events.OnPushError(l.c, err)
	}
	return err
}
