package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/senja-sync/internal/model"
	"github.com/rcliao/senja-sync/internal/remote"
	"github.com/rcliao/senja-sync/internal/store"
)

// fakeTransport records pushes and serves a canned snapshot.
type fakeTransport struct {
	mu       sync.Mutex
	snapshot *remote.Snapshot
	pullErr  error
	pushErr  error
	pulls    int
	pushes   map[model.Collection][][]model.RawRecord
	inflight map[model.Collection]int
	overlap  bool

	// When set, calls block until the gate is closed. started receives one
	// value per call that reached the gate.
	pullGate chan struct{}
	pushGate chan struct{}
	started  chan model.Collection
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		snapshot: &remote.Snapshot{Collections: map[model.Collection][]model.RawRecord{}},
		pushes:   map[model.Collection][][]model.RawRecord{},
		inflight: map[model.Collection]int{},
		started:  make(chan model.Collection, 64),
	}
}

func (f *fakeTransport) PullAll(ctx context.Context) (*remote.Snapshot, error) {
	f.mu.Lock()
	f.pulls++
	gate := f.pullGate
	f.mu.Unlock()
	if gate != nil {
		f.started <- ""
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return f.snapshot, nil
}

func (f *fakeTransport) PushCollection(ctx context.Context, c model.Collection, rows []model.RawRecord) error {
	f.mu.Lock()
	f.inflight[c]++
	if f.inflight[c] > 1 {
		f.overlap = true
	}
	gate := f.pushGate
	f.mu.Unlock()

	if gate != nil {
		f.started <- c
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight[c]--
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes[c] = append(f.pushes[c], rows)
	return nil
}

func (f *fakeTransport) set(fn func(f *fakeTransport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTransport) pushed(c model.Collection) [][]model.RawRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]model.RawRecord(nil), f.pushes[c]...)
}

func newTestOrchestrator(t *testing.T, tr remote.Transport, opts Options) (*Orchestrator, store.Store) {
	t.Helper()
	ctx := context.Background()
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.NewCache(ctx, store.NewMemoryBackend(), store.WithLogger(discard))
	if opts.Logger == nil {
		opts.Logger = discard
	}
	o := New(s, tr, opts)
	t.Cleanup(func() { o.Close() })
	return o, s
}

func waitStarted(t *testing.T, f *fakeTransport) model.Collection {
	t.Helper()
	select {
	case c := <-f.started:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("transport call never started")
		return ""
	}
}

func TestSave_VisibleBeforePush(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	gate := make(chan struct{})
	tr.pushGate = gate
	o, _ := newTestOrchestrator(t, tr, Options{})

	saved, err := o.Save(ctx, model.Student{NISN: "1001", Name: "Budi"})
	require.NoError(t, err)
	assert.Equal(t, "1001", saved.Key())
	assert.Equal(t, model.LowestGrade, saved.(model.Student).ClassGrade)

	waitStarted(t, tr)
	all, err := o.List(ctx, model.Roster)
	require.NoError(t, err)
	require.Len(t, all, 1)

	st, _ := o.Status(model.Roster)
	assert.Equal(t, StatePushing, st.State)
	assert.Equal(t, 1, st.PendingWrites)

	close(gate)
	o.Flush()

	st, _ = o.Status(model.Roster)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 0, st.PendingWrites)
	assert.NotNil(t, st.LastPush)
	require.Len(t, tr.pushed(model.Roster), 1)
}

func TestSave_GeneratesKey(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, Options{})

	saved, err := o.Save(context.Background(), model.Submission{StudentNISN: "1", Status: "Approved"})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.Key())
	assert.Equal(t, model.StatusApproved, saved.(model.Submission).Status)
}

func TestPush_CoalescedNeverConcurrent(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	gate := make(chan struct{})
	tr.pushGate = gate
	o, _ := newTestOrchestrator(t, tr, Options{})

	_, err := o.Save(ctx, model.Student{NISN: "1"})
	require.NoError(t, err)
	waitStarted(t, tr)

	for _, id := range []string{"2", "3", "4"} {
		_, err := o.Save(ctx, model.Student{NISN: id})
		require.NoError(t, err)
	}
	close(gate)
	o.Flush()

	pushes := tr.pushed(model.Roster)
	require.Len(t, pushes, 2, "writes during a push must collapse into one follow-up push")
	assert.Len(t, pushes[1], 4)
	assert.False(t, tr.overlap)

	st, _ := o.Status(model.Roster)
	assert.Equal(t, 0, st.PendingWrites)
}

func TestPush_FailureKeepsLocalWrite(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	pushErr := &remote.TransportError{Op: "push Roster", StatusCode: 503, Err: remote.ErrServerError}
	tr.pushErr = pushErr

	var mu sync.Mutex
	var failed []model.Collection
	o, _ := newTestOrchestrator(t, tr, Options{Events: Events{
		OnPushError: func(c model.Collection, err error) {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, c)
			assert.ErrorIs(t, err, remote.ErrServerError)
		},
	}})

	_, err := o.Save(ctx, model.Student{NISN: "1", Name: "Budi"})
	require.NoError(t, err)
	o.Flush()

	got, err := o.Get(ctx, model.Roster, "1")
	require.NoError(t, err)
	assert.Equal(t, "Budi", got.(model.Student).Name)

	st, _ := o.Status(model.Roster)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, 1, st.PendingWrites)
	assert.Contains(t, st.LastError, "HTTP 503")

	mu.Lock()
	assert.Equal(t, []model.Collection{model.Roster}, failed)
	mu.Unlock()

	// An explicit push succeeds once the remote recovers.
	tr.set(func(f *fakeTransport) { f.pushErr = nil })
	require.NoError(t, o.Push(ctx, model.Roster))
	st, _ = o.Status(model.Roster)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 0, st.PendingWrites)
}

func TestRefresh_FailureLeavesCache(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	o, s := newTestOrchestrator(t, tr, Options{})

	_, err := s.Upsert(ctx, model.Student{NISN: "1", Name: "Budi", ClassGrade: "2"})
	require.NoError(t, err)
	before, _ := o.List(ctx, model.Roster)

	tr.set(func(f *fakeTransport) {
		f.pullErr = &remote.TransportError{Op: "pull", Err: remote.ErrNetworkFailure}
		f.snapshot.Collections[model.Roster] = []model.RawRecord{}
	})
	report, err := o.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrNetworkFailure)
	assert.Nil(t, report)

	after, _ := o.List(ctx, model.Roster)
	assert.Equal(t, before, after)

	for _, st := range o.Statuses() {
		assert.True(t, st.Degraded, "%s should be degraded", st.Collection)
	}

	tr.set(func(f *fakeTransport) { f.pullErr = nil })
	_, err = o.Refresh(ctx)
	require.NoError(t, err)
	st, _ := o.Status(model.Roster)
	assert.False(t, st.Degraded)
	assert.NotNil(t, st.LastPull)
}

func TestRefresh_ReplacesAndSanitizes(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	o, s := newTestOrchestrator(t, tr, Options{})
	_, err := s.Upsert(ctx, model.Student{NISN: "old"})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, model.ContentItem{ID: "keep", Title: "Kancil"})
	require.NoError(t, err)

	tr.set(func(f *fakeTransport) {
		f.snapshot.Collections[model.Accounts] = []model.RawRecord{}
		f.snapshot.Collections[model.Roster] = []model.RawRecord{
			{"nisn": "2", "name_chunk_1": "Santoso", "name_chunk_0": "Budi "},
			{"nisn": "3", "name_chunk_0": "Siti", "name_chunk_2": "lost"},
		}
		f.snapshot.Collections[model.Settings] = []model.RawRecord{
			{"certBg_chunk_0": "data:image/png;", "certBg_chunk_1": "base64,AAAA"},
		}
		f.snapshot.Malformed = []*remote.MalformedDataError{{Collection: model.Submissions, Got: "string"}}
		f.snapshot.Collections[model.Submissions] = []model.RawRecord{}
	})

	report, err := o.Refresh(ctx)
	require.NoError(t, err)

	accounts, _ := o.List(ctx, model.Accounts)
	require.Len(t, accounts, 1)
	assert.Equal(t, model.DefaultAdmin(), accounts[0])

	roster, _ := o.List(ctx, model.Roster)
	require.Len(t, roster, 2)
	assert.Equal(t, "Budi Santoso", roster[0].(model.Student).Name)
	assert.Equal(t, "Siti", roster[1].(model.Student).Name)

	settings, _ := o.Get(ctx, model.Settings, model.SettingsKey)
	assert.Equal(t, "data:image/png;base64,AAAA", settings.(model.AppSettings).CertBackground)

	items, _ := o.List(ctx, model.ContentItems)
	require.Len(t, items, 1, "collections absent from the pull stay cached")
	assert.Equal(t, []model.Collection{model.ContentItems}, report.Absent)

	require.Len(t, report.Truncated, 1)
	assert.Equal(t, model.Roster, report.Truncated[0].Collection)
	assert.Equal(t, 1, report.Truncated[0].Row)
	require.Len(t, report.Malformed, 1)
	assert.Equal(t, 2, report.Records[model.Roster])
}

func TestRefresh_ReappliesPendingWrites(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.pushErr = errors.New("offline")
	o, _ := newTestOrchestrator(t, tr, Options{})

	_, err := o.Save(ctx, model.Student{NISN: "local", Name: "Andi"})
	require.NoError(t, err)
	o.Flush()

	tr.set(func(f *fakeTransport) {
		f.pushErr = nil
		f.snapshot.Collections[model.Roster] = []model.RawRecord{{"nisn": "remote", "name": "Siti"}}
	})
	report, err := o.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reapplied[model.Roster])

	roster, _ := o.List(ctx, model.Roster)
	keys := []string{}
	for _, r := range roster {
		keys = append(keys, r.Key())
	}
	assert.Equal(t, []string{"remote", "local"}, keys)

	o.Flush()
	pushes := tr.pushed(model.Roster)
	require.NotEmpty(t, pushes)
	assert.Len(t, pushes[len(pushes)-1], 2)
	st, _ := o.Status(model.Roster)
	assert.Equal(t, 0, st.PendingWrites)
}

func TestRefresh_ReappliesPendingDelete(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	o, s := newTestOrchestrator(t, tr, Options{})
	_, err := s.Upsert(ctx, model.Student{NISN: "gone"})
	require.NoError(t, err)

	tr.set(func(f *fakeTransport) { f.pushErr = errors.New("offline") })
	removed, err := o.Delete(ctx, model.Roster, "gone")
	require.NoError(t, err)
	require.True(t, removed)
	o.Flush()

	tr.set(func(f *fakeTransport) {
		f.snapshot.Collections[model.Roster] = []model.RawRecord{{"nisn": "gone"}, {"nisn": "stay"}}
	})
	_, err = o.Refresh(ctx)
	require.NoError(t, err)

	roster, _ := o.List(ctx, model.Roster)
	require.Len(t, roster, 1)
	assert.Equal(t, "stay", roster[0].Key())
}

func TestRefresh_Coalesced(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	gate := make(chan struct{})
	tr.pullGate = gate
	o, _ := newTestOrchestrator(t, tr, Options{})

	var wg sync.WaitGroup
	reports := make([]*PullReport, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0], _ = o.Refresh(ctx)
	}()
	waitStarted(t, tr)

	st, _ := o.Status(model.Roster)
	assert.Equal(t, StatePulling, st.State)

	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1], _ = o.Refresh(ctx)
	}()
	// Give the second caller time to join the in-flight pull.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	tr.mu.Lock()
	pulls := tr.pulls
	tr.mu.Unlock()
	assert.Equal(t, 1, pulls)
	assert.Same(t, reports[0], reports[1])
}

func TestRefresh_WaitsForPush(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	gate := make(chan struct{})
	tr.pushGate = gate
	o, _ := newTestOrchestrator(t, tr, Options{})

	_, err := o.Save(ctx, model.Student{NISN: "1"})
	require.NoError(t, err)
	waitStarted(t, tr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Refresh(ctx)
	}()

	select {
	case <-done:
		t.Fatal("pull ran while a push of the same collection was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)
	<-done
}

func TestDelete_Protected(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, nil, Options{})

	_, err := o.Delete(ctx, model.Accounts, model.DefaultAdmin().ID)
	assert.ErrorIs(t, err, ErrProtected)

	_, err = o.Delete(ctx, model.Settings, model.SettingsKey)
	assert.ErrorIs(t, err, store.ErrSingleton)

	removed, err := o.Delete(ctx, model.Roster, "missing")
	require.NoError(t, err)
	assert.False(t, removed)

	accounts, _ := o.List(ctx, model.Accounts)
	assert.Len(t, accounts, 1)
}

func TestPush_ChunksLargeFields(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	o, _ := newTestOrchestrator(t, tr, Options{ChunkLimit: 10})

	bg := strings.Repeat("x", 25)
	_, err := o.Save(ctx, model.AppSettings{CertBackground: bg})
	require.NoError(t, err)
	o.Flush()

	pushes := tr.pushed(model.Settings)
	require.Len(t, pushes, 1)
	row := pushes[0][0]
	assert.NotContains(t, row, "certBackground")
	assert.Len(t, row["certBackground_chunk_0"], 10)
	assert.Len(t, row["certBackground_chunk_2"], 5)

	// Feeding the pushed rows back through a pull restores the value.
	tr.set(func(f *fakeTransport) { f.snapshot.Collections[model.Settings] = pushes[0] })
	_, err = o.Refresh(ctx)
	require.NoError(t, err)
	got, _ := o.Get(ctx, model.Settings, "")
	assert.Equal(t, bg, got.(model.AppSettings).CertBackground)
}

func TestStateChangeEvents(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()

	var mu sync.Mutex
	var states []State
	o, _ := newTestOrchestrator(t, tr, Options{Events: Events{
		OnStateChange: func(st LaneStatus) {
			if st.Collection != model.Roster {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			states = append(states, st.State)
		},
	}})

	_, err := o.Save(ctx, model.Student{NISN: "1"})
	require.NoError(t, err)
	o.Flush()
	_, err = o.Refresh(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StatePushing, StateIdle, StatePulling, StateIdle}, states)
}

func TestCacheOnly(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, nil, Options{})

	_, err := o.Save(ctx, model.Student{NISN: "1"})
	require.NoError(t, err)
	o.Flush()

	_, err = o.Refresh(ctx)
	assert.ErrorIs(t, err, remote.ErrNotConfigured)
	assert.ErrorIs(t, o.Push(ctx, model.Roster), remote.ErrNotConfigured)

	st, _ := o.Status(model.Roster)
	assert.Equal(t, 1, st.PendingWrites)
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	o, _ := newTestOrchestrator(t, tr, Options{})

	exp := &store.Export{Collections: map[model.Collection][]model.Record{
		model.Roster: {
			model.Student{NISN: "1", Name: "Budi"},
			model.Student{NISN: "2", Name: "Siti"},
		},
		model.Settings: {model.AppSettings{CertBackground: "a"}, model.AppSettings{CertBackground: "b"}},
	}}
	n, err := o.Import(ctx, exp)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	o.Flush()

	assert.Len(t, tr.pushed(model.Roster), 1, "bulk import pushes once")
	got, _ := o.Get(ctx, model.Settings, "")
	assert.Equal(t, "b", got.(model.AppSettings).CertBackground)
}

func TestPendingWrites_SurviveRestart(t *testing.T) {
	ctx := context.Background()
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := store.NewMemoryBackend()
	open := func(tr remote.Transport) *Orchestrator {
		return New(store.NewCache(ctx, backend, store.WithLogger(discard)), tr, Options{Logger: discard})
	}

	offline := newFakeTransport()
	offline.pushErr = errors.New("offline")
	first := open(offline)
	_, err := first.Save(ctx, model.Student{NISN: "999", Name: "Sari"})
	require.NoError(t, err)
	first.Flush()
	st, _ := first.Status(model.Roster)
	require.Equal(t, 1, st.PendingWrites)

	online := newFakeTransport()
	online.snapshot.Collections[model.Roster] = []model.RawRecord{{"nisn": "1", "name": "Budi"}}
	second := open(online)
	st, _ = second.Status(model.Roster)
	assert.Equal(t, 1, st.PendingWrites, "pending writes are restored from the backend")

	report, err := second.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reapplied[model.Roster])
	got, err := second.Get(ctx, model.Roster, "999")
	require.NoError(t, err)
	assert.Equal(t, "Sari", got.(model.Student).Name)

	second.Flush()
	pushes := online.pushed(model.Roster)
	require.NotEmpty(t, pushes)
	assert.Len(t, pushes[len(pushes)-1], 2)
	st, _ = second.Status(model.Roster)
	assert.Equal(t, 0, st.PendingWrites)

	third := open(nil)
	st, _ = third.Status(model.Roster)
	assert.Equal(t, 0, st.PendingWrites, "acknowledged writes are cleared from the backend")
}

func TestPendingWrites_LatestPerKey(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, nil, Options{})

	for _, name := range []string{"Budi", "Budi S.", "Budi Santoso"} {
		_, err := o.Save(ctx, model.Student{NISN: "1", Name: name})
		require.NoError(t, err)
	}
	_, err := o.Save(ctx, model.Student{NISN: "2"})
	require.NoError(t, err)

	st, _ := o.Status(model.Roster)
	assert.Equal(t, 2, st.PendingWrites)
}

func TestRefresh_EmptySettingsKeepBackground(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	o, s := newTestOrchestrator(t, tr, Options{})
	_, err := s.Upsert(ctx, model.AppSettings{CertBackground: "data:image/png;base64,BBBB"})
	require.NoError(t, err)

	tr.set(func(f *fakeTransport) { f.snapshot.Collections[model.Settings] = []model.RawRecord{{}} })
	_, err = o.Refresh(ctx)
	require.NoError(t, err)
	got, _ := o.Get(ctx, model.Settings, model.SettingsKey)
	assert.Equal(t, "data:image/png;base64,BBBB", got.(model.AppSettings).CertBackground)

	tr.set(func(f *fakeTransport) {
		f.snapshot.Collections[model.Settings] = []model.RawRecord{{"certBackground": "data:new"}}
	})
	_, err = o.Refresh(ctx)
	require.NoError(t, err)
	got, _ = o.Get(ctx, model.Settings, model.SettingsKey)
	assert.Equal(t, "data:new", got.(model.AppSettings).CertBackground)
}

func TestSave_AdminCannotBeRenamed(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, nil, Options{})
	admin := model.DefaultAdmin()

	renamed := admin
	renamed.Username = "kepala"
	_, err := o.Save(ctx, renamed)
	assert.ErrorIs(t, err, ErrProtected)

	got, err := o.Get(ctx, model.Accounts, admin.ID)
	require.NoError(t, err)
	assert.True(t, got.(model.Account).IsAdmin())

	admin.Password = "rahasia"
	_, err = o.Save(ctx, admin)
	require.NoError(t, err)
	got, _ = o.Get(ctx, model.Accounts, admin.ID)
	assert.Equal(t, "rahasia", got.(model.Account).Password)

	st, _ := o.Status(model.Accounts)
	assert.Equal(t, 1, st.PendingWrites, "a rejected write is not recorded")
}
