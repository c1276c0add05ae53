package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/senja-sync/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc, retry RetryConfig) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{Endpoint: srv.URL + "/exec?deployment=abc", Retry: retry})
}

func TestPullAll(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		assert.Equal(t, http.MethodGet, r.Method)
		io.WriteString(w, `{
			"accounts": [{"id": "u2", "username": "guru1"}],
			"roster": [{"nisn": 123456789012345678, "name": "Budi"}],
			"unknown": [1, 2, 3]
		}`)
	}, RetryConfig{})

	snap, err := c.PullAll(context.Background())
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "action=getAll")
	assert.Contains(t, gotQuery, "deployment=abc")
	require.Len(t, snap.Collections, 2)
	assert.Empty(t, snap.Malformed)

	_, ok := snap.Collections[model.Submissions]
	assert.False(t, ok, "absent collections must stay absent")

	roster := snap.Collections[model.Roster]
	require.Len(t, roster, 1)
	assert.Equal(t, "123456789012345678", model.Stringify(roster[0]["nisn"]))
}

func TestPullAll_MalformedCollectionIsolated(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"accounts": {"id": "u2"},
			"roster": [{"nisn": "1"}],
			"submissions": "oops",
			"settings": {"certBg": "data:image/png;base64,AAAA"}
		}`)
	}, RetryConfig{})

	snap, err := c.PullAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, snap.Collections[model.Roster], 1)
	assert.Empty(t, snap.Collections[model.Accounts])
	assert.Empty(t, snap.Collections[model.Submissions])
	require.Len(t, snap.Collections[model.Settings], 1)
	assert.Equal(t, "data:image/png;base64,AAAA", snap.Collections[model.Settings][0]["certBg"])

	bad := map[model.Collection]string{}
	for _, m := range snap.Malformed {
		bad[m.Collection] = m.Got
	}
	assert.Equal(t, map[model.Collection]string{model.Accounts: "object", model.Submissions: "string"}, bad)
}

func TestPullAll_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"server error", http.StatusBadGateway, "upstream down", ErrServerError},
		{"rejected", http.StatusForbidden, "no access", ErrRejected},
		{"html instead of json", http.StatusOK, "<html>login</html>", ErrBadPayload},
		{"array payload", http.StatusOK, "[]", ErrBadPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}, RetryConfig{})

			_, err := c.PullAll(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, "pull", te.Op)
			assert.Equal(t, tt.status, te.StatusCode)
		})
	}
}

func TestPullAll_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	c := NewClient(Config{Endpoint: endpoint})
	_, err := c.PullAll(context.Background())
	assert.ErrorIs(t, err, ErrNetworkFailure)
}

func TestPullAll_NotConfigured(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.PullAll(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, c.PushCollection(context.Background(), model.Roster, nil), ErrNotConfigured)
}

func TestPushCollection(t *testing.T) {
	var got pushReq
	var rawBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		rawBody = string(b)
		assert.NoError(t, json.Unmarshal(b, &got))
		w.WriteHeader(http.StatusNoContent)
	}, RetryConfig{})

	rows := []model.RawRecord{{"nisn": "1", "name": "Budi"}}
	require.NoError(t, c.PushCollection(context.Background(), model.Roster, rows))

	assert.Equal(t, "save", got.Action)
	assert.Equal(t, model.Roster, got.Sheet)
	require.Len(t, got.Data, 1)
	assert.Equal(t, "Budi", got.Data[0]["name"])
	assert.True(t, strings.HasPrefix(rawBody, `{"action":"save","sheet":"Roster","data":[`), rawBody)
}

func TestPushCollection_EmptySendsArray(t *testing.T) {
	var rawBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rawBody = string(b)
	}, RetryConfig{})

	require.NoError(t, c.PushCollection(context.Background(), model.Submissions, nil))
	assert.Contains(t, rawBody, `"data":[]`)
}

func TestPushCollection_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}, RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, Multiplier: 2})

	require.NoError(t, c.PushCollection(context.Background(), model.Roster, nil))
	assert.Equal(t, int32(3), calls.Load())
}

func TestPushCollection_DefaultDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, RetryConfig{})

	err := c.PushCollection(context.Background(), model.Accounts, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "push Accounts", te.Op)
	assert.Equal(t, 1, te.Attempts)
}

func TestPushCollection_RejectedNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}, RetryConfig{MaxAttempts: 5, InitialWait: time.Millisecond})

	err := c.PushCollection(context.Background(), model.Roster, nil)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithRetry(ctx, RetryConfig{MaxAttempts: 3, InitialWait: time.Hour}, func() (int, error) {
		return 0, &TransportError{Op: "pull", Err: ErrNetworkFailure}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.False(t, Config{Endpoint: "  "}.Enabled())
	assert.True(t, Config{Endpoint: "https://script.example.com/exec"}.Enabled())
}
