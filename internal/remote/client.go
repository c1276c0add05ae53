// Package remote talks to the spreadsheet-backed web endpoint that holds
// the shared copy of every collection.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rcliao/senja-sync/internal/model"
)

// Transport moves whole collections between the cache and the remote.
type Transport interface {
	// PullAll fetches every collection the remote holds.
	PullAll(ctx context.Context) (*Snapshot, error)

	// PushCollection overwrites collection c on the remote with rows.
	PushCollection(ctx context.Context, c model.Collection, rows []model.RawRecord) error
}

// Snapshot is the decoded result of a pull. Collections missing from the
// payload are missing from Collections; a malformed collection is present
// with no rows and reported in Malformed.
type Snapshot struct {
	Collections map[model.Collection][]model.RawRecord
	Malformed   []*MalformedDataError
}

// Config holds the remote endpoint settings.
type Config struct {
	Endpoint  string
	Timeout   time.Duration
	Retry     RetryConfig
	UserAgent string
}

// Enabled reports whether an endpoint is set. Without one the cache works
// on its own.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// Client implements Transport over HTTP.
type Client struct {
	cfg    Config
	hc     *http.Client
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a client with optional timeout override.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	to := cfg.Timeout
	if to == 0 {
		to = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "senja-sync"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	c := &Client{
		cfg:    cfg,
		hc:     &http.Client{Timeout: to},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type pushReq struct {
	Action string            `json:"action"`
	Sheet  model.Collection  `json:"sheet"`
	Data   []model.RawRecord `json:"data"`
}

// PushCollection uploads the full content of collection col. The response
// body is ignored; any 2xx status is success.
func (c *Client) PushCollection(ctx context.Context, col model.Collection, rows []model.RawRecord) error {
	if !c.cfg.Enabled() {
		return ErrNotConfigured
	}
	if rows == nil {
		rows = []model.RawRecord{}
	}
	body, err := json.Marshal(pushReq{Action: "save", Sheet: col, Data: rows})
	if err != nil {
		return fmt.Errorf("encode %s: %w", col, err)
	}

	op := "push " + string(col)
	_, err = WithRetry(ctx, c.cfg.Retry, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.do(op, req)
		if err != nil {
			return struct{}{}, err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return struct{}{}, nil
	})
	return err
}

// PullAll fetches every collection with a single GET.
func (c *Client) PullAll(ctx context.Context) (*Snapshot, error) {
	if !c.cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("action", "getAll")
	u.RawQuery = q.Encode()

	return WithRetry(ctx, c.cfg.Retry, func() (*Snapshot, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.do("pull", req)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		snap, err := DecodeSnapshot(resp.Body, c.logger)
		if err != nil {
			return nil, &TransportError{
				Op:         "pull",
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%w: %v", ErrBadPayload, err),
			}
		}
		return snap, nil
	})
}

// do sends req and maps transport failures and non-2xx statuses to
// *TransportError. On success the caller owns the response body.
func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("%w: %v", ErrNetworkFailure, err)}
	}
	c.logger.Debug("remote request", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	sentinel := ErrRejected
	if resp.StatusCode >= 500 {
		sentinel = ErrServerError
	}
	return nil, &TransportError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Detail:     strings.TrimSpace(string(detail)),
		Err:        sentinel,
	}
}

// DecodeSnapshot parses a pull payload: an object keyed by lower-cased
// collection name. Numbers are kept as json.Number so long identifiers keep
// every digit. Unknown keys are ignored.
func DecodeSnapshot(r io.Reader, logger *slog.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("payload is null")
	}

	snap := &Snapshot{Collections: map[model.Collection][]model.RawRecord{}}
	for name, v := range payload {
		col, err := model.ParseCollection(name)
		if err != nil {
			logger.Debug("pull: ignoring unknown key", "key", name)
			continue
		}
		rows, bad := decodeRows(col, v)
		if bad != nil {
			snap.Malformed = append(snap.Malformed, bad)
			logger.Warn("pull: malformed collection, treating as empty", "collection", col, "err", bad)
		}
		snap.Collections[col] = rows
	}
	return snap, nil
}

func decodeRows(col model.Collection, v any) ([]model.RawRecord, *MalformedDataError) {
	switch t := v.(type) {
	case nil:
		return []model.RawRecord{}, nil
	case []any:
		rows := make([]model.RawRecord, 0, len(t))
		for _, it := range t {
			if m, ok := it.(map[string]any); ok {
				rows = append(rows, model.RawRecord(m))
			}
		}
		return rows, nil
	case map[string]any:
		if col.Singleton() {
			return []model.RawRecord{model.RawRecord(t)}, nil
		}
	}
	return []model.RawRecord{}, &MalformedDataError{Collection: col, Got: kind(v)}
}

func kind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}
