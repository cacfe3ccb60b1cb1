// Package transport ships log records to a remote tinylog server.
//
// HTTPTransport implements storage.Port, so a producer process can run its own
// queue and worker and forward records over HTTP instead of storing them:
//
//	t, _ := transport.NewHTTP("http://logs.internal:8080/v1/logs", "")
//	cfg := worker.DefaultConfig()
//	cfg.RetentionHours = 0 // retention is the server's job
//	w, _ := worker.New(q, t, cfg)
package transport

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/nicktill/tinylog/pkg/record"
)

// DefaultTimeout bounds one request when the caller's context has no deadline.
const DefaultTimeout = 10 * time.Second

var (
	// ErrPurgeUnsupported is returned by Purge; retention is enforced by the server.
	ErrPurgeUnsupported = errors.New("transport: purge is handled by the remote server")

	// ErrRejected is returned when the server accepts the request but rejects records.
	ErrRejected = errors.New("transport: records rejected")
)

// Transport sends record entries somewhere
type Transport interface {
	Send(ctx context.Context, entries []record.Entry) error
}

// HTTPTransport posts records to a tinylog ingest endpoint
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client

	// seq numbers delivered records; the remote store assigns its own ids
	seq atomic.Int64
}

// NewHTTP creates a new HTTP transport
func NewHTTP(endpoint, apiKey string) (*HTTPTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
	}

	return &HTTPTransport{
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
	}, nil
}

// ingestReply mirrors the fields of the ingest response the transport checks
type ingestReply struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors"`
}

// Send posts entries as one JSON array
func (t *HTTPTransport) Send(ctx context.Context, entries []record.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	jsonData, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(body) == 0 {
		return nil
	}
	var reply ingestReply
	if json.Unmarshal(body, &reply) != nil {
		return nil
	}
	if reply.Rejected > 0 {
		if len(reply.Errors) > 0 {
			return fmt.Errorf("%w: %d of %d: %s", ErrRejected, reply.Rejected, len(entries), reply.Errors[0])
		}
		return fmt.Errorf("%w: %d of %d", ErrRejected, reply.Rejected, len(entries))
	}
	return nil
}

// Persist forwards one record. On success the record gets a local delivery
// sequence number as its identifier.
func (t *HTTPTransport) Persist(ctx context.Context, rec *record.Record, _ sql.IsolationLevel) error {
	if err := t.Send(ctx, []record.Entry{rec.Entry()}); err != nil {
		return err
	}
	return rec.AssignID(t.seq.Add(1))
}

// Purge always fails; run the forwarding worker with retention disabled.
func (t *HTTPTransport) Purge(context.Context, time.Time) (int64, error) {
	return 0, ErrPurgeUnsupported
}

// Delivered returns how many records Persist has forwarded
func (t *HTTPTransport) Delivered() int64 {
	return t.seq.Load()
}
