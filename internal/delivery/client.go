// Package delivery performs the single outbound POST of one audit payload to
// one destination and classifies the outcome.
//
// A delivery is a single best-effort attempt:
//   - 2xx responses are success
//   - any other status, transport error or timeout is a *Failure
//   - nothing is retried here; retry policy belongs to the caller
package delivery

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/auditstream/internal/audit"
)

// Defaults applied when Config leaves a field empty.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "auditstream/1"

	// maxErrorBodyBytes caps how much of a failing response body is kept.
	maxErrorBodyBytes = 1024

	// Headers set on every delivery request.
	HeaderEventID   = "X-Audit-Event-ID"
	HeaderAction    = "X-Audit-Action"
	HeaderDigest    = "X-Audit-Digest"
	HeaderSignature = "X-Audit-Signature"
)

// Failure describes one destination that did not accept a delivery.
type Failure struct {
	DestinationID string
	StatusCode    int
	Body          string
	Err           error
}

func (f *Failure) Error() string {
	switch {
	case f.Err != nil:
		return fmt.Sprintf("destination %s: %v", f.DestinationID, f.Err)
	case f.Body != "":
		return fmt.Sprintf("destination %s: HTTP %d: %s", f.DestinationID, f.StatusCode, f.Body)
	default:
		return fmt.Sprintf("destination %s: HTTP %d", f.DestinationID, f.StatusCode)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

// Timeout reports whether the failure was a request timeout.
func (f *Failure) Timeout() bool {
	return f.Err != nil && errors.Is(f.Err, context.DeadlineExceeded)
}

// Delivery is one payload headed for one destination.
type Delivery struct {
	EventID string
	Action  string
	Payload json.RawMessage
}

// Config holds delivery client settings.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Client posts payloads to destinations.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates a Client. A nil httpClient gets a default one; the
// per-request timeout is applied through the request context either way.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{config: cfg, http: httpClient}
}

// Send posts d to dest. It returns nil on a 2xx response and a *Failure
// otherwise.
func (c *Client) Send(ctx context.Context, dest audit.Destination, d Delivery) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return &Failure{DestinationID: dest.ID, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set(HeaderDigest, Digest(d.Payload))
	if d.EventID != "" {
		req.Header.Set(HeaderEventID, d.EventID)
	}
	if d.Action != "" {
		req.Header.Set(HeaderAction, d.Action)
	}
	if dest.Token != "" {
		req.Header.Set("Authorization", "Bearer "+dest.Token)
	}
	if dest.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(d.Payload, dest.Secret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("request timed out after %v: %w", c.config.Timeout, context.DeadlineExceeded)
		}
		return &Failure{DestinationID: dest.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &Failure{
		DestinationID: dest.ID,
		StatusCode:    resp.StatusCode,
		Body:          strings.TrimSpace(string(body)),
	}
}

// Digest returns the X-Audit-Digest header value for payload.
func Digest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return "blake3=" + hex.EncodeToString(sum[:])
}
