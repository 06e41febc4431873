package webhook

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Sink accepts verified deliveries.
type Sink interface {
	Accept(ctx context.Context, r Received) error
}

// Config holds receiver configuration.
type Config struct {
	Listen    string           `yaml:"listen"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig defines a single receiving path.
type EndpointConfig struct {
	// Path is the URL path deliveries are posted to, e.g. "/audit".
	Path string `yaml:"path"`

	// Token, when set, must be presented as "Authorization: Bearer <token>".
	Token string `yaml:"token,omitempty"`

	// Secret, when set, keys the HMAC in X-Audit-Signature.
	Secret string `yaml:"secret,omitempty"`

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64 `yaml:"max_body_size,omitempty"`
}

// Received is one verified delivery.
type Received struct {
	Path       string          `json:"path"`
	EventID    string          `json:"event_id,omitempty"`
	Action     string          `json:"action,omitempty"`
	Signed     bool            `json:"signed"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// ReceiveResponse is the JSON response for accepted deliveries.
type ReceiveResponse struct {
	EventID string `json:"event_id,omitempty"`
}

// ErrorResponse is the JSON response for rejected deliveries.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DefaultMaxBodySize is the body cap when an endpoint sets none.
const DefaultMaxBodySize = 1048576 // 1 MB

// JSONLinesSink writes each delivery as one JSON line.
type JSONLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesSink returns a sink writing to w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: json.NewEncoder(w)}
}

// Accept implements Sink.
func (s *JSONLinesSink) Accept(_ context.Context, r Received) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(r)
}
