package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/launchpointhq/liveboard/internal/model"
)

// Errors surfaced by the connection manager. Retryable failures are handled
// internally by the backoff loop and reach callers only as state transitions;
// these values appear in State.LastError and Diagnostics.
var (
	ErrAuthenticationRequired = errors.New("authentication required: no valid session")
	ErrHandshakeTimeout       = errors.New("handshake timeout: no welcome from service")
	ErrHeartbeatTimeout       = errors.New("heartbeat timeout")
	ErrSubscriptionRejected   = errors.New("subscription rejected by service")
	ErrBadSubscription        = errors.New("bad subscription")
	ErrNotConnected           = errors.New("not connected")
	ErrAlreadyClosed          = errors.New("already closed")
	ErrTimeout                = errors.New("operation timeout")
)

// Status is the connection manager's lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
	StatusReconnecting Status = "reconnecting"
	StatusFallback     Status = "fallback"
)

// State is a snapshot of the manager's connection state. It is owned by the
// manager and handed to observers by value; mutating a copy has no effect.
type State struct {
	Status        Status
	Authenticated bool
	RetryCount    int
	LastError     string
	ConnectedAt   time.Time
	LastActivity  time.Time
}

// RetryPolicy is the reconnect backoff configuration.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Delay returns the backoff before retry n (0-based): min(base * 2^n, max).
func (p RetryPolicy) Delay(retry int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < retry; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// DefaultRetryPolicy returns the canonical reconnect policy: three retries at
// 1s/2s/4s before degrading to fallback polling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
	}
}

// ChangeHandler receives change events for a subscribed topic.
type ChangeHandler func(model.ChangeEvent)

// Subscription is a caller-supplied change-feed registration. The manager
// owns its attach/detach lifecycle, not its semantics.
type Subscription struct {
	Topic   string
	Events  []string // "insert", "update", "delete", or "*"
	Handler ChangeHandler

	rejections int
}

// Command is a frame sent to the realtime service.
type Command struct {
	ID     int64       `json:"id"`
	Action string      `json:"action"` // "subscribe", "unsubscribe", "heartbeat"
	Params interface{} `json:"params,omitempty"`
}

// SubscribeParams are parameters for a subscribe command.
type SubscribeParams struct {
	Topic  string   `json:"topic"`
	Events []string `json:"events"`
}

// UnsubscribeParams are parameters for an unsubscribe command.
type UnsubscribeParams struct {
	Topic string `json:"topic"`
}

// Frame is a message received from the realtime service.
type Frame struct {
	ID    int64           `json:"id,omitempty"`
	Type  string          `json:"type"` // "welcome", "subscribed", "unsubscribed", "ack", "error", "change"
	Topic string          `json:"topic,omitempty"`
	Msg   json.RawMessage `json:"msg,omitempty"`
}

// ErrorMsg is the message content for an "error" frame.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientConfig configures a transport client for one connection attempt.
type ClientConfig struct {
	URL              string        // WebSocket URL of the realtime service
	Token            string        // access token for the connection handshake
	HandshakeTimeout time.Duration // bound on dial + welcome acknowledgment
	WriteTimeout     time.Duration // write deadline for sends
	BufferSize       int           // message channel buffer size
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	URL               string        // WebSocket URL of the realtime service
	Retry             RetryPolicy   // reconnect backoff policy
	HandshakeTimeout  time.Duration // bound on dial + welcome acknowledgment
	HeartbeatInterval time.Duration // liveness probe period while connected
	HeartbeatTimeout  time.Duration // bound on heartbeat acknowledgment
	RefreshBuffer     time.Duration // refresh sessions expiring within this window
	CommandTimeout    time.Duration // bound on subscribe/unsubscribe acknowledgment
	BufferSize        int           // transport message buffer size

	// SubscriptionRetryBudget bounds how many times a single topic's
	// subscribe may be rejected by the service before the manager treats
	// the rejection as terminal. Zero means use the default (3).
	SubscriptionRetryBudget int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Retry:             DefaultRetryPolicy(),
		HandshakeTimeout:  15 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		RefreshBuffer:     5 * time.Minute,
		CommandTimeout:    10 * time.Second,
		BufferSize:        1000,

		SubscriptionRetryBudget: 3,
	}
}

// Transport is one logical connection to the realtime service. Implementations
// must deliver an error on Errors() when the connection is lost.
type Transport interface {
	// Connect dials and waits for the service's welcome acknowledgment.
	Connect(ctx context.Context) error

	// Close releases the connection. Safe to call multiple times.
	Close() error

	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Messages returns the channel of raw inbound frames.
	Messages() <-chan []byte

	// Errors returns the channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// TransportFactory builds a Transport for a connection attempt.
type TransportFactory func(cfg ClientConfig) Transport

// FallbackRunner is started when the manager degrades to fallback polling and
// stopped when push updates resume. internal/poller implements it.
type FallbackRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
