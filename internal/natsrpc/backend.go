package natsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/playbookd/internal/bridge"
	"github.com/fyrsmithlabs/playbookd/internal/logging"
)

const (
	// DefaultSubjectPrefix roots all invocation subjects.
	DefaultSubjectPrefix = "playbookd.roles"

	// DefaultDrainTimeout bounds the wait for the next response message.
	DefaultDrainTimeout = 120 * time.Second
)

// ErrDrainTimeout means the responder stopped sending before the terminal
// message arrived.
var ErrDrainTimeout = errors.New("timed out waiting for response message")

// Config holds the NATS transport settings.
type Config struct {
	// URL is the NATS server URL. Empty disables the remote path.
	URL string `koanf:"url"`

	// SubjectPrefix roots invocation subjects (default "playbookd.roles").
	SubjectPrefix string `koanf:"subject_prefix"`

	// DrainTimeout bounds the wait for each response message.
	DrainTimeout time.Duration `koanf:"drain_timeout"`

	// Required makes a missing or unreachable backend fatal instead of
	// falling back to local roles.
	Required bool `koanf:"required"`
}

// NewDefaultConfig returns the transport defaults.
func NewDefaultConfig() Config {
	return Config{
		SubjectPrefix: DefaultSubjectPrefix,
		DrainTimeout:  DefaultDrainTimeout,
	}
}

func (c *Config) normalize() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
}

// Backend invokes roles over NATS. It implements bridge.Backend and
// io.Closer; Close drains the connection only when the backend owns it.
type Backend struct {
	nc       *nats.Conn
	ownsConn bool
	cfg      Config
	logger   *logging.Logger
}

// New connects to the configured NATS server and returns a backend that
// owns the connection.
func New(cfg Config, logger *logging.Logger) (*Backend, error) {
	cfg.normalize()
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: no NATS URL configured", bridge.ErrRuntimeUnavailable)
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("playbookd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		if cfg.Required {
			return nil, fmt.Errorf("%w: connect %s: %v", bridge.ErrRuntimeUnavailable, cfg.URL, err)
		}
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}

	b := NewWithConn(nc, cfg, logger)
	b.ownsConn = true
	return b, nil
}

// NewWithConn wraps an existing connection. The caller keeps ownership of
// the connection's lifecycle.
func NewWithConn(nc *nats.Conn, cfg Config, logger *logging.Logger) *Backend {
	cfg.normalize()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Backend{
		nc:     nc,
		cfg:    cfg,
		logger: logger.Named("natsrpc"),
	}
}

// wireRequest is the published request envelope. ReplyTo duplicates the
// NATS reply subject so responders behind a queue group can still answer.
type wireRequest struct {
	bridge.Request
	ReplyTo string `json:"reply_to"`
}

// Invoke publishes the request and returns the response stream. The stream
// is live immediately; the subscription is established before publishing so
// no response message can be lost.
func (b *Backend) Invoke(ctx context.Context, req bridge.Request) (bridge.MessageStream, error) {
	inbox := b.nc.NewRespInbox()
	ch := make(chan *nats.Msg, 16)
	sub, err := b.nc.ChanSubscribe(inbox, ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe reply inbox: %w", err)
	}

	data, err := json.Marshal(wireRequest{Request: req, ReplyTo: inbox})
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	subject := fmt.Sprintf("%s.invoke.%s", b.cfg.SubjectPrefix, req.Role)
	if err := b.nc.PublishRequest(subject, inbox, data); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush: %w", err)
	}

	b.logger.Debug(ctx, "published role invocation",
		zap.String("subject", subject),
		zap.String("request_id", req.RequestID),
	)

	return &messageStream{
		sub:     sub,
		ch:      ch,
		timeout: b.cfg.DrainTimeout,
	}, nil
}

// Close drains the connection when the backend owns it.
func (b *Backend) Close() error {
	if !b.ownsConn || b.nc == nil {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

// messageStream adapts an inbox subscription to the ordered message stream
// contract. After the terminal result message, Next reports io.EOF.
type messageStream struct {
	sub     *nats.Subscription
	ch      chan *nats.Msg
	timeout time.Duration
	done    bool
}

func (s *messageStream) Next(ctx context.Context) (bridge.Message, error) {
	if s.done {
		return bridge.Message{}, io.EOF
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return bridge.Message{}, ctx.Err()
	case <-timer.C:
		return bridge.Message{}, ErrDrainTimeout
	case raw, ok := <-s.ch:
		if !ok {
			return bridge.Message{}, io.EOF
		}
		var msg bridge.Message
		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			return bridge.Message{}, fmt.Errorf("decode response message: %w", err)
		}
		if msg.Type == bridge.MessageResult {
			s.done = true
		}
		return msg, nil
	}
}

func (s *messageStream) Close() error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) {
		return fmt.Errorf("unsubscribe reply inbox: %w", err)
	}
	return nil
}
