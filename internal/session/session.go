package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"telegram-bot-client/internal/methods"
)

// DefaultTimeout bounds a single request unless the request asks for longer
const DefaultTimeout = 60 * time.Second

// Session is a transport able to execute Bot API requests
type Session interface {
	// MakeRequest executes a request and returns the raw result on success
	MakeRequest(ctx context.Context, token string, req *methods.Request) (json.RawMessage, error)

	// StreamContent copies the body found at url into w
	StreamContent(ctx context.Context, url string, w io.Writer) (int64, error)

	// API returns the server the session talks to
	API() APIServer

	// Close releases the transport. Only the first call does any work.
	Close(ctx context.Context) error

	// Teardown triggers Close without waiting for it
	Teardown() <-chan error

	// Done is closed once the transport has been released
	Done() <-chan struct{}
}

// settings collects the options shared by every session variant
type settings struct {
	api     APIServer
	timeout time.Duration
	logger  *slog.Logger
	client  *http.Client
}

// Option configures a session
type Option func(*settings)

// WithAPIServer points the session at another Bot API server
func WithAPIServer(api APIServer) Option {
	return func(s *settings) {
		s.api = api
	}
}

// WithTimeout sets the default per-request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		s.timeout = timeout
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client used by HTTP sessions
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) {
		s.client = client
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		api:     ProductionServer,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	return s
}

// Base carries the behaviour shared by every session variant: value
// preparation, response checking and the close lifecycle. Variants embed it
// and supply their release function.
type Base struct {
	api     APIServer
	timeout time.Duration
	logger  *slog.Logger
	life    *lifecycle
}

// NewBase creates the shared part of a session around a release function
func NewBase(release ReleaseFunc, opts ...Option) *Base {
	s := newSettings(opts)
	return newBase(release, s)
}

func newBase(release ReleaseFunc, s settings) *Base {
	return &Base{
		api:     s.api,
		timeout: s.timeout,
		logger:  s.logger,
		life:    newLifecycle(release),
	}
}

// API returns the server the session talks to
func (b *Base) API() APIServer {
	return b.api
}

// Timeout returns the default per-request timeout
func (b *Base) Timeout() time.Duration {
	return b.timeout
}

// Logger returns the session logger
func (b *Base) Logger() *slog.Logger {
	return b.logger
}

// PrepareValue converts a request value into its wire string
func (b *Base) PrepareValue(value any) (string, error) {
	return PrepareValue(value)
}

// CleanJSON removes null entries from a payload
func (b *Base) CleanJSON(value any) any {
	return CleanJSON(value)
}

// CheckResponse decodes a response envelope
func (b *Base) CheckResponse(method string, statusCode int, body []byte) (json.RawMessage, error) {
	return CheckResponse(method, statusCode, body)
}

// Close releases the transport. Concurrent and repeated calls wait for and
// return the result of the first release.
func (b *Base) Close(ctx context.Context) error {
	return b.life.close(ctx)
}

// Teardown schedules Close on a separate goroutine and returns its result
// channel. It never blocks the caller.
func (b *Base) Teardown() <-chan error {
	return b.life.teardown()
}

// Done is closed once the transport has been released
func (b *Base) Done() <-chan struct{} {
	return b.life.done
}

// Closed reports whether the transport has been released
func (b *Base) Closed() bool {
	return b.life.closed()
}

// Use runs fn with the session and closes the session on every exit path,
// including a panic in fn.
func Use(ctx context.Context, s Session, fn func(Session) error) (err error) {
	defer func() {
		closeErr := s.Close(context.WithoutCancel(ctx))
		if closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close session: %w", closeErr))
		}
	}()
	return fn(s)
}
