package conn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/liga-sync/internal/config"
)

var (
	ErrAuthRejected = errors.New("authentication rejected")
	ErrNotConnected = errors.New("channel not connected")
	ErrNoCredential = errors.New("no credential available")
)

// Status is the connectivity state observers see
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
)

// StatusEvent is one lifecycle transition
type StatusEvent struct {
	Status  Status
	Err     error
	Attempt int
	At      time.Time
}

// TokenSource supplies the credential attached to every connection attempt.
// An empty token means no credential is available yet.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Refresher is implemented by token sources that can obtain a fresh credential
// after the server rejected the current one.
type Refresher interface {
	RefreshToken(ctx context.Context) (string, error)
}

// Conn is one established transport connection
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens transport connections. It returns an error wrapping
// ErrAuthRejected when the server refuses the credential.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// Options bounds the automatic reconnect policy
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	InboundQueue int
}

// OptionsFromConfig builds Options from the client configuration
func OptionsFromConfig(cfg config.ClientConfig) Options {
	return Options{
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		InitialDelay: cfg.Reconnect.InitialDelay,
		MaxDelay:     cfg.Reconnect.MaxDelay,
		Multiplier:   cfg.Reconnect.Multiplier,
		InboundQueue: cfg.InboundQueue,
	}
}

// Manager owns the single channel of a session. Transport and authentication
// failures never leave the manager; they are reported through Subscribe.
type Manager struct {
	dialer Dialer
	tokens TokenSource
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	channel     *Channel
	cancel      context.CancelFunc
	done        chan struct{}
	status      Status
	subscribers map[int]func(StatusEvent)
	nextSub     int

	authChanged chan struct{}
}

// NewManager creates a manager. Nothing is dialled until Connect.
func NewManager(dialer Dialer, tokens TokenSource, opts Options, logger *slog.Logger) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InboundQueue <= 0 {
		opts.InboundQueue = 256
	}
	return &Manager{
		dialer:      dialer,
		tokens:      tokens,
		opts:        opts,
		logger:      logger,
		status:      StatusIdle,
		subscribers: make(map[int]func(StatusEvent)),
		authChanged: make(chan struct{}, 1),
	}
}

// Connect returns the session's channel, starting the connection loop on the
// first call. Later calls return the same channel.
func (m *Manager) Connect(ctx context.Context) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel != nil {
		return m.channel
	}

	ch := newChannel(m.opts.InboundQueue)
	runCtx, cancel := context.WithCancel(ctx)
	m.channel = ch
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(runCtx, ch, m.done)
	return ch
}

// Channel returns the current channel or nil if Connect was not called
func (m *Manager) Channel() *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

// Disconnect stops the connection loop and closes the transport
func (m *Manager) Disconnect() {
	m.mu.Lock()
	ch, cancel, done := m.channel, m.cancel, m.done
	m.channel, m.cancel, m.done = nil, nil, nil
	m.mu.Unlock()

	if ch == nil {
		return
	}
	cancel()
	ch.closeConn()
	<-done
	m.emit(StatusEvent{Status: StatusIdle})
}

// AuthStateChanged signals that a credential may have become available.
// A manager that is idle or failed retries immediately.
func (m *Manager) AuthStateChanged() {
	select {
	case m.authChanged <- struct{}{}:
	default:
	}
}

// Subscribe registers an observer of lifecycle transitions and returns a
// function that removes it. Observers run on the connection goroutine.
func (m *Manager) Subscribe(fn func(StatusEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSub++
	id := m.nextSub
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Status returns the last emitted status
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) emit(ev StatusEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	m.mu.Lock()
	m.status = ev.Status
	subs := make([]func(StatusEvent), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (m *Manager) run(ctx context.Context, ch *Channel, done chan struct{}) {
	defer close(done)
	defer close(ch.inbound)

	reauth := false
	for {
		token, err := m.token(ctx, reauth)
		if ctx.Err() != nil {
			return
		}
		if err == nil && token == "" {
			err = ErrNoCredential
		}
		if err != nil {
			if reauth {
				m.logger.Warn("re-authentication failed", "error", err)
				m.emit(StatusEvent{Status: StatusFailed, Err: fmt.Errorf("%w: %v", ErrAuthRejected, err)})
			} else {
				m.logger.Info("waiting for credential", "error", err)
				m.emit(StatusEvent{Status: StatusIdle, Err: err})
			}
			reauth = false
			if !m.waitAuth(ctx) {
				return
			}
			continue
		}

		conn, err := m.dial(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrAuthRejected) && !reauth {
				m.logger.Info("credential rejected, refreshing once")
				reauth = true
				continue
			}
			m.logger.Warn("connection failed", "error", err)
			m.emit(StatusEvent{Status: StatusFailed, Err: err})
			reauth = false
			if !m.waitAuth(ctx) {
				return
			}
			continue
		}
		reauth = false

		ch.attach(conn)
		m.logger.Info("channel connected")
		m.emit(StatusEvent{Status: StatusConnected})

		err = m.read(ctx, conn, ch)
		ch.detach(conn)
		m.drainAuth()
		if ctx.Err() != nil {
			return
		}

		m.logger.Warn("channel disconnected", "error", err)
		m.emit(StatusEvent{Status: StatusDisconnected, Err: err})
		if errors.Is(err, ErrAuthRejected) {
			reauth = true
		}
	}
}

func (m *Manager) token(ctx context.Context, refresh bool) (string, error) {
	if refresh {
		if r, ok := m.tokens.(Refresher); ok {
			return r.RefreshToken(ctx)
		}
	}
	return m.tokens.Token(ctx)
}

// dial retries transport failures with exponential backoff up to MaxAttempts.
// Authentication rejections are not retried here.
func (m *Manager) dial(ctx context.Context, token string) (Conn, error) {
	b := backoff.NewExponentialBackOff()
	if m.opts.InitialDelay > 0 {
		b.InitialInterval = m.opts.InitialDelay
	}
	if m.opts.MaxDelay > 0 {
		b.MaxInterval = m.opts.MaxDelay
	}
	if m.opts.Multiplier >= 1 {
		b.Multiplier = m.opts.Multiplier
	}

	attempt := 0
	operation := func() (Conn, error) {
		attempt++
		m.emit(StatusEvent{Status: StatusConnecting, Attempt: attempt})
		conn, err := m.dialer.Dial(ctx, token)
		if errors.Is(err, ErrAuthRejected) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(m.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("dial failed, retrying", "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
}

// read pumps frames into the inbound queue until the connection fails. The
// server may batch several frames into one message separated by newlines.
func (m *Manager) read(ctx context.Context, conn Conn, ch *Channel) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		for _, frame := range bytes.Split(data, []byte{'\n'}) {
			frame = bytes.TrimSpace(frame)
			if len(frame) == 0 {
				continue
			}
			select {
			case ch.inbound <- frame:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (m *Manager) waitAuth(ctx context.Context) bool {
	select {
	case <-m.authChanged:
		return true
	case <-ctx.Done():
		return false
	}
}

// drainAuth drops signals that arrived while a connection was up. Only a
// signal sent after a failure starts a new cycle.
func (m *Manager) drainAuth() {
	select {
	case <-m.authChanged:
	default:
	}
}
