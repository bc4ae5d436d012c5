package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/liga-sync/internal/conn"
	"github.com/liga-sync/internal/dispatch"
	"github.com/liga-sync/internal/domain"
	"github.com/liga-sync/internal/invalidation"
	"github.com/liga-sync/internal/refresh"
	"github.com/liga-sync/internal/rooms"
	"github.com/liga-sync/internal/sanction"
)

var (
	ErrNotStarted  = errors.New("session not started")
	ErrClosed      = errors.New("session closed")
	ErrUnknownView = errors.New("unknown view")
)

// Options configures a session
type Options struct {
	RefreshWorkers int
	FetchTimeout   time.Duration
	StatusBuffer   int
}

// ViewHandle identifies a view mounted through a session
type ViewHandle uint64

type mounted struct {
	view  refresh.ViewID
	rooms []domain.RoomKey
}

// Stats is a point-in-time summary of a session
type Stats struct {
	ID         string         `json:"id"`
	Status     conn.Status    `json:"status"`
	Rooms      []string       `json:"rooms"`
	Views      int            `json:"views"`
	Entries    int            `json:"entries"`
	Dispatcher dispatch.Stats `json:"dispatcher"`
	Refresh    refresh.Stats  `json:"refresh"`
}

// Session is the per-login context that owns the channel, room registry,
// dispatcher, invalidation store and refresh engine. Everything except the
// connection manager and the fetch workers runs on one loop goroutine, so
// none of those components lock.
type Session struct {
	id      string
	manager *conn.Manager
	logger  *slog.Logger
	opts    Options

	pool       *ants.Pool
	store      *invalidation.Store
	registry   *rooms.Registry
	dispatcher *dispatch.Dispatcher
	engine     *refresh.Engine
	tracker    *sanction.Tracker
	channel    *conn.Channel

	requests chan func()
	statuses chan conn.StatusEvent

	// Invalidations from other goroutines queue here without blocking.
	pendingMu   sync.Mutex
	pendingKeys []domain.Key
	invalidated chan struct{}

	views      map[ViewHandle]mounted
	nextHandle ViewHandle

	mu          sync.Mutex
	started     bool
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
}

// New builds a session around manager. recomputer may be nil, in which case
// finished matches do not trigger sanction recomputes.
func New(manager *conn.Manager, recomputer sanction.Recomputer, opts Options, logger *slog.Logger) (*Session, error) {
	if opts.RefreshWorkers <= 0 {
		opts.RefreshWorkers = 8
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.StatusBuffer <= 0 {
		opts.StatusBuffer = 16
	}

	id := uuid.New().String()
	logger = logger.With("session_id", id)

	pool, err := ants.NewPool(opts.RefreshWorkers, ants.WithPanicHandler(func(p any) {
		logger.Error("refresh worker panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("creating refresh pool: %w", err)
	}

	s := &Session{
		id:       id,
		manager:  manager,
		logger:   logger,
		opts:     opts,
		pool:     pool,
		store:    invalidation.NewStore(),
		requests: make(chan func()),
		statuses: make(chan conn.StatusEvent, opts.StatusBuffer),
		views:    make(map[ViewHandle]mounted),

		invalidated: make(chan struct{}, 1),
	}
	s.engine = refresh.NewEngine(s.store, pool.Submit, logger)
	s.registry = rooms.NewRegistry(channelSender{s}, logger)
	s.dispatcher = dispatch.NewWithTable(invalidation.DefaultTable(), s.registry, loopInvalidator{s}, logger)

	if recomputer != nil {
		s.tracker = sanction.NewTracker(recomputer, s, pool.Submit, opts.FetchTimeout, logger)
		s.dispatcher.Observe(domain.EventMatchStateChanged, s.tracker.Observe)
	}
	return s, nil
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Start connects the channel and runs the session loop until ctx ends or
// Close is called.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.unsubscribe = s.manager.Subscribe(func(ev conn.StatusEvent) {
		select {
		case s.statuses <- ev:
		case <-s.ctx.Done():
		}
	})
	s.channel = s.manager.Connect(s.ctx)

	go s.loop()
	s.logger.Info("session started")
}

// Close tears the session down: the loop stops, the channel is closed and
// outstanding fetches are cancelled.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.started || s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel, done, unsubscribe := s.cancel, s.done, s.unsubscribe
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done
	unsubscribe()
	s.manager.Disconnect()
	s.pool.Release()
	s.logger.Info("session closed")
}

// Done is closed when the loop has exited
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Session) loop() {
	defer close(s.done)
	defer s.engine.Close()

	inbound := s.channel.Inbound()
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			s.dispatcher.Dispatch(frame)
		case ev := <-s.statuses:
			s.onStatus(ev)
		case req := <-s.requests:
			req()
		case <-s.invalidated:
			s.applyPending()
		case <-s.engine.Ready():
			s.engine.Drain()
		}
		// Refetches are started once per tick so repeated invalidations of
		// the same key within a tick collapse into one fetch.
		s.engine.Flush()
	}
}

func (s *Session) onStatus(ev conn.StatusEvent) {
	switch ev.Status {
	case conn.StatusConnected:
		s.registry.SetOnline()
		s.logger.Info("rejoined rooms", "rooms", len(s.registry.Rooms()))
	case conn.StatusConnecting:
	default:
		if s.registry.Online() {
			s.registry.SetOffline()
		}
		s.logger.Info("channel status changed", "status", ev.Status, "error", ev.Err)
	}
}

// call runs fn on the loop goroutine and waits for it
func (s *Session) call(fn func()) error {
	s.mu.Lock()
	started, ctx := s.started, s.ctx
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	done := make(chan struct{})
	select {
	case s.requests <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrClosed
	}
}

// Mount registers a view: its rooms are joined and its entry is fetched if
// the view is active. OnUpdate runs on the loop goroutine and must not call
// back into the session synchronously.
func (s *Session) Mount(spec ViewSpec) (ViewHandle, error) {
	if len(spec.Key) == 0 || spec.Fetch == nil {
		return 0, fmt.Errorf("%w: view needs a key and a fetcher", domain.ErrInvalidRequest)
	}

	var handle ViewHandle
	err := s.call(func() {
		s.nextHandle++
		handle = s.nextHandle
		for _, room := range spec.Rooms {
			s.registry.Join(room)
		}
		id := s.engine.Mount(spec.Key, s.withTimeout(spec.Fetch), !spec.Inactive, spec.OnUpdate)
		s.views[handle] = mounted{view: id, rooms: spec.Rooms}
	})
	return handle, err
}

// Unmount removes a view, cancelling its refetch and leaving rooms no other
// view references.
func (s *Session) Unmount(handle ViewHandle) error {
	var found bool
	err := s.call(func() {
		m, ok := s.views[handle]
		if !ok {
			return
		}
		found = true
		delete(s.views, handle)
		s.engine.Unmount(m.view)
		for _, room := range m.rooms {
			s.registry.Leave(room)
		}
	})
	if err == nil && !found {
		return ErrUnknownView
	}
	return err
}

// SetActive marks a view visible or hidden
func (s *Session) SetActive(handle ViewHandle, active bool) error {
	var found bool
	err := s.call(func() {
		m, ok := s.views[handle]
		if !ok {
			return
		}
		found = true
		s.engine.SetActive(m.view, active)
	})
	if err == nil && !found {
		return ErrUnknownView
	}
	return err
}

// Snapshot returns the current state of a view
func (s *Session) Snapshot(handle ViewHandle) (refresh.Snapshot, error) {
	var (
		snap  refresh.Snapshot
		found bool
	)
	err := s.call(func() {
		if m, ok := s.views[handle]; ok {
			snap, found = s.engine.Snapshot(m.view)
		}
	})
	if err == nil && !found {
		return snap, ErrUnknownView
	}
	return snap, err
}

// Invalidate marks keys stale. It is safe from any goroutine and never blocks;
// the keys are applied on the next loop tick.
func (s *Session) Invalidate(keys ...domain.Key) {
	if len(keys) == 0 {
		return
	}
	s.pendingMu.Lock()
	s.pendingKeys = append(s.pendingKeys, keys...)
	s.pendingMu.Unlock()

	select {
	case s.invalidated <- struct{}{}:
	default:
	}
}

func (s *Session) applyPending() {
	s.pendingMu.Lock()
	keys := s.pendingKeys
	s.pendingKeys = nil
	s.pendingMu.Unlock()

	if len(keys) > 0 {
		s.invalidate(invalidation.Normalize(keys)...)
	}
}

// Stats returns counters for the session
func (s *Session) Stats() (Stats, error) {
	var st Stats
	err := s.call(func() {
		st = Stats{
			ID:         s.id,
			Status:     s.manager.Status(),
			Views:      len(s.views),
			Entries:    s.store.Len(),
			Dispatcher: s.dispatcher.Stats(),
			Refresh:    s.engine.Stats(),
		}
		for _, room := range s.registry.Rooms() {
			st.Rooms = append(st.Rooms, room.String())
		}
	})
	return st, err
}

func (s *Session) invalidate(keys ...domain.Key) {
	s.engine.OnInvalidated(s.store.Invalidate(keys...))
}

func (s *Session) withTimeout(fetch refresh.Fetcher) refresh.Fetcher {
	timeout := s.opts.FetchTimeout
	return func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fetch(ctx)
	}
}

// loopInvalidator applies invalidations directly; the dispatcher already runs
// on the loop goroutine.
type loopInvalidator struct{ s *Session }

func (l loopInvalidator) Invalidate(keys ...domain.Key) { l.s.invalidate(keys...) }

type channelSender struct{ s *Session }

func (c channelSender) Send(frame domain.ControlFrame) error {
	if c.s.channel == nil {
		return conn.ErrNotConnected
	}
	return c.s.channel.Send(frame)
}
