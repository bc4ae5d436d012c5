package dispatch

import (
	"errors"
	"log/slog"

	"github.com/liga-sync/internal/domain"
	"github.com/liga-sync/internal/invalidation"
)

// HandlerFunc maps an event to the cache keys it makes stale. Handlers never
// compute derived values.
type HandlerFunc func(ev domain.MatchEvent) []domain.Key

// Observer receives events after invalidation for side consumers
type Observer func(ev domain.MatchEvent)

// RoomChecker reports whether a room is currently referenced
type RoomChecker interface {
	Active(room domain.RoomKey) bool
}

// Invalidator applies one invalidation request
type Invalidator interface {
	Invalidate(keys ...domain.Key)
}

// Stats counts dispatcher outcomes
type Stats struct {
	Dispatched   int64 `json:"dispatched"`
	Malformed    int64 `json:"malformed"`
	Unsubscribed int64 `json:"unsubscribed"`
	Unhandled    int64 `json:"unhandled"`
	Replies      int64 `json:"replies"`
}

// Dispatcher routes inbound frames to per-type handlers in delivery order.
// It is driven by a single goroutine.
type Dispatcher struct {
	rooms       RoomChecker
	invalidator Invalidator
	logger      *slog.Logger

	handlers  map[domain.EventType]HandlerFunc
	observers map[domain.EventType][]Observer
	stats     Stats
}

// New creates a dispatcher with no handlers
func New(rooms RoomChecker, invalidator Invalidator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		rooms:       rooms,
		invalidator: invalidator,
		logger:      logger,
		handlers:    make(map[domain.EventType]HandlerFunc),
		observers:   make(map[domain.EventType][]Observer),
	}
}

// NewWithTable creates a dispatcher with one handler per entry of table
func NewWithTable(table invalidation.Table, rooms RoomChecker, invalidator Invalidator, logger *slog.Logger) *Dispatcher {
	d := New(rooms, invalidator, logger)
	for typ, fn := range table {
		d.Register(typ, HandlerFunc(fn))
	}
	return d
}

// Register sets the handler for an event type, replacing any previous one
func (d *Dispatcher) Register(typ domain.EventType, h HandlerFunc) {
	d.handlers[typ] = h
}

// Observe adds an observer for an event type
func (d *Dispatcher) Observe(typ domain.EventType, o Observer) {
	d.observers[typ] = append(d.observers[typ], o)
}

// Dispatch decodes one inbound frame and handles it. Malformed frames are
// logged and dropped; they never stop the loop.
func (d *Dispatcher) Dispatch(frame []byte) {
	ev, err := domain.DecodeEnvelope(frame)
	switch {
	case errors.Is(err, domain.ErrControlReply):
		d.stats.Replies++
		return
	case err != nil:
		d.stats.Malformed++
		d.logger.Warn("dropping malformed event", "error", err, "size", len(frame))
		return
	}
	d.DispatchEvent(ev)
}

// DispatchEvent handles an already decoded event
func (d *Dispatcher) DispatchEvent(ev domain.MatchEvent) {
	if !d.relevant(ev.EventScope()) {
		d.stats.Unsubscribed++
		d.logger.Debug("dropping event for unsubscribed rooms", "type", ev.Type(), "id_partido", ev.EventScope().MatchID)
		return
	}

	h, ok := d.handlers[ev.Type()]
	if !ok {
		d.stats.Unhandled++
		d.logger.Debug("no handler for event", "type", ev.Type())
		return
	}

	if keys := invalidation.Normalize(h(ev)); len(keys) > 0 {
		d.invalidator.Invalidate(keys...)
	}
	d.stats.Dispatched++

	for _, o := range d.observers[ev.Type()] {
		o(ev)
	}
}

// Stats returns a copy of the counters
func (d *Dispatcher) Stats() Stats {
	return d.stats
}

func (d *Dispatcher) relevant(scope domain.Scope) bool {
	for _, room := range scope.Rooms() {
		if d.rooms.Active(room) {
			return true
		}
	}
	return false
}
