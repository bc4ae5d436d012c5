package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/liga-sync/internal/domain"
	"github.com/liga-sync/internal/invalidation"
)

// ErrSubmitFailed is stored on an entry when its fetch could not be scheduled
var ErrSubmitFailed = errors.New("refetch could not be scheduled")

// Fetcher pulls the current derived view from the business layer
type Fetcher func(ctx context.Context) (any, error)

// SubmitFunc runs a task off the loop goroutine
type SubmitFunc func(task func()) error

// Snapshot is what a view sees of its cache entry
type Snapshot struct {
	Key       domain.Key
	Data      any
	Err       error
	Stale     bool
	Fetching  bool
	UpdatedAt time.Time
}

// ViewID identifies a mounted view
type ViewID uint64

type view struct {
	id       ViewID
	key      domain.Key
	fetch    Fetcher
	active   bool
	onUpdate func(Snapshot)
}

type flight struct {
	id     uint64
	gen    uint64
	cancel context.CancelFunc
}

// result is a completed fetch waiting to be applied on the loop goroutine
type result struct {
	key    string
	flight uint64
	data   any
	err    error
}

// Stats counts engine activity
type Stats struct {
	Fetches   int64 `json:"fetches"`
	Coalesced int64 `json:"coalesced"`
	Discarded int64 `json:"discarded"`
	Failures  int64 `json:"failures"`
}

// Engine refetches stale entries that have an active view. Inactive views keep
// the stale flag until they become active again. All methods except the fetch
// tasks themselves run on the owning loop goroutine.
type Engine struct {
	store  *invalidation.Store
	submit SubmitFunc
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	views    map[ViewID]*view
	byKey    map[string]map[ViewID]*view
	flights  map[string]*flight
	pending  map[string]struct{}
	nextView ViewID
	nextID   uint64
	stats    Stats

	// Fetch tasks append here and never block, so a saturated pool cannot
	// wedge the loop.
	mu    sync.Mutex
	done  []result
	ready chan struct{}
}

// NewEngine creates an engine over store. When Ready fires the owner must
// call Drain to apply completed fetches.
func NewEngine(store *invalidation.Store, submit SubmitFunc, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:   store,
		submit:  submit,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
		views:   make(map[ViewID]*view),
		byKey:   make(map[string]map[ViewID]*view),
		flights: make(map[string]*flight),
		pending: make(map[string]struct{}),
		ready:   make(chan struct{}, 1),
	}
}

// Ready fires when completed fetches are waiting for Drain
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Drain applies every completed fetch
func (e *Engine) Drain() {
	e.mu.Lock()
	done := e.done
	e.done = nil
	e.mu.Unlock()

	for _, r := range done {
		e.complete(r)
	}
}

func (e *Engine) deliver(r result) {
	e.mu.Lock()
	e.done = append(e.done, r)
	e.mu.Unlock()

	select {
	case e.ready <- struct{}{}:
	default:
	}
}

// Mount registers a view on key. An active view whose entry is stale or
// unloaded is scheduled for the next Flush.
func (e *Engine) Mount(key domain.Key, fetch Fetcher, active bool, onUpdate func(Snapshot)) ViewID {
	e.nextView++
	v := &view{id: e.nextView, key: key, fetch: fetch, active: active, onUpdate: onUpdate}
	e.views[v.id] = v

	id := key.String()
	if e.byKey[id] == nil {
		e.byKey[id] = make(map[ViewID]*view)
	}
	e.byKey[id][v.id] = v

	entry := e.store.Ensure(key)
	if entry.Loaded || entry.Err != nil {
		e.notifyView(v, entry)
	}
	if active {
		e.pending[id] = struct{}{}
	}
	return v.id
}

// Unmount removes a view. When it was the last view on its key, any
// outstanding fetch is cancelled and its result will be discarded.
func (e *Engine) Unmount(id ViewID) {
	v, ok := e.views[id]
	if !ok {
		return
	}
	delete(e.views, id)

	key := v.key.String()
	delete(e.byKey[key], id)
	if len(e.byKey[key]) > 0 {
		return
	}
	delete(e.byKey, key)
	delete(e.pending, key)
	if f, ok := e.flights[key]; ok {
		f.cancel()
		delete(e.flights, key)
		e.logger.Debug("cancelled refetch for unmounted view", "key", key)
	}
}

// SetActive toggles whether a view is on screen. Becoming active schedules
// a refetch if the entry went stale while the view was hidden.
func (e *Engine) SetActive(id ViewID, active bool) {
	v, ok := e.views[id]
	if !ok || v.active == active {
		return
	}
	v.active = active
	if active {
		e.pending[v.key.String()] = struct{}{}
	}
}

// OnInvalidated tells views their entries went stale and schedules refetches
// for the ones that are active.
func (e *Engine) OnInvalidated(entries []*invalidation.Entry) {
	for _, entry := range entries {
		key := entry.Key.String()
		views := e.byKey[key]
		if len(views) == 0 {
			continue
		}
		e.pending[key] = struct{}{}
		for _, v := range views {
			e.notifyView(v, entry)
		}
	}
}

// Flush starts one fetch per pending key that has an active view and needs
// data. A key with a fetch already in flight is coalesced into it.
func (e *Engine) Flush() {
	if len(e.pending) == 0 {
		return
	}
	keys := make([]string, 0, len(e.pending))
	for key := range e.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	clear(e.pending)

	for _, key := range keys {
		v := e.activeView(key)
		if v == nil {
			continue
		}
		if _, busy := e.flights[key]; busy {
			e.stats.Coalesced++
			continue
		}
		entry := e.store.Ensure(v.key)
		if entry.Loaded && !entry.Stale {
			continue
		}
		e.start(v, entry)
	}
}

func (e *Engine) start(v *view, entry *invalidation.Entry) {
	key := v.key.String()
	e.nextID++
	ctx, cancel := context.WithCancel(e.ctx)
	f := &flight{id: e.nextID, gen: entry.Gen, cancel: cancel}
	e.flights[key] = f
	e.stats.Fetches++

	fetch := v.fetch
	err := e.submit(func() {
		data, err := fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		e.deliver(result{key: key, flight: f.id, data: data, err: err})
	})
	if err != nil {
		cancel()
		delete(e.flights, key)
		e.stats.Failures++
		e.logger.Warn("failed to schedule refetch", "key", key, "error", err)
		e.store.Resolve(v.key, f.gen, nil, errors.Join(ErrSubmitFailed, err), e.now())
		e.notifyKey(key)
		return
	}

	e.logger.Debug("refetch started", "key", key, "flight", f.id)
	for _, w := range e.byKey[key] {
		e.notifyView(w, entry)
	}
}

// complete applies a fetch result. Results of cancelled or superseded flights
// are dropped.
func (e *Engine) complete(r result) {
	f, ok := e.flights[r.key]
	if !ok || f.id != r.flight {
		e.stats.Discarded++
		return
	}
	delete(e.flights, r.key)
	f.cancel()

	views := e.byKey[r.key]
	if len(views) == 0 {
		e.stats.Discarded++
		return
	}
	var key domain.Key
	for _, v := range views {
		key = v.key
		break
	}

	if r.err != nil {
		e.stats.Failures++
		e.logger.Warn("refetch failed", "key", r.key, "error", r.err)
	}
	entry := e.store.Resolve(key, f.gen, r.data, r.err, e.now())
	e.notifyKey(r.key)

	// An invalidation landed while the fetch was outstanding.
	if r.err == nil && entry.Stale {
		e.pending[r.key] = struct{}{}
	}
}

// Snapshot returns the current state of a view's entry
func (e *Engine) Snapshot(id ViewID) (Snapshot, bool) {
	v, ok := e.views[id]
	if !ok {
		return Snapshot{}, false
	}
	entry := e.store.Ensure(v.key)
	return e.snapshot(entry), true
}

// InFlight reports whether key has an outstanding fetch
func (e *Engine) InFlight(key domain.Key) bool {
	_, ok := e.flights[key.String()]
	return ok
}

// Stats returns a copy of the counters
func (e *Engine) Stats() Stats {
	return e.stats
}

// Close cancels every outstanding fetch
func (e *Engine) Close() {
	e.cancel()
	clear(e.flights)
	clear(e.pending)
}

func (e *Engine) activeView(key string) *view {
	var found *view
	for _, v := range e.byKey[key] {
		if v.active && (found == nil || v.id < found.id) {
			found = v
		}
	}
	return found
}

func (e *Engine) notifyKey(key string) {
	views := e.byKey[key]
	if len(views) == 0 {
		return
	}
	for _, v := range views {
		entry := e.store.Ensure(v.key)
		e.notifyView(v, entry)
	}
}

func (e *Engine) notifyView(v *view, entry *invalidation.Entry) {
	if v.onUpdate != nil {
		v.onUpdate(e.snapshot(entry))
	}
}

func (e *Engine) snapshot(entry *invalidation.Entry) Snapshot {
	_, fetching := e.flights[entry.Key.String()]
	return Snapshot{
		Key:       entry.Key,
		Data:      entry.Data,
		Err:       entry.Err,
		Stale:     entry.Stale || !entry.Loaded,
		Fetching:  fetching,
		UpdatedAt: entry.UpdatedAt,
	}
}
