package rooms

import (
	"log/slog"
	"sort"

	"github.com/liga-sync/internal/domain"
)

// Sender delivers control frames to the event source
type Sender interface {
	Send(frame domain.ControlFrame) error
}

// Registry reference-counts room interest and turns 0->1 and 1->0 transitions
// into join and leave frames. It is owned by the session loop and does no locking.
type Registry struct {
	sender Sender
	logger *slog.Logger

	refs   map[domain.RoomKey]int
	joined map[domain.RoomKey]bool
	online bool
}

// NewRegistry creates a registry that starts offline
func NewRegistry(sender Sender, logger *slog.Logger) *Registry {
	return &Registry{
		sender: sender,
		logger: logger,
		refs:   make(map[domain.RoomKey]int),
		joined: make(map[domain.RoomKey]bool),
	}
}

// Join adds one reference to room
func (r *Registry) Join(room domain.RoomKey) {
	r.refs[room]++
	if r.refs[room] == 1 && r.online {
		r.join(room)
	}
}

// Leave drops one reference to room. Leaving a room with no references is a no-op.
func (r *Registry) Leave(room domain.RoomKey) {
	n, ok := r.refs[room]
	if !ok {
		return
	}
	if n > 1 {
		r.refs[room] = n - 1
		return
	}
	delete(r.refs, room)
	if r.joined[room] {
		delete(r.joined, room)
		if r.online {
			r.send(domain.LeaveFrame(room))
		}
	}
}

// Active reports whether any view still references room
func (r *Registry) Active(room domain.RoomKey) bool {
	return r.refs[room] > 0
}

// Refs returns the reference count of room
func (r *Registry) Refs(room domain.RoomKey) int {
	return r.refs[room]
}

// Rooms returns every referenced room in stable order
func (r *Registry) Rooms() []domain.RoomKey {
	out := make([]domain.RoomKey, 0, len(r.refs))
	for room := range r.refs {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetOnline re-issues a join for every referenced room. The server keeps no rooms
// across a disconnect, so this runs on every (re)connect.
func (r *Registry) SetOnline() {
	r.online = true
	for _, room := range r.Rooms() {
		if !r.joined[room] {
			r.join(room)
		}
	}
}

// SetOffline forgets which rooms were joined on the lost connection
func (r *Registry) SetOffline() {
	r.online = false
	clear(r.joined)
}

// Online reports whether the registry believes the channel is connected
func (r *Registry) Online() bool {
	return r.online
}

func (r *Registry) join(room domain.RoomKey) {
	if r.send(domain.JoinFrame(room)) {
		r.joined[room] = true
	}
}

func (r *Registry) send(frame domain.ControlFrame) bool {
	if err := r.sender.Send(frame); err != nil {
		// The next SetOnline retries joins for every referenced room.
		r.logger.Warn("failed to send control frame", "type", frame.Type, "error", err)
		return false
	}
	r.logger.Debug("control frame sent", "type", frame.Type,
		"id_partido", frame.MatchID, "id_zona", frame.ZoneID, "id_categoria_edicion", frame.CategoryEditionID)
	return true
}
