package rooms

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liga-sync/internal/domain"
)

type recordingSender struct {
	frames []domain.ControlFrame
	err    error
}

func (s *recordingSender) Send(frame domain.ControlFrame) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

func newTestRegistry() (*Registry, *recordingSender) {
	sender := &recordingSender{}
	return NewRegistry(sender, slog.New(slog.NewTextHandler(io.Discard, nil))), sender
}

func TestRegistry_RefCountSendsOneJoinAndOneLeave(t *testing.T) {
	t.Parallel()

	reg, sender := newTestRegistry()
	reg.SetOnline()

	room := domain.MatchRoom(7)
	const n = 5
	for i := 0; i < n; i++ {
		reg.Join(room)
	}
	assert.Equal(t, n, reg.Refs(room))
	for i := 0; i < n; i++ {
		reg.Leave(room)
	}

	assert.Equal(t, []domain.ControlFrame{
		domain.JoinFrame(room),
		domain.LeaveFrame(room),
	}, sender.frames)
	assert.False(t, reg.Active(room))
}

func TestRegistry_SameIDDifferentKindsAreSeparateRooms(t *testing.T) {
	t.Parallel()

	reg, sender := newTestRegistry()
	reg.SetOnline()

	reg.Join(domain.MatchRoom(3))
	reg.Join(domain.ZoneRoom(3))
	reg.Leave(domain.MatchRoom(3))

	assert.True(t, reg.Active(domain.ZoneRoom(3)))
	assert.Equal(t, []domain.ControlFrame{
		{Type: domain.ControlJoinMatch, MatchID: 3},
		{Type: domain.ControlJoinStandings, ZoneID: 3},
		{Type: domain.ControlLeaveMatch, MatchID: 3},
	}, sender.frames)
}

func TestRegistry_ReconnectRejoinsOnlyReferencedRooms(t *testing.T) {
	t.Parallel()

	reg, sender := newTestRegistry()
	reg.SetOnline()

	reg.Join(domain.MatchRoom(7))
	reg.Join(domain.CategoryEditionRoom(3))
	reg.Join(domain.MatchRoom(9))
	reg.Leave(domain.MatchRoom(9))

	reg.SetOffline()
	sender.frames = nil
	reg.SetOnline()

	assert.ElementsMatch(t, []domain.ControlFrame{
		domain.JoinFrame(domain.MatchRoom(7)),
		domain.JoinFrame(domain.CategoryEditionRoom(3)),
	}, sender.frames)
}

func TestRegistry_JoinWhileOfflineIsDeferred(t *testing.T) {
	t.Parallel()

	reg, sender := newTestRegistry()
	reg.Join(domain.MatchRoom(1))
	reg.Join(domain.MatchRoom(2))
	reg.Leave(domain.MatchRoom(2))
	assert.Empty(t, sender.frames)

	reg.SetOnline()
	assert.Equal(t, []domain.ControlFrame{domain.JoinFrame(domain.MatchRoom(1))}, sender.frames)
}

func TestRegistry_FailedJoinIsRetriedOnNextOnline(t *testing.T) {
	t.Parallel()

	reg, sender := newTestRegistry()
	sender.err = errors.New("not connected")
	reg.SetOnline()
	reg.Join(domain.MatchRoom(1))
	assert.Empty(t, sender.frames)

	// A leave for a room that never got joined sends nothing.
	reg.Join(domain.MatchRoom(2))
	sender.err = nil
	reg.Leave(domain.MatchRoom(2))
	assert.Empty(t, sender.frames)

	reg.SetOffline()
	reg.SetOnline()
	assert.Equal(t, []domain.ControlFrame{domain.JoinFrame(domain.MatchRoom(1))}, sender.frames)
}
