package session

import (
	"context"

	"github.com/liga-sync/internal/domain"
	"github.com/liga-sync/internal/refresh"
)

// Source is the business layer's pull interface for derived views
type Source interface {
	MatchDetail(ctx context.Context, matchID int64) (*domain.Match, error)
	MatchIncidents(ctx context.Context, matchID int64) ([]domain.Incident, error)
	Standings(ctx context.Context, group domain.StandingsGroup) ([]domain.StandingsEntry, error)
	PlayerMatches(ctx context.Context, kind domain.PlayerMatchesKind, playerID int64) ([]domain.Match, error)
	CategoryEditionMatches(ctx context.Context, categoryEditionID int64) ([]domain.Match, error)
	Sanctions(ctx context.Context, playerID int64) ([]domain.SanctionAccrual, error)
}

// ViewSpec describes a view to mount: the cache entry it reads, the rooms
// whose events can change it and how to fetch it.
type ViewSpec struct {
	Key      domain.Key
	Rooms    []domain.RoomKey
	Fetch    refresh.Fetcher
	Inactive bool
	OnUpdate func(refresh.Snapshot)
}

// WithUpdates returns a copy of the spec that reports snapshots to fn
func (v ViewSpec) WithUpdates(fn func(refresh.Snapshot)) ViewSpec {
	v.OnUpdate = fn
	return v
}

func MatchDetailView(src Source, matchID int64) ViewSpec {
	return ViewSpec{
		Key:   domain.MatchDetailKey(matchID),
		Rooms: []domain.RoomKey{domain.MatchRoom(matchID)},
		Fetch: func(ctx context.Context) (any, error) { return src.MatchDetail(ctx, matchID) },
	}
}

func MatchIncidentsView(src Source, matchID int64) ViewSpec {
	return ViewSpec{
		Key:   domain.MatchEventsKey(matchID),
		Rooms: []domain.RoomKey{domain.MatchRoom(matchID)},
		Fetch: func(ctx context.Context) (any, error) { return src.MatchIncidents(ctx, matchID) },
	}
}

func StandingsView(src Source, group domain.StandingsGroup) ViewSpec {
	return ViewSpec{
		Key:   domain.StandingsKey(group),
		Rooms: []domain.RoomKey{group.Room()},
		Fetch: func(ctx context.Context) (any, error) { return src.Standings(ctx, group) },
	}
}

// PlayerMatchesView lists a player's upcoming or recent matches. List views
// listen on the category edition room since any of its matches can enter the list.
func PlayerMatchesView(src Source, kind domain.PlayerMatchesKind, playerID, categoryEditionID int64) ViewSpec {
	return ViewSpec{
		Key:   domain.PlayerMatchesKey(kind, playerID),
		Rooms: []domain.RoomKey{domain.CategoryEditionRoom(categoryEditionID)},
		Fetch: func(ctx context.Context) (any, error) { return src.PlayerMatches(ctx, kind, playerID) },
	}
}

func CategoryEditionMatchesView(src Source, categoryEditionID int64) ViewSpec {
	return ViewSpec{
		Key:   domain.CategoryEditionMatchesKey(categoryEditionID),
		Rooms: []domain.RoomKey{domain.CategoryEditionRoom(categoryEditionID)},
		Fetch: func(ctx context.Context) (any, error) { return src.CategoryEditionMatches(ctx, categoryEditionID) },
	}
}

// SanctionsView shows a player's suspensions. Finished-match events reach it
// through the category edition room the suspension applies to.
func SanctionsView(src Source, playerID, categoryEditionID int64) ViewSpec {
	return ViewSpec{
		Key:   domain.SanctionsKey(playerID),
		Rooms: []domain.RoomKey{domain.CategoryEditionRoom(categoryEditionID)},
		Fetch: func(ctx context.Context) (any, error) { return src.Sanctions(ctx, playerID) },
	}
}
