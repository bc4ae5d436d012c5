package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/liga-sync/internal/config"
	"github.com/liga-sync/internal/domain"
	"github.com/liga-sync/internal/invalidation"
	"github.com/liga-sync/internal/redis"
)

// Repository is the persistence the league service depends on
type Repository interface {
	Ping(ctx context.Context) error
	ApplyEvent(ctx context.Context, ev domain.MatchEvent) (domain.MatchEvent, error)
	CreateMatch(ctx context.Context, m domain.Match) (int64, error)
	AssignPlayer(ctx context.Context, playerID, teamID, categoryEditionID int64) error
	GetMatch(ctx context.Context, matchID int64) (*domain.Match, error)
	ListIncidents(ctx context.Context, matchID int64) ([]domain.Incident, error)
	Standings(ctx context.Context, group domain.StandingsGroup) ([]domain.StandingsEntry, error)
	ListStandingsGroups(ctx context.Context) ([]domain.StandingsGroup, error)
	PlayerMatches(ctx context.Context, kind domain.PlayerMatchesKind, playerID int64, limit int) ([]domain.Match, error)
	CategoryEditionMatches(ctx context.Context, categoryEditionID int64) ([]domain.Match, error)
	Sanctions(ctx context.Context, playerID int64) ([]domain.SanctionAccrual, error)
	RecomputeSanctions(ctx context.Context, matchID int64) ([]int64, error)
}

// Broadcaster pushes applied events to connected clients
type Broadcaster interface {
	Broadcast(ev domain.MatchEvent)
}

// LeagueService applies match events and serves the derived views
type LeagueService struct {
	repo        Repository
	cache       *redis.ViewCache
	broadcaster Broadcaster
	table       invalidation.Table
	views       config.ViewsConfig
	logger      *slog.Logger
}

// NewLeagueService creates a new league service
func NewLeagueService(
	repo Repository,
	cache *redis.ViewCache,
	broadcaster Broadcaster,
	views config.ViewsConfig,
	logger *slog.Logger,
) *LeagueService {
	return &LeagueService{
		repo:        repo,
		cache:       cache,
		broadcaster: broadcaster,
		table:       invalidation.DefaultTable(),
		views:       views,
		logger:      logger,
	}
}

// Ping checks the database and the cache
func (s *LeagueService) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := s.cache.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// ApplyEvent persists ev, drops the cached views it affects and pushes it to
// the match, zone and category edition rooms. The returned event carries the
// full scope and any ids assigned on insert.
func (s *LeagueService) ApplyEvent(ctx context.Context, ev domain.MatchEvent) (domain.MatchEvent, error) {
	applied, err := s.repo.ApplyEvent(ctx, ev)
	if err != nil {
		return nil, err
	}

	keys := append(s.table.Targets(applied), sanctionTargets(applied)...)
	s.invalidate(ctx, keys...)
	s.broadcaster.Broadcast(applied)

	s.logger.Debug("match event applied",
		"type", applied.Type(),
		"match_id", applied.EventScope().MatchID,
	)
	return applied, nil
}

// ApplyEvents applies events in order. A failing event does not stop the rest.
func (s *LeagueService) ApplyEvents(ctx context.Context, events []domain.MatchEvent) (int, error) {
	var (
		applied int
		errs    []error
	)
	for _, ev := range events {
		if _, err := s.ApplyEvent(ctx, ev); err != nil {
			s.logger.Error("failed to apply event in batch",
				"type", ev.Type(),
				"match_id", ev.EventScope().MatchID,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}

// sanctionTargets returns the suspension lists a stored card change rewrites.
// Clients learn about those through the sanction recompute instead.
func sanctionTargets(ev domain.MatchEvent) []domain.Key {
	var card domain.CardPayload
	switch e := ev.(type) {
	case domain.CardAdded:
		card = e.Card
	case domain.CardEdited:
		card = e.Card
	case domain.CardRemoved:
		card = e.Card
	default:
		return nil
	}

	var keys []domain.Key
	if card.PlayerID > 0 {
		keys = append(keys, domain.SanctionsKey(card.PlayerID))
	}
	if card.PreviousPlayerID > 0 && card.PreviousPlayerID != card.PlayerID {
		keys = append(keys, domain.SanctionsKey(card.PreviousPlayerID))
	}
	return keys
}

func (s *LeagueService) invalidate(ctx context.Context, keys ...domain.Key) {
	if len(keys) == 0 {
		return
	}
	if _, err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.Error("failed to invalidate cached views", "keys", len(keys), "error", err)
	}
}

// CreateMatch registers a fixture
func (s *LeagueService) CreateMatch(ctx context.Context, m domain.Match) (*domain.Match, error) {
	id, err := s.repo.CreateMatch(ctx, m)
	if err != nil {
		return nil, err
	}
	m.ID = id
	if m.State == "" {
		m.State = domain.MatchStateScheduled
	}

	keys := []domain.Key{domain.CategoryEditionMatchesKey(m.CategoryEditionID), domain.PlayerMatchesFamily()}
	s.invalidate(ctx, keys...)
	return &m, nil
}

// AssignPlayer sets the team a player belongs to in a category edition
func (s *LeagueService) AssignPlayer(ctx context.Context, playerID, teamID, categoryEditionID int64) error {
	if err := s.repo.AssignPlayer(ctx, playerID, teamID, categoryEditionID); err != nil {
		return err
	}
	s.invalidate(ctx,
		domain.PlayerMatchesKey(domain.PlayerMatchesUpcoming, playerID),
		domain.PlayerMatchesKey(domain.PlayerMatchesRecent, playerID),
	)
	return nil
}

// MatchDetail returns a match
func (s *LeagueService) MatchDetail(ctx context.Context, matchID int64) (*domain.Match, error) {
	return redis.GetOrLoad(ctx, s.cache, domain.MatchDetailKey(matchID), func(ctx context.Context) (*domain.Match, error) {
		return s.repo.GetMatch(ctx, matchID)
	})
}

// MatchIncidents returns a match's goals and cards
func (s *LeagueService) MatchIncidents(ctx context.Context, matchID int64) ([]domain.Incident, error) {
	return redis.GetOrLoad(ctx, s.cache, domain.MatchEventsKey(matchID), func(ctx context.Context) ([]domain.Incident, error) {
		if _, err := s.repo.GetMatch(ctx, matchID); err != nil {
			return nil, err
		}
		return s.repo.ListIncidents(ctx, matchID)
	})
}

// Standings returns the points table of a zone or category edition
func (s *LeagueService) Standings(ctx context.Context, group domain.StandingsGroup) ([]domain.StandingsEntry, error) {
	return redis.GetOrLoad(ctx, s.cache, domain.StandingsKey(group), func(ctx context.Context) ([]domain.StandingsEntry, error) {
		return s.repo.Standings(ctx, group)
	})
}

// PlayerMatches returns a player's upcoming or recent matches
func (s *LeagueService) PlayerMatches(ctx context.Context, kind domain.PlayerMatchesKind, playerID int64) ([]domain.Match, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: match list %q", domain.ErrInvalidRequest, kind)
	}
	limit := s.views.UpcomingLimit
	if kind == domain.PlayerMatchesRecent {
		limit = s.views.RecentLimit
	}
	return redis.GetOrLoad(ctx, s.cache, domain.PlayerMatchesKey(kind, playerID), func(ctx context.Context) ([]domain.Match, error) {
		return s.repo.PlayerMatches(ctx, kind, playerID, limit)
	})
}

// CategoryEditionMatches returns the fixture list of a category edition
func (s *LeagueService) CategoryEditionMatches(ctx context.Context, categoryEditionID int64) ([]domain.Match, error) {
	return redis.GetOrLoad(ctx, s.cache, domain.CategoryEditionMatchesKey(categoryEditionID), func(ctx context.Context) ([]domain.Match, error) {
		return s.repo.CategoryEditionMatches(ctx, categoryEditionID)
	})
}

// Sanctions returns a player's suspensions
func (s *LeagueService) Sanctions(ctx context.Context, playerID int64) ([]domain.SanctionAccrual, error) {
	return redis.GetOrLoad(ctx, s.cache, domain.SanctionsKey(playerID), func(ctx context.Context) ([]domain.SanctionAccrual, error) {
		return s.repo.Sanctions(ctx, playerID)
	})
}

// RecomputeSanctions counts a finished match towards the open suspensions of
// both teams. Calling it again for the same match has no effect.
func (s *LeagueService) RecomputeSanctions(ctx context.Context, matchID int64) ([]int64, error) {
	match, err := s.repo.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.State != domain.MatchStateFinished {
		return nil, fmt.Errorf("%w: match %d is %s", domain.ErrInvalidRequest, matchID, match.State)
	}

	players, err := s.repo.RecomputeSanctions(ctx, matchID)
	if err != nil {
		return nil, err
	}

	keys := make([]domain.Key, 0, len(players))
	for _, id := range players {
		keys = append(keys, domain.SanctionsKey(id))
	}
	s.invalidate(ctx, keys...)

	s.logger.Info("sanctions recomputed", "match_id", matchID, "players", len(players))
	return players, nil
}

// WarmStandings loads the points table of every group into the cache and
// returns how many were warmed.
func (s *LeagueService) WarmStandings(ctx context.Context) (int, error) {
	groups, err := s.repo.ListStandingsGroups(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing standings groups: %w", err)
	}

	warmed := 0
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return warmed, err
		}
		if _, err := s.Standings(ctx, group); err != nil {
			s.logger.Warn("failed to warm standings",
				"kind", group.Kind,
				"group_id", group.ID,
				"error", err,
			)
			continue
		}
		warmed++
	}
	return warmed, nil
}
