package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/liga-sync/internal/config"
	"github.com/liga-sync/internal/domain"
	"github.com/liga-sync/internal/redis"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockRepository) ApplyEvent(ctx context.Context, ev domain.MatchEvent) (domain.MatchEvent, error) {
	args := m.Called(ctx, ev)
	applied, _ := args.Get(0).(domain.MatchEvent)
	return applied, args.Error(1)
}

func (m *mockRepository) CreateMatch(ctx context.Context, match domain.Match) (int64, error) {
	args := m.Called(ctx, match)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRepository) AssignPlayer(ctx context.Context, playerID, teamID, categoryEditionID int64) error {
	return m.Called(ctx, playerID, teamID, categoryEditionID).Error(0)
}

func (m *mockRepository) GetMatch(ctx context.Context, matchID int64) (*domain.Match, error) {
	args := m.Called(ctx, matchID)
	match, _ := args.Get(0).(*domain.Match)
	return match, args.Error(1)
}

func (m *mockRepository) ListIncidents(ctx context.Context, matchID int64) ([]domain.Incident, error) {
	args := m.Called(ctx, matchID)
	incidents, _ := args.Get(0).([]domain.Incident)
	return incidents, args.Error(1)
}

func (m *mockRepository) Standings(ctx context.Context, group domain.StandingsGroup) ([]domain.StandingsEntry, error) {
	args := m.Called(ctx, group)
	entries, _ := args.Get(0).([]domain.StandingsEntry)
	return entries, args.Error(1)
}

func (m *mockRepository) ListStandingsGroups(ctx context.Context) ([]domain.StandingsGroup, error) {
	args := m.Called(ctx)
	groups, _ := args.Get(0).([]domain.StandingsGroup)
	return groups, args.Error(1)
}

func (m *mockRepository) PlayerMatches(ctx context.Context, kind domain.PlayerMatchesKind, playerID int64, limit int) ([]domain.Match, error) {
	args := m.Called(ctx, kind, playerID, limit)
	matches, _ := args.Get(0).([]domain.Match)
	return matches, args.Error(1)
}

func (m *mockRepository) CategoryEditionMatches(ctx context.Context, categoryEditionID int64) ([]domain.Match, error) {
	args := m.Called(ctx, categoryEditionID)
	matches, _ := args.Get(0).([]domain.Match)
	return matches, args.Error(1)
}

func (m *mockRepository) Sanctions(ctx context.Context, playerID int64) ([]domain.SanctionAccrual, error) {
	args := m.Called(ctx, playerID)
	sanctions, _ := args.Get(0).([]domain.SanctionAccrual)
	return sanctions, args.Error(1)
}

func (m *mockRepository) RecomputeSanctions(ctx context.Context, matchID int64) ([]int64, error) {
	args := m.Called(ctx, matchID)
	players, _ := args.Get(0).([]int64)
	return players, args.Error(1)
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.MatchEvent
}

func (b *recordingBroadcaster) Broadcast(ev domain.MatchEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

type fixture struct {
	svc   *LeagueService
	repo  *mockRepository
	cast  *recordingBroadcaster
	cache *redis.ViewCache
	mr    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := redis.NewViewCacheWithClient(client, time.Minute, logger)
	repo := &mockRepository{}
	cast := &recordingBroadcaster{}
	svc := NewLeagueService(repo, cache, cast, config.ViewsConfig{RecentLimit: 5, UpcomingLimit: 3}, logger)
	return &fixture{svc: svc, repo: repo, cast: cast, cache: cache, mr: mr}
}

func (f *fixture) seed(t *testing.T, keys ...domain.Key) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, f.cache.Set(context.Background(), key, []int{1}))
	}
}

func (f *fixture) cached(key domain.Key) bool {
	return f.mr.Exists("view:" + key.String())
}

func TestApplyEvent_InvalidatesAffectedViewsAndBroadcasts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	in := domain.GoalAdded{
		Scope: domain.Scope{MatchID: 7},
		Goal:  domain.GoalPayload{PlayerID: 40, TeamID: 1, Minute: 10},
	}
	applied := domain.GoalAdded{
		Scope: domain.Scope{MatchID: 7, ZoneID: 2, CategoryEditionID: 3},
		Goal:  domain.GoalPayload{ID: 501, PlayerID: 40, TeamID: 1, Minute: 10},
	}
	f.repo.On("ApplyEvent", mock.Anything, in).Return(applied, nil).Once()

	f.seed(t,
		domain.MatchDetailKey(7),
		domain.MatchEventsKey(7),
		domain.StandingsKey(domain.ZoneGroup(2)),
		domain.StandingsKey(domain.CategoryEditionGroup(3)),
		domain.PlayerMatchesKey(domain.PlayerMatchesUpcoming, 40),
		domain.StandingsKey(domain.CategoryEditionGroup(4)),
		domain.MatchDetailKey(9),
		domain.SanctionsKey(40),
	)

	got, err := f.svc.ApplyEvent(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, applied, got)

	for _, key := range []domain.Key{
		domain.MatchDetailKey(7),
		domain.MatchEventsKey(7),
		domain.StandingsKey(domain.ZoneGroup(2)),
		domain.StandingsKey(domain.CategoryEditionGroup(3)),
		domain.PlayerMatchesKey(domain.PlayerMatchesUpcoming, 40),
	} {
		assert.False(t, f.cached(key), key.String())
	}
	for _, key := range []domain.Key{
		domain.StandingsKey(domain.CategoryEditionGroup(4)),
		domain.MatchDetailKey(9),
		domain.SanctionsKey(40),
	} {
		assert.True(t, f.cached(key), key.String())
	}

	require.Len(t, f.cast.events, 1)
	assert.Equal(t, applied, f.cast.events[0])
	f.repo.AssertExpectations(t)
}

func TestApplyEvent_CardChangesInvalidateSanctions(t *testing.T) {
	t.Parallel()

	scope := domain.Scope{MatchID: 7, ZoneID: 2, CategoryEditionID: 3}
	tests := []struct {
		name    string
		event   domain.MatchEvent
		cleared []domain.Key
		kept    []domain.Key
	}{
		{
			name:    "red card added",
			event:   domain.CardAdded{Scope: scope, Card: domain.CardPayload{ID: 11, PlayerID: 40, TeamID: 1, Minute: 60, Type: domain.CardRed}},
			cleared: []domain.Key{domain.SanctionsKey(40), domain.MatchDetailKey(7), domain.MatchEventsKey(7)},
			kept:    []domain.Key{domain.SanctionsKey(41)},
		},
		{
			name: "card moved to another player",
			event: domain.CardEdited{Scope: scope, Card: domain.CardPayload{
				ID: 11, PlayerID: 41, TeamID: 1, Minute: 60, Type: domain.CardRed, PreviousPlayerID: 40,
			}},
			cleared: []domain.Key{domain.SanctionsKey(40), domain.SanctionsKey(41)},
			kept:    []domain.Key{domain.SanctionsKey(42)},
		},
		{
			name:    "card removed",
			event:   domain.CardRemoved{Scope: scope, Card: domain.CardPayload{ID: 11, PlayerID: 40, TeamID: 1, Type: domain.CardDoubleYellow}},
			cleared: []domain.Key{domain.SanctionsKey(40)},
			kept:    []domain.Key{domain.SanctionsKey(41)},
		},
		{
			name:  "state change leaves sanctions alone",
			event: domain.MatchStateChanged{Scope: scope, StatePayload: domain.StatePayload{State: domain.MatchStateInProgress}},
			kept:  []domain.Key{domain.SanctionsKey(40)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.repo.On("ApplyEvent", mock.Anything, tt.event).Return(tt.event, nil).Once()
			f.seed(t, append(append([]domain.Key{}, tt.cleared...), tt.kept...)...)

			_, err := f.svc.ApplyEvent(context.Background(), tt.event)
			require.NoError(t, err)

			for _, key := range tt.cleared {
				assert.False(t, f.cached(key), key.String())
			}
			for _, key := range tt.kept {
				assert.True(t, f.cached(key), key.String())
			}
		})
	}
}

func TestApplyEvent_FailureBroadcastsNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ev := domain.CardRemoved{Scope: domain.Scope{MatchID: 7}, Card: domain.CardPayload{ID: 3}}
	f.repo.On("ApplyEvent", mock.Anything, ev).Return(nil, domain.ErrIncidentNotFound)
	f.seed(t, domain.MatchDetailKey(7))

	_, err := f.svc.ApplyEvent(context.Background(), ev)
	assert.ErrorIs(t, err, domain.ErrIncidentNotFound)
	assert.Empty(t, f.cast.events)
	assert.True(t, f.cached(domain.MatchDetailKey(7)))
}

func TestApplyEvents_ContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	bad := domain.MatchScoreChanged{Scope: domain.Scope{MatchID: 1}}
	good := domain.MatchScoreChanged{Scope: domain.Scope{MatchID: 2}, ScorePayload: domain.ScorePayload{HomeGoals: 1}}
	f.repo.On("ApplyEvent", mock.Anything, bad).Return(nil, domain.ErrMatchNotFound)
	f.repo.On("ApplyEvent", mock.Anything, good).Return(good, nil)

	n, err := f.svc.ApplyEvents(context.Background(), []domain.MatchEvent{bad, good})
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, domain.ErrMatchNotFound)
	assert.Len(t, f.cast.events, 1)
}

func TestMatchDetail_ServedFromCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.repo.On("GetMatch", mock.Anything, int64(7)).Return(&domain.Match{ID: 7, State: domain.MatchStateInProgress}, nil).Once()

	for i := 0; i < 3; i++ {
		m, err := f.svc.MatchDetail(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(7), m.ID)
	}
	f.repo.AssertNumberOfCalls(t, "GetMatch", 1)

	f.repo.On("GetMatch", mock.Anything, int64(8)).Return(nil, domain.ErrMatchNotFound)
	_, err := f.svc.MatchDetail(ctx, 8)
	assert.ErrorIs(t, err, domain.ErrMatchNotFound)
	assert.False(t, f.cached(domain.MatchDetailKey(8)))
}

func TestPlayerMatches_UsesKindLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.repo.On("PlayerMatches", mock.Anything, domain.PlayerMatchesRecent, int64(40), 5).Return([]domain.Match{{ID: 1}}, nil)
	f.repo.On("PlayerMatches", mock.Anything, domain.PlayerMatchesUpcoming, int64(40), 3).Return([]domain.Match{{ID: 2}}, nil)

	recent, err := f.svc.PlayerMatches(ctx, domain.PlayerMatchesRecent, 40)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recent[0].ID)

	upcoming, err := f.svc.PlayerMatches(ctx, domain.PlayerMatchesUpcoming, 40)
	require.NoError(t, err)
	assert.Equal(t, int64(2), upcoming[0].ID)

	_, err = f.svc.PlayerMatches(ctx, "someday", 40)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRecomputeSanctions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("GetMatch", mock.Anything, int64(6)).Return(&domain.Match{ID: 6, State: domain.MatchStateInProgress}, nil)
	_, err := f.svc.RecomputeSanctions(ctx, 6)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	f.repo.On("GetMatch", mock.Anything, int64(7)).Return(&domain.Match{ID: 7, State: domain.MatchStateFinished}, nil)
	f.repo.On("RecomputeSanctions", mock.Anything, int64(7)).Return([]int64{40}, nil).Once()
	f.repo.On("RecomputeSanctions", mock.Anything, int64(7)).Return([]int64{}, nil).Once()
	f.seed(t, domain.SanctionsKey(40), domain.SanctionsKey(41))

	players, err := f.svc.RecomputeSanctions(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{40}, players)
	assert.False(t, f.cached(domain.SanctionsKey(40)))
	assert.True(t, f.cached(domain.SanctionsKey(41)))

	players, err = f.svc.RecomputeSanctions(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, players)
}

func TestWarmStandings_SkipsFailingGroups(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ok := domain.CategoryEditionGroup(3)
	broken := domain.ZoneGroup(2)
	f.repo.On("ListStandingsGroups", mock.Anything).Return([]domain.StandingsGroup{ok, broken}, nil)
	f.repo.On("Standings", mock.Anything, ok).Return([]domain.StandingsEntry{{Position: 1, TeamID: 1}}, nil)
	f.repo.On("Standings", mock.Anything, broken).Return(nil, errors.New("timeout"))

	n, err := f.svc.WarmStandings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.cached(domain.StandingsKey(ok)))
	assert.False(t, f.cached(domain.StandingsKey(broken)))
}
