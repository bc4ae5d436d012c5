package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/liga-sync/internal/auth"
	"github.com/liga-sync/internal/config"
	"github.com/liga-sync/internal/domain"
	"github.com/liga-sync/internal/websocket"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockService) ApplyEvent(ctx context.Context, ev domain.MatchEvent) (domain.MatchEvent, error) {
	args := m.Called(ctx, ev)
	applied, _ := args.Get(0).(domain.MatchEvent)
	return applied, args.Error(1)
}

func (m *mockService) ApplyEvents(ctx context.Context, events []domain.MatchEvent) (int, error) {
	args := m.Called(ctx, events)
	return args.Int(0), args.Error(1)
}

func (m *mockService) CreateMatch(ctx context.Context, match domain.Match) (*domain.Match, error) {
	args := m.Called(ctx, match)
	created, _ := args.Get(0).(*domain.Match)
	return created, args.Error(1)
}

func (m *mockService) AssignPlayer(ctx context.Context, playerID, teamID, categoryEditionID int64) error {
	return m.Called(ctx, playerID, teamID, categoryEditionID).Error(0)
}

func (m *mockService) MatchDetail(ctx context.Context, matchID int64) (*domain.Match, error) {
	args := m.Called(ctx, matchID)
	match, _ := args.Get(0).(*domain.Match)
	return match, args.Error(1)
}

func (m *mockService) MatchIncidents(ctx context.Context, matchID int64) ([]domain.Incident, error) {
	args := m.Called(ctx, matchID)
	incidents, _ := args.Get(0).([]domain.Incident)
	return incidents, args.Error(1)
}

func (m *mockService) Standings(ctx context.Context, group domain.StandingsGroup) ([]domain.StandingsEntry, error) {
	args := m.Called(ctx, group)
	entries, _ := args.Get(0).([]domain.StandingsEntry)
	return entries, args.Error(1)
}

func (m *mockService) PlayerMatches(ctx context.Context, kind domain.PlayerMatchesKind, playerID int64) ([]domain.Match, error) {
	args := m.Called(ctx, kind, playerID)
	matches, _ := args.Get(0).([]domain.Match)
	return matches, args.Error(1)
}

func (m *mockService) CategoryEditionMatches(ctx context.Context, categoryEditionID int64) ([]domain.Match, error) {
	args := m.Called(ctx, categoryEditionID)
	matches, _ := args.Get(0).([]domain.Match)
	return matches, args.Error(1)
}

func (m *mockService) Sanctions(ctx context.Context, playerID int64) ([]domain.SanctionAccrual, error) {
	args := m.Called(ctx, playerID)
	sanctions, _ := args.Get(0).([]domain.SanctionAccrual)
	return sanctions, args.Error(1)
}

func (m *mockService) RecomputeSanctions(ctx context.Context, matchID int64) ([]int64, error) {
	args := m.Called(ctx, matchID)
	players, _ := args.Get(0).([]int64)
	return players, args.Error(1)
}

type apiResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testServer struct {
	svc    *mockService
	server *httptest.Server
	authn  *auth.Authenticator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authn := auth.New(config.AuthConfig{Secret: "0123456789abcdef-test", Issuer: "liga-sync", TokenTTL: time.Hour})
	svc := &mockService{}
	h := NewHandler(svc, websocket.NewHub(logger), authn, []string{"*"}, logger)

	server := httptest.NewServer(h.Router())
	t.Cleanup(server.Close)
	return &testServer{svc: svc, server: server, authn: authn}
}

func (s *testServer) token(t *testing.T, role auth.Role) string {
	t.Helper()
	token, _, err := s.authn.Issue("user-1", role)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (int, apiResult) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out apiResult
	if len(raw) > 0 {
		require.NoError(t, sonic.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestRouter_HealthIsPublicAPIIsNot(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)

	status, body = s.do(t, http.MethodGet, "/api/v1/matches/7", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, body.Success)

	s.svc.AssertNotCalled(t, "MatchDetail", mock.Anything, mock.Anything)
}

func TestReadyCheck(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.svc.On("Ping", mock.Anything).Return(errors.New("redis down")).Once()
	s.svc.On("Ping", mock.Anything).Return(nil).Once()

	status, _ := s.do(t, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = s.do(t, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestGetMatch_StatusMapping(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	token := s.token(t, auth.RoleViewer)

	s.svc.On("MatchDetail", mock.Anything, int64(7)).Return(&domain.Match{ID: 7, State: domain.MatchStateInProgress}, nil)
	s.svc.On("MatchDetail", mock.Anything, int64(8)).Return(nil, domain.ErrMatchNotFound)
	s.svc.On("MatchDetail", mock.Anything, int64(9)).Return(nil, errors.New("pool exhausted"))

	status, body := s.do(t, http.MethodGet, "/api/v1/matches/7", token, "")
	require.Equal(t, http.StatusOK, status)
	var match domain.Match
	require.NoError(t, sonic.Unmarshal(body.Data, &match))
	assert.Equal(t, int64(7), match.ID)
	assert.Equal(t, domain.MatchStateInProgress, match.State)

	status, body = s.do(t, http.MethodGet, "/api/v1/matches/8", token, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, domain.ErrMatchNotFound.Error(), body.Error)

	status, body = s.do(t, http.MethodGet, "/api/v1/matches/9", token, "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, domain.ErrInternalError.Error(), body.Error, "internal details stay hidden")

	status, _ = s.do(t, http.MethodGet, "/api/v1/matches/abc", token, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGetStandingsAndPlayerMatches(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	token := s.token(t, auth.RoleViewer)

	entries := []domain.StandingsEntry{{Position: 1, TeamID: 4, Points: 6}}
	s.svc.On("Standings", mock.Anything, domain.ZoneGroup(3)).Return(entries, nil)
	s.svc.On("PlayerMatches", mock.Anything, domain.PlayerMatchesRecent, int64(40)).Return([]domain.Match{{ID: 1}, {ID: 2}}, nil)
	s.svc.On("PlayerMatches", mock.Anything, domain.PlayerMatchesKind("someday"), int64(40)).
		Return(nil, domain.ErrInvalidRequest)

	status, body := s.do(t, http.MethodGet, "/api/v1/standings/zone/3", token, "")
	require.Equal(t, http.StatusOK, status)
	var got []domain.StandingsEntry
	require.NoError(t, sonic.Unmarshal(body.Data, &got))
	assert.Equal(t, entries, got)

	status, _ = s.do(t, http.MethodGet, "/api/v1/standings/league/3", token, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, http.MethodGet, "/api/v1/players/40/matches?kind=recent", token, "")
	require.Equal(t, http.StatusOK, status)
	var matches []domain.Match
	require.NoError(t, sonic.Unmarshal(body.Data, &matches))
	assert.Len(t, matches, 2)

	status, _ = s.do(t, http.MethodGet, "/api/v1/players/40/matches?kind=someday", token, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestIngestEvents(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	admin := s.token(t, auth.RoleAdmin)

	goal := `{"type":"goal:added","id_partido":7,"payload":{"id_jugador":10,"id_equipo":1,"minuto":12}}`
	card := `{"type":"card:added","id_partido":7,"payload":{"id_jugador":11,"id_equipo":2,"minuto":30,"tipo":"red"}}`

	applied := domain.GoalAdded{
		Scope: domain.Scope{MatchID: 7, ZoneID: 3, CategoryEditionID: 5},
		Goal:  domain.GoalPayload{ID: 90, PlayerID: 10, TeamID: 1, Minute: 12},
	}
	s.svc.On("ApplyEvent", mock.Anything, mock.MatchedBy(func(ev domain.MatchEvent) bool {
		return ev.Type() == domain.EventGoalAdded && ev.EventScope().MatchID == 7
	})).Return(applied, nil).Once()
	s.svc.On("ApplyEvents", mock.Anything, mock.MatchedBy(func(events []domain.MatchEvent) bool {
		return len(events) == 2 && events[1].Type() == domain.EventCardAdded
	})).Return(1, errors.New("event 1: deadlock detected")).Once()

	t.Run("viewer is forbidden", func(t *testing.T) {
		status, _ := s.do(t, http.MethodPost, "/api/v1/events", s.token(t, auth.RoleViewer), goal)
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("single envelope", func(t *testing.T) {
		status, body := s.do(t, http.MethodPost, "/api/v1/events", admin, goal)
		require.Equal(t, http.StatusAccepted, status)
		var data struct {
			Type  domain.EventType `json:"type"`
			Scope domain.Scope     `json:"scope"`
		}
		require.NoError(t, sonic.Unmarshal(body.Data, &data))
		assert.Equal(t, domain.EventGoalAdded, data.Type)
		assert.Equal(t, applied.Scope, data.Scope)
	})

	t.Run("partial batch", func(t *testing.T) {
		status, body := s.do(t, http.MethodPost, "/api/v1/events", admin, "["+goal+","+card+"]")
		require.Equal(t, http.StatusAccepted, status)
		var data struct {
			Received int    `json:"received"`
			Applied  int    `json:"applied"`
			Error    string `json:"error"`
		}
		require.NoError(t, sonic.Unmarshal(body.Data, &data))
		assert.Equal(t, 2, data.Received)
		assert.Equal(t, 1, data.Applied)
		assert.Contains(t, data.Error, "deadlock")
	})

	t.Run("malformed envelope", func(t *testing.T) {
		status, _ := s.do(t, http.MethodPost, "/api/v1/events", admin, `{"type":"goal:added"}`)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("empty batch", func(t *testing.T) {
		status, _ := s.do(t, http.MethodPost, "/api/v1/events", admin, `[]`)
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestRecomputeSanctions(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	token := s.token(t, auth.RoleViewer)

	s.svc.On("RecomputeSanctions", mock.Anything, int64(7)).Return([]int64{40, 41}, nil)
	s.svc.On("RecomputeSanctions", mock.Anything, int64(8)).Return(nil, domain.ErrInvalidRequest)

	status, body := s.do(t, http.MethodPost, "/api/v1/matches/7/sanctions/recompute", token, `{"id_partido":7}`)
	require.Equal(t, http.StatusOK, status)
	var data struct {
		Players []int64 `json:"players"`
	}
	require.NoError(t, sonic.Unmarshal(body.Data, &data))
	assert.Equal(t, []int64{40, 41}, data.Players)

	status, _ = s.do(t, http.MethodPost, "/api/v1/matches/8/sanctions/recompute", token, `{"id_partido":8}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCreateMatch_Validation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	admin := s.token(t, auth.RoleAdmin)

	s.svc.On("CreateMatch", mock.Anything, mock.MatchedBy(func(m domain.Match) bool {
		return m.HomeTeamID == 1 && m.AwayTeamID == 2 && m.State == domain.MatchStateScheduled
	})).Return(&domain.Match{ID: 12, HomeTeamID: 1, AwayTeamID: 2, State: domain.MatchStateScheduled}, nil).Once()

	valid := `{"id_categoria_edicion":5,"id_zona":3,"jornada":1,"dia":"2026-11-01T15:00:00Z","id_equipo_local":1,"id_equipo_visita":2}`
	status, body := s.do(t, http.MethodPost, "/api/v1/matches", admin, valid)
	require.Equal(t, http.StatusCreated, status)
	var match domain.Match
	require.NoError(t, sonic.Unmarshal(body.Data, &match))
	assert.Equal(t, int64(12), match.ID)

	sameTeams := `{"id_categoria_edicion":5,"dia":"2026-11-01T15:00:00Z","id_equipo_local":1,"id_equipo_visita":1}`
	status, _ = s.do(t, http.MethodPost, "/api/v1/matches", admin, sameTeams)
	assert.Equal(t, http.StatusBadRequest, status)

	s.svc.AssertNumberOfCalls(t, "CreateMatch", 1)
}

func TestAssignPlayer(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	admin := s.token(t, auth.RoleAdmin)

	s.svc.On("AssignPlayer", mock.Anything, int64(40), int64(2), int64(5)).Return(nil).Once()

	status, _ := s.do(t, http.MethodPut, "/api/v1/players/40/team", admin, `{"id_equipo":2,"id_categoria_edicion":5}`)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPut, "/api/v1/players/40/team", admin, `{"id_equipo":2}`)
	assert.Equal(t, http.StatusBadRequest, status)

	s.svc.AssertExpectations(t)
}

func TestGetWebSocketStats(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/v1/ws/stats", s.token(t, auth.RoleViewer), "")
	require.Equal(t, http.StatusOK, status)
	var stats websocket.HubStats
	require.NoError(t, sonic.Unmarshal(body.Data, &stats))
	assert.Equal(t, 0, stats.Connections)
}
