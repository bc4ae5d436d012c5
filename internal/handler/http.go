package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/liga-sync/internal/auth"
	"github.com/liga-sync/internal/domain"
	"github.com/liga-sync/internal/websocket"
)

const maxBodySize = 1 << 20

// LeagueService is the business layer behind the API
type LeagueService interface {
	Ping(ctx context.Context) error
	ApplyEvent(ctx context.Context, ev domain.MatchEvent) (domain.MatchEvent, error)
	ApplyEvents(ctx context.Context, events []domain.MatchEvent) (int, error)
	CreateMatch(ctx context.Context, m domain.Match) (*domain.Match, error)
	AssignPlayer(ctx context.Context, playerID, teamID, categoryEditionID int64) error
	MatchDetail(ctx context.Context, matchID int64) (*domain.Match, error)
	MatchIncidents(ctx context.Context, matchID int64) ([]domain.Incident, error)
	Standings(ctx context.Context, group domain.StandingsGroup) ([]domain.StandingsEntry, error)
	PlayerMatches(ctx context.Context, kind domain.PlayerMatchesKind, playerID int64) ([]domain.Match, error)
	CategoryEditionMatches(ctx context.Context, categoryEditionID int64) ([]domain.Match, error)
	Sanctions(ctx context.Context, playerID int64) ([]domain.SanctionAccrual, error)
	RecomputeSanctions(ctx context.Context, matchID int64) ([]int64, error)
}

// Handler provides HTTP handlers for the league API
type Handler struct {
	service        LeagueService
	hub            *websocket.Hub
	auth           *auth.Authenticator
	allowedOrigins []string
	validate       *validator.Validate
	logger         *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	service LeagueService,
	hub *websocket.Hub,
	authenticator *auth.Authenticator,
	allowedOrigins []string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		service:        service,
		hub:            hub,
		auth:           authenticator,
		allowedOrigins: allowedOrigins,
		validate:       validator.New(),
		logger:         logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// Token checked by ServeWs so a rejection is a plain 401 before upgrade
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.auth.Middleware)
		r.Use(middleware.Compress(5))

		r.Get("/ws/stats", h.GetWebSocketStats)

		r.Route("/matches/{matchID}", func(r chi.Router) {
			r.Get("/", h.GetMatch)
			r.Get("/incidents", h.GetMatchIncidents)
			r.Post("/sanctions/recompute", h.RecomputeSanctions)
		})
		r.Get("/standings/{kind}/{groupID}", h.GetStandings)
		r.Get("/players/{playerID}/matches", h.GetPlayerMatches)
		r.Get("/players/{playerID}/sanctions", h.GetSanctions)
		r.Get("/category-editions/{categoryEditionID}/matches", h.GetCategoryEditionMatches)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin))

			r.Post("/events", h.IngestEvents)
			r.Post("/matches", h.CreateMatch)
			r.Put("/players/{playerID}/team", h.AssignPlayer)
		})
	})

	return r
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := sonic.Marshal(data)
	if err != nil {
		h.logger.Error("failed to encode response", "error", err)
		status = http.StatusInternalServerError
		body = []byte(`{"success":false,"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// fail maps a service error onto a status code. Unclassified errors are
// logged and hidden behind a generic message.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case domain.IsMalformed(err), errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrUnauthorized):
		h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
	case errors.Is(err, domain.ErrForbidden):
		h.writeError(w, http.StatusForbidden, domain.ErrForbidden)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", domain.ErrInvalidRequest, name)
	}
	return id, nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", domain.ErrInvalidRequest, err)
	}
	return body, nil
}

// decodeBody reads a JSON body into v and runs its validate tags
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.auth, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.hub.Stats())
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once the database and cache answer
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrDependencyFailure)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// GetMatch returns one match
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	matchID, err := pathID(r, "matchID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	match, err := h.service.MatchDetail(r.Context(), matchID)
	if err != nil {
		h.fail(w, "match detail", err)
		return
	}
	h.writeSuccess(w, match)
}

// GetMatchIncidents returns the goals and cards of a match
func (h *Handler) GetMatchIncidents(w http.ResponseWriter, r *http.Request) {
	matchID, err := pathID(r, "matchID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	incidents, err := h.service.MatchIncidents(r.Context(), matchID)
	if err != nil {
		h.fail(w, "match incidents", err)
		return
	}
	h.writeSuccess(w, incidents)
}

// GetStandings returns the points table of a zone or category edition
func (h *Handler) GetStandings(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseGroupKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := h.service.Standings(r.Context(), domain.StandingsGroup{Kind: kind, ID: groupID})
	if err != nil {
		h.fail(w, "standings", err)
		return
	}
	h.writeSuccess(w, entries)
}

// GetPlayerMatches returns a player's upcoming or recent matches
func (h *Handler) GetPlayerMatches(w http.ResponseWriter, r *http.Request) {
	playerID, err := pathID(r, "playerID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	kind := domain.PlayerMatchesKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = domain.PlayerMatchesUpcoming
	}

	matches, err := h.service.PlayerMatches(r.Context(), kind, playerID)
	if err != nil {
		h.fail(w, "player matches", err)
		return
	}
	h.writeSuccess(w, matches)
}

// GetCategoryEditionMatches returns the fixture list of a category edition
func (h *Handler) GetCategoryEditionMatches(w http.ResponseWriter, r *http.Request) {
	categoryEditionID, err := pathID(r, "categoryEditionID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	matches, err := h.service.CategoryEditionMatches(r.Context(), categoryEditionID)
	if err != nil {
		h.fail(w, "category edition matches", err)
		return
	}
	h.writeSuccess(w, matches)
}

// GetSanctions returns a player's suspensions
func (h *Handler) GetSanctions(w http.ResponseWriter, r *http.Request) {
	playerID, err := pathID(r, "playerID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	sanctions, err := h.service.Sanctions(r.Context(), playerID)
	if err != nil {
		h.fail(w, "sanctions", err)
		return
	}
	h.writeSuccess(w, sanctions)
}

// RecomputeSanctions applies a finished match to the open suspensions of
// both teams. Repeating the request is harmless.
func (h *Handler) RecomputeSanctions(w http.ResponseWriter, r *http.Request) {
	matchID, err := pathID(r, "matchID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	players, err := h.service.RecomputeSanctions(r.Context(), matchID)
	if err != nil {
		h.fail(w, "recompute sanctions", err)
		return
	}
	if players == nil {
		players = []int64{}
	}
	h.writeSuccess(w, map[string][]int64{"players": players})
}

// IngestEvents accepts one event envelope or an array of them
func (h *Handler) IngestEvents(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		h.ingestBatch(w, r, trimmed)
		return
	}

	ev, err := domain.DecodeEnvelope(trimmed)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	applied, err := h.service.ApplyEvent(r.Context(), ev)
	if err != nil {
		h.fail(w, "apply event", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, APIResponse{
		Success: true,
		Data:    map[string]any{"type": applied.Type(), "scope": applied.EventScope()},
	})
}

func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var raws []json.RawMessage
	if err := sonic.Unmarshal(body, &raws); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
		return
	}
	if len(raws) == 0 {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: empty batch", domain.ErrInvalidRequest))
		return
	}

	events := make([]domain.MatchEvent, 0, len(raws))
	for i, raw := range raws {
		ev, err := domain.DecodeEnvelope(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("event %d: %w", i, err))
			return
		}
		events = append(events, ev)
	}

	applied, err := h.service.ApplyEvents(r.Context(), events)
	if err != nil && applied == 0 {
		h.fail(w, "apply events", err)
		return
	}

	data := map[string]any{"received": len(events), "applied": applied}
	if err != nil {
		h.logger.Warn("partial event batch", "received", len(events), "applied", applied, "error", err)
		data["error"] = err.Error()
	}
	h.writeJSON(w, http.StatusAccepted, APIResponse{Success: true, Data: data})
}

type createMatchRequest struct {
	CategoryEditionID int64     `json:"id_categoria_edicion" validate:"required,gt=0"`
	ZoneID            int64     `json:"id_zona" validate:"gte=0"`
	Round             int       `json:"jornada" validate:"gte=0"`
	Venue             string    `json:"cancha" validate:"max=120"`
	ScheduledAt       time.Time `json:"dia" validate:"required"`
	HomeTeamID        int64     `json:"id_equipo_local" validate:"required,gt=0"`
	AwayTeamID        int64     `json:"id_equipo_visita" validate:"required,gt=0,nefield=HomeTeamID"`
}

// CreateMatch registers a fixture
func (h *Handler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	match, err := h.service.CreateMatch(r.Context(), domain.Match{
		CategoryEditionID: req.CategoryEditionID,
		ZoneID:            req.ZoneID,
		Round:             req.Round,
		Venue:             req.Venue,
		ScheduledAt:       req.ScheduledAt,
		HomeTeamID:        req.HomeTeamID,
		AwayTeamID:        req.AwayTeamID,
		State:             domain.MatchStateScheduled,
	})
	if err != nil {
		h.fail(w, "create match", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    match,
	})
}

type assignPlayerRequest struct {
	TeamID            int64 `json:"id_equipo" validate:"required,gt=0"`
	CategoryEditionID int64 `json:"id_categoria_edicion" validate:"required,gt=0"`
}

// AssignPlayer sets the team a player plays for in a category edition
func (h *Handler) AssignPlayer(w http.ResponseWriter, r *http.Request) {
	playerID, err := pathID(r, "playerID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req assignPlayerRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.service.AssignPlayer(r.Context(), playerID, req.TeamID, req.CategoryEditionID); err != nil {
		h.fail(w, "assign player", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "assigned"})
}
