package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/liga-sync/internal/domain"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrRequestFailed = errors.New("request failed")
)

const maxBodySize = 4 << 20

// TokenSource supplies the bearer credential for API calls
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client pulls derived views from the league API
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	logger     *slog.Logger
}

// NewClient creates a client for baseURL. A nil httpClient gets one with timeout.
func NewClient(baseURL string, httpClient *http.Client, timeout time.Duration, tokens TokenSource, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		logger:     logger,
	}
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type response[T any] struct {
	envelope
	Data T `json:"data"`
}

// MatchDetail fetches one match
func (c *Client) MatchDetail(ctx context.Context, matchID int64) (*domain.Match, error) {
	var out response[*domain.Match]
	if err := c.do(ctx, http.MethodGet, "/api/v1/matches/"+itoa(matchID), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// MatchIncidents fetches the goals and cards of a match
func (c *Client) MatchIncidents(ctx context.Context, matchID int64) ([]domain.Incident, error) {
	var out response[[]domain.Incident]
	if err := c.do(ctx, http.MethodGet, "/api/v1/matches/"+itoa(matchID)+"/incidents", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Standings fetches the points table of a group
func (c *Client) Standings(ctx context.Context, group domain.StandingsGroup) ([]domain.StandingsEntry, error) {
	var out response[[]domain.StandingsEntry]
	path := "/api/v1/standings/" + string(group.Kind) + "/" + itoa(group.ID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// PlayerMatches fetches a player's upcoming or recent matches
func (c *Client) PlayerMatches(ctx context.Context, kind domain.PlayerMatchesKind, playerID int64) ([]domain.Match, error) {
	var out response[[]domain.Match]
	path := "/api/v1/players/" + itoa(playerID) + "/matches?" + url.Values{"kind": {string(kind)}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CategoryEditionMatches fetches the fixture list of a category edition
func (c *Client) CategoryEditionMatches(ctx context.Context, categoryEditionID int64) ([]domain.Match, error) {
	var out response[[]domain.Match]
	if err := c.do(ctx, http.MethodGet, "/api/v1/category-editions/"+itoa(categoryEditionID)+"/matches", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Sanctions fetches a player's suspensions
func (c *Client) Sanctions(ctx context.Context, playerID int64) ([]domain.SanctionAccrual, error) {
	var out response[[]domain.SanctionAccrual]
	if err := c.do(ctx, http.MethodGet, "/api/v1/players/"+itoa(playerID)+"/sanctions", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// RecomputeResult lists the players whose sanctions changed
type RecomputeResult struct {
	Players []int64 `json:"players"`
}

// Recompute asks the business layer to apply a finished match to sanction counters
func (c *Client) Recompute(ctx context.Context, trigger domain.MatchFinished) ([]int64, error) {
	body, err := sonic.Marshal(trigger)
	if err != nil {
		return nil, fmt.Errorf("encoding recompute request: %w", err)
	}
	var out response[RecomputeResult]
	path := "/api/v1/matches/" + itoa(trigger.MatchID) + "/sanctions/recompute"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return out.Data.Players, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, target any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("getting token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", ErrRequestFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, path)
	case resp.StatusCode >= 300:
		var env envelope
		_ = sonic.Unmarshal(raw, &env)
		return fmt.Errorf("%w: %s %s: status=%d %s", ErrRequestFailed, method, path, resp.StatusCode, env.Error)
	}

	if err := sonic.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
