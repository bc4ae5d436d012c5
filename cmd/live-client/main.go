package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"

	"github.com/liga-sync/internal/auth"
	"github.com/liga-sync/internal/config"
	"github.com/liga-sync/internal/conn"
	"github.com/liga-sync/internal/domain"
	"github.com/liga-sync/internal/fetch"
	"github.com/liga-sync/internal/refresh"
	"github.com/liga-sync/internal/session"
)

// tokenSource serves a fixed token, or mints viewer tokens from the shared
// secret when none was given (development setups only).
type tokenSource struct {
	static  string
	issuer  *auth.Authenticator
	subject string

	mu      sync.Mutex
	current string
}

func (t *tokenSource) Token(ctx context.Context) (string, error) {
	if t.static != "" || t.issuer == nil {
		return t.static, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == "" {
		return t.issue()
	}
	return t.current, nil
}

func (t *tokenSource) RefreshToken(ctx context.Context) (string, error) {
	if t.issuer == nil {
		return t.static, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.issue()
}

func (t *tokenSource) issue() (string, error) {
	token, _, err := t.issuer.Issue(t.subject, auth.RoleViewer)
	if err != nil {
		return "", err
	}
	t.current = token
	return token, nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	matchID := flag.Int64("match", 0, "Match to follow (detail and incidents)")
	zoneID := flag.Int64("zone", 0, "Zone whose standings to follow")
	categoryEditionID := flag.Int64("category-edition", 0, "Category edition to follow (standings and fixtures)")
	playerID := flag.Int64("player", 0, "Player whose matches and sanctions to follow")
	token := flag.String("token", os.Getenv("LIGA_TOKEN"), "Bearer token (defaults to $LIGA_TOKEN)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	tokens := &tokenSource{static: *token, subject: "live-client"}
	if *token == "" && cfg.Auth.Secret != "" {
		tokens.issuer = auth.New(cfg.Auth)
	}

	api := fetch.NewClient(cfg.Client.ServerURL, nil, cfg.Client.FetchTimeout, tokens, logger)
	manager := conn.NewManager(conn.NewWebSocketDialer(cfg.Client.WebSocketURL), tokens, conn.OptionsFromConfig(cfg.Client), logger)

	sess, err := session.New(manager, api, session.Options{
		RefreshWorkers: cfg.Client.RefreshWorkers,
		FetchTimeout:   cfg.Client.FetchTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}

	unsubscribe := manager.Subscribe(func(ev conn.StatusEvent) {
		logger.Info("connection status", "status", ev.Status, "attempt", ev.Attempt, "error", ev.Err)
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.Start(ctx)
	defer sess.Close()

	var specs []session.ViewSpec
	if *matchID > 0 {
		specs = append(specs,
			session.MatchDetailView(api, *matchID),
			session.MatchIncidentsView(api, *matchID),
		)
	}
	if *zoneID > 0 {
		specs = append(specs, session.StandingsView(api, domain.ZoneGroup(*zoneID)))
	}
	if *categoryEditionID > 0 {
		specs = append(specs,
			session.StandingsView(api, domain.CategoryEditionGroup(*categoryEditionID)),
			session.CategoryEditionMatchesView(api, *categoryEditionID),
		)
		if *playerID > 0 {
			specs = append(specs,
				session.PlayerMatchesView(api, domain.PlayerMatchesUpcoming, *playerID, *categoryEditionID),
				session.PlayerMatchesView(api, domain.PlayerMatchesRecent, *playerID, *categoryEditionID),
				session.SanctionsView(api, *playerID, *categoryEditionID),
			)
		}
	}
	if len(specs) == 0 {
		logger.Error("nothing to follow: pass -match, -zone or -category-edition")
		os.Exit(2)
	}

	for _, spec := range specs {
		if _, err := sess.Mount(spec.WithUpdates(logSnapshot(logger))); err != nil {
			logger.Error("failed to mount view", "key", spec.Key, "error", err)
			os.Exit(1)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case <-sess.Done():
	}

	if stats, err := sess.Stats(); err == nil {
		logger.Info("session summary",
			"views", stats.Views,
			"entries", stats.Entries,
			"rooms", stats.Rooms,
		)
	}
}

func logSnapshot(logger *slog.Logger) func(refresh.Snapshot) {
	return func(snap refresh.Snapshot) {
		if snap.Err != nil {
			logger.Warn("view failed", "key", snap.Key, "error", snap.Err)
			return
		}
		logger.Info("view updated",
			"key", snap.Key,
			"items", size(snap.Data),
			"stale", snap.Stale,
			"updated_at", snap.UpdatedAt,
		)
	}
}

// size reports the item count of list views and 1 for single records
func size(data any) int {
	if data == nil {
		return 0
	}
	v := reflect.ValueOf(data)
	switch v.Kind() {
	case reflect.Slice:
		return v.Len()
	case reflect.Ptr:
		if v.IsNil() {
			return 0
		}
	}
	return 1
}
