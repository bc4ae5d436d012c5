package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liga-sync/internal/config"
	"github.com/liga-sync/internal/domain"
)

// Repository provides PostgreSQL-based data access for matches, incidents,
// standings and sanctions.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS matches (
			id BIGSERIAL PRIMARY KEY,
			category_edition_id BIGINT NOT NULL,
			zone_id BIGINT,
			round INT NOT NULL DEFAULT 1,
			venue VARCHAR(255) NOT NULL DEFAULT '',
			scheduled_at TIMESTAMPTZ NOT NULL,
			home_team_id BIGINT NOT NULL,
			away_team_id BIGINT NOT NULL,
			home_goals INT,
			away_goals INT,
			state VARCHAR(20) NOT NULL DEFAULT 'scheduled',
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS goals (
			id BIGSERIAL PRIMARY KEY,
			match_id BIGINT NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			player_id BIGINT NOT NULL,
			team_id BIGINT NOT NULL,
			minute INT NOT NULL DEFAULT 0,
			own_goal BOOLEAN NOT NULL DEFAULT FALSE,
			penalty BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS cards (
			id BIGSERIAL PRIMARY KEY,
			match_id BIGINT NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			player_id BIGINT NOT NULL,
			team_id BIGINT NOT NULL,
			minute INT NOT NULL DEFAULT 0,
			card_type VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS player_teams (
			player_id BIGINT NOT NULL,
			category_edition_id BIGINT NOT NULL,
			team_id BIGINT NOT NULL,
			PRIMARY KEY (player_id, category_edition_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sanctions (
			id BIGSERIAL PRIMARY KEY,
			player_id BIGINT NOT NULL,
			team_id BIGINT NOT NULL,
			category_edition_id BIGINT NOT NULL,
			card_id BIGINT UNIQUE REFERENCES cards(id) ON DELETE CASCADE,
			origin_match_id BIGINT REFERENCES matches(id) ON DELETE CASCADE,
			total INT NOT NULL,
			issued_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sanction_served (
			sanction_id BIGINT NOT NULL REFERENCES sanctions(id) ON DELETE CASCADE,
			match_id BIGINT NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			served_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (sanction_id, match_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_category_edition ON matches(category_edition_id, round)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_zone ON matches(zone_id)`,
		`CREATE INDEX IF NOT EXISTS idx_goals_match ON goals(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_match ON cards(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sanctions_player ON sanctions(player_id, issued_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

const matchColumns = `m.id, m.category_edition_id, m.zone_id, m.round, m.venue, m.scheduled_at,
	m.home_team_id, m.away_team_id, m.home_goals, m.away_goals, m.state`

type scanner interface {
	Scan(dest ...any) error
}

func scanMatch(row scanner) (domain.Match, error) {
	var (
		m    domain.Match
		zone *int64
	)
	err := row.Scan(
		&m.ID,
		&m.CategoryEditionID,
		&zone,
		&m.Round,
		&m.Venue,
		&m.ScheduledAt,
		&m.HomeTeamID,
		&m.AwayTeamID,
		&m.HomeGoals,
		&m.AwayGoals,
		&m.State,
	)
	if zone != nil {
		m.ZoneID = *zone
	}
	return m, err
}

func collectMatches(rows pgx.Rows) ([]domain.Match, error) {
	defer rows.Close()

	matches := []domain.Match{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// CreateMatch inserts a fixture and returns its id
func (r *Repository) CreateMatch(ctx context.Context, m domain.Match) (int64, error) {
	query := `
		INSERT INTO matches (category_edition_id, zone_id, round, venue, scheduled_at,
			home_team_id, away_team_id, state)
		VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	state := m.State
	if state == "" {
		state = domain.MatchStateScheduled
	}
	var id int64
	err := r.pool.QueryRow(ctx, query,
		m.CategoryEditionID,
		m.ZoneID,
		m.Round,
		m.Venue,
		m.ScheduledAt,
		m.HomeTeamID,
		m.AwayTeamID,
		string(state),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating match: %w", err)
	}
	return id, nil
}

// AssignPlayer records which team a player plays for in a category edition
func (r *Repository) AssignPlayer(ctx context.Context, playerID, teamID, categoryEditionID int64) error {
	query := `
		INSERT INTO player_teams (player_id, category_edition_id, team_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (player_id, category_edition_id) DO UPDATE SET team_id = $3
	`
	if _, err := r.pool.Exec(ctx, query, playerID, categoryEditionID, teamID); err != nil {
		return fmt.Errorf("assigning player: %w", err)
	}
	return nil
}

// GetMatch retrieves a match by ID
func (r *Repository) GetMatch(ctx context.Context, matchID int64) (*domain.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches m WHERE m.id = $1`
	m, err := scanMatch(r.pool.QueryRow(ctx, query, matchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMatchNotFound
		}
		return nil, fmt.Errorf("getting match: %w", err)
	}
	return &m, nil
}

// ListIncidents returns a match's goals and cards ordered by minute
func (r *Repository) ListIncidents(ctx context.Context, matchID int64) ([]domain.Incident, error) {
	query := `
		SELECT id, match_id, 'goal' AS kind, player_id, team_id, minute, '' AS card_type, own_goal, penalty
		FROM goals WHERE match_id = $1
		UNION ALL
		SELECT id, match_id, 'card', player_id, team_id, minute, card_type, FALSE, FALSE
		FROM cards WHERE match_id = $1
		ORDER BY minute, kind DESC, id
	`
	rows, err := r.pool.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("listing incidents: %w", err)
	}
	defer rows.Close()

	incidents := []domain.Incident{}
	for rows.Next() {
		var in domain.Incident
		err := rows.Scan(
			&in.ID,
			&in.MatchID,
			&in.Kind,
			&in.PlayerID,
			&in.TeamID,
			&in.Minute,
			&in.CardType,
			&in.OwnGoal,
			&in.Penalty,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		incidents = append(incidents, in)
	}
	return incidents, rows.Err()
}

// Standings computes the points table of a zone or category edition from its
// finished matches.
func (r *Repository) Standings(ctx context.Context, group domain.StandingsGroup) ([]domain.StandingsEntry, error) {
	column, err := groupColumn(group.Kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		WITH played AS (
			SELECT home_team_id AS team_id, COALESCE(home_goals, 0) AS gf, COALESCE(away_goals, 0) AS gc,
				state = 'finished' AS done
			FROM matches WHERE %[1]s = $1
			UNION ALL
			SELECT away_team_id, COALESCE(away_goals, 0), COALESCE(home_goals, 0), state = 'finished'
			FROM matches WHERE %[1]s = $1
		)
		SELECT team_id,
			COUNT(*) FILTER (WHERE done),
			COUNT(*) FILTER (WHERE done AND gf > gc),
			COUNT(*) FILTER (WHERE done AND gf = gc),
			COUNT(*) FILTER (WHERE done AND gf < gc),
			COALESCE(SUM(gf) FILTER (WHERE done), 0),
			COALESCE(SUM(gc) FILTER (WHERE done), 0)
		FROM played
		GROUP BY team_id
	`, column)

	rows, err := r.pool.Query(ctx, query, group.ID)
	if err != nil {
		return nil, fmt.Errorf("computing standings: %w", err)
	}
	defer rows.Close()

	var entries []domain.StandingsEntry
	for rows.Next() {
		var e domain.StandingsEntry
		if err := rows.Scan(&e.TeamID, &e.Played, &e.Won, &e.Drawn, &e.Lost, &e.GoalsFor, &e.GoalsAgainst); err != nil {
			return nil, fmt.Errorf("scanning standings row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("computing standings: %w", err)
	}
	if len(entries) == 0 {
		return nil, domain.ErrGroupNotFound
	}
	return domain.RankStandings(entries), nil
}

func groupColumn(kind domain.GroupKind) (string, error) {
	switch kind {
	case domain.GroupZone:
		return "zone_id", nil
	case domain.GroupCategoryEdition:
		return "category_edition_id", nil
	}
	return "", fmt.Errorf("%w: group kind %q", domain.ErrInvalidRequest, kind)
}

// ListStandingsGroups returns every zone and category edition that has matches
func (r *Repository) ListStandingsGroups(ctx context.Context) ([]domain.StandingsGroup, error) {
	query := `
		SELECT DISTINCT 'category-edition', category_edition_id FROM matches
		UNION
		SELECT DISTINCT 'zone', zone_id FROM matches WHERE zone_id IS NOT NULL
		ORDER BY 1, 2
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing standings groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.StandingsGroup
	for rows.Next() {
		var g domain.StandingsGroup
		if err := rows.Scan(&g.Kind, &g.ID); err != nil {
			return nil, fmt.Errorf("scanning standings group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// PlayerMatches returns the next unfinished or the latest finished matches of
// the player's teams.
func (r *Repository) PlayerMatches(ctx context.Context, kind domain.PlayerMatchesKind, playerID int64, limit int) ([]domain.Match, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM player_teams WHERE player_id = $1)`, playerID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking player: %w", err)
	}
	if !exists {
		return nil, domain.ErrPlayerNotFound
	}

	filter := `m.state <> 'finished' ORDER BY m.scheduled_at ASC`
	if kind == domain.PlayerMatchesRecent {
		filter = `m.state = 'finished' ORDER BY m.scheduled_at DESC`
	}
	query := `
		SELECT ` + matchColumns + `
		FROM matches m
		JOIN player_teams pt
			ON pt.category_edition_id = m.category_edition_id
			AND pt.team_id IN (m.home_team_id, m.away_team_id)
		WHERE pt.player_id = $1 AND ` + filter + `
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing player matches: %w", err)
	}
	return collectMatches(rows)
}

// CategoryEditionMatches returns the fixture list of a category edition
func (r *Repository) CategoryEditionMatches(ctx context.Context, categoryEditionID int64) ([]domain.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches m
		WHERE m.category_edition_id = $1
		ORDER BY m.round, m.scheduled_at, m.id
	`
	rows, err := r.pool.Query(ctx, query, categoryEditionID)
	if err != nil {
		return nil, fmt.Errorf("listing category edition matches: %w", err)
	}
	return collectMatches(rows)
}

// Sanctions returns a player's suspensions with the matches served so far
func (r *Repository) Sanctions(ctx context.Context, playerID int64) ([]domain.SanctionAccrual, error) {
	query := `
		SELECT s.id, s.player_id, s.team_id, s.category_edition_id, s.total,
			LEAST((SELECT COUNT(*) FROM sanction_served ss WHERE ss.sanction_id = s.id), s.total),
			s.issued_at
		FROM sanctions s
		WHERE s.player_id = $1
		ORDER BY s.issued_at DESC, s.id DESC
	`
	rows, err := r.pool.Query(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("listing sanctions: %w", err)
	}
	defer rows.Close()

	sanctions := []domain.SanctionAccrual{}
	for rows.Next() {
		var s domain.SanctionAccrual
		err := rows.Scan(
			&s.ID,
			&s.PlayerID,
			&s.TeamID,
			&s.CategoryEditionID,
			&s.Total,
			&s.Served,
			&s.IssuedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning sanction: %w", err)
		}
		sanctions = append(sanctions, s)
	}
	return sanctions, rows.Err()
}

// RecomputeSanctions marks the finished match as served for every open
// suspension of a team that played it. Each (sanction, match) pair is stored
// once, so repeating the call for the same match changes nothing. It returns
// the players whose suspensions advanced.
func (r *Repository) RecomputeSanctions(ctx context.Context, matchID int64) ([]int64, error) {
	query := `
		WITH m AS (
			SELECT id, category_edition_id, home_team_id, away_team_id, scheduled_at
			FROM matches
			WHERE id = $1 AND state = 'finished'
		),
		inserted AS (
			INSERT INTO sanction_served (sanction_id, match_id)
			SELECT s.id, m.id
			FROM sanctions s
			JOIN m ON s.category_edition_id = m.category_edition_id
			WHERE s.team_id IN (m.home_team_id, m.away_team_id)
				AND s.origin_match_id IS DISTINCT FROM m.id
				AND s.issued_at <= m.scheduled_at
				AND (SELECT COUNT(*) FROM sanction_served ss WHERE ss.sanction_id = s.id) < s.total
			ON CONFLICT (sanction_id, match_id) DO NOTHING
			RETURNING sanction_id
		)
		SELECT DISTINCT s.player_id
		FROM inserted i
		JOIN sanctions s ON s.id = i.sanction_id
		ORDER BY s.player_id
	`
	rows, err := r.pool.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("recomputing sanctions: %w", err)
	}
	defer rows.Close()

	players := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning sanctioned player: %w", err)
		}
		players = append(players, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recomputing sanctions: %w", err)
	}
	return players, nil
}

// ApplyEvent persists a match event in one transaction and returns it with
// its scope filled from the match row. New goals and cards get their ids.
func (r *Repository) ApplyEvent(ctx context.Context, ev domain.MatchEvent) (domain.MatchEvent, error) {
	var applied domain.MatchEvent
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + matchColumns + ` FROM matches m WHERE m.id = $1 FOR UPDATE`
		match, err := scanMatch(tx.QueryRow(ctx, query, ev.EventScope().MatchID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrMatchNotFound
			}
			return fmt.Errorf("locking match: %w", err)
		}

		applied, err = applyEvent(ctx, tx, &match, ev)
		if err != nil {
			return err
		}
		applied = domain.WithScope(applied, domain.Scope{
			MatchID:           match.ID,
			ZoneID:            match.ZoneID,
			CategoryEditionID: match.CategoryEditionID,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("applying %s: %w", ev.Type(), err)
	}
	return applied, nil
}

func applyEvent(ctx context.Context, tx pgx.Tx, match *domain.Match, ev domain.MatchEvent) (domain.MatchEvent, error) {
	switch e := ev.(type) {
	case domain.GoalAdded:
		err := tx.QueryRow(ctx, `
			INSERT INTO goals (match_id, player_id, team_id, minute, own_goal, penalty)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, match.ID, e.Goal.PlayerID, e.Goal.TeamID, e.Goal.Minute, e.Goal.OwnGoal, e.Goal.Penalty).Scan(&e.Goal.ID)
		if err != nil {
			return nil, fmt.Errorf("inserting goal: %w", err)
		}
		return e, syncScore(ctx, tx, match.ID)

	case domain.GoalEdited:
		tag, err := tx.Exec(ctx, `
			UPDATE goals SET player_id = $3, team_id = $4, minute = $5, own_goal = $6, penalty = $7
			WHERE id = $1 AND match_id = $2
		`, e.Goal.ID, match.ID, e.Goal.PlayerID, e.Goal.TeamID, e.Goal.Minute, e.Goal.OwnGoal, e.Goal.Penalty)
		if err != nil {
			return nil, fmt.Errorf("updating goal: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, domain.ErrIncidentNotFound
		}
		return e, syncScore(ctx, tx, match.ID)

	case domain.GoalRemoved:
		tag, err := tx.Exec(ctx, `DELETE FROM goals WHERE id = $1 AND match_id = $2`, e.Goal.ID, match.ID)
		if err != nil {
			return nil, fmt.Errorf("deleting goal: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, domain.ErrIncidentNotFound
		}
		return e, syncScore(ctx, tx, match.ID)

	case domain.CardAdded:
		err := tx.QueryRow(ctx, `
			INSERT INTO cards (match_id, player_id, team_id, minute, card_type)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, match.ID, e.Card.PlayerID, e.Card.TeamID, e.Card.Minute, string(e.Card.Type)).Scan(&e.Card.ID)
		if err != nil {
			return nil, fmt.Errorf("inserting card: %w", err)
		}
		return e, syncSanction(ctx, tx, match, e.Card)

	case domain.CardEdited:
		var previous int64
		err := tx.QueryRow(ctx, `
			WITH prev AS (
				SELECT id, player_id FROM cards WHERE id = $1 AND match_id = $2
			)
			UPDATE cards c SET player_id = $3, team_id = $4, minute = $5, card_type = $6
			FROM prev
			WHERE c.id = prev.id
			RETURNING prev.player_id
		`, e.Card.ID, match.ID, e.Card.PlayerID, e.Card.TeamID, e.Card.Minute, string(e.Card.Type)).Scan(&previous)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.ErrIncidentNotFound
			}
			return nil, fmt.Errorf("updating card: %w", err)
		}
		if previous != e.Card.PlayerID {
			e.Card.PreviousPlayerID = previous
		}
		return e, syncSanction(ctx, tx, match, e.Card)

	case domain.CardRemoved:
		// Sanctions issued for the card cascade with it
		var cardType string
		err := tx.QueryRow(ctx, `
			DELETE FROM cards WHERE id = $1 AND match_id = $2
			RETURNING player_id, team_id, minute, card_type
		`, e.Card.ID, match.ID).Scan(&e.Card.PlayerID, &e.Card.TeamID, &e.Card.Minute, &cardType)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.ErrIncidentNotFound
			}
			return nil, fmt.Errorf("deleting card: %w", err)
		}
		e.Card.Type = domain.CardType(cardType)
		return e, nil

	case domain.MatchStateChanged:
		_, err := tx.Exec(ctx, `
			UPDATE matches SET
				state = $2,
				home_goals = CASE WHEN $2 = 'scheduled' THEN home_goals ELSE COALESCE(home_goals, 0) END,
				away_goals = CASE WHEN $2 = 'scheduled' THEN away_goals ELSE COALESCE(away_goals, 0) END,
				updated_at = NOW()
			WHERE id = $1
		`, match.ID, string(e.State))
		if err != nil {
			return nil, fmt.Errorf("updating match state: %w", err)
		}
		e.HomeTeamID = match.HomeTeamID
		e.AwayTeamID = match.AwayTeamID
		return e, nil

	case domain.MatchScoreChanged:
		_, err := tx.Exec(ctx, `
			UPDATE matches SET home_goals = $2, away_goals = $3, updated_at = NOW() WHERE id = $1
		`, match.ID, e.HomeGoals, e.AwayGoals)
		if err != nil {
			return nil, fmt.Errorf("updating match score: %w", err)
		}
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEventType, ev.Type())
}

// syncScore derives the score from the goal list; own goals count for the opponent
func syncScore(ctx context.Context, tx pgx.Tx, matchID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE matches m SET
			home_goals = (SELECT COUNT(*) FROM goals g WHERE g.match_id = m.id
				AND ((g.team_id = m.home_team_id AND NOT g.own_goal) OR (g.team_id = m.away_team_id AND g.own_goal))),
			away_goals = (SELECT COUNT(*) FROM goals g WHERE g.match_id = m.id
				AND ((g.team_id = m.away_team_id AND NOT g.own_goal) OR (g.team_id = m.home_team_id AND g.own_goal))),
			updated_at = NOW()
		WHERE m.id = $1
	`, matchID)
	if err != nil {
		return fmt.Errorf("syncing score: %w", err)
	}
	return nil
}

// syncSanction keeps the suspension issued for a card in line with its type
func syncSanction(ctx context.Context, tx pgx.Tx, match *domain.Match, card domain.CardPayload) error {
	if card.Type == domain.CardYellow {
		if _, err := tx.Exec(ctx, `DELETE FROM sanctions WHERE card_id = $1`, card.ID); err != nil {
			return fmt.Errorf("clearing sanction: %w", err)
		}
		return nil
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO sanctions (player_id, team_id, category_edition_id, card_id, origin_match_id, total, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (card_id) DO UPDATE SET player_id = $1, team_id = $2
	`, card.PlayerID, card.TeamID, match.CategoryEditionID, card.ID, match.ID, domain.RedCardSuspension, match.ScheduledAt)
	if err != nil {
		return fmt.Errorf("issuing sanction: %w", err)
	}
	return nil
}
