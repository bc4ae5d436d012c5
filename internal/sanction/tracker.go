package sanction

import (
	"context"
	"log/slog"
	"time"

	"github.com/liga-sync/internal/domain"
)

// Recomputer is the business-layer contract that advances served counters for a
// finished match and returns the players whose accruals changed. Calling it
// twice for the same match must not count the match twice.
type Recomputer interface {
	Recompute(ctx context.Context, trigger domain.MatchFinished) ([]int64, error)
}

// Invalidator marks cache keys stale. It must be safe to call from any goroutine.
type Invalidator interface {
	Invalidate(keys ...domain.Key)
}

// Tracker reacts to matches reaching the finished state by requesting a sanction
// recompute and invalidating the sanction lists of the affected players.
type Tracker struct {
	recomputer  Recomputer
	invalidator Invalidator
	submit      func(task func()) error
	timeout     time.Duration
	logger      *slog.Logger
}

// NewTracker creates a tracker. submit runs recompute requests off the caller's goroutine.
func NewTracker(recomputer Recomputer, invalidator Invalidator, submit func(task func()) error, timeout time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{
		recomputer:  recomputer,
		invalidator: invalidator,
		submit:      submit,
		timeout:     timeout,
		logger:      logger,
	}
}

// Observe handles one event; anything other than a transition to finished is ignored.
func (t *Tracker) Observe(ev domain.MatchEvent) {
	changed, ok := ev.(domain.MatchStateChanged)
	if !ok || changed.State != domain.MatchStateFinished {
		return
	}

	trigger := domain.MatchFinished{
		MatchID:           changed.MatchID,
		CategoryEditionID: changed.CategoryEditionID,
		HomeTeamID:        changed.HomeTeamID,
		AwayTeamID:        changed.AwayTeamID,
	}
	if err := t.submit(func() { t.recompute(trigger) }); err != nil {
		t.logger.Error("failed to schedule sanction recompute", "id_partido", trigger.MatchID, "error", err)
	}
}

func (t *Tracker) recompute(trigger domain.MatchFinished) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	players, err := t.recomputer.Recompute(ctx, trigger)
	if err != nil {
		t.logger.Error("sanction recompute failed", "id_partido", trigger.MatchID, "error", err)
		return
	}
	if len(players) == 0 {
		return
	}

	keys := make([]domain.Key, 0, len(players))
	for _, playerID := range players {
		keys = append(keys, domain.SanctionsKey(playerID))
	}
	t.invalidator.Invalidate(keys...)

	t.logger.Info("sanctions recomputed", "id_partido", trigger.MatchID, "players", len(players))
}
