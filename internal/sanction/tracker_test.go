package sanction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/liga-sync/internal/domain"
)

type mockRecomputer struct {
	mock.Mock
}

func (m *mockRecomputer) Recompute(ctx context.Context, trigger domain.MatchFinished) ([]int64, error) {
	args := m.Called(ctx, trigger)
	players, _ := args.Get(0).([]int64)
	return players, args.Error(1)
}

type mockInvalidator struct {
	mock.Mock
}

func (m *mockInvalidator) Invalidate(keys ...domain.Key) {
	m.Called(keys)
}

func inline(task func()) error {
	task()
	return nil
}

func newTestTracker(rec Recomputer, inv Invalidator) *Tracker {
	return NewTracker(rec, inv, inline, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func finished(matchID int64) domain.MatchStateChanged {
	return domain.MatchStateChanged{
		Scope:        domain.Scope{MatchID: matchID, CategoryEditionID: 3},
		StatePayload: domain.StatePayload{State: domain.MatchStateFinished, HomeTeamID: 1, AwayTeamID: 2},
	}
}

func TestTracker_FinishedMatchTriggersRecomputeAndInvalidation(t *testing.T) {
	t.Parallel()

	rec := &mockRecomputer{}
	inv := &mockInvalidator{}
	trigger := domain.MatchFinished{MatchID: 7, CategoryEditionID: 3, HomeTeamID: 1, AwayTeamID: 2}

	rec.On("Recompute", mock.Anything, trigger).Return([]int64{40}, nil).Once()
	inv.On("Invalidate", []domain.Key{domain.SanctionsKey(40)}).Once()

	newTestTracker(rec, inv).Observe(finished(7))

	rec.AssertExpectations(t)
	inv.AssertExpectations(t)
}

func TestTracker_DuplicateDeliveryIsDelegatedToIdempotentRecompute(t *testing.T) {
	t.Parallel()

	rec := &mockRecomputer{}
	inv := &mockInvalidator{}

	// The business layer reports the player only on the first application.
	rec.On("Recompute", mock.Anything, mock.Anything).Return([]int64{40}, nil).Once()
	rec.On("Recompute", mock.Anything, mock.Anything).Return([]int64(nil), nil).Once()
	inv.On("Invalidate", []domain.Key{domain.SanctionsKey(40)}).Once()

	tracker := newTestTracker(rec, inv)
	tracker.Observe(finished(7))
	tracker.Observe(finished(7))

	rec.AssertNumberOfCalls(t, "Recompute", 2)
	inv.AssertNumberOfCalls(t, "Invalidate", 1)
}

func TestTracker_IgnoresOtherEvents(t *testing.T) {
	t.Parallel()

	rec := &mockRecomputer{}
	inv := &mockInvalidator{}
	tracker := newTestTracker(rec, inv)

	tracker.Observe(domain.MatchStateChanged{
		Scope:        domain.Scope{MatchID: 7},
		StatePayload: domain.StatePayload{State: domain.MatchStateInProgress},
	})
	tracker.Observe(domain.CardAdded{Scope: domain.Scope{MatchID: 7}})

	rec.AssertNotCalled(t, "Recompute", mock.Anything, mock.Anything)
	inv.AssertNotCalled(t, "Invalidate", mock.Anything)
}

func TestTracker_RecomputeErrorInvalidatesNothing(t *testing.T) {
	t.Parallel()

	rec := &mockRecomputer{}
	inv := &mockInvalidator{}
	rec.On("Recompute", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()

	newTestTracker(rec, inv).Observe(finished(7))

	rec.AssertExpectations(t)
	assert.Empty(t, inv.Calls)
}
