package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liga-sync/internal/config"
	"github.com/liga-sync/internal/domain"
)

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "match-events" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

type recordingHandler struct {
	mu      sync.Mutex
	applied []domain.MatchEvent
	calls   int
	fail    func(ev domain.MatchEvent) error
}

func (h *recordingHandler) ApplyEvent(_ context.Context, ev domain.MatchEvent) (domain.MatchEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.fail != nil {
		if err := h.fail(ev); err != nil {
			return nil, err
		}
	}
	h.applied = append(h.applied, ev)
	return ev, nil
}

func encode(t *testing.T, ev domain.MatchEvent) []byte {
	t.Helper()
	data, err := domain.EncodeEvent(ev)
	require.NoError(t, err)
	return data
}

func newClaimHandler(handler EventHandler, batchSize int) *consumerGroupHandler {
	return &consumerGroupHandler{
		config: &config.KafkaConfig{
			BatchSize:     batchSize,
			BatchTimeout:  time.Hour,
			RetryAttempts: 3,
			RetryDelay:    time.Millisecond,
		},
		handler: handler,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

var (
	kickoff = domain.MatchStateChanged{
		Scope:        domain.Scope{MatchID: 7},
		StatePayload: domain.StatePayload{State: domain.MatchStateInProgress},
	}
	opener = domain.GoalAdded{
		Scope: domain.Scope{MatchID: 7},
		Goal:  domain.GoalPayload{PlayerID: 40, TeamID: 1, Minute: 3},
	}
	score = domain.MatchScoreChanged{Scope: domain.Scope{MatchID: 7}, ScorePayload: domain.ScorePayload{HomeGoals: 1}}
)

func TestConsumeClaim_AppliesInOrderAndSkipsMalformed(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{}
	h := newClaimHandler(handler, 2)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 0, Value: encode(t, kickoff)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 1, Value: []byte(`{"type":"goal:added"}`)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 2, Value: encode(t, opener)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 3, Value: encode(t, score)}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Equal(t, []domain.MatchEvent{kickoff, opener, score}, handler.applied)
	assert.Equal(t, []int64{0, 1, 2, 3}, session.marked)
}

func TestConsumeClaim_RejectedEventIsMarked(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{fail: func(ev domain.MatchEvent) error {
		if ev.Type() == domain.EventGoalAdded {
			return fmt.Errorf("applying goal:added: %w", domain.ErrMatchNotFound)
		}
		return nil
	}}
	h := newClaimHandler(handler, 10)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 0, Value: encode(t, opener)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 1, Value: encode(t, score)}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Equal(t, 2, handler.calls, "rejected events are not retried")
	assert.Equal(t, []domain.MatchEvent{score}, handler.applied)
	assert.Equal(t, []int64{0, 1}, session.marked)
}

func TestConsumeClaim_TransientFailureLeavesOffsetUnmarked(t *testing.T) {
	t.Parallel()

	outage := errors.New("connection refused")
	handler := &recordingHandler{fail: func(ev domain.MatchEvent) error {
		if ev.Type() == domain.EventGoalAdded {
			return outage
		}
		return nil
	}}
	h := newClaimHandler(handler, 10)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 0, Value: encode(t, kickoff)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 1, Value: encode(t, opener)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 2, Value: encode(t, score)}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	err := h.ConsumeClaim(session, claim)
	require.ErrorIs(t, err, outage)

	assert.Equal(t, []domain.MatchEvent{kickoff}, handler.applied)
	assert.Equal(t, 4, handler.calls, "one apply plus three attempts for the failing event")
	assert.Equal(t, []int64{0}, session.marked, "nothing from the failed event on is marked")
}

func TestConsumeClaim_RecoversFromBriefOutage(t *testing.T) {
	t.Parallel()

	failures := 2
	handler := &recordingHandler{fail: func(domain.MatchEvent) error {
		if failures > 0 {
			failures--
			return errors.New("connection reset")
		}
		return nil
	}}
	h := newClaimHandler(handler, 10)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 5, Value: encode(t, opener)}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Equal(t, []domain.MatchEvent{opener}, handler.applied)
	assert.Equal(t, []int64{5}, session.marked)
}

func TestPublisher_KeysByMatch(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "7", string(key))
		assert.Equal(t, "match-events", msg.Topic)

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		ev, err := domain.DecodeEnvelope(value)
		require.NoError(t, err)
		assert.Equal(t, domain.EventCardAdded, ev.Type())
		return nil
	})

	p := NewPublisherWithProducer(producer, "match-events")
	require.NoError(t, p.Publish(domain.CardAdded{
		Scope: domain.Scope{MatchID: 7, CategoryEditionID: 3},
		Card:  domain.CardPayload{PlayerID: 40, TeamID: 1, Minute: 55, Type: domain.CardRed},
	}))
	require.NoError(t, p.Close())
}
