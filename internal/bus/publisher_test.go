package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"aegis/internal/deadletter"
	"aegis/internal/pkg/circuit"
	"aegis/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func TestRetryingPublisherSucceedsAfterTransientFailures(t *testing.T) {
	next := new(mockPublisher)
	next.On("Publish", mock.Anything, mock.Anything).Return(ErrQueueFull).Twice()
	next.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	p := NewRetryingPublisher(next, PublisherOptions{MaxAttempts: 5, Backoff: fastBackoff()})
	require.NoError(t, p.Publish(context.Background(), mustMessage(t, "risk-alerts", "k", 1)))
	next.AssertNumberOfCalls(t, "Publish", 3)
}

func TestRetryingPublisherExhaustionDeadLetters(t *testing.T) {
	next := new(mockPublisher)
	next.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	dl := deadletter.NewMemoryStore()

	p := NewRetryingPublisher(next, PublisherOptions{MaxAttempts: 3, Backoff: fastBackoff(), DeadLetters: dl})
	msg := mustMessage(t, "final-trade-execution", "BTCUSDT", map[string]string{"intent_id": "i"})
	err := p.Publish(context.Background(), msg)
	require.ErrorIs(t, err, types.ErrPublishFailure)
	next.AssertNumberOfCalls(t, "Publish", 3)

	letters, err := dl.List(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, deadletter.StagePublish, letters[0].Stage)
	assert.Equal(t, msg.ID, letters[0].MessageID)
	assert.Contains(t, letters[0].Error, "broker down")
}

func TestRetryingPublisherBreakerShortCircuits(t *testing.T) {
	next := new(mockPublisher)
	next.On("Publish", mock.Anything, mock.Anything).Return(errors.New("down"))
	breaker := circuit.NewCircuitBreaker("bus", 2, time.Hour)

	p := NewRetryingPublisher(next, PublisherOptions{MaxAttempts: 4, Backoff: fastBackoff(), Breaker: breaker})
	err := p.Publish(context.Background(), mustMessage(t, "t", "k", 1))
	require.ErrorIs(t, err, types.ErrPublishFailure)
	next.AssertNumberOfCalls(t, "Publish", 2)
	assert.Equal(t, circuit.StateOpen, breaker.State())
}

func TestRetryingPublisherStopsOnCancel(t *testing.T) {
	next := new(mockPublisher)
	next.On("Publish", mock.Anything, mock.Anything).Return(errors.New("down"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewRetryingPublisher(next, PublisherOptions{MaxAttempts: 10, Backoff: Backoff{Min: time.Second}})
	err := p.Publish(ctx, mustMessage(t, "t", "k", 1))
	assert.ErrorIs(t, err, context.Canceled)
}
