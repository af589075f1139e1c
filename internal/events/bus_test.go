package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lookup-billing-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversInOrder(t *testing.T) {
	bus := NewBus(100)

	var mu sync.Mutex
	var got []int
	_, err := bus.Subscribe(func(ctx context.Context, e models.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Payload["n"].(int))
		return nil
	}, models.EventQueryExecuted)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, bus.Publish(context.Background(), models.Event{
			Type:    models.EventQueryExecuted,
			Payload: map[string]any{"n": i},
		}))
	}
	bus.Close()

	require.Len(t, got, 50)
	for i, n := range got {
		assert.Equal(t, i, n)
	}
}

func TestPublish_OnlyMatchingTopic(t *testing.T) {
	bus := NewBus(10)

	var executed, purchased int
	var mu sync.Mutex
	bus.Subscribe(func(ctx context.Context, e models.Event) error {
		mu.Lock()
		executed++
		mu.Unlock()
		return nil
	}, models.EventQueryExecuted)
	bus.Subscribe(func(ctx context.Context, e models.Event) error {
		mu.Lock()
		purchased++
		mu.Unlock()
		return nil
	}, models.EventCreditsPurchased)

	bus.Publish(context.Background(), models.Event{Type: models.EventCreditsPurchased})
	bus.Publish(context.Background(), models.Event{Type: "unknown.topic"})
	bus.Close()

	assert.Equal(t, 0, executed)
	assert.Equal(t, 1, purchased)
}

func TestSubscribe_SeveralTypesShareOneQueue(t *testing.T) {
	bus := NewBus(1000)

	var mu sync.Mutex
	var got []string
	_, err := bus.Subscribe(func(ctx context.Context, e models.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Type)
		return nil
	}, models.EventCreditsPurchased, models.EventQueryExecuted, models.EventCreditsPurchased)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 200; i++ {
		topic := models.EventCreditsPurchased
		if i%2 == 1 {
			topic = models.EventQueryExecuted
		}
		want = append(want, topic)
		require.NoError(t, bus.Publish(context.Background(), models.Event{Type: topic}))
	}
	bus.Close()

	// Each event once, in publish order across both types
	assert.Equal(t, want, got)
}

func TestUnsubscribe_SeveralTypes(t *testing.T) {
	bus := NewBus(10)

	var calls int
	var mu sync.Mutex
	sub, err := bus.Subscribe(func(ctx context.Context, e models.Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}, models.EventQueryExecuted, models.EventCreditsPurchased)
	require.NoError(t, err)

	sub.Unsubscribe()

	bus.Publish(context.Background(), models.Event{Type: models.EventQueryExecuted})
	bus.Publish(context.Background(), models.Event{Type: models.EventCreditsPurchased})
	bus.Close()
	sub.Unsubscribe()

	assert.Equal(t, 0, calls)
}

func TestPublish_FillsIdAndTimestamp(t *testing.T) {
	bus := NewBus(1)

	received := make(chan models.Event, 1)
	bus.Subscribe(func(ctx context.Context, e models.Event) error {
		received <- e
		return nil
	}, models.EventQueryExecuted)
	require.NoError(t, bus.Publish(context.Background(), models.Event{Type: models.EventQueryExecuted}))
	bus.Close()

	e := <-received
	assert.NotEmpty(t, e.Id)
	assert.False(t, e.Timestamp.IsZero())
}

func TestPublish_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus(2)

	release := make(chan struct{})
	var handled int
	var mu sync.Mutex
	bus.Subscribe(func(ctx context.Context, e models.Event) error {
		<-release
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	}, models.EventQueryExecuted)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(context.Background(), models.Event{Type: models.EventQueryExecuted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	close(release)
	bus.Close()

	// One event in the handler plus two queued at most; the rest are dropped
	assert.LessOrEqual(t, handled, 3)
	assert.Equal(t, uint64(10-handled), bus.Dropped())
}

func TestPublish_HandlerErrorsAndPanicsAreAbsorbed(t *testing.T) {
	bus := NewBus(10)

	var calls int
	var mu sync.Mutex
	bus.Subscribe(func(ctx context.Context, e models.Event) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n {
		case 1:
			return errors.New("handler failure")
		case 2:
			panic("handler panic")
		}
		return nil
	}, models.EventQueryExecuted)

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), models.Event{Type: models.EventQueryExecuted}))
	}
	bus.Close()

	assert.Equal(t, 3, calls)
}

func TestPublish_CanceledPublisherContextStillDelivers(t *testing.T) {
	bus := NewBus(10)

	errs := make(chan error, 1)
	bus.Subscribe(func(ctx context.Context, e models.Event) error {
		errs <- ctx.Err()
		return nil
	}, models.EventQueryExecuted)

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, models.Event{Type: models.EventQueryExecuted})
	cancel()
	bus.Close()

	assert.NoError(t, <-errs)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(10)

	var calls int
	var mu sync.Mutex
	sub, err := bus.Subscribe(func(ctx context.Context, e models.Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}, models.EventQueryExecuted)
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()

	bus.Publish(context.Background(), models.Event{Type: models.EventQueryExecuted})
	bus.Close()

	assert.Equal(t, 0, calls)
}

func TestClosedBus(t *testing.T) {
	bus := NewBus(10)
	bus.Close()
	bus.Close()

	assert.ErrorIs(t, bus.Publish(context.Background(), models.Event{Type: models.EventQueryExecuted}), ErrClosed)

	_, err := bus.Subscribe(func(ctx context.Context, e models.Event) error { return nil }, models.EventQueryExecuted)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublish_Validation(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	assert.ErrorIs(t, bus.Publish(context.Background(), models.Event{}), ErrMissingTopic)

	_, err := bus.Subscribe(func(ctx context.Context, e models.Event) error { return nil }, "")
	assert.ErrorIs(t, err, ErrMissingTopic)

	_, err = bus.Subscribe(func(ctx context.Context, e models.Event) error { return nil })
	assert.ErrorIs(t, err, ErrMissingTopic)

	_, err = bus.Subscribe(nil, models.EventQueryExecuted)
	assert.Error(t, err)
}
