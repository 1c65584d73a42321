package bus

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"aegis/internal/deadletter"
	"aegis/internal/store/gormstore"
	"aegis/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLBus(t *testing.T, dl deadletter.Store) *SQLBus {
	t.Helper()
	st, err := gormstore.OpenSQLite(filepath.Join(t.TempDir(), "bus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	b, err := NewSQLBus(st.GormDB(), SQLOptions{
		PollInterval:  5 * time.Millisecond,
		BatchSize:     10,
		MaxDeliveries: 2,
		Backoff:       fastBackoff(),
		DeadLetters:   dl,
	})
	require.NoError(t, err)
	return b
}

func TestSQLBusDeliversInOrderAndCommitsOffset(t *testing.T) {
	b := newTestSQLBus(t, nil)
	var mu sync.Mutex
	var got []int
	require.NoError(t, b.Subscribe("trade-reports", "journal", func(ctx context.Context, msg Message) error {
		var n int
		if err := Decode(msg, &n); err != nil {
			return err
		}
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
		return nil
	}))
	for i := 0; i < 25; i++ {
		require.NoError(t, b.Publish(context.Background(), mustMessage(t, "trade-reports", "k", i)))
	}
	startBus(t, b)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 25
	}, 3*time.Second, 10*time.Millisecond)
	mu.Lock()
	for i, n := range got {
		assert.Equal(t, i, n)
	}
	mu.Unlock()

	require.Eventually(t, func() bool {
		var off model.BusOffsetModel
		if err := b.db.Where("consumer_group = ? AND topic = ?", "journal", "trade-reports").Take(&off).Error; err != nil {
			return false
		}
		return off.LastSeq == 25
	}, time.Second, 10*time.Millisecond)
}

func TestSQLBusPublishIsIdempotentByID(t *testing.T) {
	b := newTestSQLBus(t, nil)
	msg := mustMessage(t, "t", "k", 1)
	require.NoError(t, b.Publish(context.Background(), msg))
	require.NoError(t, b.Publish(context.Background(), msg))
	var count int64
	require.NoError(t, b.db.Model(&model.BusMessageModel{}).Where("id = ?", msg.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSQLBusDeadLettersPoisonMessage(t *testing.T) {
	dl := deadletter.NewMemoryStore()
	b := newTestSQLBus(t, dl)
	var mu sync.Mutex
	var ok []int
	require.NoError(t, b.Subscribe("t", "g", func(ctx context.Context, msg Message) error {
		var n int
		if err := Decode(msg, &n); err != nil {
			return err
		}
		if n == 1 {
			return errors.New("poison")
		}
		mu.Lock()
		ok = append(ok, n)
		mu.Unlock()
		return nil
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(context.Background(), mustMessage(t, "t", "k", i)))
	}
	startBus(t, b)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ok) == 2
	}, 3*time.Second, 10*time.Millisecond)
	letters, err := dl.List(context.Background(), "t", 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, 2, letters[0].Attempts)
}
