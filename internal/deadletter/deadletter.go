// Package deadletter 保存无法投递或无法发布的消息，供人工排查与重放。
package deadletter

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Stage 标识消息在哪个环节失败。
type Stage string

const (
	StagePublish Stage = "publish"
	StageConsume Stage = "consume"
)

// Letter 是一条死信。
type Letter struct {
	ID        int64           `json:"id"`
	MessageID string          `json:"message_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key,omitempty"`
	Group     string          `json:"group,omitempty"`
	Stage     Stage           `json:"stage"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store 持久化死信。
type Store interface {
	Put(ctx context.Context, l Letter) error
	// List 按创建时间倒序返回；topic 为空表示全部主题。
	List(ctx context.Context, topic string, limit int) ([]Letter, error)
	Close() error
}

// MemoryStore 是进程内实现。
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	letters []Letter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Put(ctx context.Context, l Letter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	l.ID = s.nextID
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	s.letters = append(s.letters, l)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, topic string, limit int) ([]Letter, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Letter, 0, len(s.letters))
	for _, l := range s.letters {
		if topic == "" || l.Topic == topic {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
