// Package bus 是各服务之间的消息通道：按主题发布、按 key 保序投递、至少一次语义。
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aegis/internal/types"

	"github.com/google/uuid"
)

var (
	ErrQueueFull    = errors.New("bus: queue full")
	ErrQueueClosed  = errors.New("bus: queue closed")
	ErrBusRunning   = errors.New("bus: subscribe after run")
	ErrEmptyTopic   = errors.New("bus: topic is empty")
	ErrNoSubscriber = errors.New("bus: no subscriber")
)

// Message 是通道上传输的单元；同一 Key 的消息按发布顺序投递。
type Message struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Key         string          `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
	// Attempt 从 1 开始，重投时递增。
	Attempt int `json:"attempt,omitempty"`
}

// Handler 处理一条消息。返回 Permanent 错误或 ErrMalformedMessage 时不再重试。
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Subscriber interface {
	// Subscribe 为消费组 group 注册 topic 的处理器；不同组各自收到全部消息。
	Subscribe(topic, group string, h Handler) error
}

// Bus 同时提供发布与订阅，Run 阻塞直到 ctx 取消。
type Bus interface {
	Publisher
	Subscriber
	Run(ctx context.Context) error
	Close() error
}

// NewMessage 编码 payload 并生成消息 ID。
func NewMessage(topic, key string, payload any) (Message, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Message{}, ErrEmptyTopic
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return Message{
		ID:          uuid.NewString(),
		Topic:       topic,
		Key:         key,
		Payload:     raw,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// PublishJSON 是 NewMessage + Publish 的简写。
func PublishJSON(ctx context.Context, p Publisher, topic, key string, payload any) error {
	msg, err := NewMessage(topic, key, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, msg)
}

// Decode 解码消息体；失败时包装为 ErrMalformedMessage。
func Decode(msg Message, v any) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: %s message %s has empty payload", types.ErrMalformedMessage, msg.Topic, msg.ID)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: %s message %s: %v", types.ErrMalformedMessage, msg.Topic, msg.ID, err)
	}
	return nil
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记一个不应重投的错误。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断错误是否应直接丢弃消息。
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *permanentError
	return errors.As(err, &pe) || errors.Is(err, types.ErrMalformedMessage)
}

// Middleware 包装 Handler。
type Middleware func(Handler) Handler

// Chain 按顺序套用中间件，第一个在最外层。
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
