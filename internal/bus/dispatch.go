package bus

import (
	"context"
	"fmt"
	"runtime/debug"

	"aegis/internal/deadletter"
	"aegis/internal/logger"
	"aegis/internal/metrics"
)

var log = logger.For("bus")

// deliveryPolicy 决定一条消息失败后是重投、丢弃还是进入死信。
type deliveryPolicy struct {
	maxDeliveries int
	backoff       Backoff
	deadLetters   deadletter.Store
}

func (p deliveryPolicy) max() int {
	if p.maxDeliveries <= 0 {
		return 1
	}
	return p.maxDeliveries
}

// deliver 投递直到成功、被判定为永久失败或次数用尽。
// 返回 false 表示 ctx 已取消且消息未确认。
func (p deliveryPolicy) deliver(ctx context.Context, group string, h Handler, msg Message) bool {
	for attempt := 1; ; attempt++ {
		msg.Attempt = attempt
		err := safeHandle(ctx, h, msg)
		if err == nil {
			metrics.BusDeliveries.WithLabelValues(msg.Topic, "ok").Inc()
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if IsPermanent(err) {
			metrics.BusDeliveries.WithLabelValues(msg.Topic, "dropped").Inc()
			log.Warnf("丢弃消息 topic=%s id=%s key=%s group=%s: %v", msg.Topic, msg.ID, msg.Key, group, err)
			return true
		}
		if attempt >= p.max() {
			metrics.BusDeliveries.WithLabelValues(msg.Topic, "dead_letter").Inc()
			log.Errorf("消息投递 %d 次仍失败，写入死信 topic=%s id=%s group=%s: %v", attempt, msg.Topic, msg.ID, group, err)
			p.deadLetter(ctx, group, msg, attempt, err)
			return true
		}
		metrics.BusDeliveries.WithLabelValues(msg.Topic, "retry").Inc()
		log.Debugf("消息处理失败，准备重投 topic=%s id=%s attempt=%d: %v", msg.Topic, msg.ID, attempt, err)
		if !sleepCtx(ctx, p.backoff.Next(attempt)) {
			return false
		}
	}
}

func (p deliveryPolicy) deadLetter(ctx context.Context, group string, msg Message, attempts int, cause error) {
	metrics.DeadLetters.WithLabelValues(msg.Topic, string(deadletter.StageConsume)).Inc()
	if p.deadLetters == nil {
		return
	}
	err := p.deadLetters.Put(ctx, deadletter.Letter{
		MessageID: msg.ID,
		Topic:     msg.Topic,
		Key:       msg.Key,
		Group:     group,
		Stage:     deadletter.StageConsume,
		Payload:   msg.Payload,
		Error:     cause.Error(),
		Attempts:  attempts,
	})
	if err != nil {
		log.Errorf("写入死信失败 topic=%s id=%s: %v", msg.Topic, msg.ID, err)
	}
}

func safeHandle(ctx context.Context, h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("handler panic topic=%s id=%s: %v\n%s", msg.Topic, msg.ID, r, debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}
