package bus

import (
	"context"
	"errors"
	"fmt"

	"aegis/internal/deadletter"
	"aegis/internal/metrics"
	"aegis/internal/pkg/circuit"
	"aegis/internal/types"
)

// RetryingPublisher 在熔断器保护下按指数退避重试发布，最终失败时写入死信并返回 ErrPublishFailure。
type RetryingPublisher struct {
	next        Publisher
	backoff     Backoff
	maxAttempts int
	breaker     *circuit.CircuitBreaker
	deadLetters deadletter.Store
}

type PublisherOptions struct {
	MaxAttempts int
	Backoff     Backoff
	Breaker     *circuit.CircuitBreaker
	DeadLetters deadletter.Store
}

func NewRetryingPublisher(next Publisher, opts PublisherOptions) *RetryingPublisher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &RetryingPublisher{
		next:        next,
		backoff:     opts.Backoff,
		maxAttempts: opts.MaxAttempts,
		breaker:     opts.Breaker,
		deadLetters: opts.DeadLetters,
	}
}

func (p *RetryingPublisher) Publish(ctx context.Context, msg Message) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := p.try(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrEmptyTopic) {
			break
		}
		if attempt < p.maxAttempts && !sleepCtx(ctx, p.backoff.Next(attempt)) {
			return ctx.Err()
		}
	}
	metrics.PublishFailures.WithLabelValues(msg.Topic).Inc()
	log.Errorf("发布失败 topic=%s id=%s key=%s attempts=%d: %v", msg.Topic, msg.ID, msg.Key, p.maxAttempts, lastErr)
	p.deadLetter(ctx, msg, lastErr)
	return fmt.Errorf("%w: topic %s: %v", types.ErrPublishFailure, msg.Topic, lastErr)
}

func (p *RetryingPublisher) try(ctx context.Context, msg Message) error {
	if p.breaker == nil {
		return p.next.Publish(ctx, msg)
	}
	return p.breaker.Do(func() error { return p.next.Publish(ctx, msg) })
}

func (p *RetryingPublisher) deadLetter(ctx context.Context, msg Message, cause error) {
	metrics.DeadLetters.WithLabelValues(msg.Topic, string(deadletter.StagePublish)).Inc()
	if p.deadLetters == nil {
		return
	}
	err := p.deadLetters.Put(context.WithoutCancel(ctx), deadletter.Letter{
		MessageID: msg.ID,
		Topic:     msg.Topic,
		Key:       msg.Key,
		Stage:     deadletter.StagePublish,
		Payload:   msg.Payload,
		Error:     cause.Error(),
		Attempts:  p.maxAttempts,
	})
	if err != nil {
		log.Errorf("写入发布死信失败 topic=%s id=%s: %v", msg.Topic, msg.ID, err)
	}
}
