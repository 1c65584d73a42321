package bus

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"aegis/internal/deadletter"

	"golang.org/x/sync/errgroup"
)

// MemoryOptions 配置进程内总线。
type MemoryOptions struct {
	Partitions    int
	QueueSize     int
	MaxDeliveries int
	Backoff       Backoff
	DeadLetters   deadletter.Store
}

type subscription struct {
	topic      string
	group      string
	handler    Handler
	partitions []*Queue
}

// MemoryBus 是进程内实现：每个订阅按 hash(key) 分区，每个分区一个消费协程，保证同 key 有序。
type MemoryBus struct {
	mu      sync.RWMutex
	opts    MemoryOptions
	policy  deliveryPolicy
	subs    map[string][]*subscription
	running bool
	closed  bool
}

var _ Bus = (*MemoryBus)(nil)

func NewMemoryBus(opts MemoryOptions) *MemoryBus {
	if opts.Partitions <= 0 {
		opts.Partitions = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	return &MemoryBus{
		opts: opts,
		policy: deliveryPolicy{
			maxDeliveries: opts.MaxDeliveries,
			backoff:       opts.Backoff,
			deadLetters:   opts.DeadLetters,
		},
		subs: make(map[string][]*subscription),
	}
}

func (b *MemoryBus) Subscribe(topic, group string, h Handler) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if h == nil {
		return fmt.Errorf("bus: nil handler for %s", topic)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrBusRunning
	}
	if b.closed {
		return ErrQueueClosed
	}
	for _, s := range b.subs[topic] {
		if s.group == group {
			return fmt.Errorf("bus: group %q already subscribed to %s", group, topic)
		}
	}
	sub := &subscription{topic: topic, group: group, handler: h}
	for i := 0; i < b.opts.Partitions; i++ {
		sub.partitions = append(sub.partitions, NewQueue(b.opts.QueueSize))
	}
	b.subs[topic] = append(b.subs[topic], sub)
	return nil
}

// Publish 非阻塞入队；任一订阅的分区已满时返回 ErrQueueFull，由调用方重试。
func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return ErrEmptyTopic
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrQueueClosed
	}
	subs := b.subs[msg.Topic]
	if len(subs) == 0 {
		log.Debugf("topic %s 无订阅者，消息 %s 被忽略", msg.Topic, msg.ID)
		return nil
	}
	idx := partitionFor(msg.Key, b.opts.Partitions)
	for _, s := range subs {
		if err := s.partitions[idx].TryPublish(msg); err != nil {
			return fmt.Errorf("%w: topic=%s group=%s partition=%d", err, msg.Topic, s.group, idx)
		}
	}
	return nil
}

// Run 为每个分区启动一个消费协程，直到 ctx 取消。
func (b *MemoryBus) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bus: already running")
	}
	b.running = true
	var all []*subscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range all {
		for _, q := range s.partitions {
			s, q := s, q
			g.Go(func() error {
				q.Run(gctx, func(m Message) {
					b.policy.deliver(gctx, s.group, s.handler, m)
				})
				return nil
			})
		}
	}
	log.Infof("内存总线启动: %d 个订阅, 每订阅 %d 个分区", len(all), b.opts.Partitions)
	return g.Wait()
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			for _, q := range s.partitions {
				q.Close()
			}
		}
	}
	return nil
}

// Pending 返回某主题所有分区中尚未消费的消息数。
func (b *MemoryBus) Pending(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs[topic] {
		for _, q := range s.partitions {
			n += q.Len()
		}
	}
	return n
}

func partitionFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
