package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aegis/internal/deadletter"
	"aegis/internal/store/model"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLOptions 配置基于数据库的总线。
type SQLOptions struct {
	PollInterval  time.Duration
	BatchSize     int
	MaxDeliveries int
	Backoff       Backoff
	DeadLetters   deadletter.Store
}

// SQLBus 把消息追加到 bus_messages，各消费组按 seq 轮询并在处理完成后提交偏移。
// 多个进程共享同一个库即可跨进程通信；每个 (group, topic) 只应有一个消费进程。
type SQLBus struct {
	db      *gorm.DB
	opts    SQLOptions
	policy  deliveryPolicy
	mu      sync.Mutex
	subs    []*subscription
	running bool
}

var _ Bus = (*SQLBus)(nil)

func NewSQLBus(db *gorm.DB, opts SQLOptions) (*SQLBus, error) {
	if db == nil {
		return nil, fmt.Errorf("sql bus requires a database")
	}
	if err := db.AutoMigrate(&model.BusMessageModel{}, &model.BusOffsetModel{}); err != nil {
		return nil, err
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	return &SQLBus{
		db:   db,
		opts: opts,
		policy: deliveryPolicy{
			maxDeliveries: opts.MaxDeliveries,
			backoff:       opts.Backoff,
			deadLetters:   opts.DeadLetters,
		},
	}, nil
}

func (b *SQLBus) Publish(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return ErrEmptyTopic
	}
	row := model.BusMessageModel{
		ID:          msg.ID,
		Topic:       msg.Topic,
		Key:         msg.Key,
		Payload:     datatypes.JSON(msg.Payload),
		PublishedAt: msg.PublishedAt,
	}
	if row.PublishedAt.IsZero() {
		row.PublishedAt = time.Now().UTC()
	}
	// 重试发布同一条消息不产生重复行。
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&row).Error
}

func (b *SQLBus) Subscribe(topic, group string, h Handler) error {
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
	for _, s := range b.subs {
		if s.topic == topic && s.group == group {
			return fmt.Errorf("bus: group %q already subscribed to %s", group, topic)
		}
	}
	b.subs = append(b.subs, &subscription{topic: topic, group: group, handler: h})
	return nil
}

func (b *SQLBus) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bus: already running")
	}
	b.running = true
	subs := append([]*subscription(nil), b.subs...)
	b.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range subs {
		s := s
		g.Go(func() error { return b.consume(gctx, s) })
	}
	log.Infof("SQL 总线启动: %d 个订阅, poll=%s batch=%d", len(subs), b.opts.PollInterval, b.opts.BatchSize)
	return g.Wait()
}

func (b *SQLBus) consume(ctx context.Context, s *subscription) error {
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()
	for {
		n, err := b.poll(ctx, s)
		if err != nil && ctx.Err() == nil {
			log.Warnf("轮询 topic=%s group=%s 失败: %v", s.topic, s.group, err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if n >= b.opts.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll 处理一批新消息，返回处理条数。
func (b *SQLBus) poll(ctx context.Context, s *subscription) (int, error) {
	last, err := b.offset(ctx, s.group, s.topic)
	if err != nil {
		return 0, err
	}
	var rows []model.BusMessageModel
	err = b.db.WithContext(ctx).
		Where("topic = ? AND seq > ?", s.topic, last).
		Order("seq ASC").
		Limit(b.opts.BatchSize).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}
	for i, row := range rows {
		msg := Message{
			ID:          row.ID,
			Topic:       row.Topic,
			Key:         row.Key,
			Payload:     []byte(row.Payload),
			PublishedAt: row.PublishedAt,
		}
		if !b.policy.deliver(ctx, s.group, s.handler, msg) {
			return i, ctx.Err()
		}
		if err := b.commit(ctx, s.group, s.topic, row.Seq); err != nil {
			return i, err
		}
	}
	return len(rows), nil
}

func (b *SQLBus) offset(ctx context.Context, group, topic string) (int64, error) {
	var off model.BusOffsetModel
	err := b.db.WithContext(ctx).Where("consumer_group = ? AND topic = ?", group, topic).Take(&off).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return off.LastSeq, nil
}

func (b *SQLBus) commit(ctx context.Context, group, topic string, seq int64) error {
	off := model.BusOffsetModel{Group: group, Topic: topic, LastSeq: seq, UpdatedAt: time.Now().UTC()}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "consumer_group"}, {Name: "topic"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seq", "updated_at"}),
	}).Create(&off).Error
}

// Close 不关闭底层连接，连接由 store 持有。
func (b *SQLBus) Close() error { return nil }
