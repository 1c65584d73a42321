// Package memstore 提供进程内的 store.Store 实现，用于测试与单进程部署。
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"aegis/internal/store"
	"aegis/internal/types"
)

type dataset struct {
	portfolio  *types.PortfolioState
	intents    map[string]types.IntentRecord
	strategies []types.StrategyConfig
	reports    map[string]types.TradeReport
}

func newDataset() *dataset {
	return &dataset{
		intents: make(map[string]types.IntentRecord),
		reports: make(map[string]types.TradeReport),
	}
}

// clone 复制出事务工作区；提交时整体替换。
func (d *dataset) clone() *dataset {
	out := &dataset{
		intents:    make(map[string]types.IntentRecord, len(d.intents)),
		strategies: append([]types.StrategyConfig(nil), d.strategies...),
		reports:    make(map[string]types.TradeReport, len(d.reports)),
	}
	if d.portfolio != nil {
		p := d.portfolio.Clone()
		out.portfolio = &p
	}
	for k, v := range d.intents {
		out.intents[k] = v
	}
	for k, v := range d.reports {
		out.reports[k] = v
	}
	return out
}

// Store 是并发安全的内存实现；打开的 UnitOfWork 持有全局锁直到提交或回滚。
type Store struct {
	mu   sync.Mutex
	data *dataset
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: newDataset()}
}

func (s *Store) Begin(ctx context.Context) (store.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &unitOfWork{s: s, work: s.data.clone()}, nil
}

func (s *Store) Portfolio() store.PortfolioRepository       { return &portfolioRepo{view: s.locked} }
func (s *Store) Intents() store.IntentLedger                { return &intentRepo{view: s.locked} }
func (s *Store) Strategies() store.StrategyConfigRepository { return &strategyRepo{view: s.locked} }
func (s *Store) Reports() store.TradeReportRepository       { return &reportRepo{view: s.locked} }

func (s *Store) Close() error { return nil }

func (s *Store) locked(fn func(d *dataset) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

type unitOfWork struct {
	s    *Store
	work *dataset
	done bool
}

func (u *unitOfWork) inWork(fn func(d *dataset) error) error {
	if u.done {
		return errors.New("unit of work already finished")
	}
	return fn(u.work)
}

func (u *unitOfWork) Portfolio() store.PortfolioRepository { return &portfolioRepo{view: u.inWork} }
func (u *unitOfWork) Intents() store.IntentLedger          { return &intentRepo{view: u.inWork} }
func (u *unitOfWork) Strategies() store.StrategyConfigRepository {
	return &strategyRepo{view: u.inWork}
}
func (u *unitOfWork) Reports() store.TradeReportRepository { return &reportRepo{view: u.inWork} }

func (u *unitOfWork) Commit() error {
	if u.done {
		return errors.New("unit of work already finished")
	}
	u.done = true
	u.s.data = u.work
	u.s.mu.Unlock()
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	u.s.mu.Unlock()
	return nil
}

type viewFunc func(fn func(d *dataset) error) error

type portfolioRepo struct{ view viewFunc }

func (r *portfolioRepo) Load(ctx context.Context) (types.PortfolioState, error) {
	var out types.PortfolioState
	err := r.view(func(d *dataset) error {
		if d.portfolio == nil {
			return store.ErrNotFound
		}
		out = d.portfolio.Clone()
		return nil
	})
	return out, err
}

func (r *portfolioRepo) Init(ctx context.Context, seed types.PortfolioState) (bool, error) {
	created := false
	err := r.view(func(d *dataset) error {
		if d.portfolio != nil {
			return nil
		}
		p := seed.Clone()
		if p.Version <= 0 {
			p.Version = 1
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = time.Now().UTC()
		}
		d.portfolio = &p
		created = true
		return nil
	})
	return created, err
}

func (r *portfolioRepo) CompareAndSwap(ctx context.Context, expected int64, next types.PortfolioState) error {
	if err := next.CheckInvariant(); err != nil {
		return err
	}
	return r.view(func(d *dataset) error {
		if d.portfolio == nil || d.portfolio.Version != expected {
			return store.ErrVersionConflict
		}
		p := next.Clone()
		p.Version = expected + 1
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = time.Now().UTC()
		}
		d.portfolio = &p
		return nil
	})
}

type intentRepo struct{ view viewFunc }

func (r *intentRepo) Lookup(ctx context.Context, intentID string) (types.IntentRecord, error) {
	var out types.IntentRecord
	err := r.view(func(d *dataset) error {
		rec, ok := d.intents[intentID]
		if !ok {
			return store.ErrNotFound
		}
		out = rec
		return nil
	})
	return out, err
}

func (r *intentRepo) Record(ctx context.Context, rec types.IntentRecord) error {
	return r.view(func(d *dataset) error {
		if _, ok := d.intents[rec.IntentID]; ok {
			return store.ErrDuplicateIntent
		}
		d.intents[rec.IntentID] = rec
		return nil
	})
}

func (r *intentRepo) MarkEmitted(ctx context.Context, intentID string) error {
	return r.view(func(d *dataset) error {
		rec, ok := d.intents[intentID]
		if !ok {
			return store.ErrNotFound
		}
		rec.Emitted = true
		d.intents[intentID] = rec
		return nil
	})
}

func (r *intentRepo) ListRecent(ctx context.Context, limit int) ([]types.IntentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []types.IntentRecord
	err := r.view(func(d *dataset) error {
		out = make([]types.IntentRecord, 0, len(d.intents))
		for _, rec := range d.intents {
			out = append(out, rec)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type strategyRepo struct{ view viewFunc }

func (r *strategyRepo) Latest(ctx context.Context) (types.StrategyConfig, error) {
	var out types.StrategyConfig
	err := r.view(func(d *dataset) error {
		if len(d.strategies) == 0 {
			return store.ErrNotFound
		}
		out = d.strategies[len(d.strategies)-1]
		return nil
	})
	return out, err
}

func (r *strategyRepo) Get(ctx context.Context, version int64) (types.StrategyConfig, error) {
	var out types.StrategyConfig
	err := r.view(func(d *dataset) error {
		for _, cfg := range d.strategies {
			if cfg.Version == version {
				out = cfg
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (r *strategyRepo) Publish(ctx context.Context, cfg types.StrategyConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.EffectiveFrom.IsZero() {
		cfg.EffectiveFrom = time.Now().UTC()
	}
	return r.view(func(d *dataset) error {
		if cfg.Version != int64(len(d.strategies))+1 {
			return store.ErrVersionConflict
		}
		d.strategies = append(d.strategies, cfg)
		return nil
	})
}

func (r *strategyRepo) History(ctx context.Context, limit int) ([]types.StrategyConfig, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []types.StrategyConfig
	err := r.view(func(d *dataset) error {
		for i := len(d.strategies) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, d.strategies[i])
		}
		return nil
	})
	return out, err
}

type reportRepo struct{ view viewFunc }

func (r *reportRepo) Upsert(ctx context.Context, rep types.TradeReport) error {
	return r.view(func(d *dataset) error {
		prev, ok := d.reports[rep.TradeID]
		if ok {
			rep = mergeReport(prev, rep)
		}
		d.reports[rep.TradeID] = rep
		return nil
	})
}

// mergeReport 保留已有的平仓字段，迟到的开仓回报不会把它们清空。
func mergeReport(prev, next types.TradeReport) types.TradeReport {
	if next.IntentID == "" {
		next.IntentID = prev.IntentID
	}
	if next.ExitPrice == nil {
		next.ExitPrice = prev.ExitPrice
	}
	if next.RealizedPnL == nil {
		next.RealizedPnL = prev.RealizedPnL
	}
	if next.ClosedAt == nil {
		next.ClosedAt = prev.ClosedAt
	}
	if next.RiskAmount <= 0 {
		next.RiskAmount = prev.RiskAmount
	}
	next.Symbol = prev.Symbol
	next.Side = prev.Side
	next.EntryPrice = prev.EntryPrice
	next.OpenedAt = prev.OpenedAt
	return next
}

func (r *reportRepo) Get(ctx context.Context, tradeID string) (types.TradeReport, error) {
	var out types.TradeReport
	err := r.view(func(d *dataset) error {
		rep, ok := d.reports[tradeID]
		if !ok {
			return store.ErrNotFound
		}
		out = rep
		return nil
	})
	return out, err
}

func (r *reportRepo) ListClosedSince(ctx context.Context, since time.Time) ([]types.TradeReport, error) {
	var out []types.TradeReport
	err := r.view(func(d *dataset) error {
		for _, rep := range d.reports {
			if rep.ClosedAt != nil && !rep.ClosedAt.Before(since) {
				out = append(out, rep)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(*out[j].ClosedAt) })
	return out, err
}
