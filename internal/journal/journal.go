// Package journal 持久化执行层回报，供优化器统计绩效。
package journal

import (
	"context"
	"fmt"

	"aegis/internal/bus"
	"aegis/internal/logger"
	"aegis/internal/pkg/symbol"
	"aegis/internal/store"
	"aegis/internal/types"
)

var log = logger.For("journal")

type Journal struct {
	reports store.TradeReportRepository
	topic   string
}

func New(reports store.TradeReportRepository, topic string) *Journal {
	return &Journal{reports: reports, topic: topic}
}

func (j *Journal) Routes() []bus.Route {
	return []bus.Route{bus.RouteFunc{Name: j.topic, Fn: j.handle}}
}

func (j *Journal) handle(ctx context.Context, msg bus.Message) error {
	var rep types.TradeReport
	if err := bus.Decode(msg, &rep); err != nil {
		return err
	}
	return j.Record(ctx, rep)
}

// Record 写入或合并一条回报；同一 trade_id 的重复投递是幂等的。
func (j *Journal) Record(ctx context.Context, rep types.TradeReport) error {
	if err := rep.Validate(); err != nil {
		return bus.Permanent(err)
	}
	rep.Symbol = symbol.Canonical(rep.Symbol)
	if err := j.reports.Upsert(ctx, rep); err != nil {
		return fmt.Errorf("journal %s: %w", rep.TradeID, err)
	}
	if rep.Closed() {
		log.Infof("记录平仓 %s %s %s pnl=%.2f", rep.TradeID, rep.Side, rep.Symbol, rep.PnL())
	} else {
		log.Debugf("记录开仓 %s %s %s qty=%.6f", rep.TradeID, rep.Side, rep.Symbol, rep.Quantity)
	}
	return nil
}
