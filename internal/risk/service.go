package risk

import (
	"context"

	"aegis/internal/bus"
	"aegis/internal/types"
)

// Service 把 Manager 挂到消息通道上。
type Service struct {
	manager      *Manager
	intentsTopic string
	reportsTopic string
	priceBook    *SignalPriceBook
	signalTopics []string
}

func NewService(manager *Manager, intentsTopic, reportsTopic string, priceBook *SignalPriceBook, signalTopics []string) *Service {
	return &Service{
		manager:      manager,
		intentsTopic: intentsTopic,
		reportsTopic: reportsTopic,
		priceBook:    priceBook,
		signalTopics: signalTopics,
	}
}

func (s *Service) Manager() *Manager { return s.manager }

// Routes 返回交易意图与成交回报路由；不含价格簿。
func (s *Service) Routes() []bus.Route {
	return []bus.Route{
		bus.RouteFunc{Name: s.intentsTopic, Fn: s.handleIntent},
		bus.RouteFunc{Name: s.reportsTopic, Fn: s.handleReport},
	}
}

// PriceRoutes 返回价格簿订阅的信号主题路由（使用独立消费组）。
func (s *Service) PriceRoutes() []bus.Route {
	if s.priceBook == nil {
		return nil
	}
	routes := make([]bus.Route, 0, len(s.signalTopics))
	for _, topic := range s.signalTopics {
		routes = append(routes, bus.RouteFunc{Name: topic, Fn: s.priceBook.Handle})
	}
	return routes
}

func (s *Service) handleIntent(ctx context.Context, msg bus.Message) error {
	var intent types.TradeIntent
	if err := bus.Decode(msg, &intent); err != nil {
		return err
	}
	return s.manager.HandleIntent(ctx, intent)
}

func (s *Service) handleReport(ctx context.Context, msg bus.Message) error {
	var rep types.TradeReport
	if err := bus.Decode(msg, &rep); err != nil {
		return err
	}
	if err := rep.Validate(); err != nil {
		return bus.Permanent(err)
	}
	_, err := s.manager.Release(ctx, rep)
	return err
}
