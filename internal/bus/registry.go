package bus

import (
	"context"
	"sort"
)

// Route 把一个主题绑定到处理器。
type Route interface {
	Topic() string
	Handle(ctx context.Context, msg Message) error
}

// HandlerRegistry 收集各服务的路由，再统一订阅到总线上。
type HandlerRegistry struct {
	group       string
	routes      map[string]Route
	middlewares []Middleware
}

func NewHandlerRegistry(group string, mws ...Middleware) *HandlerRegistry {
	return &HandlerRegistry{
		group:       group,
		routes:      make(map[string]Route),
		middlewares: mws,
	}
}

// Register adds a route. A later route for the same topic replaces the earlier one.
func (r *HandlerRegistry) Register(rt Route) {
	if rt == nil || rt.Topic() == "" {
		return
	}
	r.routes[rt.Topic()] = rt
}

func (r *HandlerRegistry) Get(topic string) (Route, bool) {
	rt, ok := r.routes[topic]
	return rt, ok
}

// Topics 返回已注册的主题（排序后）。
func (r *HandlerRegistry) Topics() []string {
	out := make([]string, 0, len(r.routes))
	for t := range r.routes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SubscribeAll 以注册表的消费组订阅全部路由。
func (r *HandlerRegistry) SubscribeAll(sub Subscriber) error {
	for _, topic := range r.Topics() {
		rt := r.routes[topic]
		h := Chain(rt.Handle, r.middlewares...)
		if err := sub.Subscribe(topic, r.group, h); err != nil {
			return err
		}
	}
	log.Debugf("消费组 %s 注册了 %d 个主题", r.group, len(r.routes))
	return nil
}

// RouteFunc 用函数实现 Route。
type RouteFunc struct {
	Name string
	Fn   Handler
}

func (f RouteFunc) Topic() string { return f.Name }

func (f RouteFunc) Handle(ctx context.Context, msg Message) error { return f.Fn(ctx, msg) }
