package adminhttp

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"aegis/internal/bus"
	"aegis/internal/pkg/symbol"
	"aegis/internal/store"
	"aegis/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Router 挂载 /api 下的查询与运维接口。
type Router struct {
	cfg ServerConfig
}

func NewRouter(cfg ServerConfig) *Router {
	return &Router{cfg: cfg}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/portfolio", r.handlePortfolio)
	group.GET("/strategy", r.handleStrategy)
	group.GET("/strategy/history", r.handleStrategyHistory)
	group.GET("/intents", r.handleIntents)
	group.POST("/optimizer/run", r.handleOptimizerRun)
	group.GET("/deadletters", r.handleDeadLetters)
	group.POST("/signals", r.handleSignal)
}

// portfolioView 在组合状态之外附带当前剩余风险预算。
type portfolioView struct {
	types.PortfolioState
	MaxRisk         float64 `json:"max_risk"`
	AvailableBudget float64 `json:"available_budget"`
	ConfigVersion   int64   `json:"config_version"`
}

func (r *Router) handlePortfolio(c *gin.Context) {
	ctx := c.Request.Context()
	state, err := r.cfg.Store.Portfolio().Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "portfolio not initialised"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	view := portfolioView{PortfolioState: state}
	if cfg, err := r.cfg.Store.Strategies().Latest(ctx); err == nil {
		maxRisk := decimal.NewFromFloat(cfg.MaxPortfolioRisk).Mul(decimal.NewFromFloat(state.TotalValue))
		view.MaxRisk = maxRisk.Round(8).InexactFloat64()
		view.AvailableBudget = maxRisk.Sub(decimal.NewFromFloat(state.ReservedRisk)).Round(8).InexactFloat64()
		view.ConfigVersion = cfg.Version
	}
	c.JSON(http.StatusOK, view)
}

func (r *Router) handleStrategy(c *gin.Context) {
	cfg, err := r.cfg.Store.Strategies().Latest(c.Request.Context())
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no strategy config published"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (r *Router) handleStrategyHistory(c *gin.Context) {
	items, err := r.cfg.Store.Strategies().History(c.Request.Context(), queryLimit(c, 20, 200))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (r *Router) handleIntents(c *gin.Context) {
	items, err := r.cfg.Store.Intents().ListRecent(c.Request.Context(), queryLimit(c, 50, 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (r *Router) handleOptimizerRun(c *gin.Context) {
	if r.cfg.Optimizer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "optimizer 未启用"})
		return
	}
	res, err := r.cfg.Optimizer.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"published":    res.Published,
		"insufficient": res.Insufficient,
		"regime":       res.Regime,
		"reason":       res.Reason,
		"version":      res.Next.Version,
		"metrics":      res.Metrics,
		"alert":        res.Alert,
	})
}

func (r *Router) handleDeadLetters(c *gin.Context) {
	if r.cfg.DeadLetters == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dead letter store 未启用"})
		return
	}
	items, err := r.cfg.DeadLetters.List(c.Request.Context(), strings.TrimSpace(c.Query("topic")), queryLimit(c, 50, 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// handleSignal 把外部生产者推送的信号按来源转发到对应主题。
func (r *Router) handleSignal(c *gin.Context) {
	if r.cfg.Publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "publisher 未启用"})
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	source := types.SignalSource(bus.PeekKey(raw, "source"))
	topic, ok := r.cfg.SignalTopics[source]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown signal source " + strconv.Quote(string(source))})
		return
	}
	if r.cfg.Schemas != nil {
		if err := r.cfg.Schemas.Validate(topic, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	msg := bus.Message{Topic: topic, Payload: raw}
	var sig types.MarketSignal
	if err := bus.Decode(msg, &sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := sig.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sig.Symbol = symbol.Canonical(sig.Symbol)
	if err := bus.PublishJSON(c.Request.Context(), r.cfg.Publisher, topic, sig.Symbol, sig); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"topic": topic, "symbol": sig.Symbol})
}

func queryLimit(c *gin.Context, def, ceiling int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if limit <= 0 {
		limit = def
	}
	if limit > ceiling {
		limit = ceiling
	}
	return limit
}
