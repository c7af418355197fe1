// Package application 策略宿主：按策略节奏轮询产单并经统一准入路径下单。
package application

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/tradingengine/internal/algotrading/domain"
	engineapp "github.com/wyfcoding/tradingengine/internal/engine/application"
	engine "github.com/wyfcoding/tradingengine/internal/engine/domain"
)

type hostEntry struct {
	strategyID string
	userID     string
	strategy   domain.Strategy
	nextRun    time.Time
}

// StrategyHost 单协程轮询全部已注册策略。策略产出的订单意图
// 走与人工订单完全相同的准入路径，慢策略只拖慢自己，不影响撮合。
type StrategyHost struct {
	trading *engineapp.TradingService
	logger  *slog.Logger

	mu      sync.Mutex
	entries []*hostEntry

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewStrategyHost 创建宿主并订阅撮合产出
func NewStrategyHost(trading *engineapp.TradingService, logger *slog.Logger) *StrategyHost {
	h := &StrategyHost{
		trading: trading,
		logger:  logger.With("module", "strategy_host"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	trading.Subscribe(h)
	return h
}

// Register 注册策略，返回策略 ID。userID 为策略下单的资金账户。
func (h *StrategyHost) Register(strategy domain.Strategy, userID string) string {
	id := strconv.FormatUint(idgen.GenID(), 10)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, &hostEntry{
		strategyID: id,
		userID:     userID,
		strategy:   strategy,
	})
	h.logger.Info("strategy registered",
		"strategy_id", id,
		"name", strategy.Name(),
		"symbol", strategy.Symbol(),
	)
	return id
}

// Start 启动宿主轮询
func (h *StrategyHost) Start() {
	go func() {
		defer close(h.doneCh)
		h.run()
	}()
}

// Stop 停止宿主
func (h *StrategyHost) Stop() {
	close(h.stopCh)
	<-h.doneCh
}

func (h *StrategyHost) run() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case now := <-ticker.C:
			h.poll(now)
		}
	}
}

func (h *StrategyHost) poll(now time.Time) {
	h.mu.Lock()
	due := make([]*hostEntry, 0, len(h.entries))
	for _, entry := range h.entries {
		if now.Before(entry.nextRun) {
			continue
		}
		entry.nextRun = now.Add(entry.strategy.Interval())
		due = append(due, entry)
	}
	h.mu.Unlock()

	ctx := context.Background()
	for _, entry := range due {
		h.runStrategy(ctx, entry, now)
	}
}

func (h *StrategyHost) runStrategy(ctx context.Context, entry *hostEntry, now time.Time) {
	symbol := entry.strategy.Symbol()
	price, ok := h.trading.MarketPrice(symbol)
	md := domain.MarketData{Symbol: symbol, Timestamp: now}
	if ok {
		md.Price = price
	}

	positions := h.trading.GetPositions(entry.userID)
	intents := entry.strategy.GenerateOrders(md, positions)
	for _, intent := range intents {
		req := &engineapp.SubmitOrderRequest{
			UserID:      entry.userID,
			Symbol:      intent.Symbol,
			Type:        string(intent.Type),
			Side:        string(intent.Side),
			Quantity:    intent.Quantity.String(),
			TimeInForce: string(intent.TimeInForce),
			StrategyID:  entry.strategyID,
		}
		if intent.Price.IsPositive() {
			req.Price = intent.Price.String()
		}

		view, err := h.trading.SubmitOrder(ctx, req)
		if err != nil {
			logging.Warn(ctx, "strategy order rejected",
				"strategy_id", entry.strategyID,
				"name", entry.strategy.Name(),
				"symbol", intent.Symbol,
				"error", err,
			)
			continue
		}
		if grid, ok := entry.strategy.(*domain.GridStrategy); ok {
			grid.Bind(intent, view.OrderID)
		}
	}
}

// OnOrderUpdated 实现 engine.EngineSink：转发给策略回调。
func (h *StrategyHost) OnOrderUpdated(order *engine.Order, _ uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, entry := range h.entries {
		if entry.strategy.Symbol() == order.Symbol {
			entry.strategy.OnOrderUpdate(order)
		}
	}
}

// OnTrade 实现 engine.EngineSink
func (h *StrategyHost) OnTrade(trade *engine.Trade) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, entry := range h.entries {
		if entry.strategy.Symbol() == trade.Symbol {
			entry.strategy.OnTrade(trade)
		}
	}
}
