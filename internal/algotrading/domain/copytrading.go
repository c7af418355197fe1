package domain

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	engine "github.com/wyfcoding/tradingengine/internal/engine/domain"
)

// CopyTradingStrategy 跟单：监听主账户在本交易对的成交，
// 按比例复制同向市价单，单笔金额受 maxCopyAmount 约束。
// 成交回调只入队，复制单在下一次宿主轮询时统一产出。
type CopyTradingStrategy struct {
	symbol         string
	masterTraderID string
	copyRatio      decimal.Decimal
	maxCopyAmount  decimal.Decimal
	interval       time.Duration

	mu      sync.Mutex
	pending []*OrderIntent
}

// NewCopyTradingStrategy 创建跟单策略
func NewCopyTradingStrategy(symbol, masterTraderID string, copyRatio, maxCopyAmount decimal.Decimal, interval time.Duration) *CopyTradingStrategy {
	if interval <= 0 {
		interval = time.Second
	}
	return &CopyTradingStrategy{
		symbol:         symbol,
		masterTraderID: masterTraderID,
		copyRatio:      copyRatio,
		maxCopyAmount:  maxCopyAmount,
		interval:       interval,
	}
}

func (c *CopyTradingStrategy) Name() string            { return "CopyTrading" }
func (c *CopyTradingStrategy) Symbol() string          { return c.symbol }
func (c *CopyTradingStrategy) Interval() time.Duration { return c.interval }

// GenerateOrders 取走全部待复制意图
func (c *CopyTradingStrategy) GenerateOrders(_ MarketData, _ []engine.Position) []*OrderIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	intents := c.pending
	c.pending = nil
	return intents
}

// OnTrade 主账户的成交按比例转为复制意图。
// 主账户是 maker 时方向取 taker 的对手方向。
func (c *CopyTradingStrategy) OnTrade(trade *engine.Trade) {
	if trade.Symbol != c.symbol {
		return
	}
	side := trade.Side
	switch c.masterTraderID {
	case trade.TakerUserID:
	case trade.MakerUserID:
		side = side.Opposite()
	default:
		return
	}

	qty := trade.Quantity.Mul(c.copyRatio)
	if c.maxCopyAmount.IsPositive() && trade.Price.IsPositive() {
		maxQty := c.maxCopyAmount.Div(trade.Price)
		qty = decimal.Min(qty, maxQty)
	}
	if !qty.IsPositive() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, &OrderIntent{
		Symbol:      c.symbol,
		Type:        engine.TypeMarket,
		Side:        side,
		Quantity:    qty,
		TimeInForce: engine.TIFIoc,
	})
}

func (c *CopyTradingStrategy) OnOrderUpdate(_ *engine.Order) {}
