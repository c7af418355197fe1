package domain

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	engine "github.com/wyfcoding/tradingengine/internal/engine/domain"
)

// DCAStrategy 定投：每个投资周期按固定金额市价买入，
// 数量 = 投资额 / 现价，IOC 保证残量不挂簿。
type DCAStrategy struct {
	symbol     string
	investment decimal.Decimal
	interval   time.Duration

	mu           sync.Mutex
	lastPurchase time.Time
}

// NewDCAStrategy 创建定投策略
func NewDCAStrategy(symbol string, investment decimal.Decimal, interval time.Duration) *DCAStrategy {
	if interval <= 0 {
		interval = time.Hour
	}
	return &DCAStrategy{
		symbol:     symbol,
		investment: investment,
		interval:   interval,
	}
}

func (d *DCAStrategy) Name() string            { return "DCA" }
func (d *DCAStrategy) Symbol() string          { return d.symbol }
func (d *DCAStrategy) Interval() time.Duration { return d.interval }

// GenerateOrders 周期未到或无行情时不产单
func (d *DCAStrategy) GenerateOrders(md MarketData, _ []engine.Position) []*OrderIntent {
	if !md.Price.IsPositive() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.lastPurchase.IsZero() && md.Timestamp.Sub(d.lastPurchase) < d.interval {
		return nil
	}
	d.lastPurchase = md.Timestamp
	return []*OrderIntent{{
		Symbol:      d.symbol,
		Type:        engine.TypeMarket,
		Side:        engine.SideBuy,
		Quantity:    d.investment.Div(md.Price),
		TimeInForce: engine.TIFIoc,
	}}
}

func (d *DCAStrategy) OnTrade(_ *engine.Trade)       {}
func (d *DCAStrategy) OnOrderUpdate(_ *engine.Order) {}
