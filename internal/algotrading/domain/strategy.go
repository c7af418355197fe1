// Package domain 算法交易策略模型：网格、定投与跟单。
// 策略只产出订单意图，真正的下单经策略宿主走与人工订单相同的准入路径。
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	engine "github.com/wyfcoding/tradingengine/internal/engine/domain"
)

// MarketData 策略轮询时的行情快照
type MarketData struct {
	Symbol    string
	Price     decimal.Decimal
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Timestamp time.Time
}

// OrderIntent 策略产出的订单意图
type OrderIntent struct {
	Symbol      string
	Type        engine.OrderType
	Side        engine.Side
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TimeInForce engine.TimeInForce
}

// Strategy 算法策略接口。GenerateOrders 由宿主按 Interval 轮询；
// OnTrade / OnOrderUpdate 在撮合线程回调，实现必须立即返回。
type Strategy interface {
	Name() string
	Symbol() string
	Interval() time.Duration
	GenerateOrders(md MarketData, positions []engine.Position) []*OrderIntent
	OnTrade(trade *engine.Trade)
	OnOrderUpdate(order *engine.Order)
}
