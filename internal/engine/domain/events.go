package domain

import (
	"github.com/shopspring/decimal"
)

// 事件总线逻辑主题，按 symbol 分区保证单交易对事件有序。
const (
	TopicOrderUpdates = "trading.order.updated"
	TopicTrades       = "trading.trade.executed"
)

// OrderUpdateEvent 订单状态变更事件
type OrderUpdateEvent struct {
	OrderID      int64           `json:"order_id"`
	UserID       string          `json:"user_id"`
	Symbol       string          `json:"symbol"`
	Type         OrderType       `json:"type"`
	Side         Side            `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Status       OrderStatus     `json:"status"`
	ExecutedQty  decimal.Decimal `json:"executed_qty"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	LastUpdateID uint64          `json:"last_update_id"`
}

// NewOrderUpdateEvent 从订单当前状态生成事件
func NewOrderUpdateEvent(order *Order, lastUpdateID uint64) *OrderUpdateEvent {
	return &OrderUpdateEvent{
		OrderID:      order.OrderID,
		UserID:       order.UserID,
		Symbol:       order.Symbol,
		Type:         order.Type,
		Side:         order.Side,
		Quantity:     order.Quantity,
		Price:        order.Price,
		Status:       order.Status,
		ExecutedQty:  order.ExecutedQty,
		AvgPrice:     order.AvgPrice,
		LastUpdateID: lastUpdateID,
	}
}

// TradeEvent 成交事件
type TradeEvent struct {
	TradeID      int64           `json:"trade_id"`
	TakerOrderID int64           `json:"taker_order_id"`
	MakerOrderID int64           `json:"maker_order_id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Timestamp    int64           `json:"timestamp"`
	LastUpdateID uint64          `json:"last_update_id"`
}

// NewTradeEvent 从成交记录生成事件
func NewTradeEvent(trade *Trade) *TradeEvent {
	return &TradeEvent{
		TradeID:      trade.TradeID,
		TakerOrderID: trade.TakerOrderID,
		MakerOrderID: trade.MakerOrderID,
		Symbol:       trade.Symbol,
		Side:         trade.Side,
		Quantity:     trade.Quantity,
		Price:        trade.Price,
		Timestamp:    trade.Timestamp.UnixMilli(),
		LastUpdateID: trade.LastUpdateID,
	}
}
