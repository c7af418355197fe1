package domain

import (
	"github.com/shopspring/decimal"
)

// TriggerBook 触发类订单的离簿等待区。
// STOP_LOSS / STOP_LIMIT / TAKE_PROFIT / TAKE_PROFIT_LIMIT / TRAILING_STOP
// 以 PENDING_NEW 入场，由撮合 Worker 在每笔成交后评估触发条件，
// 满足条件的订单被提升为 MARKET / LIMIT 重新进入撮合。
type TriggerBook struct {
	pending  map[int64]*Order
	trailing map[int64]*trailState
}

type trailState struct {
	// extreme 激活以来的极值：卖出追踪取最高价，买入追踪取最低价。
	extreme decimal.Decimal
	seeded  bool
}

// NewTriggerBook 创建空触发簿
func NewTriggerBook() *TriggerBook {
	return &TriggerBook{
		pending:  make(map[int64]*Order),
		trailing: make(map[int64]*trailState),
	}
}

// Add 挂入一笔触发订单
func (t *TriggerBook) Add(order *Order) {
	t.pending[order.OrderID] = order
	if order.Type == TypeTrailingStop {
		t.trailing[order.OrderID] = &trailState{}
	}
}

// Remove 摘除（撤单 / OCO 对腿取消）
func (t *TriggerBook) Remove(orderID int64) (*Order, bool) {
	order, ok := t.pending[orderID]
	if !ok {
		return nil, false
	}
	delete(t.pending, orderID)
	delete(t.trailing, orderID)
	return order, true
}

// Contains 订单是否在触发簿中等待
func (t *TriggerBook) Contains(orderID int64) bool {
	_, ok := t.pending[orderID]
	return ok
}

// Len 等待中的触发订单数
func (t *TriggerBook) Len() int { return len(t.pending) }

// OnPrice 用最新成交价与标记价评估全部等待订单，返回被触发的订单，
// 返回前已从触发簿摘除。追踪止损的动态触发价在此处随极值推进。
func (t *TriggerBook) OnPrice(lastPrice, markPrice decimal.Decimal) []*Order {
	var fired []*Order
	for id, order := range t.pending {
		ref := lastPrice
		if order.WorkingType == WorkingMarkPrice && markPrice.IsPositive() {
			ref = markPrice
		}
		if t.evaluate(order, ref) {
			delete(t.pending, id)
			delete(t.trailing, id)
			fired = append(fired, order)
		}
	}
	return fired
}

func (t *TriggerBook) evaluate(order *Order, price decimal.Decimal) bool {
	switch order.Type {
	case TypeStopLoss, TypeStopLimit:
		// 止损：价格朝不利方向穿越 stop_price。
		if order.Side == SideSell {
			return price.LessThanOrEqual(order.StopPrice)
		}
		return price.GreaterThanOrEqual(order.StopPrice)
	case TypeTakeProfit, TypeTakeProfitLimit:
		// 止盈：价格朝有利方向穿越 stop_price。
		if order.Side == SideSell {
			return price.GreaterThanOrEqual(order.StopPrice)
		}
		return price.LessThanOrEqual(order.StopPrice)
	case TypeTrailingStop:
		return t.evaluateTrailing(order, price)
	}
	return false
}

func (t *TriggerBook) evaluateTrailing(order *Order, price decimal.Decimal) bool {
	state := t.trailing[order.OrderID]
	if state == nil {
		state = &trailState{}
		t.trailing[order.OrderID] = state
	}
	if !state.seeded {
		state.extreme = price
		state.seeded = true
		return false
	}
	if order.Side == SideSell {
		if price.GreaterThan(state.extreme) {
			state.extreme = price
		}
		return price.LessThanOrEqual(trailingTrigger(order, state.extreme))
	}
	if price.LessThan(state.extreme) {
		state.extreme = price
	}
	return price.GreaterThanOrEqual(trailingTrigger(order, state.extreme))
}

// TrailingTriggerPrice 当前动态触发价（查询接口用）。
func (t *TriggerBook) TrailingTriggerPrice(orderID int64) (decimal.Decimal, bool) {
	order, ok := t.pending[orderID]
	if !ok || order.Type != TypeTrailingStop {
		return decimal.Zero, false
	}
	state := t.trailing[orderID]
	if state == nil || !state.seeded {
		return decimal.Zero, false
	}
	return trailingTrigger(order, state.extreme), true
}

// trailingTrigger 极值按回调比例或固定偏移折算出的触发价。
// CallbackRate 以百分比计（1 = 1%），TrailingDelta 为绝对价差。
func trailingTrigger(order *Order, extreme decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	if order.Side == SideSell {
		if order.CallbackRate.IsPositive() {
			return extreme.Mul(hundred.Sub(order.CallbackRate)).Div(hundred)
		}
		return extreme.Sub(order.TrailingDelta)
	}
	if order.CallbackRate.IsPositive() {
		return extreme.Mul(hundred.Add(order.CallbackRate)).Div(hundred)
	}
	return extreme.Add(order.TrailingDelta)
}
