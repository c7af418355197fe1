// Package domain 交易引擎核心领域模型：订单簿、撮合、风控、持仓与资金台账。
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回对手方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 订单类型
type OrderType string

const (
	TypeMarket          OrderType = "MARKET"
	TypeLimit           OrderType = "LIMIT"
	TypeStopLoss        OrderType = "STOP_LOSS"
	TypeStopLimit       OrderType = "STOP_LIMIT"
	TypeTakeProfit      OrderType = "TAKE_PROFIT"
	TypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
	TypeLimitMaker      OrderType = "LIMIT_MAKER"
	TypeIceberg         OrderType = "ICEBERG"
	TypeOCO             OrderType = "OCO"
	TypeTrailingStop    OrderType = "TRAILING_STOP"

	// 高级算法类订单：核心只承载标签，父单不上簿，
	// 子单由策略层以 MARKET/LIMIT 形式提交。
	TypeTWAP                    OrderType = "TWAP"
	TypeVWAP                    OrderType = "VWAP"
	TypeImplementationShortfall OrderType = "IMPLEMENTATION_SHORTFALL"
	TypeArrivalPrice            OrderType = "ARRIVAL_PRICE"
	TypeParticipationRate       OrderType = "PARTICIPATION_RATE"
	TypeVolumeInline            OrderType = "VOLUME_INLINE"
	TypeTimeWeighted            OrderType = "TIME_WEIGHTED"
	TypeHidden                  OrderType = "HIDDEN"
	TypeReserve                 OrderType = "RESERVE"
	TypeBlock                   OrderType = "BLOCK"
	TypeSweep                   OrderType = "SWEEP"
)

// IsAlgoLabel 是否为策略托管的高级订单类别
func (t OrderType) IsAlgoLabel() bool {
	switch t {
	case TypeTWAP, TypeVWAP, TypeImplementationShortfall, TypeArrivalPrice,
		TypeParticipationRate, TypeVolumeInline, TypeTimeWeighted,
		TypeHidden, TypeReserve, TypeBlock, TypeSweep:
		return true
	}
	return false
}

// IsTrigger 是否为触发类订单（入场时挂在触发簿而非订单簿）
func (t OrderType) IsTrigger() bool {
	switch t {
	case TypeStopLoss, TypeStopLimit, TypeTakeProfit, TypeTakeProfitLimit, TypeTrailingStop:
		return true
	}
	return false
}

// OrderStatus 订单状态
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusPendingNew      OrderStatus = "PENDING_NEW"
	StatusTriggered       OrderStatus = "TRIGGERED"
)

// IsTerminal 终态不可再变更
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// TimeInForce 有效期策略
type TimeInForce string

const (
	TIFGtc TimeInForce = "GTC"
	TIFIoc TimeInForce = "IOC"
	TIFFok TimeInForce = "FOK"
	TIFGtd TimeInForce = "GTD"
	TIFAto TimeInForce = "ATO"
	TIFAtc TimeInForce = "ATC"
	TIFDay TimeInForce = "DAY"
)

// TradingMode 交易模式
type TradingMode string

const (
	ModeSpot           TradingMode = "SPOT"
	ModeMarginCross    TradingMode = "MARGIN_CROSS"
	ModeMarginIsolated TradingMode = "MARGIN_ISOLATED"
	ModeFuturesUSDM    TradingMode = "FUTURES_USD_M"
	ModeFuturesCoinM   TradingMode = "FUTURES_COIN_M"
	ModePerpetual      TradingMode = "PERPETUAL"
)

// IsDerivative 该模式下成交是否驱动持仓台账
func (m TradingMode) IsDerivative() bool {
	switch m {
	case ModeMarginCross, ModeMarginIsolated, ModeFuturesUSDM, ModeFuturesCoinM, ModePerpetual:
		return true
	}
	return false
}

// PositionSide 持仓方向
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionBoth  PositionSide = "BOTH"
)

// MarginType 保证金类型
type MarginType string

const (
	MarginCross    MarginType = "CROSS"
	MarginIsolated MarginType = "ISOLATED"
)

// WorkingType 触发价参照：最新成交价或标记价
type WorkingType string

const (
	WorkingLastPrice WorkingType = "LAST_PRICE"
	WorkingMarkPrice WorkingType = "MARK_PRICE"
)

// Order 订单聚合根。
// 引擎分配的 OrderID 为雪花 ID，在同一交易对内严格递增；
// 状态字段只允许持有该交易对的撮合 Worker 修改。
type Order struct {
	OrderID       int64  `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	UserID        string `json:"user_id"`
	Symbol        string `json:"symbol"`

	Type          OrderType       `json:"type"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	TrailingDelta decimal.Decimal `json:"trailing_delta"`
	CallbackRate  decimal.Decimal `json:"callback_rate"`
	IcebergQty    decimal.Decimal `json:"iceberg_display_qty"`
	TimeInForce   TimeInForce     `json:"time_in_force"`
	WorkingType   WorkingType     `json:"working_type"`

	TradingMode  TradingMode     `json:"trading_mode"`
	PositionSide PositionSide    `json:"position_side"`
	MarginType   MarginType      `json:"margin_type"`
	Leverage     decimal.Decimal `json:"leverage"`
	ReduceOnly   bool            `json:"reduce_only"`
	ClosePosition bool           `json:"close_position"`

	// OCO 关联：两条腿共享同一组号，其一成交则另一腿被原子撤销。
	OCOGroupID int64 `json:"oco_group_id,omitempty"`

	// 策略标签：高级订单类别的父单 ID 与策略 ID。
	StrategyID    string `json:"strategy_id,omitempty"`
	ParentOrderID int64  `json:"parent_order_id,omitempty"`

	Status          OrderStatus     `json:"status"`
	ExecutedQty     decimal.Decimal `json:"executed_qty"`
	CumulativeQuote decimal.Decimal `json:"cumulative_quote"`
	AvgPrice        decimal.Decimal `json:"avg_price"`

	// 冻结时使用的单价，撤单/过期时按此释放剩余锁定。
	LockPrice decimal.Decimal `json:"-"`

	CreatedTime time.Time `json:"created_time"`
	UpdatedTime time.Time `json:"updated_time"`
	ExpireTime  time.Time `json:"expire_time,omitempty"`
}

// RemainingQty 剩余未成交数量
func (o *Order) RemainingQty() decimal.Decimal {
	return o.Quantity.Sub(o.ExecutedQty)
}

// IsOpen NEW / PARTIALLY_FILLED / PENDING_NEW / PENDING_CANCEL 视为仍占用名额与余额
func (o *Order) IsOpen() bool {
	switch o.Status {
	case StatusNew, StatusPartiallyFilled, StatusPendingNew, StatusPendingCancel, StatusTriggered:
		return true
	}
	return false
}

// ApplyFill 记录一笔成交并重算均价。
// 均价必须由累计成交额 / 累计成交量推导，禁止增量舍入累加。
func (o *Order) ApplyFill(qty, price decimal.Decimal, at time.Time) {
	o.ExecutedQty = o.ExecutedQty.Add(qty)
	o.CumulativeQuote = o.CumulativeQuote.Add(qty.Mul(price))
	if o.ExecutedQty.IsPositive() {
		o.AvgPrice = o.CumulativeQuote.Div(o.ExecutedQty)
	}
	if o.ExecutedQty.GreaterThanOrEqual(o.Quantity) {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
	o.UpdatedTime = at
}

// MarkCancelled 进入撤销终态
func (o *Order) MarkCancelled(at time.Time) {
	o.Status = StatusCancelled
	o.UpdatedTime = at
}

// MarkExpired 进入过期终态
func (o *Order) MarkExpired(at time.Time) {
	o.Status = StatusExpired
	o.UpdatedTime = at
}

// MarkRejected 进入拒绝终态
func (o *Order) MarkRejected(at time.Time) {
	o.Status = StatusRejected
	o.UpdatedTime = at
}
