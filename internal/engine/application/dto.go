// Package application 交易引擎用例层：准入、定序、查询与成交扇出的编排。
package application

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/tradingengine/internal/engine/domain"
)

// SubmitOrderRequest 下单请求 DTO，数值字段以字符串承载精确小数。
type SubmitOrderRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol" binding:"required"`
	Type          string `json:"type" binding:"required"`
	Side          string `json:"side" binding:"required"`
	Quantity      string `json:"quantity" binding:"required"`
	Price         string `json:"price"`
	StopPrice     string `json:"stop_price"`
	TrailingDelta string `json:"trailing_delta"`
	CallbackRate  string `json:"callback_rate"`
	IcebergQty    string `json:"iceberg_qty"`
	TimeInForce   string `json:"time_in_force"`
	WorkingType   string `json:"working_type"`

	TradingMode   string `json:"trading_mode"`
	PositionSide  string `json:"position_side"`
	MarginType    string `json:"margin_type"`
	Leverage      string `json:"leverage"`
	ReduceOnly    bool   `json:"reduce_only"`
	ClosePosition bool   `json:"close_position"`

	// ExpireTime GTD 的到期时刻，Unix 毫秒。
	ExpireTime int64 `json:"expire_time"`

	StrategyID    string `json:"strategy_id"`
	ParentOrderID int64  `json:"parent_order_id"`
}

// OCORequest OCO 双腿下单：一腿为限价，一腿为止损（限价或市价），
// 任一腿成交即撤销另一腿。
type OCORequest struct {
	UserID        string `json:"user_id" binding:"required"`
	Symbol        string `json:"symbol" binding:"required"`
	Side          string `json:"side" binding:"required"`
	Quantity      string `json:"quantity" binding:"required"`
	Price         string `json:"price" binding:"required"`
	StopPrice     string `json:"stop_price" binding:"required"`
	StopLimitPrice string `json:"stop_limit_price"`
	TradingMode   string `json:"trading_mode"`
}

// BatchSubmitRequest 批量下单
type BatchSubmitRequest struct {
	Orders []*SubmitOrderRequest `json:"orders" binding:"required"`
}

// BatchSubmitResult 批量下单逐笔结果
type BatchSubmitResult struct {
	OrderID int64  `json:"order_id,omitempty"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// OrderView 订单对外视图
type OrderView struct {
	OrderID       int64  `json:"order_id"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	UserID        string `json:"user_id"`
	Symbol        string `json:"symbol"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price"`
	StopPrice     string `json:"stop_price,omitempty"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executed_qty"`
	AvgPrice      string `json:"avg_price"`
	TimeInForce   string `json:"time_in_force"`
	TradingMode   string `json:"trading_mode"`
	CreatedTime   int64  `json:"created_time"`
	UpdatedTime   int64  `json:"updated_time"`
}

// NewOrderView 从领域订单构造视图
func NewOrderView(order *domain.Order) *OrderView {
	return &OrderView{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		UserID:        order.UserID,
		Symbol:        order.Symbol,
		Type:          string(order.Type),
		Side:          string(order.Side),
		Quantity:      order.Quantity.String(),
		Price:         order.Price.String(),
		StopPrice:     zeroOmit(order.StopPrice),
		Status:        string(order.Status),
		ExecutedQty:   order.ExecutedQty.String(),
		AvgPrice:      order.AvgPrice.String(),
		TimeInForce:   string(order.TimeInForce),
		TradingMode:   string(order.TradingMode),
		CreatedTime:   order.CreatedTime.UnixMilli(),
		UpdatedTime:   order.UpdatedTime.UnixMilli(),
	}
}

func zeroOmit(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

// TradeView 成交对外视图
type TradeView struct {
	TradeID      int64  `json:"trade_id"`
	Symbol       string `json:"symbol"`
	TakerOrderID int64  `json:"taker_order_id"`
	MakerOrderID int64  `json:"maker_order_id"`
	Side         string `json:"side"`
	Quantity     string `json:"quantity"`
	Price        string `json:"price"`
	Timestamp    int64  `json:"timestamp"`
}

// NewTradeView 从领域成交构造视图
func NewTradeView(trade *domain.Trade) *TradeView {
	return &TradeView{
		TradeID:      trade.TradeID,
		Symbol:       trade.Symbol,
		TakerOrderID: trade.TakerOrderID,
		MakerOrderID: trade.MakerOrderID,
		Side:         string(trade.Side),
		Quantity:     trade.Quantity.String(),
		Price:        trade.Price.String(),
		Timestamp:    trade.Timestamp.UnixMilli(),
	}
}

// parseOrder 解析并校验下单请求，产出未分配 ID 的领域订单。
// 形参校验失败返回 INVALID，不触达风控与台账。
func parseOrder(req *SubmitOrderRequest, now time.Time) (*domain.Order, error) {
	side := domain.Side(req.Side)
	if side != domain.SideBuy && side != domain.SideSell {
		return nil, domain.Reject(domain.CodeInvalid, "invalid side %q", req.Side)
	}

	orderType := domain.OrderType(req.Type)
	if orderType == "" {
		return nil, domain.Reject(domain.CodeInvalid, "order type is required")
	}

	qty, err := parsePositive(req.Quantity, "quantity")
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		ClientOrderID: req.ClientOrderID,
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		Type:          orderType,
		Side:          side,
		Quantity:      qty,
		Status:        domain.StatusNew,
		TimeInForce:   domain.TIFGtc,
		TradingMode:   domain.ModeSpot,
		WorkingType:   domain.WorkingLastPrice,
		ReduceOnly:    req.ReduceOnly,
		ClosePosition: req.ClosePosition,
		StrategyID:    req.StrategyID,
		ParentOrderID: req.ParentOrderID,
		CreatedTime:   now,
		UpdatedTime:   now,
	}

	if req.TimeInForce != "" {
		order.TimeInForce = domain.TimeInForce(req.TimeInForce)
		switch order.TimeInForce {
		case domain.TIFGtc, domain.TIFIoc, domain.TIFFok, domain.TIFGtd, domain.TIFDay:
		case domain.TIFAto, domain.TIFAtc:
			// 连续竞价市场没有集合竞价时段，开 / 收盘单拒收。
			return nil, domain.Reject(domain.CodeInvalid, "time in force %q requires an auction session", req.TimeInForce)
		default:
			return nil, domain.Reject(domain.CodeInvalid, "invalid time in force %q", req.TimeInForce)
		}
	}

	if req.TradingMode != "" {
		order.TradingMode = domain.TradingMode(req.TradingMode)
	}
	if req.PositionSide != "" {
		order.PositionSide = domain.PositionSide(req.PositionSide)
	}
	if req.MarginType != "" {
		order.MarginType = domain.MarginType(req.MarginType)
	}
	if req.WorkingType != "" {
		order.WorkingType = domain.WorkingType(req.WorkingType)
	}

	order.Leverage = decimal.NewFromInt(1)
	if req.Leverage != "" {
		lev, err := decimal.NewFromString(req.Leverage)
		if err != nil || lev.LessThan(decimal.NewFromInt(1)) {
			return nil, domain.Reject(domain.CodeInvalid, "leverage must be >= 1")
		}
		order.Leverage = lev
	}

	needsPrice := false
	switch orderType {
	case domain.TypeLimit, domain.TypeLimitMaker, domain.TypeIceberg,
		domain.TypeStopLimit, domain.TypeTakeProfitLimit:
		needsPrice = true
	}
	if needsPrice || req.Price != "" {
		order.Price, err = parsePositive(req.Price, "price")
		if err != nil {
			return nil, err
		}
	}

	if orderType.IsTrigger() && orderType != domain.TypeTrailingStop {
		order.StopPrice, err = parsePositive(req.StopPrice, "stop_price")
		if err != nil {
			return nil, err
		}
	}

	if orderType == domain.TypeTrailingStop {
		if req.CallbackRate == "" && req.TrailingDelta == "" {
			return nil, domain.Reject(domain.CodeInvalid, "trailing stop requires callback_rate or trailing_delta")
		}
		if req.CallbackRate != "" {
			if order.CallbackRate, err = parsePositive(req.CallbackRate, "callback_rate"); err != nil {
				return nil, err
			}
		}
		if req.TrailingDelta != "" {
			if order.TrailingDelta, err = parsePositive(req.TrailingDelta, "trailing_delta"); err != nil {
				return nil, err
			}
		}
	}

	if orderType == domain.TypeIceberg {
		order.IcebergQty, err = parsePositive(req.IcebergQty, "iceberg_qty")
		if err != nil {
			return nil, err
		}
		if order.IcebergQty.GreaterThan(qty) {
			return nil, domain.Reject(domain.CodeInvalid, "iceberg display quantity exceeds total quantity")
		}
	}

	switch order.TimeInForce {
	case domain.TIFGtd:
		if req.ExpireTime <= now.UnixMilli() {
			return nil, domain.Reject(domain.CodeInvalid, "GTD order requires a future expire_time")
		}
		order.ExpireTime = time.UnixMilli(req.ExpireTime)
	case domain.TIFDay:
		// DAY 单在当日 UTC 收盘过期。
		y, m, d := now.UTC().Date()
		order.ExpireTime = time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
	}

	if order.TradingMode.IsDerivative() && order.PositionSide == "" {
		order.PositionSide = domain.PositionBoth
	}
	return order, nil
}

func parsePositive(raw, field string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, domain.Reject(domain.CodeInvalid, "%s is required", field)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, domain.Reject(domain.CodeInvalid, "invalid %s: %s", field, raw)
	}
	if !d.IsPositive() {
		return decimal.Zero, domain.Reject(domain.CodeInvalid, "%s must be positive", field)
	}
	return d, nil
}
