// Package mysql 订单与成交的 MySQL 持久化实现。
package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/tradingengine/internal/engine/domain"
)

// OrderModel MySQL 订单表映射。order_id 为引擎发号的雪花 ID 主键，
// 每次状态迁移 upsert 一次。
type OrderModel struct {
	OrderID       int64           `gorm:"primaryKey;column:order_id"`
	ClientOrderID string          `gorm:"column:client_order_id;type:varchar(64);index:idx_user_client"`
	UserID        string          `gorm:"column:user_id;type:varchar(64);index:idx_user_client;index:idx_user_symbol;not null"`
	Symbol        string          `gorm:"column:symbol;type:varchar(20);index:idx_symbol_status;index:idx_user_symbol;not null"`
	Type          string          `gorm:"column:type;type:varchar(32);not null"`
	Side          string          `gorm:"column:side;type:varchar(4);not null"`
	Quantity      decimal.Decimal `gorm:"column:quantity;type:decimal(32,16);not null"`
	Price         decimal.Decimal `gorm:"column:price;type:decimal(32,16);default:0"`
	StopPrice     decimal.Decimal `gorm:"column:stop_price;type:decimal(32,16);default:0"`
	TrailingDelta decimal.Decimal `gorm:"column:trailing_delta;type:decimal(32,16);default:0"`
	CallbackRate  decimal.Decimal `gorm:"column:callback_rate;type:decimal(32,16);default:0"`
	IcebergQty    decimal.Decimal `gorm:"column:iceberg_qty;type:decimal(32,16);default:0"`
	TimeInForce   string          `gorm:"column:time_in_force;type:varchar(8)"`
	WorkingType   string          `gorm:"column:working_type;type:varchar(16)"`
	TradingMode   string          `gorm:"column:trading_mode;type:varchar(20)"`
	PositionSide  string          `gorm:"column:position_side;type:varchar(8)"`
	MarginType    string          `gorm:"column:margin_type;type:varchar(12)"`
	Leverage      decimal.Decimal `gorm:"column:leverage;type:decimal(10,2);default:1"`
	ReduceOnly    bool            `gorm:"column:reduce_only"`
	ClosePosition bool            `gorm:"column:close_position"`
	OCOGroupID    int64           `gorm:"column:oco_group_id;index"`
	StrategyID    string          `gorm:"column:strategy_id;type:varchar(64);index"`
	ParentOrderID int64           `gorm:"column:parent_order_id;index"`

	Status          string          `gorm:"column:status;type:varchar(20);index:idx_symbol_status;not null"`
	ExecutedQty     decimal.Decimal `gorm:"column:executed_qty;type:decimal(32,16);default:0"`
	CumulativeQuote decimal.Decimal `gorm:"column:cumulative_quote;type:decimal(32,16);default:0"`
	AvgPrice        decimal.Decimal `gorm:"column:avg_price;type:decimal(32,16);default:0"`
	LockPrice       decimal.Decimal `gorm:"column:lock_price;type:decimal(32,16);default:0"`

	CreatedTime time.Time `gorm:"column:created_time;index"`
	UpdatedTime time.Time `gorm:"column:updated_time"`
	ExpireTime  time.Time `gorm:"column:expire_time"`
}

func (OrderModel) TableName() string { return "engine_orders" }

// TradeModel MySQL 成交表映射，只插入不更新。
type TradeModel struct {
	TradeID         int64           `gorm:"primaryKey;column:trade_id"`
	Symbol          string          `gorm:"column:symbol;type:varchar(20);index:idx_symbol_time;not null"`
	TakerOrderID    int64           `gorm:"column:taker_order_id;index;not null"`
	MakerOrderID    int64           `gorm:"column:maker_order_id;index;not null"`
	TakerUserID     string          `gorm:"column:taker_user_id;type:varchar(64);index"`
	MakerUserID     string          `gorm:"column:maker_user_id;type:varchar(64);index"`
	Side            string          `gorm:"column:side;type:varchar(4);not null"`
	Quantity        decimal.Decimal `gorm:"column:quantity;type:decimal(32,16);not null"`
	Price           decimal.Decimal `gorm:"column:price;type:decimal(32,16);not null"`
	Commission      decimal.Decimal `gorm:"column:commission;type:decimal(32,16);default:0"`
	CommissionAsset string          `gorm:"column:commission_asset;type:varchar(10)"`
	IsMaker         bool            `gorm:"column:is_maker"`
	LastUpdateID    uint64          `gorm:"column:last_update_id"`
	Timestamp       time.Time       `gorm:"column:timestamp;index:idx_symbol_time"`
}

func (TradeModel) TableName() string { return "engine_trades" }

// --- mapping helpers ---

func toOrderModel(o *domain.Order) *OrderModel {
	if o == nil {
		return nil
	}
	return &OrderModel{
		OrderID:         o.OrderID,
		ClientOrderID:   o.ClientOrderID,
		UserID:          o.UserID,
		Symbol:          o.Symbol,
		Type:            string(o.Type),
		Side:            string(o.Side),
		Quantity:        o.Quantity,
		Price:           o.Price,
		StopPrice:       o.StopPrice,
		TrailingDelta:   o.TrailingDelta,
		CallbackRate:    o.CallbackRate,
		IcebergQty:      o.IcebergQty,
		TimeInForce:     string(o.TimeInForce),
		WorkingType:     string(o.WorkingType),
		TradingMode:     string(o.TradingMode),
		PositionSide:    string(o.PositionSide),
		MarginType:      string(o.MarginType),
		Leverage:        o.Leverage,
		ReduceOnly:      o.ReduceOnly,
		ClosePosition:   o.ClosePosition,
		OCOGroupID:      o.OCOGroupID,
		StrategyID:      o.StrategyID,
		ParentOrderID:   o.ParentOrderID,
		Status:          string(o.Status),
		ExecutedQty:     o.ExecutedQty,
		CumulativeQuote: o.CumulativeQuote,
		AvgPrice:        o.AvgPrice,
		LockPrice:       o.LockPrice,
		CreatedTime:     o.CreatedTime,
		UpdatedTime:     o.UpdatedTime,
		ExpireTime:      o.ExpireTime,
	}
}

func toOrder(m *OrderModel) *domain.Order {
	if m == nil {
		return nil
	}
	return &domain.Order{
		OrderID:         m.OrderID,
		ClientOrderID:   m.ClientOrderID,
		UserID:          m.UserID,
		Symbol:          m.Symbol,
		Type:            domain.OrderType(m.Type),
		Side:            domain.Side(m.Side),
		Quantity:        m.Quantity,
		Price:           m.Price,
		StopPrice:       m.StopPrice,
		TrailingDelta:   m.TrailingDelta,
		CallbackRate:    m.CallbackRate,
		IcebergQty:      m.IcebergQty,
		TimeInForce:     domain.TimeInForce(m.TimeInForce),
		WorkingType:     domain.WorkingType(m.WorkingType),
		TradingMode:     domain.TradingMode(m.TradingMode),
		PositionSide:    domain.PositionSide(m.PositionSide),
		MarginType:      domain.MarginType(m.MarginType),
		Leverage:        m.Leverage,
		ReduceOnly:      m.ReduceOnly,
		ClosePosition:   m.ClosePosition,
		OCOGroupID:      m.OCOGroupID,
		StrategyID:      m.StrategyID,
		ParentOrderID:   m.ParentOrderID,
		Status:          domain.OrderStatus(m.Status),
		ExecutedQty:     m.ExecutedQty,
		CumulativeQuote: m.CumulativeQuote,
		AvgPrice:        m.AvgPrice,
		LockPrice:       m.LockPrice,
		CreatedTime:     m.CreatedTime,
		UpdatedTime:     m.UpdatedTime,
		ExpireTime:      m.ExpireTime,
	}
}

func toTradeModel(t *domain.Trade) *TradeModel {
	if t == nil {
		return nil
	}
	return &TradeModel{
		TradeID:         t.TradeID,
		Symbol:          t.Symbol,
		TakerOrderID:    t.TakerOrderID,
		MakerOrderID:    t.MakerOrderID,
		TakerUserID:     t.TakerUserID,
		MakerUserID:     t.MakerUserID,
		Side:            string(t.Side),
		Quantity:        t.Quantity,
		Price:           t.Price,
		Commission:      t.Commission,
		CommissionAsset: t.CommissionAsset,
		IsMaker:         t.IsMaker,
		LastUpdateID:    t.LastUpdateID,
		Timestamp:       t.Timestamp,
	}
}

func toTrade(m *TradeModel) *domain.Trade {
	if m == nil {
		return nil
	}
	return &domain.Trade{
		TradeID:         m.TradeID,
		Symbol:          m.Symbol,
		TakerOrderID:    m.TakerOrderID,
		MakerOrderID:    m.MakerOrderID,
		TakerUserID:     m.TakerUserID,
		MakerUserID:     m.MakerUserID,
		Side:            domain.Side(m.Side),
		Quantity:        m.Quantity,
		Price:           m.Price,
		Commission:      m.Commission,
		CommissionAsset: m.CommissionAsset,
		IsMaker:         m.IsMaker,
		LastUpdateID:    m.LastUpdateID,
		Timestamp:       m.Timestamp,
	}
}
