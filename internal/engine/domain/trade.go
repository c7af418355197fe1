package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade 成交记录。以 taker 视角落一条：Side 为 taker 方向，IsMaker 恒为 false；
// maker 侧的订单/台账变更通过 MakerOrderID 关联回溯。
type Trade struct {
	TradeID      int64  `json:"trade_id"`
	Symbol       string `json:"symbol"`
	TakerOrderID int64  `json:"taker_order_id"`
	MakerOrderID int64  `json:"maker_order_id"`
	TakerUserID  string `json:"taker_user_id"`
	MakerUserID  string `json:"maker_user_id"`

	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`

	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commission_asset"`

	IsMaker      bool      `json:"is_maker"`
	LastUpdateID uint64    `json:"last_update_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// QuoteAmount 成交额（计价资产）
func (t *Trade) QuoteAmount() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}
