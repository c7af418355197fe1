package mysql

import (
	"context"

	"github.com/wyfcoding/tradingengine/internal/engine/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type tradeRepository struct{ db *gorm.DB }

// NewTradeRepository 创建成交仓储
func NewTradeRepository(db *gorm.DB) domain.TradeRepository {
	return &tradeRepository{db: db}
}

func (r *tradeRepository) getDB(ctx context.Context) *gorm.DB {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return r.db
}

// Save 插入成交行，trade_id 冲突时忽略（扇出重试的幂等保障）。
func (r *tradeRepository) Save(ctx context.Context, trade *domain.Trade) error {
	return r.getDB(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(toTradeModel(trade)).Error
}

func (r *tradeRepository) FindByOrderID(ctx context.Context, orderID int64) ([]*domain.Trade, error) {
	var models []*TradeModel
	err := r.getDB(ctx).WithContext(ctx).
		Where("taker_order_id = ? OR maker_order_id = ?", orderID, orderID).
		Order("trade_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toTrades(models), nil
}

func (r *tradeRepository) FindByUser(ctx context.Context, userID, symbol string, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.getDB(ctx).WithContext(ctx).
		Where("taker_user_id = ? OR maker_user_id = ?", userID, userID)
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	var models []*TradeModel
	if err := query.Order("trade_id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return toTrades(models), nil
}

func (r *tradeRepository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []*TradeModel
	err := r.getDB(ctx).WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("trade_id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toTrades(models), nil
}

func toTrades(models []*TradeModel) []*domain.Trade {
	trades := make([]*domain.Trade, 0, len(models))
	for _, m := range models {
		trades = append(trades, toTrade(m))
	}
	return trades
}
