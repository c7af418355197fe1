package mysql

import (
	"context"
	"errors"

	"github.com/wyfcoding/tradingengine/internal/engine/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type orderRepository struct{ db *gorm.DB }

// NewOrderRepository 创建订单仓储
func NewOrderRepository(db *gorm.DB) domain.OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) getDB(ctx context.Context) *gorm.DB {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return r.db
}

func (r *orderRepository) Save(ctx context.Context, order *domain.Order) error {
	return r.getDB(ctx).WithContext(ctx).Create(toOrderModel(order)).Error
}

// Update 按 order_id upsert：重复写入同一状态无语义变化（至少一次投递）。
func (r *orderRepository) Update(ctx context.Context, order *domain.Order) error {
	model := toOrderModel(order)
	return r.getDB(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "executed_qty", "cumulative_quote", "avg_price", "updated_time",
			}),
		}).
		Create(model).Error
}

func (r *orderRepository) FindByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	var model OrderModel
	err := r.getDB(ctx).WithContext(ctx).Where("order_id = ?", orderID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toOrder(&model), nil
}

func (r *orderRepository) FindOpenBySymbol(ctx context.Context, symbol string) ([]*domain.Order, error) {
	var models []*OrderModel
	err := r.getDB(ctx).WithContext(ctx).
		Where("symbol = ? AND status IN ?", symbol, []string{
			string(domain.StatusNew),
			string(domain.StatusPartiallyFilled),
			string(domain.StatusPendingNew),
			string(domain.StatusTriggered),
		}).
		Order("order_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(models))
	for _, m := range models {
		orders = append(orders, toOrder(m))
	}
	return orders, nil
}

func (r *orderRepository) FindByUser(ctx context.Context, userID, symbol string, limit int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.getDB(ctx).WithContext(ctx).Where("user_id = ?", userID)
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	var models []*OrderModel
	if err := query.Order("order_id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(models))
	for _, m := range models {
		orders = append(orders, toOrder(m))
	}
	return orders, nil
}
