package domain

import (
	"context"
)

// OrderRepository 订单持久化接口。
// 订单行以 order_id 为键，每次状态迁移 upsert 一次；
// 引擎侧保证至少一次写入，重复写入同一 (order_id, updated_time) 无语义变化。
type OrderRepository interface {
	Save(ctx context.Context, order *Order) error
	Update(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, orderID int64) (*Order, error)
	FindOpenBySymbol(ctx context.Context, symbol string) ([]*Order, error)
	FindByUser(ctx context.Context, userID, symbol string, limit int) ([]*Order, error)
}

// TradeRepository 成交持久化接口，成交行只插入不更新。
type TradeRepository interface {
	Save(ctx context.Context, trade *Trade) error
	FindByOrderID(ctx context.Context, orderID int64) ([]*Trade, error)
	FindByUser(ctx context.Context, userID, symbol string, limit int) ([]*Trade, error)
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*Trade, error)
}

// BookSnapshotRepository 订单簿快照缓存接口（行情查询走缓存，不进撮合线程）。
type BookSnapshotRepository interface {
	Save(ctx context.Context, snapshot *BookSnapshot) error
	Load(ctx context.Context, symbol string) (*BookSnapshot, error)
}

// TxManager 数据库事务边界，仓储实现从 ctx 取出事务句柄。
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher 事件总线接口，按 symbol 分区发布。
type EventPublisher interface {
	PublishOrderUpdate(ctx context.Context, event *OrderUpdateEvent) error
	PublishTrade(ctx context.Context, event *TradeEvent) error
}
