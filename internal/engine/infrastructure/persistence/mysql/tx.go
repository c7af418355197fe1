package mysql

import (
	"context"

	"github.com/wyfcoding/tradingengine/internal/engine/domain"
	"gorm.io/gorm"
)

// txKey 事务句柄在 context 中的私有键
type txKey struct{}

// txFrom 取出当前事务句柄，不在事务内时返回 nil。
func txFrom(ctx context.Context) *gorm.DB {
	tx, _ := ctx.Value(txKey{}).(*gorm.DB)
	return tx
}

type txManager struct{ db *gorm.DB }

// NewTxManager 创建事务管理器，事务句柄经 context 注入仓储。
func NewTxManager(db *gorm.DB) domain.TxManager {
	return &txManager{db: db}
}

func (m *txManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}
