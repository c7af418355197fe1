package mysql

import (
	"context"
	"testing"

	"gorm.io/gorm"
)

func TestTxFromContext(t *testing.T) {
	if got := txFrom(context.Background()); got != nil {
		t.Errorf("txFrom(empty ctx) = %v, want nil", got)
	}

	tx := &gorm.DB{}
	ctx := context.WithValue(context.Background(), txKey{}, tx)
	if got := txFrom(ctx); got != tx {
		t.Errorf("txFrom() did not return the injected transaction handle")
	}

	// 非事务值不串台
	other := context.WithValue(context.Background(), struct{}{}, tx)
	if got := txFrom(other); got != nil {
		t.Errorf("txFrom(foreign key) = %v, want nil", got)
	}
}
