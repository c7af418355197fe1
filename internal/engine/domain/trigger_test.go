package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func triggerOrder(id int64, typ OrderType, side Side, stop string) *Order {
	o := &Order{
		OrderID:  id,
		UserID:   "u1",
		Symbol:   "BTC-USDT",
		Type:     typ,
		Side:     side,
		Quantity: d("1"),
		Status:   StatusPendingNew,
	}
	if stop != "" {
		o.StopPrice = d(stop)
	}
	return o
}

func TestTriggerBook_StopAndTakeProfit(t *testing.T) {
	tests := []struct {
		name  string
		typ   OrderType
		side  Side
		stop  string
		price string
		fired bool
	}{
		{"sell stop above trigger", TypeStopLoss, SideSell, "95", "96", false},
		{"sell stop hit", TypeStopLoss, SideSell, "95", "95", true},
		{"sell stop crossed", TypeStopLimit, SideSell, "95", "94.5", true},
		{"buy stop below trigger", TypeStopLoss, SideBuy, "105", "104", false},
		{"buy stop hit", TypeStopLimit, SideBuy, "105", "105.5", true},
		{"sell take-profit below target", TypeTakeProfit, SideSell, "110", "109", false},
		{"sell take-profit hit", TypeTakeProfit, SideSell, "110", "110", true},
		{"buy take-profit above target", TypeTakeProfitLimit, SideBuy, "90", "91", false},
		{"buy take-profit hit", TypeTakeProfitLimit, SideBuy, "90", "89.5", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := NewTriggerBook()
			book.Add(triggerOrder(1, tt.typ, tt.side, tt.stop))
			fired := book.OnPrice(d(tt.price), decimal.Zero)
			if (len(fired) == 1) != tt.fired {
				t.Errorf("OnPrice(%s) fired = %d orders, want fired=%v", tt.price, len(fired), tt.fired)
			}
			if book.Contains(1) == tt.fired {
				t.Error("fired order must leave the trigger book, waiting order must stay")
			}
		})
	}
}

func TestTriggerBook_MarkPriceWorkingType(t *testing.T) {
	book := NewTriggerBook()
	order := triggerOrder(1, TypeStopLoss, SideSell, "95")
	order.WorkingType = WorkingMarkPrice
	book.Add(order)

	// 最新成交价已穿越但标记价未穿越：不触发
	if fired := book.OnPrice(d("94"), d("96")); len(fired) != 0 {
		t.Fatal("MARK_PRICE order must ignore last price")
	}
	if fired := book.OnPrice(d("100"), d("95")); len(fired) != 1 {
		t.Fatal("MARK_PRICE order must fire on mark price crossing")
	}
}

func TestTriggerBook_TrailingStopSell(t *testing.T) {
	book := NewTriggerBook()
	order := triggerOrder(1, TypeTrailingStop, SideSell, "")
	order.CallbackRate = d("1") // 1%
	book.Add(order)

	// 首个价格只播种极值
	if fired := book.OnPrice(d("100"), decimal.Zero); len(fired) != 0 {
		t.Fatal("first observation must only seed the extreme")
	}
	// 价格上行推高极值，动态触发价跟随
	book.OnPrice(d("110"), decimal.Zero)
	trigger, ok := book.TrailingTriggerPrice(1)
	if !ok || !trigger.Equal(d("108.9")) {
		t.Fatalf("trailing trigger = %s, want 108.9 (110 * 99%%)", trigger)
	}
	// 回撤未达回调比例：不触发
	if fired := book.OnPrice(d("109"), decimal.Zero); len(fired) != 0 {
		t.Fatal("pullback above trigger must not fire")
	}
	// 回撤穿越触发价
	if fired := book.OnPrice(d("108.9"), decimal.Zero); len(fired) != 1 {
		t.Fatal("pullback to trigger must fire")
	}
}

func TestTriggerBook_TrailingStopBuyWithDelta(t *testing.T) {
	book := NewTriggerBook()
	order := triggerOrder(1, TypeTrailingStop, SideBuy, "")
	order.TrailingDelta = d("2")
	book.Add(order)

	book.OnPrice(d("100"), decimal.Zero) // seed
	book.OnPrice(d("95"), decimal.Zero)  // new low, trigger = 97
	if trigger, _ := book.TrailingTriggerPrice(1); !trigger.Equal(d("97")) {
		t.Fatalf("trailing trigger = %s, want 97", trigger)
	}
	if fired := book.OnPrice(d("96.5"), decimal.Zero); len(fired) != 0 {
		t.Fatal("rebound below trigger must not fire")
	}
	if fired := book.OnPrice(d("97"), decimal.Zero); len(fired) != 1 {
		t.Fatal("rebound to trigger must fire")
	}
}

func TestTriggerBook_Remove(t *testing.T) {
	book := NewTriggerBook()
	book.Add(triggerOrder(1, TypeStopLoss, SideSell, "95"))
	if _, ok := book.Remove(1); !ok {
		t.Fatal("Remove() should find the pending order")
	}
	if book.Len() != 0 || book.Contains(1) {
		t.Error("removed order must leave the trigger book")
	}
	if _, ok := book.Remove(1); ok {
		t.Error("second Remove() must miss")
	}
}
