package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func admitOrder(side Side, price, qty string) *Order {
	return &Order{
		OrderID:  1,
		UserID:   "alice",
		Symbol:   "BTC-USDT",
		Type:     TypeLimit,
		Side:     side,
		Price:    d(price),
		Quantity: d(qty),
		Status:   StatusNew,
	}
}

func TestRiskGate_AdmitLocksWorstCase(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("alice", "USDT", d("1000"))
	ledger.Deposit("alice", "BTC", d("5"))
	gate := NewRiskGate(RiskLimits{}, ledger)
	registry := NewOrderRegistry()

	buy := admitOrder(SideBuy, "100", "8")
	if err := gate.Admit(buy, registry, decimal.Zero); err != nil {
		t.Fatalf("Admit(buy) error = %v", err)
	}
	if !buy.LockPrice.Equal(d("100")) {
		t.Errorf("lock price = %s, want 100", buy.LockPrice)
	}
	if bal := ledger.BalanceOf("alice", "USDT"); !bal.Locked.Equal(d("800")) {
		t.Errorf("buy must lock quote 800, got %s", bal.Locked)
	}

	sell := admitOrder(SideSell, "100", "3")
	sell.OrderID = 2
	if err := gate.Admit(sell, registry, decimal.Zero); err != nil {
		t.Fatalf("Admit(sell) error = %v", err)
	}
	if bal := ledger.BalanceOf("alice", "BTC"); !bal.Locked.Equal(d("3")) {
		t.Errorf("sell must lock base 3, got %s", bal.Locked)
	}
}

func TestRiskGate_MarketOrderNeedsReferencePrice(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("alice", "USDT", d("1000"))
	gate := NewRiskGate(RiskLimits{}, ledger)
	registry := NewOrderRegistry()

	order := admitOrder(SideBuy, "0", "1")
	order.Type = TypeMarket
	order.Price = decimal.Zero

	if err := gate.Admit(order, registry, decimal.Zero); CodeOf(err) != CodeInvalid {
		t.Fatalf("no reference price: err = %v, want INVALID", err)
	}
	if err := gate.Admit(order, registry, d("500")); err != nil {
		t.Fatalf("Admit() with ref price error = %v", err)
	}
	if !order.LockPrice.Equal(d("500")) {
		t.Errorf("lock price = %s, want ref 500", order.LockPrice)
	}
	if bal := ledger.BalanceOf("alice", "USDT"); !bal.Locked.Equal(d("500")) {
		t.Errorf("locked = %s, want 500", bal.Locked)
	}
}

func TestRiskGate_Caps(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("alice", "USDT", d("1000000"))
	registry := NewOrderRegistry()

	t.Run("notional cap", func(t *testing.T) {
		gate := NewRiskGate(RiskLimits{MaxNotional: d("500")}, ledger)
		err := gate.Admit(admitOrder(SideBuy, "100", "6"), registry, decimal.Zero)
		if CodeOf(err) != CodeLimitExceeded {
			t.Errorf("err = %v, want LIMIT_EXCEEDED", err)
		}
	})

	t.Run("position cap", func(t *testing.T) {
		ledger.ApplyPositionFill("alice", "BTC-USDT", PositionBoth, SideBuy, d("8"), d("100"), d("1"), MarginCross)
		gate := NewRiskGate(RiskLimits{MaxPositionSize: d("10")}, ledger)
		err := gate.Admit(admitOrder(SideBuy, "100", "3"), registry, decimal.Zero)
		if CodeOf(err) != CodeLimitExceeded {
			t.Errorf("err = %v, want LIMIT_EXCEEDED", err)
		}
		if err := gate.Admit(admitOrder(SideBuy, "100", "2"), registry, decimal.Zero); err != nil {
			t.Errorf("within cap: err = %v", err)
		}
	})

	t.Run("open order cap", func(t *testing.T) {
		gate := NewRiskGate(RiskLimits{MaxOpenOrders: 1}, ledger)
		open := admitOrder(SideBuy, "100", "1")
		open.OrderID = 10
		registry.Put(open)
		err := gate.Admit(admitOrder(SideBuy, "100", "1"), registry, decimal.Zero)
		if CodeOf(err) != CodeLimitExceeded {
			t.Errorf("err = %v, want LIMIT_EXCEEDED", err)
		}
	})
}

// aggregateCounter 跨多个注册表汇总活跃订单数
type aggregateCounter []*OrderRegistry

func (c aggregateCounter) OpenCount(userID string) int {
	total := 0
	for _, r := range c {
		total += r.OpenCount(userID)
	}
	return total
}

func TestRiskGate_OpenOrderCapAcrossSymbols(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("alice", "USDT", d("100000"))
	gate := NewRiskGate(RiskLimits{MaxOpenOrders: 2}, ledger)

	btc := NewOrderRegistry()
	eth := NewOrderRegistry()
	btc.Put(admitOrder(SideBuy, "100", "1"))
	ethOpen := admitOrder(SideBuy, "100", "1")
	ethOpen.OrderID = 2
	ethOpen.Symbol = "ETH-USDT"
	eth.Put(ethOpen)

	// 名额按用户全局计：单表视角 1 个，汇总已达上限 2
	counter := aggregateCounter{btc, eth}
	err := gate.Admit(admitOrder(SideBuy, "100", "1"), counter, decimal.Zero)
	if CodeOf(err) != CodeLimitExceeded {
		t.Errorf("err = %v, want LIMIT_EXCEEDED", err)
	}
	if err := gate.Admit(admitOrder(SideBuy, "100", "1"), btc, decimal.Zero); err != nil {
		t.Errorf("single-registry view should still admit: err = %v", err)
	}
}

func TestRiskGate_DerivativeMarginLock(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("alice", "USDT", d("100"))
	gate := NewRiskGate(RiskLimits{}, ledger)
	registry := NewOrderRegistry()

	order := admitOrder(SideBuy, "100", "5")
	order.TradingMode = ModePerpetual
	order.Leverage = d("10")

	if err := gate.Admit(order, registry, decimal.Zero); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	// 名义 500 / 10x = 50 保证金
	if bal := ledger.BalanceOf("alice", "USDT"); !bal.Locked.Equal(d("50")) {
		t.Errorf("margin locked = %s, want 50", bal.Locked)
	}
}

func TestRiskGate_ReduceOnly(t *testing.T) {
	ledger := NewLedger()
	gate := NewRiskGate(RiskLimits{}, ledger)
	registry := NewOrderRegistry()

	newOrder := func(side Side, qty string) *Order {
		o := admitOrder(side, "100", qty)
		o.TradingMode = ModePerpetual
		o.PositionSide = PositionBoth
		o.ReduceOnly = true
		o.Leverage = d("1")
		return o
	}

	// 无持仓：拒绝
	if err := gate.Admit(newOrder(SideSell, "1"), registry, decimal.Zero); CodeOf(err) != CodeInvalid {
		t.Fatalf("no position: err = %v, want INVALID", err)
	}

	ledger.ApplyPositionFill("alice", "BTC-USDT", PositionBoth, SideBuy, d("2"), d("100"), d("1"), MarginCross)

	// 增仓方向：拒绝
	if err := gate.Admit(newOrder(SideBuy, "1"), registry, decimal.Zero); CodeOf(err) != CodeInvalid {
		t.Errorf("wrong direction: err = %v, want INVALID", err)
	}
	// 超量减仓且非一键平仓：拒绝
	if err := gate.Admit(newOrder(SideSell, "3"), registry, decimal.Zero); CodeOf(err) != CodeInvalid {
		t.Errorf("oversized reduce: err = %v, want INVALID", err)
	}
	// 一键平仓允许超量
	closeAll := newOrder(SideSell, "3")
	closeAll.ClosePosition = true
	if err := gate.Admit(closeAll, registry, decimal.Zero); err != nil {
		t.Errorf("close position: err = %v", err)
	}

	// 只减仓不冻结资金
	ok := newOrder(SideSell, "1")
	if err := gate.Admit(ok, registry, decimal.Zero); err != nil {
		t.Fatalf("valid reduce-only: err = %v", err)
	}
	if bal := ledger.BalanceOf("alice", "USDT"); !bal.Locked.IsZero() {
		t.Errorf("reduce-only must not lock funds, locked = %s", bal.Locked)
	}
}

func TestRiskGate_ReleaseRemaining(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("alice", "USDT", d("1000"))
	gate := NewRiskGate(RiskLimits{}, ledger)
	registry := NewOrderRegistry()

	order := admitOrder(SideBuy, "100", "8")
	if err := gate.Admit(order, registry, decimal.Zero); err != nil {
		t.Fatal(err)
	}
	// 部分成交 5 个后撤单：释放剩余 3 × 100
	order.ExecutedQty = d("5")
	gate.ReleaseRemaining(order)

	bal := ledger.BalanceOf("alice", "USDT")
	if !bal.Locked.Equal(d("500")) || !bal.Free.Equal(d("500")) {
		t.Errorf("after release: free=%s locked=%s, want 500/500", bal.Free, bal.Locked)
	}
}
