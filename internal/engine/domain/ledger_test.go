package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLedger_LockUnlockRoundTrip(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("alice", "USDT", d("1000"))

	if err := ledger.Lock("alice", "USDT", d("400")); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	bal := ledger.BalanceOf("alice", "USDT")
	if !bal.Free.Equal(d("600")) || !bal.Locked.Equal(d("400")) {
		t.Errorf("after lock: free=%s locked=%s, want 600/400", bal.Free, bal.Locked)
	}

	ledger.Unlock("alice", "USDT", d("400"))
	bal = ledger.BalanceOf("alice", "USDT")
	if !bal.Free.Equal(d("1000")) || !bal.Locked.IsZero() {
		t.Errorf("after unlock: free=%s locked=%s, want 1000/0", bal.Free, bal.Locked)
	}
}

func TestLedger_LockInsufficientFunds(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("alice", "USDT", d("100"))
	err := ledger.Lock("alice", "USDT", d("100.01"))
	if CodeOf(err) != CodeInsufficientFunds {
		t.Fatalf("err = %v, want INSUFFICIENT_FUNDS", err)
	}
	// 失败不产生任何副作用
	bal := ledger.BalanceOf("alice", "USDT")
	if !bal.Free.Equal(d("100")) || !bal.Locked.IsZero() {
		t.Errorf("failed lock mutated balance: %+v", bal)
	}
}

func TestLedger_UnlockCapsAtLocked(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("alice", "USDT", d("100"))
	if err := ledger.Lock("alice", "USDT", d("60")); err != nil {
		t.Fatal(err)
	}
	ledger.Unlock("alice", "USDT", d("999"))
	bal := ledger.BalanceOf("alice", "USDT")
	if !bal.Free.Equal(d("100")) || !bal.Locked.IsZero() {
		t.Errorf("over-unlock must cap at locked amount: %+v", bal)
	}
}

func TestLedger_ApplyTradeSettlesBothSides(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("buyer", "USDT", d("1100"))
	ledger.Deposit("seller", "BTC", d("100"))

	// 买方以 10.5 冻结 100 个：成交价 10 更优，差额应回流 free
	if err := ledger.Lock("buyer", "USDT", d("1050")); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Lock("seller", "BTC", d("100")); err != nil {
		t.Fatal(err)
	}

	trade := &Trade{
		Symbol:      "BTC-USDT",
		TakerUserID: "buyer",
		MakerUserID: "seller",
		Side:        SideBuy,
		Quantity:    d("100"),
		Price:       d("10"),
		Timestamp:   time.Now(),
	}
	ledger.ApplyTrade(trade, d("10.5"), decimal.Zero)

	buyerQuote := ledger.BalanceOf("buyer", "USDT")
	// 1100 − 1000 实付 = 100 free，冻结清零
	if !buyerQuote.Free.Equal(d("100")) || !buyerQuote.Locked.IsZero() {
		t.Errorf("buyer USDT: free=%s locked=%s, want 100/0", buyerQuote.Free, buyerQuote.Locked)
	}
	if got := ledger.BalanceOf("buyer", "BTC").Free; !got.Equal(d("100")) {
		t.Errorf("buyer BTC free = %s, want 100", got)
	}

	sellerBase := ledger.BalanceOf("seller", "BTC")
	if !sellerBase.Free.IsZero() || !sellerBase.Locked.IsZero() {
		t.Errorf("seller BTC: free=%s locked=%s, want 0/0", sellerBase.Free, sellerBase.Locked)
	}
	if got := ledger.BalanceOf("seller", "USDT").Free; !got.Equal(d("1000")) {
		t.Errorf("seller USDT free = %s, want 1000", got)
	}
}

func TestLedger_ApplyTradeCommissions(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("taker", "USDT", d("1000"))
	ledger.Deposit("maker", "BTC", d("10"))
	if err := ledger.Lock("taker", "USDT", d("1000")); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Lock("maker", "BTC", d("10")); err != nil {
		t.Fatal(err)
	}

	trade := &Trade{
		Symbol:          "BTC-USDT",
		TakerUserID:     "taker",
		MakerUserID:     "maker",
		Side:            SideBuy,
		Quantity:        d("10"),
		Price:           d("100"),
		Commission:      d("0.01"), // taker 买入：0.1% 计在 BTC
		CommissionAsset: "BTC",
		Timestamp:       time.Now(),
	}
	ledger.ApplyTrade(trade, d("100"), d("0.0005"))

	// taker 到手 10 BTC − 0.01 佣金
	if got := ledger.BalanceOf("taker", "BTC").Free; !got.Equal(d("9.99")) {
		t.Errorf("taker BTC = %s, want 9.99", got)
	}
	// maker 到手 1000 USDT − 0.05% maker 费
	if got := ledger.BalanceOf("maker", "USDT").Free; !got.Equal(d("999.5")) {
		t.Errorf("maker USDT = %s, want 999.5", got)
	}
}

func TestLedger_SettleDerivativeFillMovesMarginOnly(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("trader", "USDT", d("1000"))
	lev := d("10")

	// 开多 2 @ 100：准入已冻结 20 保证金，成交后保持冻结，不发生本金划转
	if err := ledger.Lock("trader", "USDT", d("20")); err != nil {
		t.Fatal(err)
	}
	ledger.SettleDerivativeFill("trader", "BTC-USDT", PositionBoth, SideBuy, d("2"), d("100"), d("100"), lev, MarginCross)

	bal := ledger.BalanceOf("trader", "USDT")
	if !bal.Free.Equal(d("980")) || !bal.Locked.Equal(d("20")) {
		t.Fatalf("after open: free=%s locked=%s, want 980/20", bal.Free, bal.Locked)
	}
	btc := ledger.BalanceOf("trader", "BTC")
	if !btc.Free.IsZero() || !btc.Locked.IsZero() {
		t.Fatalf("derivative fill must not move the base asset: %+v", btc)
	}

	// 平仓 2 @ 110：释放本单冻结 22 与仓位保证金 20，盈亏 +20 入 free
	if err := ledger.Lock("trader", "USDT", d("22")); err != nil {
		t.Fatal(err)
	}
	ledger.SettleDerivativeFill("trader", "BTC-USDT", PositionBoth, SideSell, d("2"), d("110"), d("110"), lev, MarginCross)

	bal = ledger.BalanceOf("trader", "USDT")
	if !bal.Free.Equal(d("1020")) || !bal.Locked.IsZero() {
		t.Errorf("after close: free=%s locked=%s, want 1020/0", bal.Free, bal.Locked)
	}
	pos, ok := ledger.PositionOf("trader", "BTC-USDT", PositionBoth)
	if !ok || !pos.Size.IsZero() || !pos.RealizedPnL.Equal(d("20")) {
		t.Errorf("position after close: size=%s pnl=%s, want 0/20", pos.Size, pos.RealizedPnL)
	}
}

func TestLedger_SettleDerivativeFillReleasesPriceImprovement(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("trader", "USDT", d("100"))

	// 冻结价 100，成交价 95：差额保证金 (5×2/10 = 1) 随成交回流 free
	if err := ledger.Lock("trader", "USDT", d("20")); err != nil {
		t.Fatal(err)
	}
	ledger.SettleDerivativeFill("trader", "BTC-USDT", PositionBoth, SideBuy, d("2"), d("95"), d("100"), d("10"), MarginCross)

	bal := ledger.BalanceOf("trader", "USDT")
	if !bal.Free.Equal(d("81")) || !bal.Locked.Equal(d("19")) {
		t.Errorf("free=%s locked=%s, want 81/19", bal.Free, bal.Locked)
	}
}

func TestLedger_ChargeDerivativeFees(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("taker", "USDT", d("100"))
	ledger.Deposit("maker", "USDT", d("100"))

	trade := &Trade{
		Symbol:          "BTC-USDT",
		TakerUserID:     "taker",
		MakerUserID:     "maker",
		Side:            SideBuy,
		Quantity:        d("2"),
		Price:           d("100"),
		Commission:      d("0.2"), // 0.1% taker
		CommissionAsset: "USDT",
		Timestamp:       time.Now(),
	}
	ledger.ChargeDerivativeFees(trade, d("0.0005"))

	if got := ledger.BalanceOf("taker", "USDT").Free; !got.Equal(d("99.8")) {
		t.Errorf("taker USDT = %s, want 99.8", got)
	}
	if got := ledger.BalanceOf("maker", "USDT").Free; !got.Equal(d("99.9")) {
		t.Errorf("maker USDT = %s, want 99.9", got)
	}
}

func TestLedger_PositionNettingAndFlip(t *testing.T) {
	ledger := NewLedger()
	user, symbol := "trader", "BTC-USDT"
	lev := d("10")

	// 开多 2 @ 100
	ledger.ApplyPositionFill(user, symbol, PositionBoth, SideBuy, d("2"), d("100"), lev, MarginCross)
	pos, ok := ledger.PositionOf(user, symbol, PositionBoth)
	if !ok || pos.Direction != PositionLong || !pos.Size.Equal(d("2")) || !pos.EntryPrice.Equal(d("100")) {
		t.Fatalf("after open: %+v", pos)
	}
	if !pos.InitialMargin.Equal(d("20")) {
		t.Errorf("initial margin = %s, want 20 (200 / 10x)", pos.InitialMargin)
	}

	// 同向加仓 2 @ 110：加权均价 105
	ledger.ApplyPositionFill(user, symbol, PositionBoth, SideBuy, d("2"), d("110"), lev, MarginCross)
	pos, _ = ledger.PositionOf(user, symbol, PositionBoth)
	if !pos.Size.Equal(d("4")) || !pos.EntryPrice.Equal(d("105")) {
		t.Errorf("after add: size=%s entry=%s, want 4/105", pos.Size, pos.EntryPrice)
	}

	// 反向减仓 3 @ 120：已实现盈亏 (120−105)×3 = 45
	ledger.ApplyPositionFill(user, symbol, PositionBoth, SideSell, d("3"), d("120"), lev, MarginCross)
	pos, _ = ledger.PositionOf(user, symbol, PositionBoth)
	if !pos.Size.Equal(d("1")) || !pos.RealizedPnL.Equal(d("45")) || pos.Direction != PositionLong {
		t.Errorf("after reduce: size=%s pnl=%s dir=%s, want 1/45/LONG", pos.Size, pos.RealizedPnL, pos.Direction)
	}

	// 减穿：卖 3，剩 1 平掉后余 2 反向开空 @ 90
	ledger.ApplyPositionFill(user, symbol, PositionBoth, SideSell, d("3"), d("90"), lev, MarginCross)
	pos, _ = ledger.PositionOf(user, symbol, PositionBoth)
	if pos.Direction != PositionShort || !pos.Size.Equal(d("2")) || !pos.EntryPrice.Equal(d("90")) {
		t.Errorf("after flip: dir=%s size=%s entry=%s, want SHORT/2/90", pos.Direction, pos.Size, pos.EntryPrice)
	}
	// 追加已实现盈亏 (90−105)×1 = −15，累计 30
	if !pos.RealizedPnL.Equal(d("30")) {
		t.Errorf("realized pnl = %s, want 30", pos.RealizedPnL)
	}
}

func TestLedger_HedgeModeIndependentSides(t *testing.T) {
	ledger := NewLedger()
	user, symbol := "trader", "BTC-USDT"
	lev := d("5")

	ledger.ApplyPositionFill(user, symbol, PositionLong, SideBuy, d("2"), d("100"), lev, MarginCross)
	ledger.ApplyPositionFill(user, symbol, PositionShort, SideSell, d("3"), d("100"), lev, MarginCross)

	long, _ := ledger.PositionOf(user, symbol, PositionLong)
	short, _ := ledger.PositionOf(user, symbol, PositionShort)
	if !long.Size.Equal(d("2")) || !short.Size.Equal(d("3")) {
		t.Fatalf("hedge sides: long=%s short=%s, want 2/3", long.Size, short.Size)
	}

	// LONG 仓只被 SELL 减
	ledger.ApplyPositionFill(user, symbol, PositionLong, SideSell, d("1"), d("110"), lev, MarginCross)
	long, _ = ledger.PositionOf(user, symbol, PositionLong)
	if !long.Size.Equal(d("1")) || !long.RealizedPnL.Equal(d("10")) {
		t.Errorf("long after reduce: size=%s pnl=%s, want 1/10", long.Size, long.RealizedPnL)
	}
	// SHORT 仓被 BUY 减，空头低买获利 (100−90)×1 = 10
	ledger.ApplyPositionFill(user, symbol, PositionShort, SideBuy, d("1"), d("90"), lev, MarginCross)
	short, _ = ledger.PositionOf(user, symbol, PositionShort)
	if !short.Size.Equal(d("2")) || !short.RealizedPnL.Equal(d("10")) {
		t.Errorf("short after reduce: size=%s pnl=%s, want 2/10", short.Size, short.RealizedPnL)
	}
}

func TestLedger_MarkPositions(t *testing.T) {
	ledger := NewLedger()
	ledger.ApplyPositionFill("a", "BTC-USDT", PositionBoth, SideBuy, d("2"), d("100"), d("1"), MarginCross)
	ledger.ApplyPositionFill("b", "BTC-USDT", PositionBoth, SideSell, d("1"), d("100"), d("1"), MarginCross)

	ledger.MarkPositions("BTC-USDT", d("110"))

	a, _ := ledger.PositionOf("a", "BTC-USDT", PositionBoth)
	if !a.UnrealizedPnL.Equal(d("20")) {
		t.Errorf("long unrealized = %s, want 20", a.UnrealizedPnL)
	}
	b, _ := ledger.PositionOf("b", "BTC-USDT", PositionBoth)
	if !b.UnrealizedPnL.Equal(d("-10")) {
		t.Errorf("short unrealized = %s, want -10", b.UnrealizedPnL)
	}
}

func TestBalance_NetAsset(t *testing.T) {
	bal := &Balance{Free: d("100"), Locked: d("50"), Borrowed: d("30"), Interest: d("5")}
	if got := bal.NetAsset(); !got.Equal(d("115")) {
		t.Errorf("NetAsset() = %s, want 115", got)
	}
}

func TestLedger_BorrowRepay(t *testing.T) {
	ledger := NewLedger()
	ledger.Deposit("alice", "USDT", d("100"))
	ledger.Borrow("alice", "USDT", d("200"))

	bal := ledger.BalanceOf("alice", "USDT")
	if !bal.Free.Equal(d("300")) || !bal.Borrowed.Equal(d("200")) {
		t.Fatalf("after borrow: free=%s borrowed=%s, want 300/200", bal.Free, bal.Borrowed)
	}
	// 净资产不因借入改变
	if !bal.NetAsset().Equal(d("100")) {
		t.Errorf("net asset = %s, want 100", bal.NetAsset())
	}

	ledger.AccrueInterest("alice", "USDT", d("1"))
	ledger.Repay("alice", "USDT", d("200"), d("1"))
	bal = ledger.BalanceOf("alice", "USDT")
	if !bal.Free.Equal(d("99")) || !bal.Borrowed.IsZero() || !bal.Interest.IsZero() {
		t.Errorf("after repay: %+v, want free 99 and debts cleared", bal)
	}
}
