package domain

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Balance 用户单资产台账。
// net_asset = free + locked − borrowed − interest。
type Balance struct {
	UserID   string          `json:"user_id"`
	Asset    string          `json:"asset"`
	Free     decimal.Decimal `json:"free"`
	Locked   decimal.Decimal `json:"locked"`
	Borrowed decimal.Decimal `json:"borrowed"`
	Interest decimal.Decimal `json:"interest"`
}

// NetAsset 净资产
func (b *Balance) NetAsset() decimal.Decimal {
	return b.Free.Add(b.Locked).Sub(b.Borrowed).Sub(b.Interest)
}

// Position 用户单交易对持仓，按 (user, symbol, position_side) 维度记账。
// 单向模式使用 BOTH 仓位净额轧差，Direction 标记当前净头寸方向；
// 对冲模式 LONG / SHORT 独立记账，Direction 恒等于 PositionSide。
type Position struct {
	UserID       string       `json:"user_id"`
	Symbol       string       `json:"symbol"`
	PositionSide PositionSide `json:"position_side"`
	Direction    PositionSide `json:"direction"`

	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	MarkPrice  decimal.Decimal `json:"mark_price"`

	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`

	Margin            decimal.Decimal `json:"margin"`
	InitialMargin     decimal.Decimal `json:"initial_margin"`
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin"`

	Leverage   decimal.Decimal `json:"leverage"`
	MarginType MarginType      `json:"margin_type"`
}

// maintenanceMarginRate 维持保证金率，清算策略在引擎之外，这里只维护数值。
var maintenanceMarginRate = decimal.NewFromFloat(0.005)

func (p *Position) refreshMargins() {
	notional := p.Size.Mul(p.EntryPrice)
	if p.Leverage.IsPositive() {
		p.InitialMargin = notional.Div(p.Leverage)
	} else {
		p.InitialMargin = notional
	}
	p.Margin = p.InitialMargin
	p.MaintenanceMargin = notional.Mul(maintenanceMarginRate)
}

// MarkTo 按标记价重算浮动盈亏
func (p *Position) MarkTo(markPrice decimal.Decimal) {
	p.MarkPrice = markPrice
	if !p.Size.IsPositive() {
		p.UnrealizedPnL = decimal.Zero
		return
	}
	diff := markPrice.Sub(p.EntryPrice)
	if p.Direction == PositionShort {
		diff = diff.Neg()
	}
	p.UnrealizedPnL = diff.Mul(p.Size)
}

// Ledger 进程内持仓与资金台账。撮合 Worker 在结算路径写入，
// 查询路径并发读取；每个用户资产对的变更整体处于写锁内，与成交原子。
type Ledger struct {
	mu        sync.RWMutex
	balances  map[string]*Balance  // user|asset
	positions map[string]*Position // user|symbol|position_side
}

// NewLedger 创建空台账
func NewLedger() *Ledger {
	return &Ledger{
		balances:  make(map[string]*Balance),
		positions: make(map[string]*Position),
	}
}

func balanceKey(userID, asset string) string { return userID + "|" + asset }

func positionKey(userID, symbol string, side PositionSide) string {
	return userID + "|" + symbol + "|" + string(side)
}

func (l *Ledger) balanceLocked(userID, asset string) *Balance {
	key := balanceKey(userID, asset)
	bal, ok := l.balances[key]
	if !ok {
		bal = &Balance{UserID: userID, Asset: asset}
		l.balances[key] = bal
	}
	return bal
}

// Deposit 入金（初始化资金与测试场景）
func (l *Ledger) Deposit(userID, asset string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balanceLocked(userID, asset)
	bal.Free = bal.Free.Add(amount)
}

// BalanceOf 单资产余额快照
func (l *Ledger) BalanceOf(userID, asset string) Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[balanceKey(userID, asset)]; ok {
		return *bal
	}
	return Balance{UserID: userID, Asset: asset}
}

// BalancesOf 用户全部资产余额快照
func (l *Ledger) BalancesOf(userID string) []Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Balance
	for _, bal := range l.balances {
		if bal.UserID == userID {
			out = append(out, *bal)
		}
	}
	return out
}

// Lock 将 free 划转到 locked，不足则拒绝。订单准入时冻结最坏成本。
func (l *Ledger) Lock(userID, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balanceLocked(userID, asset)
	if bal.Free.LessThan(amount) {
		return Reject(CodeInsufficientFunds, "insufficient %s balance: free=%s need=%s",
			asset, bal.Free.String(), amount.String())
	}
	bal.Free = bal.Free.Sub(amount)
	bal.Locked = bal.Locked.Add(amount)
	return nil
}

// Unlock 撤单 / 过期 / 拒绝时释放剩余冻结
func (l *Ledger) Unlock(userID, asset string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(l.balanceLocked(userID, asset), amount)
}

// releaseLocked 从 locked 划回 free，超出部分截断到实际冻结量。
func (l *Ledger) releaseLocked(bal *Balance, amount decimal.Decimal) decimal.Decimal {
	release := decimal.Min(amount, bal.Locked)
	bal.Locked = bal.Locked.Sub(release)
	bal.Free = bal.Free.Add(release)
	return release
}

// Borrow 杠杆借入：borrowed 增加，free 同步增加。
func (l *Ledger) Borrow(userID, asset string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balanceLocked(userID, asset)
	bal.Borrowed = bal.Borrowed.Add(amount)
	bal.Free = bal.Free.Add(amount)
}

// Repay 归还借入本金，附带已计利息。
func (l *Ledger) Repay(userID, asset string, principal, interest decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balanceLocked(userID, asset)
	total := principal.Add(interest)
	bal.Free = bal.Free.Sub(total)
	bal.Borrowed = decimal.Max(decimal.Zero, bal.Borrowed.Sub(principal))
	bal.Interest = decimal.Max(decimal.Zero, bal.Interest.Sub(interest))
}

// AccrueInterest 计提借贷利息
func (l *Ledger) AccrueInterest(userID, asset string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balanceLocked(userID, asset)
	bal.Interest = bal.Interest.Add(amount)
}

// ApplyTrade 将一笔现货成交结算到买卖双方台账，与成交原子：
// 买方按冻结单价释放计价资产、扣减实际成交额、入账基础资产；
// 卖方释放基础资产冻结、入账成交额；手续费各自从到手资产的 free 扣减。
// buyerLockPrice 为买方冻结时的单价，市价单传冻结所用的参考价。
func (l *Ledger) ApplyTrade(trade *Trade, buyerLockPrice, makerFeeRate decimal.Decimal) {
	base, quote := SplitSymbol(trade.Symbol)
	buyer, seller := trade.TakerUserID, trade.MakerUserID
	if trade.Side == SideSell {
		buyer, seller = seller, buyer
	}

	cost := trade.QuoteAmount()
	lockedCost := cost
	if buyerLockPrice.IsPositive() {
		lockedCost = trade.Quantity.Mul(buyerLockPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	buyerQuote := l.balanceLocked(buyer, quote)
	l.releaseLocked(buyerQuote, lockedCost)
	// 成交价优于冻结价的差额随释放一并回到 free，这里只需再扣实际成交额。
	buyerQuote.Free = buyerQuote.Free.Sub(cost)
	buyerBase := l.balanceLocked(buyer, base)
	buyerBase.Free = buyerBase.Free.Add(trade.Quantity)

	sellerBase := l.balanceLocked(seller, base)
	l.releaseLocked(sellerBase, trade.Quantity)
	sellerBase.Free = sellerBase.Free.Sub(trade.Quantity)
	l.balanceLocked(seller, quote).Free = l.balanceLocked(seller, quote).Free.Add(cost)

	// taker 手续费已随成交计出；maker 按 maker 费率对到手资产计收。
	if trade.Commission.IsPositive() {
		tb := l.balanceLocked(trade.TakerUserID, trade.CommissionAsset)
		tb.Free = tb.Free.Sub(trade.Commission)
	}
	if makerFeeRate.IsPositive() {
		if trade.Side == SideBuy {
			mb := l.balanceLocked(trade.MakerUserID, quote)
			mb.Free = mb.Free.Sub(cost.Mul(makerFeeRate))
		} else {
			mb := l.balanceLocked(trade.MakerUserID, base)
			mb.Free = mb.Free.Sub(trade.Quantity.Mul(makerFeeRate))
		}
	}
}

// ChargeDerivativeFees 衍生品手续费：无基础资产交割，双方均以计价资产
// 从 free 扣减。taker 按成交记录的 Commission，maker 按费率对成交额计收。
func (l *Ledger) ChargeDerivativeFees(trade *Trade, makerFeeRate decimal.Decimal) {
	_, quote := SplitSymbol(trade.Symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	if trade.Commission.IsPositive() {
		tb := l.balanceLocked(trade.TakerUserID, trade.CommissionAsset)
		tb.Free = tb.Free.Sub(trade.Commission)
	}
	if makerFeeRate.IsPositive() {
		mb := l.balanceLocked(trade.MakerUserID, quote)
		mb.Free = mb.Free.Sub(trade.QuoteAmount().Mul(makerFeeRate))
	}
}

// PositionOf 指定维度的持仓快照
func (l *Ledger) PositionOf(userID, symbol string, side PositionSide) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if pos, ok := l.positions[positionKey(userID, symbol, side)]; ok {
		return *pos, true
	}
	return Position{}, false
}

// PositionsOf 用户全部持仓快照
func (l *Ledger) PositionsOf(userID string) []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Position
	for _, pos := range l.positions {
		if pos.UserID == userID {
			out = append(out, *pos)
		}
	}
	return out
}

// positionClose 一笔成交中减仓部分的结算口径。
type positionClose struct {
	Qty        decimal.Decimal
	EntryPrice decimal.Decimal
	Leverage   decimal.Decimal
	PnL        decimal.Decimal
}

// ApplyPositionFill 将一笔衍生品成交落到持仓：
// 同向加仓按数量加权重算开仓均价；反向减仓按均价差结转已实现盈亏，
// 单向 BOTH 仓位减穿后余量反向开仓。
func (l *Ledger) ApplyPositionFill(userID, symbol string, posSide PositionSide, fillSide Side, qty, price, leverage decimal.Decimal, marginType MarginType) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fillPositionLocked(userID, symbol, posSide, fillSide, qty, price, leverage, marginType)
}

// SettleDerivativeFill 衍生品成交的保证金结算，持仓变更与资金划转同锁完成。
// 不发生基础资产交割，资金口径全部为计价资产：
// 开仓量的初始保证金保持冻结（准入时已按冻结价锁定，成交价优于冻结价的差额释放）；
// 减仓量释放本单冻结与被平仓位的保证金，已实现盈亏计入 free。
// lockPrice 为本单准入冻结的单价，只减仓订单未冻结资金，传零。
func (l *Ledger) SettleDerivativeFill(userID, symbol string, posSide PositionSide, fillSide Side, qty, price, lockPrice, leverage decimal.Decimal, marginType MarginType) {
	l.mu.Lock()
	defer l.mu.Unlock()

	closed := l.fillPositionLocked(userID, symbol, posSide, fillSide, qty, price, leverage, marginType)
	_, quote := SplitSymbol(symbol)
	bal := l.balanceLocked(userID, quote)

	openQty := qty.Sub(closed.Qty)
	if openQty.IsPositive() && lockPrice.GreaterThan(price) {
		l.releaseLocked(bal, marginOf(openQty, lockPrice.Sub(price), leverage))
	}
	if closed.Qty.IsPositive() {
		l.releaseLocked(bal, marginOf(closed.Qty, lockPrice, leverage))
		l.releaseLocked(bal, marginOf(closed.Qty, closed.EntryPrice, closed.Leverage))
		bal.Free = bal.Free.Add(closed.PnL)
	}
}

// marginOf 初始保证金：名义价值除以杠杆，杠杆不足 1 时按全额。
func marginOf(qty, price, leverage decimal.Decimal) decimal.Decimal {
	margin := qty.Mul(price)
	if leverage.GreaterThan(decimal.NewFromInt(1)) {
		return margin.Div(leverage)
	}
	return margin
}

func (l *Ledger) fillPositionLocked(userID, symbol string, posSide PositionSide, fillSide Side, qty, price, leverage decimal.Decimal, marginType MarginType) positionClose {
	key := positionKey(userID, symbol, posSide)
	pos, ok := l.positions[key]
	if !ok {
		pos = &Position{
			UserID:       userID,
			Symbol:       symbol,
			PositionSide: posSide,
			Direction:    posSide,
			Leverage:     leverage,
			MarginType:   marginType,
		}
		if posSide == PositionBoth {
			pos.Direction = PositionLong
		}
		l.positions[key] = pos
	}
	if leverage.IsPositive() {
		pos.Leverage = leverage
	}

	fillDir := PositionLong
	if fillSide == SideSell {
		fillDir = PositionShort
	}

	increases := fillDir == pos.Direction
	if posSide != PositionBoth {
		// 对冲模式：LONG 仓只被 BUY 增、SELL 减，SHORT 相反。
		increases = (posSide == PositionLong) == (fillSide == SideBuy)
	}

	if increases || !pos.Size.IsPositive() {
		if !pos.Size.IsPositive() {
			pos.Direction = fillDir
			if posSide != PositionBoth {
				pos.Direction = posSide
			}
			pos.EntryPrice = price
			pos.Size = qty
		} else {
			total := pos.Size.Add(qty)
			pos.EntryPrice = pos.EntryPrice.Mul(pos.Size).Add(price.Mul(qty)).Div(total)
			pos.Size = total
		}
		pos.refreshMargins()
		pos.MarkTo(price)
		return positionClose{}
	}

	closeQty := decimal.Min(qty, pos.Size)
	closedEntry := pos.EntryPrice
	closedLeverage := pos.Leverage
	pnl := price.Sub(pos.EntryPrice).Mul(closeQty)
	if pos.Direction == PositionShort {
		pnl = pnl.Neg()
	}
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
	pos.Size = pos.Size.Sub(closeQty)

	leftover := qty.Sub(closeQty)
	if leftover.IsPositive() && posSide == PositionBoth {
		// 净额轧差减穿：余量以成交价反向开仓。
		pos.Direction = fillDir
		pos.Size = leftover
		pos.EntryPrice = price
	}
	if !pos.Size.IsPositive() {
		pos.EntryPrice = decimal.Zero
	}
	pos.refreshMargins()
	pos.MarkTo(price)
	return positionClose{Qty: closeQty, EntryPrice: closedEntry, Leverage: closedLeverage, PnL: pnl}
}

// MarkPositions 按最新标记价刷新一个交易对下全部持仓的浮动盈亏
func (l *Ledger) MarkPositions(symbol string, markPrice decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, pos := range l.positions {
		if pos.Symbol == symbol {
			pos.MarkTo(markPrice)
		}
	}
}
