package domain

import (
	"github.com/shopspring/decimal"
)

// RiskLimits 准入风控上限，按交易对配置。
type RiskLimits struct {
	// MaxNotional 单笔名义价值上限（计价资产），零值不限制。
	MaxNotional decimal.Decimal
	// MaxPositionSize 单用户单交易对最坏成交后的持仓规模上限，零值不限制。
	MaxPositionSize decimal.Decimal
	// MaxOpenOrders 单用户活跃订单数上限，零值不限制。
	MaxOpenOrders int
}

// OpenCounter 活跃订单计数来源。单交易对场景即 *OrderRegistry；
// 名额上限按用户全局生效，多交易对由调用方聚合全部注册表。
type OpenCounter interface {
	OpenCount(userID string) int
}

// RiskGate 订单准入风控：名义价值、持仓、名额、余额四项检查全部通过后
// 原子冻结最坏成本。任何一项失败订单被同步拒绝，不进入定序队列。
type RiskGate struct {
	limits RiskLimits
	ledger *Ledger
}

// NewRiskGate 构造风控闸
func NewRiskGate(limits RiskLimits, ledger *Ledger) *RiskGate {
	return &RiskGate{limits: limits, ledger: ledger}
}

// Admit 对候选订单执行准入检查并冻结最坏成本。
// refPrice 为市价单的冻结参考价（最新成交价或标记价），限价单忽略。
// 成功后 order.LockPrice 记录冻结单价，撤单与结算按其释放。
func (g *RiskGate) Admit(order *Order, open OpenCounter, refPrice decimal.Decimal) error {
	lockPrice := order.Price
	if order.Type == TypeMarket || lockPrice.IsZero() {
		lockPrice = refPrice
	}
	if !lockPrice.IsPositive() {
		return Reject(CodeInvalid, "no reference price available for %s %s", order.Symbol, order.Type)
	}

	notional := order.Quantity.Mul(lockPrice)
	if g.limits.MaxNotional.IsPositive() && notional.GreaterThan(g.limits.MaxNotional) {
		return Reject(CodeLimitExceeded, "notional %s exceeds cap %s",
			notional.String(), g.limits.MaxNotional.String())
	}

	if g.limits.MaxPositionSize.IsPositive() {
		projected := g.projectedSize(order)
		if projected.GreaterThan(g.limits.MaxPositionSize) {
			return Reject(CodeLimitExceeded, "projected position %s exceeds cap %s",
				projected.String(), g.limits.MaxPositionSize.String())
		}
	}

	if g.limits.MaxOpenOrders > 0 && open.OpenCount(order.UserID)+1 > g.limits.MaxOpenOrders {
		return Reject(CodeLimitExceeded, "open order count cap %d reached", g.limits.MaxOpenOrders)
	}

	if order.ReduceOnly || order.ClosePosition {
		if err := g.checkReduceOnly(order); err != nil {
			return err
		}
		// 只减仓订单不新增敞口，免于冻结。
		order.LockPrice = lockPrice
		return nil
	}

	asset, amount := g.worstCaseCost(order, lockPrice)
	if err := g.ledger.Lock(order.UserID, asset, amount); err != nil {
		return err
	}
	order.LockPrice = lockPrice
	return nil
}

// ReleaseRemaining 撤单 / 过期 / 入簿失败时按剩余量释放冻结
func (g *RiskGate) ReleaseRemaining(order *Order) {
	if order.ReduceOnly || order.ClosePosition {
		return
	}
	remaining := order.RemainingQty()
	if !remaining.IsPositive() {
		return
	}
	asset, amount := g.worstCaseCost(&Order{
		UserID:      order.UserID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    remaining,
		TradingMode: order.TradingMode,
		Leverage:    order.Leverage,
	}, order.LockPrice)
	g.ledger.Unlock(order.UserID, asset, amount)
}

// worstCaseCost 冻结资产与额度：
// 现货买入冻结计价资产 qty×price，卖出冻结基础资产 qty；
// 衍生品按初始保证金 notional / leverage 冻结计价资产。
func (g *RiskGate) worstCaseCost(order *Order, lockPrice decimal.Decimal) (string, decimal.Decimal) {
	base, quote := SplitSymbol(order.Symbol)
	if order.TradingMode.IsDerivative() {
		margin := order.Quantity.Mul(lockPrice)
		if order.Leverage.GreaterThan(decimal.NewFromInt(1)) {
			margin = margin.Div(order.Leverage)
		}
		return quote, margin
	}
	if order.Side == SideBuy {
		return quote, order.Quantity.Mul(lockPrice)
	}
	return base, order.Quantity
}

// projectedSize 最坏成交后的持仓规模：现有同向仓位加本单全量。
func (g *RiskGate) projectedSize(order *Order) decimal.Decimal {
	side := order.PositionSide
	if side == "" {
		side = PositionBoth
	}
	current := decimal.Zero
	if pos, ok := g.ledger.PositionOf(order.UserID, order.Symbol, side); ok {
		current = pos.Size
	}
	return current.Add(order.Quantity)
}

// checkReduceOnly 只减仓订单必须存在可减的反向敞口
func (g *RiskGate) checkReduceOnly(order *Order) error {
	side := order.PositionSide
	if side == "" {
		side = PositionBoth
	}
	pos, ok := g.ledger.PositionOf(order.UserID, order.Symbol, side)
	if !ok || !pos.Size.IsPositive() {
		return Reject(CodeInvalid, "reduce-only order with no open position")
	}
	reduces := (pos.Direction == PositionLong && order.Side == SideSell) ||
		(pos.Direction == PositionShort && order.Side == SideBuy)
	if !reduces {
		return Reject(CodeInvalid, "reduce-only order would increase position")
	}
	if order.Quantity.GreaterThan(pos.Size) && !order.ClosePosition {
		return Reject(CodeInvalid, "reduce-only quantity %s exceeds position size %s",
			order.Quantity.String(), pos.Size.String())
	}
	return nil
}
