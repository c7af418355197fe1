package domain

import (
	"container/list"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatcherConfig 撮合参数
type MatcherConfig struct {
	MakerFeeRate        decimal.Decimal
	TakerFeeRate        decimal.Decimal
	SelfTradePrevention bool
}

// Matcher 单交易对撮合核心：对一笔进攻 (taker) 订单产出有序成交列表与
// 驻留残量。只在该交易对的撮合 Worker 内调用，不可重入。
type Matcher struct {
	book        *OrderBook
	cfg         MatcherConfig
	nextTradeID func() int64
	now         func() time.Time
}

// NewMatcher 构造撮合器
func NewMatcher(book *OrderBook, cfg MatcherConfig, nextTradeID func() int64, now func() time.Time) *Matcher {
	return &Matcher{book: book, cfg: cfg, nextTradeID: nextTradeID, now: now}
}

// Fill maker 侧的一次成交，用于回写 OrderRegistry。
type Fill struct {
	MakerOrderID int64
	Quantity     decimal.Decimal
	Price        decimal.Decimal
}

// MatchResult 一次撮合步骤的全部产出
type MatchResult struct {
	Taker *Order
	// Trades 按产生顺序排列，LastUpdateID 单调递增。
	Trades []*Trade
	// MakerFills 与 Trades 一一对应。
	MakerFills []Fill
	// CancelledMakerIDs 自成交保护摘除的驻留订单。
	CancelledMakerIDs []int64
	// Rested 残量是否驻留到簿上。
	Rested bool
}

// Match 按订单类型与有效期策略执行撮合。
// 返回 RejectError 表示订单被整体拒绝（FOK 无法全量成交、post-only 将交叉），
// 此时簿保持原状，不产生任何成交。
func (m *Matcher) Match(taker *Order) (*MatchResult, error) {
	result := &MatchResult{Taker: taker}

	var limit *decimal.Decimal
	if taker.Type != TypeMarket {
		p := taker.Price
		limit = &p
	}

	// post-only：入场即会交叉则拒绝，不产生成交。
	if taker.Type == TypeLimitMaker {
		if m.wouldCross(taker.Side, taker.Price) {
			return nil, Reject(CodeInvalid, "LIMIT_MAKER order would immediately match")
		}
	}

	// FOK：预检限价内可成交总量，不足额则整体拒绝。
	// 自成交保护下本方驻留单只会被撤销，不算作可成交流动性。
	if taker.TimeInForce == TIFFok {
		exclude := ""
		if m.cfg.SelfTradePrevention {
			exclude = taker.UserID
		}
		available := m.book.AvailableWithin(taker.Side, limit, taker.RemainingQty(), exclude)
		if available.LessThan(taker.RemainingQty()) {
			return nil, Reject(CodeInvalid, "FOK order cannot be fully filled")
		}
	}

	m.matchAgainstBook(taker, limit, result)

	remaining := taker.RemainingQty()
	if remaining.IsPositive() {
		switch {
		case taker.Type == TypeMarket, taker.TimeInForce == TIFIoc, taker.TimeInForce == TIFFok:
			// 市价单与 IOC/FOK 的残量立即取消，永不驻留。
			taker.MarkCancelled(m.now())
		default:
			m.rest(taker, remaining)
			result.Rested = true
			if taker.Status != StatusPartiallyFilled {
				taker.Status = StatusNew
			}
		}
	}
	return result, nil
}

// wouldCross 限价单是否会立即与对手盘成交
func (m *Matcher) wouldCross(side Side, price decimal.Decimal) bool {
	if side == SideBuy {
		ask, _, ok := m.book.BestAsk()
		return ok && price.GreaterThanOrEqual(ask)
	}
	bid, _, ok := m.book.BestBid()
	return ok && price.LessThanOrEqual(bid)
}

// matchAgainstBook 沿对手盘逐档吃单。价位档内部严格 FIFO；
// 部分成交的 maker 保持队列位置，吃空的切片触发冰山补单到队尾。
func (m *Matcher) matchAgainstBook(taker *Order, limit *decimal.Decimal, result *MatchResult) {
	opponent := m.book.sideBook(taker.Side.Opposite())
	it := opponent.Iterator()
	for {
		key, level, ok := it.Next()
		if !ok {
			return
		}
		if !crosses(taker.Side, limit, level.Price) {
			return
		}

		var next *list.Element
		for el := level.Orders.Front(); el != nil; el = next {
			next = el.Next()
			entry := el.Value.(*BookEntry)

			if m.cfg.SelfTradePrevention && entry.UserID == taker.UserID {
				// 自成交保护：驻留方先到先得，按规则撤销较早的一单后继续撮合。
				m.book.bump()
				level.Orders.Remove(el)
				delete(m.book.entries, entry.OrderID)
				result.CancelledMakerIDs = append(result.CancelledMakerIDs, entry.OrderID)
				continue
			}

			matchQty := decimal.Min(taker.RemainingQty(), entry.Visible)
			if !matchQty.IsPositive() {
				continue
			}

			entry.Visible = entry.Visible.Sub(matchQty)
			updateID := m.book.bump()
			at := m.now()
			taker.ApplyFill(matchQty, level.Price, at)

			trade := &Trade{
				TradeID:      m.nextTradeID(),
				Symbol:       m.book.Symbol,
				TakerOrderID: taker.OrderID,
				MakerOrderID: entry.OrderID,
				TakerUserID:  taker.UserID,
				MakerUserID:  entry.UserID,
				Side:         taker.Side,
				Quantity:     matchQty,
				Price:        level.Price,
				IsMaker:      false,
				LastUpdateID: updateID,
				Timestamp:    at,
			}
			m.applyCommission(trade, taker)
			result.Trades = append(result.Trades, trade)
			result.MakerFills = append(result.MakerFills, Fill{
				MakerOrderID: entry.OrderID,
				Quantity:     matchQty,
				Price:        level.Price,
			})

			if !entry.Visible.IsPositive() {
				level.Orders.Remove(el)
				delete(m.book.entries, entry.OrderID)
				if entry.Hidden.IsPositive() {
					// 冰山补单：下一切片追加到同价位队尾，时间优先级重新计算。
					slice := decimal.Min(entry.Hidden, sliceSize(entry))
					refill := m.book.Insert(entry.OrderID, entry.UserID, taker.Side.Opposite(),
						entry.Price, slice, entry.Hidden.Sub(slice))
					refill.SliceQty = entry.SliceQty
				}
			}

			if !taker.RemainingQty().IsPositive() {
				break
			}
		}

		if level.Orders.Len() == 0 {
			opponent.Delete(key)
		}
		if !taker.RemainingQty().IsPositive() {
			return
		}
	}
}

// sliceSize 冰山切片大小：沿用首片的展示量（Visible 归零前的原始切片）。
func sliceSize(entry *BookEntry) decimal.Decimal {
	if entry.SliceQty.IsPositive() {
		return entry.SliceQty
	}
	return entry.Hidden
}

// rest 将残量驻留到己方价位档队尾
func (m *Matcher) rest(taker *Order, remaining decimal.Decimal) {
	visible := remaining
	hidden := decimal.Zero
	if taker.Type == TypeIceberg && taker.IcebergQty.IsPositive() && taker.IcebergQty.LessThan(remaining) {
		visible = taker.IcebergQty
		hidden = remaining.Sub(visible)
	}
	entry := m.book.Insert(taker.OrderID, taker.UserID, taker.Side, taker.Price, visible, hidden)
	if taker.Type == TypeIceberg {
		entry.SliceQty = taker.IcebergQty
	}
}

// applyCommission taker 手续费按到手资产计收；maker 费率由台账在清算时套用。
// 衍生品无基础资产交割，费率一律对成交额按计价资产计收。
func (m *Matcher) applyCommission(trade *Trade, taker *Order) {
	base, quote := SplitSymbol(trade.Symbol)
	if taker.TradingMode.IsDerivative() {
		trade.Commission = trade.QuoteAmount().Mul(m.cfg.TakerFeeRate)
		trade.CommissionAsset = quote
		return
	}
	if taker.Side == SideBuy {
		trade.Commission = trade.Quantity.Mul(m.cfg.TakerFeeRate)
		trade.CommissionAsset = base
	} else {
		trade.Commission = trade.QuoteAmount().Mul(m.cfg.TakerFeeRate)
		trade.CommissionAsset = quote
	}
}

// SplitSymbol 拆分交易对为基础资产与计价资产，如 BTC-USDT → (BTC, USDT)。
func SplitSymbol(symbol string) (string, string) {
	parts := strings.FieldsFunc(symbol, func(r rune) bool {
		return r == '-' || r == '/' || r == '_'
	})
	if len(parts) >= 2 {
		return strings.ToUpper(parts[0]), strings.ToUpper(parts[len(parts)-1])
	}
	return strings.ToUpper(symbol), "USDT"
}
