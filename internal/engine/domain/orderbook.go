package domain

import (
	"container/list"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/algorithm"
)

// BookEntry 订单簿上的驻留订单。
// 订单簿只保存 (order_id, 剩余量)，完整订单状态归属 OrderRegistry，互不回指。
type BookEntry struct {
	OrderID int64
	UserID  string
	Price   decimal.Decimal
	// Visible 当前展示量；冰山单为当前切片，其余订单等于剩余量。
	Visible decimal.Decimal
	// Hidden 冰山单尚未展示的储备量，普通订单恒为零。
	Hidden decimal.Decimal
	// SliceQty 冰山单的切片大小，补单时沿用。
	SliceQty decimal.Decimal
	// Sequence 插入时的 last_update_id，同价位 FIFO 的时间优先依据。
	Sequence uint64
}

// PriceLevel 同一价位的订单队列，时间优先 (FIFO)。
type PriceLevel struct {
	Price  decimal.Decimal
	Orders *list.List // 元素为 *BookEntry
}

// NewPriceLevel 创建价位档
func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{Price: price, Orders: list.New()}
}

// TotalQty 该价位全部可见量之和
func (l *PriceLevel) TotalQty() decimal.Decimal {
	total := decimal.Zero
	for el := l.Orders.Front(); el != nil; el = el.Next() {
		total = total.Add(el.Value.(*BookEntry).Visible)
	}
	return total
}

type entryRef struct {
	side  Side
	key   float64
	level *PriceLevel
	elem  *list.Element
}

// OrderBook 单交易对内存订单簿。无锁：仅由该交易对的撮合 Worker 独占访问。
//
// 跳表 Key 仅用于价位排序（买盘取 -Price 实现降序），价格语义上的一切比较
// 都基于档位内保存的精确 decimal，资金运算不经过二进制浮点。
type OrderBook struct {
	Symbol string

	bids *algorithm.SkipList[float64, *PriceLevel]
	asks *algorithm.SkipList[float64, *PriceLevel]

	entries      map[int64]*entryRef
	lastUpdateID uint64
}

// NewOrderBook 创建空簿
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol:  symbol,
		bids:    algorithm.NewSkipList[float64, *PriceLevel](),
		asks:    algorithm.NewSkipList[float64, *PriceLevel](),
		entries: make(map[int64]*entryRef),
	}
}

// LastUpdateID 每次簿变更单调加一
func (b *OrderBook) LastUpdateID() uint64 { return b.lastUpdateID }

func (b *OrderBook) bump() uint64 {
	b.lastUpdateID++
	return b.lastUpdateID
}

func (b *OrderBook) sideBook(side Side) *algorithm.SkipList[float64, *PriceLevel] {
	if side == SideBuy {
		return b.bids
	}
	return b.asks
}

func levelKey(side Side, price decimal.Decimal) float64 {
	k := price.InexactFloat64()
	if side == SideBuy {
		return -k
	}
	return k
}

// Insert 按价位追加到 FIFO 队尾，返回驻留条目。
func (b *OrderBook) Insert(orderID int64, userID string, side Side, price, visible, hidden decimal.Decimal) *BookEntry {
	book := b.sideBook(side)
	key := levelKey(side, price)
	level, ok := book.Search(key)
	if !ok {
		level = NewPriceLevel(price)
		book.Insert(key, level)
	}
	entry := &BookEntry{
		OrderID:  orderID,
		UserID:   userID,
		Price:    price,
		Visible:  visible,
		Hidden:   hidden,
		Sequence: b.bump(),
	}
	elem := level.Orders.PushBack(entry)
	b.entries[orderID] = &entryRef{side: side, key: key, level: level, elem: elem}
	return entry
}

// Reduce 减少驻留订单的展示量，队列位置保持不变（部分成交不丢失时间优先级）。
// 减至零时从簿上移除。
func (b *OrderBook) Reduce(orderID int64, by decimal.Decimal) error {
	ref, ok := b.entries[orderID]
	if !ok {
		return Reject(CodeNotFound, "order %d is not resting on the book", orderID)
	}
	entry := ref.elem.Value.(*BookEntry)
	entry.Visible = entry.Visible.Sub(by)
	b.bump()
	if !entry.Visible.IsPositive() {
		b.removeRef(orderID, ref)
	}
	return nil
}

// Remove 将订单整体摘除（撤单 / 全部成交 / 自成交保护）。
func (b *OrderBook) Remove(orderID int64) (*BookEntry, error) {
	ref, ok := b.entries[orderID]
	if !ok {
		return nil, Reject(CodeNotFound, "order %d is not resting on the book", orderID)
	}
	entry := ref.elem.Value.(*BookEntry)
	b.bump()
	b.removeRef(orderID, ref)
	return entry, nil
}

func (b *OrderBook) removeRef(orderID int64, ref *entryRef) {
	ref.level.Orders.Remove(ref.elem)
	if ref.level.Orders.Len() == 0 {
		b.sideBook(ref.side).Delete(ref.key)
	}
	delete(b.entries, orderID)
}

// Contains 订单是否驻留在簿上
func (b *OrderBook) Contains(orderID int64) bool {
	_, ok := b.entries[orderID]
	return ok
}

func (b *OrderBook) bestLevel(side Side) (*PriceLevel, bool) {
	it := b.sideBook(side).Iterator()
	_, level, ok := it.Next()
	if !ok {
		return nil, false
	}
	return level, true
}

// BestBid 最优买价及该档总量
func (b *OrderBook) BestBid() (decimal.Decimal, decimal.Decimal, bool) {
	level, ok := b.bestLevel(SideBuy)
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	return level.Price, level.TotalQty(), true
}

// BestAsk 最优卖价及该档总量
func (b *OrderBook) BestAsk() (decimal.Decimal, decimal.Decimal, bool) {
	level, ok := b.bestLevel(SideSell)
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	return level.Price, level.TotalQty(), true
}

// Spread 买卖价差，任一侧为空时返回 false
func (b *OrderBook) Spread() (decimal.Decimal, bool) {
	bid, _, okB := b.BestBid()
	ask, _, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// Mid 中间价
func (b *OrderBook) Mid() (decimal.Decimal, bool) {
	bid, _, okB := b.BestBid()
	ask, _, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// crosses 对手档价格是否满足 taker 的限价（nil 限价 = 市价单，永远满足）
func crosses(takerSide Side, limit *decimal.Decimal, levelPrice decimal.Decimal) bool {
	if limit == nil {
		return true
	}
	if takerSide == SideBuy {
		return limit.GreaterThanOrEqual(levelPrice)
	}
	return limit.LessThanOrEqual(levelPrice)
}

// Walk 按优先级只读遍历对手盘：对 takerSide 的进攻单，依次产出
// (maker 条目, 档位价, 本次可用量)，直到限价不再交叉或 maxQty 耗尽。
// yield 返回 false 时提前终止。
func (b *OrderBook) Walk(takerSide Side, limit *decimal.Decimal, maxQty decimal.Decimal, yield func(maker *BookEntry, price, available decimal.Decimal) bool) {
	remaining := maxQty
	it := b.sideBook(takerSide.Opposite()).Iterator()
	for {
		_, level, ok := it.Next()
		if !ok {
			return
		}
		if !crosses(takerSide, limit, level.Price) {
			return
		}
		for el := level.Orders.Front(); el != nil; el = el.Next() {
			if !remaining.IsPositive() {
				return
			}
			entry := el.Value.(*BookEntry)
			available := decimal.Min(remaining, entry.Visible)
			if !yield(entry, level.Price, available) {
				return
			}
			remaining = remaining.Sub(available)
		}
	}
}

// AvailableWithin 限价内可成交总量（FOK 预检）。
// excludeUser 非空时跳过该用户的驻留单（自成交保护下这些单只会被撤销）。
func (b *OrderBook) AvailableWithin(takerSide Side, limit *decimal.Decimal, maxQty decimal.Decimal, excludeUser string) decimal.Decimal {
	total := decimal.Zero
	it := b.sideBook(takerSide.Opposite()).Iterator()
	for {
		_, level, ok := it.Next()
		if !ok || !crosses(takerSide, limit, level.Price) {
			return decimal.Min(total, maxQty)
		}
		for el := level.Orders.Front(); el != nil; el = el.Next() {
			entry := el.Value.(*BookEntry)
			if excludeUser != "" && entry.UserID == excludeUser {
				continue
			}
			total = total.Add(entry.Visible)
			if total.GreaterThanOrEqual(maxQty) {
				return maxQty
			}
		}
	}
}

// BookLevel 快照档位
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// BookSnapshot 订单簿快照，附带生成时刻的 last_update_id。
type BookSnapshot struct {
	Symbol       string       `json:"symbol"`
	Bids         []*BookLevel `json:"bids"`
	Asks         []*BookLevel `json:"asks"`
	LastUpdateID uint64       `json:"last_update_id"`
	Timestamp    int64        `json:"timestamp"`
}

// Snapshot 导出前 depth 档
func (b *OrderBook) Snapshot(depth int, now int64) *BookSnapshot {
	return &BookSnapshot{
		Symbol:       b.Symbol,
		Bids:         b.collect(SideBuy, depth),
		Asks:         b.collect(SideSell, depth),
		LastUpdateID: b.lastUpdateID,
		Timestamp:    now,
	}
}

func (b *OrderBook) collect(side Side, depth int) []*BookLevel {
	levels := make([]*BookLevel, 0, depth)
	it := b.sideBook(side).Iterator()
	for i := 0; i < depth; i++ {
		_, level, ok := it.Next()
		if !ok {
			break
		}
		levels = append(levels, &BookLevel{Price: level.Price, Quantity: level.TotalQty()})
	}
	return levels
}
