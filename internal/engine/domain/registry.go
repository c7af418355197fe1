package domain

import (
	"sync"
)

// OrderRegistry 单交易对的订单索引。撮合 Worker 独占持有可变实例，
// 每次 Put/Touch 在写锁内发布一份不再改写的状态快照；
// 查询路径只读取快照，不触碰 Worker 正在改写的对象。
type OrderRegistry struct {
	mu         sync.RWMutex
	orders     map[int64]*Order
	views      map[int64]*Order // 最近一次发布的只读快照
	byClient   map[string]int64 // user_id|client_order_id -> order_id
	openByUser map[string]map[int64]struct{}
}

// NewOrderRegistry 创建空索引
func NewOrderRegistry() *OrderRegistry {
	return &OrderRegistry{
		orders:     make(map[int64]*Order),
		views:      make(map[int64]*Order),
		byClient:   make(map[string]int64),
		openByUser: make(map[string]map[int64]struct{}),
	}
}

func clientKey(userID, clientOrderID string) string {
	return userID + "|" + clientOrderID
}

// Put 登记订单并更新用户活跃索引
func (r *OrderRegistry) Put(order *Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.OrderID] = order
	if order.ClientOrderID != "" {
		r.byClient[clientKey(order.UserID, order.ClientOrderID)] = order.OrderID
	}
	r.publishLocked(order)
	r.syncOpenLocked(order)
}

// Touch 订单状态被 Worker 变更后发布新快照并刷新活跃索引
func (r *OrderRegistry) Touch(order *Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishLocked(order)
	r.syncOpenLocked(order)
}

func (r *OrderRegistry) publishLocked(order *Order) {
	view := *order
	r.views[order.OrderID] = &view
}

func (r *OrderRegistry) syncOpenLocked(order *Order) {
	set := r.openByUser[order.UserID]
	if order.IsOpen() {
		if set == nil {
			set = make(map[int64]struct{})
			r.openByUser[order.UserID] = set
		}
		set[order.OrderID] = struct{}{}
		return
	}
	if set != nil {
		delete(set, order.OrderID)
		if len(set) == 0 {
			delete(r.openByUser, order.UserID)
		}
	}
}

// Get 撮合 Worker 专用：返回可变的在途实例。查询路径使用 View。
func (r *OrderRegistry) Get(orderID int64) (*Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[orderID]
	return order, ok
}

// GetByClientID 按用户自定义订单号查询在途实例
func (r *OrderRegistry) GetByClientID(userID, clientOrderID string) (*Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byClient[clientKey(userID, clientOrderID)]
	if !ok {
		return nil, false
	}
	order, ok := r.orders[id]
	return order, ok
}

// View 查询路径的订单快照：最近一次 Put/Touch 发布的状态副本。
func (r *OrderRegistry) View(orderID int64) (Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	view, ok := r.views[orderID]
	if !ok {
		return Order{}, false
	}
	return *view, true
}

// ViewByClientID 按用户自定义订单号取快照
func (r *OrderRegistry) ViewByClientID(userID, clientOrderID string) (Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byClient[clientKey(userID, clientOrderID)]
	if !ok {
		return Order{}, false
	}
	view, ok := r.views[id]
	if !ok {
		return Order{}, false
	}
	return *view, true
}

// OpenCount 用户当前活跃订单数（风控名额检查）
func (r *OrderRegistry) OpenCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.openByUser[userID])
}

// OpenOrders 用户活跃订单快照；userID 为空时返回本交易对全部活跃订单。
func (r *OrderRegistry) OpenOrders(userID string) []Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Order
	if userID != "" {
		for id := range r.openByUser[userID] {
			if view, ok := r.views[id]; ok {
				out = append(out, *view)
			}
		}
		return out
	}
	for _, view := range r.views {
		if view.IsOpen() {
			out = append(out, *view)
		}
	}
	return out
}

// OpenOrderIDs 本交易对全部活跃订单号（批量撤单 / 到期扫描）
func (r *OrderRegistry) OpenOrderIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []int64
	for id, order := range r.orders {
		if order.IsOpen() {
			out = append(out, id)
		}
	}
	return out
}

// Evict 终态订单从内存索引摘除（持久层仍保留完整记录）
func (r *OrderRegistry) Evict(orderID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok || !order.Status.IsTerminal() {
		return
	}
	delete(r.orders, orderID)
	delete(r.views, orderID)
	if order.ClientOrderID != "" {
		delete(r.byClient, clientKey(order.UserID, order.ClientOrderID))
	}
	if set := r.openByUser[order.UserID]; set != nil {
		delete(set, order.OrderID)
		if len(set) == 0 {
			delete(r.openByUser, order.UserID)
		}
	}
}

// Len 索引中的订单总数
func (r *OrderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}
