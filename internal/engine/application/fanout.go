package application

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/wyfcoding/pkg/algorithm"
	"github.com/wyfcoding/tradingengine/internal/engine/domain"
)

const (
	fanoutMaxAttempts = 6
	fanoutBackoffMin  = 50 * time.Millisecond
	fanoutBackoffMax  = 3200 * time.Millisecond
)

type fanoutKind int

const (
	fanoutOrderUpdate fanoutKind = iota
	fanoutTrade
)

type fanoutItem struct {
	kind  fanoutKind
	order *domain.Order
	event *domain.OrderUpdateEvent
	trade *domain.Trade
}

// DeadLetter 重试耗尽的事件及其失败原因
type DeadLetter struct {
	Kind     string    `json:"kind"`
	Key      int64     `json:"key"`
	Symbol   string    `json:"symbol"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Fanout 成交扇出 Worker：撮合线程把订单变更与成交压入有界队列后立即返回，
// 本 Worker 独占持久化与事件总线客户端，按有界指数退避重试；
// 反复失败的事件进入死信缓冲并告警，永不回压撮合。
type Fanout struct {
	ring      *algorithm.MpscRingBuffer[fanoutItem]
	orderRepo domain.OrderRepository
	tradeRepo domain.TradeRepository
	publisher domain.EventPublisher
	tx        domain.TxManager
	logger    *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	mu   sync.Mutex
	dead []DeadLetter
}

// NewFanout 创建扇出 Worker，队列容量与定序队列同级（默认 1048576）。
func NewFanout(capacity uint64, orderRepo domain.OrderRepository, tradeRepo domain.TradeRepository, publisher domain.EventPublisher, tx domain.TxManager, logger *slog.Logger) (*Fanout, error) {
	if capacity == 0 {
		capacity = 1 << 20
	}
	ring, err := algorithm.NewMpscRingBuffer[fanoutItem](capacity)
	if err != nil {
		return nil, err
	}
	return &Fanout{
		ring:      ring,
		orderRepo: orderRepo,
		tradeRepo: tradeRepo,
		publisher: publisher,
		tx:        tx,
		logger:    logger.With("module", "trade_fanout"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// OnOrderUpdated 撮合线程回调：复制订单瞬时状态后入队。
func (f *Fanout) OnOrderUpdated(order *domain.Order, lastUpdateID uint64) {
	snapshot := *order
	item := &fanoutItem{
		kind:  fanoutOrderUpdate,
		order: &snapshot,
		event: domain.NewOrderUpdateEvent(&snapshot, lastUpdateID),
	}
	if !f.ring.Offer(item) {
		fanoutQueueDrops.Inc()
		f.logger.Error("fanout queue full, order update dropped",
			"order_id", order.OrderID,
			"symbol", order.Symbol,
		)
	}
}

// OnTrade 撮合线程回调：成交入队。
func (f *Fanout) OnTrade(trade *domain.Trade) {
	tradesTotal.WithLabelValues(trade.Symbol).Inc()
	if !f.ring.Offer(&fanoutItem{kind: fanoutTrade, trade: trade}) {
		fanoutQueueDrops.Inc()
		f.logger.Error("fanout queue full, trade dropped",
			"trade_id", trade.TradeID,
			"symbol", trade.Symbol,
		)
	}
}

// Start 启动扇出 Worker
func (f *Fanout) Start() {
	go func() {
		defer close(f.doneCh)
		f.run()
	}()
}

// Stop 停止并清空队列残留
func (f *Fanout) Stop() {
	close(f.stopCh)
	<-f.doneCh
}

func (f *Fanout) run() {
	f.logger.Info("trade fanout worker started")
	for {
		select {
		case <-f.stopCh:
			for {
				item := f.ring.Poll()
				if item == nil {
					f.logger.Info("trade fanout worker stopped")
					return
				}
				f.process(item)
			}
		default:
			item := f.ring.Poll()
			if item == nil {
				runtime.Gosched()
				continue
			}
			f.process(item)
		}
	}
}

func (f *Fanout) process(item *fanoutItem) {
	ctx := context.Background()
	switch item.kind {
	case fanoutOrderUpdate:
		if err := f.withRetry(func() error {
			return f.orderRepo.Update(ctx, item.order)
		}); err != nil {
			f.deadLetter("order_persist", item.order.OrderID, item.order.Symbol, err)
		}
		if err := f.withRetry(func() error {
			return f.publisher.PublishOrderUpdate(ctx, item.event)
		}); err != nil {
			f.deadLetter("order_publish", item.order.OrderID, item.order.Symbol, err)
		}
	case fanoutTrade:
		if err := f.withRetry(func() error {
			return f.tx.WithTx(ctx, func(txCtx context.Context) error {
				return f.tradeRepo.Save(txCtx, item.trade)
			})
		}); err != nil {
			f.deadLetter("trade_persist", item.trade.TradeID, item.trade.Symbol, err)
		}
		if err := f.withRetry(func() error {
			return f.publisher.PublishTrade(ctx, domain.NewTradeEvent(item.trade))
		}); err != nil {
			f.deadLetter("trade_publish", item.trade.TradeID, item.trade.Symbol, err)
		}
	}
}

// withRetry 有界指数退避：50ms 起步、倍增至 3.2s，共 6 次尝试。
func (f *Fanout) withRetry(fn func() error) error {
	backoff := fanoutBackoffMin
	var err error
	for attempt := 1; attempt <= fanoutMaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == fanoutMaxAttempts {
			break
		}
		select {
		case <-f.stopCh:
			// 停机中也要把最后一次尝试机会用完，不再等待退避。
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > fanoutBackoffMax {
			backoff = fanoutBackoffMax
		}
	}
	return err
}

func (f *Fanout) deadLetter(kind string, key int64, symbol string, err error) {
	fanoutDeadLetters.Inc()
	f.logger.Error("fanout retries exhausted, event moved to dead-letter buffer",
		"kind", kind,
		"key", key,
		"symbol", symbol,
		"error", err,
	)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = append(f.dead, DeadLetter{
		Kind:     kind,
		Key:      key,
		Symbol:   symbol,
		Reason:   err.Error(),
		FailedAt: time.Now(),
	})
}

// DeadLetters 死信缓冲快照（运维接口）
func (f *Fanout) DeadLetters() []DeadLetter {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]DeadLetter, len(f.dead))
	copy(out, f.dead)
	return out
}
