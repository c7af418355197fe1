package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/tradingengine/internal/engine/domain"
)

type fakeOrderRepo struct {
	mu       sync.Mutex
	failLeft int
	updates  []*domain.Order
}

func (r *fakeOrderRepo) Save(_ context.Context, _ *domain.Order) error { return nil }

func (r *fakeOrderRepo) Update(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLeft > 0 {
		r.failLeft--
		return errors.New("db unavailable")
	}
	r.updates = append(r.updates, order)
	return nil
}

func (r *fakeOrderRepo) FindByID(_ context.Context, _ int64) (*domain.Order, error) {
	return nil, nil
}

func (r *fakeOrderRepo) FindOpenBySymbol(_ context.Context, _ string) ([]*domain.Order, error) {
	return nil, nil
}

func (r *fakeOrderRepo) FindByUser(_ context.Context, _, _ string, _ int) ([]*domain.Order, error) {
	return nil, nil
}

func (r *fakeOrderRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

type fakeTradeRepo struct {
	mu     sync.Mutex
	trades []*domain.Trade
}

func (r *fakeTradeRepo) Save(_ context.Context, trade *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
	return nil
}

func (r *fakeTradeRepo) FindByOrderID(_ context.Context, _ int64) ([]*domain.Trade, error) {
	return nil, nil
}

func (r *fakeTradeRepo) FindByUser(_ context.Context, _, _ string, _ int) ([]*domain.Trade, error) {
	return nil, nil
}

func (r *fakeTradeRepo) FindBySymbol(_ context.Context, _ string, _ int) ([]*domain.Trade, error) {
	return nil, nil
}

func (r *fakeTradeRepo) tradeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades)
}

type fakePublisher struct {
	mu          sync.Mutex
	alwaysFail  bool
	orderEvents []*domain.OrderUpdateEvent
	tradeEvents []*domain.TradeEvent
}

func (p *fakePublisher) PublishOrderUpdate(_ context.Context, event *domain.OrderUpdateEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alwaysFail {
		return errors.New("broker unreachable")
	}
	p.orderEvents = append(p.orderEvents, event)
	return nil
}

func (p *fakePublisher) PublishTrade(_ context.Context, event *domain.TradeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alwaysFail {
		return errors.New("broker unreachable")
	}
	p.tradeEvents = append(p.tradeEvents, event)
	return nil
}

func (p *fakePublisher) orderEventCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orderEvents)
}

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fanoutOrder() *domain.Order {
	return &domain.Order{
		OrderID:  1,
		UserID:   "alice",
		Symbol:   "BTC-USDT",
		Type:     domain.TypeLimit,
		Side:     domain.SideBuy,
		Quantity: decimal.RequireFromString("1"),
		Price:    decimal.RequireFromString("100"),
		Status:   domain.StatusNew,
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFanout_PersistsAndPublishes(t *testing.T) {
	orderRepo := &fakeOrderRepo{}
	tradeRepo := &fakeTradeRepo{}
	publisher := &fakePublisher{}
	fanout, err := NewFanout(64, orderRepo, tradeRepo, publisher, fakeTx{}, discardLogger())
	if err != nil {
		t.Fatalf("NewFanout() error = %v", err)
	}
	fanout.Start()
	defer fanout.Stop()

	fanout.OnOrderUpdated(fanoutOrder(), 7)
	fanout.OnTrade(&domain.Trade{
		TradeID:  11,
		Symbol:   "BTC-USDT",
		Side:     domain.SideBuy,
		Quantity: decimal.RequireFromString("1"),
		Price:    decimal.RequireFromString("100"),
	})

	waitUntil(t, "order persisted", func() bool { return orderRepo.updateCount() == 1 })
	waitUntil(t, "trade persisted", func() bool { return tradeRepo.tradeCount() == 1 })
	waitUntil(t, "events published", func() bool { return publisher.orderEventCount() == 1 })

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if publisher.orderEvents[0].LastUpdateID != 7 {
		t.Errorf("order event last_update_id = %d, want 7", publisher.orderEvents[0].LastUpdateID)
	}
	if len(publisher.tradeEvents) != 1 || publisher.tradeEvents[0].TradeID != 11 {
		t.Errorf("trade events = %+v, want trade 11", publisher.tradeEvents)
	}
}

func TestFanout_SnapshotsOrderState(t *testing.T) {
	orderRepo := &fakeOrderRepo{}
	fanout, err := NewFanout(64, orderRepo, &fakeTradeRepo{}, &fakePublisher{}, fakeTx{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	fanout.Start()
	defer fanout.Stop()

	order := fanoutOrder()
	fanout.OnOrderUpdated(order, 1)
	// 撮合线程继续改写原订单不得影响已入队的快照
	order.Status = domain.StatusFilled

	waitUntil(t, "order persisted", func() bool { return orderRepo.updateCount() == 1 })
	orderRepo.mu.Lock()
	defer orderRepo.mu.Unlock()
	if orderRepo.updates[0].Status != domain.StatusNew {
		t.Errorf("persisted status = %s, want the enqueued snapshot NEW", orderRepo.updates[0].Status)
	}
}

func TestFanout_RetriesTransientFailure(t *testing.T) {
	orderRepo := &fakeOrderRepo{failLeft: 2}
	fanout, err := NewFanout(64, orderRepo, &fakeTradeRepo{}, &fakePublisher{}, fakeTx{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	fanout.Start()
	defer fanout.Stop()

	fanout.OnOrderUpdated(fanoutOrder(), 1)
	waitUntil(t, "retry to succeed", func() bool { return orderRepo.updateCount() == 1 })
	if len(fanout.DeadLetters()) != 0 {
		t.Errorf("transient failure must not dead-letter: %+v", fanout.DeadLetters())
	}
}

func TestFanout_DeadLettersAfterExhaustedRetries(t *testing.T) {
	publisher := &fakePublisher{alwaysFail: true}
	orderRepo := &fakeOrderRepo{}
	fanout, err := NewFanout(64, orderRepo, &fakeTradeRepo{}, publisher, fakeTx{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	fanout.Start()
	defer fanout.Stop()

	fanout.OnOrderUpdated(fanoutOrder(), 1)
	waitUntil(t, "dead letter", func() bool { return len(fanout.DeadLetters()) == 1 })

	dl := fanout.DeadLetters()[0]
	if dl.Kind != "order_publish" || dl.Key != 1 || dl.Symbol != "BTC-USDT" {
		t.Errorf("dead letter = %+v, want order_publish for order 1", dl)
	}
	// 持久化成功不受发布失败影响
	if orderRepo.updateCount() != 1 {
		t.Errorf("order persist count = %d, want 1", orderRepo.updateCount())
	}
}
