package domain

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/algorithm"
)

// EngineSink 撮合产出的下游出口。实现必须非阻塞（入队后立即返回），
// 持久化与事件总线的失败永远不回压撮合线程。
type EngineSink interface {
	OnOrderUpdated(order *Order, lastUpdateID uint64)
	OnTrade(trade *Trade)
}

// EngineConfig 单交易对引擎配置
type EngineConfig struct {
	// QueueCapacity 定序队列容量，必须为 2 的幂，默认 1048576。
	QueueCapacity uint64
	// SnapshotDepth 每批撮合后对外发布的快照档数，默认 50。
	SnapshotDepth int
	// SubmitTimeout 队列满时 Submit 的重试截止时长，默认 100ms。
	SubmitTimeout time.Duration
	Matcher       MatcherConfig
}

func (c *EngineConfig) withDefaults() {
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 1 << 20
	}
	if c.SnapshotDepth <= 0 {
		c.SnapshotDepth = 50
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 100 * time.Millisecond
	}
}

type taskKind int

const (
	taskSubmit taskKind = iota
	taskCancel
	taskTick
)

type cancelResult struct {
	ok  bool
	err error
}

type engineTask struct {
	kind      taskKind
	order     *Order
	orderID   int64
	markPrice decimal.Decimal
	now       time.Time
	result    chan cancelResult
}

// SymbolEngine 单交易对撮合引擎。
// 多生产者经 MPSC 环形缓冲入队，唯一的 Worker 线程独占订单簿、
// 触发簿与撮合器；订单状态与台账变更全部发生在 Worker 内，
// 对外查询通过注册表读锁与原子快照指针，不进入撮合线程。
type SymbolEngine struct {
	symbol string
	cfg    EngineConfig

	book     *OrderBook
	matcher  *Matcher
	registry *OrderRegistry
	ledger   *Ledger
	gate     *RiskGate
	triggers *TriggerBook
	sink     EngineSink
	logger   *slog.Logger

	ring   *algorithm.MpscRingBuffer[engineTask]
	stopCh chan struct{}
	doneCh chan struct{}

	// ocoGroups 由 Worker 独占维护：组号 → 腿订单号。
	ocoGroups map[int64][]int64

	halted    atomic.Bool
	started   atomic.Bool
	snapshot  atomic.Pointer[BookSnapshot]
	lastPrice atomic.Pointer[decimal.Decimal]
	markPrice atomic.Pointer[decimal.Decimal]
}

// NewSymbolEngine 构造引擎。nextTradeID 为成交号发号器（雪花 ID）。
func NewSymbolEngine(symbol string, cfg EngineConfig, registry *OrderRegistry, ledger *Ledger, gate *RiskGate, sink EngineSink, nextTradeID func() int64, logger *slog.Logger) (*SymbolEngine, error) {
	cfg.withDefaults()
	ring, err := algorithm.NewMpscRingBuffer[engineTask](cfg.QueueCapacity)
	if err != nil {
		return nil, err
	}
	book := NewOrderBook(symbol)
	e := &SymbolEngine{
		symbol:    symbol,
		cfg:       cfg,
		book:      book,
		matcher:   NewMatcher(book, cfg.Matcher, nextTradeID, time.Now),
		registry:  registry,
		ledger:    ledger,
		gate:      gate,
		triggers:  NewTriggerBook(),
		sink:      sink,
		logger:    logger.With("module", "symbol_engine", "symbol", symbol),
		ring:      ring,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		ocoGroups: make(map[int64][]int64),
	}
	e.snapshot.Store(book.Snapshot(cfg.SnapshotDepth, time.Now().UnixMilli()))
	return e, nil
}

// Symbol 引擎服务的交易对
func (e *SymbolEngine) Symbol() string { return e.symbol }

// Halted 引擎是否已熔断
func (e *SymbolEngine) Halted() bool { return e.halted.Load() }

// Start 启动撮合 Worker。协程锁定到操作系统线程以获得稳定的缓存局部性。
func (e *SymbolEngine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		runtime.LockOSThread()
		defer close(e.doneCh)
		e.run()
	}()
}

// Stop 停止 Worker 并等待当前任务处理完毕
func (e *SymbolEngine) Stop() {
	close(e.stopCh)
	if e.started.Load() {
		<-e.doneCh
	}
}

func (e *SymbolEngine) run() {
	e.logger.Info("matching worker started")
	for {
		select {
		case <-e.stopCh:
			e.drain()
			e.logger.Info("matching worker stopped")
			return
		default:
			task := e.ring.Poll()
			if task == nil {
				runtime.Gosched()
				continue
			}
			e.process(task)
		}
	}
}

// drain 停机前清空队列：未处理的提交按拒绝回退，撤单照常执行。
func (e *SymbolEngine) drain() {
	for {
		task := e.ring.Poll()
		if task == nil {
			return
		}
		if task.kind == taskSubmit {
			order := task.order
			e.gate.ReleaseRemaining(order)
			order.MarkRejected(time.Now())
			e.registry.Touch(order)
			e.emitOrder(order)
			continue
		}
		e.process(task)
	}
}

func (e *SymbolEngine) process(task *engineTask) {
	switch task.kind {
	case taskSubmit:
		e.processSubmit(task.order)
	case taskCancel:
		ok, err := e.processCancel(task.orderID, time.Now())
		if task.result != nil {
			task.result <- cancelResult{ok: ok, err: err}
		}
	case taskTick:
		e.processTick(task.markPrice, task.now)
	}
	e.refreshSnapshot()
}

// Submit 将已准入的订单压入定序队列。队列满时在截止时长内重试，
// 超时返回 BACKPRESSURE，调用方负责回退冻结。
func (e *SymbolEngine) Submit(ctx context.Context, order *Order) error {
	if e.halted.Load() {
		return ErrEngineHalted
	}
	task := &engineTask{kind: taskSubmit, order: order}
	deadline := time.Now().Add(e.cfg.SubmitTimeout)
	for !e.ring.Offer(task) {
		if time.Now().After(deadline) {
			return ErrQueueFull
		}
		select {
		case <-ctx.Done():
			return ErrQueueFull
		default:
			runtime.Gosched()
		}
	}
	return nil
}

// Cancel 请求撤单并等待 Worker 的处理结果
func (e *SymbolEngine) Cancel(ctx context.Context, orderID int64) (bool, error) {
	if e.halted.Load() {
		return false, ErrEngineHalted
	}
	task := &engineTask{kind: taskCancel, orderID: orderID, result: make(chan cancelResult, 1)}
	if !e.ring.Offer(task) {
		return false, ErrQueueFull
	}
	select {
	case res := <-task.result:
		return res.ok, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Tick 注入时钟与标记价：驱动触发簿评估与 GTD/DAY 到期扫描。
func (e *SymbolEngine) Tick(markPrice decimal.Decimal, now time.Time) {
	if e.halted.Load() {
		return
	}
	e.ring.Offer(&engineTask{kind: taskTick, markPrice: markPrice, now: now})
}

// Snapshot 最近一次撮合批次后的订单簿快照，无锁读取。
func (e *SymbolEngine) Snapshot() *BookSnapshot {
	return e.snapshot.Load()
}

// LastPrice 最新成交价
func (e *SymbolEngine) LastPrice() (decimal.Decimal, bool) {
	p := e.lastPrice.Load()
	if p == nil {
		return decimal.Zero, false
	}
	return *p, true
}

// MarkPrice 最新标记价
func (e *SymbolEngine) MarkPrice() (decimal.Decimal, bool) {
	p := e.markPrice.Load()
	if p == nil {
		return decimal.Zero, false
	}
	return *p, true
}

// Replay 恢复流程专用：Worker 启动前在调用方线程同步重放一笔未完结订单。
func (e *SymbolEngine) Replay(order *Order) {
	if e.started.Load() {
		return
	}
	e.processSubmit(order)
	e.refreshSnapshot()
}

func (e *SymbolEngine) refreshSnapshot() {
	e.snapshot.Store(e.book.Snapshot(e.cfg.SnapshotDepth, time.Now().UnixMilli()))
}

// halt 熔断：保持最后一致状态，本交易对停止受理，等待人工介入。
func (e *SymbolEngine) halt(reason string, err error) {
	e.halted.Store(true)
	e.logger.Error("matching engine halted, symbol quiesced",
		"reason", reason,
		"error", err,
	)
}

func (e *SymbolEngine) emitOrder(order *Order) {
	e.sink.OnOrderUpdated(order, e.book.LastUpdateID())
}

// processSubmit 单笔订单的完整撮合步骤，只在 Worker 线程执行。
func (e *SymbolEngine) processSubmit(order *Order) {
	if e.halted.Load() {
		e.gate.ReleaseRemaining(order)
		order.MarkRejected(time.Now())
		e.registry.Touch(order)
		e.emitOrder(order)
		return
	}

	if order.OCOGroupID != 0 {
		e.ocoGroups[order.OCOGroupID] = append(e.ocoGroups[order.OCOGroupID], order.OrderID)
	}

	// 触发类订单不进簿，挂入触发簿等待价格条件。
	if order.Type.IsTrigger() && order.Status != StatusTriggered {
		order.Status = StatusPendingNew
		e.registry.Touch(order)
		e.triggers.Add(order)
		e.emitOrder(order)
		return
	}

	result, err := e.matcher.Match(order)
	if err != nil {
		e.gate.ReleaseRemaining(order)
		order.MarkRejected(time.Now())
		e.registry.Touch(order)
		e.emitOrder(order)
		return
	}

	e.settle(result)

	if !result.Rested && order.Status.IsTerminal() {
		e.gate.ReleaseRemaining(order)
	}
	e.registry.Touch(order)
	e.emitOrder(order)

	if order.Status == StatusFilled || order.Status == StatusPartiallyFilled {
		e.cancelOCOSiblings(order, time.Now())
	}
	if len(result.Trades) > 0 {
		last := result.Trades[len(result.Trades)-1].Price
		e.lastPrice.Store(&last)
		e.fireTriggers(time.Now())
	}
}

// settle 将撮合产出落到注册表与台账，并逐笔投递成交事件。
// maker 订单缺失属于不变量破坏，熔断本交易对。
func (e *SymbolEngine) settle(result *MatchResult) {
	taker := result.Taker
	now := time.Now()

	for _, id := range result.CancelledMakerIDs {
		maker, ok := e.registry.Get(id)
		if !ok {
			e.halt("self-trade cancel target missing from registry", Reject(CodeInternal, "order %d", id))
			continue
		}
		e.gate.ReleaseRemaining(maker)
		maker.MarkCancelled(now)
		e.registry.Touch(maker)
		e.emitOrder(maker)
	}

	for i, trade := range result.Trades {
		fill := result.MakerFills[i]
		maker, ok := e.registry.Get(fill.MakerOrderID)
		if !ok {
			e.halt("maker order missing from registry", Reject(CodeInternal, "order %d", fill.MakerOrderID))
			return
		}
		maker.ApplyFill(fill.Quantity, fill.Price, trade.Timestamp)
		e.registry.Touch(maker)

		if taker.TradingMode.IsDerivative() || maker.TradingMode.IsDerivative() {
			e.settleDerivative(taker, maker, trade)
		} else {
			buyer := taker
			if taker.Side == SideSell {
				buyer = maker
			}
			e.ledger.ApplyTrade(trade, buyer.LockPrice, e.cfg.Matcher.MakerFeeRate)
		}

		e.sink.OnTrade(trade)
		e.emitOrder(maker)
		if maker.Status == StatusFilled || maker.Status == StatusPartiallyFilled {
			e.cancelOCOSiblings(maker, now)
		}
	}
}

// settleDerivative 衍生品成交双边保证金结算：只移动保证金与已实现盈亏，
// 基础资产不交割。
func (e *SymbolEngine) settleDerivative(taker, maker *Order, trade *Trade) {
	for _, o := range []*Order{taker, maker} {
		if !o.TradingMode.IsDerivative() {
			continue
		}
		lockPrice := o.LockPrice
		if o.ReduceOnly || o.ClosePosition {
			lockPrice = decimal.Zero
		}
		e.ledger.SettleDerivativeFill(o.UserID, o.Symbol, normalizePositionSide(o), o.Side,
			trade.Quantity, trade.Price, lockPrice, o.Leverage, o.MarginType)
	}
	e.ledger.ChargeDerivativeFees(trade, e.cfg.Matcher.MakerFeeRate)
}

func normalizePositionSide(order *Order) PositionSide {
	if order.PositionSide == "" {
		return PositionBoth
	}
	return order.PositionSide
}

// processCancel 撤单：簿上订单摘除并释放冻结，触发簿订单直接摘除，
// 终态订单返回 NOT_CANCELLABLE，PENDING_CANCEL 幂等返回成功。
func (e *SymbolEngine) processCancel(orderID int64, now time.Time) (bool, error) {
	order, ok := e.registry.Get(orderID)
	if !ok {
		return false, Reject(CodeNotFound, "order %d not found", orderID)
	}
	if order.Status == StatusPendingCancel {
		return true, nil
	}
	if order.Status.IsTerminal() {
		return false, Reject(CodeNotCancellable, "order %d is %s", orderID, order.Status)
	}

	e.removeFromWorking(order)
	e.gate.ReleaseRemaining(order)
	order.MarkCancelled(now)
	e.registry.Touch(order)
	e.emitOrder(order)
	e.cancelOCOSiblings(order, now)
	return true, nil
}

// removeFromWorking 从订单簿或触发簿摘除在途订单
func (e *SymbolEngine) removeFromWorking(order *Order) {
	if e.book.Contains(order.OrderID) {
		if _, err := e.book.Remove(order.OrderID); err != nil {
			e.halt("resting order missing from book", err)
		}
		return
	}
	e.triggers.Remove(order.OrderID)
}

// cancelOCOSiblings 一腿成交或撤销后，原子撤销同组其余腿。
func (e *SymbolEngine) cancelOCOSiblings(order *Order, now time.Time) {
	if order.OCOGroupID == 0 {
		return
	}
	legs, ok := e.ocoGroups[order.OCOGroupID]
	if !ok {
		return
	}
	delete(e.ocoGroups, order.OCOGroupID)
	for _, id := range legs {
		if id == order.OrderID {
			continue
		}
		sibling, ok := e.registry.Get(id)
		if !ok || sibling.Status.IsTerminal() {
			continue
		}
		e.removeFromWorking(sibling)
		e.gate.ReleaseRemaining(sibling)
		sibling.MarkCancelled(now)
		e.registry.Touch(sibling)
		e.emitOrder(sibling)
	}
}

// processTick 时钟任务：标记价刷新、触发簿评估、GTD/DAY 到期扫描。
func (e *SymbolEngine) processTick(markPrice decimal.Decimal, now time.Time) {
	if markPrice.IsPositive() {
		mp := markPrice
		e.markPrice.Store(&mp)
		e.ledger.MarkPositions(e.symbol, markPrice)
	}
	e.fireTriggers(now)
	e.expireOrders(now)
}

// fireTriggers 以最新成交价/标记价评估触发簿，被触发的订单提升为
// MARKET / LIMIT 立即重入撮合。
func (e *SymbolEngine) fireTriggers(now time.Time) {
	var lastP, markP decimal.Decimal
	haveLast := false
	if p := e.lastPrice.Load(); p != nil {
		lastP, haveLast = *p, true
	}
	if mp := e.markPrice.Load(); mp != nil {
		markP = *mp
	}
	if !haveLast && !markP.IsPositive() {
		return
	}

	fired := e.triggers.OnPrice(lastP, markP)
	for _, order := range fired {
		order.Status = StatusTriggered
		order.Type = promotedType(order.Type)
		order.UpdatedTime = now
		e.registry.Touch(order)
		e.emitOrder(order)
		e.processSubmit(order)
	}
}

// promotedType 触发后的执行类型：带 LIMIT 后缀的按限价入簿，其余按市价吃单。
func promotedType(t OrderType) OrderType {
	switch t {
	case TypeStopLimit, TypeTakeProfitLimit:
		return TypeLimit
	default:
		return TypeMarket
	}
}

// expireOrders GTD 到期与 DAY 收盘过期
func (e *SymbolEngine) expireOrders(now time.Time) {
	for _, id := range e.registry.OpenOrderIDs() {
		order, ok := e.registry.Get(id)
		if !ok || order.Status.IsTerminal() {
			continue
		}
		switch order.TimeInForce {
		case TIFGtd, TIFDay:
		default:
			continue
		}
		if order.ExpireTime.IsZero() || now.Before(order.ExpireTime) {
			continue
		}
		e.removeFromWorking(order)
		e.gate.ReleaseRemaining(order)
		order.MarkExpired(now)
		e.registry.Touch(order)
		e.emitOrder(order)
		e.cancelOCOSiblings(order, now)
	}
}
