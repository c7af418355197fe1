package application

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/tradingengine/internal/engine/domain"
)

// ServiceConfig 交易服务配置
type ServiceConfig struct {
	// Symbols 启用的交易对，每个交易对一个独立的撮合 Worker。
	Symbols []string
	Engine  domain.EngineConfig
	Limits  domain.RiskLimits
	// TickInterval 时钟注入周期（到期扫描与触发评估），默认 1s。
	TickInterval time.Duration
	// SnapshotDepth 行情接口返回的最大档数，默认 50。
	SnapshotDepth int
}

type symbolRuntime struct {
	engine   *domain.SymbolEngine
	registry *domain.OrderRegistry
	gate     *domain.RiskGate
}

// nextID 雪花发号器的有符号视图：订单号、成交号与 OCO 组号统一为 int64。
func nextID() int64 {
	return int64(idgen.GenID())
}

// TradingService 交易引擎门面：准入校验、风控冻结、定序提交与状态查询。
// 下单在准入成功后同步返回 order_id，撮合结果经事件总线与查询接口观察。
type TradingService struct {
	cfg     ServiceConfig
	symbols map[string]*symbolRuntime
	ledger  *domain.Ledger
	fanout  *Fanout

	orderRepo    domain.OrderRepository
	tradeRepo    domain.TradeRepository
	snapshotRepo domain.BookSnapshotRepository

	logger     *slog.Logger
	tickerStop chan struct{}

	mu        sync.RWMutex
	listeners []domain.EngineSink
}

// NewTradingService 按配置的交易对构建全部撮合引擎
func NewTradingService(cfg ServiceConfig, ledger *domain.Ledger, fanout *Fanout, orderRepo domain.OrderRepository, tradeRepo domain.TradeRepository, snapshotRepo domain.BookSnapshotRepository, logger *slog.Logger) (*TradingService, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.SnapshotDepth <= 0 {
		cfg.SnapshotDepth = 50
	}
	s := &TradingService{
		cfg:          cfg,
		symbols:      make(map[string]*symbolRuntime, len(cfg.Symbols)),
		ledger:       ledger,
		fanout:       fanout,
		orderRepo:    orderRepo,
		tradeRepo:    tradeRepo,
		snapshotRepo: snapshotRepo,
		logger:       logger.With("module", "trading_service"),
		tickerStop:   make(chan struct{}),
	}
	for _, symbol := range cfg.Symbols {
		registry := domain.NewOrderRegistry()
		gate := domain.NewRiskGate(cfg.Limits, ledger)
		engine, err := domain.NewSymbolEngine(symbol, cfg.Engine, registry, ledger, gate, s, nextID, logger)
		if err != nil {
			return nil, err
		}
		s.symbols[symbol] = &symbolRuntime{engine: engine, registry: registry, gate: gate}
	}
	return s, nil
}

// Start 启动扇出、状态恢复、全部撮合 Worker 与时钟。
func (s *TradingService) Start(ctx context.Context) error {
	s.fanout.Start()
	if err := s.recoverState(ctx); err != nil {
		return err
	}
	for _, rt := range s.symbols {
		rt.engine.Start()
	}
	go s.runTicker()
	return nil
}

// Stop 停机：先停时钟与撮合，再排空扇出队列。
func (s *TradingService) Stop() {
	close(s.tickerStop)
	for _, rt := range s.symbols {
		rt.engine.Stop()
	}
	s.fanout.Stop()
}

func (s *TradingService) runTicker() {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.tickerStop:
			return
		case now := <-ticker.C:
			for _, rt := range s.symbols {
				rt.engine.Tick(decimal.Zero, now)
			}
		}
	}
}

// Subscribe 注册撮合产出的额外监听者（策略宿主等）。
// 监听者回调运行在撮合线程上，实现必须立即返回。
func (s *TradingService) Subscribe(sink domain.EngineSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, sink)
}

// OnOrderUpdated 实现 domain.EngineSink：转发扇出并广播监听者。
func (s *TradingService) OnOrderUpdated(order *domain.Order, lastUpdateID uint64) {
	s.fanout.OnOrderUpdated(order, lastUpdateID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.listeners {
		l.OnOrderUpdated(order, lastUpdateID)
	}
}

// OnTrade 实现 domain.EngineSink
func (s *TradingService) OnTrade(trade *domain.Trade) {
	s.fanout.OnTrade(trade)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.listeners {
		l.OnTrade(trade)
	}
}

// MarketPrice 策略参考价：最新成交价，冷启动时退化为订单簿中间价。
func (s *TradingService) MarketPrice(symbol string) (decimal.Decimal, bool) {
	rt, ok := s.symbols[symbol]
	if !ok {
		return decimal.Zero, false
	}
	if p, ok := rt.engine.LastPrice(); ok {
		return p, true
	}
	snap := rt.engine.Snapshot()
	if len(snap.Bids) > 0 && len(snap.Asks) > 0 {
		return snap.Bids[0].Price.Add(snap.Asks[0].Price).Div(decimal.NewFromInt(2)), true
	}
	return decimal.Zero, false
}

func (s *TradingService) runtime(symbol string) (*symbolRuntime, error) {
	rt, ok := s.symbols[symbol]
	if !ok {
		return nil, domain.Reject(domain.CodeInvalid, "unknown symbol %q", symbol)
	}
	return rt, nil
}

// SubmitOrder 下单：校验 → 风控冻结 → 发号 → 入队。
// 准入成功即返回 order_id，撮合异步完成。
func (s *TradingService) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*OrderView, error) {
	start := time.Now()
	defer logging.LogDuration(ctx, "order admission completed",
		"symbol", req.Symbol,
		"user_id", req.UserID,
	)()

	rt, err := s.runtime(req.Symbol)
	if err != nil {
		return nil, err
	}

	order, err := parseOrder(req, start)
	if err != nil {
		ordersTotal.WithLabelValues(req.Symbol, req.Type, "rejected").Inc()
		return nil, err
	}

	if order.ClientOrderID != "" {
		if _, exists := rt.registry.ViewByClientID(order.UserID, order.ClientOrderID); exists {
			ordersTotal.WithLabelValues(req.Symbol, req.Type, "rejected").Inc()
			return nil, domain.Reject(domain.CodeInvalid, "duplicate client_order_id %q", order.ClientOrderID)
		}
	}

	order.OrderID = nextID()

	// 高级算法类订单只登记父单，子单由策略层以 MARKET/LIMIT 提交。
	if order.Type.IsAlgoLabel() {
		rt.registry.Put(order)
		s.fanout.OnOrderUpdated(order, 0)
		ordersTotal.WithLabelValues(req.Symbol, req.Type, "accepted").Inc()
		return NewOrderView(order), nil
	}

	refPrice := s.referencePrice(rt, order)
	if err := rt.gate.Admit(order, s, refPrice); err != nil {
		ordersTotal.WithLabelValues(req.Symbol, req.Type, "rejected").Inc()
		return nil, err
	}
	rt.registry.Put(order)

	if err := rt.engine.Submit(ctx, order); err != nil {
		rt.gate.ReleaseRemaining(order)
		order.MarkRejected(time.Now())
		rt.registry.Touch(order)
		rt.registry.Evict(order.OrderID)
		ordersTotal.WithLabelValues(req.Symbol, req.Type, "rejected").Inc()
		logging.Warn(ctx, "order enqueue failed",
			"order_id", order.OrderID,
			"symbol", order.Symbol,
			"error", err,
		)
		return nil, err
	}

	ordersTotal.WithLabelValues(req.Symbol, req.Type, "accepted").Inc()
	orderLatency.WithLabelValues(req.Symbol).Observe(time.Since(start).Seconds())
	return NewOrderView(order), nil
}

// referencePrice 市价冻结参考价：最新成交价 → 标记价 → 委托价。
func (s *TradingService) referencePrice(rt *symbolRuntime, order *domain.Order) decimal.Decimal {
	if p, ok := rt.engine.LastPrice(); ok {
		return p
	}
	if p, ok := rt.engine.MarkPrice(); ok {
		return p
	}
	return order.Price
}

// CancelOrder 撤单，等待撮合 Worker 的处理结果。
// userID 非空时校验归属，他人订单一律返回 NOT_FOUND。
func (s *TradingService) CancelOrder(ctx context.Context, userID string, orderID int64) (bool, error) {
	for _, rt := range s.symbols {
		order, ok := rt.registry.View(orderID)
		if !ok {
			continue
		}
		if userID != "" && order.UserID != userID {
			return false, domain.Reject(domain.CodeNotFound, "order %d not found", orderID)
		}
		return rt.engine.Cancel(ctx, orderID)
	}
	return false, domain.Reject(domain.CodeNotFound, "order %d not found", orderID)
}

// CancelByClientID 按用户自定义订单号撤单
func (s *TradingService) CancelByClientID(ctx context.Context, userID, clientOrderID string) (bool, error) {
	for _, rt := range s.symbols {
		if order, ok := rt.registry.ViewByClientID(userID, clientOrderID); ok {
			return rt.engine.Cancel(ctx, order.OrderID)
		}
	}
	return false, domain.Reject(domain.CodeNotFound, "client order %q not found", clientOrderID)
}

// GetOrder 查询单笔订单，内存索引未命中时回源持久层。
func (s *TradingService) GetOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	for _, rt := range s.symbols {
		if order, ok := rt.registry.View(orderID); ok {
			return NewOrderView(&order), nil
		}
	}
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.Reject(domain.CodeNotFound, "order %d not found", orderID)
	}
	return NewOrderView(order), nil
}

// GetOpenOrders 用户活跃订单快照，symbol 为空时跨全部交易对。
func (s *TradingService) GetOpenOrders(userID, symbol string) []*OrderView {
	var orders []domain.Order
	if symbol != "" {
		if rt, ok := s.symbols[symbol]; ok {
			orders = rt.registry.OpenOrders(userID)
		}
	} else {
		for _, rt := range s.symbols {
			orders = append(orders, rt.registry.OpenOrders(userID)...)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })
	views := make([]*OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, NewOrderView(&orders[i]))
	}
	return views
}

// OpenCount 实现 domain.OpenCounter：用户跨全部交易对的活跃订单总数，
// 风控名额上限按用户全局生效。symbols 构造后只读，无需加锁。
func (s *TradingService) OpenCount(userID string) int {
	total := 0
	for _, rt := range s.symbols {
		total += rt.registry.OpenCount(userID)
	}
	return total
}

// GetOrderBook 订单簿快照：读取撮合批次后的原子快照并回写缓存。
func (s *TradingService) GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.BookSnapshot, error) {
	rt, err := s.runtime(symbol)
	if err != nil {
		return nil, err
	}
	if depth <= 0 || depth > s.cfg.SnapshotDepth {
		depth = s.cfg.SnapshotDepth
	}
	snap := rt.engine.Snapshot()
	trimmed := &domain.BookSnapshot{
		Symbol:       snap.Symbol,
		Bids:         snap.Bids,
		Asks:         snap.Asks,
		LastUpdateID: snap.LastUpdateID,
		Timestamp:    snap.Timestamp,
	}
	if len(trimmed.Bids) > depth {
		trimmed.Bids = trimmed.Bids[:depth]
	}
	if len(trimmed.Asks) > depth {
		trimmed.Asks = trimmed.Asks[:depth]
	}
	if s.snapshotRepo != nil {
		if err := s.snapshotRepo.Save(ctx, trimmed); err != nil {
			logging.Error(ctx, "failed to cache order book snapshot",
				"symbol", symbol,
				"error", err,
			)
		}
	}
	return trimmed, nil
}

// GetPositions 用户持仓
func (s *TradingService) GetPositions(userID string) []domain.Position {
	return s.ledger.PositionsOf(userID)
}

// GetBalances 用户余额
func (s *TradingService) GetBalances(userID string) []domain.Balance {
	return s.ledger.BalancesOf(userID)
}

// GetTrades 最近成交
func (s *TradingService) GetTrades(ctx context.Context, symbol string, limit int) ([]*TradeView, error) {
	if _, err := s.runtime(symbol); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	trades, err := s.tradeRepo.FindBySymbol(ctx, symbol, limit)
	if err != nil {
		logging.Error(ctx, "failed to load trades",
			"symbol", symbol,
			"error", err,
		)
		return nil, err
	}
	views := make([]*TradeView, 0, len(trades))
	for _, trade := range trades {
		views = append(views, NewTradeView(trade))
	}
	return views, nil
}

// Deposit 入金（管理接口与测试环境资金初始化）
func (s *TradingService) Deposit(userID, asset string, amount string) error {
	amt, err := parsePositive(amount, "amount")
	if err != nil {
		return err
	}
	s.ledger.Deposit(userID, asset, amt)
	return nil
}

// UpdateMarkPrice 注入标记价，驱动 MARK_PRICE 触发与持仓浮盈刷新。
func (s *TradingService) UpdateMarkPrice(symbol, price string) error {
	rt, err := s.runtime(symbol)
	if err != nil {
		return err
	}
	p, err := parsePositive(price, "price")
	if err != nil {
		return err
	}
	rt.engine.Tick(p, time.Now())
	return nil
}

// SubmitOCO OCO 双腿下单：限价腿 + 止损腿共享组号，原子互斥。
// 两腿独立冻结；第二腿准入失败时回滚第一腿。
func (s *TradingService) SubmitOCO(ctx context.Context, req *OCORequest) ([]*OrderView, error) {
	limitLeg := &SubmitOrderRequest{
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		Type:        string(domain.TypeLimit),
		Side:        req.Side,
		Quantity:    req.Quantity,
		Price:       req.Price,
		TradingMode: req.TradingMode,
	}
	stopLeg := &SubmitOrderRequest{
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		Type:        string(domain.TypeStopLoss),
		Side:        req.Side,
		Quantity:    req.Quantity,
		StopPrice:   req.StopPrice,
		TradingMode: req.TradingMode,
	}
	if req.StopLimitPrice != "" {
		stopLeg.Type = string(domain.TypeStopLimit)
		stopLeg.Price = req.StopLimitPrice
	}

	rt, err := s.runtime(req.Symbol)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	first, err := parseOrder(limitLeg, now)
	if err != nil {
		return nil, err
	}
	second, err := parseOrder(stopLeg, now)
	if err != nil {
		return nil, err
	}

	groupID := nextID()
	first.OCOGroupID = groupID
	second.OCOGroupID = groupID
	first.OrderID = nextID()
	second.OrderID = nextID()

	refPrice := s.referencePrice(rt, first)
	if err := rt.gate.Admit(first, s, refPrice); err != nil {
		return nil, err
	}
	if err := rt.gate.Admit(second, s, refPrice); err != nil {
		rt.gate.ReleaseRemaining(first)
		return nil, err
	}
	rt.registry.Put(first)
	rt.registry.Put(second)

	for _, order := range []*domain.Order{first, second} {
		if err := rt.engine.Submit(ctx, order); err != nil {
			rt.gate.ReleaseRemaining(order)
			order.MarkRejected(time.Now())
			rt.registry.Touch(order)
			return nil, err
		}
	}
	ordersTotal.WithLabelValues(req.Symbol, string(domain.TypeOCO), "accepted").Inc()
	return []*OrderView{NewOrderView(first), NewOrderView(second)}, nil
}

// BatchSubmit 批量下单，逐笔独立准入，互不影响。
func (s *TradingService) BatchSubmit(ctx context.Context, req *BatchSubmitRequest) []*BatchSubmitResult {
	results := make([]*BatchSubmitResult, 0, len(req.Orders))
	for _, orderReq := range req.Orders {
		view, err := s.SubmitOrder(ctx, orderReq)
		if err != nil {
			results = append(results, &BatchSubmitResult{
				Code:   string(domain.CodeOf(err)),
				Reason: err.Error(),
			})
			continue
		}
		results = append(results, &BatchSubmitResult{OrderID: view.OrderID})
	}
	return results
}

// DeadLetters 扇出死信缓冲（运维接口）
func (s *TradingService) DeadLetters() []DeadLetter {
	return s.fanout.DeadLetters()
}

// Halted 指定交易对是否已熔断
func (s *TradingService) Halted(symbol string) bool {
	if rt, ok := s.symbols[symbol]; ok {
		return rt.engine.Halted()
	}
	return false
}

// recoverState 启动恢复：从持久层装载未完结订单，按 order_id 升序
// 重放回注册表、风控与订单簿，重建与停机前一致的内存状态。
func (s *TradingService) recoverState(ctx context.Context) error {
	for symbol, rt := range s.symbols {
		orders, err := s.orderRepo.FindOpenBySymbol(ctx, symbol)
		if err != nil {
			return err
		}
		sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })
		recovered := 0
		for _, order := range orders {
			refPrice := order.Price
			if refPrice.IsZero() {
				refPrice = order.StopPrice
			}
			if err := rt.gate.Admit(order, s, refPrice); err != nil {
				logging.Warn(ctx, "recovered order failed re-admission",
					"order_id", order.OrderID,
					"symbol", symbol,
					"error", err,
				)
				order.MarkRejected(time.Now())
				s.fanout.OnOrderUpdated(order, 0)
				continue
			}
			rt.registry.Put(order)
			rt.engine.Replay(order)
			recovered++
		}
		if recovered > 0 {
			logging.Info(ctx, "order book state recovered",
				"symbol", symbol,
				"orders", recovered,
			)
		}
	}
	return nil
}
