package domain

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	engine "github.com/wyfcoding/tradingengine/internal/engine/domain"
)

// GridStrategy 网格交易：在 [lower, upper] 等分出 count 份网格，
// 现价落在某格内时，于下一格挂买、上一格挂卖，吃满价差后网格自动续挂。
type GridStrategy struct {
	symbol   string
	upper    decimal.Decimal
	lower    decimal.Decimal
	count    int
	baseQty  decimal.Decimal
	interval time.Duration
	levels   []decimal.Decimal

	mu sync.Mutex
	// working 已挂出且未完结的网格价位，防止同价位重复挂单。
	working map[string]int64
}

// NewGridStrategy 创建网格策略并预计算全部网格价位
func NewGridStrategy(symbol string, lower, upper decimal.Decimal, count int, baseQty decimal.Decimal, interval time.Duration) *GridStrategy {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	g := &GridStrategy{
		symbol:   symbol,
		upper:    upper,
		lower:    lower,
		count:    count,
		baseQty:  baseQty,
		interval: interval,
		working:  make(map[string]int64),
	}
	g.initializeGrid()
	return g
}

func (g *GridStrategy) initializeGrid() {
	spacing := g.upper.Sub(g.lower).Div(decimal.NewFromInt(int64(g.count)))
	g.levels = make([]decimal.Decimal, 0, g.count+1)
	for i := 0; i <= g.count; i++ {
		g.levels = append(g.levels, g.lower.Add(spacing.Mul(decimal.NewFromInt(int64(i)))))
	}
}

func (g *GridStrategy) Name() string            { return "GridTrading" }
func (g *GridStrategy) Symbol() string          { return g.symbol }
func (g *GridStrategy) Interval() time.Duration { return g.interval }

// GenerateOrders 现价所在格的下沿挂买、上沿挂卖
func (g *GridStrategy) GenerateOrders(md MarketData, _ []engine.Position) []*OrderIntent {
	if !md.Price.IsPositive() {
		return nil
	}
	var intents []*OrderIntent
	for i := 0; i < len(g.levels)-1; i++ {
		if md.Price.LessThanOrEqual(g.levels[i]) || md.Price.GreaterThanOrEqual(g.levels[i+1]) {
			continue
		}
		if i > 0 {
			if intent := g.placeAt(g.levels[i-1], engine.SideBuy); intent != nil {
				intents = append(intents, intent)
			}
		}
		if i < len(g.levels)-2 {
			if intent := g.placeAt(g.levels[i+1], engine.SideSell); intent != nil {
				intents = append(intents, intent)
			}
		}
		break
	}
	return intents
}

func (g *GridStrategy) placeAt(price decimal.Decimal, side engine.Side) *OrderIntent {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := string(side) + "@" + price.String()
	if _, busy := g.working[key]; busy {
		return nil
	}
	g.working[key] = 0
	return &OrderIntent{
		Symbol:      g.symbol,
		Type:        engine.TypeLimit,
		Side:        side,
		Quantity:    g.baseQty,
		Price:       price,
		TimeInForce: engine.TIFGtc,
	}
}

func (g *GridStrategy) OnTrade(_ *engine.Trade) {}

// OnOrderUpdate 网格腿完结后释放该价位，允许重新挂出。
func (g *GridStrategy) OnOrderUpdate(order *engine.Order) {
	if order.Symbol != g.symbol || !order.Status.IsTerminal() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.working, string(order.Side)+"@"+order.Price.String())
}

// Bind 宿主回填网格腿的订单号
func (g *GridStrategy) Bind(intent *OrderIntent, orderID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := string(intent.Side) + "@" + intent.Price.String()
	if _, ok := g.working[key]; ok {
		g.working[key] = orderID
	}
}
