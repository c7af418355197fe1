package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	engine "github.com/wyfcoding/tradingengine/internal/engine/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newGrid() *GridStrategy {
	// 网格 [100, 200]，10 格，间距 10
	return NewGridStrategy("BTC-USDT", d("100"), d("200"), 10, d("0.5"), time.Second)
}

func TestGridStrategy_PlacesAroundCurrentCell(t *testing.T) {
	g := newGrid()
	md := MarketData{Symbol: "BTC-USDT", Price: d("145"), Timestamp: time.Now()}

	intents := g.GenerateOrders(md, nil)
	if len(intents) != 2 {
		t.Fatalf("intents = %d, want buy + sell", len(intents))
	}

	var buy, sell *OrderIntent
	for _, intent := range intents {
		switch intent.Side {
		case engine.SideBuy:
			buy = intent
		case engine.SideSell:
			sell = intent
		}
	}
	if buy == nil || !buy.Price.Equal(d("130")) {
		t.Errorf("buy leg = %+v, want limit at 130", buy)
	}
	if sell == nil || !sell.Price.Equal(d("150")) {
		t.Errorf("sell leg = %+v, want limit at 150", sell)
	}
	for _, intent := range intents {
		if intent.Type != engine.TypeLimit || !intent.Quantity.Equal(d("0.5")) {
			t.Errorf("intent = %+v, want 0.5 LIMIT", intent)
		}
	}
}

func TestGridStrategy_NoDuplicateLegs(t *testing.T) {
	g := newGrid()
	md := MarketData{Symbol: "BTC-USDT", Price: d("145"), Timestamp: time.Now()}

	if got := len(g.GenerateOrders(md, nil)); got != 2 {
		t.Fatalf("first pass = %d intents, want 2", got)
	}
	// 价位仍被占用：不重复挂单
	if got := len(g.GenerateOrders(md, nil)); got != 0 {
		t.Errorf("second pass = %d intents, want 0", got)
	}
}

func TestGridStrategy_RearmsAfterLegCompletes(t *testing.T) {
	g := newGrid()
	md := MarketData{Symbol: "BTC-USDT", Price: d("145"), Timestamp: time.Now()}
	intents := g.GenerateOrders(md, nil)

	var buy *OrderIntent
	for _, intent := range intents {
		if intent.Side == engine.SideBuy {
			buy = intent
		}
	}
	g.Bind(buy, 42)

	// 买腿成交完结：该价位释放，可重新挂出
	g.OnOrderUpdate(&engine.Order{
		OrderID: 42,
		Symbol:  "BTC-USDT",
		Side:    engine.SideBuy,
		Price:   d("130"),
		Status:  engine.StatusFilled,
	})

	intents = g.GenerateOrders(md, nil)
	if len(intents) != 1 || intents[0].Side != engine.SideBuy || !intents[0].Price.Equal(d("130")) {
		t.Errorf("rearm intents = %+v, want a single buy at 130", intents)
	}
}

func TestGridStrategy_OutOfRangeOrNoPrice(t *testing.T) {
	g := newGrid()
	now := time.Now()
	tests := []struct {
		name  string
		price string
	}{
		{"no market data", "0"},
		{"below range", "90"},
		{"above range", "250"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := MarketData{Symbol: "BTC-USDT", Price: d(tt.price), Timestamp: now}
			if got := g.GenerateOrders(md, nil); len(got) != 0 {
				t.Errorf("intents = %d, want 0", len(got))
			}
		})
	}
}

func TestGridStrategy_EdgeCellsSkipMissingNeighbor(t *testing.T) {
	g := newGrid()
	// 最低格 (100, 110)：下方无买档，只挂卖
	md := MarketData{Symbol: "BTC-USDT", Price: d("105"), Timestamp: time.Now()}
	intents := g.GenerateOrders(md, nil)
	if len(intents) != 1 || intents[0].Side != engine.SideSell || !intents[0].Price.Equal(d("110")) {
		t.Errorf("bottom cell intents = %+v, want single sell at 110", intents)
	}
}
