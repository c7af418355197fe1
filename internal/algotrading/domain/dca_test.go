package domain

import (
	"testing"
	"time"

	engine "github.com/wyfcoding/tradingengine/internal/engine/domain"
)

func TestDCAStrategy_BuysFixedAmountPerInterval(t *testing.T) {
	dca := NewDCAStrategy("BTC-USDT", d("100"), time.Hour)
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	intents := dca.GenerateOrders(MarketData{Symbol: "BTC-USDT", Price: d("50"), Timestamp: start}, nil)
	if len(intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(intents))
	}
	intent := intents[0]
	if intent.Type != engine.TypeMarket || intent.Side != engine.SideBuy || intent.TimeInForce != engine.TIFIoc {
		t.Errorf("intent = %+v, want IOC market buy", intent)
	}
	// 100 USDT / 50 = 2 BTC
	if !intent.Quantity.Equal(d("2")) {
		t.Errorf("quantity = %s, want 2", intent.Quantity)
	}

	// 周期未满：不产单
	half := start.Add(30 * time.Minute)
	if got := dca.GenerateOrders(MarketData{Symbol: "BTC-USDT", Price: d("50"), Timestamp: half}, nil); len(got) != 0 {
		t.Errorf("mid-interval intents = %d, want 0", len(got))
	}

	// 周期已满：再次买入
	next := start.Add(time.Hour)
	if got := dca.GenerateOrders(MarketData{Symbol: "BTC-USDT", Price: d("40"), Timestamp: next}, nil); len(got) != 1 {
		t.Fatalf("next interval intents = %d, want 1", len(got))
	} else if !got[0].Quantity.Equal(d("2.5")) {
		t.Errorf("quantity = %s, want 2.5 at price 40", got[0].Quantity)
	}
}

func TestDCAStrategy_SkipsWithoutPrice(t *testing.T) {
	dca := NewDCAStrategy("BTC-USDT", d("100"), time.Hour)
	md := MarketData{Symbol: "BTC-USDT", Timestamp: time.Now()}
	if got := dca.GenerateOrders(md, nil); len(got) != 0 {
		t.Errorf("intents without price = %d, want 0", len(got))
	}
}
