package domain

import (
	"testing"
	"time"

	engine "github.com/wyfcoding/tradingengine/internal/engine/domain"
)

func masterTrade(taker, maker string, side engine.Side, qty, price string) *engine.Trade {
	return &engine.Trade{
		Symbol:      "BTC-USDT",
		TakerUserID: taker,
		MakerUserID: maker,
		Side:        side,
		Quantity:    d(qty),
		Price:       d(price),
	}
}

func TestCopyTradingStrategy_CopiesMasterFills(t *testing.T) {
	c := NewCopyTradingStrategy("BTC-USDT", "master", d("0.5"), d("0"), time.Second)

	// 主账户作为 taker 买入 4：复制同向 2
	c.OnTrade(masterTrade("master", "other", engine.SideBuy, "4", "100"))
	intents := c.GenerateOrders(MarketData{}, nil)
	if len(intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(intents))
	}
	if intents[0].Side != engine.SideBuy || !intents[0].Quantity.Equal(d("2")) {
		t.Errorf("intent = %+v, want BUY 2", intents[0])
	}

	// 队列取走后清空
	if got := c.GenerateOrders(MarketData{}, nil); len(got) != 0 {
		t.Errorf("drained queue produced %d intents", len(got))
	}
}

func TestCopyTradingStrategy_MakerSideInverted(t *testing.T) {
	c := NewCopyTradingStrategy("BTC-USDT", "master", d("1"), d("0"), time.Second)

	// 主账户作为 maker 被动成交：trade.Side 是对手方向，需取反
	c.OnTrade(masterTrade("other", "master", engine.SideBuy, "3", "100"))
	intents := c.GenerateOrders(MarketData{}, nil)
	if len(intents) != 1 || intents[0].Side != engine.SideSell {
		t.Fatalf("intents = %+v, want single SELL", intents)
	}
}

func TestCopyTradingStrategy_CapsByMaxAmount(t *testing.T) {
	// 上限 100 USDT：价格 50 时最多复制 2
	c := NewCopyTradingStrategy("BTC-USDT", "master", d("1"), d("100"), time.Second)
	c.OnTrade(masterTrade("master", "other", engine.SideBuy, "10", "50"))
	intents := c.GenerateOrders(MarketData{}, nil)
	if len(intents) != 1 || !intents[0].Quantity.Equal(d("2")) {
		t.Fatalf("intents = %+v, want quantity capped at 2", intents)
	}
}

func TestCopyTradingStrategy_IgnoresUnrelatedTrades(t *testing.T) {
	c := NewCopyTradingStrategy("BTC-USDT", "master", d("1"), d("0"), time.Second)
	c.OnTrade(masterTrade("alice", "bob", engine.SideBuy, "3", "100"))
	c.OnTrade(&engine.Trade{
		Symbol:      "ETH-USDT",
		TakerUserID: "master",
		Side:        engine.SideBuy,
		Quantity:    d("1"),
		Price:       d("100"),
	})
	if got := c.GenerateOrders(MarketData{}, nil); len(got) != 0 {
		t.Errorf("unrelated trades produced %d intents", len(got))
	}
}
