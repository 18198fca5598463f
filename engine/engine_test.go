package engine

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"position-guard-go/gateway"
	"position-guard-go/market"
	"position-guard-go/protect"
	"position-guard-go/reversal"
	"position-guard-go/riskcfg"
)

type stubGateway struct {
	mu       sync.Mutex
	triggers []gateway.TriggerOrderRequest
	levers   []gateway.LeverageRequest
	res      gateway.Result
}

func newStubGateway() *stubGateway { return &stubGateway{res: gateway.ResultOK} }

func (s *stubGateway) SubmitTriggerOrder(req gateway.TriggerOrderRequest) (gateway.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.res.OK() {
		s.triggers = append(s.triggers, req)
	}
	return s.res, nil
}
func (s *stubGateway) SubmitMarketClose(gateway.MarketCloseRequest) (gateway.Result, error) {
	return gateway.ResultOK, nil
}
func (s *stubGateway) PendingTriggerOrders(string) ([]gateway.PendingAlgo, error) { return nil, nil }
func (s *stubGateway) CancelTriggerOrders([]gateway.PendingAlgo) (gateway.Result, error) {
	return gateway.ResultOK, nil
}
func (s *stubGateway) SetLeverage(req gateway.LeverageRequest) (gateway.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levers = append(s.levers, req)
	return s.res, nil
}

func (s *stubGateway) triggerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers)
}

func newTestEngine(gw gateway.Gateway) *Engine {
	cache := market.NewCache()
	store := riskcfg.NewStore()
	pm := protect.NewManager(protect.DefaultOptions(), gw, store, cache, nil, zap.NewNop())
	rw := reversal.NewWatcher(gw, cache, gateway.Cross, zap.NewNop())
	return New(Components{
		Gateway:  gw,
		Cache:    cache,
		Store:    store,
		Protect:  pm,
		Reversal: rw,
		Logger:   zap.NewNop(),
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestTickRoutesToReversal(t *testing.T) {
	gw := newStubGateway()
	e := newTestEngine(gw)
	defer e.Close()

	e.OnTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 100})
	if _, err := e.CreateWatch("BTC-USDT-SWAP", gateway.Sell, 105, 103, 1, gateway.MarketPx, false); err != nil {
		t.Fatalf("create watch: %v", err)
	}
	e.OnTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 106})
	if gw.triggerCount() != 1 {
		t.Fatalf("expected fired watch, got %d submissions", gw.triggerCount())
	}
}

func TestPauseDoesNotAffectReversal(t *testing.T) {
	gw := newStubGateway()
	e := newTestEngine(gw)
	defer e.Close()

	e.OnTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 100})
	if _, err := e.CreateWatch("BTC-USDT-SWAP", gateway.Sell, 105, 103, 1, gateway.MarketPx, false); err != nil {
		t.Fatalf("create watch: %v", err)
	}
	e.Pause()
	if !e.Paused() {
		t.Fatalf("expected paused")
	}
	// 暂停不影响 tick 驱动的反转触发
	e.OnTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 106})
	if gw.triggerCount() != 1 {
		t.Fatalf("reversal must fire while paused, got %d", gw.triggerCount())
	}
	// 暂停抑制持仓驱动评估
	e.OnPosition(market.Position{
		Symbol: "BTC-USDT-SWAP", Direction: market.Long, Volume: 1,
		EntryPrice: 100, Leverage: 10,
	})
	time.Sleep(50 * time.Millisecond)
	if gw.triggerCount() != 1 {
		t.Fatalf("paused position event must not submit, got %d", gw.triggerCount())
	}
	e.Resume()
	e.OnPosition(market.Position{
		Symbol: "BTC-USDT-SWAP", Direction: market.Long, Volume: 2,
		EntryPrice: 100, Leverage: 10,
	})
	waitFor(t, func() bool { return gw.triggerCount() == 2 })
}

func TestSymbolErrorDoesNotStopBatch(t *testing.T) {
	gw := newStubGateway()
	e := newTestEngine(gw)
	defer e.Close()

	e.OnTick(market.Tick{Symbol: "A-USDT-SWAP", LastPrice: 100})
	e.OnTick(market.Tick{Symbol: "B-USDT-SWAP", LastPrice: 100})
	if _, err := e.CreateWatch("A-USDT-SWAP", gateway.Sell, 105, 103, 1, gateway.MarketPx, false); err != nil {
		t.Fatalf("create watch: %v", err)
	}
	if _, err := e.CreateWatch("B-USDT-SWAP", gateway.Sell, 105, 103, 1, gateway.MarketPx, false); err != nil {
		t.Fatalf("create watch: %v", err)
	}

	// A 的提交被拒，B 照常评估触发
	gw.res = gateway.Result{Code: "51000"}
	e.OnTick(market.Tick{Symbol: "A-USDT-SWAP", LastPrice: 110})
	gw.res = gateway.ResultOK
	e.OnTick(market.Tick{Symbol: "B-USDT-SWAP", LastPrice: 110})
	if gw.triggerCount() != 1 {
		t.Fatalf("B must fire despite A failure, got %d", gw.triggerCount())
	}
}

func TestConfigChangeTriggersRefresh(t *testing.T) {
	gw := newStubGateway()
	e := newTestEngine(gw)
	defer e.Close()

	e.OnPosition(market.Position{
		Symbol: "BTC-USDT-SWAP", Direction: market.Long, Volume: 1,
		EntryPrice: 100, Leverage: 10,
	})
	waitFor(t, func() bool { return gw.triggerCount() == 1 })

	e.SetStopLoss("BTC-USDT-SWAP", -0.2)
	waitFor(t, func() bool { return gw.triggerCount() == 2 })
}

func TestSetLeveragePassthrough(t *testing.T) {
	gw := newStubGateway()
	e := newTestEngine(gw)
	defer e.Close()

	if err := e.SetLeverage("BTC-USDT-SWAP", 20, gateway.Cross); err != nil {
		t.Fatalf("set leverage: %v", err)
	}
	gw.mu.Lock()
	if len(gw.levers) != 1 || gw.levers[0].Leverage != 20 {
		gw.mu.Unlock()
		t.Fatalf("unexpected leverage requests: %+v", gw.levers)
	}
	gw.mu.Unlock()

	// 交易所拒单要反馈给调用方，不能当成功
	gw.res = gateway.Result{Code: "59000", Msg: "margin mode mismatch"}
	if err := e.SetLeverage("BTC-USDT-SWAP", 20, gateway.Cross); err == nil {
		t.Fatalf("rejected leverage change must return error")
	}
}
