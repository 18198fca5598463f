package reversal

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"position-guard-go/gateway"
	"position-guard-go/market"
)

type stubGateway struct {
	mu       sync.Mutex
	triggers []gateway.TriggerOrderRequest
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
func (s *stubGateway) SetLeverage(gateway.LeverageRequest) (gateway.Result, error) {
	return gateway.ResultOK, nil
}

func newTestWatcher() (*Watcher, *stubGateway, *market.Cache) {
	gw := newStubGateway()
	cache := market.NewCache()
	w := NewWatcher(gw, cache, gateway.Cross, zap.NewNop())
	return w, gw, cache
}

func TestCreateValidation(t *testing.T) {
	w, _, cache := newTestWatcher()

	// 没有行情时拒绝
	_, err := w.Create("BTC-USDT-SWAP", gateway.Buy, 90, 95, 1, gateway.MarketPx, false)
	require.ErrorIs(t, err, ErrNoTickPrice)

	cache.PutTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 100})

	// buy 的第一阈值必须低于当前价
	_, err = w.Create("BTC-USDT-SWAP", gateway.Buy, 110, 95, 1, gateway.MarketPx, false)
	require.ErrorIs(t, err, ErrTriggerAboveMarket)
	assert.Empty(t, w.Pending("BTC-USDT-SWAP"), "rejected create must not mutate queue")

	// sell 的第一阈值必须高于当前价
	_, err = w.Create("BTC-USDT-SWAP", gateway.Sell, 90, 95, 1, gateway.MarketPx, false)
	require.ErrorIs(t, err, ErrTriggerBelowMarket)

	_, err = w.Create("BTC-USDT-SWAP", gateway.Buy, 90, 95, 0, gateway.MarketPx, false)
	require.ErrorIs(t, err, ErrInvalidVolume)

	_, err = w.Create("BTC-USDT-SWAP", "hold", 90, 95, 1, gateway.MarketPx, false)
	require.ErrorIs(t, err, ErrInvalidSide)

	_, err = w.Create("BTC-USDT-SWAP", gateway.Buy, 90, 95, 1, gateway.MarketPx, false)
	require.NoError(t, err)
	assert.Len(t, w.Pending("BTC-USDT-SWAP"), 1)
}

func TestFireOnce(t *testing.T) {
	w, gw, cache := newTestWatcher()
	cache.PutTick(market.Tick{Symbol: "ETH-USDT-SWAP", LastPrice: 3000})

	_, err := w.Create("ETH-USDT-SWAP", gateway.Sell, 3100, 3050, 2, gateway.MarketPx, false)
	require.NoError(t, err)

	// 未穿越：不触发
	w.OnTick(market.Tick{Symbol: "ETH-USDT-SWAP", LastPrice: 3050})
	assert.Empty(t, gw.triggers)

	// 穿越第一阈值：提交第二腿并移除
	w.OnTick(market.Tick{Symbol: "ETH-USDT-SWAP", LastPrice: 3150})
	require.Len(t, gw.triggers, 1)
	req := gw.triggers[0]
	assert.Equal(t, gateway.Sell, req.Side)
	assert.Equal(t, gateway.PosShort, req.PosSide)
	assert.Equal(t, 3050.0, req.TriggerPx)
	assert.Empty(t, w.Pending("ETH-USDT-SWAP"))

	// 再穿越：不得重复触发
	w.OnTick(market.Tick{Symbol: "ETH-USDT-SWAP", LastPrice: 3200})
	assert.Len(t, gw.triggers, 1)
}

func TestBuyFirePositionSide(t *testing.T) {
	w, gw, cache := newTestWatcher()
	cache.PutTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 100})

	_, err := w.Create("BTC-USDT-SWAP", gateway.Buy, 95, 97, 1, gateway.MarketPx, false)
	require.NoError(t, err)
	w.OnTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 94})
	require.Len(t, gw.triggers, 1)
	assert.Equal(t, gateway.PosLong, gw.triggers[0].PosSide)
}

func TestTiesEvaluatedInInsertionOrder(t *testing.T) {
	w, gw, cache := newTestWatcher()
	cache.PutTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 100})

	_, err := w.Create("BTC-USDT-SWAP", gateway.Sell, 105, 103, 1, gateway.MarketPx, false)
	require.NoError(t, err)
	_, err = w.Create("BTC-USDT-SWAP", gateway.Sell, 105, 104, 2, gateway.MarketPx, false)
	require.NoError(t, err)

	w.OnTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 106})
	require.Len(t, gw.triggers, 2)
	assert.Equal(t, 103.0, gw.triggers[0].TriggerPx, "insertion order preserved")
	assert.Equal(t, 104.0, gw.triggers[1].TriggerPx)
	assert.Empty(t, w.Pending("BTC-USDT-SWAP"))
}

func TestSubmissionFailureKeepsWatch(t *testing.T) {
	w, gw, cache := newTestWatcher()
	cache.PutTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 100})

	_, err := w.Create("BTC-USDT-SWAP", gateway.Sell, 105, 103, 1, gateway.MarketPx, false)
	require.NoError(t, err)

	gw.res = gateway.Result{Code: "51001", Msg: "instrument suspended"}
	w.OnTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 106})
	assert.Len(t, w.Pending("BTC-USDT-SWAP"), 1, "failed submission must keep the watch")

	// 网关恢复后，下一个 tick 重新触发
	gw.res = gateway.ResultOK
	w.OnTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 107})
	assert.Len(t, gw.triggers, 1)
	assert.Empty(t, w.Pending("BTC-USDT-SWAP"))
}

func TestClearExistingReplacesQueue(t *testing.T) {
	w, _, cache := newTestWatcher()
	cache.PutTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 100})

	_, err := w.Create("BTC-USDT-SWAP", gateway.Sell, 105, 103, 1, gateway.MarketPx, false)
	require.NoError(t, err)
	_, err = w.Create("BTC-USDT-SWAP", gateway.Sell, 110, 108, 1, gateway.MarketPx, true)
	require.NoError(t, err)

	pending := w.Pending("BTC-USDT-SWAP")
	require.Len(t, pending, 1)
	assert.Equal(t, 110.0, pending[0].FirstTrigger)
}

func TestClearAll(t *testing.T) {
	w, _, cache := newTestWatcher()
	cache.PutTick(market.Tick{Symbol: "BTC-USDT-SWAP", LastPrice: 100})
	cache.PutTick(market.Tick{Symbol: "ETH-USDT-SWAP", LastPrice: 3000})

	_, err := w.Create("BTC-USDT-SWAP", gateway.Sell, 105, 103, 1, gateway.MarketPx, false)
	require.NoError(t, err)
	_, err = w.Create("ETH-USDT-SWAP", gateway.Buy, 2900, 2950, 1, gateway.MarketPx, false)
	require.NoError(t, err)

	w.ClearAll()
	assert.Empty(t, w.Pending("BTC-USDT-SWAP"))
	assert.Empty(t, w.Pending("ETH-USDT-SWAP"))
}
