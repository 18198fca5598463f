// Package reversal 实现两腿反转触发单（TTO）：价格穿越第一阈值后，
// 向交易所提交第二腿计划委托。
package reversal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"position-guard-go/gateway"
	"position-guard-go/infrastructure/alert"
	"position-guard-go/market"
	"position-guard-go/metrics"
)

// Alerter 接收触发成功事件，可选注入。
type Alerter interface {
	Notify(ev alert.Event)
}

var (
	ErrNoTickPrice        = errors.New("no tick price for symbol yet")
	ErrInvalidSide        = errors.New("side must be buy or sell")
	ErrInvalidVolume      = errors.New("volume must be positive")
	ErrTriggerAboveMarket = errors.New("buy first trigger must be below current price")
	ErrTriggerBelowMarket = errors.New("sell first trigger must be above current price")
)

// Watch 一条挂起的反转触发单。状态机只有 Pending → Fired（移除），
// 已触发的不保留历史。
type Watch struct {
	ID            string
	Symbol        string
	Side          gateway.Side
	FirstTrigger  float64
	SecondTrigger float64
	Volume        float64
	OrderPx       float64
	Created       time.Time
}

// Watcher 按 symbol 维护挂起队列。OnTick 由分发器串行调用，
// Create/ClearAll 可能来自策略线程，map 访问全部加锁。
type Watcher struct {
	gw         gateway.Gateway
	cache      *market.Cache
	logger     *zap.Logger
	alerts     Alerter
	marginMode gateway.MarginMode

	mu     sync.Mutex
	queues map[string][]Watch
}

func NewWatcher(gw gateway.Gateway, cache *market.Cache, marginMode gateway.MarginMode, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		gw:         gw,
		cache:      cache,
		logger:     logger,
		marginMode: marginMode,
		queues:     make(map[string][]Watch),
	}
}

// SetAlerter 注入告警管理器；需在首个 tick 前调用。
func (w *Watcher) SetAlerter(a Alerter) { w.alerts = a }

// Create 登记一条反转触发单。第一阈值必须在当前价的正确一侧：
// buy 在当前价下方，sell 在上方；否则拒绝且不改动队列。
// clearExisting 为 true 时替换该 symbol 的整个队列，否则追加。
func (w *Watcher) Create(symbol string, side gateway.Side, firstTrigger, secondTrigger, volume, orderPx float64, clearExisting bool) (Watch, error) {
	if side != gateway.Buy && side != gateway.Sell {
		return Watch{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if volume <= 0 {
		return Watch{}, fmt.Errorf("%w: %v", ErrInvalidVolume, volume)
	}
	tick, ok := w.cache.LastTick(symbol)
	if !ok {
		return Watch{}, fmt.Errorf("%w: %s", ErrNoTickPrice, symbol)
	}
	if side == gateway.Buy && firstTrigger > tick.LastPrice {
		return Watch{}, fmt.Errorf("%w: %v > %v", ErrTriggerAboveMarket, firstTrigger, tick.LastPrice)
	}
	if side == gateway.Sell && firstTrigger < tick.LastPrice {
		return Watch{}, fmt.Errorf("%w: %v < %v", ErrTriggerBelowMarket, firstTrigger, tick.LastPrice)
	}

	watch := Watch{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		FirstTrigger:  firstTrigger,
		SecondTrigger: secondTrigger,
		Volume:        volume,
		OrderPx:       orderPx,
		Created:       time.Now().UTC(),
	}
	w.mu.Lock()
	if clearExisting {
		w.queues[symbol] = nil
	}
	w.queues[symbol] = append(w.queues[symbol], watch)
	total := w.total()
	w.mu.Unlock()
	metrics.ReversalWatchesPending.Set(float64(total))
	w.logger.Info("reversal watch registered",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("firstTrigger", firstTrigger),
		zap.Float64("secondTrigger", secondTrigger),
		zap.Float64("volume", volume))
	return watch, nil
}

// OnTick 扫描该 symbol 的挂起队列，按登记顺序独立判断触发。
// 提交失败的留在队列里，等下一个 tick 重试。
func (w *Watcher) OnTick(tick market.Tick) {
	w.mu.Lock()
	queue := append([]Watch(nil), w.queues[tick.Symbol]...)
	w.mu.Unlock()
	if len(queue) == 0 {
		return
	}

	var fired []string
	for _, watch := range queue {
		if !crossed(watch, tick.LastPrice) {
			continue
		}
		posSide := gateway.PosLong
		if watch.Side == gateway.Sell {
			posSide = gateway.PosShort
		}
		res, err := w.gw.SubmitTriggerOrder(gateway.TriggerOrderRequest{
			InstID:     watch.Symbol,
			MarginMode: w.marginMode,
			Side:       watch.Side,
			PosSide:    posSide,
			TriggerPx:  watch.SecondTrigger,
			Size:       watch.Volume,
			OrderPx:    watch.OrderPx,
		})
		if err != nil || !res.OK() {
			metrics.GatewayErrors.WithLabelValues("reversal_fire").Inc()
			w.logger.Error("reversal second leg rejected, watch kept",
				zap.String("symbol", watch.Symbol),
				zap.Float64("firstTrigger", watch.FirstTrigger),
				zap.Float64("secondTrigger", watch.SecondTrigger),
				zap.String("code", res.Code),
				zap.Error(err))
			continue
		}
		fired = append(fired, watch.ID)
		metrics.ReversalFires.WithLabelValues(watch.Symbol, string(watch.Side)).Inc()
		w.logger.Info("reversal watch fired",
			zap.String("symbol", watch.Symbol),
			zap.String("side", string(watch.Side)),
			zap.Float64("lastPrice", tick.LastPrice),
			zap.Float64("secondTrigger", watch.SecondTrigger))
		if w.alerts != nil {
			w.alerts.Notify(alert.Event{
				Severity: alert.SevInfo,
				Kind:     "reversal_fire",
				Symbol:   watch.Symbol,
				Message:  "reversal second leg submitted",
				Fields: map[string]interface{}{
					"symbol":  watch.Symbol,
					"side":    string(watch.Side),
					"trigger": watch.SecondTrigger,
				},
			})
		}
	}
	if len(fired) == 0 {
		return
	}

	w.mu.Lock()
	w.queues[tick.Symbol] = removeByID(w.queues[tick.Symbol], fired)
	total := w.total()
	w.mu.Unlock()
	metrics.ReversalWatchesPending.Set(float64(total))
}

// Pending 返回 symbol 当前挂起的 watch 拷贝。
func (w *Watcher) Pending(symbol string) []Watch {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Watch(nil), w.queues[symbol]...)
}

// ClearAll 丢弃所有挂起 watch（人工兜底）。
func (w *Watcher) ClearAll() {
	w.mu.Lock()
	w.queues = make(map[string][]Watch)
	w.mu.Unlock()
	metrics.ReversalWatchesPending.Set(0)
	w.logger.Info("all reversal watches cleared")
}

// total 调用方需持锁。
func (w *Watcher) total() int {
	n := 0
	for _, q := range w.queues {
		n += len(q)
	}
	return n
}

func crossed(watch Watch, lastPrice float64) bool {
	if watch.Side == gateway.Buy {
		return lastPrice < watch.FirstTrigger
	}
	return lastPrice > watch.FirstTrigger
}

func removeByID(queue []Watch, ids []string) []Watch {
	if len(queue) == 0 {
		return queue
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := queue[:0]
	for _, watch := range queue {
		if _, gone := drop[watch.ID]; !gone {
			out = append(out, watch)
		}
	}
	return out
}
