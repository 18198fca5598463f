// Package engine 把行情/账户事件接到保护单管理器和反转触发引擎上，
// 并对外暴露操作员接口。
package engine

import (
	"fmt"

	"go.uber.org/zap"

	"position-guard-go/gateway"
	"position-guard-go/market"
	"position-guard-go/metrics"
	"position-guard-go/protect"
	"position-guard-go/reversal"
	"position-guard-go/riskcfg"
)

// Engine 实现 gateway.WSHandler。事件由 ws 读取循环按到达顺序
// 逐条投递；操作员接口可能来自其他 goroutine。
type Engine struct {
	gw       gateway.Gateway
	cache    *market.Cache
	store    *riskcfg.Store
	protect  *protect.Manager
	reversal *reversal.Watcher
	logger   *zap.Logger
}

// Components 引擎依赖组件。
type Components struct {
	Gateway  gateway.Gateway
	Cache    *market.Cache
	Store    *riskcfg.Store
	Protect  *protect.Manager
	Reversal *reversal.Watcher
	Logger   *zap.Logger
}

func New(c Components) *Engine {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	// 配置变更要触发保护单重下
	c.Store.SetRefresher(c.Protect)
	return &Engine{
		gw:       c.Gateway,
		cache:    c.Cache,
		store:    c.Store,
		protect:  c.Protect,
		reversal: c.Reversal,
		logger:   c.Logger,
	}
}

// OnTick 先落缓存再喂反转引擎；反转评估不受暂停标志影响。
func (e *Engine) OnTick(t market.Tick) {
	metrics.EventsProcessed.WithLabelValues("tick").Inc()
	e.cache.PutTick(t)
	e.reversal.OnTick(t)
}

// OnPosition 持仓事件转给保护单管理器（内部按 symbol 串行评估）。
func (e *Engine) OnPosition(p market.Position) {
	metrics.EventsProcessed.WithLabelValues("position").Inc()
	e.protect.OnPosition(p)
}

// OnOrder 委托回报只记日志，不驱动状态。
func (e *Engine) OnOrder(raw []byte) {
	metrics.EventsProcessed.WithLabelValues("order").Inc()
	e.logger.Debug("order event", zap.ByteString("data", raw))
}

// OnTrade 成交回报只记日志。
func (e *Engine) OnTrade(raw []byte) {
	metrics.EventsProcessed.WithLabelValues("trade").Inc()
	e.logger.Debug("trade event", zap.ByteString("data", raw))
}

// ---- 操作员/策略接口 ----

// SetStopLoss 更新单 symbol 止损比例（触发保护单重下）。
func (e *Engine) SetStopLoss(symbol string, sl float64) { e.store.SetStopLoss(symbol, sl) }

// SetTakeProfit 更新单 symbol 止盈比例。
func (e *Engine) SetTakeProfit(symbol string, tp float64) { e.store.SetTakeProfit(symbol, tp) }

// SetAllStopLoss 更新所有已配置 symbol 的止损比例。
func (e *Engine) SetAllStopLoss(sl float64) { e.store.SetAllStopLoss(sl) }

// SetAllTakeProfit 更新所有已配置 symbol 的止盈比例。
func (e *Engine) SetAllTakeProfit(tp float64) { e.store.SetAllTakeProfit(tp) }

// AdjustTakeProfit 止盈 = |止损| × mul；symbol 为空作用于全部。
func (e *Engine) AdjustTakeProfit(symbol string, mul float64) error {
	return e.store.AdjustTakeProfit(symbol, mul)
}

// CreateWatch 登记反转触发单。
func (e *Engine) CreateWatch(symbol string, side gateway.Side, firstTrigger, secondTrigger, volume, orderPx float64, clearExisting bool) (reversal.Watch, error) {
	return e.reversal.Create(symbol, side, firstTrigger, secondTrigger, volume, orderPx, clearExisting)
}

// ClearWatches 丢弃所有挂起的反转触发单。
func (e *Engine) ClearWatches() { e.reversal.ClearAll() }

// LockPositions 以当前市价锚定重下保护单（手动锁仓）。
func (e *Engine) LockPositions(symbol string, offset float64) {
	e.protect.LockPositions(symbol, offset)
}

// SetLeverage 杠杆透传。
func (e *Engine) SetLeverage(symbol string, lever int, mode gateway.MarginMode) error {
	res, err := e.gw.SetLeverage(gateway.LeverageRequest{
		InstID: symbol, MarginMode: mode, Leverage: lever,
	})
	if err != nil {
		metrics.GatewayErrors.WithLabelValues("set_leverage").Inc()
		return err
	}
	if !res.OK() {
		metrics.GatewayErrors.WithLabelValues("set_leverage").Inc()
		e.logger.Error("set leverage rejected",
			zap.String("symbol", symbol),
			zap.Int("lever", lever),
			zap.String("code", res.Code),
			zap.String("msg", res.Msg))
		return fmt.Errorf("set leverage rejected: code=%s msg=%s", res.Code, res.Msg)
	}
	return nil
}

// Pause 暂停持仓驱动的保护单评估；tick 驱动的反转单不受影响。
func (e *Engine) Pause() { e.protect.Pause() }

// Resume 恢复评估。
func (e *Engine) Resume() { e.protect.Resume() }

// Paused 当前暂停状态。
func (e *Engine) Paused() bool { return e.protect.Paused() }

// Close 停止保护单 worker。
func (e *Engine) Close() { e.protect.Close() }
