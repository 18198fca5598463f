package protect

import (
	"sync"

	"go.uber.org/zap"

	"position-guard-go/gateway"
	"position-guard-go/infrastructure/alert"
	"position-guard-go/market"
	"position-guard-go/metrics"
	"position-guard-go/riskcfg"
)

type jobKind int

const (
	// jobEvaluate 持仓事件驱动的完整评估
	jobEvaluate jobKind = iota
	// jobRefresh 配置变更/手动锁仓触发的保护单重下
	jobRefresh
)

type job struct {
	kind jobKind
	pos  market.Position
	// useTickPrice 用当前市价替代开仓价做锚（手动锁仓）
	useTickPrice bool
	offset       float64
	// cancelFirst 重下前先撤掉该持仓方向的旧保护单
	cancelFirst bool
	// forceRefresh 量没变也要重下保护单；合并吞掉的刷新任务靠它存活
	forceRefresh bool
}

// mergeJobs 新任务覆盖邮箱里的旧任务时合并两者：持仓快照取最新的，
// 刷新/撤单意图保留。没有这一步，配置变更触发的刷新会被随后到达的
// 未变化快照悄悄吃掉，旧止损价一直挂在交易所。
func mergeJobs(old, next job) job {
	merged := next
	if next.kind == jobRefresh && old.kind == jobEvaluate {
		merged.kind = jobEvaluate
		merged.pos = old.pos
	}
	merged.forceRefresh = old.forceRefresh || next.forceRefresh ||
		old.kind == jobRefresh || next.kind == jobRefresh
	merged.cancelFirst = old.cancelFirst || next.cancelFirst
	merged.useTickPrice = old.useTickPrice || next.useTickPrice
	if merged.offset == 0 {
		merged.offset = old.offset
	}
	return merged
}

// symbolWorker 单 symbol 串行执行网关动作。邮箱只存一条任务，
// 新任务与旧任务合并，保证同 symbol 至多一个在途保护单动作。
type symbolWorker struct {
	symbol string
	m      *Manager

	mu      sync.Mutex
	pending *job

	notify   chan struct{}
	stopChan chan struct{}
	done     chan struct{}
}

func newSymbolWorker(symbol string, m *Manager) *symbolWorker {
	w := &symbolWorker{
		symbol:   symbol,
		m:        m,
		notify:   make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *symbolWorker) submit(j job) {
	w.mu.Lock()
	if w.pending != nil {
		j = mergeJobs(*w.pending, j)
	}
	w.pending = &j
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *symbolWorker) stop() {
	close(w.stopChan)
	<-w.done
}

func (w *symbolWorker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stopChan:
			return
		case <-w.notify:
		}
		w.mu.Lock()
		j := w.pending
		w.pending = nil
		w.mu.Unlock()
		if j == nil {
			continue
		}
		w.m.run(w.symbol, *j)
	}
}

// run 在 worker goroutine 内执行任务；不持有任何 Manager 锁，
// 网关阻塞只影响本 symbol。
func (m *Manager) run(symbol string, j job) {
	switch j.kind {
	case jobEvaluate:
		m.evaluate(j)
	case jobRefresh:
		pos, ok := m.cache.LastPosition(symbol)
		if !ok {
			m.logger.Debug("refresh skipped, no cached position", zap.String("symbol", symbol))
			return
		}
		m.refreshProtection(pos, j)
	}
}

// evaluate 持仓事件主流程：量变化或带刷新意图才重下保护单，然后做
// 阈值检查，最后落缓存。缓存更新与决策同在 worker 内，避免读到中间状态。
func (m *Manager) evaluate(j job) {
	pos := j.pos
	last, seen := m.cache.LastPosition(pos.Symbol)
	if !seen || pos.Volume != last.Volume || j.forceRefresh {
		j.cancelFirst = true
		m.refreshProtection(pos, j)
	}
	if pos.Volume > 0 {
		m.checkThresholds(pos)
	}
	m.cache.PutPosition(pos)
}

// refreshProtection 撤旧单、解析配置、计算止损触发价并提交。
func (m *Manager) refreshProtection(pos market.Position, j job) {
	closeSide, posSide := closeMapping(pos.Direction)
	if j.cancelFirst {
		m.cancelSide(pos.Symbol, posSide)
	}
	if pos.Flat() {
		return
	}
	cfg, installed := m.store.Ensure(pos.Symbol, m.resolveDefaults())
	if installed {
		// 新 symbol：补订阅行情，后续阈值检查需要最新价
		if m.sub != nil {
			if err := m.sub.SubscribeTicker(pos.Symbol); err != nil {
				m.logger.Warn("subscribe ticker failed",
					zap.String("symbol", pos.Symbol), zap.Error(err))
			}
		}
	}

	trigger, ok := m.stopLossTrigger(pos, cfg.StopLoss, j)
	if !ok {
		return
	}
	m.submitTrigger(pos, closeSide, posSide, trigger, "stop_loss")

	// 非追踪止盈模式下同时挂一张固定止盈触发单
	if !m.opts.TriggerTakeProfit && cfg.TakeProfit != 0 {
		o := m.opts.GlobalOffset
		var tpTrigger float64
		if pos.Direction == market.Short {
			tpTrigger = pos.EntryPrice * (1 - (cfg.TakeProfit-o)/pos.Leverage)
		} else {
			tpTrigger = pos.EntryPrice * (1 + (cfg.TakeProfit+o)/pos.Leverage)
		}
		m.submitTrigger(pos, closeSide, posSide, tpTrigger, "take_profit")
	}
}

// stopLossTrigger 计算止损触发价。标准模式锚定开仓价，锁仓模式
// 锚定最新市价；两者都向强平价方向收敛时夹到强平价附近。
func (m *Manager) stopLossTrigger(pos market.Position, sl float64, j job) (float64, bool) {
	if pos.Leverage <= 0 {
		m.logger.Warn("position without leverage, skip protection",
			zap.String("symbol", pos.Symbol))
		return 0, false
	}
	o := m.opts.GlobalOffset
	liq := pos.LiqPrice
	var trigger float64
	if pos.Direction == market.Short {
		if j.useTickPrice {
			last := m.cache.LastPrice(pos.Symbol)
			if last == 0 {
				m.logger.Debug("no tick price yet, skip lock refresh",
					zap.String("symbol", pos.Symbol))
				return 0, false
			}
			trigger = last * (1 + j.offset/pos.Leverage)
		} else {
			trigger = pos.EntryPrice * (1 - (sl-o)/pos.Leverage)
		}
		if liq > 0 && trigger >= liq {
			trigger = liq * (1 - o/pos.Leverage)
		}
	} else {
		if j.useTickPrice {
			last := m.cache.LastPrice(pos.Symbol)
			if last == 0 {
				m.logger.Debug("no tick price yet, skip lock refresh",
					zap.String("symbol", pos.Symbol))
				return 0, false
			}
			trigger = last * (1 - j.offset/pos.Leverage)
		} else {
			trigger = pos.EntryPrice * (1 + (sl+o)/pos.Leverage)
		}
		if liq > 0 && trigger <= liq {
			trigger = liq * (1 + o/pos.Leverage)
		}
	}
	return trigger, true
}

// checkThresholds 阈值检查：浮亏破止损线直接市价平；浮盈破止盈线
// 按模式追踪触发或市价平。
func (m *Manager) checkThresholds(pos market.Position) {
	cfg, ok := m.store.Get(pos.Symbol)
	if !ok {
		return
	}
	if cfg.StopLoss != 0 && pos.PnlRatio < cfg.StopLoss {
		m.logger.Warn("stop loss threshold crossed, closing",
			zap.String("symbol", pos.Symbol),
			zap.Float64("pnlRatio", pos.PnlRatio),
			zap.Float64("stopLoss", cfg.StopLoss))
		m.marketClose(pos, "stop_loss")
		return
	}
	if cfg.TakeProfit != 0 && pos.PnlRatio > cfg.TakeProfit {
		if !m.opts.TriggerTakeProfit {
			m.logger.Info("take profit threshold crossed, closing",
				zap.String("symbol", pos.Symbol),
				zap.Float64("pnlRatio", pos.PnlRatio))
			m.marketClose(pos, "take_profit")
			return
		}
		m.trailingTakeProfit(pos)
	}
}

// trailingTakeProfit 追踪止盈：以最新价为锚；浮盈超过 MaxTakeProfit
// 后改锚开仓价，至少锁住 MaxTakeProfit 的收益。
func (m *Manager) trailingTakeProfit(pos market.Position) {
	last := m.cache.LastPrice(pos.Symbol)
	if last == 0 {
		m.logger.Debug("no tick price yet, skip take profit cycle",
			zap.String("symbol", pos.Symbol))
		return
	}
	o := m.opts.GlobalOffset
	var trigger float64
	if pos.Direction == market.Long {
		trigger = last * (1 - o/pos.Leverage)
		if pos.PnlRatio > m.opts.MaxTakeProfit {
			trigger = pos.EntryPrice * (1 + (m.opts.MaxTakeProfit-o)/pos.Leverage)
		}
	} else {
		trigger = last * (1 + o/pos.Leverage)
		if pos.PnlRatio > m.opts.MaxTakeProfit {
			trigger = pos.EntryPrice * (1 - (m.opts.MaxTakeProfit+o)/pos.Leverage)
		}
	}
	closeSide, posSide := closeMapping(pos.Direction)
	if m.opts.CancelOnRefresh {
		m.cancelSide(pos.Symbol, posSide)
	}
	m.submitTrigger(pos, closeSide, posSide, trigger, "take_profit")
}

func (m *Manager) submitTrigger(pos market.Position, side gateway.Side, posSide gateway.PosSide, trigger float64, kind string) {
	req := gateway.TriggerOrderRequest{
		InstID:     pos.Symbol,
		MarginMode: m.opts.MarginMode,
		Side:       side,
		PosSide:    posSide,
		TriggerPx:  trigger,
		Size:       pos.Volume,
		OrderPx:    gateway.MarketPx,
	}
	res, err := m.gw.SubmitTriggerOrder(req)
	if err != nil {
		metrics.GatewayErrors.WithLabelValues("submit_trigger").Inc()
		m.logger.Error("submit protective order failed",
			zap.String("symbol", pos.Symbol),
			zap.String("kind", kind),
			zap.Float64("triggerPx", trigger),
			zap.Float64("size", pos.Volume),
			zap.Error(err))
		return
	}
	if !res.OK() {
		metrics.GatewayErrors.WithLabelValues("submit_trigger").Inc()
		m.logger.Error("protective order rejected",
			zap.String("symbol", pos.Symbol),
			zap.String("kind", kind),
			zap.Float64("triggerPx", trigger),
			zap.Float64("size", pos.Volume),
			zap.String("code", res.Code),
			zap.String("msg", res.Msg))
		return
	}
	metrics.ProtectiveOrdersSubmitted.WithLabelValues(pos.Symbol, kind).Inc()
	m.logger.Info("protective order placed",
		zap.String("symbol", pos.Symbol),
		zap.String("kind", kind),
		zap.String("side", string(side)),
		zap.Float64("triggerPx", trigger),
		zap.Float64("size", pos.Volume))
}

func (m *Manager) marketClose(pos market.Position, reason string) {
	closeSide, posSide := closeMapping(pos.Direction)
	res, err := m.gw.SubmitMarketClose(gateway.MarketCloseRequest{
		InstID:     pos.Symbol,
		MarginMode: m.opts.MarginMode,
		Side:       closeSide,
		PosSide:    posSide,
		Size:       pos.Volume,
	})
	if err != nil || !res.OK() {
		metrics.GatewayErrors.WithLabelValues("market_close").Inc()
		m.logger.Error("market close failed",
			zap.String("symbol", pos.Symbol),
			zap.String("reason", reason),
			zap.String("code", res.Code),
			zap.Error(err))
		return
	}
	metrics.MarketCloses.WithLabelValues(pos.Symbol, reason).Inc()
	if m.alerts != nil {
		sev := alert.SevInfo
		if reason == "stop_loss" {
			sev = alert.SevWarning
		}
		m.alerts.Notify(alert.Event{
			Severity: sev,
			Kind:     "protective_close",
			Symbol:   pos.Symbol,
			Message:  "protective market close",
			Fields: map[string]interface{}{
				"symbol":   pos.Symbol,
				"reason":   reason,
				"pnlRatio": pos.PnlRatio,
			},
		})
	}
}

// cancelSide 撤掉 symbol 上指定持仓方向的在途保护单。
// 交易所限制单批 10 条，批间用 Clock 节流。
func (m *Manager) cancelSide(symbol string, posSide gateway.PosSide) {
	pending, err := m.gw.PendingTriggerOrders(symbol)
	if err != nil {
		metrics.GatewayErrors.WithLabelValues("query_pending").Inc()
		m.logger.Error("query pending algos failed",
			zap.String("symbol", symbol), zap.Error(err))
		return
	}
	filtered := pending[:0:0]
	for _, a := range pending {
		if posSide == "" || a.PosSide == posSide {
			filtered = append(filtered, a)
		}
	}
	for i := 0; i < len(filtered); i += gateway.AlgoCancelBatchMax {
		end := i + gateway.AlgoCancelBatchMax
		if end > len(filtered) {
			end = len(filtered)
		}
		res, err := m.gw.CancelTriggerOrders(filtered[i:end])
		metrics.CancelBatches.Inc()
		if err != nil || !res.OK() {
			metrics.GatewayErrors.WithLabelValues("cancel_algos").Inc()
			m.logger.Error("cancel batch failed",
				zap.String("symbol", symbol),
				zap.Int("batch", i/gateway.AlgoCancelBatchMax),
				zap.Error(err))
			continue
		}
		m.clock.Sleep(m.opts.CancelBatchPause)
	}
}

func (m *Manager) resolveDefaults() riskcfg.Config {
	return riskcfg.Config{
		StopLoss:   m.opts.DefaultStopLoss,
		TakeProfit: m.opts.DefaultTakeProfit,
	}
}

func closeMapping(dir market.Direction) (gateway.Side, gateway.PosSide) {
	if dir == market.Long {
		return gateway.Sell, gateway.PosLong
	}
	return gateway.Buy, gateway.PosShort
}
