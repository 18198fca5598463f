// Package protect 在每次持仓变化后维护交易所侧的止损/止盈保护单。
package protect

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"position-guard-go/gateway"
	"position-guard-go/infrastructure/alert"
	"position-guard-go/market"
	"position-guard-go/metrics"
	"position-guard-go/riskcfg"
)

// Options 引擎级保护单参数，构造时读取，运行期只读。
type Options struct {
	// DefaultStopLoss 未配置 symbol 的默认止损比例（负数）
	DefaultStopLoss float64
	// DefaultTakeProfit 未配置 symbol 的默认止盈比例（正数）
	DefaultTakeProfit float64
	// GlobalOffset 全局价格偏移，折算进触发价公式
	GlobalOffset float64
	// MaxTakeProfit 止盈封顶比例；浮盈超过后触发价锚定到开仓价锁住该收益
	MaxTakeProfit float64
	// TriggerTakeProfit true 用追踪触发单止盈，false 到阈值直接市价平
	TriggerTakeProfit bool
	// CancelOnRefresh 重下止盈触发单前先撤旧单，避免堆单
	CancelOnRefresh bool
	MarginMode      gateway.MarginMode
	// CancelBatchPause 批量撤单之间的间隔
	CancelBatchPause time.Duration
}

// DefaultOptions 与线上引擎一致的默认参数。
func DefaultOptions() Options {
	return Options{
		DefaultStopLoss:   -0.35,
		DefaultTakeProfit: 1.55,
		GlobalOffset:      0.1,
		MaxTakeProfit:     1,
		TriggerTakeProfit: true,
		CancelOnRefresh:   true,
		MarginMode:        gateway.Cross,
		CancelBatchPause:  100 * time.Millisecond,
	}
}

// Subscriber 为新出现的 symbol 订阅行情；由 ws 客户端实现。
type Subscriber interface {
	SubscribeTicker(instID string) error
}

// Alerter 接收保护性平仓等关键事件，可选注入。
type Alerter interface {
	Notify(ev alert.Event)
}

// Manager 保护单管理器。每个 symbol 一个 worker goroutine，
// 邮箱只保留最新一条任务：同一 symbol 任何时刻至多一个在途
// 网关动作，后到的持仓快照合并成最新状态。
type Manager struct {
	opts   Options
	gw     gateway.Gateway
	store  *riskcfg.Store
	cache  *market.Cache
	sub    Subscriber
	alerts Alerter
	logger *zap.Logger
	clock  Clock

	paused atomic.Bool

	mu      sync.Mutex
	workers map[string]*symbolWorker
	closed  bool
}

func NewManager(opts Options, gw gateway.Gateway, store *riskcfg.Store, cache *market.Cache, sub Subscriber, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CancelBatchPause <= 0 {
		opts.CancelBatchPause = 100 * time.Millisecond
	}
	return &Manager{
		opts:    opts,
		gw:      gw,
		store:   store,
		cache:   cache,
		sub:     sub,
		logger:  logger,
		clock:   SystemClock,
		workers: make(map[string]*symbolWorker),
	}
}

// SetClock 注入测试时钟；需在首次事件前调用。
func (m *Manager) SetClock(c Clock) { m.clock = c }

// SetAlerter 注入告警管理器；需在首次事件前调用。
func (m *Manager) SetAlerter(a Alerter) { m.alerts = a }

// OnPosition 持仓事件入口。暂停时只更新缓存，不做保护单评估。
func (m *Manager) OnPosition(pos market.Position) {
	if m.paused.Load() {
		m.cache.PutPosition(pos)
		return
	}
	m.enqueue(pos.Symbol, job{kind: jobEvaluate, pos: pos})
}

// RefreshSymbol 实现 riskcfg.Refresher：配置变更后重下该 symbol 的保护单。
func (m *Manager) RefreshSymbol(symbol string) {
	m.enqueue(symbol, job{kind: jobRefresh, cancelFirst: true})
}

// RefreshAll 对所有已缓存持仓重下保护单。
func (m *Manager) RefreshAll() {
	for _, pos := range m.cache.Positions() {
		m.RefreshSymbol(pos.Symbol)
	}
}

// LockPositions 手动锁仓：以当前市价为锚重下保护单，offset<=0 时用全局偏移。
// symbol 为空表示所有已缓存持仓。不先撤旧单。
func (m *Manager) LockPositions(symbol string, offset float64) {
	if offset <= 0 {
		offset = m.opts.GlobalOffset
	}
	for _, pos := range m.cache.Positions() {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		m.enqueue(pos.Symbol, job{kind: jobRefresh, useTickPrice: true, offset: offset})
	}
}

// Pause 暂停持仓驱动的保护单评估；幂等。tick 驱动的反转单不受影响。
func (m *Manager) Pause() {
	if m.paused.CompareAndSwap(false, true) {
		metrics.EnginePaused.Set(1)
		m.logger.Info("position protection paused")
	}
}

// Resume 恢复评估；幂等。
func (m *Manager) Resume() {
	if m.paused.CompareAndSwap(true, false) {
		metrics.EnginePaused.Set(0)
		m.logger.Info("position protection resumed")
	}
}

// Paused 返回当前暂停状态。
func (m *Manager) Paused() bool { return m.paused.Load() }

// Close 停止所有 worker。
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	workers := make([]*symbolWorker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()
	for _, w := range workers {
		w.stop()
	}
}

func (m *Manager) enqueue(symbol string, j job) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	w, ok := m.workers[symbol]
	if !ok {
		w = newSymbolWorker(symbol, m)
		m.workers[symbol] = w
	}
	m.mu.Unlock()
	w.submit(j)
}
