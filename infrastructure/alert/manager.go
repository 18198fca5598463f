// Package alert 把保护单引擎的关键事件（保护性平仓、反转触发、网关拒单）
// 推送到外部通道，带按事件+symbol 的限流。
package alert

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"position-guard-go/monitor/logschema"
)

// Severity 告警级别。
type Severity string

const (
	SevInfo     Severity = "INFO"
	SevWarning  Severity = "WARNING"
	SevError    Severity = "ERROR"
	SevCritical Severity = "CRITICAL"
)

// Event 一条告警。Kind 对应 logschema 中登记的事件名，
// Fields 按其 schema 校验。
type Event struct {
	Severity  Severity
	Kind      string
	Symbol    string
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel 告警投递通道。
type Channel interface {
	Send(ev Event) error
	Name() string
}

// Throttler 按 key 限流，同一事件在 interval 内只放行一次。
type Throttler struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
}

func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow 检查该 key 是否放行；放行即刷新时间戳。
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.lastSent[key]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.lastSent[key] = now
	return true
}

// Reset 清掉某个 key 的限流记录。
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, key)
}

// Manager 多通道告警管理器。
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	throttle *Throttler
	logger   *zap.Logger
}

// NewManager 创建管理器；throttleInterval<=0 时不限流。
func NewManager(channels []Channel, throttleInterval time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	var th *Throttler
	if throttleInterval > 0 {
		th = NewThrottler(throttleInterval)
	}
	return &Manager{channels: channels, throttle: th, logger: logger}
}

// AddChannel 追加通道。
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// Notify 发送事件到所有通道。limiter key 为 kind:symbol，
// CRITICAL 不限流。字段缺失只记日志，事件照发。
func (m *Manager) Notify(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if err := logschema.Validate(ev.Kind, ev.Fields); err != nil {
		m.logger.Warn("alert fields incomplete",
			zap.String("kind", ev.Kind), zap.Error(err))
	}
	if ev.Severity != SevCritical && m.throttle != nil {
		if !m.throttle.Allow(fmt.Sprintf("%s:%s", ev.Kind, ev.Symbol)) {
			return
		}
	}
	m.mu.RLock()
	channels := m.channels
	m.mu.RUnlock()
	for _, ch := range channels {
		if err := ch.Send(ev); err != nil {
			m.logger.Error("alert channel send failed",
				zap.String("channel", ch.Name()),
				zap.String("kind", ev.Kind),
				zap.Error(err))
		}
	}
}
