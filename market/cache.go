package market

import "sync"

// Cache 维护每个 symbol 的最新 tick / position 快照。
// 事件处理与策略线程共享，读写都加锁。
type Cache struct {
	mu        sync.RWMutex
	ticks     map[string]Tick
	positions map[string]Position
}

func NewCache() *Cache {
	return &Cache{
		ticks:     make(map[string]Tick),
		positions: make(map[string]Position),
	}
}

// PutTick 更新最新价。
func (c *Cache) PutTick(t Tick) {
	c.mu.Lock()
	c.ticks[t.Symbol] = t
	c.mu.Unlock()
}

// LastTick 返回最近一次 tick；无数据时第二个返回值为 false。
func (c *Cache) LastTick(symbol string) (Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.ticks[symbol]
	return t, ok
}

// LastPrice 返回最新价，无数据返回 0。
func (c *Cache) LastPrice(symbol string) float64 {
	t, ok := c.LastTick(symbol)
	if !ok {
		return 0
	}
	return t.LastPrice
}

// PutPosition 更新持仓快照。
func (c *Cache) PutPosition(p Position) {
	c.mu.Lock()
	c.positions[p.Symbol] = p
	c.mu.Unlock()
}

// LastPosition 返回最近一次持仓快照。
func (c *Cache) LastPosition(symbol string) (Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[symbol]
	return p, ok
}

// Positions 返回所有已缓存持仓的拷贝。
func (c *Cache) Positions() []Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, p)
	}
	return out
}

