// Package riskcfg 维护每个 symbol 的止损/止盈比例配置。
package riskcfg

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Config 单 symbol 风控参数。StopLoss 为负数，TakeProfit 为正数，
// 均为相对保证金的收益率阈值。
type Config struct {
	StopLoss   float64
	TakeProfit float64
}

var ErrInvalidMultiplier = errors.New("multiplier must be positive")

// Refresher 在配置变更后重下保护单；由 protect.Manager 实现。
type Refresher interface {
	RefreshSymbol(symbol string)
	RefreshAll()
}

// Store 并发安全的 per-symbol 配置表。条目懒创建：首个保护单
// 流程会用引擎默认值 Ensure 进来，之后存活到进程退出。
type Store struct {
	mu        sync.RWMutex
	configs   map[string]Config
	refresher Refresher
}

func NewStore() *Store {
	return &Store{configs: make(map[string]Config)}
}

// SetRefresher 绑定保护单刷新器；允许为 nil（测试场景）。
func (s *Store) SetRefresher(r Refresher) {
	s.mu.Lock()
	s.refresher = r
	s.mu.Unlock()
}

// Get 返回 symbol 的配置；未配置时第二个返回值为 false。
func (s *Store) Get(symbol string) (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[symbol]
	return c, ok
}

// Ensure 若 symbol 未配置则写入 def，返回生效配置和是否新装。
func (s *Store) Ensure(symbol string, def Config) (Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.configs[symbol]; ok {
		return c, false
	}
	s.configs[symbol] = def
	return def, true
}

// SetStopLoss 更新单个 symbol 的止损比例并触发保护单刷新。
func (s *Store) SetStopLoss(symbol string, sl float64) {
	s.mu.Lock()
	c := s.configs[symbol]
	c.StopLoss = sl
	s.configs[symbol] = c
	r := s.refresher
	s.mu.Unlock()
	if r != nil {
		r.RefreshSymbol(symbol)
	}
}

// SetTakeProfit 更新单个 symbol 的止盈比例并触发保护单刷新。
func (s *Store) SetTakeProfit(symbol string, tp float64) {
	s.mu.Lock()
	c := s.configs[symbol]
	c.TakeProfit = tp
	s.configs[symbol] = c
	r := s.refresher
	s.mu.Unlock()
	if r != nil {
		r.RefreshSymbol(symbol)
	}
}

// SetAllStopLoss 把止损比例应用到所有已配置 symbol。
func (s *Store) SetAllStopLoss(sl float64) {
	s.mu.Lock()
	for sym, c := range s.configs {
		c.StopLoss = sl
		s.configs[sym] = c
	}
	r := s.refresher
	s.mu.Unlock()
	if r != nil {
		r.RefreshAll()
	}
}

// SetAllTakeProfit 把止盈比例应用到所有已配置 symbol。
func (s *Store) SetAllTakeProfit(tp float64) {
	s.mu.Lock()
	for sym, c := range s.configs {
		c.TakeProfit = tp
		s.configs[sym] = c
	}
	r := s.refresher
	s.mu.Unlock()
	if r != nil {
		r.RefreshAll()
	}
}

// AdjustTakeProfit 设置止盈 = |止损| × mul；symbol 为空表示所有
// 已配置 symbol。mul 必须为正，否则不改动任何状态。
func (s *Store) AdjustTakeProfit(symbol string, mul float64) error {
	if mul <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidMultiplier, mul)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if symbol != "" {
		c, ok := s.configs[symbol]
		if !ok {
			return nil
		}
		c.TakeProfit = math.Abs(c.StopLoss) * mul
		s.configs[symbol] = c
		return nil
	}
	for sym, c := range s.configs {
		c.TakeProfit = math.Abs(c.StopLoss) * mul
		s.configs[sym] = c
	}
	return nil
}

// Symbols 返回所有已配置 symbol。
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.configs))
	for sym := range s.configs {
		out = append(out, sym)
	}
	return out
}
