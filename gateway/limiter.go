package gateway

import (
	"sync"
	"time"
)

// RateLimiter 控制私有接口请求速率，避免触发交易所限流。
type RateLimiter interface {
	Wait()
}

// TokenBucketLimiter 令牌桶限流器。rate 为每秒补充的令牌数，
// burst 为桶容量；桶空时 Wait 阻塞到下一枚令牌可用。
type TokenBucketLimiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	refill time.Time
}

func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketLimiter{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		refill: time.Now(),
	}
}

// Wait 取走一枚令牌，必要时阻塞。
func (l *TokenBucketLimiter) Wait() {
	if d := l.reserve(); d > 0 {
		time.Sleep(d)
	}
}

// reserve 扣一枚令牌并返回需要等待的时长。
func (l *TokenBucketLimiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.tokens += now.Sub(l.refill).Seconds() * l.rate
	l.refill = now
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.tokens--
	if l.tokens >= 0 {
		return 0
	}
	return time.Duration(-l.tokens / l.rate * float64(time.Second))
}
