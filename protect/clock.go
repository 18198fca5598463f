package protect

import "time"

// Clock 抽象时间与休眠便于测试（撤单批次间隔不用真的 sleep）。
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock 默认时钟。
var SystemClock Clock = realClock{}
