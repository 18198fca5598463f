package market

import "time"

// Direction 持仓方向。
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Tick 最新成交价快照，由 ws 行情推送产生。
type Tick struct {
	Symbol    string
	LastPrice float64
	Ts        time.Time
}

// Position 合约持仓快照；Volume==0 表示已平。
type Position struct {
	Symbol    string
	Direction Direction
	Volume    float64
	// EntryPrice 开仓均价
	EntryPrice float64
	Leverage   float64
	// LiqPrice 强平价格，交易所推送
	LiqPrice float64
	// PnlRatio 未实现收益率（相对保证金）
	PnlRatio float64
}

// Flat 是否无持仓。
func (p Position) Flat() bool { return p.Volume == 0 }
