package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"position-guard-go/market"
)

// wsPush OKX ws 推送包装。
type wsPush struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data  json.RawMessage `json:"data"`
	Event string          `json:"event"`
}

type tickerRow struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	Ts     string `json:"ts"`
}

type positionRow struct {
	InstID   string `json:"instId"`
	PosSide  string `json:"posSide"`
	Pos      string `json:"pos"`
	AvgPx    string `json:"avgPx"`
	Lever    string `json:"lever"`
	LiqPx    string `json:"liqPx"`
	UplRatio string `json:"uplRatio"`
}

// ParseTicker 解析 tickers 频道消息，返回最新价 tick 列表。
func ParseTicker(raw json.RawMessage) ([]market.Tick, error) {
	var rows []tickerRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}
	out := make([]market.Tick, 0, len(rows))
	for _, r := range rows {
		last, err := strconv.ParseFloat(r.Last, 64)
		if err != nil {
			continue
		}
		ms, _ := strconv.ParseInt(r.Ts, 10, 64)
		out = append(out, market.Tick{
			Symbol:    r.InstID,
			LastPrice: last,
			Ts:        time.UnixMilli(ms).UTC(),
		})
	}
	return out, nil
}

// ParsePositions 解析 positions 频道消息。交易所可能推送空串字段（如刚平仓
// 后的 liqPx），按 0 处理。
func ParsePositions(raw json.RawMessage) ([]market.Position, error) {
	var rows []positionRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]market.Position, 0, len(rows))
	for _, r := range rows {
		dir := market.Long
		if r.PosSide == "short" {
			dir = market.Short
		}
		out = append(out, market.Position{
			Symbol:     r.InstID,
			Direction:  dir,
			Volume:     parseF(r.Pos),
			EntryPrice: parseF(r.AvgPx),
			Leverage:   parseF(r.Lever),
			LiqPrice:   parseF(r.LiqPx),
			PnlRatio:   parseF(r.UplRatio),
		})
	}
	return out, nil
}

func parseF(s string) float64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
