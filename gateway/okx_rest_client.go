package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OKXRESTClient OKX v5 私有接口客户端；HTTPClient 可注入 httptest，
// 默认不发起真实网络调用。
type OKXRESTClient struct {
	BaseURL    string
	APIKey     string
	Secret     string
	Passphrase string
	HTTPClient *http.Client
	Limiter    RateLimiter
	// Simulated 为 true 时带上模拟盘 header
	Simulated bool
}

type restEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type algoOrderBody struct {
	InstID      string `json:"instId"`
	TdMode      string `json:"tdMode"`
	Side        string `json:"side"`
	PosSide     string `json:"posSide,omitempty"`
	OrdType     string `json:"ordType"`
	TriggerPx   string `json:"triggerPx"`
	Sz          string `json:"sz"`
	OrderPx     string `json:"orderPx"`
	AlgoClOrdID string `json:"algoClOrdId,omitempty"`
}

type marketOrderBody struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`
	PosSide string `json:"posSide,omitempty"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
}

type leverageBody struct {
	InstID  string `json:"instId"`
	Lever   string `json:"lever"`
	MgnMode string `json:"mgnMode"`
}

type pendingAlgoRow struct {
	AlgoID  string `json:"algoId"`
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
}

type cancelAlgoRow struct {
	AlgoID string `json:"algoId"`
	InstID string `json:"instId"`
}

// SubmitTriggerOrder 下计划委托单 /api/v5/trade/order-algo。
func (c *OKXRESTClient) SubmitTriggerOrder(req TriggerOrderRequest) (Result, error) {
	clID := req.ClientID
	if clID == "" {
		clID = newAlgoClientID()
	}
	body := algoOrderBody{
		InstID:      req.InstID,
		TdMode:      string(req.MarginMode),
		Side:        string(req.Side),
		PosSide:     string(req.PosSide),
		OrdType:     "trigger",
		TriggerPx:   formatPx(req.TriggerPx),
		Sz:          formatSz(req.Size),
		OrderPx:     formatPx(req.OrderPx),
		AlgoClOrdID: clID,
	}
	return c.post("/api/v5/trade/order-algo", body)
}

// SubmitMarketClose 市价平仓 /api/v5/trade/order。
func (c *OKXRESTClient) SubmitMarketClose(req MarketCloseRequest) (Result, error) {
	body := marketOrderBody{
		InstID:  req.InstID,
		TdMode:  string(req.MarginMode),
		Side:    string(req.Side),
		PosSide: string(req.PosSide),
		OrdType: "market",
		Sz:      formatSz(req.Size),
	}
	return c.post("/api/v5/trade/order", body)
}

// PendingTriggerOrders 查询在途策略委托 /api/v5/trade/orders-algo-pending。
// instID 为空表示全部。
func (c *OKXRESTClient) PendingTriggerOrders(instID string) ([]PendingAlgo, error) {
	path := "/api/v5/trade/orders-algo-pending?ordType=trigger"
	if instID != "" {
		path += "&instId=" + instID
	}
	res, raw, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, fmt.Errorf("pending algos code %s: %s", res.Code, res.Msg)
	}
	var rows []pendingAlgoRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode pending algos: %w", err)
	}
	out := make([]PendingAlgo, 0, len(rows))
	for _, r := range rows {
		out = append(out, PendingAlgo{
			AlgoID:  r.AlgoID,
			InstID:  r.InstID,
			PosSide: PosSide(r.PosSide),
		})
	}
	return out, nil
}

// CancelTriggerOrders 批量撤销策略委托 /api/v5/trade/cancel-algos。
// 单批不得超过 AlgoCancelBatchMax，分批与节流由调用方负责。
func (c *OKXRESTClient) CancelTriggerOrders(batch []PendingAlgo) (Result, error) {
	if len(batch) == 0 {
		return ResultOK, nil
	}
	if len(batch) > AlgoCancelBatchMax {
		return Result{}, fmt.Errorf("cancel batch %d exceeds max %d", len(batch), AlgoCancelBatchMax)
	}
	rows := make([]cancelAlgoRow, 0, len(batch))
	for _, a := range batch {
		rows = append(rows, cancelAlgoRow{AlgoID: a.AlgoID, InstID: a.InstID})
	}
	return c.post("/api/v5/trade/cancel-algos", rows)
}

// SetLeverage 调整杠杆 /api/v5/account/set-leverage。
func (c *OKXRESTClient) SetLeverage(req LeverageRequest) (Result, error) {
	body := leverageBody{
		InstID:  req.InstID,
		Lever:   strconv.Itoa(req.Leverage),
		MgnMode: string(req.MarginMode),
	}
	return c.post("/api/v5/account/set-leverage", body)
}

func (c *OKXRESTClient) post(path string, body interface{}) (Result, error) {
	res, _, err := c.do(http.MethodPost, path, body)
	return res, err
}

func (c *OKXRESTClient) do(method, path string, body interface{}) (Result, json.RawMessage, error) {
	if c == nil || c.HTTPClient == nil {
		return Result{}, nil, fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		c.Limiter.Wait()
	}
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return Result{}, nil, fmt.Errorf("encode body: %w", err)
		}
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Result{}, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", Sign(ts, method, path, string(payload), c.Secret))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.Passphrase)
	if c.Simulated {
		req.Header.Set("x-simulated-trading", "1")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Result{}, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Result{}, nil, fmt.Errorf("%s status %d", path, resp.StatusCode)
	}
	var env restEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Result{}, nil, fmt.Errorf("decode response: %w", err)
	}
	return Result{Code: env.Code, Msg: env.Msg}, env.Data, nil
}

// Sign 按 OKX v5 规范生成签名：base64(hmac-sha256(ts+method+path+body))。
func Sign(ts, method, path, body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// newAlgoClientID 生成 algoClOrdId；OKX 只接受字母数字，去掉 uuid 连字符。
func newAlgoClientID() string {
	return "pg" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func formatPx(px float64) string {
	if px == MarketPx {
		return "-1"
	}
	return strconv.FormatFloat(px, 'f', -1, 64)
}

func formatSz(sz float64) string {
	return strconv.FormatFloat(sz, 'f', -1, 64)
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client；超时视为网关失败。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
