package gateway

// Side 委托方向（taker 视角）。
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// PosSide 双向持仓模式下的持仓方向。
type PosSide string

const (
	PosLong  PosSide = "long"
	PosShort PosSide = "short"
)

// MarginMode 保证金模式；当前只用全仓。
type MarginMode string

const (
	Cross    MarginMode = "cross"
	Isolated MarginMode = "isolated"
)

// MarketPx 作为 OrderPx 时表示触发后以市价执行。
const MarketPx float64 = -1

// Result 交易所返回的业务结果；Code=="0" 表示成功。
// 网关错误分两层：传输层错误走 error，业务拒单走非零 Code。
type Result struct {
	Code string
	Msg  string
}

// OK 判断业务是否成功。
func (r Result) OK() bool { return r.Code == "0" }

var ResultOK = Result{Code: "0"}

// TriggerOrderRequest 计划委托（trigger/conditional 单）请求。
type TriggerOrderRequest struct {
	InstID     string
	MarginMode MarginMode
	Side       Side
	PosSide    PosSide
	TriggerPx  float64
	Size       float64
	// OrderPx 触发后的委托价；MarketPx 表示市价
	OrderPx float64
	// ClientID 幂等用客户端 ID，可为空
	ClientID string
}

// MarketCloseRequest 市价平仓请求。
type MarketCloseRequest struct {
	InstID     string
	MarginMode MarginMode
	Side       Side
	PosSide    PosSide
	Size       float64
}

// LeverageRequest 调整杠杆请求。
type LeverageRequest struct {
	InstID     string
	MarginMode MarginMode
	Leverage   int
}

// PendingAlgo 在途策略委托单。
type PendingAlgo struct {
	AlgoID  string
	InstID  string
	PosSide PosSide
}

// AlgoCancelBatchMax 每次撤单请求最多携带的 algoId 数（交易所限制）。
const AlgoCancelBatchMax = 10

// Gateway 抽象交易所侧的策略委托接口；真实实现为 OKXRESTClient，
// 测试使用 stub。所有调用都是同步阻塞的远程调用。
type Gateway interface {
	SubmitTriggerOrder(req TriggerOrderRequest) (Result, error)
	SubmitMarketClose(req MarketCloseRequest) (Result, error)
	PendingTriggerOrders(instID string) ([]PendingAlgo, error)
	CancelTriggerOrders(batch []PendingAlgo) (Result, error)
	SetLeverage(req LeverageRequest) (Result, error)
}
