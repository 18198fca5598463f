package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"position-guard-go/market"
)

const (
	OKXPublicWSEndpoint  = "wss://ws.okx.com:8443/ws/v5/public"
	OKXPrivateWSEndpoint = "wss://ws.okx.com:8443/ws/v5/private"
)

// WSHandler 接收解析后的行情/账户事件；由 engine 实现。
// 回调在 ws 读取 goroutine 内串行调用，一次一个事件。
type WSHandler interface {
	OnTick(t market.Tick)
	OnPosition(p market.Position)
	OnOrder(raw []byte)
	OnTrade(raw []byte)
}

// OKXWSClient 连接 OKX v5 websocket 并把推送转成类型化事件。
// 公有端点订阅 tickers，私有端点登录后订阅 positions/orders。
type OKXWSClient struct {
	Endpoint   string
	APIKey     string
	Secret     string
	Passphrase string
	Dialer     *websocket.Dialer
	Logger     *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	tickers  []string
	private  bool
	stopChan chan struct{}
}

func NewOKXWSClient(endpoint string, logger *zap.Logger) *OKXWSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OKXWSClient{
		Endpoint: endpoint,
		Dialer:   websocket.DefaultDialer,
		Logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// SubscribeTicker 登记 tickers 订阅。连接未建立时先记下，建连后统一
// 发送；已连接则立刻补发订阅（保护单遇到新 symbol 时的动态订阅）。
func (c *OKXWSClient) SubscribeTicker(instID string) error {
	if instID == "" {
		return fmt.Errorf("instId required")
	}
	c.mu.Lock()
	for _, t := range c.tickers {
		if t == instID {
			c.mu.Unlock()
			return nil
		}
	}
	c.tickers = append(c.tickers, instID)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.WriteJSON(wsOp{
		Op:   "subscribe",
		Args: []map[string]any{{"channel": "tickers", "instId": instID}},
	})
}

// SubscribePrivate 登记 positions/orders 订阅，需要 API 凭证。
func (c *OKXWSClient) SubscribePrivate() {
	c.private = true
}

type wsOp struct {
	Op   string           `json:"op"`
	Args []map[string]any `json:"args"`
}

// Run 建立连接、登录、订阅并循环读取，阻塞直到出错或 Stop。
// 重连由 RunWithReconnect 负责。
func (c *OKXWSClient) Run(handler WSHandler) error {
	conn, _, err := c.Dialer.Dial(c.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.Endpoint, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	if c.private {
		if err := c.login(conn); err != nil {
			return err
		}
	}
	if err := c.subscribe(conn); err != nil {
		return err
	}

	for {
		select {
		case <-c.stopChan:
			return nil
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(msg, handler)
	}
}

// RunWithReconnect 断线后指数退避重连，直到 Stop。
func (c *OKXWSClient) RunWithReconnect(handler WSHandler) {
	backoff := time.Second
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}
		err := c.Run(handler)
		if err == nil {
			return
		}
		c.Logger.Warn("ws disconnected, reconnecting",
			zap.String("endpoint", c.Endpoint),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-c.stopChan:
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Stop 关闭读取循环。
func (c *OKXWSClient) Stop() {
	close(c.stopChan)
}

func (c *OKXWSClient) login(conn *websocket.Conn) error {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	op := wsOp{
		Op: "login",
		Args: []map[string]any{{
			"apiKey":     c.APIKey,
			"passphrase": c.Passphrase,
			"timestamp":  ts,
			"sign":       Sign(ts, "GET", "/users/self/verify", "", c.Secret),
		}},
	}
	return conn.WriteJSON(op)
}

func (c *OKXWSClient) subscribe(conn *websocket.Conn) error {
	c.mu.Lock()
	tickers := make([]string, len(c.tickers))
	copy(tickers, c.tickers)
	c.mu.Unlock()
	args := make([]map[string]any, 0, len(tickers)+2)
	for _, inst := range tickers {
		args = append(args, map[string]any{"channel": "tickers", "instId": inst})
	}
	if c.private {
		args = append(args,
			map[string]any{"channel": "positions", "instType": "SWAP"},
			map[string]any{"channel": "orders", "instType": "SWAP"},
		)
	}
	if len(args) == 0 {
		return fmt.Errorf("no channels subscribed")
	}
	return conn.WriteJSON(wsOp{Op: "subscribe", Args: args})
}

func (c *OKXWSClient) dispatch(msg []byte, handler WSHandler) {
	if handler == nil {
		return
	}
	var push wsPush
	if err := json.Unmarshal(msg, &push); err != nil {
		c.Logger.Debug("skip unparseable ws message", zap.Error(err))
		return
	}
	if push.Event != "" || len(push.Data) == 0 {
		// subscribe ack / error event
		return
	}
	switch push.Arg.Channel {
	case "tickers":
		ticks, err := ParseTicker(push.Data)
		if err != nil {
			c.Logger.Warn("parse ticker failed", zap.Error(err))
			return
		}
		for _, t := range ticks {
			handler.OnTick(t)
		}
	case "positions":
		positions, err := ParsePositions(push.Data)
		if err != nil {
			c.Logger.Warn("parse positions failed", zap.Error(err))
			return
		}
		for _, p := range positions {
			handler.OnPosition(p)
		}
	case "orders":
		handler.OnOrder(push.Data)
	case "fills":
		handler.OnTrade(push.Data)
	}
}
