package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type captureChannel struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *captureChannel) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *captureChannel) Name() string { return "capture" }

func (c *captureChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestNotifyDeliversToAllChannels(t *testing.T) {
	a := &captureChannel{}
	b := &captureChannel{}
	m := NewManager([]Channel{a, b}, 0, nil)

	m.Notify(Event{
		Severity: SevWarning,
		Kind:     "protective_close",
		Symbol:   "BTC-USDT-SWAP",
		Message:  "stop loss close",
		Fields: map[string]interface{}{
			"symbol": "BTC-USDT-SWAP", "reason": "stop_loss", "pnlRatio": -0.4,
		},
	})

	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("expected delivery to both channels, got %d/%d", a.count(), b.count())
	}
}

func TestThrottleSuppressesRepeats(t *testing.T) {
	ch := &captureChannel{}
	m := NewManager([]Channel{ch}, time.Minute, nil)

	ev := Event{Severity: SevWarning, Kind: "gateway_reject", Symbol: "ETH-USDT-SWAP"}
	m.Notify(ev)
	m.Notify(ev)
	if ch.count() != 1 {
		t.Fatalf("expected second notify throttled, got %d", ch.count())
	}

	// 不同 symbol 不在同一个限流 key 里
	other := ev
	other.Symbol = "SOL-USDT-SWAP"
	m.Notify(other)
	if ch.count() != 2 {
		t.Fatalf("expected different symbol to pass, got %d", ch.count())
	}
}

func TestCriticalBypassesThrottle(t *testing.T) {
	ch := &captureChannel{}
	m := NewManager([]Channel{ch}, time.Minute, nil)

	ev := Event{Severity: SevCritical, Kind: "gateway_reject", Symbol: "BTC-USDT-SWAP"}
	m.Notify(ev)
	m.Notify(ev)
	if ch.count() != 2 {
		t.Fatalf("critical alerts must not be throttled, got %d", ch.count())
	}
}

func TestChannelErrorDoesNotBlockOthers(t *testing.T) {
	bad := &captureChannel{err: http.ErrHandlerTimeout}
	good := &captureChannel{}
	m := NewManager([]Channel{bad, good}, 0, nil)

	m.Notify(Event{Severity: SevError, Kind: "reversal_fire", Symbol: "BTC-USDT-SWAP"})
	if good.count() != 1 {
		t.Fatalf("expected delivery despite failing sibling, got %d", good.count())
	}
}

func TestThrottlerResetAllowsResend(t *testing.T) {
	th := NewThrottler(time.Minute)
	if !th.Allow("k") {
		t.Fatal("first allow should pass")
	}
	if th.Allow("k") {
		t.Fatal("second allow should be throttled")
	}
	th.Reset("k")
	if !th.Allow("k") {
		t.Fatal("allow after reset should pass")
	}
}

func TestWebhookChannelPostsJSON(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("hook", srv.URL)
	err := ch.Send(Event{
		Severity:  SevWarning,
		Kind:      "protective_close",
		Symbol:    "BTC-USDT-SWAP",
		Message:   "stop loss close",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Fields:    map[string]interface{}{"reason": "stop_loss"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Kind != "protective_close" || got.Symbol != "BTC-USDT-SWAP" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.Timestamp != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected timestamp %s", got.Timestamp)
	}
}

func TestWebhookChannelNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("hook", srv.URL)
	if err := ch.Send(Event{Kind: "reversal_fire"}); err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}
