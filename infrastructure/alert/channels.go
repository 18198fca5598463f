package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ZapChannel 把告警写进结构化日志，是最低限度的兜底通道。
type ZapChannel struct {
	logger *zap.Logger
	name   string
}

func NewZapChannel(name string, logger *zap.Logger) *ZapChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapChannel{logger: logger, name: name}
}

func (c *ZapChannel) Name() string { return c.name }

func (c *ZapChannel) Send(ev Event) error {
	fields := make([]zap.Field, 0, len(ev.Fields)+2)
	fields = append(fields,
		zap.String("kind", ev.Kind),
		zap.String("symbol", ev.Symbol))
	for k, v := range ev.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch ev.Severity {
	case SevInfo:
		c.logger.Info(ev.Message, fields...)
	case SevWarning:
		c.logger.Warn(ev.Message, fields...)
	default:
		c.logger.Error(ev.Message, fields...)
	}
	return nil
}

// WebhookChannel 把告警 POST 到外部地址（钉钉/Slack 之类的入站 webhook）。
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

func NewWebhookChannel(name, url string) *WebhookChannel {
	return &WebhookChannel{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

type webhookPayload struct {
	Severity  string                 `json:"severity"`
	Kind      string                 `json:"kind"`
	Symbol    string                 `json:"symbol,omitempty"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (c *WebhookChannel) Name() string { return c.name }

func (c *WebhookChannel) Send(ev Event) error {
	body, err := json.Marshal(webhookPayload{
		Severity:  string(ev.Severity),
		Kind:      ev.Kind,
		Symbol:    ev.Symbol,
		Message:   ev.Message,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
		Fields:    ev.Fields,
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
