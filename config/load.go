package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"position-guard-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env        string                  `yaml:"env"`
	Gateway    GatewayConfig           `yaml:"gateway"`
	Protection ProtectionConfig        `yaml:"protection"`
	Logging    logger.Config           `yaml:"logging"`
	// MetricsAddr Prometheus 监听地址，留空关闭
	MetricsAddr string                  `yaml:"metricsAddr"`
	Alerting    AlertConfig             `yaml:"alerting"`
	Symbols     map[string]SymbolConfig `yaml:"symbols"`
}

// AlertConfig 告警通道配置；WebhookURL 留空只走日志通道。
type AlertConfig struct {
	WebhookURL      string `yaml:"webhookURL"`
	ThrottleSeconds int    `yaml:"throttleSeconds"`
}

type GatewayConfig struct {
	APIKey     string `yaml:"apiKey"`
	APISecret  string `yaml:"apiSecret"`
	Passphrase string `yaml:"passphrase"`
	BaseURL    string `yaml:"baseURL"`
	// WSPublicURL / WSPrivateURL 行情与账户推送端点
	WSPublicURL  string `yaml:"wsPublicURL"`
	WSPrivateURL string `yaml:"wsPrivateURL"`
	// Simulated 模拟盘
	Simulated bool `yaml:"simulated"`
	// RestRate/RestBurst 私有接口令牌桶限流
	RestRate  float64 `yaml:"restRate"`
	RestBurst int     `yaml:"restBurst"`
}

// ProtectionConfig 保护单引擎参数；可热更新。
type ProtectionConfig struct {
	DefaultStopLoss   float64 `yaml:"defaultStopLoss"`   // 默认止损比例，负数
	DefaultTakeProfit float64 `yaml:"defaultTakeProfit"` // 默认止盈比例，正数
	GlobalOffset      float64 `yaml:"globalOffset"`      // 全局价格偏移
	MaxTakeProfit     float64 `yaml:"maxTakeProfit"`     // 止盈封顶比例
	TriggerTakeProfit *bool   `yaml:"triggerTakeProfit"` // 追踪触发止盈，缺省 true
	CancelOnRefresh   *bool   `yaml:"cancelOnRefresh"`   // 重下止盈前先撤旧单，缺省 true
	MarginMode        string  `yaml:"marginMode"`        // cross / isolated
}

// SymbolConfig 单 symbol 初始风控参数与杠杆。
type SymbolConfig struct {
	StopLoss   float64 `yaml:"stopLoss"`
	TakeProfit float64 `yaml:"takeProfit"`
	Leverage   int     `yaml:"leverage"`
}

// TriggerTP 返回止盈模式，缺省追踪触发。
func (p ProtectionConfig) TriggerTP() bool {
	if p.TriggerTakeProfit == nil {
		return true
	}
	return *p.TriggerTakeProfit
}

// CancelTP 返回重下前是否撤旧单，缺省 true。
func (p ProtectionConfig) CancelTP() bool {
	if p.CancelOnRefresh == nil {
		return true
	}
	return *p.CancelOnRefresh
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("PG_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("PG_GATEWAY_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	if v := os.Getenv("PG_GATEWAY_PASSPHRASE"); v != "" {
		cfg.Gateway.Passphrase = v
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Protection.DefaultStopLoss == 0 {
		cfg.Protection.DefaultStopLoss = -0.35
	}
	if cfg.Protection.DefaultTakeProfit == 0 {
		cfg.Protection.DefaultTakeProfit = 1.55
	}
	if cfg.Protection.GlobalOffset == 0 {
		cfg.Protection.GlobalOffset = 0.1
	}
	if cfg.Protection.MaxTakeProfit == 0 {
		cfg.Protection.MaxTakeProfit = 1
	}
	if cfg.Protection.MarginMode == "" {
		cfg.Protection.MarginMode = "cross"
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://www.okx.com"
	}
	if cfg.Gateway.RestRate == 0 {
		cfg.Gateway.RestRate = 5
	}
	if cfg.Gateway.RestBurst == 0 {
		cfg.Gateway.RestBurst = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging = logger.DefaultConfig()
	}
	if cfg.Alerting.ThrottleSeconds == 0 {
		cfg.Alerting.ThrottleSeconds = 60
	}
}
