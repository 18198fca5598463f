package config

import (
	"errors"
	"fmt"
)

// Validate ensures required fields are present and ratios are sane.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Gateway.APIKey == "" || cfg.Gateway.APISecret == "" || cfg.Gateway.Passphrase == "" {
		return errors.New("gateway.apiKey/apiSecret/passphrase is required (or env overrides)")
	}
	if err := ValidateProtection(cfg.Protection); err != nil {
		return err
	}
	for sym, sc := range cfg.Symbols {
		if sc.StopLoss > 0 {
			return fmt.Errorf("symbols.%s.stopLoss must be <= 0", sym)
		}
		if sc.TakeProfit < 0 {
			return fmt.Errorf("symbols.%s.takeProfit must be >= 0", sym)
		}
		if sc.Leverage < 0 {
			return fmt.Errorf("symbols.%s.leverage must be >= 0", sym)
		}
	}
	return nil
}

// ValidateProtection 校验引擎参数；热更新前单独调用。
func ValidateProtection(p ProtectionConfig) error {
	if p.DefaultStopLoss >= 0 {
		return errors.New("protection.defaultStopLoss must be negative")
	}
	if p.DefaultTakeProfit <= 0 {
		return errors.New("protection.defaultTakeProfit must be positive")
	}
	if p.GlobalOffset < 0 {
		return errors.New("protection.globalOffset must be >= 0")
	}
	if p.MaxTakeProfit <= 0 {
		return errors.New("protection.maxTakeProfit must be positive")
	}
	if p.MarginMode != "cross" && p.MarginMode != "isolated" {
		return fmt.Errorf("protection.marginMode must be cross or isolated, got %q", p.MarginMode)
	}
	return nil
}
