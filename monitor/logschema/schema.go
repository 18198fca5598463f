// Package logschema 集中定义关键事件的必填字段，告警和日志共用一套词表。
package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// registry 事件名 → 必填字段。未登记的事件不做校验。
var registry = map[string][]string{
	"protection_refresh": {"symbol", "direction", "trigger"},
	"protective_close":   {"symbol", "reason", "pnlRatio"},
	"reversal_fire":      {"symbol", "side", "trigger"},
	"gateway_reject":     {"symbol", "op", "code"},
	"config_reload":      {"path"},
}

// Known 返回所有登记的事件名，排序后便于生成文档。
func Known() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Required 返回事件的必填字段；未登记返回 nil。
func Required(event string) []string {
	return registry[event]
}

// Validate 检查字段集合是否覆盖事件的必填 key。
func Validate(event string, fields map[string]interface{}) error {
	var missing []string
	for _, key := range registry[event] {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("event %s missing fields: %s", event, strings.Join(missing, ","))
	}
	return nil
}
