package logschema

import "testing"

func TestValidateKnownEvent(t *testing.T) {
	err := Validate("protective_close", map[string]interface{}{
		"symbol":   "BTC-USDT-SWAP",
		"reason":   "stop_loss",
		"pnlRatio": -0.42,
	})
	if err != nil {
		t.Fatalf("expected valid fields, got %v", err)
	}
}

func TestValidateMissingField(t *testing.T) {
	err := Validate("reversal_fire", map[string]interface{}{
		"symbol": "ETH-USDT-SWAP",
		"side":   "buy",
	})
	if err == nil {
		t.Fatal("expected missing-field error")
	}
}

func TestValidateUnknownEventPasses(t *testing.T) {
	if err := Validate("heartbeat", nil); err != nil {
		t.Fatalf("unknown events should not be validated: %v", err)
	}
}

func TestKnownSorted(t *testing.T) {
	names := Known()
	if len(names) == 0 {
		t.Fatal("expected registered events")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}
