package common

import (
	"errors"
	"testing"
)

func TestGuardHonoursPauses(t *testing.T) {
	if err := Guard(nil, "market"); err != nil {
		t.Fatalf("nil pause view must not block: %v", err)
	}
	pauses := NewPauses("Market")
	if err := Guard(pauses, "market"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	pauses.Set("market", false)
	if err := Guard(pauses, "market"); err != nil {
		t.Fatalf("expected unpaused module to pass, got %v", err)
	}
	if err := Guard(pauses, ""); err != nil {
		t.Fatalf("empty module name must not block: %v", err)
	}
}
