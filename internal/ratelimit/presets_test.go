package ratelimit

import (
	"testing"
	"time"
)

func TestDefaultPresets(t *testing.T) {
	tests := []struct {
		scope  string
		window int
		max    int
	}{
		{ScopeRegistration, 600, 5},
		{ScopeLogin, 300, 15},
		{ScopeListingCreate, 600, 20},
		{ScopePaymentInit, 300, 15},
		{ScopeDefault, 60, 60},
	}

	presets := DefaultPresets()
	for _, tt := range tests {
		p := presets.For(tt.scope)
		if p.WindowSeconds != tt.window || p.Max != tt.max {
			t.Errorf("For(%q) = %+v, want {%d %d}", tt.scope, p, tt.window, tt.max)
		}
	}
}

func TestPresetsFor_UnknownScopeFallsBack(t *testing.T) {
	p := DefaultPresets().For("unknown")
	if p != (Preset{WindowSeconds: 60, Max: 60}) {
		t.Errorf("For(unknown) = %+v, want default", p)
	}

	if p := (Presets{}).For("anything"); p != (Preset{WindowSeconds: 60, Max: 60}) {
		t.Errorf("empty presets For = %+v, want built-in default", p)
	}
}

func TestPresetsMerge(t *testing.T) {
	merged := DefaultPresets().Merge(Presets{
		ScopeLogin:   {WindowSeconds: 120, Max: 5},
		"search":     {WindowSeconds: 10, Max: 100},
		"broken":     {WindowSeconds: 0, Max: 10},
		ScopeDefault: {WindowSeconds: -1, Max: 1},
	})

	if merged.For(ScopeLogin) != (Preset{WindowSeconds: 120, Max: 5}) {
		t.Errorf("login override not applied: %+v", merged.For(ScopeLogin))
	}
	if merged.For("search") != (Preset{WindowSeconds: 10, Max: 100}) {
		t.Errorf("new scope not added: %+v", merged.For("search"))
	}
	if _, ok := merged["broken"]; ok {
		t.Error("invalid preset should be ignored")
	}
	if merged.For(ScopeDefault) != (Preset{WindowSeconds: 60, Max: 60}) {
		t.Errorf("invalid default override should be ignored: %+v", merged.For(ScopeDefault))
	}
}

func TestPresetWindow(t *testing.T) {
	if got := (Preset{WindowSeconds: 300}).Window(); got != 5*time.Minute {
		t.Errorf("Window() = %v, want 5m", got)
	}
}
