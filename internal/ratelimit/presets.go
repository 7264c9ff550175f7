package ratelimit

import "time"

// Named scopes, one per endpoint class.
const (
	ScopeRegistration  = "register"
	ScopeLogin         = "login"
	ScopeListingCreate = "listing_create"
	ScopePaymentInit   = "payment_init"
	ScopeDefault       = "default"
)

// Preset is a (window, max) pair.
type Preset struct {
	WindowSeconds int `yaml:"window_seconds"`
	Max           int `yaml:"max"`
}

// Window returns the preset window as a duration.
func (p Preset) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// Valid reports whether both fields are positive.
func (p Preset) Valid() bool {
	return p.WindowSeconds > 0 && p.Max > 0
}

// Presets maps scope names to presets.
type Presets map[string]Preset

// DefaultPresets returns the standard per-endpoint presets.
func DefaultPresets() Presets {
	return Presets{
		ScopeRegistration:  {WindowSeconds: 600, Max: 5},
		ScopeLogin:         {WindowSeconds: 300, Max: 15},
		ScopeListingCreate: {WindowSeconds: 600, Max: 20},
		ScopePaymentInit:   {WindowSeconds: 300, Max: 15},
		ScopeDefault:       {WindowSeconds: 60, Max: 60},
	}
}

// For returns the preset registered for scope, or the default preset when the
// scope is unknown.
func (p Presets) For(scope string) Preset {
	if preset, ok := p[scope]; ok {
		return preset
	}
	if preset, ok := p[ScopeDefault]; ok {
		return preset
	}
	return DefaultPresets()[ScopeDefault]
}

// Merge returns a copy of p with every valid entry of overrides applied.
func (p Presets) Merge(overrides Presets) Presets {
	out := make(Presets, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		if v.Valid() {
			out[k] = v
		}
	}
	return out
}
