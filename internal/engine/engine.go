// Package engine invokes the narrative analysis model. Providers are
// interchangeable behind the Engine interface; callers never touch
// provider SDKs or raw HTTP directly.
package engine

import (
	"context"
	"fmt"
	"time"
)

// Mode selects how a request is executed. The orchestration layer treats
// both modes as interchangeable text-in/text-out calls.
type Mode int

const (
	// ModeSingle is a plain single-shot completion.
	ModeSingle Mode = iota
	// ModeAgent lets the provider use its tool-augmented path (e.g.
	// grounded search) when available. Providers without an agent path
	// fall back to single-shot.
	ModeAgent
)

// Request is one narrative engine invocation.
type Request struct {
	System string
	Prompt string
	Mode   Mode
}

// Engine is the minimal interface orchestration code depends on.
type Engine interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider string        // "gemini" or "openai"
	APIKey   string
	Model    string
	BaseURL  string        // openai-compatible endpoint, ignored for gemini
	Timeout  time.Duration // per-invocation bound
}

// New builds the configured provider.
func New(cfg Config) (Engine, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	switch cfg.Provider {
	case "gemini", "":
		return NewGemini(cfg)
	case "openai":
		return NewChat(cfg)
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}
