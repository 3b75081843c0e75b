package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/CarePipe/internal/genai"
	"github.com/BTreeMap/CarePipe/internal/notify"
)

// Generator is the text-generation capability consumed by the generating stages.
type Generator interface {
	Complete(ctx context.Context, req genai.CompletionRequest) (string, error)
}

// Notifier delivers approved requests to clinic staff.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// GenerationParams are the sampling settings of one call site.
type GenerationParams struct {
	Temperature float64
	MaxTokens   int
}

// Settings are the constants injected into the stage library at startup.
type Settings struct {
	ClinicName  string
	ClinicEmail string
	MaxCalls    int
	MaxChars    int
	Chat        GenerationParams // pipeline reply and console prep answers
	Draft       GenerationParams // console email draft
	Email       GenerationParams // email endpoint
}

// Default settings.
const (
	DefaultClinicName  = "Medical Clinic"
	DefaultClinicEmail = "appointments@medicalclinic.com"
	DefaultMaxCalls    = 15
	DefaultMaxChars    = 2000
)

// DefaultSettings returns the built-in clinic settings.
func DefaultSettings() Settings {
	return Settings{
		ClinicName:  DefaultClinicName,
		ClinicEmail: DefaultClinicEmail,
		MaxCalls:    DefaultMaxCalls,
		MaxChars:    DefaultMaxChars,
		Chat:        GenerationParams{Temperature: 0.4, MaxTokens: 300},
		Draft:       GenerationParams{Temperature: 0.4, MaxTokens: 400},
		Email:       GenerationParams{Temperature: 0.3, MaxTokens: 300},
	}
}

// generate runs one completion. On any failure, including a missing generator, it returns
// fallback and ok=false so the caller's stage can continue.
func generate(ctx context.Context, gen Generator, req genai.CompletionRequest, fallback string) (text string, ok bool) {
	if gen == nil {
		slog.Warn("Flow.generate: no generator configured, using fallback")
		return fallback, false
	}
	text, err := gen.Complete(ctx, req)
	if err != nil {
		slog.Warn("Flow.generate: primary failed, using fallback", "error", err)
		return fallback, false
	}
	return text, true
}
