// Package genai provides the text-generation capability over the OpenAI chat completions API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// DefaultModel is used when no model is configured.
const DefaultModel = string(openai.ChatModelGPT4oMini)

// Error variables for completion failures.
var (
	ErrMissingAPIKey     = errors.New("OpenAI API key not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrEmptyResponse     = errors.New("empty completion content")
)

// CompletionRequest is one single-shot generation call.
type CompletionRequest struct {
	SystemPrompt string  `json:"system_prompt"`
	UserPrompt   string  `json:"user_prompt"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK completion service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey    string
	Model     string
	RateLimit float64 // requests per second, zero disables limiting
	Burst     int
	DebugMode bool
	StateDir  string // debug call records are written under StateDir/debug
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel sets the chat model identifier.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithRateLimit bounds outgoing completions to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *Opts) {
		o.RateLimit = rps
		o.Burst = burst
	}
}

// WithDebug records every call as a JSON file under stateDir/debug.
func WithDebug(stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = true
		o.StateDir = stateDir
	}
}

// Client wraps the OpenAI ChatCompletion service.
type Client struct {
	chat      chatService
	model     string
	limiter   *rate.Limiter
	debugMode bool
	stateDir  string
}

// NewClient initializes a new GenAI client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	c := &Client{
		chat:      completionsAdapter{svc: &cli.Chat.Completions},
		model:     cfg.Model,
		debugMode: cfg.DebugMode,
		stateDir:  cfg.StateDir,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	slog.Debug("GenAI.NewClient: client initialized", "model", c.model, "rate_limit", cfg.RateLimit, "debug", c.debugMode)
	return c, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Complete runs one chat completion and returns the trimmed text of the first choice. Callers
// own the timeout through ctx and must supply their own fallback on error.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserPrompt),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err == nil && len(resp.Choices) == 0 {
		err = ErrNoChoicesReturned
	}
	var content string
	if err == nil {
		content = strings.TrimSpace(resp.Choices[0].Message.Content)
		if content == "" {
			err = ErrEmptyResponse
		}
	}
	c.recordCall("Complete", req, content, err)

	if err != nil {
		slog.Warn("GenAI.Complete: completion failed", "model", c.model, "error", err, "elapsed", time.Since(start))
		return "", err
	}
	slog.Debug("GenAI.Complete: completion succeeded", "model", c.model, "chars", len(content), "elapsed", time.Since(start))
	return content, nil
}

type callRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Method    string            `json:"method"`
	Model     string            `json:"model"`
	Params    CompletionRequest `json:"params"`
	Response  string            `json:"response"`
	Error     string            `json:"error,omitempty"`
}

// recordCall writes a debug record of one call. Failures are logged and otherwise ignored.
func (c *Client) recordCall(method string, req CompletionRequest, response string, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	debugDir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(debugDir, 0o755); err != nil {
		slog.Warn("GenAI.recordCall: failed to create debug directory", "dir", debugDir, "error", err)
		return
	}
	rec := callRecord{Timestamp: time.Now().UTC(), Method: method, Model: c.model, Params: req, Response: response}
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		slog.Warn("GenAI.recordCall: failed to marshal debug record", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", rec.Timestamp.Format("20060102T150405.000000000Z"), method)
	if err := os.WriteFile(filepath.Join(debugDir, name), data, 0o600); err != nil {
		slog.Warn("GenAI.recordCall: failed to write debug record", "error", err)
	}
}
