package genai

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"golang.org/x/time/rate"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	calls  int
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.calls++
	m.params = params
	return m.resp, m.err
}

func reply(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestComplete_Success(t *testing.T) {
	mock := &mockChatService{resp: reply("  Hello World \n")}
	client := &Client{chat: mock, model: "test-model"}
	out, err := client.Complete(context.Background(), CompletionRequest{SystemPrompt: "sys", UserPrompt: "usr", Temperature: 0.4, MaxTokens: 300})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if string(mock.params.Model) != "test-model" {
		t.Errorf("expected model 'test-model', got %q", mock.params.Model)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(mock.params.Messages))
	}
}

func TestComplete_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}, model: "m"}
	_, err := client.Complete(context.Background(), CompletionRequest{})
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{}}, model: "m"}
	_, err := client.Complete(context.Background(), CompletionRequest{})
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestComplete_EmptyContent(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: reply("   ")}, model: "m"}
	_, err := client.Complete(context.Background(), CompletionRequest{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestComplete_RateLimiterHonoursContext(t *testing.T) {
	mock := &mockChatService{resp: reply("ok")}
	limiter := rate.NewLimiter(rate.Limit(0.001), 1)
	limiter.Allow() // drain the only token
	client := &Client{chat: mock, model: "m", limiter: limiter}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Complete(ctx, CompletionRequest{}); err == nil {
		t.Fatal("expected error from cancelled limiter wait")
	}
	if mock.calls != 0 {
		t.Errorf("expected no upstream call, got %d", mock.calls)
	}
}

func TestComplete_DebugRecord(t *testing.T) {
	dir := t.TempDir()
	client := &Client{chat: &mockChatService{resp: reply("Test response")}, model: "test-model", debugMode: true, stateDir: dir}
	if _, err := client.Complete(context.Background(), CompletionRequest{SystemPrompt: "System prompt", UserPrompt: "User prompt"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	files, err := os.ReadDir(filepath.Join(dir, "debug"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one debug file, got %d (%v)", len(files), err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "debug", files[0].Name()))
	if err != nil {
		t.Fatalf("failed to read debug file: %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(content, &entry); err != nil {
		t.Fatalf("failed to unmarshal debug record: %v", err)
	}
	for _, field := range []string{"timestamp", "method", "model", "params", "response"} {
		if _, ok := entry[field]; !ok {
			t.Errorf("required field '%s' missing from debug record", field)
		}
	}
	if entry["method"] != "Complete" || entry["model"] != "test-model" {
		t.Errorf("unexpected record: %v", entry)
	}
}

func TestComplete_DebugDisabled(t *testing.T) {
	dir := t.TempDir()
	client := &Client{chat: &mockChatService{resp: reply("ok")}, model: "m", stateDir: dir}
	if _, err := client.Complete(context.Background(), CompletionRequest{}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "debug")); !os.IsNotExist(err) {
		t.Error("debug directory should not be created when debug mode is disabled")
	}
}

func TestNewClient_NoKey(t *testing.T) {
	if _, err := NewClient(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithRateLimit(5, 2))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.Model() != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, cli.Model())
	}
	if cli.limiter == nil {
		t.Error("expected limiter to be configured")
	}
}
