// Package replygen produces short single-line reply texts from a source post
// via an OpenAI-compatible chat-completions endpoint.
package replygen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"

	// maxReplyLen is the post length ceiling; output is clamped here no
	// matter what the upstream model promises.
	maxReplyLen = 280
)

// DefaultSystemPrompt steers the model toward short, casual, varied replies.
const DefaultSystemPrompt = "You are a real human enthusiast posting from your personal account.\n" +
	"- Reply in 1 or 2 short lines max. Keep it casual, not perfect grammar.\n" +
	"- No 'As an AI' or formal disclaimers. No excessive emojis.\n" +
	"- If the post is technical, respond technically; if it's funny, be funny.\n" +
	"- Keep replies varied and human-like."

// GenerationError is a recoverable per-item failure: the scheduler skips the
// reply for that item only, a like may still proceed.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("reply generation failed: %s", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Config holds the model and prompt parameters, read once at startup.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	TopP         float64
}

func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:       apiKey,
		BaseURL:      defaultBaseURL,
		Model:        defaultModel,
		SystemPrompt: DefaultSystemPrompt,
		MaxTokens:    60,
		Temperature:  0.8,
		TopP:         0.9,
	}
}

// Client calls the chat-completions API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	rng        *rand.Rand

	// Openers are occasionally prepended for variety. May be set to nil
	// to disable.
	Openers []string
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Client{
		cfg:        cfg,
		httpClient: newHTTPClient(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		Openers:    []string{"Nice.", "Solid.", "Noted.", "Hmm.", "True.", ""},
	}
}

type leveledSlog struct {
	inner *slog.Logger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l leveledSlog) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Info(msg, keysAndValues...)
}

func (l leveledSlog) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Debug(msg, keysAndValues...)
}

// newHTTPClient has retry-on-429/5xx behavior, which matters for a daemon
// that talks to a completion API all day.
func newHTTPClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(leveledSlog{slog.Default()})
	c := retryClient.StandardClient()
	c.Timeout = 60 * time.Second
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate returns a normalized single-line reply for the source text.
func (c *Client) Generate(ctx context.Context, sourceText string) (string, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.cfg.SystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Reply to this post in 1 short line:\n\n%s", sourceText)},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", &GenerationError{Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &GenerationError{Err: fmt.Errorf("completion request failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &GenerationError{Err: err}
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", &GenerationError{Err: fmt.Errorf("empty completion")}
	}

	reply := Normalize(out.Choices[0].Message.Content)
	if len(c.Openers) > 0 {
		opener := c.Openers[c.rng.Intn(len(c.Openers))]
		reply = Normalize(strings.TrimSpace(opener + " " + reply))
	}
	return reply, nil
}

// Normalize clamps model output to a single short line: first line only,
// trimmed, truncated with an ellipsis past the post length limit.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	runes := []rune(s)
	if len(runes) > maxReplyLen {
		s = string(runes[:maxReplyLen-3]) + "..."
	}
	return s
}
