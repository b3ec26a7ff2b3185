// Package llm talks to an OpenAI-compatible chat completion provider and
// normalizes its replies into the shapes the pipeline consumes: segment
// vectors, image prompt bundles, character analyses, world summaries and
// novel aliases. Every operation degrades deliberately when no API key is
// configured so the pipeline keeps working offline.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/pkg/httpclient"
)

// Sentinel errors for operations that require provider access.
var (
	// ErrDisabled is returned when an operation needs the provider but no
	// API key is configured.
	ErrDisabled = errors.New("llm api key is missing")

	// ErrUnparseableResponse indicates the model reply carried no JSON object.
	ErrUnparseableResponse = errors.New("llm returned unparseable json")

	// ErrEmptyCharacters indicates a character analysis reply without any
	// usable character entries.
	ErrEmptyCharacters = errors.New("llm returned empty characters")
)

// Per-operation deadlines layered on top of the shared HTTP client.
const (
	probeTimeout    = 20 * time.Second
	summaryTimeout  = 30 * time.Second
	bundleTimeout   = 30 * time.Second
	segmentTimeout  = 60 * time.Second
	analysisTimeout = 60 * time.Second
	aliasTimeout    = 60 * time.Second
)

// StatusError describes a non-2xx reply from the provider, with the detail
// message pulled out of the error payload.
type StatusError struct {
	StatusCode int
	Detail     string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Detail)
}

// Client is the chat completion provider client.
type Client struct {
	cfg    config.LLMConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a provider client over the given resilient HTTP client.
func NewClient(cfg config.LLMConfig, hc *httpclient.Client, logger *slog.Logger) *Client {
	if hc == nil {
		hc = httpclient.NewWithDefaults()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: hc, logger: logger}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// DefaultModel returns the configured default model id.
func (c *Client) DefaultModel() string {
	return c.cfg.Model
}

func (c *Client) model(modelID string) string {
	if m := strings.TrimSpace(modelID); m != "" {
		return m
	}
	return c.cfg.Model
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chat runs one system+user completion turn and returns the reply content.
func (c *Client) chat(ctx context.Context, model, system, user string, temperature float64, timeout time.Duration) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/chat/completions"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &StatusError{StatusCode: resp.StatusCode, Detail: responseErrorMessage(resp)}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// CompleteJSON runs one strict-JSON completion turn and returns the extracted
// object. Used directly by the scene cache reuse selector.
func (c *Client) CompleteJSON(ctx context.Context, system, user, modelID string, temperature float64, timeout time.Duration) (map[string]any, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	content, err := c.chat(ctx, c.model(modelID), system, user, temperature, timeout)
	if err != nil {
		return nil, err
	}
	parsed := ExtractJSONObject(content)
	if parsed == nil {
		return nil, ErrUnparseableResponse
	}
	return parsed, nil
}

// ProbeModels lists the model ids the provider exposes, sorted. Returns an
// empty list when the key is missing or the probe fails; model discovery is
// advisory and must never block the caller.
func (c *Client) ProbeModels(ctx context.Context) []string {
	if !c.Enabled() {
		return []string{}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/models"), nil)
	if err != nil {
		c.logger.Warn("model probe request build failed", "error", err)
		return []string{}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("model probe failed", "error", err)
		return []string{}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.logger.Warn("model probe failed", "status", resp.StatusCode)
		return []string{}
	}

	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Warn("model probe decode failed", "error", err)
		return []string{}
	}

	ids := make([]string, 0, len(payload.Data))
	for _, item := range payload.Data {
		if item.ID != "" {
			ids = append(ids, item.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// SummarizeStoryWorld produces a one-sentence global world setting summary
// for prompt conditioning. Returns "" on empty input, missing key or any
// provider failure.
func (c *Client) SummarizeStoryWorld(ctx context.Context, text, modelID string) string {
	clean := cleanText(text, 14000)
	if clean == "" || !c.Enabled() {
		return ""
	}

	content, err := c.chat(ctx, c.model(modelID), StrictJSONSystemPrompt, buildStoryWorldSummaryPrompt(clean), 0.1, summaryTimeout)
	if err != nil {
		c.logger.Warn("story world summarization failed", "error", err)
		return ""
	}
	parsed := ExtractJSONObject(content)
	if parsed == nil {
		return ""
	}
	return cleanText(stringField(parsed, "world_summary", ""), 320)
}

// responseErrorMessage digs a human-readable detail out of a provider error
// reply: nested error.message/detail/type, then the error value itself, then
// top-level detail/message, then the raw body capped at 300 runes.
func responseErrorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(resp.Body)

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err == nil && payload != nil {
		if errVal, ok := payload["error"]; ok {
			if errMap, ok := errVal.(map[string]any); ok {
				for _, key := range []string{"message", "detail", "type"} {
					if v, ok := errMap[key]; ok && truthyJSON(v) {
						return stringify(v)
					}
				}
			}
			if truthyJSON(errVal) {
				return stringify(errVal)
			}
		}
		for _, key := range []string{"detail", "message"} {
			if v, ok := payload[key]; ok && truthyJSON(v) {
				return stringify(v)
			}
		}
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "unknown upstream error"
	}
	return truncateRunes(text, 300)
}

func truthyJSON(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}
