// Package imagegen generates scene images through an OpenAI-compatible
// streaming chat endpoint and resolves each segment's image through a
// cache-first, degrade-gracefully cascade.
package imagegen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/llm"
	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/pkg/httpclient"
)

// maxReferenceParts caps how many reference images ride along with a prompt.
const maxReferenceParts = 2

// urlPattern extracts image URLs from streamed delta content.
var urlPattern = regexp.MustCompile(`https?://[^\s\])]+`)

// Client calls the image provider's streaming chat completion endpoint.
type Client struct {
	cfg    config.ImageConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates an image provider client.
func NewClient(cfg config.ImageConfig, hc *httpclient.Client, logger *slog.Logger) *Client {
	if hc == nil {
		hc = httpclient.NewWithDefaults()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: hc, logger: observability.WithComponent(logger, "imagegen")}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// Generate produces one image for the prompt and writes it to outPath as
// opaque RGB. The first attempt sends the prompt as-is; some providers answer
// pure-CJK prompts with prose instead of an image, so later attempts wrap
// the prompt in an English create-one-image instruction.
func (c *Client) Generate(ctx context.Context, prompt string, refImagePaths []string, aspectRatio, outPath string) error {
	if !c.Enabled() {
		return fmt.Errorf("image api key is not configured")
	}

	attempts := c.cfg.Attempts
	if attempts < 1 {
		attempts = 2
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptPrompt := prompt
		if attempt > 1 {
			attemptPrompt = llm.BuildImageRetryPrompt(prompt)
		}
		err := c.generateOnce(ctx, attemptPrompt, refImagePaths, aspectRatio, outPath)
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Warn("image generation attempt failed", "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("image generation failed after %d attempts: %w", attempts, lastErr)
}

// imagePart is one multimodal message content part.
type imagePart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// generateRequest is the streaming chat completion payload.
type generateRequest struct {
	Model     string         `json:"model"`
	Messages  []any          `json:"messages"`
	Stream    bool           `json:"stream"`
	ExtraBody map[string]any `json:"extra_body,omitempty"`
}

func (c *Client) generateOnce(ctx context.Context, prompt string, refImagePaths []string, aspectRatio, outPath string) error {
	timeout := c.cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := generateRequest{
		Model:    c.cfg.Model,
		Messages: buildMessages(prompt, refImagePaths),
		Stream:   true,
	}
	if aspectRatio != "" {
		payload.ExtraBody = map[string]any{"aspect_ratio": aspectRatio}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding generation request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building generation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling image provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("image provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	imageURL, seenContent, err := extractImageURL(resp.Body)
	if err != nil {
		return err
	}
	if imageURL == "" {
		if !seenContent {
			return fmt.Errorf("image stream finished but no content")
		}
		return fmt.Errorf("image stream finished but content without image url")
	}
	c.logger.Debug("image stream url candidate", "url", truncate(imageURL, 200))

	return c.download(ctx, imageURL, outPath)
}

// extractImageURL scans an SSE stream of chat deltas and returns the last
// URL seen in any delta content.
func extractImageURL(body io.Reader) (url string, seenContent bool, err error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "[DONE]" {
			break
		}
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		seenContent = true
		if match := urlPattern.FindString(chunk.Choices[0].Delta.Content); match != "" {
			url = match
		}
	}
	if err := scanner.Err(); err != nil {
		return "", seenContent, fmt.Errorf("reading image stream: %w", err)
	}
	return url, seenContent, nil
}

// download fetches the generated image and writes it as opaque RGB.
func (c *Client) download(ctx context.Context, url, outPath string) error {
	resp, err := c.http.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("downloading generated image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("image download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading generated image: %w", err)
	}
	return WriteImageBytes(data, outPath)
}

// buildMessages assembles the multimodal user message: the prompt text plus
// at most two existing reference images inlined as base64 data URLs.
func buildMessages(prompt string, refImagePaths []string) []any {
	promptText := strings.TrimSpace(prompt)
	if promptText == "" {
		promptText = llm.DefaultImagePrompt
	}

	var parts []imagePart
	seen := make(map[string]bool, len(refImagePaths))
	for _, raw := range refImagePaths {
		if raw == "" || len(parts) >= maxReferenceParts {
			continue
		}
		key := strings.ToLower(strings.ReplaceAll(raw, "\\", "/"))
		if seen[key] {
			continue
		}
		seen[key] = true

		ext := strings.ToLower(filepath.Ext(raw))
		if ext != ".png" && ext != ".jpg" && ext != ".jpeg" && ext != ".webp" {
			continue
		}
		data, err := os.ReadFile(raw)
		if err != nil {
			continue
		}
		mime := "image/jpeg"
		if ext == ".png" {
			mime = "image/png"
		}
		part := imagePart{Type: "image_url"}
		part.ImageURL = &struct {
			URL string `json:"url"`
		}{URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return []any{map[string]any{"role": "user", "content": promptText}}
	}
	content := append([]imagePart{{Type: "text", Text: promptText}}, parts...)
	return []any{map[string]any{"role": "user", "content": content}}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
