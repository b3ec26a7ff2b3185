package llm

import (
	"context"
	"strings"

	"github.com/storyloom/storyloom/internal/segmentation"
)

// SegmentSmart asks the model to cut the text at scene transitions while
// preserving the original wording. It implements segmentation.SmartSegmenter;
// any error makes the planner fall back to sentence grouping.
func (c *Client) SegmentSmart(ctx context.Context, text, modelID string) ([]string, error) {
	clean := segmentation.NormalizeText(text)
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	content, err := c.chat(ctx, c.model(modelID), StrictJSONSystemPrompt, buildSmartSegmentationPrompt(clean), 0.2, segmentTimeout)
	if err != nil {
		c.logger.Warn("smart segmentation failed, planner will fall back to sentence groups", "error", err)
		return nil, err
	}

	parsed := ExtractJSONObject(content)
	if parsed == nil {
		c.logger.Warn("smart segmentation returned no json, planner will fall back to sentence groups")
		return nil, ErrUnparseableResponse
	}

	rawSegments, ok := parsed["segments"].([]any)
	if !ok {
		c.logger.Warn("smart segmentation reply missing segments list, planner will fall back to sentence groups")
		return nil, ErrUnparseableResponse
	}

	segments := make([]string, 0, len(rawSegments))
	for _, item := range rawSegments {
		if s := strings.TrimSpace(stringify(item)); s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		c.logger.Warn("smart segmentation returned empty segments, planner will fall back to sentence groups")
		return nil, ErrUnparseableResponse
	}
	return segments, nil
}
