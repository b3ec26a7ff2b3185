package handlers

import (
	"context"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/storyloom/storyloom/internal/segmentation"
)

// SegmentationHandler previews text segmentation without creating a job.
type SegmentationHandler struct {
	smart segmentation.SmartSegmenter
}

// NewSegmentationHandler creates a segmentation handler.
func NewSegmentationHandler(smart segmentation.SmartSegmenter) *SegmentationHandler {
	return &SegmentationHandler{smart: smart}
}

// Register registers the segmentation routes with the API.
func (h *SegmentationHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "segmentText",
		Method:      "POST",
		Path:        "/api/segment-text",
		Summary:     "Preview text segmentation",
		Description: "Returns the segment vector a generation job would use, with the request signature for precomputed submission.",
		Tags:        []string{"Segmentation"},
	}, h.SegmentText)
}

// SegmentTextInput is the segmentation preview request.
type SegmentTextInput struct {
	Body struct {
		Text                string `json:"text" doc:"Story text"`
		Method              string `json:"method,omitempty" enum:"sentence,fixed,smart" doc:"Segmentation method"`
		SentencesPerSegment int    `json:"sentences_per_segment,omitempty" minimum:"0" maximum:"50"`
		FixedSize           int    `json:"fixed_size,omitempty" minimum:"0" doc:"Characters per segment for the fixed method"`
		ModelID             string `json:"model_id,omitempty" doc:"Model for the smart method"`
	}
}

// SegmentTextOutput is the segmentation preview.
type SegmentTextOutput struct {
	Body struct {
		Segments         []SegmentItem `json:"segments"`
		TotalSentences   int           `json:"total_sentences"`
		RequestSignature string        `json:"request_signature"`
	}
}

// SegmentText computes the segment vector for a request.
func (h *SegmentationHandler) SegmentText(ctx context.Context, input *SegmentTextInput) (*SegmentTextOutput, error) {
	if strings.TrimSpace(input.Body.Text) == "" {
		return nil, huma.Error400BadRequest("text is required")
	}

	plan := segmentation.BuildPlan(ctx, h.smart, segmentation.PlanRequest{
		Text:                input.Body.Text,
		Method:              input.Body.Method,
		SentencesPerSegment: input.Body.SentencesPerSegment,
		FixedSize:           input.Body.FixedSize,
		ModelID:             input.Body.ModelID,
	})

	out := &SegmentTextOutput{}
	out.Body.Segments = make([]SegmentItem, 0, len(plan.Segments))
	for i, text := range plan.Segments {
		out.Body.Segments = append(out.Body.Segments, SegmentItem{Index: i, Text: text})
	}
	out.Body.TotalSentences = plan.TotalSentences
	out.Body.RequestSignature = plan.RequestSignature
	return out, nil
}
