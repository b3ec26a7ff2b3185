package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/storyloom/storyloom/internal/llm"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/voice"
)

// CharactersHandler handles character analysis and the voice catalog.
type CharactersHandler struct {
	llm *llm.Client
}

// NewCharactersHandler creates a characters handler.
func NewCharactersHandler(client *llm.Client) *CharactersHandler {
	return &CharactersHandler{llm: client}
}

// Register registers the character routes with the API.
func (h *CharactersHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "analyzeCharacters",
		Method:      "POST",
		Path:        "/api/analyze-characters",
		Summary:     "Extract characters from story text",
		Tags:        []string{"Characters"},
	}, h.Analyze)

	huma.Register(api, huma.Operation{
		OperationID: "confirmCharacters",
		Method:      "POST",
		Path:        "/api/confirm-characters",
		Summary:     "Confirm an edited character list",
		Description: "Echoes the list back after normalizing voice assignments, so the client sees exactly what a job would use.",
		Tags:        []string{"Characters"},
	}, h.Confirm)

	huma.Register(api, huma.Operation{
		OperationID: "suggestAliases",
		Method:      "POST",
		Path:        "/api/aliases",
		Summary:     "Suggest novel aliases",
		Tags:        []string{"Characters"},
	}, h.Aliases)

	huma.Register(api, huma.Operation{
		OperationID: "listVoices",
		Method:      "GET",
		Path:        "/api/voices",
		Summary:     "List synthesis voices",
		Tags:        []string{"Characters"},
	}, h.Voices)
}

// AnalyzeCharactersInput is the character extraction request.
type AnalyzeCharactersInput struct {
	Body struct {
		Text          string `json:"text" doc:"Story text"`
		AnalysisDepth string `json:"analysis_depth,omitempty" enum:"concise,detailed"`
		ModelID       string `json:"model_id,omitempty"`
	}
}

// AnalyzeCharactersOutput is the extraction result.
type AnalyzeCharactersOutput struct {
	Body struct {
		Characters []models.Character `json:"characters"`
		Confidence float64            `json:"confidence"`
		ModelUsed  string             `json:"model_used"`
	}
}

// Analyze extracts the story's characters with voice suggestions.
func (h *CharactersHandler) Analyze(ctx context.Context, input *AnalyzeCharactersInput) (*AnalyzeCharactersOutput, error) {
	if strings.TrimSpace(input.Body.Text) == "" {
		return nil, huma.Error400BadRequest("text is required")
	}

	analysis, err := h.llm.AnalyzeCharacters(ctx, input.Body.Text, input.Body.AnalysisDepth, input.Body.ModelID)
	if err != nil {
		return nil, mapLLMError(err)
	}

	out := &AnalyzeCharactersOutput{}
	out.Body.Characters = analysis.Characters
	out.Body.Confidence = analysis.Confidence
	out.Body.ModelUsed = analysis.Model
	return out, nil
}

// ConfirmCharactersInput carries the user-edited character list.
type ConfirmCharactersInput struct {
	Body struct {
		Characters []models.Character `json:"characters"`
	}
}

// ConfirmCharactersOutput echoes the normalized list.
type ConfirmCharactersOutput struct {
	Body struct {
		Characters []models.Character `json:"characters"`
	}
}

// Confirm validates and normalizes an edited character list.
func (h *CharactersHandler) Confirm(ctx context.Context, input *ConfirmCharactersInput) (*ConfirmCharactersOutput, error) {
	for i := range input.Body.Characters {
		if err := input.Body.Characters[i].Validate(); err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
	}

	out := &ConfirmCharactersOutput{}
	out.Body.Characters = voice.Sanitize(input.Body.Characters, voice.DefaultVoiceID)
	return out, nil
}

// AliasesInput is the alias suggestion request.
type AliasesInput struct {
	Body struct {
		Text    string `json:"text" doc:"Story text"`
		Count   int    `json:"count,omitempty" minimum:"0" maximum:"20" doc:"Number of aliases, default 10"`
		ModelID string `json:"model_id,omitempty"`
	}
}

// AliasesOutput is the alias suggestion result.
type AliasesOutput struct {
	Body struct {
		Aliases   []string `json:"aliases"`
		ModelUsed string   `json:"model_used"`
	}
}

// Aliases asks the model for novel alias candidates.
func (h *CharactersHandler) Aliases(ctx context.Context, input *AliasesInput) (*AliasesOutput, error) {
	if strings.TrimSpace(input.Body.Text) == "" {
		return nil, huma.Error400BadRequest("text is required")
	}
	if input.Body.Count < 0 || input.Body.Count > 20 {
		return nil, huma.Error400BadRequest(models.ErrAliasCountOutOfRange.Error())
	}

	aliases, model, err := h.llm.SuggestAliases(ctx, input.Body.Text, input.Body.Count, input.Body.ModelID)
	if err != nil {
		return nil, mapLLMError(err)
	}

	out := &AliasesOutput{}
	out.Body.Aliases = aliases
	out.Body.ModelUsed = model
	return out, nil
}

// VoicesOutput is the voice catalog listing.
type VoicesOutput struct {
	Body struct {
		Voices []VoiceInfo `json:"voices"`
	}
}

// Voices lists the synthesis voice catalog.
func (h *CharactersHandler) Voices(ctx context.Context, _ *struct{}) (*VoicesOutput, error) {
	catalog := voice.Catalog()
	out := &VoicesOutput{}
	out.Body.Voices = make([]VoiceInfo, 0, len(catalog))
	for _, v := range catalog {
		out.Body.Voices = append(out.Body.Voices, VoiceInfo{
			ID:          v.ID,
			Name:        v.Name,
			Gender:      v.Gender,
			Age:         v.Age,
			Traits:      v.Traits,
			SuitableFor: v.SuitableFor,
		})
	}
	return out, nil
}

// mapLLMError converts provider errors into huma status errors.
func mapLLMError(err error) error {
	switch {
	case errors.Is(err, llm.ErrDisabled):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, llm.ErrUnparseableResponse), errors.Is(err, llm.ErrEmptyCharacters):
		return huma.Error502BadGateway(err.Error())
	}
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		return huma.Error502BadGateway(err.Error())
	}
	return huma.Error500InternalServerError("language model request failed", err)
}
