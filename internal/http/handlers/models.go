package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/storyloom/storyloom/internal/llm"
)

// knownModels is the static catalog shown even when the provider cannot be
// probed. Probing marks entries available and appends anything new.
var knownModels = []ModelInfo{
	{ID: "gpt-4o-mini", Provider: "openai-compatible"},
	{ID: "gpt-4.1-mini", Provider: "openai-compatible"},
	{ID: "gpt-4o", Provider: "openai-compatible"},
}

// ModelsHandler serves the language model catalog.
type ModelsHandler struct {
	llm *llm.Client
}

// NewModelsHandler creates a models handler.
func NewModelsHandler(client *llm.Client) *ModelsHandler {
	return &ModelsHandler{llm: client}
}

// Register registers the model routes with the API.
func (h *ModelsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listModels",
		Method:      "GET",
		Path:        "/api/models",
		Summary:     "List language models",
		Description: "Returns the known catalog merged with whatever the provider reports. Availability is false when the provider is unreachable or unconfigured.",
		Tags:        []string{"Models"},
	}, h.List)
}

// ListModelsOutput is the model catalog listing.
type ListModelsOutput struct {
	Body struct {
		Models []ModelInfo `json:"models"`
	}
}

// List returns the merged model catalog.
func (h *ModelsHandler) List(ctx context.Context, _ *struct{}) (*ListModelsOutput, error) {
	catalog := make([]ModelInfo, len(knownModels))
	copy(catalog, knownModels)

	if h.llm.Enabled() {
		for _, id := range h.llm.ProbeModels(ctx) {
			found := false
			for i := range catalog {
				if catalog[i].ID == id {
					catalog[i].Available = true
					found = true
					break
				}
			}
			if !found {
				catalog = append(catalog, ModelInfo{ID: id, Provider: "openai-compatible", Available: true})
			}
		}
	}

	def := h.llm.DefaultModel()
	for i := range catalog {
		if catalog[i].ID == def {
			catalog[i].Default = true
		}
	}

	out := &ListModelsOutput{}
	out.Body.Models = catalog
	return out, nil
}
