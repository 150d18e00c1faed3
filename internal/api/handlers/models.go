package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-router/antigravity-proxy/internal/registry"
)

// modelCreated is the fixed creation timestamp reported for catalog entries.
const modelCreated = 1735689600

// ModelsHandler serves the model catalog.
type ModelsHandler struct {
	registry *registry.Registry
}

// NewModelsHandler creates the catalog handler.
func NewModelsHandler(reg *registry.Registry) *ModelsHandler {
	return &ModelsHandler{registry: reg}
}

// List handles GET /v1/models with an OpenAI-style list envelope extended
// with per-model capability metadata.
func (h *ModelsHandler) List(c *gin.Context) {
	catalog := h.registry.Models()
	data := make([]gin.H, 0, len(catalog))
	for _, model := range catalog {
		data = append(data, gin.H{
			"id":                model.ID,
			"object":            "model",
			"created":           modelCreated,
			"owned_by":          model.Family,
			"display_name":      model.Name,
			"context_window":    model.ContextWindow,
			"max_output_tokens": model.MaxOutputTokens,
			"capabilities": gin.H{
				"streaming": model.Streaming,
				"reasoning": model.Thinking,
			},
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}
