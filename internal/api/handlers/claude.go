package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"

	"github.com/antigravity-router/antigravity-proxy/internal/constant"
	"github.com/antigravity-router/antigravity-proxy/internal/proxy"
	"github.com/antigravity-router/antigravity-proxy/internal/translator"
)

// ClaudeHandler serves the Anthropic Messages endpoint.
type ClaudeHandler struct {
	orchestrator *proxy.Orchestrator
	messages     translator.Translator
}

// NewClaudeHandler creates the Anthropic-dialect handler.
//
// Parameters:
//   - deps: The shared handler dependencies
//
// Returns:
//   - *ClaudeHandler: The handler
//   - error: An error when the dialect translator is missing
func NewClaudeHandler(deps Deps) (*ClaudeHandler, error) {
	messages, err := translator.New(constant.Claude, deps.TranslatorDeps())
	if err != nil {
		return nil, err
	}
	return &ClaudeHandler{orchestrator: deps.Orchestrator, messages: messages}, nil
}

// Messages handles POST /v1/messages.
func (h *ClaudeHandler) Messages(c *gin.Context) {
	Handle(c, h.orchestrator, h.messages, claudeErrors{})
}

// claudeErrors renders Anthropic-style error envelopes.
type claudeErrors struct{}

func (claudeErrors) WriteError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    "api_error",
			"message": message,
		},
	})
}

func (claudeErrors) ErrorFrame(message string) []byte {
	payload := `{"type":"error","error":{"type":"api_error","message":""}}`
	payload, _ = sjson.Set(payload, "error.message", message)
	return []byte(fmt.Sprintf("event: error\ndata: %s\n\n", payload))
}
