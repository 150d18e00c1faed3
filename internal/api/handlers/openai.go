package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/antigravity-router/antigravity-proxy/internal/constant"
	"github.com/antigravity-router/antigravity-proxy/internal/proxy"
	"github.com/antigravity-router/antigravity-proxy/internal/translator"
)

// OpenAIHandler serves the Chat Completions and Responses endpoints.
type OpenAIHandler struct {
	orchestrator *proxy.Orchestrator
	chat         translator.Translator
	responses    translator.Translator
}

// NewOpenAIHandler creates the OpenAI-dialect handler.
//
// Parameters:
//   - deps: The shared handler dependencies
//
// Returns:
//   - *OpenAIHandler: The handler
//   - error: An error when a dialect translator is missing
func NewOpenAIHandler(deps Deps) (*OpenAIHandler, error) {
	chat, err := translator.New(constant.OpenAI, deps.TranslatorDeps())
	if err != nil {
		return nil, err
	}
	responses, err := translator.New(constant.OpenAIResponses, deps.TranslatorDeps())
	if err != nil {
		return nil, err
	}
	return &OpenAIHandler{
		orchestrator: deps.Orchestrator,
		chat:         chat,
		responses:    responses,
	}, nil
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	Handle(c, h.orchestrator, h.chat, openAIErrors{})
}

// Responses handles POST /v1/responses.
func (h *OpenAIHandler) Responses(c *gin.Context) {
	Handle(c, h.orchestrator, h.responses, openAIErrors{})
}

// openAIErrors renders OpenAI-style error envelopes. OpenAI streams carry no
// error frame; the connection is simply closed.
type openAIErrors struct{}

func (openAIErrors) WriteError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "api_error",
		},
	})
}

func (openAIErrors) ErrorFrame(string) []byte { return nil }
