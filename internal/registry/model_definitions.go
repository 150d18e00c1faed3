// Package registry holds the static model catalog and the routing logic that
// maps client-supplied model names onto catalog ids. It also answers model
// metadata questions: upstream base id, family, thinking support, fallback
// chains, and thinking-budget bounds.
package registry

import (
	"github.com/antigravity-router/antigravity-proxy/internal/constant"
)

// ModelDescriptor describes one entry of the static model catalog.
type ModelDescriptor struct {
	// ID is the stable catalog id clients address the model by.
	ID string

	// Name is the human-readable display name.
	Name string

	// BaseModelID is the id sent to the upstream. Usually equal to ID.
	BaseModelID string

	// Family is either constant.FamilyClaude or constant.FamilyGemini.
	Family string

	// ContextWindow is the maximum input context in tokens.
	ContextWindow int

	// MaxOutputTokens is the maximum number of output tokens.
	MaxOutputTokens int

	// Streaming indicates whether the model supports streamed output.
	Streaming bool

	// Thinking indicates whether the model emits thought parts.
	Thinking bool

	// DefaultThinkingBudget is the thinking budget used when the client does
	// not supply one. Meaningful only when Thinking is true.
	DefaultThinkingBudget int

	// MinThinkingBudget and MaxThinkingBudget bound client-supplied budgets.
	MinThinkingBudget int
	MaxThinkingBudget int

	// Fallbacks lists alternate catalog ids tried in order when this model's
	// quota is exhausted.
	Fallbacks []string
}

// modelCatalog is the static catalog, ordered as presented by /v1/models.
var modelCatalog = []ModelDescriptor{
	{
		ID:                    "claude-sonnet-4-5",
		Name:                  "Claude Sonnet 4.5",
		BaseModelID:           "claude-sonnet-4-5",
		Family:                constant.FamilyClaude,
		ContextWindow:         200000,
		MaxOutputTokens:       64000,
		Streaming:             true,
		Thinking:              true,
		DefaultThinkingBudget: 8192,
		MinThinkingBudget:     1024,
		MaxThinkingBudget:     32000,
	},
	{
		ID:              "claude-haiku-4-5",
		Name:            "Claude Haiku 4.5",
		BaseModelID:     "claude-haiku-4-5",
		Family:          constant.FamilyClaude,
		ContextWindow:   200000,
		MaxOutputTokens: 32000,
		Streaming:       true,
	},
	{
		ID:                    "gemini-2.5-pro",
		Name:                  "Gemini 2.5 Pro",
		BaseModelID:           "gemini-2.5-pro",
		Family:                constant.FamilyGemini,
		ContextWindow:         1048576,
		MaxOutputTokens:       65536,
		Streaming:             true,
		Thinking:              true,
		DefaultThinkingBudget: 8192,
		MinThinkingBudget:     128,
		MaxThinkingBudget:     32768,
		Fallbacks:             []string{"gemini-2.5-pro-preview"},
	},
	{
		ID:                    "gemini-2.5-pro-preview",
		Name:                  "Gemini 2.5 Pro Preview",
		BaseModelID:           "gemini-2.5-pro-preview-06-05",
		Family:                constant.FamilyGemini,
		ContextWindow:         1048576,
		MaxOutputTokens:       65536,
		Streaming:             true,
		Thinking:              true,
		DefaultThinkingBudget: 8192,
		MinThinkingBudget:     128,
		MaxThinkingBudget:     32768,
	},
	{
		ID:                    "gemini-2.5-flash",
		Name:                  "Gemini 2.5 Flash",
		BaseModelID:           "gemini-2.5-flash",
		Family:                constant.FamilyGemini,
		ContextWindow:         1048576,
		MaxOutputTokens:       65536,
		Streaming:             true,
		Thinking:              true,
		DefaultThinkingBudget: 8192,
		MinThinkingBudget:     0,
		MaxThinkingBudget:     24576,
		Fallbacks:             []string{"gemini-2.5-flash-lite"},
	},
	{
		ID:              "gemini-2.5-flash-lite",
		Name:            "Gemini 2.5 Flash Lite",
		BaseModelID:     "gemini-2.5-flash-lite",
		Family:          constant.FamilyGemini,
		ContextWindow:   1048576,
		MaxOutputTokens: 65536,
		Streaming:       true,
	},
	{
		ID:                    "gemini-3-pro-preview",
		Name:                  "Gemini 3 Pro Preview",
		BaseModelID:           "gemini-3-pro-preview",
		Family:                constant.FamilyGemini,
		ContextWindow:         1048576,
		MaxOutputTokens:       65536,
		Streaming:             true,
		Thinking:              true,
		DefaultThinkingBudget: 16384,
		MinThinkingBudget:     128,
		MaxThinkingBudget:     32768,
	},
}

// builtinRoutes maps well-known legacy client model names onto catalog ids.
// Consulted only after the user-supplied route table.
var builtinRoutes = map[string]string{
	"gpt-4o":                     "gemini-2.5-pro",
	"gpt-4o-mini":                "gemini-2.5-flash",
	"gpt-4.1":                    "gemini-2.5-pro",
	"gpt-4.1-mini":               "gemini-2.5-flash",
	"gpt-5":                      "gemini-3-pro-preview",
	"o3":                         "gemini-2.5-pro",
	"o4-mini":                    "gemini-2.5-flash",
	"claude-opus-4-1":            "claude-sonnet-4-5",
	"claude-3-7-sonnet-20250219": "claude-sonnet-4-5",
	"claude-3-5-sonnet-20241022": "claude-sonnet-4-5",
	"claude-3-5-haiku-20241022":  "claude-haiku-4-5",
}

// modelAliases maps cosmetic spellings onto catalog ids.
var modelAliases = map[string]string{
	"claude-sonnet-4.5":        "claude-sonnet-4-5",
	"claude-haiku-4.5":         "claude-haiku-4-5",
	"claude-sonnet-4-5-latest": "claude-sonnet-4-5",
	"gemini-2.5-pro-latest":    "gemini-2.5-pro",
	"gemini-2.5-flash-latest":  "gemini-2.5-flash",
	"gemini-3-pro":             "gemini-3-pro-preview",
}
