package registry

import (
	"strings"
	"sync"

	"github.com/antigravity-router/antigravity-proxy/internal/constant"
)

// Registry resolves client model names to catalog entries and answers model
// metadata questions. The catalog is immutable; the user route table and
// default model can be swapped by configuration reloads. Safe for concurrent
// use.
type Registry struct {
	byID map[string]*ModelDescriptor

	mu           sync.RWMutex
	userRoutes   map[string]string
	defaultModel string
}

// NewRegistry creates a model registry.
//
// Parameters:
//   - userRoutes: Optional route table mapping client names (exact or with a
//     single "*" wildcard) to catalog ids
//   - defaultModel: Catalog id used for unresolvable client names
//
// Returns:
//   - *Registry: A new registry instance
func NewRegistry(userRoutes map[string]string, defaultModel string) *Registry {
	byID := make(map[string]*ModelDescriptor, len(modelCatalog))
	for i := range modelCatalog {
		byID[modelCatalog[i].ID] = &modelCatalog[i]
	}
	return &Registry{
		byID:         byID,
		userRoutes:   userRoutes,
		defaultModel: defaultModel,
	}
}

// Models returns the full catalog in presentation order.
func (r *Registry) Models() []ModelDescriptor {
	out := make([]ModelDescriptor, len(modelCatalog))
	copy(out, modelCatalog)
	return out
}

// Resolve maps a client-supplied model name onto a canonical catalog id.
// Priority order: exact match in the user route table, glob match in the user
// route table, built-in route table, alias table. Unknown ids that start with
// "gemini-" or contain "thinking" pass through unchanged; everything else
// falls back to the configured default model.
//
// Parameters:
//   - clientModel: The model name as supplied by the client
//
// Returns:
//   - string: The canonical catalog id (or pass-through id)
func (r *Registry) Resolve(clientModel string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if target, ok := r.userRoutes[clientModel]; ok {
		return r.resolveAlias(target)
	}
	for pattern, target := range r.userRoutes {
		if matchGlob(pattern, clientModel) {
			return r.resolveAlias(target)
		}
	}
	if target, ok := builtinRoutes[clientModel]; ok {
		return target
	}
	resolved := r.resolveAlias(clientModel)
	if _, ok := r.byID[resolved]; ok {
		return resolved
	}
	if strings.HasPrefix(clientModel, "gemini-") || strings.Contains(clientModel, "thinking") {
		return clientModel
	}
	return r.defaultModel
}

// UpdateRoutes swaps the user route table and default model. Called on
// configuration reload.
func (r *Registry) UpdateRoutes(userRoutes map[string]string, defaultModel string) {
	r.mu.Lock()
	r.userRoutes = userRoutes
	if defaultModel != "" {
		r.defaultModel = defaultModel
	}
	r.mu.Unlock()
}

func (r *Registry) resolveAlias(id string) string {
	if target, ok := modelAliases[id]; ok {
		return target
	}
	return id
}

// matchGlob matches a pattern containing a single "*" wildcard with
// prefix+suffix semantics. A pattern without "*" never matches here because
// exact matches are handled before glob matching.
func matchGlob(pattern, name string) bool {
	star := strings.Index(pattern, "*")
	if star < 0 {
		return false
	}
	prefix := pattern[:star]
	suffix := pattern[star+1:]
	return len(name) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix)
}

// Describe returns the descriptor for a canonical id, or nil when the id is
// not in the catalog (pass-through models).
func (r *Registry) Describe(canonicalID string) *ModelDescriptor {
	return r.byID[canonicalID]
}

// BaseModelID returns the id sent upstream for a canonical id. Pass-through
// ids are returned unchanged.
func (r *Registry) BaseModelID(canonicalID string) string {
	if desc := r.byID[canonicalID]; desc != nil {
		return desc.BaseModelID
	}
	return canonicalID
}

// Family returns the model family for an id. Unknown ids are classified by
// prefix, defaulting to the Gemini family.
func (r *Registry) Family(id string) string {
	if desc := r.byID[id]; desc != nil {
		return desc.Family
	}
	if strings.HasPrefix(id, "claude-") {
		return constant.FamilyClaude
	}
	return constant.FamilyGemini
}

// IsThinking reports whether the model emits thought parts. Unknown ids are
// treated as thinking models when their name says so.
func (r *Registry) IsThinking(id string) bool {
	if desc := r.byID[id]; desc != nil {
		return desc.Thinking
	}
	return strings.Contains(id, "thinking")
}

// Fallbacks returns the ordered fallback chain for a model. Empty for models
// without one.
func (r *Registry) Fallbacks(id string) []string {
	if desc := r.byID[id]; desc != nil {
		return desc.Fallbacks
	}
	return nil
}

// NormalizeThinkingBudget clamps a client-supplied thinking budget into the
// model's valid range. Non-positive budgets select the model default. Unknown
// models get the budget back unchanged.
//
// Parameters:
//   - id: The canonical model id
//   - budget: The client-supplied budget, or 0 for the default
//
// Returns:
//   - int: The clamped budget
func (r *Registry) NormalizeThinkingBudget(id string, budget int) int {
	desc := r.byID[id]
	if desc == nil || !desc.Thinking {
		return budget
	}
	if budget <= 0 {
		return desc.DefaultThinkingBudget
	}
	if budget < desc.MinThinkingBudget {
		return desc.MinThinkingBudget
	}
	if budget > desc.MaxThinkingBudget {
		return desc.MaxThinkingBudget
	}
	return budget
}
