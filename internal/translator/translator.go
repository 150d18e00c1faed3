// Package translator defines the dialect-translator contract and the registry
// that resolves a dialect name to its implementation. Each dialect package
// registers a factory from its init function; the API server instantiates
// translators through New.
package translator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/antigravity-router/antigravity-proxy/internal/cache"
	"github.com/antigravity-router/antigravity-proxy/internal/constant"
	"github.com/antigravity-router/antigravity-proxy/internal/ir"
	"github.com/antigravity-router/antigravity-proxy/internal/registry"
)

// Deps carries the shared collaborators every translator needs.
type Deps struct {
	Registry   *registry.Registry
	Signatures *cache.SignatureCache
}

// Request is the dialect-independent outcome of parsing a client request.
type Request struct {
	// Internal is the normalized internal request.
	Internal *ir.Request

	// ClientModel is the model name exactly as the client sent it.
	ClientModel string

	// CanonicalModel is the resolved catalog id.
	CanonicalModel string

	// ServedModel is set by the orchestrator once an attempt succeeds; it
	// may differ from CanonicalModel after a quota fallback.
	ServedModel string

	// Stream reports whether the client asked for a streamed response.
	Stream bool

	// IsThinking and ThinkingBudget describe the reasoning configuration.
	IsThinking     bool
	ThinkingBudget int
}

// ResponseModel returns the model name reported back to the client.
func (r *Request) ResponseModel() string {
	if r.ServedModel != "" {
		return r.ServedModel
	}
	return r.CanonicalModel
}

// StreamState is a per-request, dialect-private streaming accumulator.
type StreamState interface{}

// Translator converts between one client dialect and the internal form.
type Translator interface {
	// Dialect returns the registered dialect name.
	Dialect() string

	// ToInternal parses a client request body into internal form.
	ToInternal(body []byte) (*Request, error)

	// FromInternal renders a complete upstream response in the dialect's
	// batch wire format.
	FromInternal(resp string, req *Request) ([]byte, error)

	// NewStreamState creates the per-request streaming accumulator.
	NewStreamState(req *Request) StreamState

	// FromInternalStream renders one upstream chunk as zero or more complete
	// SSE frames.
	FromInternalStream(state StreamState, chunk string) [][]byte

	// FinishStream closes the stream, returning the trailing frames.
	FinishStream(state StreamState) [][]byte
}

// Factory builds a translator from its dependencies.
type Factory func(deps Deps) Translator

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register installs a dialect factory. Called from dialect package init
// functions; duplicate registration panics.
func Register(dialect string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, exists := factories[dialect]; exists {
		panic(fmt.Sprintf("translator: duplicate registration for dialect %q", dialect))
	}
	factories[dialect] = factory
}

// New resolves a dialect name to a translator instance.
//
// Parameters:
//   - dialect: The registered dialect name
//   - deps: The shared collaborators
//
// Returns:
//   - Translator: The dialect translator
//   - error: An error when the dialect is unknown
func New(dialect string, deps Deps) (Translator, error) {
	factoriesMu.RLock()
	factory, ok := factories[dialect]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("translator: unknown dialect %q", dialect)
	}
	return factory(deps), nil
}

// Finalize applies the dialect-independent tail of request translation:
// session-id derivation, content normalization, product-identity injection,
// and the interleaved-thinking hint for Claude thinking models with tools.
//
// Parameters:
//   - req: The partially built request (Internal populated)
//   - deps: The shared collaborators
func Finalize(req *Request, deps Deps) {
	internal := req.Internal
	internal.SessionID = cache.SessionID(ir.FirstUserText(internal.Contents))
	internal.Contents = ir.Normalize(internal.Contents, internal.SessionID, deps.Signatures)

	if !hasIdentityMarker(internal.SystemInstruction) {
		internal.PrependSystemText(
			constant.AntigravityIdentity,
			constant.AntigravityIdentityWrapper,
		)
	}

	family := deps.Registry.Family(req.CanonicalModel)
	if family == constant.FamilyClaude {
		internal.ForceValidatedTools = internal.HasTools()
		if req.IsThinking && internal.HasTools() {
			internal.AppendSystemText(constant.InterleavedThinkingHint)
		}
	}
}

func hasIdentityMarker(instruction []string) bool {
	for _, text := range instruction {
		if strings.Contains(text, constant.AntigravityIdentityMarker) {
			return true
		}
	}
	return false
}
