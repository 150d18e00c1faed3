package ir

import (
	"fmt"

	"github.com/antigravity-router/antigravity-proxy/internal/cache"
)

// recoveredThinkingStub is the text of the synthesized thinking part inserted
// by RecoverConversationState.
const recoveredThinkingStub = "Reviewing the tool results to continue."

// Normalize runs the full content-normalization pipeline on a conversation:
// tool-call id matching, signature restoration, conversation-state recovery,
// and thinking-part ordering. The slice is modified in place and returned
// (contents may be dropped when they end up empty).
//
// Parameters:
//   - contents: The conversation turns
//   - sessionID: The signature-cache session key
//   - signatures: The process-wide signature cache (may be nil)
//
// Returns:
//   - []Content: The normalized conversation
func Normalize(contents []Content, sessionID string, signatures *cache.SignatureCache) []Content {
	NormalizeToolIDs(contents)
	contents = RestoreSignatures(contents, sessionID, signatures)
	RecoverConversationState(contents)
	EnsureThinkingFirst(contents)
	return contents
}

// FirstUserText returns the text of the first user turn's first text part,
// used to derive the stable session id.
func FirstUserText(contents []Content) string {
	for _, content := range contents {
		if content.Role != "user" {
			continue
		}
		for _, part := range content.Parts {
			if part.Kind == PartText && part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}

// NormalizeToolIDs gives every function-call part a deterministic id and
// matches function-response parts to them FIFO per function name. Calls that
// already carry an id keep it; their id still enters the per-name queue so
// later responses pair up in order.
func NormalizeToolIDs(contents []Content) {
	counter := 0
	queues := make(map[string][]string)
	for ci := range contents {
		for pi := range contents[ci].Parts {
			part := &contents[ci].Parts[pi]
			switch part.Kind {
			case PartFunctionCall:
				if part.ID == "" {
					counter++
					part.ID = fmt.Sprintf("tool-call-%d", counter)
				}
				queues[part.Name] = append(queues[part.Name], part.ID)
			case PartFunctionResponse:
				if part.ID != "" {
					continue
				}
				queue := queues[part.Name]
				if len(queue) > 0 {
					part.ID = queue[0]
					queues[part.Name] = queue[1:]
				}
			}
		}
	}
}

// RestoreSignatures walks the assistant turns and fills missing thinking
// signatures from the cache. A thinking part that still lacks a valid
// signature after lookup is dropped rather than sent upstream with a guessed
// one. Turns left without parts are removed.
func RestoreSignatures(contents []Content, sessionID string, signatures *cache.SignatureCache) []Content {
	out := contents[:0]
	for _, content := range contents {
		if content.Role != "model" {
			out = append(out, content)
			continue
		}
		kept := content.Parts[:0]
		for _, part := range content.Parts {
			if part.Kind != PartThinking {
				kept = append(kept, part)
				continue
			}
			if cache.IsValidSignature(part.Signature) || part.Signature == cache.SkipSignatureSentinel {
				kept = append(kept, part)
				continue
			}
			if signatures != nil {
				if sig := signatures.Get(sessionID, part.Text); sig != "" {
					part.Signature = sig
					kept = append(kept, part)
					continue
				}
			}
			// no cached signature, drop the thinking part
		}
		content.Parts = kept
		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}

// RecoverConversationState repairs a transcript whose last assistant turn
// called tools without any thinking while tool results are already pending:
// the upstream expects such a turn to open with a thought, so a stub thinking
// part carrying the skip sentinel is inserted.
func RecoverConversationState(contents []Content) {
	lastModel := -1
	for i := range contents {
		if contents[i].Role == "model" {
			lastModel = i
		}
	}
	if lastModel < 0 {
		return
	}

	hasThinking := false
	hasToolCall := false
	for _, part := range contents[lastModel].Parts {
		switch part.Kind {
		case PartThinking:
			hasThinking = true
		case PartFunctionCall:
			hasToolCall = true
		}
	}

	pendingResults := false
	for _, content := range contents[lastModel+1:] {
		for _, part := range content.Parts {
			if part.Kind == PartFunctionResponse {
				pendingResults = true
			}
		}
	}

	if hasToolCall && !hasThinking && pendingResults {
		stub := Part{
			Kind:      PartThinking,
			Text:      recoveredThinkingStub,
			Signature: cache.SkipSignatureSentinel,
		}
		contents[lastModel].Parts = append([]Part{stub}, contents[lastModel].Parts...)
	}
}

// EnsureThinkingFirst reorders each assistant turn so thinking parts precede
// all other parts, preserving relative order within each group.
func EnsureThinkingFirst(contents []Content) {
	for ci := range contents {
		if contents[ci].Role != "model" {
			continue
		}
		parts := contents[ci].Parts
		needsReorder := false
		seenOther := false
		for _, part := range parts {
			if part.Kind == PartThinking {
				if seenOther {
					needsReorder = true
					break
				}
			} else {
				seenOther = true
			}
		}
		if !needsReorder {
			continue
		}
		thinking := make([]Part, 0, len(parts))
		rest := make([]Part, 0, len(parts))
		for _, part := range parts {
			if part.Kind == PartThinking {
				thinking = append(thinking, part)
			} else {
				rest = append(rest, part)
			}
		}
		contents[ci].Parts = append(thinking, rest...)
	}
}

// CacheResponseSignatures records every signed thinking part of an upstream
// response into the signature cache.
func CacheResponseSignatures(parts []Part, sessionID string, signatures *cache.SignatureCache) {
	if signatures == nil {
		return
	}
	for _, part := range parts {
		if part.Kind == PartThinking && part.Text != "" {
			signatures.Set(sessionID, part.Text, part.Signature)
		}
	}
}
