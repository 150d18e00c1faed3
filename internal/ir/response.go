package ir

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Usage carries the upstream token accounting.
type Usage struct {
	PromptTokens    int
	CandidateTokens int
	ThoughtTokens   int
	TotalTokens     int
}

// ResponseParts parses the parts of the first candidate of an
// envelope-unwrapped upstream response (batch body or stream chunk).
//
// Parameters:
//   - raw: The response JSON
//
// Returns:
//   - []Part: The decoded parts, in wire order
func ResponseParts(raw string) []Part {
	var out []Part
	gjson.Get(raw, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		out = append(out, decodeResponsePart(part))
		return true
	})
	return out
}

func decodeResponsePart(part gjson.Result) Part {
	if call := part.Get("functionCall"); call.Exists() {
		return Part{
			Kind: PartFunctionCall,
			ID:   call.Get("id").String(),
			Name: call.Get("name").String(),
			Args: json.RawMessage(call.Get("args").Raw),
		}
	}
	if resp := part.Get("functionResponse"); resp.Exists() {
		return Part{
			Kind:     PartFunctionResponse,
			ID:       resp.Get("id").String(),
			Name:     resp.Get("name").String(),
			Response: json.RawMessage(resp.Get("response").Raw),
		}
	}
	if inline := part.Get("inlineData"); inline.Exists() {
		return Part{
			Kind:     PartInlineData,
			MimeType: inline.Get("mimeType").String(),
			Data:     inline.Get("data").String(),
		}
	}
	if part.Get("thought").Bool() {
		return Part{
			Kind:      PartThinking,
			Text:      part.Get("text").String(),
			Signature: part.Get("thoughtSignature").String(),
		}
	}
	return Part{Kind: PartText, Text: part.Get("text").String()}
}

// FinishReason returns the first candidate's finishReason, or "".
func FinishReason(raw string) string {
	return gjson.Get(raw, "candidates.0.finishReason").String()
}

// ParseUsage reads the usageMetadata block of a response.
func ParseUsage(raw string) Usage {
	meta := gjson.Get(raw, "usageMetadata")
	return Usage{
		PromptTokens:    int(meta.Get("promptTokenCount").Int()),
		CandidateTokens: int(meta.Get("candidatesTokenCount").Int()),
		ThoughtTokens:   int(meta.Get("thoughtsTokenCount").Int()),
		TotalTokens:     int(meta.Get("totalTokenCount").Int()),
	}
}

// ResponseModelVersion returns the modelVersion reported by the upstream.
func ResponseModelVersion(raw string) string {
	return gjson.Get(raw, "modelVersion").String()
}
