// Package claude implements the Anthropic Messages dialect, including the
// streamed event sequence (message_start, content_block_start/delta/stop,
// message_delta, message_stop).
package claude

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/antigravity-router/antigravity-proxy/internal/cache"
	"github.com/antigravity-router/antigravity-proxy/internal/constant"
	"github.com/antigravity-router/antigravity-proxy/internal/ir"
	"github.com/antigravity-router/antigravity-proxy/internal/sanitizer"
	"github.com/antigravity-router/antigravity-proxy/internal/translator"
)

func init() {
	translator.Register(constant.Claude, func(deps translator.Deps) translator.Translator {
		return &Translator{deps: deps}
	})
}

// Translator speaks the Anthropic Messages dialect.
type Translator struct {
	deps translator.Deps
}

// Dialect returns the registered dialect name.
func (t *Translator) Dialect() string { return constant.Claude }

// ToInternal parses an Anthropic Messages request.
func (t *Translator) ToInternal(body []byte) (*translator.Request, error) {
	root := gjson.ParseBytes(body)
	clientModel := root.Get("model").String()
	if clientModel == "" {
		return nil, fmt.Errorf("missing required field: model")
	}
	if !root.Get("messages").IsArray() {
		return nil, fmt.Errorf("missing required field: messages")
	}

	canonical := t.deps.Registry.Resolve(clientModel)
	req := &translator.Request{
		ClientModel:    clientModel,
		CanonicalModel: canonical,
		Stream:         root.Get("stream").Bool(),
		Internal:       &ir.Request{},
	}
	internal := req.Internal

	appendSystem(internal, root.Get("system"))

	callNames := make(map[string]string)
	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		t.appendMessage(internal, message, callNames)
		return true
	})

	if temperature := root.Get("temperature"); temperature.Exists() {
		v := temperature.Float()
		internal.GenerationConfig.Temperature = &v
	}
	if topP := root.Get("top_p"); topP.Exists() {
		v := topP.Float()
		internal.GenerationConfig.TopP = &v
	}
	if topK := root.Get("top_k"); topK.Exists() {
		v := int(topK.Int())
		internal.GenerationConfig.TopK = &v
	}
	if maxTokens := root.Get("max_tokens"); maxTokens.Exists() {
		internal.GenerationConfig.MaxOutputTokens = int(maxTokens.Int())
	}
	root.Get("stop_sequences").ForEach(func(_, stop gjson.Result) bool {
		internal.GenerationConfig.StopSequences = append(internal.GenerationConfig.StopSequences, stop.String())
		return true
	})

	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		internal.Tools = append(internal.Tools, ir.FunctionDeclaration{
			Name:        tool.Get("name").String(),
			Description: tool.Get("description").String(),
			Parameters:  sanitizer.SanitizeRaw([]byte(tool.Get("input_schema").Raw)),
		})
		return true
	})

	thinking := root.Get("thinking")
	if thinking.Get("type").String() == "enabled" && t.deps.Registry.IsThinking(canonical) {
		req.IsThinking = true
		budget := int(thinking.Get("budget_tokens").Int())
		req.ThinkingBudget = t.deps.Registry.NormalizeThinkingBudget(canonical, budget)
		internal.GenerationConfig.Thinking = &ir.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  req.ThinkingBudget,
		}
	}

	translator.Finalize(req, t.deps)
	return req, nil
}

// appendSystem folds the system field (string or text-block array) into the
// system instruction.
func appendSystem(internal *ir.Request, system gjson.Result) {
	if system.Type == gjson.String {
		if text := system.String(); text != "" {
			internal.AppendSystemText(text)
		}
		return
	}
	system.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			if text := block.Get("text").String(); text != "" {
				internal.AppendSystemText(text)
			}
		}
		return true
	})
}

func (t *Translator) appendMessage(internal *ir.Request, message gjson.Result, callNames map[string]string) {
	role := message.Get("role").String()
	content := message.Get("content")

	if role == "assistant" {
		parts := t.assistantParts(content, callNames)
		if len(parts) > 0 {
			internal.Contents = append(internal.Contents, ir.Content{Role: "model", Parts: parts})
		}
		return
	}

	// user turn: text, images, and tool results
	var parts []ir.Part
	if content.Type == gjson.String {
		if content.String() != "" {
			parts = append(parts, ir.Part{Kind: ir.PartText, Text: content.String()})
		}
	} else {
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				parts = append(parts, ir.Part{Kind: ir.PartText, Text: block.Get("text").String()})
			case "image":
				source := block.Get("source")
				if source.Get("type").String() == "base64" {
					parts = append(parts, ir.Part{
						Kind:     ir.PartInlineData,
						MimeType: source.Get("media_type").String(),
						Data:     source.Get("data").String(),
					})
				}
			case "tool_result":
				id := block.Get("tool_use_id").String()
				parts = append(parts, ir.Part{
					Kind:     ir.PartFunctionResponse,
					ID:       id,
					Name:     callNames[id],
					Response: toolResultJSON(block.Get("content")),
				})
			}
			return true
		})
	}
	if len(parts) > 0 {
		internal.Contents = append(internal.Contents, ir.Content{Role: "user", Parts: parts})
	}
}

// assistantParts converts an assistant turn. Tool-use parts inherit the
// turn's thinking signature when one is valid, otherwise the skip sentinel;
// an invalid signature is never forwarded.
func (t *Translator) assistantParts(content gjson.Result, callNames map[string]string) []ir.Part {
	var parts []ir.Part
	turnSignature := ""

	if content.Type == gjson.String {
		if content.String() != "" {
			parts = append(parts, ir.Part{Kind: ir.PartText, Text: content.String()})
		}
		return parts
	}

	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, ir.Part{Kind: ir.PartText, Text: block.Get("text").String()})
		case "thinking":
			signature := block.Get("signature").String()
			if cache.IsValidSignature(signature) {
				turnSignature = signature
			} else {
				signature = ""
			}
			parts = append(parts, ir.Part{
				Kind:      ir.PartThinking,
				Text:      block.Get("thinking").String(),
				Signature: signature,
			})
		case "redacted_thinking":
			// opaque to the proxy, dropped
		case "tool_use":
			id := block.Get("id").String()
			name := block.Get("name").String()
			if id != "" {
				callNames[id] = name
			}
			signature := turnSignature
			if signature == "" {
				signature = cache.SkipSignatureSentinel
			}
			args := block.Get("input").Raw
			if args == "" {
				args = "{}"
			}
			parts = append(parts, ir.Part{
				Kind:      ir.PartFunctionCall,
				ID:        id,
				Name:      name,
				Args:      json.RawMessage(args),
				Signature: signature,
			})
		}
		return true
	})
	return parts
}

// toolResultJSON wraps a tool_result content (string or block array) into
// the function-response object shape.
func toolResultJSON(content gjson.Result) json.RawMessage {
	if content.Type == gjson.String {
		wrapped, _ := sjson.Set(`{}`, "result", content.String())
		return json.RawMessage(wrapped)
	}
	if content.IsObject() {
		return json.RawMessage(content.Raw)
	}
	var builder strings.Builder
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			builder.WriteString(block.Get("text").String())
		}
		return true
	})
	wrapped, _ := sjson.Set(`{}`, "result", builder.String())
	return json.RawMessage(wrapped)
}

// mapStopReason converts the upstream finish reason to Anthropic vocabulary.
func mapStopReason(upstream string, hasToolUse bool) string {
	if hasToolUse {
		return "tool_use"
	}
	if upstream == "MAX_TOKENS" {
		return "max_tokens"
	}
	return "end_turn"
}

// FromInternal renders a complete upstream response as an Anthropic message.
func (t *Translator) FromInternal(resp string, req *translator.Request) ([]byte, error) {
	parts := ir.ResponseParts(resp)
	usage := ir.ParseUsage(resp)

	out := `{"type":"message","role":"assistant","stop_sequence":null}`
	out, _ = sjson.Set(out, "id", "msg_"+uuid.NewString())
	out, _ = sjson.Set(out, "model", req.ResponseModel())

	hasToolUse := false
	index := 0
	for _, part := range parts {
		prefix := fmt.Sprintf("content.%d", index)
		switch part.Kind {
		case ir.PartThinking:
			out, _ = sjson.Set(out, prefix+".type", "thinking")
			out, _ = sjson.Set(out, prefix+".thinking", part.Text)
			out, _ = sjson.Set(out, prefix+".signature", part.Signature)
		case ir.PartText:
			out, _ = sjson.Set(out, prefix+".type", "text")
			out, _ = sjson.Set(out, prefix+".text", part.Text)
		case ir.PartFunctionCall:
			hasToolUse = true
			id := part.ID
			if id == "" {
				id = "toolu_" + uuid.NewString()
			}
			out, _ = sjson.Set(out, prefix+".type", "tool_use")
			out, _ = sjson.Set(out, prefix+".id", id)
			out, _ = sjson.Set(out, prefix+".name", part.Name)
			out, _ = sjson.SetRaw(out, prefix+".input", string(part.Args))
		default:
			continue
		}
		index++
	}
	if index == 0 {
		out, _ = sjson.SetRaw(out, "content", `[]`)
	}

	out, _ = sjson.Set(out, "stop_reason", mapStopReason(ir.FinishReason(resp), hasToolUse))
	out, _ = sjson.Set(out, "usage.input_tokens", usage.PromptTokens)
	out, _ = sjson.Set(out, "usage.output_tokens", usage.CandidateTokens+usage.ThoughtTokens)
	return []byte(out), nil
}
