// Package openai implements the OpenAI Chat Completions dialect: request
// parsing into the internal form, and batch plus streaming response
// rendering.
package openai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/antigravity-router/antigravity-proxy/internal/constant"
	"github.com/antigravity-router/antigravity-proxy/internal/ir"
	"github.com/antigravity-router/antigravity-proxy/internal/sanitizer"
	"github.com/antigravity-router/antigravity-proxy/internal/translator"
)

func init() {
	translator.Register(constant.OpenAI, func(deps translator.Deps) translator.Translator {
		return &Translator{deps: deps}
	})
}

// Translator speaks the OpenAI Chat Completions dialect.
type Translator struct {
	deps translator.Deps
}

// Dialect returns the registered dialect name.
func (t *Translator) Dialect() string { return constant.OpenAI }

// effortBudgets maps reasoning_effort onto thinking budgets before clamping.
var effortBudgets = map[string]int{
	"low":    1024,
	"medium": 10240,
	"high":   24576,
}

// ToInternal parses an OpenAI chat completion request.
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
	if maxTokens := root.Get("max_completion_tokens"); maxTokens.Exists() {
		internal.GenerationConfig.MaxOutputTokens = int(maxTokens.Int())
	} else if maxTokens = root.Get("max_tokens"); maxTokens.Exists() {
		internal.GenerationConfig.MaxOutputTokens = int(maxTokens.Int())
	}
	appendStopSequences(internal, root.Get("stop"))

	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		if tool.Get("type").String() != "function" {
			return true
		}
		fn := tool.Get("function")
		internal.Tools = append(internal.Tools, ir.FunctionDeclaration{
			Name:        fn.Get("name").String(),
			Description: fn.Get("description").String(),
			Parameters:  sanitizer.SanitizeRaw([]byte(fn.Get("parameters").Raw)),
		})
		return true
	})

	req.IsThinking = t.deps.Registry.IsThinking(canonical)
	if req.IsThinking {
		budget := 0
		if effort := root.Get("reasoning_effort").String(); effort != "" {
			budget = effortBudgets[effort]
		}
		req.ThinkingBudget = t.deps.Registry.NormalizeThinkingBudget(canonical, budget)
		internal.GenerationConfig.Thinking = &ir.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  req.ThinkingBudget,
		}
	}

	translator.Finalize(req, t.deps)
	return req, nil
}

// appendMessage converts one chat message into internal content, folding
// system messages into the system instruction and tool results into
// user-role function responses.
func (t *Translator) appendMessage(internal *ir.Request, message gjson.Result, callNames map[string]string) {
	role := message.Get("role").String()
	content := message.Get("content")

	switch role {
	case "system", "developer":
		if text := flattenText(content); text != "" {
			internal.AppendSystemText(text)
		}
	case "user":
		parts := userParts(content)
		if len(parts) > 0 {
			internal.Contents = append(internal.Contents, ir.Content{Role: "user", Parts: parts})
		}
	case "assistant":
		var parts []ir.Part
		if text := flattenText(content); text != "" {
			parts = append(parts, ir.Part{Kind: ir.PartText, Text: text})
		}
		message.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
			id := call.Get("id").String()
			name := call.Get("function.name").String()
			if id != "" {
				callNames[id] = name
			}
			parts = append(parts, ir.Part{
				Kind: ir.PartFunctionCall,
				ID:   id,
				Name: name,
				Args: argumentsJSON(call.Get("function.arguments")),
			})
			return true
		})
		if len(parts) > 0 {
			internal.Contents = append(internal.Contents, ir.Content{Role: "model", Parts: parts})
		}
	case "tool":
		id := message.Get("tool_call_id").String()
		name := message.Get("name").String()
		if name == "" {
			name = callNames[id]
		}
		internal.Contents = append(internal.Contents, ir.Content{Role: "user", Parts: []ir.Part{{
			Kind:     ir.PartFunctionResponse,
			ID:       id,
			Name:     name,
			Response: toolResultJSON(content),
		}}})
	}
}

// appendStopSequences records the request's stop field, which may be a
// single string or an array of strings.
func appendStopSequences(internal *ir.Request, stop gjson.Result) {
	if !stop.Exists() {
		return
	}
	if stop.IsArray() {
		stop.ForEach(func(_, item gjson.Result) bool {
			internal.GenerationConfig.StopSequences = append(internal.GenerationConfig.StopSequences, item.String())
			return true
		})
		return
	}
	internal.GenerationConfig.StopSequences = append(internal.GenerationConfig.StopSequences, stop.String())
}

// flattenText joins a string content or the text items of a content array.
func flattenText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var builder strings.Builder
	content.ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() == "text" {
			builder.WriteString(item.Get("text").String())
		}
		return true
	})
	return builder.String()
}

// userParts converts user content into text and inline-binary parts.
// Data-URI images become inline data; remote URLs are not fetched.
func userParts(content gjson.Result) []ir.Part {
	if content.Type == gjson.String {
		if content.String() == "" {
			return nil
		}
		return []ir.Part{{Kind: ir.PartText, Text: content.String()}}
	}
	var parts []ir.Part
	content.ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "text":
			parts = append(parts, ir.Part{Kind: ir.PartText, Text: item.Get("text").String()})
		case "image_url":
			if mime, data, ok := parseDataURI(item.Get("image_url.url").String()); ok {
				parts = append(parts, ir.Part{Kind: ir.PartInlineData, MimeType: mime, Data: data})
			}
		}
		return true
	})
	return parts
}

// parseDataURI splits "data:<mime>;base64,<data>".
func parseDataURI(uri string) (mime, data string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}
	meta, payload, found := strings.Cut(uri[len("data:"):], ",")
	if !found {
		return "", "", false
	}
	mime = strings.TrimSuffix(meta, ";base64")
	return mime, payload, mime != ""
}

// argumentsJSON decodes the stringified arguments of a tool call.
func argumentsJSON(arguments gjson.Result) json.RawMessage {
	raw := arguments.String()
	if raw == "" || !gjson.Valid(raw) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(raw)
}

// toolResultJSON wraps a tool message's content into the object shape the
// upstream expects for function responses.
func toolResultJSON(content gjson.Result) json.RawMessage {
	text := flattenText(content)
	if gjson.Valid(text) && gjson.Parse(text).IsObject() {
		return json.RawMessage(text)
	}
	wrapped, _ := sjson.Set(`{}`, "result", text)
	return json.RawMessage(wrapped)
}

// mapFinishReason converts the upstream finish reason to OpenAI vocabulary.
// Any function call in the output promotes the reason to tool_calls.
func mapFinishReason(upstream string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	switch upstream {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return ""
	}
}

// FromInternal renders a complete upstream response as an OpenAI chat
// completion.
func (t *Translator) FromInternal(resp string, req *translator.Request) ([]byte, error) {
	parts := ir.ResponseParts(resp)
	usage := ir.ParseUsage(resp)

	var text strings.Builder
	var toolCalls []ir.Part
	for _, part := range parts {
		switch part.Kind {
		case ir.PartText:
			text.WriteString(part.Text)
		case ir.PartFunctionCall:
			toolCalls = append(toolCalls, part)
		}
	}

	out := `{"object":"chat.completion"}`
	out, _ = sjson.Set(out, "id", "chatcmpl-"+uuid.NewString())
	out, _ = sjson.Set(out, "created", time.Now().Unix())
	out, _ = sjson.Set(out, "model", req.ResponseModel())
	out, _ = sjson.Set(out, "choices.0.index", 0)
	out, _ = sjson.Set(out, "choices.0.message.role", "assistant")
	out, _ = sjson.Set(out, "choices.0.message.content", text.String())
	for i, call := range toolCalls {
		prefix := fmt.Sprintf("choices.0.message.tool_calls.%d", i)
		out, _ = sjson.Set(out, prefix+".id", call.ID)
		out, _ = sjson.Set(out, prefix+".type", "function")
		out, _ = sjson.Set(out, prefix+".function.name", call.Name)
		out, _ = sjson.Set(out, prefix+".function.arguments", string(call.Args))
	}
	finish := mapFinishReason(ir.FinishReason(resp), len(toolCalls) > 0)
	if finish == "" {
		out, _ = sjson.Set(out, "choices.0.finish_reason", nil)
	} else {
		out, _ = sjson.Set(out, "choices.0.finish_reason", finish)
	}
	out, _ = sjson.Set(out, "usage.prompt_tokens", usage.PromptTokens)
	out, _ = sjson.Set(out, "usage.completion_tokens", usage.CandidateTokens+usage.ThoughtTokens)
	out, _ = sjson.Set(out, "usage.total_tokens", usage.TotalTokens)
	out, _ = sjson.Set(out, "usage.completion_tokens_details.reasoning_tokens", usage.ThoughtTokens)
	return []byte(out), nil
}

// streamState accumulates per-request streaming context.
type streamState struct {
	id            string
	created       int64
	model         string
	sentRole      bool
	toolCallIndex int
	sawToolCall   bool
	finishReason  string
	usage         ir.Usage
}

// NewStreamState creates the chat-completions streaming accumulator.
func (t *Translator) NewStreamState(req *translator.Request) translator.StreamState {
	return &streamState{
		id:      "chatcmpl-" + uuid.NewString(),
		created: time.Now().Unix(),
		model:   req.ResponseModel(),
	}
}

// FromInternalStream renders one upstream chunk as chat.completion.chunk
// frames. Thought parts are dropped from the output.
func (t *Translator) FromInternalStream(state translator.StreamState, chunk string) [][]byte {
	s := state.(*streamState)
	var frames [][]byte

	for _, part := range ir.ResponseParts(chunk) {
		switch part.Kind {
		case ir.PartText:
			if part.Text == "" {
				continue
			}
			delta := `{}`
			if !s.sentRole {
				delta, _ = sjson.Set(delta, "role", "assistant")
				s.sentRole = true
			}
			delta, _ = sjson.Set(delta, "content", part.Text)
			frames = append(frames, s.frame(delta, ""))
		case ir.PartFunctionCall:
			delta := `{}`
			if !s.sentRole {
				delta, _ = sjson.Set(delta, "role", "assistant")
				s.sentRole = true
			}
			prefix := "tool_calls.0"
			delta, _ = sjson.Set(delta, prefix+".index", s.toolCallIndex)
			delta, _ = sjson.Set(delta, prefix+".id", part.ID)
			delta, _ = sjson.Set(delta, prefix+".type", "function")
			delta, _ = sjson.Set(delta, prefix+".function.name", part.Name)
			delta, _ = sjson.Set(delta, prefix+".function.arguments", string(part.Args))
			s.toolCallIndex++
			s.sawToolCall = true
			frames = append(frames, s.frame(delta, ""))
		}
	}

	if reason := ir.FinishReason(chunk); reason != "" {
		s.finishReason = reason
	}
	if usage := ir.ParseUsage(chunk); usage.TotalTokens > 0 {
		s.usage = usage
	}
	return frames
}

// FinishStream emits the closing finish_reason delta and the [DONE] marker.
func (t *Translator) FinishStream(state translator.StreamState) [][]byte {
	s := state.(*streamState)
	finish := mapFinishReason(s.finishReason, s.sawToolCall)
	if finish == "" {
		finish = "stop"
	}
	closing := s.frame(`{}`, finish)
	return [][]byte{closing, []byte("data: [DONE]\n\n")}
}

// frame wraps a delta object into a complete chat.completion.chunk SSE frame.
func (s *streamState) frame(delta, finishReason string) []byte {
	out := `{"object":"chat.completion.chunk"}`
	out, _ = sjson.Set(out, "id", s.id)
	out, _ = sjson.Set(out, "created", s.created)
	out, _ = sjson.Set(out, "model", s.model)
	out, _ = sjson.Set(out, "choices.0.index", 0)
	out, _ = sjson.SetRaw(out, "choices.0.delta", delta)
	if finishReason == "" {
		out, _ = sjson.Set(out, "choices.0.finish_reason", nil)
	} else {
		out, _ = sjson.Set(out, "choices.0.finish_reason", finishReason)
	}
	return []byte("data: " + out + "\n\n")
}
