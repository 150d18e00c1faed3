// Package responses implements the OpenAI Responses dialect. Output is a
// list of items (reasoning, message, function_call); streams carry typed
// events and a final response.completed snapshot.
package responses

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
	translator.Register(constant.OpenAIResponses, func(deps translator.Deps) translator.Translator {
		return &Translator{deps: deps}
	})
}

// Translator speaks the OpenAI Responses dialect.
type Translator struct {
	deps translator.Deps
}

// Dialect returns the registered dialect name.
func (t *Translator) Dialect() string { return constant.OpenAIResponses }

var effortBudgets = map[string]int{
	"low":    1024,
	"medium": 10240,
	"high":   24576,
}

// ToInternal parses an OpenAI Responses request. Input may be a plain string
// or a list of items.
func (t *Translator) ToInternal(body []byte) (*translator.Request, error) {
	root := gjson.ParseBytes(body)
	clientModel := root.Get("model").String()
	if clientModel == "" {
		return nil, fmt.Errorf("missing required field: model")
	}

	canonical := t.deps.Registry.Resolve(clientModel)
	req := &translator.Request{
		ClientModel:    clientModel,
		CanonicalModel: canonical,
		Stream:         root.Get("stream").Bool(),
		Internal:       &ir.Request{},
	}
	internal := req.Internal

	if instructions := root.Get("instructions").String(); instructions != "" {
		internal.AppendSystemText(instructions)
	}

	input := root.Get("input")
	if input.Type == gjson.String {
		if text := input.String(); text != "" {
			internal.Contents = append(internal.Contents, ir.Content{
				Role:  "user",
				Parts: []ir.Part{{Kind: ir.PartText, Text: text}},
			})
		}
	} else if input.IsArray() {
		callNames := make(map[string]string)
		input.ForEach(func(_, item gjson.Result) bool {
			t.appendInputItem(internal, item, callNames)
			return true
		})
	} else {
		return nil, fmt.Errorf("missing required field: input")
	}

	if temperature := root.Get("temperature"); temperature.Exists() {
		v := temperature.Float()
		internal.GenerationConfig.Temperature = &v
	}
	if topP := root.Get("top_p"); topP.Exists() {
		v := topP.Float()
		internal.GenerationConfig.TopP = &v
	}
	if maxTokens := root.Get("max_output_tokens"); maxTokens.Exists() {
		internal.GenerationConfig.MaxOutputTokens = int(maxTokens.Int())
	}

	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		if tool.Get("type").String() != "function" {
			return true
		}
		internal.Tools = append(internal.Tools, ir.FunctionDeclaration{
			Name:        tool.Get("name").String(),
			Description: tool.Get("description").String(),
			Parameters:  sanitizer.SanitizeRaw([]byte(tool.Get("parameters").Raw)),
		})
		return true
	})

	req.IsThinking = t.deps.Registry.IsThinking(canonical)
	if req.IsThinking {
		budget := effortBudgets[root.Get("reasoning.effort").String()]
		req.ThinkingBudget = t.deps.Registry.NormalizeThinkingBudget(canonical, budget)
		internal.GenerationConfig.Thinking = &ir.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  req.ThinkingBudget,
		}
	}

	translator.Finalize(req, t.deps)
	return req, nil
}

func (t *Translator) appendInputItem(internal *ir.Request, item gjson.Result, callNames map[string]string) {
	itemType := item.Get("type").String()
	if itemType == "" && item.Get("role").Exists() {
		itemType = "message"
	}

	switch itemType {
	case "message":
		role := item.Get("role").String()
		text := messageText(item.Get("content"))
		switch role {
		case "system", "developer":
			if text != "" {
				internal.AppendSystemText(text)
			}
		case "user":
			if text != "" {
				internal.Contents = append(internal.Contents, ir.Content{
					Role:  "user",
					Parts: []ir.Part{{Kind: ir.PartText, Text: text}},
				})
			}
		case "assistant":
			if text != "" {
				internal.Contents = append(internal.Contents, ir.Content{
					Role:  "model",
					Parts: []ir.Part{{Kind: ir.PartText, Text: text}},
				})
			}
		}
	case "function_call":
		callID := item.Get("call_id").String()
		name := item.Get("name").String()
		if callID != "" {
			callNames[callID] = name
		}
		args := item.Get("arguments").String()
		if args == "" || !gjson.Valid(args) {
			args = "{}"
		}
		internal.Contents = append(internal.Contents, ir.Content{Role: "model", Parts: []ir.Part{{
			Kind: ir.PartFunctionCall,
			ID:   callID,
			Name: name,
			Args: json.RawMessage(args),
		}}})
	case "function_call_output":
		callID := item.Get("call_id").String()
		output := item.Get("output").String()
		var response json.RawMessage
		if gjson.Valid(output) && gjson.Parse(output).IsObject() {
			response = json.RawMessage(output)
		} else {
			wrapped, _ := sjson.Set(`{}`, "result", output)
			response = json.RawMessage(wrapped)
		}
		internal.Contents = append(internal.Contents, ir.Content{Role: "user", Parts: []ir.Part{{
			Kind:     ir.PartFunctionResponse,
			ID:       callID,
			Name:     callNames[callID],
			Response: response,
		}}})
	case "reasoning":
		// reasoning items from previous responses are not replayed upstream
	}
}

// messageText joins a string content or input_text/output_text items.
func messageText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var builder strings.Builder
	content.ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "input_text", "output_text", "text":
			builder.WriteString(item.Get("text").String())
		}
		return true
	})
	return builder.String()
}

// buildOutputItems assembles the output list from response parts: one
// reasoning item from all thought parts, one message from all plain text,
// one function_call item per call.
func buildOutputItems(parts []ir.Part) string {
	var reasoning strings.Builder
	var text strings.Builder
	var calls []ir.Part
	for _, part := range parts {
		switch part.Kind {
		case ir.PartThinking:
			reasoning.WriteString(part.Text)
		case ir.PartText:
			text.WriteString(part.Text)
		case ir.PartFunctionCall:
			calls = append(calls, part)
		}
	}

	items := `[]`
	index := 0
	if reasoning.Len() > 0 {
		prefix := fmt.Sprintf("%d", index)
		items, _ = sjson.Set(items, prefix+".type", "reasoning")
		items, _ = sjson.Set(items, prefix+".id", "rs_"+uuid.NewString())
		items, _ = sjson.Set(items, prefix+".summary.0.type", "summary_text")
		items, _ = sjson.Set(items, prefix+".summary.0.text", reasoning.String())
		index++
	}
	if text.Len() > 0 {
		prefix := fmt.Sprintf("%d", index)
		items, _ = sjson.Set(items, prefix+".type", "message")
		items, _ = sjson.Set(items, prefix+".id", "msg_"+uuid.NewString())
		items, _ = sjson.Set(items, prefix+".role", "assistant")
		items, _ = sjson.Set(items, prefix+".status", "completed")
		items, _ = sjson.Set(items, prefix+".content.0.type", "output_text")
		items, _ = sjson.Set(items, prefix+".content.0.text", text.String())
		index++
	}
	for _, call := range calls {
		prefix := fmt.Sprintf("%d", index)
		callID := call.ID
		if callID == "" {
			callID = "call_" + uuid.NewString()
		}
		items, _ = sjson.Set(items, prefix+".type", "function_call")
		items, _ = sjson.Set(items, prefix+".id", "fc_"+uuid.NewString())
		items, _ = sjson.Set(items, prefix+".call_id", callID)
		items, _ = sjson.Set(items, prefix+".name", call.Name)
		items, _ = sjson.Set(items, prefix+".arguments", string(call.Args))
		items, _ = sjson.Set(items, prefix+".status", "completed")
		index++
	}
	return items
}

func buildResponseObject(id, model, items string, usage ir.Usage, createdAt int64) string {
	out := `{"object":"response","status":"completed"}`
	out, _ = sjson.Set(out, "id", id)
	out, _ = sjson.Set(out, "created_at", createdAt)
	out, _ = sjson.Set(out, "model", model)
	out, _ = sjson.SetRaw(out, "output", items)
	out, _ = sjson.Set(out, "usage.input_tokens", usage.PromptTokens)
	out, _ = sjson.Set(out, "usage.output_tokens", usage.CandidateTokens+usage.ThoughtTokens)
	out, _ = sjson.Set(out, "usage.total_tokens", usage.TotalTokens)
	out, _ = sjson.Set(out, "usage.output_tokens_details.reasoning_tokens", usage.ThoughtTokens)
	return out
}

// FromInternal renders a complete upstream response as a Responses object.
func (t *Translator) FromInternal(resp string, req *translator.Request) ([]byte, error) {
	items := buildOutputItems(ir.ResponseParts(resp))
	out := buildResponseObject("resp_"+uuid.NewString(), req.ResponseModel(), items, ir.ParseUsage(resp), time.Now().Unix())
	return []byte(out), nil
}

type streamState struct {
	id        string
	model     string
	createdAt int64
	parts     []ir.Part
	usage     ir.Usage
}

// NewStreamState creates the Responses streaming accumulator.
func (t *Translator) NewStreamState(req *translator.Request) translator.StreamState {
	return &streamState{
		id:        "resp_" + uuid.NewString(),
		model:     req.ResponseModel(),
		createdAt: time.Now().Unix(),
	}
}

// FromInternalStream emits one typed delta event per fragment and records
// everything for the final snapshot.
func (t *Translator) FromInternalStream(state translator.StreamState, chunk string) [][]byte {
	s := state.(*streamState)
	var frames [][]byte

	for _, part := range ir.ResponseParts(chunk) {
		switch part.Kind {
		case ir.PartThinking:
			if part.Text == "" {
				continue
			}
			s.parts = append(s.parts, part)
			frames = append(frames, s.event("response.reasoning.delta", part.Text, ""))
		case ir.PartText:
			if part.Text == "" {
				continue
			}
			s.parts = append(s.parts, part)
			frames = append(frames, s.event("response.output_text.delta", part.Text, ""))
		case ir.PartFunctionCall:
			s.parts = append(s.parts, part)
			frames = append(frames, s.event("response.function_call.delta", string(part.Args), part.Name))
		}
	}

	if usage := ir.ParseUsage(chunk); usage.TotalTokens > 0 {
		s.usage = usage
	}
	return frames
}

// FinishStream emits response.completed with the assembled output, then the
// [DONE] marker.
func (t *Translator) FinishStream(state translator.StreamState) [][]byte {
	s := state.(*streamState)
	items := buildOutputItems(s.parts)
	response := buildResponseObject(s.id, s.model, items, s.usage, s.createdAt)

	payload := `{"type":"response.completed"}`
	payload, _ = sjson.SetRaw(payload, "response", response)
	frame := []byte("event: response.completed\ndata: " + payload + "\n\n")
	return [][]byte{frame, []byte("data: [DONE]\n\n")}
}

// event wraps one delta into an SSE frame.
func (s *streamState) event(eventType, delta, name string) []byte {
	payload := `{}`
	payload, _ = sjson.Set(payload, "type", eventType)
	payload, _ = sjson.Set(payload, "response_id", s.id)
	payload, _ = sjson.Set(payload, "delta", delta)
	if name != "" {
		payload, _ = sjson.Set(payload, "name", name)
	}
	return []byte("event: " + eventType + "\ndata: " + payload + "\n\n")
}
