package claude

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/antigravity-router/antigravity-proxy/internal/cache"
	"github.com/antigravity-router/antigravity-proxy/internal/constant"
	"github.com/antigravity-router/antigravity-proxy/internal/ir"
	"github.com/antigravity-router/antigravity-proxy/internal/registry"
	"github.com/antigravity-router/antigravity-proxy/internal/translator"
)

const validSig = "c2lnbmF0dXJlLXdpdGgtZW5vdWdoLWxlbmd0aA=="

func newDeps() translator.Deps {
	return translator.Deps{
		Registry:   registry.NewRegistry(nil, "gemini-2.5-pro"),
		Signatures: cache.NewSignatureCache(),
	}
}

func newTranslator(t *testing.T, deps translator.Deps) translator.Translator {
	t.Helper()
	tr, err := translator.New(constant.Claude, deps)
	require.NoError(t, err)
	return tr
}

func TestToInternalBasics(t *testing.T) {
	tr := newTranslator(t, newDeps())
	req, err := tr.ToInternal([]byte(`{
		"model": "claude-sonnet-4-5",
		"max_tokens": 64,
		"system": "stay factual",
		"messages": [{"role": "user", "content": "Hi"}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5", req.CanonicalModel)
	internal := req.Internal
	assert.Equal(t, 64, internal.GenerationConfig.MaxOutputTokens)
	require.Len(t, internal.Contents, 1)
	assert.Contains(t, internal.SystemInstruction, "stay factual")
	assert.Contains(t, internal.SystemInstruction[0], constant.AntigravityIdentityMarker)
}

func TestThinkingConfigAndInterleavedHint(t *testing.T) {
	tr := newTranslator(t, newDeps())
	req, err := tr.ToInternal([]byte(`{
		"model": "claude-sonnet-4-5",
		"max_tokens": 64,
		"thinking": {"type": "enabled", "budget_tokens": 500},
		"tools": [{"name": "run", "input_schema": {"type": "object"}}],
		"messages": [{"role": "user", "content": "go"}]
	}`))
	require.NoError(t, err)

	assert.True(t, req.IsThinking)
	// 500 is below the model minimum and gets clamped
	assert.Equal(t, 1024, req.ThinkingBudget)

	joined := strings.Join(req.Internal.SystemInstruction, "\n")
	assert.Contains(t, joined, constant.InterleavedThinkingHint)
	assert.True(t, req.Internal.ForceValidatedTools)
}

func TestAssistantToolUseSignatures(t *testing.T) {
	deps := newDeps()
	tr := newTranslator(t, deps)

	// with a valid thinking signature, the tool_use inherits it
	req, err := tr.ToInternal([]byte(`{
		"model": "claude-sonnet-4-5",
		"max_tokens": 64,
		"messages": [
			{"role": "user", "content": "run it"},
			{"role": "assistant", "content": [
				{"type": "thinking", "thinking": "planning", "signature": "` + validSig + `"},
				{"type": "tool_use", "id": "toolu_1", "name": "run", "input": {"cmd": "ls"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "ok"}
			]}
		]
	}`))
	require.NoError(t, err)

	model := req.Internal.Contents[1]
	require.Equal(t, "model", model.Role)
	require.Len(t, model.Parts, 2)
	assert.Equal(t, validSig, model.Parts[0].Signature)
	assert.Equal(t, validSig, model.Parts[1].Signature)

	// the signature must survive into the wire body on the call part
	raw, err := req.Internal.MarshalGemini()
	require.NoError(t, err)
	call := gjson.GetBytes(raw, `contents.1.parts.#(functionCall.name=="run")`)
	require.True(t, call.Exists())
	assert.Equal(t, validSig, call.Get("thoughtSignature").String())

	result := req.Internal.Contents[2].Parts[0]
	assert.Equal(t, ir.PartFunctionResponse, result.Kind)
	assert.Equal(t, "run", result.Name)

	// without any thinking, the tool_use carries the skip sentinel
	req, err = tr.ToInternal([]byte(`{
		"model": "claude-sonnet-4-5",
		"max_tokens": 64,
		"messages": [
			{"role": "user", "content": "run it"},
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "toolu_2", "name": "run", "input": {}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_2", "content": "ok"}
			]}
		]
	}`))
	require.NoError(t, err)
	parts := req.Internal.Contents[1].Parts
	last := parts[len(parts)-1]
	assert.Equal(t, ir.PartFunctionCall, last.Kind)
	assert.Equal(t, cache.SkipSignatureSentinel, last.Signature)

	raw, err = req.Internal.MarshalGemini()
	require.NoError(t, err)
	call = gjson.GetBytes(raw, `contents.1.parts.#(functionCall.name=="run")`)
	require.True(t, call.Exists())
	assert.Equal(t, cache.SkipSignatureSentinel, call.Get("thoughtSignature").String())
}

func TestHistoricalThinkingRestoredFromCache(t *testing.T) {
	deps := newDeps()
	sessionID := cache.SessionID("run it")
	deps.Signatures.Set(sessionID, "planning", validSig)
	tr := newTranslator(t, deps)

	req, err := tr.ToInternal([]byte(`{
		"model": "claude-sonnet-4-5",
		"max_tokens": 64,
		"messages": [
			{"role": "user", "content": "run it"},
			{"role": "assistant", "content": [
				{"type": "thinking", "thinking": "planning"},
				{"type": "text", "text": "done"}
			]},
			{"role": "user", "content": "and now?"}
		]
	}`))
	require.NoError(t, err)

	model := req.Internal.Contents[1]
	require.Len(t, model.Parts, 2)
	assert.Equal(t, validSig, model.Parts[0].Signature)
}

func TestHistoricalThinkingDroppedOnCacheMiss(t *testing.T) {
	tr := newTranslator(t, newDeps())
	req, err := tr.ToInternal([]byte(`{
		"model": "claude-sonnet-4-5",
		"max_tokens": 64,
		"messages": [
			{"role": "user", "content": "run it"},
			{"role": "assistant", "content": [
				{"type": "thinking", "thinking": "never cached"},
				{"type": "text", "text": "done"}
			]},
			{"role": "user", "content": "and now?"}
		]
	}`))
	require.NoError(t, err)

	model := req.Internal.Contents[1]
	require.Len(t, model.Parts, 1)
	assert.Equal(t, ir.PartText, model.Parts[0].Kind)
}

func TestFromInternalBatch(t *testing.T) {
	tr := newTranslator(t, newDeps())
	req := &translator.Request{CanonicalModel: "claude-sonnet-4-5"}
	upstream := `{"candidates":[{"content":{"parts":[
		{"text":"let me think","thought":true,"thoughtSignature":"` + validSig + `"},
		{"text":"Hello!"},
		{"functionCall":{"id":"tool-call-1","name":"run","args":{"cmd":"ls"}}}
	]},"finishReason":"STOP"}],
	"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":8,"thoughtsTokenCount":3,"totalTokenCount":13}}`

	out, err := tr.FromInternal(upstream, req)
	require.NoError(t, err)

	body := gjson.ParseBytes(out)
	content := body.Get("content").Array()
	require.Len(t, content, 3)
	assert.Equal(t, "thinking", content[0].Get("type").String())
	assert.Equal(t, validSig, content[0].Get("signature").String())
	assert.Equal(t, "text", content[1].Get("type").String())
	assert.Equal(t, "tool_use", content[2].Get("type").String())
	assert.JSONEq(t, `{"cmd":"ls"}`, content[2].Get("input").Raw)
	assert.Equal(t, "tool_use", body.Get("stop_reason").String())
	assert.Equal(t, int64(11), body.Get("usage.output_tokens").Int())
}

// eventNames extracts the event line of each SSE frame.
func eventNames(frames [][]byte) []string {
	var names []string
	for _, f := range frames {
		line := strings.Split(string(f), "\n")[0]
		names = append(names, strings.TrimPrefix(line, "event: "))
	}
	return names
}

func TestHappyStreamEventSequence(t *testing.T) {
	tr := newTranslator(t, newDeps())
	req := &translator.Request{CanonicalModel: "claude-sonnet-4-5"}
	state := tr.NewStreamState(req)

	chunk := `{"candidates":[{"content":{"parts":[{"text":"Hello!"}]},"finishReason":"STOP"}],
		"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":2,"totalTokenCount":3}}`
	frames := tr.FromInternalStream(state, chunk)
	frames = append(frames, tr.FinishStream(state)...)

	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(frames))

	// delta carries the text, message_delta the stop reason
	delta := gjson.Parse(strings.Split(string(frames[2]), "data: ")[1])
	assert.Equal(t, "text_delta", delta.Get("delta.type").String())
	assert.Equal(t, "Hello!", delta.Get("delta.text").String())

	messageDelta := gjson.Parse(strings.Split(string(frames[4]), "data: ")[1])
	assert.Equal(t, "end_turn", messageDelta.Get("delta.stop_reason").String())
	assert.Equal(t, int64(2), messageDelta.Get("usage.output_tokens").Int())
}

func TestStreamThinkingThenToolUse(t *testing.T) {
	tr := newTranslator(t, newDeps())
	req := &translator.Request{CanonicalModel: "claude-sonnet-4-5"}
	state := tr.NewStreamState(req)

	var frames [][]byte
	frames = append(frames, tr.FromInternalStream(state,
		`{"candidates":[{"content":{"parts":[{"text":"plan","thought":true,"thoughtSignature":"`+validSig+`"}]}}]}`)...)
	frames = append(frames, tr.FromInternalStream(state,
		`{"candidates":[{"content":{"parts":[{"functionCall":{"id":"t1","name":"run","args":{}}}]},"finishReason":"STOP"}]}`)...)
	frames = append(frames, tr.FinishStream(state)...)

	assert.Equal(t, []string{
		"message_start",
		"content_block_start", // thinking, index 0
		"content_block_delta", // thinking_delta
		"content_block_delta", // signature_delta
		"content_block_stop",  // close thinking
		"content_block_start", // tool_use, index 1
		"content_block_delta", // input_json_delta
		"content_block_stop",  // tool_use closes immediately
		"message_delta",
		"message_stop",
	}, eventNames(frames))

	messageDelta := gjson.Parse(strings.Split(string(frames[8]), "data: ")[1])
	assert.Equal(t, "tool_use", messageDelta.Get("delta.stop_reason").String())
}
