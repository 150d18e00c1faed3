package responses

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

func newTranslator(t *testing.T) translator.Translator {
	t.Helper()
	deps := translator.Deps{
		Registry:   registry.NewRegistry(nil, "gemini-2.5-pro"),
		Signatures: cache.NewSignatureCache(),
	}
	tr, err := translator.New(constant.OpenAIResponses, deps)
	require.NoError(t, err)
	return tr
}

func TestToInternalStringInput(t *testing.T) {
	tr := newTranslator(t)
	req, err := tr.ToInternal([]byte(`{
		"model": "gemini-2.5-pro",
		"instructions": "be terse",
		"input": "Hi"
	}`))
	require.NoError(t, err)

	internal := req.Internal
	require.Len(t, internal.Contents, 1)
	assert.Equal(t, "Hi", internal.Contents[0].Parts[0].Text)
	assert.Contains(t, internal.SystemInstruction, "be terse")
}

func TestToInternalItemList(t *testing.T) {
	tr := newTranslator(t)
	req, err := tr.ToInternal([]byte(`{
		"model": "gemini-2.5-pro",
		"input": [
			{"role": "user", "content": [{"type": "input_text", "text": "search for go"}]},
			{"type": "function_call", "call_id": "call_9", "name": "search", "arguments": "{\"q\":\"go\"}"},
			{"type": "function_call_output", "call_id": "call_9", "output": "found"}
		]
	}`))
	require.NoError(t, err)

	internal := req.Internal
	require.Len(t, internal.Contents, 3)
	assert.Equal(t, "model", internal.Contents[1].Role)
	// recovery stub precedes the call
	call := internal.Contents[1].Parts[len(internal.Contents[1].Parts)-1]
	assert.Equal(t, ir.PartFunctionCall, call.Kind)
	assert.Equal(t, "call_9", call.ID)

	result := internal.Contents[2].Parts[0]
	assert.Equal(t, ir.PartFunctionResponse, result.Kind)
	assert.Equal(t, "search", result.Name)
	assert.JSONEq(t, `{"result":"found"}`, string(result.Response))
}

func TestEffortMapping(t *testing.T) {
	cases := map[string]int{"low": 1024, "medium": 10240, "high": 24576}
	for effort, budget := range cases {
		tr := newTranslator(t)
		req, err := tr.ToInternal([]byte(`{
			"model": "gemini-2.5-pro",
			"reasoning": {"effort": "` + effort + `"},
			"input": "x"
		}`))
		require.NoError(t, err)
		assert.Equal(t, budget, req.ThinkingBudget, effort)
	}
}

func TestFromInternalOutputItems(t *testing.T) {
	tr := newTranslator(t)
	req := &translator.Request{CanonicalModel: "gemini-2.5-pro"}
	upstream := `{"candidates":[{"content":{"parts":[
		{"text":"working on it","thought":true},
		{"text":"Done."},
		{"functionCall":{"id":"tool-call-1","name":"search","args":{"q":"x"}}}
	]},"finishReason":"STOP"}],
	"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":6,"thoughtsTokenCount":2,"totalTokenCount":12}}`

	out, err := tr.FromInternal(upstream, req)
	require.NoError(t, err)

	body := gjson.ParseBytes(out)
	assert.Equal(t, "response", body.Get("object").String())
	output := body.Get("output").Array()
	require.Len(t, output, 3)
	assert.Equal(t, "reasoning", output[0].Get("type").String())
	assert.Equal(t, "working on it", output[0].Get("summary.0.text").String())
	assert.Equal(t, "message", output[1].Get("type").String())
	assert.Equal(t, "Done.", output[1].Get("content.0.text").String())
	assert.Equal(t, "function_call", output[2].Get("type").String())
	assert.Equal(t, "tool-call-1", output[2].Get("call_id").String())
	assert.Equal(t, int64(2), body.Get("usage.output_tokens_details.reasoning_tokens").Int())
}

func TestStreamEvents(t *testing.T) {
	tr := newTranslator(t)
	req := &translator.Request{CanonicalModel: "gemini-2.5-pro"}
	state := tr.NewStreamState(req)

	frames := tr.FromInternalStream(state, `{"candidates":[{"content":{"parts":[
		{"text":"thinking...","thought":true},
		{"text":"Hello"}
	]}}]}`)
	require.Len(t, frames, 2)
	assert.True(t, strings.HasPrefix(string(frames[0]), "event: response.reasoning.delta\n"))
	assert.True(t, strings.HasPrefix(string(frames[1]), "event: response.output_text.delta\n"))

	closing := tr.FinishStream(state)
	require.Len(t, closing, 2)
	assert.True(t, strings.HasPrefix(string(closing[0]), "event: response.completed\n"))
	payload := gjson.Parse(strings.TrimPrefix(strings.Split(string(closing[0]), "\n")[1], "data: "))
	output := payload.Get("response.output").Array()
	require.Len(t, output, 2)
	assert.Equal(t, "thinking...", output[0].Get("summary.0.text").String())
	assert.Equal(t, "Hello", output[1].Get("content.0.text").String())
	assert.Equal(t, "data: [DONE]\n\n", string(closing[1]))
}
