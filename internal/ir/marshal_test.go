package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestMarshalGemini(t *testing.T) {
	temp := 0.7
	req := &Request{
		Contents: []Content{
			{Role: "user", Parts: []Part{{Kind: PartText, Text: "hi"}}},
			{Role: "model", Parts: []Part{
				{Kind: PartThinking, Text: "t", Signature: validSig},
				{Kind: PartFunctionCall, Name: "search", ID: "tool-call-1", Args: json.RawMessage(`{"q":"x"}`)},
			}},
		},
		SystemInstruction: []string{"first", "second"},
		GenerationConfig: GenerationConfig{
			Temperature:     &temp,
			MaxOutputTokens: 64,
			Thinking:        &ThinkingConfig{IncludeThoughts: true, ThinkingBudget: 8192},
		},
		Tools: []FunctionDeclaration{
			{Name: "search", Description: "d", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
		SessionID: "-1234",
	}

	raw, err := req.MarshalGemini()
	require.NoError(t, err)
	body := string(raw)

	assert.Equal(t, "user", gjson.Get(body, "systemInstruction.role").String())
	assert.Equal(t, "first", gjson.Get(body, "systemInstruction.parts.0.text").String())
	assert.True(t, gjson.Get(body, "contents.1.parts.0.thought").Bool())
	assert.Equal(t, validSig, gjson.Get(body, "contents.1.parts.0.thoughtSignature").String())
	assert.Equal(t, "search", gjson.Get(body, "contents.1.parts.1.functionCall.name").String())
	assert.Equal(t, "VALIDATED", gjson.Get(body, "toolConfig.functionCallingConfig.mode").String())
	assert.Equal(t, int64(8192), gjson.Get(body, "generationConfig.thinkingConfig.thinking_budget").Int())
	assert.Equal(t, "-1234", gjson.Get(body, "sessionId").String())
}

func TestMarshalGeminiFunctionCallSignature(t *testing.T) {
	req := &Request{
		Contents: []Content{
			{Role: "user", Parts: []Part{{Kind: PartText, Text: "run it"}}},
			{Role: "model", Parts: []Part{
				{Kind: PartFunctionCall, Name: "run", ID: "tool-call-1", Signature: validSig},
			}},
		},
	}

	raw, err := req.MarshalGemini()
	require.NoError(t, err)
	body := string(raw)

	// the signature rides on the part, next to the functionCall object
	assert.Equal(t, validSig, gjson.Get(body, "contents.1.parts.0.thoughtSignature").String())
	assert.Equal(t, "run", gjson.Get(body, "contents.1.parts.0.functionCall.name").String())
	assert.False(t, gjson.Get(body, "contents.1.parts.0.thought").Bool())
}

func TestMarshalGeminiOmitsEmptySections(t *testing.T) {
	req := &Request{Contents: []Content{{Role: "user", Parts: []Part{{Kind: PartText, Text: "hi"}}}}}
	raw, err := req.MarshalGemini()
	require.NoError(t, err)
	body := string(raw)

	assert.False(t, gjson.Get(body, "systemInstruction").Exists())
	assert.False(t, gjson.Get(body, "generationConfig").Exists())
	assert.False(t, gjson.Get(body, "tools").Exists())
	assert.False(t, gjson.Get(body, "toolConfig").Exists())
}

func TestResponseParts(t *testing.T) {
	raw := `{
		"candidates":[{"content":{"parts":[
			{"text":"reasoning","thought":true,"thoughtSignature":"` + validSig + `"},
			{"text":"Hello!"},
			{"functionCall":{"id":"c1","name":"search","args":{"q":"x"}}}
		]},"finishReason":"STOP"}],
		"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":5,"thoughtsTokenCount":2,"totalTokenCount":10},
		"modelVersion":"gemini-2.5-pro"
	}`
	parts := ResponseParts(raw)
	require.Len(t, parts, 3)
	assert.Equal(t, PartThinking, parts[0].Kind)
	assert.Equal(t, validSig, parts[0].Signature)
	assert.Equal(t, PartText, parts[1].Kind)
	assert.Equal(t, PartFunctionCall, parts[2].Kind)
	assert.Equal(t, "search", parts[2].Name)
	assert.JSONEq(t, `{"q":"x"}`, string(parts[2].Args))

	assert.Equal(t, "STOP", FinishReason(raw))
	usage := ParseUsage(raw)
	assert.Equal(t, 3, usage.PromptTokens)
	assert.Equal(t, 5, usage.CandidateTokens)
	assert.Equal(t, 2, usage.ThoughtTokens)
	assert.Equal(t, 10, usage.TotalTokens)
	assert.Equal(t, "gemini-2.5-pro", ResponseModelVersion(raw))
}
