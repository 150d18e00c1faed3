package ir

import "encoding/json"

// Wire structs mirror the upstream v1internal request shape. Kept private;
// MarshalGemini is the only entry point.

type wirePart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	InlineData       *wireInlineData   `json:"inlineData,omitempty"`
	FunctionCall     *wireFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *wireFunctionResp `json:"functionResponse,omitempty"`
}

type wireInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireFunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type wireFunctionResp struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

type wireThinking struct {
	IncludeThoughts bool `json:"include_thoughts"`
	ThinkingBudget  int  `json:"thinking_budget"`
}

type wireGenerationConfig struct {
	Temperature     *float64      `json:"temperature,omitempty"`
	TopP            *float64      `json:"topP,omitempty"`
	TopK            *int          `json:"topK,omitempty"`
	MaxOutputTokens int           `json:"maxOutputTokens,omitempty"`
	StopSequences   []string      `json:"stopSequences,omitempty"`
	ThinkingConfig  *wireThinking `json:"thinkingConfig,omitempty"`
}

type wireFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireTool struct {
	FunctionDeclarations []wireFunctionDecl `json:"functionDeclarations"`
}

type wireToolConfig struct {
	FunctionCallingConfig struct {
		Mode string `json:"mode"`
	} `json:"functionCallingConfig"`
}

type wireRequest struct {
	Contents          []wireContent         `json:"contents"`
	SystemInstruction *wireContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *wireGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []wireTool            `json:"tools,omitempty"`
	ToolConfig        *wireToolConfig       `json:"toolConfig,omitempty"`
	SessionID         string                `json:"sessionId,omitempty"`
}

// MarshalGemini encodes the request into the upstream v1internal JSON shape.
// The system instruction is carried with role "user" as the upstream expects.
//
// Returns:
//   - []byte: The encoded request body
//   - error: An encoding error
func (r *Request) MarshalGemini() ([]byte, error) {
	wire := wireRequest{SessionID: r.SessionID}

	wire.Contents = make([]wireContent, 0, len(r.Contents))
	for _, content := range r.Contents {
		wire.Contents = append(wire.Contents, wireContent{
			Role:  content.Role,
			Parts: encodeParts(content.Parts),
		})
	}

	if len(r.SystemInstruction) > 0 {
		instruction := &wireContent{Role: "user"}
		for _, text := range r.SystemInstruction {
			instruction.Parts = append(instruction.Parts, wirePart{Text: text})
		}
		wire.SystemInstruction = instruction
	}

	generation := encodeGenerationConfig(r.GenerationConfig)
	if generation != nil {
		wire.GenerationConfig = generation
	}

	if len(r.Tools) > 0 {
		tool := wireTool{}
		for _, decl := range r.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, wireFunctionDecl{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  decl.Parameters,
			})
		}
		wire.Tools = []wireTool{tool}

		toolConfig := &wireToolConfig{}
		toolConfig.FunctionCallingConfig.Mode = "VALIDATED"
		wire.ToolConfig = toolConfig
	}

	return json.Marshal(wire)
}

func encodeParts(parts []Part) []wirePart {
	out := make([]wirePart, 0, len(parts))
	for _, part := range parts {
		switch part.Kind {
		case PartText:
			out = append(out, wirePart{Text: part.Text})
		case PartThinking:
			out = append(out, wirePart{Text: part.Text, Thought: true, ThoughtSignature: part.Signature})
		case PartInlineData:
			out = append(out, wirePart{InlineData: &wireInlineData{MimeType: part.MimeType, Data: part.Data}})
		case PartFunctionCall:
			out = append(out, wirePart{
				ThoughtSignature: part.Signature,
				FunctionCall:     &wireFunctionCall{ID: part.ID, Name: part.Name, Args: part.Args},
			})
		case PartFunctionResponse:
			out = append(out, wirePart{FunctionResponse: &wireFunctionResp{ID: part.ID, Name: part.Name, Response: part.Response}})
		}
	}
	return out
}

func encodeGenerationConfig(config GenerationConfig) *wireGenerationConfig {
	empty := config.Temperature == nil && config.TopP == nil && config.TopK == nil &&
		config.MaxOutputTokens == 0 && len(config.StopSequences) == 0 && config.Thinking == nil
	if empty {
		return nil
	}
	wire := &wireGenerationConfig{
		Temperature:     config.Temperature,
		TopP:            config.TopP,
		TopK:            config.TopK,
		MaxOutputTokens: config.MaxOutputTokens,
		StopSequences:   config.StopSequences,
	}
	if config.Thinking != nil {
		wire.ThinkingConfig = &wireThinking{
			IncludeThoughts: config.Thinking.IncludeThoughts,
			ThinkingBudget:  config.Thinking.ThinkingBudget,
		}
	}
	return wire
}
