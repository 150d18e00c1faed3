// Package ir defines the internal Gemini-shaped request representation every
// dialect translates through, plus the content-normalization pipeline applied
// before a request goes upstream: thinking-part ordering, signature
// restoration, tool-call id matching, and conversation-state recovery.
package ir

import "encoding/json"

// PartKind discriminates the Part variants.
type PartKind int

const (
	// PartText is a plain text segment.
	PartText PartKind = iota

	// PartThinking is a reasoning segment with an optional opaque signature.
	PartThinking

	// PartInlineData is inline binary content (base64).
	PartInlineData

	// PartFunctionCall is a model-issued tool invocation.
	PartFunctionCall

	// PartFunctionResponse is a client-supplied tool result.
	PartFunctionResponse
)

// Part is one tagged content segment. Only the fields for its Kind are
// meaningful.
type Part struct {
	Kind PartKind

	// Text carries PartText and PartThinking content.
	Text string

	// Signature is the opaque thought signature for PartThinking.
	Signature string

	// MimeType and Data carry PartInlineData (Data is base64).
	MimeType string
	Data     string

	// Name, Args, and ID carry PartFunctionCall; Name, Response, and ID
	// carry PartFunctionResponse.
	Name     string
	Args     json.RawMessage
	Response json.RawMessage
	ID       string
}

// Content is one conversation turn. Role is "user" or "model".
type Content struct {
	Role  string
	Parts []Part
}

// ThinkingConfig controls reasoning output.
type ThinkingConfig struct {
	IncludeThoughts bool
	ThinkingBudget  int
}

// GenerationConfig carries sampling and output limits. Pointer fields are
// omitted from the wire when nil.
type GenerationConfig struct {
	Temperature     *float64
	TopP            *float64
	TopK            *int
	MaxOutputTokens int
	StopSequences   []string
	Thinking        *ThinkingConfig
}

// FunctionDeclaration describes one callable tool. Parameters holds the
// sanitized JSON Schema.
type FunctionDeclaration struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is the internal request form produced by every dialect translator.
type Request struct {
	Contents          []Content
	SystemInstruction []string
	GenerationConfig  GenerationConfig
	Tools             []FunctionDeclaration

	// ForceValidatedTools requests toolConfig mode VALIDATED. The upstream
	// client forces this on regardless whenever tools are present.
	ForceValidatedTools bool

	// SessionID is the stable conversation fingerprint used as the
	// signature-cache key and echoed in the upstream envelope.
	SessionID string
}

// HasTools reports whether any function declarations are present.
func (r *Request) HasTools() bool {
	return len(r.Tools) > 0
}

// PrependSystemText inserts texts at the head of the system instruction.
func (r *Request) PrependSystemText(texts ...string) {
	r.SystemInstruction = append(append([]string{}, texts...), r.SystemInstruction...)
}

// AppendSystemText appends text to the system instruction.
func (r *Request) AppendSystemText(text string) {
	r.SystemInstruction = append(r.SystemInstruction, text)
}
