package claude

import (
	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/antigravity-router/antigravity-proxy/internal/ir"
	"github.com/antigravity-router/antigravity-proxy/internal/translator"
)

// blockState tracks which content block type is currently open.
type blockState int

const (
	blockNone blockState = iota
	blockText
	blockThinking
	blockToolUse
)

// streamState is the per-request Anthropic streaming state machine.
type streamState struct {
	messageID string
	model     string

	started      bool
	state        blockState
	index        int
	sentSig      bool
	sawToolUse   bool
	finishReason string
	usage        ir.Usage
}

// NewStreamState creates the Anthropic streaming accumulator.
func (t *Translator) NewStreamState(req *translator.Request) translator.StreamState {
	return &streamState{
		messageID: "msg_" + uuid.NewString(),
		model:     req.ResponseModel(),
		index:     -1,
	}
}

// FromInternalStream renders one upstream chunk as Anthropic SSE frames,
// opening and closing content blocks as the part type changes.
func (t *Translator) FromInternalStream(state translator.StreamState, chunk string) [][]byte {
	s := state.(*streamState)
	var frames [][]byte

	for _, part := range ir.ResponseParts(chunk) {
		switch part.Kind {
		case ir.PartThinking:
			if part.Text == "" && part.Signature == "" {
				continue
			}
			frames = append(frames, s.ensureBlock(blockThinking)...)
			if part.Text != "" {
				delta, _ := sjson.Set(`{"type":"thinking_delta"}`, "thinking", part.Text)
				frames = append(frames, s.blockDelta(delta))
			}
			if part.Signature != "" && !s.sentSig {
				delta, _ := sjson.Set(`{"type":"signature_delta"}`, "signature", part.Signature)
				frames = append(frames, s.blockDelta(delta))
				s.sentSig = true
			}
		case ir.PartText:
			if part.Text == "" {
				continue
			}
			frames = append(frames, s.ensureBlock(blockText)...)
			delta, _ := sjson.Set(`{"type":"text_delta"}`, "text", part.Text)
			frames = append(frames, s.blockDelta(delta))
		case ir.PartFunctionCall:
			s.sawToolUse = true
			frames = append(frames, s.closeBlock()...)
			frames = append(frames, s.startToolUseBlock(part)...)
			delta, _ := sjson.Set(`{"type":"input_json_delta"}`, "partial_json", string(part.Args))
			frames = append(frames, s.blockDelta(delta))
			frames = append(frames, s.closeBlock()...)
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

// FinishStream closes any open block and emits message_delta plus
// message_stop.
func (t *Translator) FinishStream(state translator.StreamState) [][]byte {
	s := state.(*streamState)
	var frames [][]byte
	if !s.started {
		frames = append(frames, s.messageStart())
	}
	frames = append(frames, s.closeBlock()...)

	payload := `{"type":"message_delta"}`
	payload, _ = sjson.Set(payload, "delta.stop_reason", mapStopReason(s.finishReason, s.sawToolUse))
	payload, _ = sjson.Set(payload, "delta.stop_sequence", nil)
	payload, _ = sjson.Set(payload, "usage.input_tokens", s.usage.PromptTokens)
	payload, _ = sjson.Set(payload, "usage.output_tokens", s.usage.CandidateTokens+s.usage.ThoughtTokens)
	frames = append(frames, frame("message_delta", payload))

	frames = append(frames, frame("message_stop", `{"type":"message_stop"}`))
	return frames
}

// ensureBlock opens a block of the wanted type, closing the previous one
// first. The message_start frame precedes the first block.
func (s *streamState) ensureBlock(wanted blockState) [][]byte {
	var frames [][]byte
	if !s.started {
		frames = append(frames, s.messageStart())
	}
	if s.state == wanted {
		return frames
	}
	frames = append(frames, s.closeBlock()...)
	s.state = wanted
	s.index++
	s.sentSig = false

	payload := `{"type":"content_block_start"}`
	payload, _ = sjson.Set(payload, "index", s.index)
	switch wanted {
	case blockText:
		payload, _ = sjson.Set(payload, "content_block.type", "text")
		payload, _ = sjson.Set(payload, "content_block.text", "")
	case blockThinking:
		payload, _ = sjson.Set(payload, "content_block.type", "thinking")
		payload, _ = sjson.Set(payload, "content_block.thinking", "")
	}
	frames = append(frames, frame("content_block_start", payload))
	return frames
}

// startToolUseBlock opens a tool_use block with its template.
func (s *streamState) startToolUseBlock(part ir.Part) [][]byte {
	var frames [][]byte
	if !s.started {
		frames = append(frames, s.messageStart())
	}
	s.state = blockToolUse
	s.index++

	id := part.ID
	if id == "" {
		id = "toolu_" + uuid.NewString()
	}
	payload := `{"type":"content_block_start"}`
	payload, _ = sjson.Set(payload, "index", s.index)
	payload, _ = sjson.Set(payload, "content_block.type", "tool_use")
	payload, _ = sjson.Set(payload, "content_block.id", id)
	payload, _ = sjson.Set(payload, "content_block.name", part.Name)
	payload, _ = sjson.SetRaw(payload, "content_block.input", `{}`)
	frames = append(frames, frame("content_block_start", payload))
	return frames
}

// closeBlock emits content_block_stop for the open block, if any.
func (s *streamState) closeBlock() [][]byte {
	if s.state == blockNone {
		return nil
	}
	payload, _ := sjson.Set(`{"type":"content_block_stop"}`, "index", s.index)
	s.state = blockNone
	return [][]byte{frame("content_block_stop", payload)}
}

func (s *streamState) blockDelta(delta string) []byte {
	payload := `{"type":"content_block_delta"}`
	payload, _ = sjson.Set(payload, "index", s.index)
	payload, _ = sjson.SetRaw(payload, "delta", delta)
	return frame("content_block_delta", payload)
}

func (s *streamState) messageStart() []byte {
	s.started = true
	payload := `{"type":"message_start"}`
	payload, _ = sjson.Set(payload, "message.id", s.messageID)
	payload, _ = sjson.Set(payload, "message.type", "message")
	payload, _ = sjson.Set(payload, "message.role", "assistant")
	payload, _ = sjson.Set(payload, "message.model", s.model)
	payload, _ = sjson.SetRaw(payload, "message.content", `[]`)
	payload, _ = sjson.Set(payload, "message.stop_reason", nil)
	payload, _ = sjson.Set(payload, "message.usage.input_tokens", 0)
	payload, _ = sjson.Set(payload, "message.usage.output_tokens", 0)
	return frame("message_start", payload)
}

// frame builds one complete SSE frame with its event line.
func frame(event, payload string) []byte {
	return []byte("event: " + event + "\ndata: " + payload + "\n\n")
}
