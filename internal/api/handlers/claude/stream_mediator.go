package claude

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aetherbridge/AetherBridge/internal/interfaces"
)

// streamMediator synthesizes the Anthropic SSE event grammar from the flat
// upstream chunk stream:
//
//	message_start -> [content_block_start, content_block_delta*, content_block_stop]+ -> message_delta -> message_stop
//
// Its own progress (account acquisition, rate-limit waits, fallback
// announcements) is written into an ordinary text block at index 0, not a
// thinking block, so client UIs that collapse thinking keep it visible.
type streamMediator struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	modelRaw string

	index      int
	statusOpen bool
	blockOpen  bool
	inThinking bool
	hasToolUse bool
}

func newStreamMediator(writer http.ResponseWriter, flusher http.Flusher, modelRaw string) *streamMediator {
	return &streamMediator{writer: writer, flusher: flusher, modelRaw: modelRaw}
}

// emit writes one SSE event and flushes immediately.
func (m *streamMediator) emit(event string, payload []byte) {
	_, _ = fmt.Fprintf(m.writer, "event: %s\ndata: %s\n\n", event, payload)
	m.flusher.Flush()
}

// messageStart opens the message envelope. It fires immediately on
// connection, before any account is acquired.
func (m *streamMediator) messageStart() {
	payload := []byte(`{"type":"message_start","message":{"type":"message","role":"assistant","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}}`)
	payload, _ = sjson.SetBytes(payload, "message.id", "msg_"+strings.ReplaceAll(uuid.NewString(), "-", ""))
	payload, _ = sjson.SetBytes(payload, "message.model", m.modelRaw)
	m.emit("message_start", payload)
}

// openStatusBlock opens the index-0 status text block.
func (m *streamMediator) openStatusBlock() {
	m.openTextBlock()
	m.statusOpen = true
	m.textDelta("Processing request...\n")
}

func (m *streamMediator) openTextBlock() {
	payload := []byte(`{"type":"content_block_start","content_block":{"type":"text","text":""}}`)
	payload, _ = sjson.SetBytes(payload, "index", m.index)
	m.emit("content_block_start", payload)
	m.blockOpen = true
}

func (m *streamMediator) closeBlock() {
	payload := []byte(`{"type":"content_block_stop"}`)
	payload, _ = sjson.SetBytes(payload, "index", m.index)
	m.emit("content_block_stop", payload)
	m.blockOpen = false
	m.index++
}

func (m *streamMediator) textDelta(text string) {
	payload := []byte(`{"type":"content_block_delta","delta":{"type":"text_delta"}}`)
	payload, _ = sjson.SetBytes(payload, "index", m.index)
	payload, _ = sjson.SetBytes(payload, "delta.text", text)
	m.emit("content_block_delta", payload)
}

// announce surfaces an orchestrator notification. While the status block is
// open the text goes there; afterwards a dedicated text block is opened and
// closed around it so the block pairing stays intact.
func (m *streamMediator) announce(text string) {
	if m.statusOpen {
		m.textDelta(text + "\n")
		return
	}
	if m.blockOpen {
		m.closeBlock()
	}
	m.openTextBlock()
	m.textDelta(text + "\n")
	m.closeBlock()
	m.openTextBlock()
}

// closeStatus seals the status block and opens the first body block.
func (m *streamMediator) closeStatus() {
	if !m.statusOpen {
		return
	}
	m.statusOpen = false
	m.closeBlock()
	m.openTextBlock()
}

// consume renders one upstream chunk. The first body chunk closes the
// status block. Tool use is atomic: a dedicated tool_use block with a single
// input_json_delta, then a fresh text block.
func (m *streamMediator) consume(chunk *interfaces.StreamChunk) {
	m.closeStatus()

	if chunk.IsToolUse {
		m.hasToolUse = true
		if m.inThinking {
			m.textDelta("*")
			m.inThinking = false
		}
		if m.blockOpen {
			m.closeBlock()
		}
		fragment := gjson.Parse(chunk.Delta)

		start := []byte(`{"type":"content_block_start","content_block":{"type":"tool_use","input":{}}}`)
		start, _ = sjson.SetBytes(start, "index", m.index)
		start, _ = sjson.SetBytes(start, "content_block.id", fragment.Get("id").String())
		start, _ = sjson.SetBytes(start, "content_block.name", fragment.Get("name").String())
		m.emit("content_block_start", start)
		m.blockOpen = true

		input := fragment.Get("input").Raw
		if input == "" {
			input = "{}"
		}
		delta := []byte(`{"type":"content_block_delta","delta":{"type":"input_json_delta"}}`)
		delta, _ = sjson.SetBytes(delta, "index", m.index)
		delta, _ = sjson.SetBytes(delta, "delta.partial_json", input)
		m.emit("content_block_delta", delta)

		m.closeBlock()
		m.openTextBlock()
		return
	}

	switch {
	case chunk.IsThinking && !m.inThinking:
		m.inThinking = true
		m.textDelta("\n> *Thinking: " + chunk.Delta)
	case chunk.IsThinking:
		m.textDelta(chunk.Delta)
	case m.inThinking:
		m.inThinking = false
		m.textDelta("*\n\n" + chunk.Delta)
	default:
		m.textDelta(chunk.Delta)
	}
}

// finish seals open blocks and emits the closing envelope events.
func (m *streamMediator) finish() {
	m.closeStatus()
	if m.inThinking {
		m.textDelta("*")
		m.inThinking = false
	}
	if m.blockOpen {
		m.closeBlock()
	}

	stopReason := "end_turn"
	if m.hasToolUse {
		stopReason = "tool_use"
	}
	delta := []byte(`{"type":"message_delta","delta":{"stop_sequence":null},"usage":{"output_tokens":0}}`)
	delta, _ = sjson.SetBytes(delta, "delta.stop_reason", stopReason)
	m.emit("message_delta", delta)
	m.emit("message_stop", []byte(`{"type":"message_stop"}`))
}

// fail closes any open block and emits an error event. No message_stop
// follows an error.
func (m *streamMediator) fail(errMsg *interfaces.ErrorMessage) {
	if m.blockOpen {
		if m.statusOpen || errMsg.Message() != "" {
			m.textDelta("Error: " + errMsg.Message())
		}
		m.statusOpen = false
		m.closeBlock()
	}
	errorType := "api_error"
	if errMsg.Kind == interfaces.KindRateLimited || errMsg.Kind == interfaces.KindCapacity {
		errorType = "rate_limit_error"
	}
	payload := []byte(`{"type":"error","error":{}}`)
	payload, _ = sjson.SetBytes(payload, "error.type", errorType)
	payload, _ = sjson.SetBytes(payload, "error.message", errMsg.Message())
	m.emit("error", payload)
}
