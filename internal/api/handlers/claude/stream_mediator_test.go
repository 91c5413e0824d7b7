package claude

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/aetherbridge/AetherBridge/internal/interfaces"
)

type sseEvent struct {
	name string
	data gjson.Result
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		var name, data string
		for _, line := range strings.Split(block, "\n") {
			if strings.HasPrefix(line, "event: ") {
				name = strings.TrimPrefix(line, "event: ")
			}
			if strings.HasPrefix(line, "data: ") {
				data = strings.TrimPrefix(line, "data: ")
			}
		}
		require.NotEmpty(t, name, "event without a name in %q", block)
		require.True(t, gjson.Valid(data), "event data is not JSON: %q", data)
		events = append(events, sseEvent{name: name, data: gjson.Parse(data)})
	}
	return events
}

// assertBlockPairing verifies every content_block_start is closed by a
// content_block_stop on the same index and no block nests inside another.
func assertBlockPairing(t *testing.T, events []sseEvent) {
	t.Helper()
	openIndex := int64(-1)
	starts, stops := 0, 0
	for _, event := range events {
		switch event.name {
		case "content_block_start":
			require.Equal(t, int64(-1), openIndex, "block started while index %d is open", openIndex)
			openIndex = event.data.Get("index").Int()
			starts++
		case "content_block_delta":
			require.Equal(t, openIndex, event.data.Get("index").Int(), "delta outside its block")
		case "content_block_stop":
			require.Equal(t, openIndex, event.data.Get("index").Int())
			openIndex = -1
			stops++
		}
	}
	assert.Equal(t, int64(-1), openIndex, "a block was left open")
	assert.Equal(t, starts, stops)
}

func eventNames(events []sseEvent) []string {
	names := make([]string, len(events))
	for i, event := range events {
		names[i] = event.name
	}
	return names
}

func newTestMediator(modelRaw string) (*streamMediator, *httptest.ResponseRecorder) {
	recorder := httptest.NewRecorder()
	return newStreamMediator(recorder, recorder, modelRaw), recorder
}

func TestMediatorPlainTextFlow(t *testing.T) {
	mediator, recorder := newTestMediator("claude-sonnet-4-5")
	mediator.messageStart()
	mediator.openStatusBlock()
	mediator.announce("Using account a@x, generating...")
	mediator.consume(&interfaces.StreamChunk{Delta: "A"})
	mediator.consume(&interfaces.StreamChunk{Delta: "B"})
	mediator.finish()

	events := parseSSE(t, recorder.Body.String())
	assertBlockPairing(t, events)

	names := eventNames(events)
	assert.Equal(t, "message_start", names[0])
	assert.Equal(t, "message_stop", names[len(names)-1])
	assert.Equal(t, "message_delta", names[len(names)-2])

	start := events[0]
	assert.Equal(t, "claude-sonnet-4-5", start.data.Get("message.model").String())
	assert.True(t, strings.HasPrefix(start.data.Get("message.id").String(), "msg_"))

	// Status text lands in block 0, body text in block 1.
	var block0, block1 strings.Builder
	for _, event := range events {
		if event.name != "content_block_delta" {
			continue
		}
		text := event.data.Get("delta.text").String()
		if event.data.Get("index").Int() == 0 {
			block0.WriteString(text)
		} else {
			block1.WriteString(text)
		}
	}
	assert.Contains(t, block0.String(), "Processing request...")
	assert.Contains(t, block0.String(), "Using account a@x")
	assert.Equal(t, "AB", block1.String())

	for _, event := range events {
		if event.name == "message_delta" {
			assert.Equal(t, "end_turn", event.data.Get("delta.stop_reason").String())
		}
	}
}

func TestMediatorThinkingRendering(t *testing.T) {
	mediator, recorder := newTestMediator("claude-opus-4-5-thinking")
	mediator.messageStart()
	mediator.openStatusBlock()
	mediator.consume(&interfaces.StreamChunk{Delta: "step one ", IsThinking: true})
	mediator.consume(&interfaces.StreamChunk{Delta: "step two", IsThinking: true})
	mediator.consume(&interfaces.StreamChunk{Delta: "the answer"})
	mediator.finish()

	events := parseSSE(t, recorder.Body.String())
	assertBlockPairing(t, events)

	var body strings.Builder
	for _, event := range events {
		if event.name == "content_block_delta" && event.data.Get("index").Int() > 0 {
			body.WriteString(event.data.Get("delta.text").String())
		}
	}
	assert.Equal(t, "\n> *Thinking: step one step two*\n\nthe answer", body.String())
}

func TestMediatorToolUseAtomicBlock(t *testing.T) {
	mediator, recorder := newTestMediator("claude-sonnet-4-5")
	mediator.messageStart()
	mediator.openStatusBlock()
	mediator.consume(&interfaces.StreamChunk{Delta: "Checking the weather."})
	mediator.consume(&interfaces.StreamChunk{
		Delta:     `{"type":"tool_use","id":"call_abc123def456","name":"get_weather","input":{"city":"SF"}}`,
		IsToolUse: true,
	})
	mediator.finish()

	events := parseSSE(t, recorder.Body.String())
	assertBlockPairing(t, events)

	var toolStart, toolDelta *sseEvent
	toolDeltas := 0
	for i := range events {
		event := &events[i]
		if event.name == "content_block_start" && event.data.Get("content_block.type").String() == "tool_use" {
			toolStart = event
		}
		if event.name == "content_block_delta" && event.data.Get("delta.type").String() == "input_json_delta" {
			toolDelta = event
			toolDeltas++
		}
	}
	require.NotNil(t, toolStart)
	assert.Equal(t, "call_abc123def456", toolStart.data.Get("content_block.id").String())
	assert.Equal(t, "get_weather", toolStart.data.Get("content_block.name").String())

	// The whole input arrives as one delta.
	require.NotNil(t, toolDelta)
	assert.Equal(t, 1, toolDeltas)
	assert.JSONEq(t, `{"city":"SF"}`, toolDelta.data.Get("delta.partial_json").String())
	assert.Equal(t, toolStart.data.Get("index").Int(), toolDelta.data.Get("index").Int())

	for _, event := range events {
		if event.name == "message_delta" {
			assert.Equal(t, "tool_use", event.data.Get("delta.stop_reason").String())
		}
	}
}

func TestMediatorAnnounceAfterStatusClosed(t *testing.T) {
	mediator, recorder := newTestMediator("claude-sonnet-4-5")
	mediator.messageStart()
	mediator.openStatusBlock()
	mediator.consume(&interfaces.StreamChunk{Delta: "partial"})
	mediator.announce("Rotating to account b@x...")
	mediator.consume(&interfaces.StreamChunk{Delta: " resumed"})
	mediator.finish()

	events := parseSSE(t, recorder.Body.String())
	assertBlockPairing(t, events)

	joined := recorder.Body.String()
	assert.Contains(t, joined, "Rotating to account b@x")
}

func TestMediatorFailSuppressesMessageStop(t *testing.T) {
	mediator, recorder := newTestMediator("claude-sonnet-4-5")
	mediator.messageStart()
	mediator.openStatusBlock()
	mediator.fail(&interfaces.ErrorMessage{
		StatusCode: 429,
		Kind:       interfaces.KindRateLimited,
	})

	events := parseSSE(t, recorder.Body.String())
	assertBlockPairing(t, events)

	names := eventNames(events)
	assert.NotContains(t, names, "message_stop")
	assert.NotContains(t, names, "message_delta")

	last := events[len(events)-1]
	assert.Equal(t, "error", last.name)
	assert.Equal(t, "rate_limit_error", last.data.Get("error.type").String())
}

func TestMediatorFailMidStream(t *testing.T) {
	mediator, recorder := newTestMediator("claude-sonnet-4-5")
	mediator.messageStart()
	mediator.openStatusBlock()
	mediator.consume(&interfaces.StreamChunk{Delta: "some text"})
	mediator.fail(&interfaces.ErrorMessage{StatusCode: 502, Kind: interfaces.KindServerError})

	events := parseSSE(t, recorder.Body.String())
	assertBlockPairing(t, events)
	assert.Equal(t, "error", events[len(events)-1].name)
	assert.Equal(t, "api_error", events[len(events)-1].data.Get("error.type").String())
}
