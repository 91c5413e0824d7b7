package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/aetherbridge/AetherBridge/internal/interfaces"
	"github.com/aetherbridge/AetherBridge/internal/models"
)

func TestParseClaudeRequestBasic(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"max_tokens": 1024,
		"temperature": 0.7,
		"system": "Be brief.",
		"messages": [
			{"role": "user", "content": "Hello"},
			{"role": "assistant", "content": [{"type":"text","text":"Hi"},{"type":"text","text":"there"}]}
		]
	}`)

	request, errMsg := ParseClaudeRequest(body, false)
	require.Nil(t, errMsg)
	assert.Equal(t, models.ClaudeSonnet45, request.Model)
	assert.Equal(t, "claude-sonnet-4-5", request.ModelRaw)
	assert.Equal(t, "Be brief.", request.System)
	assert.Equal(t, 1024, request.MaxOutputTokens)
	assert.True(t, request.HasTemperature)
	assert.InDelta(t, 0.7, request.Temperature, 1e-9)
	assert.False(t, request.Stream)

	require.Len(t, request.Messages, 2)
	assert.Equal(t, "user", request.Messages[0].Role)
	assert.Equal(t, "Hello", request.Messages[0].Content)
	// Text blocks join with newlines.
	assert.Equal(t, "Hi\nthere", request.Messages[1].Content)

	// Non-thinking model gets no thinking config.
	assert.Nil(t, request.Thinking)
}

func TestParseClaudeRequestSystemArrayAndInlineSystem(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"system": [{"type":"text","text":"Rule one."},{"type":"text","text":"Rule two."}],
		"messages": [
			{"role": "system", "content": "Rule three."},
			{"role": "user", "content": "Hi"}
		]
	}`)
	request, errMsg := ParseClaudeRequest(body, false)
	require.Nil(t, errMsg)
	assert.Equal(t, "Rule one.\nRule two.\n\nRule three.", request.System)
	require.Len(t, request.Messages, 1)
	assert.Equal(t, "user", request.Messages[0].Role)
}

func TestParseClaudeRequestThinkingDefaults(t *testing.T) {
	// Thinking models default to the model budget when the client sent no
	// thinking field at all.
	request, errMsg := ParseClaudeRequest([]byte(`{"model":"claude-opus-4-5-thinking","messages":[{"role":"user","content":"x"}]}`), false)
	require.Nil(t, errMsg)
	require.NotNil(t, request.Thinking)
	assert.Equal(t, 16384, request.Thinking.Budget)
	assert.True(t, request.Thinking.IncludeThoughts)

	// Explicit budget wins.
	request, errMsg = ParseClaudeRequest([]byte(`{"model":"claude-opus-4-5-thinking","thinking":{"type":"enabled","budget_tokens":3000},"messages":[{"role":"user","content":"x"}]}`), false)
	require.Nil(t, errMsg)
	require.NotNil(t, request.Thinking)
	assert.Equal(t, 3000, request.Thinking.Budget)

	// Disabled turns it off even on a thinking model.
	request, errMsg = ParseClaudeRequest([]byte(`{"model":"claude-opus-4-5-thinking","thinking":{"type":"disabled"},"messages":[{"role":"user","content":"x"}]}`), false)
	require.Nil(t, errMsg)
	assert.Nil(t, request.Thinking)
}

func TestParseClaudeRequestTools(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"messages": [{"role":"user","content":"weather?"}],
		"tools": [{
			"name": "get weather",
			"description": "Current conditions",
			"input_schema": {"type":"object","properties":{"city":{"type":"string","minLength":1}},"additionalProperties":false}
		}]
	}`)
	request, errMsg := ParseClaudeRequest(body, false)
	require.Nil(t, errMsg)
	require.NotNil(t, request.FunctionDeclarations)

	declarations := gjson.ParseBytes(request.FunctionDeclarations).Array()
	require.Len(t, declarations, 1)
	assert.Equal(t, "get_weather", declarations[0].Get("name").String())
	assert.Equal(t, "Current conditions", declarations[0].Get("description").String())
	assert.Equal(t, "string", declarations[0].Get("parameters.properties.city.type").String())
	assert.False(t, declarations[0].Get("parameters.properties.city.minLength").Exists())
	assert.False(t, declarations[0].Get("parameters.additionalProperties").Exists())
}

func TestParseClaudeRequestWithRepair(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"messages": [
			{"role":"user","content":"go"},
			{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"t","input":{}}]},
			{"role":"user","content":"next"}
		]
	}`)
	request, errMsg := ParseClaudeRequest(body, true)
	require.Nil(t, errMsg)
	// The synthetic tool_result message adds one conversation turn.
	assert.Len(t, request.Messages, 4)
}

func TestParseClaudeRequestErrors(t *testing.T) {
	_, errMsg := ParseClaudeRequest([]byte(`not json`), false)
	require.NotNil(t, errMsg)
	assert.Equal(t, interfaces.KindInvalidRequest, errMsg.Kind)

	_, errMsg = ParseClaudeRequest([]byte(`{"messages":[]}`), false)
	require.NotNil(t, errMsg)
	assert.Equal(t, interfaces.KindInvalidRequest, errMsg.Kind)

	_, errMsg = ParseClaudeRequest([]byte(`{"model":"claude-sonnet-4-5"}`), false)
	require.NotNil(t, errMsg)
	assert.Equal(t, interfaces.KindInvalidRequest, errMsg.Kind)
}
