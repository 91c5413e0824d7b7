package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/aetherbridge/AetherBridge/internal/interfaces"
	"github.com/aetherbridge/AetherBridge/internal/models"
)

func TestParseOpenAIRequestBasic(t *testing.T) {
	body := []byte(`{
		"model": "gemini-3-flash",
		"max_tokens": 512,
		"messages": [
			{"role": "system", "content": "Be terse."},
			{"role": "developer", "content": "Prefer lists."},
			{"role": "user", "content": "Hello"},
			{"role": "tool", "content": "ignored"},
			{"role": "assistant", "content": [{"type":"text","text":"Hi"}]}
		]
	}`)

	request, errMsg := ParseOpenAIRequest(body)
	require.Nil(t, errMsg)
	assert.Equal(t, models.Gemini3Flash, request.Model)
	assert.Equal(t, "gemini-3-flash", request.ModelRaw)
	assert.Equal(t, "Be terse.\n\nPrefer lists.", request.System)
	assert.Equal(t, 512, request.MaxOutputTokens)

	// Only user and assistant turns survive.
	require.Len(t, request.Messages, 2)
	assert.Equal(t, "user", request.Messages[0].Role)
	assert.Equal(t, "assistant", request.Messages[1].Role)
	assert.Equal(t, "Hi", request.Messages[1].Content)
}

func TestParseOpenAIRequestUnknownModelRejected(t *testing.T) {
	_, errMsg := ParseOpenAIRequest([]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"x"}]}`))
	require.NotNil(t, errMsg)
	assert.Equal(t, interfaces.KindInvalidRequest, errMsg.Kind)
	assert.Equal(t, 400, errMsg.StatusCode)
	assert.Contains(t, errMsg.Message(), "gpt-4o")
}

func TestParseOpenAIRequestMaxCompletionTokensPrecedence(t *testing.T) {
	request, errMsg := ParseOpenAIRequest([]byte(`{"model":"gemini-3-pro","max_completion_tokens":2048,"max_tokens":100,"messages":[{"role":"user","content":"x"}]}`))
	require.Nil(t, errMsg)
	assert.Equal(t, 2048, request.MaxOutputTokens)
}

func TestParseOpenAIRequestDefaultThinkingForClaude(t *testing.T) {
	request, errMsg := ParseOpenAIRequest([]byte(`{"model":"claude-sonnet-4-5-thinking","messages":[{"role":"user","content":"x"}]}`))
	require.Nil(t, errMsg)
	require.NotNil(t, request.Thinking)
	assert.Equal(t, 8192, request.Thinking.Budget)

	request, errMsg = ParseOpenAIRequest([]byte(`{"model":"gemini-3-pro","messages":[{"role":"user","content":"x"}]}`))
	require.Nil(t, errMsg)
	assert.Nil(t, request.Thinking)
}

func TestParseOpenAIRequestTools(t *testing.T) {
	body := []byte(`{
		"model": "gemini-3-flash",
		"messages": [{"role":"user","content":"x"}],
		"tools": [{
			"type": "function",
			"function": {
				"name": "search/web",
				"parameters": {"type":"object","properties":{"q":{"type":"string","const":"fixed"}}}
			}
		}]
	}`)
	request, errMsg := ParseOpenAIRequest(body)
	require.Nil(t, errMsg)
	require.NotNil(t, request.FunctionDeclarations)

	declarations := gjson.ParseBytes(request.FunctionDeclarations).Array()
	require.Len(t, declarations, 1)
	assert.Equal(t, "search_web", declarations[0].Get("name").String())
	assert.Equal(t, "fixed", declarations[0].Get("parameters.properties.q.enum.0").String())
	assert.False(t, declarations[0].Get("parameters.properties.q.const").Exists())
}
