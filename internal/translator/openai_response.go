package translator

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/aetherbridge/AetherBridge/internal/interfaces"
)

// BuildOpenAIResponse wraps a parsed upstream result as an OpenAI
// chat.completion body. The id and created fields are freshly generated;
// the model string echoes the client's request.
func BuildOpenAIResponse(result *interfaces.UnaryResult, modelRaw string) []byte {
	out := []byte(`{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant"}}]}`)
	out, _ = sjson.SetBytes(out, "id", "chatcmpl-"+uuid.NewString())
	out, _ = sjson.SetBytes(out, "created", time.Now().Unix())
	out, _ = sjson.SetBytes(out, "model", modelRaw)
	out, _ = sjson.SetBytes(out, "choices.0.message.content", result.Content)
	out, _ = sjson.SetBytes(out, "choices.0.finish_reason", openAIFinishReason(result.FinishReason))
	if result.Usage != nil {
		out, _ = sjson.SetBytes(out, "usage.prompt_tokens", result.Usage.PromptTokens)
		out, _ = sjson.SetBytes(out, "usage.completion_tokens", result.Usage.CandidatesTokens)
		out, _ = sjson.SetBytes(out, "usage.total_tokens", result.Usage.TotalTokens)
	}
	return out
}

// openAIFinishReason maps an upstream finish reason onto OpenAI vocabulary.
func openAIFinishReason(finishReason string) string {
	switch strings.ToUpper(finishReason) {
	case "", "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return strings.ToLower(finishReason)
	}
}

// BuildOpenAIErrorBody renders a classified failure in the OpenAI error
// shape.
func BuildOpenAIErrorBody(errMsg *interfaces.ErrorMessage) []byte {
	out := []byte(`{"error":{}}`)
	out, _ = sjson.SetBytes(out, "error.message", errMsg.Message())
	out, _ = sjson.SetBytes(out, "error.type", openAIErrorType(errMsg.Kind))
	return out
}

func openAIErrorType(kind interfaces.ErrorKind) string {
	switch kind {
	case interfaces.KindInvalidRequest:
		return "invalid_request_error"
	case interfaces.KindAuthRequired:
		return "authentication_error"
	case interfaces.KindRateLimited, interfaces.KindCapacity:
		return "rate_limit_error"
	default:
		return "api_error"
	}
}
