package translator

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/aetherbridge/AetherBridge/internal/interfaces"
)

// BuildClaudeResponse wraps a parsed upstream result as an Anthropic
// message body. The content array starts with a thinking block only when
// the upstream produced thinking, followed by the text block.
func BuildClaudeResponse(result *interfaces.UnaryResult, modelRaw string) []byte {
	out := []byte(`{"type":"message","role":"assistant","content":[]}`)
	out, _ = sjson.SetBytes(out, "id", "msg_"+strings.ReplaceAll(uuid.NewString(), "-", ""))
	out, _ = sjson.SetBytes(out, "model", modelRaw)

	if result.Thinking != "" {
		block := []byte(`{"type":"thinking"}`)
		block, _ = sjson.SetBytes(block, "thinking", result.Thinking)
		out, _ = sjson.SetRawBytes(out, "content.-1", block)
	}
	textBlock := []byte(`{"type":"text"}`)
	textBlock, _ = sjson.SetBytes(textBlock, "text", result.Content)
	out, _ = sjson.SetRawBytes(out, "content.-1", textBlock)

	out, _ = sjson.SetBytes(out, "stop_reason", claudeStopReason(result.FinishReason))
	if result.Usage != nil {
		out, _ = sjson.SetBytes(out, "usage.input_tokens", result.Usage.PromptTokens)
		out, _ = sjson.SetBytes(out, "usage.output_tokens", result.Usage.CandidatesTokens)
	}
	return out
}

// claudeStopReason carries the upstream finish reason through, normalizing
// only the max-tokens case onto Anthropic vocabulary.
func claudeStopReason(finishReason string) string {
	switch strings.ToUpper(finishReason) {
	case "MAX_TOKENS":
		return "max_tokens"
	case "":
		return "end_turn"
	default:
		return strings.ToLower(finishReason)
	}
}

// BuildClaudeErrorBody renders a classified failure in the Anthropic error
// shape.
func BuildClaudeErrorBody(errMsg *interfaces.ErrorMessage) []byte {
	out := []byte(`{"type":"error","error":{}}`)
	out, _ = sjson.SetBytes(out, "error.type", ClaudeErrorType(errMsg.Kind))
	out, _ = sjson.SetBytes(out, "error.message", errMsg.Message())
	return out
}

// ClaudeErrorType maps an error kind onto the Anthropic error type string.
func ClaudeErrorType(kind interfaces.ErrorKind) string {
	switch kind {
	case interfaces.KindInvalidRequest:
		return "invalid_request_error"
	case interfaces.KindAuthRequired:
		return "authentication_error"
	case interfaces.KindRateLimited:
		return "rate_limit_error"
	case interfaces.KindCapacity:
		return "capacity_error"
	default:
		return "api_error"
	}
}
