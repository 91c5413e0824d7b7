package translator

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// recoverableErrorPatterns are the upstream error substrings that indicate a
// corrupted conversation the repair pass can fix. Matching is
// case-insensitive; anything outside this whitelist does not trigger repair,
// since resending corrupted context on a false positive makes things worse.
var recoverableErrorPatterns = []string{
	"tool_use without tool_result",
	"tool result missing",
	"expected thinking but found text",
	"thinking block out of order",
	"invalid thinking signature",
}

// IsRecoverableSessionError reports whether the upstream error text matches
// a whitelisted session-corruption pattern.
func IsRecoverableSessionError(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range recoverableErrorPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// RepairSession rewrites an Anthropic messages array so it satisfies the
// upstream invariants about tool-use pairing and thinking-block shape:
//
//  1. Every assistant tool_use block must be answered by a matching
//     tool_result in the next user message; missing results are synthesized
//     and inserted immediately after the offending assistant message.
//  2. Assistant thinking blocks lacking a signature or a text payload are
//     dropped.
//
// The pass is idempotent: repairing an already-repaired history returns it
// unchanged. The second return value counts applied fixes.
func RepairSession(messagesJSON []byte) ([]byte, int) {
	parsed := gjson.ParseBytes(messagesJSON)
	if !parsed.IsArray() {
		return messagesJSON, 0
	}
	messages := parsed.Array()
	repaired := []byte("[]")
	fixes := 0

	for i := 0; i < len(messages); i++ {
		message := messages[i]
		raw := []byte(message.Raw)

		if message.Get("role").String() == "assistant" {
			var dropped int
			raw, dropped = dropMalformedThinking(raw)
			fixes += dropped
		}
		repaired, _ = sjson.SetRawBytes(repaired, "-1", raw)

		if message.Get("role").String() != "assistant" {
			continue
		}
		unanswered := unansweredToolUses(message, nextUserMessage(messages, i))
		if len(unanswered) == 0 {
			continue
		}
		for _, toolUse := range unanswered {
			synthetic := syntheticToolResult(toolUse.id, toolUse.name)
			repaired, _ = sjson.SetRawBytes(repaired, "-1", synthetic)
			fixes++
		}
	}

	if fixes > 0 {
		log.Infof("session repair applied %d fixes", fixes)
	}
	return repaired, fixes
}

type toolUseRef struct {
	id   string
	name string
}

// nextUserMessage returns the first user message after index i, or an empty
// result.
func nextUserMessage(messages []gjson.Result, i int) gjson.Result {
	for j := i + 1; j < len(messages); j++ {
		if messages[j].Get("role").String() == "user" {
			return messages[j]
		}
	}
	return gjson.Result{}
}

// unansweredToolUses lists tool_use blocks in the assistant message that the
// following user message does not answer with a matching tool_result.
func unansweredToolUses(assistant, nextUser gjson.Result) []toolUseRef {
	content := assistant.Get("content")
	if !content.IsArray() {
		return nil
	}
	answered := make(map[string]struct{})
	if nextContent := nextUser.Get("content"); nextContent.IsArray() {
		nextContent.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "tool_result" {
				answered[block.Get("tool_use_id").String()] = struct{}{}
			}
			return true
		})
	}
	var missing []toolUseRef
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() != "tool_use" {
			return true
		}
		id := block.Get("id").String()
		if _, ok := answered[id]; !ok {
			missing = append(missing, toolUseRef{id: id, name: block.Get("name").String()})
		}
		return true
	})
	return missing
}

// dropMalformedThinking removes thinking blocks that lack a signature or a
// text payload from an assistant message's content array.
func dropMalformedThinking(messageJSON []byte) ([]byte, int) {
	content := gjson.GetBytes(messageJSON, "content")
	if !content.IsArray() {
		return messageJSON, 0
	}
	kept := []byte("[]")
	dropped := 0
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "thinking" {
			hasSignature := block.Get("signature").String() != ""
			hasPayload := block.Get("thinking").String() != "" || block.Get("text").String() != ""
			if !hasSignature || !hasPayload {
				dropped++
				return true
			}
		}
		kept, _ = sjson.SetRawBytes(kept, "-1", []byte(block.Raw))
		return true
	})
	if dropped == 0 {
		return messageJSON, 0
	}
	out, _ := sjson.SetRawBytes(messageJSON, "content", kept)
	return out, dropped
}

// syntheticToolResult builds the user message injected for an unanswered
// tool_use block.
func syntheticToolResult(toolUseID, toolName string) []byte {
	text := fmt.Sprintf("Tool '%s' was not executed. The previous operation was interrupted. "+
		"Please continue with the available information or ask the user to retry.", toolName)
	message := []byte(`{"role":"user","content":[]}`)
	block := []byte(`{"type":"tool_result"}`)
	block, _ = sjson.SetBytes(block, "tool_use_id", toolUseID)
	block, _ = sjson.SetBytes(block, "content", text)
	message, _ = sjson.SetRawBytes(message, "content.-1", block)
	return message
}
