package translator

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aetherbridge/AetherBridge/internal/interfaces"
	"github.com/aetherbridge/AetherBridge/internal/models"
)

// ParseClaudeRequest reduces an Anthropic Messages request body to the
// dialect-neutral form. When withRepair is set, the session-repair pass runs
// over the conversation history first.
//
// Parameters:
//   - body: The raw Anthropic request JSON
//   - withRepair: Whether to apply session repair before extraction
//
// Returns:
//   - *Request: The dialect-neutral request
//   - *interfaces.ErrorMessage: A classified error for malformed input
func ParseClaudeRequest(body []byte, withRepair bool) (*Request, *interfaces.ErrorMessage) {
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, interfaces.NewErrorMessage(400, interfaces.KindInvalidRequest, errors.New("request body is not a JSON object"))
	}
	modelRaw := root.Get("model").String()
	if modelRaw == "" {
		return nil, interfaces.NewErrorMessage(400, interfaces.KindInvalidRequest, errors.New("missing model"))
	}
	messagesResult := root.Get("messages")
	if !messagesResult.IsArray() {
		return nil, interfaces.NewErrorMessage(400, interfaces.KindInvalidRequest, errors.New("missing messages"))
	}

	messagesJSON := []byte(messagesResult.Raw)
	if withRepair {
		messagesJSON, _ = RepairSession(messagesJSON)
	}

	request := &Request{
		Model:    models.FromAnthropicID(modelRaw),
		ModelRaw: modelRaw,
		System:   claudeSystemText(root.Get("system")),
		Stream:   root.Get("stream").Bool(),
	}

	gjson.ParseBytes(messagesJSON).ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		text := claudeContentText(message.Get("content"))
		if role == "system" {
			if request.System != "" {
				request.System += "\n\n"
			}
			request.System += text
			return true
		}
		request.Messages = append(request.Messages, Message{Role: role, Content: text})
		return true
	})

	if maxTokens := root.Get("max_tokens"); maxTokens.Exists() {
		request.MaxOutputTokens = int(maxTokens.Int())
	}
	if temperature := root.Get("temperature"); temperature.Exists() {
		request.Temperature = temperature.Float()
		request.HasTemperature = true
	}

	request.Thinking = claudeThinkingConfig(root, request.Model)
	request.FunctionDeclarations = claudeFunctionDeclarations(root.Get("tools"))

	return request, nil
}

// claudeSystemText flattens the Anthropic system field, which may be a plain
// string or an array of text blocks.
func claudeSystemText(system gjson.Result) string {
	if !system.Exists() {
		return ""
	}
	if system.Type == gjson.String {
		return system.String()
	}
	if system.IsArray() {
		var parts []string
		system.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				parts = append(parts, block.Get("text").String())
			}
			return true
		})
		return strings.Join(parts, "\n")
	}
	return ""
}

// claudeContentText flattens message content, which may be a plain string or
// an array of content blocks; only text blocks contribute.
func claudeContentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var parts []string
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				parts = append(parts, block.Get("text").String())
			}
			return true
		})
		return strings.Join(parts, "\n")
	}
	return ""
}

// claudeThinkingConfig derives the thinking configuration from the request's
// thinking or extended_thinking field, falling back to the model default
// budget for thinking-capable Claude models.
func claudeThinkingConfig(root gjson.Result, model models.Model) *models.ThinkingConfig {
	thinking := root.Get("thinking")
	if !thinking.Exists() {
		thinking = root.Get("extended_thinking")
	}
	if thinking.Exists() {
		if thinking.Get("type").String() == "disabled" {
			return nil
		}
		budget := int(thinking.Get("budget_tokens").Int())
		if budget == 0 {
			budget = model.DefaultThinkingBudget()
		}
		return &models.ThinkingConfig{Budget: budget, IncludeThoughts: true}
	}
	if model.SupportsThinking() && model.IsClaude() {
		return &models.ThinkingConfig{Budget: model.DefaultThinkingBudget(), IncludeThoughts: true}
	}
	return nil
}

// claudeFunctionDeclarations converts Anthropic tool definitions into a CCA
// function_declarations array, sanitizing names and input schemas.
func claudeFunctionDeclarations(tools gjson.Result) []byte {
	if !tools.IsArray() || len(tools.Array()) == 0 {
		return nil
	}
	declarations := []byte("[]")
	tools.ForEach(func(_, tool gjson.Result) bool {
		declaration := []byte("{}")
		declaration, _ = sjson.SetBytes(declaration, "name", SanitizeToolName(tool.Get("name").String()))
		if description := tool.Get("description"); description.Exists() {
			declaration, _ = sjson.SetBytes(declaration, "description", description.String())
		}
		if schema := tool.Get("input_schema"); schema.Exists() {
			declaration, _ = sjson.SetRawBytes(declaration, "parameters", SanitizeSchema([]byte(schema.Raw)))
		}
		declarations, _ = sjson.SetRawBytes(declarations, "-1", declaration)
		return true
	})
	return declarations
}
