package translator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aetherbridge/AetherBridge/internal/interfaces"
	"github.com/aetherbridge/AetherBridge/internal/models"
)

// ParseOpenAIRequest reduces an OpenAI chat-completions request body to the
// dialect-neutral form. An unrecognized model is rejected with an
// invalid_request classification.
func ParseOpenAIRequest(body []byte) (*Request, *interfaces.ErrorMessage) {
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, interfaces.NewErrorMessage(400, interfaces.KindInvalidRequest, errors.New("request body is not a JSON object"))
	}
	modelRaw := root.Get("model").String()
	if modelRaw == "" {
		return nil, interfaces.NewErrorMessage(400, interfaces.KindInvalidRequest, errors.New("missing model"))
	}
	model := models.FromOpenAIID(modelRaw)
	if model == models.ModelUnknown {
		return nil, interfaces.NewErrorMessage(400, interfaces.KindInvalidRequest, fmt.Errorf("unknown model: %s", modelRaw))
	}
	messagesResult := root.Get("messages")
	if !messagesResult.IsArray() {
		return nil, interfaces.NewErrorMessage(400, interfaces.KindInvalidRequest, errors.New("missing messages"))
	}

	request := &Request{
		Model:    model,
		ModelRaw: modelRaw,
		Stream:   root.Get("stream").Bool(),
	}

	messagesResult.ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		text := openAIContentText(message.Get("content"))
		if role == "system" || role == "developer" {
			if request.System != "" {
				request.System += "\n\n"
			}
			request.System += text
			return true
		}
		if role != "user" && role != "assistant" {
			return true
		}
		request.Messages = append(request.Messages, Message{Role: role, Content: text})
		return true
	})

	if maxTokens := root.Get("max_completion_tokens"); maxTokens.Exists() {
		request.MaxOutputTokens = int(maxTokens.Int())
	} else if maxTokens = root.Get("max_tokens"); maxTokens.Exists() {
		request.MaxOutputTokens = int(maxTokens.Int())
	}
	if temperature := root.Get("temperature"); temperature.Exists() {
		request.Temperature = temperature.Float()
		request.HasTemperature = true
	}

	if model.SupportsThinking() && model.IsClaude() {
		request.Thinking = &models.ThinkingConfig{Budget: model.DefaultThinkingBudget(), IncludeThoughts: true}
	}
	request.FunctionDeclarations = openAIFunctionDeclarations(root.Get("tools"))

	return request, nil
}

// openAIContentText flattens content that is either a plain string or an
// array of {type:"text", text} parts.
func openAIContentText(content gjson.Result) string {
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

// openAIFunctionDeclarations converts OpenAI tool definitions (the
// {type:"function", function:{...}} shape) into a CCA function_declarations
// array with sanitized names and schemas.
func openAIFunctionDeclarations(tools gjson.Result) []byte {
	if !tools.IsArray() || len(tools.Array()) == 0 {
		return nil
	}
	declarations := []byte("[]")
	tools.ForEach(func(_, tool gjson.Result) bool {
		function := tool.Get("function")
		if !function.Exists() {
			return true
		}
		declaration := []byte("{}")
		declaration, _ = sjson.SetBytes(declaration, "name", SanitizeToolName(function.Get("name").String()))
		if description := function.Get("description"); description.Exists() {
			declaration, _ = sjson.SetBytes(declaration, "description", description.String())
		}
		if schema := function.Get("parameters"); schema.Exists() {
			declaration, _ = sjson.SetRawBytes(declaration, "parameters", SanitizeSchema([]byte(schema.Raw)))
		}
		declarations, _ = sjson.SetRawBytes(declarations, "-1", declaration)
		return true
	})
	return declarations
}
