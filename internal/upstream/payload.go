package upstream

import (
	"regexp"

	"github.com/tidwall/sjson"

	"github.com/aetherbridge/AetherBridge/internal/models"
	"github.com/aetherbridge/AetherBridge/internal/translator"
)

// Thinking markers the proxy itself may have emitted in earlier turns. They
// must be stripped from assistant history before transmission: the upstream
// regenerates fresh thinking, and resending stale markers triggers
// signature-mismatch errors.
var thinkingMarkerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?s)\[Thinking:.*?\]`),
	regexp.MustCompile(`(?m)^>\s*\*Thinking:.*$`),
}

// StripThinkingMarkers removes all documented thinking-marker formats from
// assistant text.
func StripThinkingMarkers(text string) string {
	for _, pattern := range thinkingMarkerPatterns {
		text = pattern.ReplaceAllString(text, "")
	}
	return text
}

// WireModelID returns the model identifier sent on the wire. Gemini 3 Pro
// carries its thinking level as a suffix.
func WireModelID(model models.Model, thinking *models.ThinkingConfig) string {
	id := model.APIID()
	if model != models.Gemini3Pro {
		return id
	}
	level := models.ThinkingHigh
	if thinking != nil && thinking.Level != "" {
		level = thinking.Level
	}
	// Pro only accepts low and high on the wire.
	switch level {
	case models.ThinkingLow, "minimal":
		level = models.ThinkingLow
	default:
		level = models.ThinkingHigh
	}
	return id + "-" + string(level)
}

// BuildRequestBody assembles the CCA wire body for a request routed to the
// given model. The effective model may differ from request.Model when the
// orchestrator spoofed it; thinking must already be adapted for the
// effective model.
func BuildRequestBody(projectID string, model models.Model, request *translator.Request, thinking *models.ThinkingConfig) []byte {
	body := []byte(`{"request":{"contents":[]}}`)
	body, _ = sjson.SetBytes(body, "project", projectID)
	body, _ = sjson.SetBytes(body, "model", WireModelID(model, thinking))

	for _, message := range request.Messages {
		role := message.Role
		content := message.Content
		if role == "assistant" {
			role = "model"
			content = StripThinkingMarkers(content)
		}
		part := []byte(`{"parts":[{}]}`)
		part, _ = sjson.SetBytes(part, "role", role)
		part, _ = sjson.SetBytes(part, "parts.0.text", content)
		body, _ = sjson.SetRawBytes(body, "request.contents.-1", part)
	}

	if request.System != "" {
		body, _ = sjson.SetBytes(body, "request.systemInstruction.parts.0.text", request.System)
	}

	maxOutputTokens := request.MaxOutputTokens
	if thinking != nil && model.IsClaude() && thinking.Budget > 0 &&
		maxOutputTokens > 0 && thinking.Budget >= maxOutputTokens {
		maxOutputTokens = thinking.Budget + 8192
	}
	if maxOutputTokens > 0 {
		body, _ = sjson.SetBytes(body, "request.generationConfig.maxOutputTokens", maxOutputTokens)
	}
	if request.HasTemperature {
		body, _ = sjson.SetBytes(body, "request.generationConfig.temperature", request.Temperature)
	}

	if thinking != nil && model.SupportsThinking() {
		if model.IsClaude() {
			budget := thinking.Budget
			if budget == 0 {
				budget = model.DefaultThinkingBudget()
			}
			body, _ = sjson.SetBytes(body, "request.generationConfig.thinkingConfig.thinkingBudget", budget)
		} else {
			level := thinking.Level
			if level == "" && thinking.Budget > 0 {
				level = models.LevelFromBudget(thinking.Budget)
			}
			if level == "" {
				level = models.ThinkingHigh
			}
			if model == models.Gemini3Pro && level == models.ThinkingMedium {
				level = models.ThinkingHigh
			}
			body, _ = sjson.SetBytes(body, "request.generationConfig.thinkingConfig.thinkingLevel", string(level))
		}
		if thinking.IncludeThoughts {
			body, _ = sjson.SetBytes(body, "request.generationConfig.thinkingConfig.includeThoughts", true)
		}
	}

	if request.FunctionDeclarations != nil {
		body, _ = sjson.SetRawBytes(body, "request.tools.0.function_declarations", request.FunctionDeclarations)
	}

	return body
}
