// Package models defines the closed catalog of models served through the
// Cloud Code Assist upstream, along with the per-model metadata the rest of
// the proxy branches on. Raw model-id strings appear only at the HTTP
// boundary and in the upstream wire body; internal code works with the
// Model enumeration exclusively.
package models

import "strings"

// Model identifies one of the models the upstream serves.
type Model int

const (
	// ModelUnknown is the zero value; it never appears in a valid request.
	ModelUnknown Model = iota

	// Gemini3Pro is the advanced reasoning Gemini tier. The wire id carries
	// the chosen thinking level as a suffix (gemini-3-pro-low / -high).
	Gemini3Pro

	// Gemini3Flash is the fast Gemini tier.
	Gemini3Flash

	// Gemini3FlashLite is the lightweight Gemini tier without thinking.
	Gemini3FlashLite

	// ClaudeSonnet45 is Claude Sonnet 4.5 without extended thinking.
	ClaudeSonnet45

	// ClaudeSonnet45Thinking is Claude Sonnet 4.5 with extended thinking.
	ClaudeSonnet45Thinking

	// ClaudeOpus45 is Claude Opus 4.5 without extended thinking.
	ClaudeOpus45

	// ClaudeOpus45Thinking is Claude Opus 4.5 with extended thinking.
	ClaudeOpus45Thinking
)

// Family groups models for rate-limit accounting. A Claude rate limit never
// blocks a Gemini request on the same account, and vice versa.
type Family int

const (
	// FamilyGemini covers the Gemini tiers.
	FamilyGemini Family = iota

	// FamilyClaude covers the Claude tiers.
	FamilyClaude
)

// String returns the family name for logging.
func (f Family) String() string {
	if f == FamilyClaude {
		return "claude"
	}
	return "gemini"
}

// APIID returns the upstream wire identifier. Gemini3Pro additionally needs
// the thinking level appended before transmission; see upstream.ModelWireID.
func (m Model) APIID() string {
	switch m {
	case Gemini3Pro:
		return "gemini-3-pro"
	case Gemini3Flash:
		return "gemini-3-flash"
	case Gemini3FlashLite:
		return "gemini-3-flash-lite"
	case ClaudeSonnet45:
		return "claude-sonnet-4-5"
	case ClaudeSonnet45Thinking:
		return "claude-sonnet-4-5-thinking"
	case ClaudeOpus45:
		return "claude-opus-4-5"
	case ClaudeOpus45Thinking:
		return "claude-opus-4-5-thinking"
	}
	return ""
}

// DisplayName returns a human-readable name for model listings.
func (m Model) DisplayName() string {
	switch m {
	case Gemini3Pro:
		return "Gemini 3 Pro"
	case Gemini3Flash:
		return "Gemini 3 Flash"
	case Gemini3FlashLite:
		return "Gemini 3 Flash Lite"
	case ClaudeSonnet45:
		return "Claude Sonnet 4.5"
	case ClaudeSonnet45Thinking:
		return "Claude Sonnet 4.5 (Thinking)"
	case ClaudeOpus45:
		return "Claude Opus 4.5"
	case ClaudeOpus45Thinking:
		return "Claude Opus 4.5 (Thinking)"
	}
	return ""
}

// IsClaude reports whether the model belongs to the Claude family.
func (m Model) IsClaude() bool {
	switch m {
	case ClaudeSonnet45, ClaudeSonnet45Thinking, ClaudeOpus45, ClaudeOpus45Thinking:
		return true
	}
	return false
}

// Family returns the rate-limit family of the model.
func (m Model) Family() Family {
	if m.IsClaude() {
		return FamilyClaude
	}
	return FamilyGemini
}

// SupportsThinking reports whether the model accepts a thinking config.
// Claude models consume a token budget; Gemini models consume a level.
func (m Model) SupportsThinking() bool {
	switch m {
	case ClaudeSonnet45Thinking, ClaudeOpus45Thinking, Gemini3Pro, Gemini3Flash:
		return true
	}
	return false
}

// DefaultThinkingBudget returns the default token budget for Claude thinking
// models, or 0 when the model has none.
func (m Model) DefaultThinkingBudget() int {
	switch m {
	case ClaudeSonnet45Thinking:
		return 8192
	case ClaudeOpus45Thinking:
		return 16384
	}
	return 0
}

// All returns the full catalog in listing order.
func All() []Model {
	return []Model{
		Gemini3Pro,
		Gemini3Flash,
		Gemini3FlashLite,
		ClaudeSonnet45,
		ClaudeSonnet45Thinking,
		ClaudeOpus45,
		ClaudeOpus45Thinking,
	}
}

// FromAPIID resolves an exact wire identifier back to a Model.
func FromAPIID(id string) Model {
	for _, m := range All() {
		if m.APIID() == id {
			return m
		}
	}
	return ModelUnknown
}

// FromAnthropicID maps an Anthropic-dialect model string onto the catalog
// using substring rules, so clients pinned to upstream Anthropic ids keep
// working. Unknown strings default to ClaudeSonnet45.
func FromAnthropicID(id string) Model {
	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "opus"):
		return ClaudeOpus45Thinking
	case strings.Contains(lower, "sonnet") && strings.Contains(lower, "think"):
		return ClaudeSonnet45Thinking
	case strings.Contains(lower, "sonnet"):
		return ClaudeSonnet45
	case strings.Contains(lower, "haiku"):
		return Gemini3Flash
	case strings.Contains(lower, "gemini") && strings.Contains(lower, "flash"):
		return Gemini3Flash
	case strings.Contains(lower, "gemini"):
		return Gemini3Pro
	}
	return ClaudeSonnet45
}

// FromOpenAIID maps an OpenAI-dialect model string onto the catalog. Exact
// wire ids are honored first, then the Anthropic substring rules; a string
// with no recognizable family yields ModelUnknown so the handler can reject
// the request.
func FromOpenAIID(id string) Model {
	if m := FromAPIID(id); m != ModelUnknown {
		return m
	}
	lower := strings.ToLower(id)
	if strings.Contains(lower, "claude") || strings.Contains(lower, "gemini") ||
		strings.Contains(lower, "opus") || strings.Contains(lower, "sonnet") || strings.Contains(lower, "haiku") {
		return FromAnthropicID(id)
	}
	return ModelUnknown
}

// SpoofFor returns the cross-family substitute used when the primary model
// is rate-limited, exploiting per-family limit accounting. Models without a
// substitute return ModelUnknown.
func SpoofFor(m Model) Model {
	switch m {
	case ClaudeOpus45Thinking:
		return Gemini3Pro
	case Gemini3Pro:
		return ClaudeOpus45Thinking
	case ClaudeSonnet45, ClaudeSonnet45Thinking:
		return Gemini3Flash
	}
	return ModelUnknown
}

// ThinkingLevel is the discrete reasoning effort accepted by Gemini models.
type ThinkingLevel string

const (
	// ThinkingLow maps small budgets.
	ThinkingLow ThinkingLevel = "low"

	// ThinkingMedium maps mid budgets. Gemini3Pro does not accept it on the
	// wire and renders it as high.
	ThinkingMedium ThinkingLevel = "medium"

	// ThinkingHigh maps large budgets.
	ThinkingHigh ThinkingLevel = "high"
)

// ThinkingConfig carries the dialect-neutral thinking request. Claude models
// consume Budget; Gemini models consume Level.
type ThinkingConfig struct {
	// Budget is the thinking token budget for Claude models; 0 means unset.
	Budget int

	// Level is the thinking level for Gemini models; empty means unset.
	Level ThinkingLevel

	// IncludeThoughts requests thinking content in the response.
	IncludeThoughts bool
}

// LevelFromBudget converts a Claude token budget into a Gemini level:
// under 5000 tokens is low, under 15000 medium, anything larger high.
func LevelFromBudget(budget int) ThinkingLevel {
	switch {
	case budget < 5000:
		return ThinkingLow
	case budget < 15000:
		return ThinkingMedium
	default:
		return ThinkingHigh
	}
}

// AdaptThinkingForSpoof rewrites a Claude thinking config for the Gemini
// substitute model: the budget becomes a level, Gemini3Flash is clamped to
// medium, and Gemini3Pro defaults to high when nothing was requested.
func AdaptThinkingForSpoof(target Model, tc *ThinkingConfig) *ThinkingConfig {
	if tc == nil {
		tc = &ThinkingConfig{}
	}
	adapted := &ThinkingConfig{IncludeThoughts: tc.IncludeThoughts, Level: tc.Level}
	if adapted.Level == "" && tc.Budget > 0 {
		adapted.Level = LevelFromBudget(tc.Budget)
	}
	switch target {
	case Gemini3Flash:
		if adapted.Level == ThinkingHigh {
			adapted.Level = ThinkingMedium
		}
	case Gemini3Pro:
		if adapted.Level == "" {
			adapted.Level = ThinkingHigh
		}
	}
	return adapted
}
