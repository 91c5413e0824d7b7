package translator

import (
	"github.com/aetherbridge/AetherBridge/internal/models"
)

// Message is one turn of the dialect-neutral conversation. The system
// message, when present, is hoisted out of the sequence and carried on
// Request.System.
type Message struct {
	// Role is "user" or "assistant".
	Role string

	// Content is the flattened text of the turn.
	Content string
}

// Request is the dialect-neutral form both inbound surfaces reduce to
// before the upstream body is built.
type Request struct {
	// Model is the resolved catalog entry.
	Model models.Model

	// ModelRaw is the client's original model string, echoed back verbatim
	// in responses.
	ModelRaw string

	// System is the hoisted system instruction; empty when absent.
	System string

	// Messages is the conversation with system turns removed.
	Messages []Message

	// FunctionDeclarations is the CCA-ready, sanitized tool declaration
	// array as raw JSON; nil when the request carries no tools.
	FunctionDeclarations []byte

	// Thinking is the requested reasoning configuration; nil when off.
	Thinking *models.ThinkingConfig

	// MaxOutputTokens caps the response size; 0 means unset.
	MaxOutputTokens int

	// Temperature is the sampling temperature; HasTemperature guards it.
	Temperature    float64
	HasTemperature bool

	// Stream is the client's streaming flag.
	Stream bool
}
