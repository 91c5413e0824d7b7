// Package handlers provides the shared state for the API endpoint handlers:
// the fallback orchestrator, the account pool, and the usage counters.
package handlers

import (
	"github.com/aetherbridge/AetherBridge/internal/auth"
	"github.com/aetherbridge/AetherBridge/internal/config"
	"github.com/aetherbridge/AetherBridge/internal/fallback"
	"github.com/aetherbridge/AetherBridge/internal/usage"
)

// BaseHandler carries the dependencies every endpoint handler needs.
type BaseHandler struct {
	// Orchestrator executes requests with the full mitigation ladder.
	Orchestrator *fallback.Orchestrator

	// Pool is the shared account pool, exposed for health detail.
	Pool *auth.Pool

	// Usage holds the diagnostic counters, may be nil.
	Usage *usage.Store

	// Cfg is the application configuration.
	Cfg *config.Config
}

// NewBaseHandler builds the shared handler state.
func NewBaseHandler(orchestrator *fallback.Orchestrator, pool *auth.Pool, usageStore *usage.Store, cfg *config.Config) *BaseHandler {
	return &BaseHandler{
		Orchestrator: orchestrator,
		Pool:         pool,
		Usage:        usageStore,
		Cfg:          cfg,
	}
}
