// Package api provides the HTTP server for AetherBridge: the Gin engine,
// route setup, CORS, and the landing and health endpoints. The server binds
// to loopback by default and performs no client authentication; trust is
// positional.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/aetherbridge/AetherBridge/internal/api/handlers"
	"github.com/aetherbridge/AetherBridge/internal/api/handlers/claude"
	"github.com/aetherbridge/AetherBridge/internal/api/handlers/openai"
	"github.com/aetherbridge/AetherBridge/internal/config"
	"github.com/aetherbridge/AetherBridge/internal/constant"
)

// Server wraps the Gin engine and the underlying HTTP server.
type Server struct {
	engine   *gin.Engine
	server   *http.Server
	handlers *handlers.BaseHandler
	cfg      *config.Config
}

// NewServer builds the server and wires the routes.
func NewServer(cfg *config.Config, base *handlers.BaseHandler) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	s := &Server{
		engine:   engine,
		handlers: base,
		cfg:      cfg,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}
	return s
}

// setupRoutes registers every endpoint.
func (s *Server) setupRoutes() {
	openaiHandlers := openai.NewOpenAIAPIHandler(s.handlers)
	claudeHandlers := claude.NewClaudeAPIHandler(s.handlers)

	s.engine.GET("/", s.landingHandler)
	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/v1")
	{
		v1.GET("/models", openaiHandlers.Models)
		v1.POST("/chat/completions", openaiHandlers.ChatCompletions)
		v1.POST("/messages", claudeHandlers.Messages)
		v1.POST("/messages/count_tokens", claudeHandlers.CountTokens)
		v1.GET("/organizations/:id", claudeHandlers.Organization)
	}
}

// Start runs the HTTP server until it fails or Stop is called.
func (s *Server) Start() error {
	log.Infof("%s %s listening on %s", constant.ServiceName, constant.Version, s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) landingHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK,
		"<html><head><title>AetherBridge</title></head><body>"+
			"<h1>AetherBridge</h1>"+
			"<p>OpenAI endpoint: POST /v1/chat/completions</p>"+
			"<p>Anthropic endpoint: POST /v1/messages</p>"+
			"<p>Version %s</p>"+
			"</body></html>", constant.Version)
}

func (s *Server) healthHandler(c *gin.Context) {
	response := gin.H{
		"status":   "ok",
		"service":  constant.ServiceName,
		"version":  constant.Version,
		"accounts": s.handlers.Pool.Len(),
	}
	if s.handlers.Usage != nil {
		response["usage"] = s.handlers.Usage.Snapshot()
	}
	c.JSON(http.StatusOK, response)
}

// corsMiddleware permits browser-based clients on other origins.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, anthropic-version, x-api-key")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
