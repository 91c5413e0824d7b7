// Package claude implements the Anthropic-Messages-compatible endpoints:
// /v1/messages with SSE streaming, the token-count approximation, and the
// organization stub some clients probe on startup.
package claude

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/aetherbridge/AetherBridge/internal/api/handlers"
	"github.com/aetherbridge/AetherBridge/internal/constant"
	"github.com/aetherbridge/AetherBridge/internal/fallback"
	"github.com/aetherbridge/AetherBridge/internal/interfaces"
	"github.com/aetherbridge/AetherBridge/internal/translator"
)

// ClaudeAPIHandler serves the Anthropic-dialect surface.
type ClaudeAPIHandler struct {
	*handlers.BaseHandler
}

// NewClaudeAPIHandler builds the handler.
func NewClaudeAPIHandler(base *handlers.BaseHandler) *ClaudeAPIHandler {
	return &ClaudeAPIHandler{BaseHandler: base}
}

// Messages handles POST /v1/messages. Streaming engages iff the request's
// stream flag is true.
func (h *ClaudeAPIHandler) Messages(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeClaudeError(c, interfaces.NewErrorMessage(400, interfaces.KindInvalidRequest, err))
		return
	}

	request, errMsg := translator.ParseClaudeRequest(body, false)
	if errMsg != nil {
		writeClaudeError(c, errMsg)
		return
	}
	attempt := &fallback.Attempt{Request: request, RawBody: body, Dialect: constant.Claude}

	if request.Stream {
		h.streamMessages(c, attempt)
		return
	}

	result, _, errMsg := h.Orchestrator.Execute(c.Request.Context(), attempt, nil)
	if errMsg != nil {
		writeClaudeError(c, errMsg)
		return
	}
	c.Data(http.StatusOK, "application/json", translator.BuildClaudeResponse(result, request.ModelRaw))
}

// streamMessages drives the SSE mediator for a streaming request.
func (h *ClaudeAPIHandler) streamMessages(c *gin.Context, attempt *fallback.Attempt) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeClaudeError(c, interfaces.NewErrorMessage(500, interfaces.KindServerError, nil))
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	mediator := newStreamMediator(c.Writer, flusher, attempt.Request.ModelRaw)
	mediator.messageStart()
	mediator.openStatusBlock()

	chunks, _, errMsg := h.Orchestrator.ExecuteStream(c.Request.Context(), attempt, mediator.announce)
	if errMsg != nil {
		mediator.fail(errMsg)
		return
	}

	for chunk := range chunks {
		if chunk.Done {
			mediator.finish()
			return
		}
		mediator.consume(chunk)
	}
	// The upstream ended without a done chunk; close what is open.
	mediator.fail(interfaces.NewErrorMessage(502, interfaces.KindServerError, nil))
}

// CountTokens handles POST /v1/messages/count_tokens with the chars/4
// approximation.
func (h *ClaudeAPIHandler) CountTokens(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeClaudeError(c, interfaces.NewErrorMessage(400, interfaces.KindInvalidRequest, err))
		return
	}
	request, errMsg := translator.ParseClaudeRequest(body, false)
	if errMsg != nil {
		writeClaudeError(c, errMsg)
		return
	}
	totalChars := len(request.System)
	for _, message := range request.Messages {
		totalChars += len(message.Content)
	}
	c.JSON(http.StatusOK, gin.H{"input_tokens": (totalChars + 3) / 4})
}

// Organization handles GET /v1/organizations/:id, a stub some clients call
// during startup.
func (h *ClaudeAPIHandler) Organization(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"id":   c.Param("id"),
		"type": "organization",
		"name": constant.ServiceName,
	})
}

// writeClaudeError maps a classified failure to the Anthropic error shape
// and HTTP status.
func writeClaudeError(c *gin.Context, errMsg *interfaces.ErrorMessage) {
	status := httpStatusFor(errMsg)
	if errMsg.RetryAfter > 0 {
		c.Header("Retry-After", retryAfterSeconds(errMsg))
	}
	log.Debugf("request failed (%s): %s", errMsg.Kind, errMsg.Message())
	c.Data(status, "application/json", translator.BuildClaudeErrorBody(errMsg))
}

func httpStatusFor(errMsg *interfaces.ErrorMessage) int {
	switch errMsg.Kind {
	case interfaces.KindInvalidRequest:
		return http.StatusBadRequest
	case interfaces.KindAuthRequired:
		return http.StatusUnauthorized
	case interfaces.KindRateLimited, interfaces.KindCapacity:
		return http.StatusTooManyRequests
	case interfaces.KindClientError:
		if errMsg.StatusCode >= 400 && errMsg.StatusCode < 500 {
			return errMsg.StatusCode
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func retryAfterSeconds(errMsg *interfaces.ErrorMessage) string {
	seconds := int(errMsg.RetryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
