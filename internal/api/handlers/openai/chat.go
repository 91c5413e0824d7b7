// Package openai implements the OpenAI-compatible endpoints: the model
// catalog and non-streaming chat completions.
package openai

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aetherbridge/AetherBridge/internal/api/handlers"
	"github.com/aetherbridge/AetherBridge/internal/constant"
	"github.com/aetherbridge/AetherBridge/internal/fallback"
	"github.com/aetherbridge/AetherBridge/internal/interfaces"
	"github.com/aetherbridge/AetherBridge/internal/models"
	"github.com/aetherbridge/AetherBridge/internal/translator"
)

// OpenAIAPIHandler serves the OpenAI-dialect surface.
type OpenAIAPIHandler struct {
	*handlers.BaseHandler
}

// NewOpenAIAPIHandler builds the handler.
func NewOpenAIAPIHandler(base *handlers.BaseHandler) *OpenAIAPIHandler {
	return &OpenAIAPIHandler{BaseHandler: base}
}

// Models handles GET /v1/models with the fixed catalog.
func (h *OpenAIAPIHandler) Models(c *gin.Context) {
	created := time.Now().Unix()
	data := make([]gin.H, 0, len(models.All()))
	for _, model := range models.All() {
		data = append(data, gin.H{
			"id":           model.APIID(),
			"object":       "model",
			"created":      created,
			"owned_by":     constant.ServiceName,
			"display_name": model.DisplayName(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// ChatCompletions handles POST /v1/chat/completions. This surface is
// non-streaming; streaming clients belong on /v1/messages.
func (h *OpenAIAPIHandler) ChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeOpenAIError(c, interfaces.NewErrorMessage(400, interfaces.KindInvalidRequest, err))
		return
	}
	request, errMsg := translator.ParseOpenAIRequest(body)
	if errMsg != nil {
		writeOpenAIError(c, errMsg)
		return
	}
	if request.Stream {
		writeOpenAIError(c, interfaces.NewErrorMessage(400, interfaces.KindInvalidRequest,
			errors.New("streaming is not supported on this endpoint; use /v1/messages with stream:true")))
		return
	}

	attempt := &fallback.Attempt{Request: request, RawBody: body, Dialect: constant.OpenAI}
	result, _, errMsg := h.Orchestrator.Execute(c.Request.Context(), attempt, nil)
	if errMsg != nil {
		writeOpenAIError(c, errMsg)
		return
	}
	c.Data(http.StatusOK, "application/json", translator.BuildOpenAIResponse(result, request.ModelRaw))
}

// writeOpenAIError maps a classified failure to the OpenAI error shape and
// HTTP status.
func writeOpenAIError(c *gin.Context, errMsg *interfaces.ErrorMessage) {
	status := http.StatusInternalServerError
	switch errMsg.Kind {
	case interfaces.KindInvalidRequest:
		status = http.StatusBadRequest
	case interfaces.KindAuthRequired:
		status = http.StatusUnauthorized
	case interfaces.KindRateLimited, interfaces.KindCapacity:
		status = http.StatusTooManyRequests
	case interfaces.KindClientError:
		if errMsg.StatusCode >= 400 && errMsg.StatusCode < 500 {
			status = errMsg.StatusCode
		} else {
			status = http.StatusBadRequest
		}
	}
	if errMsg.RetryAfter > 0 {
		seconds := int(errMsg.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
	c.Data(status, "application/json", translator.BuildOpenAIErrorBody(errMsg))
}
