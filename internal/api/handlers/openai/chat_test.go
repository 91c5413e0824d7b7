package openai

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/aetherbridge/AetherBridge/internal/api/handlers"
	"github.com/aetherbridge/AetherBridge/internal/auth"
	"github.com/aetherbridge/AetherBridge/internal/config"
	"github.com/aetherbridge/AetherBridge/internal/fallback"
	"github.com/aetherbridge/AetherBridge/internal/fingerprint"
	"github.com/aetherbridge/AetherBridge/internal/models"
	"github.com/aetherbridge/AetherBridge/internal/upstream"
)

func newTestRouter(t *testing.T, upstreamURL string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pool, err := auth.NewPool(nil, nil)
	require.NoError(t, err)
	pool.Seed([]*auth.Account{{
		Email:        "a@x",
		AccessToken:  "tok-a",
		AccessExpiry: time.Now().Add(time.Hour),
		RefreshToken: "refresh-a",
	}})

	fp := fingerprint.Generate()
	orchestrator := fallback.New(pool, nil, func(account *auth.Account) *upstream.Client {
		client := upstream.NewClient(account, fp, "proj-test", "")
		client.SetEndpoints([]string{upstreamURL})
		return client
	})

	handler := NewOpenAIAPIHandler(handlers.NewBaseHandler(orchestrator, pool, nil, config.DefaultConfig()))
	router := gin.New()
	router.GET("/v1/models", handler.Models)
	router.POST("/v1/chat/completions", handler.ChatCompletions)
	return router
}

func TestModelsCatalog(t *testing.T) {
	router := newTestRouter(t, "http://unused")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	root := gjson.Parse(recorder.Body.String())
	assert.Equal(t, "list", root.Get("object").String())

	data := root.Get("data").Array()
	require.Len(t, data, len(models.All()))

	ids := make([]string, 0, len(data))
	for _, entry := range data {
		assert.Equal(t, "model", entry.Get("object").String())
		assert.NotEmpty(t, entry.Get("display_name").String())
		ids = append(ids, entry.Get("id").String())
	}
	assert.Contains(t, ids, "gemini-3-pro")
	assert.Contains(t, ids, "claude-opus-4-5-thinking")
}

func TestChatCompletions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{
			"candidates":[{"content":{"parts":[{"text":"Hello!"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6}
		}}`))
	}))
	defer server.Close()
	router := newTestRouter(t, server.URL)

	body := `{"model":"gemini-3-flash","messages":[{"role":"user","content":"hi"}]}`
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, recorder.Code)
	root := gjson.Parse(recorder.Body.String())
	assert.Equal(t, "chat.completion", root.Get("object").String())
	assert.Equal(t, "gemini-3-flash", root.Get("model").String())
	assert.Equal(t, "Hello!", root.Get("choices.0.message.content").String())
	assert.Equal(t, "stop", root.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(6), root.Get("usage.total_tokens").Int())
}

func TestChatCompletionsStreamRejected(t *testing.T) {
	router := newTestRouter(t, "http://unused")

	body := `{"model":"gemini-3-flash","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	root := gjson.Parse(recorder.Body.String())
	assert.Equal(t, "invalid_request_error", root.Get("error.type").String())
	assert.Contains(t, root.Get("error.message").String(), "/v1/messages")
}

func TestChatCompletionsUnknownModel(t *testing.T) {
	router := newTestRouter(t, "http://unused")

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, gjson.Parse(recorder.Body.String()).Get("error.message").String(), "gpt-4o")
}
