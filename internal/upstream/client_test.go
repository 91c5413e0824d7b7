package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/aetherbridge/AetherBridge/internal/auth"
	"github.com/aetherbridge/AetherBridge/internal/fingerprint"
	"github.com/aetherbridge/AetherBridge/internal/interfaces"
)

func testAccount() *auth.Account {
	return &auth.Account{
		Index:        0,
		Email:        "a@example.com",
		AccessToken:  "tok-a",
		AccessExpiry: time.Now().Add(time.Hour),
		RefreshToken: "refresh-a",
	}
}

func newTestClient(endpoints ...string) *Client {
	client := NewClient(testAccount(), fingerprint.Generate(), "", "")
	client.SetEndpoints(endpoints)
	return client
}

func TestEnsureProjectStringForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1internal:loadCodeAssist", r.URL.Path)
		assert.Equal(t, "Bearer tok-a", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Goog-QuotaUser"))
		_, _ = w.Write([]byte(`{"cloudaicompanionProject":"proj-string"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	require.Nil(t, client.EnsureProject(context.Background()))
	assert.Equal(t, "proj-string", client.ProjectID())

	// Idempotent: no further discovery calls once pinned.
	require.Nil(t, client.EnsureProject(context.Background()))
}

func TestEnsureProjectObjectForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"cloudaicompanionProject":{"id":"proj-object","name":"x"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	require.Nil(t, client.EnsureProject(context.Background()))
	assert.Equal(t, "proj-object", client.ProjectID())
}

func TestEnsureProjectFailsOverAndPins(t *testing.T) {
	var brokenCalls, goodCalls int32
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&brokenCalls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&goodCalls, 1)
		if strings.HasSuffix(r.URL.Path, ":loadCodeAssist") {
			_, _ = w.Write([]byte(`{"cloudaicompanionProject":"proj-good"}`))
			return
		}
		_, _ = w.Write([]byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}}`))
	}))
	defer good.Close()

	client := newTestClient(broken.URL, good.URL)
	require.Nil(t, client.EnsureProject(context.Background()))
	assert.Equal(t, "proj-good", client.ProjectID())
	assert.Equal(t, int32(1), atomic.LoadInt32(&brokenCalls))

	// Subsequent generation starts at the pinned endpoint; the broken one is
	// not retried.
	result, errMsg := client.Generate(context.Background(), []byte(`{}`))
	require.Nil(t, errMsg)
	assert.Equal(t, "ok", result.Content)
	assert.Equal(t, int32(1), atomic.LoadInt32(&brokenCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&goodCalls))
}

func TestExplicitProjectSkipsDiscovery(t *testing.T) {
	client := NewClient(testAccount(), fingerprint.Generate(), "proj-x,proj-y", "")
	require.Nil(t, client.EnsureProject(context.Background()))
	assert.Contains(t, []string{"proj-x", "proj-y"}, client.ProjectID())
}

func TestGenerateReturnsClassifiedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ":loadCodeAssist") {
			_, _ = w.Write([]byte(`{"cloudaicompanionProject":"p"}`))
			return
		}
		w.Header().Set("Retry-After", "15")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"quota"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, errMsg := client.Generate(context.Background(), []byte(`{}`))
	require.NotNil(t, errMsg)
	assert.Equal(t, interfaces.KindRateLimited, errMsg.Kind)
	assert.Equal(t, 15*time.Second, errMsg.RetryAfter)
}

func TestParseUnaryResponseSplitsThoughts(t *testing.T) {
	body := []byte(`{"response":{
		"candidates":[{"content":{"parts":[
			{"text":"step one","thought":true},
			{"text":"Hello"},
			{"text":" world"}
		]},"finishReason":"STOP"}],
		"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":4,"totalTokenCount":14}
	}}`)
	result := ParseUnaryResponse(body)
	assert.Equal(t, "Hello world", result.Content)
	assert.Equal(t, "step one", result.Thinking)
	assert.Equal(t, "STOP", result.FinishReason)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 10, result.Usage.PromptTokens)
	assert.Equal(t, 4, result.Usage.CandidatesTokens)

	// The envelope is optional.
	bare := ParseUnaryResponse([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`))
	assert.Equal(t, "hi", bare.Content)
}

func TestStreamParsesSSE(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"response":{"candidates":[{"content":{"parts":[{"text":"think","thought":true}]}}]}}`,
		``,
		`data: {"response":{"candidates":[{"content":{"parts":[{"text":"A"}]}}]}}`,
		``,
		`{"candidates":[{"content":{"parts":[{"text":"B"}]}}]}`,
		``,
		`data: {"response":{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"SF"}}}]}}]}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ":loadCodeAssist") {
			_, _ = w.Write([]byte(`{"cloudaicompanionProject":"p"}`))
			return
		}
		assert.Equal(t, "/v1internal:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	dataChan, errChan := client.Stream(context.Background(), []byte(`{}`))

	var chunks []*interfaces.StreamChunk
	for chunk := range dataChan {
		chunks = append(chunks, chunk)
	}
	assert.Nil(t, <-errChan)

	require.Len(t, chunks, 5)
	assert.True(t, chunks[0].IsThinking)
	assert.Equal(t, "think", chunks[0].Delta)
	assert.Equal(t, "A", chunks[1].Delta)
	assert.Equal(t, "B", chunks[2].Delta)

	require.True(t, chunks[3].IsToolUse)
	fragment := gjson.Parse(chunks[3].Delta)
	assert.Equal(t, "tool_use", fragment.Get("type").String())
	assert.True(t, strings.HasPrefix(fragment.Get("id").String(), "call_"))
	assert.Len(t, fragment.Get("id").String(), len("call_")+12)
	assert.Equal(t, "get_weather", fragment.Get("name").String())
	assert.Equal(t, "SF", fragment.Get("input.city").String())

	assert.True(t, chunks[4].Done)
}

func TestStreamUpstreamErrorBeforeData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ":loadCodeAssist") {
			_, _ = w.Write([]byte(`{"cloudaicompanionProject":"p"}`))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"details":[{"retryDelay":"9s"}]}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	dataChan, errChan := client.Stream(context.Background(), []byte(`{}`))

	_, ok := <-dataChan
	assert.False(t, ok)
	errMsg := <-errChan
	require.NotNil(t, errMsg)
	assert.Equal(t, interfaces.KindRateLimited, errMsg.Kind)
	assert.Equal(t, 9*time.Second, errMsg.RetryAfter)
}

func TestWithStyleLeavesOriginalUntouched(t *testing.T) {
	client := newTestClient("http://unused")
	alt := client.WithStyle(fingerprint.StyleAlt)
	assert.NotSame(t, client, alt)
	assert.Equal(t, client.ProjectID(), alt.ProjectID())
}
