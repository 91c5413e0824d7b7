package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/aetherbridge/AetherBridge/internal/auth"
	"github.com/aetherbridge/AetherBridge/internal/constant"
	"github.com/aetherbridge/AetherBridge/internal/fingerprint"
	"github.com/aetherbridge/AetherBridge/internal/interfaces"
	"github.com/aetherbridge/AetherBridge/internal/util"
)

const (
	// requestTimeout accommodates long thinking budgets.
	requestTimeout = 3600 * time.Second

	// maxSendJitter is the upper bound of the pacing sleep before each send.
	maxSendJitter = 500 * time.Millisecond
)

// Client issues Cloud Code Assist requests for one account. One instance is
// constructed per inbound request; the fingerprint is shared process-wide.
type Client struct {
	account    *auth.Account
	fp         *fingerprint.Fingerprint
	httpClient *http.Client
	style      fingerprint.Style

	projectID     string
	endpoints     []string
	endpointIndex int // pinned endpoint after discovery; -1 when unpinned
}

// NewClient builds a client for the account. When explicitProjects is a
// non-empty comma-separated list, one element is chosen uniformly at random
// and discovery is skipped.
func NewClient(account *auth.Account, fp *fingerprint.Fingerprint, explicitProjects, proxyURL string) *Client {
	client := &Client{
		account:       account,
		fp:            fp,
		httpClient:    util.SetProxy(proxyURL, &http.Client{Timeout: requestTimeout}),
		endpoints:     constant.Endpoints,
		endpointIndex: -1,
	}
	if explicitProjects != "" {
		candidates := strings.Split(explicitProjects, ",")
		for i := range candidates {
			candidates[i] = strings.TrimSpace(candidates[i])
		}
		client.projectID = candidates[rand.Intn(len(candidates))]
	}
	return client
}

// WithStyle returns a copy of the client that renders the alternate
// fingerprint style on its calls. The underlying HTTP client is shared.
func (c *Client) WithStyle(style fingerprint.Style) *Client {
	clone := *c
	clone.style = style
	return &clone
}

// SetEndpoints overrides the endpoint list. Test hook.
func (c *Client) SetEndpoints(endpoints []string) {
	c.endpoints = endpoints
	c.endpointIndex = -1
}

// Account returns the account this client sends as.
func (c *Client) Account() *auth.Account {
	return c.account
}

// ProjectID returns the resolved project id, empty before discovery.
func (c *Client) ProjectID() string {
	return c.projectID
}

func (c *Client) applyHeaders(req *http.Request) {
	for key, values := range c.fp.Headers(c.style) {
		for _, value := range values {
			req.Header.Set(key, value)
		}
	}
	req.Header.Set("Authorization", "Bearer "+c.account.AccessToken)
}

// jitter sleeps a uniform 0-500 ms before a send to avoid thundering the
// upstream, honoring context cancellation.
func jitter(ctx context.Context) error {
	select {
	case <-time.After(time.Duration(rand.Int63n(int64(maxSendJitter)))):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsureProject resolves the provisioned project id. An explicit project is
// authoritative; otherwise a loadCodeAssist discovery call runs against each
// endpoint in order, and the first endpoint that answers with a project pins
// both the project and the endpoint.
func (c *Client) EnsureProject(ctx context.Context) *interfaces.ErrorMessage {
	if c.projectID != "" {
		return nil
	}
	discoveryBody := []byte(`{"metadata":{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}}`)

	var lastErr *interfaces.ErrorMessage
	for i, endpoint := range c.endpoints {
		url := endpoint + "/v1internal:loadCodeAssist"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(discoveryBody))
		if err != nil {
			return interfaces.NewErrorMessage(500, interfaces.KindServerError, err)
		}
		c.applyHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = interfaces.NewErrorMessage(502, interfaces.KindServerError, err)
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if errMsg := ClassifyResponse(resp.StatusCode, resp.Header, body); errMsg != nil {
			lastErr = errMsg
			if !errMsg.Retryable() && errMsg.Kind != interfaces.KindClientError {
				return errMsg
			}
			continue
		}

		projectID := extractProjectID(body)
		if projectID == "" {
			continue
		}
		c.projectID = projectID
		c.endpointIndex = i
		log.Debugf("discovered project %s via %s", projectID, endpoint)
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return interfaces.NewErrorMessage(500, interfaces.KindServerError,
		errors.New("project discovery returned no cloudaicompanionProject"))
}

// extractProjectID reads cloudaicompanionProject, which the upstream returns
// either as a plain string or as an object carrying an id field.
func extractProjectID(body []byte) string {
	project := gjson.GetBytes(body, "cloudaicompanionProject")
	if project.Type == gjson.String {
		return project.String()
	}
	if project.IsObject() {
		return project.Get("id").String()
	}
	return ""
}

// orderedEndpoints returns the endpoints to try, starting at the pinned one.
func (c *Client) orderedEndpoints() []string {
	if c.endpointIndex < 0 {
		return c.endpoints
	}
	ordered := make([]string, 0, len(c.endpoints))
	for i := range c.endpoints {
		ordered = append(ordered, c.endpoints[(c.endpointIndex+i)%len(c.endpoints)])
	}
	return ordered
}

// Generate issues a unary generateContent call, failing over to the next
// endpoint on server errors.
func (c *Client) Generate(ctx context.Context, requestBody []byte) (*interfaces.UnaryResult, *interfaces.ErrorMessage) {
	if errMsg := c.EnsureProject(ctx); errMsg != nil {
		return nil, errMsg
	}
	if err := jitter(ctx); err != nil {
		return nil, interfaces.NewErrorMessage(499, interfaces.KindClientError, err)
	}

	var lastErr *interfaces.ErrorMessage
	for _, endpoint := range c.orderedEndpoints() {
		url := endpoint + "/v1internal:generateContent"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
		if err != nil {
			return nil, interfaces.NewErrorMessage(500, interfaces.KindServerError, err)
		}
		c.applyHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = interfaces.NewErrorMessage(502, interfaces.KindServerError, fmt.Errorf("upstream request failed: %w", err))
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if errMsg := ClassifyResponse(resp.StatusCode, resp.Header, body); errMsg != nil {
			if errMsg.Kind == interfaces.KindServerError {
				lastErr = errMsg
				continue
			}
			return nil, errMsg
		}
		return ParseUnaryResponse(body), nil
	}
	return nil, lastErr
}

// ParseUnaryResponse walks candidates[0].content.parts, splitting thought
// parts from content, and collects the finish reason and usage. The payload
// may arrive wrapped in a response envelope.
func ParseUnaryResponse(body []byte) *interfaces.UnaryResult {
	root := gjson.ParseBytes(body)
	if envelope := root.Get("response"); envelope.Exists() {
		root = envelope
	}
	result := &interfaces.UnaryResult{}
	candidate := root.Get("candidates.0")
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		text := part.Get("text").String()
		if part.Get("thought").Bool() {
			result.Thinking += text
		} else {
			result.Content += text
		}
		return true
	})
	result.FinishReason = candidate.Get("finishReason").String()
	if usage := root.Get("usageMetadata"); usage.Exists() {
		result.Usage = &interfaces.UsageMetadata{
			PromptTokens:     int(usage.Get("promptTokenCount").Int()),
			CandidatesTokens: int(usage.Get("candidatesTokenCount").Int()),
			TotalTokens:      int(usage.Get("totalTokenCount").Int()),
		}
	}
	return result
}
