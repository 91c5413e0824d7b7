package upstream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aetherbridge/AetherBridge/internal/interfaces"
)

// Stream issues a streaming generateContent call and reduces the upstream
// SSE events to StreamChunk values on the data channel. Exactly one of the
// channels terminates the call: the data channel always ends with a Done
// chunk on success, and a single ErrorMessage arrives on the error channel
// otherwise.
func (c *Client) Stream(ctx context.Context, requestBody []byte) (<-chan *interfaces.StreamChunk, <-chan *interfaces.ErrorMessage) {
	dataChan := make(chan *interfaces.StreamChunk, 16)
	errChan := make(chan *interfaces.ErrorMessage, 1)

	go func() {
		defer close(dataChan)
		defer close(errChan)

		if errMsg := c.EnsureProject(ctx); errMsg != nil {
			errChan <- errMsg
			return
		}
		if err := jitter(ctx); err != nil {
			errChan <- interfaces.NewErrorMessage(499, interfaces.KindClientError, err)
			return
		}

		var lastErr *interfaces.ErrorMessage
		for _, endpoint := range c.orderedEndpoints() {
			url := endpoint + "/v1internal:streamGenerateContent?alt=sse"
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
			if err != nil {
				errChan <- interfaces.NewErrorMessage(500, interfaces.KindServerError, err)
				return
			}
			c.applyHeaders(req)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				lastErr = interfaces.NewErrorMessage(502, interfaces.KindServerError, fmt.Errorf("upstream request failed: %w", err))
				continue
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(resp.Body)
				_ = resp.Body.Close()
				errMsg := ClassifyResponse(resp.StatusCode, resp.Header, body)
				if errMsg.Kind == interfaces.KindServerError {
					lastErr = errMsg
					continue
				}
				errChan <- errMsg
				return
			}

			readStream(ctx, resp.Body, dataChan)
			_ = resp.Body.Close()
			return
		}
		errChan <- lastErr
	}()

	return dataChan, errChan
}

// readStream consumes the SSE body line by line. Lines may carry a "data: "
// prefix or be bare JSON; both are tolerated. A literal [DONE] terminates,
// and a final Done chunk is always emitted.
func readStream(ctx context.Context, body io.Reader, dataChan chan<- *interfaces.StreamChunk) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}
		event := gjson.Parse(payload)
		if !event.IsObject() {
			continue
		}
		if envelope := event.Get("response"); envelope.Exists() {
			event = envelope
		}
		event.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
			chunk := chunkFromPart(part)
			if chunk == nil {
				return true
			}
			select {
			case dataChan <- chunk:
			case <-ctx.Done():
				return false
			}
			return true
		})
	}
	if err := scanner.Err(); err != nil {
		log.Warnf("upstream stream ended early, response may be truncated: %v", err)
	}

	select {
	case dataChan <- &interfaces.StreamChunk{Done: true}:
	case <-ctx.Done():
	}
}

// chunkFromPart reduces one upstream part to a StreamChunk. Function calls
// become an Anthropic-shaped tool_use fragment with a fresh call id.
func chunkFromPart(part gjson.Result) *interfaces.StreamChunk {
	if functionCall := part.Get("functionCall"); functionCall.Exists() {
		fragment := []byte(`{"type":"tool_use"}`)
		fragment, _ = sjson.SetBytes(fragment, "id", newToolCallID())
		fragment, _ = sjson.SetBytes(fragment, "name", functionCall.Get("name").String())
		args := functionCall.Get("args")
		if args.Exists() {
			fragment, _ = sjson.SetRawBytes(fragment, "input", []byte(args.Raw))
		} else {
			fragment, _ = sjson.SetRawBytes(fragment, "input", []byte("{}"))
		}
		return &interfaces.StreamChunk{Delta: string(fragment), IsToolUse: true}
	}

	text := part.Get("text").String()
	if text == "" {
		return nil
	}
	return &interfaces.StreamChunk{Delta: text, IsThinking: part.Get("thought").Bool()}
}

// newToolCallID returns a call id of the form call_<12 hex chars>.
func newToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
