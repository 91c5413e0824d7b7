// Package upstream implements the Cloud Code Assist client: endpoint
// failover, project discovery, Gemini-shaped body construction, unary and
// SSE response parsing, and error classification.
package upstream

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aetherbridge/AetherBridge/internal/interfaces"
)

const (
	// defaultRateLimitWait applies when a 429 carries no usable retry hint.
	defaultRateLimitWait = 60 * time.Second

	// CapacityFloor is the minimum wait stored for 503/529 capacity errors,
	// regardless of what the server reported.
	CapacityFloor = 45 * time.Second
)

var bodyRetryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"retryDelay"\s*:\s*"(\d+(?:\.\d+)?)s"`),
	regexp.MustCompile(`(?i)retry(?:[-\s]?after)?[^0-9]{0,12}(\d+(?:\.\d+)?)\s*s`),
}

// ClassifyResponse maps an upstream HTTP response onto the error taxonomy.
// A 2xx status yields nil.
func ClassifyResponse(statusCode int, headers http.Header, body []byte) *interfaces.ErrorMessage {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyText := string(body)

	switch {
	case statusCode == 429:
		retryAfter := retryAfterFrom(headers, bodyText, defaultRateLimitWait)
		return &interfaces.ErrorMessage{
			StatusCode: statusCode,
			Kind:       interfaces.KindRateLimited,
			RetryAfter: retryAfter,
			Error:      fmt.Errorf("upstream rate limited: %s", truncate(bodyText)),
		}
	case statusCode == 503 || statusCode == 529:
		retryAfter := retryAfterFrom(headers, bodyText, CapacityFloor)
		if retryAfter < CapacityFloor {
			retryAfter = CapacityFloor
		}
		return &interfaces.ErrorMessage{
			StatusCode: statusCode,
			Kind:       interfaces.KindCapacity,
			RetryAfter: retryAfter,
			Error:      fmt.Errorf("upstream capacity exhausted: %s", truncate(bodyText)),
		}
	case statusCode == 403 && strings.Contains(bodyText, "generateChat"):
		return &interfaces.ErrorMessage{
			StatusCode: statusCode,
			Kind:       interfaces.KindIAMDenied,
			Error: fmt.Errorf("the account lacks the cloudaicompanion.generateChat permission; " +
				"enable the Gemini for Google Cloud API on the project or re-authenticate with a different account"),
		}
	case statusCode >= 500:
		return &interfaces.ErrorMessage{
			StatusCode: statusCode,
			Kind:       interfaces.KindServerError,
			Error:      fmt.Errorf("upstream server error %d: %s", statusCode, truncate(bodyText)),
		}
	default:
		return &interfaces.ErrorMessage{
			StatusCode: statusCode,
			Kind:       interfaces.KindClientError,
			Error:      fmt.Errorf("upstream rejected the request with %d: %s", statusCode, truncate(bodyText)),
		}
	}
}

// retryAfterFrom resolves the wait hint: Retry-After header first, then a
// body scan, then the fallback.
func retryAfterFrom(headers http.Header, body string, fallback time.Duration) time.Duration {
	if headers != nil {
		if value := headers.Get("Retry-After"); value != "" {
			if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds > 0 {
				return time.Duration(seconds * float64(time.Second))
			}
		}
	}
	for _, pattern := range bodyRetryPatterns {
		if match := pattern.FindStringSubmatch(body); match != nil {
			if seconds, err := strconv.ParseFloat(match[1], 64); err == nil && seconds > 0 {
				return time.Duration(seconds * float64(time.Second))
			}
		}
	}
	return fallback
}

func truncate(s string) string {
	const limit = 512
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
