// Package fingerprint generates the per-process device identity presented to
// the Cloud Code Assist upstream. A fingerprint is created once at startup
// and shared read-only by every upstream client. It renders to two header
// styles: the primary style impersonates the Antigravity IDE, the alt style
// impersonates the first-party CLI client, which the upstream bills against
// a separate quota pool.
package fingerprint

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aetherbridge/AetherBridge/internal/constant"
)

// Style selects which client identity the headers impersonate.
type Style int

const (
	// StylePrimary renders IDE-flavored headers.
	StylePrimary Style = iota

	// StyleAlt renders CLI-flavored headers targeting the second quota pool.
	StyleAlt
)

// IDEVersion is pinned; drifting it triggers "version no longer supported"
// rejections upstream.
const IDEVersion = "1.15.8"

var (
	osVersionsMacOS   = []string{"13.5.2", "14.2.1", "14.5", "15.0", "15.1", "15.2"}
	osVersionsWindows = []string{"10.0.22631", "10.0.26100"}
	osVersionsLinux   = []string{"6.5.0", "6.6.0", "6.8.0", "6.9.0", "6.10.0", "6.11.0"}

	platformKeys  = []string{"darwin", "win32", "linux"}
	architectures = []string{"x64", "arm64"}

	ideTypes = []string{
		"IDE_UNSPECIFIED",
		"VSCODE",
		"INTELLIJ",
		"ANDROID_STUDIO",
		"CLOUD_SHELL_EDITOR",
	}

	sdkClients = []string{
		"google-cloud-sdk vscode_cloudshelleditor/0.1",
		"google-cloud-sdk vscode/1.96.0",
		"google-cloud-sdk vscode/1.95.0",
		"google-cloud-sdk jetbrains/2024.3",
		"google-cloud-sdk vscode/1.97.0",
	}

	altUserAgents = []string{
		"google-api-nodejs-client/10.3.0",
		"google-api-nodejs-client/9.15.1",
		"google-api-nodejs-client/9.14.0",
		"google-api-nodejs-client/9.13.0",
	}

	altAPIClients = []string{
		"gl-node/22.18.0",
		"gl-node/22.17.0",
		"gl-node/22.12.0",
		"gl-node/20.18.0",
		"gl-node/21.7.0",
	}
)

// ClientMetadata is the JSON metadata document sent with primary-style
// requests.
type ClientMetadata struct {
	IDEType    string `json:"ideType"`
	Platform   string `json:"platform"`
	PluginType string `json:"pluginType"`
	OSVersion  string `json:"osVersion"`
	Arch       string `json:"arch"`
	SqmID      string `json:"sqmId,omitempty"`
}

// Fingerprint holds the randomized device identity for this process.
type Fingerprint struct {
	DeviceID       string
	SessionToken   string
	UserAgent      string
	APIClient      string
	ClientMetadata ClientMetadata
	QuotaUser      string
	CreatedAt      time.Time

	altUserAgent string
	altAPIClient string
}

func pick(items []string) string {
	return items[rand.Intn(len(items))]
}

// Generate draws a fresh fingerprint from the curated pools. The IDE version
// is never randomized.
func Generate() *Fingerprint {
	platformKey := pick(platformKeys)
	arch := pick(architectures)

	var osVersion, platform string
	switch platformKey {
	case "darwin":
		osVersion = pick(osVersionsMacOS)
		platform = "MACOS"
	case "win32":
		osVersion = pick(osVersionsWindows)
		platform = "WINDOWS"
	default:
		osVersion = pick(osVersionsLinux)
		platform = "LINUX"
	}

	sqmID := "{" + strings.ToUpper(uuid.NewString()) + "}"
	sessionToken := strings.ReplaceAll(uuid.NewString(), "-", "")
	quotaUser := "device-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	return &Fingerprint{
		DeviceID:     uuid.NewString(),
		SessionToken: sessionToken,
		UserAgent:    "antigravity/" + IDEVersion + " " + platformKey + "/" + arch,
		APIClient:    pick(sdkClients),
		ClientMetadata: ClientMetadata{
			IDEType:    pick(ideTypes),
			Platform:   platform,
			PluginType: "GEMINI",
			OSVersion:  osVersion,
			Arch:       arch,
			SqmID:      sqmID,
		},
		QuotaUser:    quotaUser,
		CreatedAt:    time.Now(),
		altUserAgent: pick(altUserAgents),
		altAPIClient: pick(altAPIClients),
	}
}

// Headers renders the fingerprint to the request header set for the given
// style. Both styles always carry the quota user, device id, session id,
// content type, and the interleaved-thinking beta flag.
func (f *Fingerprint) Headers(style Style) http.Header {
	headers := http.Header{}

	switch style {
	case StyleAlt:
		headers.Set("User-Agent", f.altUserAgent)
		headers.Set("X-Goog-Api-Client", f.altAPIClient)
		headers.Set("Client-Metadata", "ideType=IDE_UNSPECIFIED,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI")
	default:
		headers.Set("User-Agent", f.UserAgent)
		headers.Set("X-Goog-Api-Client", f.APIClient)
		if metadata, err := json.Marshal(f.ClientMetadata); err == nil {
			headers.Set("Client-Metadata", string(metadata))
		}
	}

	headers.Set("X-Goog-QuotaUser", f.QuotaUser)
	headers.Set("X-Client-Device-Id", f.DeviceID)
	headers.Set("X-Goog-Session-Id", f.SessionToken)
	headers.Set("Content-Type", "application/json")
	headers.Set("anthropic-beta", constant.AnthropicBetaHeader)

	return headers
}
