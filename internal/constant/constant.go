// Package constant defines the OAuth application credentials, Cloud Code
// Assist endpoints, and request-header literals used throughout AetherBridge.
// These values impersonate the first-party IDE client; changing them usually
// produces "unsupported client" rejections upstream.
package constant

const (
	// Claude represents the Anthropic-Messages-compatible API surface.
	Claude = "claude"

	// OpenAI represents the OpenAI-compatible API surface.
	OpenAI = "openai"
)

// OAuth application registered for the Antigravity IDE.
const (
	OAuthClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	OAuthClientSecret = "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"

	// GoogleAuthURL is the Google OAuth authorization endpoint.
	GoogleAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"

	// GoogleTokenURL is the Google OAuth token exchange endpoint.
	GoogleTokenURL = "https://oauth2.googleapis.com/token"

	// GoogleUserInfoURL returns the authenticated user's profile; only the
	// email field is consumed.
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

	// OAuthCallbackPort is the loopback port the login flow listens on.
	// It must match the redirect URI registered in the Google console.
	OAuthCallbackPort = 51121

	// OAuthRedirectURI receives the authorization code.
	OAuthRedirectURI = "http://localhost:51121/oauth-callback"
)

// OAuthScopes are required for full Cloud Code Assist access.
var OAuthScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/cclog",
	"https://www.googleapis.com/auth/experimentsandconfigs",
}

// Cloud Code Assist endpoints, tried in order. The sandbox endpoints answer
// for provisioned accounts before production does.
const (
	EndpointDaily    = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	EndpointAutopush = "https://autopush-cloudcode-pa.sandbox.googleapis.com"
	EndpointProd     = "https://cloudcode-pa.googleapis.com"
)

// Endpoints is the failover order: daily -> autopush -> prod.
var Endpoints = []string{EndpointDaily, EndpointAutopush, EndpointProd}

const (
	// KeyringService is the OS keyring service name for refresh tokens.
	KeyringService = "aether-bridge"

	// ConfigDirName is the per-platform config directory component.
	ConfigDirName = "aether-bridge"

	// AccountsFileName is the persisted account document.
	AccountsFileName = "accounts.json"

	// StorageVersion is embedded in accounts.json for forward migration.
	StorageVersion = 1
)

const (
	// AnthropicBetaHeader enables interleaved thinking on Claude-family
	// models proxied through Cloud Code Assist.
	AnthropicBetaHeader = "interleaved-thinking-2025-05-14"
)

const (
	// Version is reported by /health and the landing page.
	Version = "1.0.0"

	// ServiceName identifies this proxy in health responses.
	ServiceName = "aether-bridge"
)
