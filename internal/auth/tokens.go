// Package auth owns the AetherBridge account lifecycle: the OAuth2 login
// flow against Google, refresh-token persistence through the token store,
// and the account pool with its per-family rate-limit ledger.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/aetherbridge/AetherBridge/internal/constant"
)

// ErrReauthRequired is returned when the provider revoked the refresh token
// (invalid_grant). The account cannot recover without a fresh login.
var ErrReauthRequired = errors.New("refresh token revoked, re-authentication required")

// TokenPair is the credential material for one account as it flows between
// the login flow, the token store, and the pool.
type TokenPair struct {
	Email        string
	AccessToken  string
	AccessExpiry time.Time
	RefreshToken string
}

// oauthConfig builds the shared OAuth2 client configuration.
func oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     constant.OAuthClientID,
		ClientSecret: constant.OAuthClientSecret,
		RedirectURL:  constant.OAuthRedirectURI,
		Scopes:       constant.OAuthScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  constant.GoogleAuthURL,
			TokenURL: constant.GoogleTokenURL,
		},
	}
}

// RefreshAccessToken exchanges a refresh token for a fresh access token.
// The returned refresh token equals the input unless the provider rotated
// it. An invalid_grant response maps to ErrReauthRequired.
func RefreshAccessToken(ctx context.Context, httpClient *http.Client, refreshToken string) (*TokenPair, error) {
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	conf := oauthConfig()
	source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, ErrReauthRequired
		}
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	pair := &TokenPair{
		AccessToken:  token.AccessToken,
		AccessExpiry: token.Expiry,
		RefreshToken: refreshToken,
	}
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		pair.RefreshToken = token.RefreshToken
	}
	return pair, nil
}

// FetchUserEmail resolves the account email behind an access token via the
// Google userinfo endpoint.
func FetchUserEmail(ctx context.Context, httpClient *http.Client, accessToken string) (string, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, constant.GoogleUserInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("could not build user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute user info request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			log.Warnf("failed to close response body: %v", err)
		}
	}()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	emailResult := gjson.GetBytes(bodyBytes, "email")
	if !emailResult.Exists() || emailResult.String() == "" {
		return "", fmt.Errorf("user info response did not contain an email")
	}
	return emailResult.String(), nil
}
