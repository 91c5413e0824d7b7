package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
	"golang.org/x/oauth2"

	"github.com/aetherbridge/AetherBridge/internal/constant"
	"github.com/aetherbridge/AetherBridge/internal/misc"
)

// loginTimeout bounds the wait for the OAuth callback.
const loginTimeout = 300 * time.Second

// Login runs the interactive OAuth2 flow with PKCE: it opens the user's
// browser, waits for the authorization code on the loopback callback,
// exchanges it for tokens, resolves the account email, and persists the
// account through the token store.
func Login(ctx context.Context, store *TokenStore, httpClient *http.Client) (string, error) {
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	conf := oauthConfig()

	state, err := misc.GenerateRandomState()
	if err != nil {
		return "", err
	}
	verifier, challenge, err := misc.GeneratePKCEPair()
	if err != nil {
		return "", err
	}

	codeChan := make(chan string)
	errChan := make(chan error)

	mux := http.NewServeMux()
	server := &http.Server{Addr: fmt.Sprintf(":%d", constant.OAuthCallbackPort), Handler: mux}

	mux.HandleFunc("/oauth-callback", func(w http.ResponseWriter, r *http.Request) {
		if cbErr := r.URL.Query().Get("error"); cbErr != "" {
			_, _ = fmt.Fprintf(w, "Authentication failed: %s", cbErr)
			errChan <- fmt.Errorf("authentication failed via callback: %s", cbErr)
			return
		}
		if r.URL.Query().Get("state") != state {
			_, _ = fmt.Fprint(w, "Authentication failed: state mismatch.")
			errChan <- errors.New("oauth state mismatch")
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			_, _ = fmt.Fprint(w, "Authentication failed: code not found.")
			errChan <- errors.New("code not found in callback")
			return
		}
		_, _ = fmt.Fprint(w, "<html><body><h1>Authentication successful!</h1><p>You can close this window.</p></body></html>")
		codeChan <- code
	})

	go func() {
		if errServe := server.ListenAndServe(); !errors.Is(errServe, http.ErrServerClosed) {
			errChan <- fmt.Errorf("callback server failed: %w", errServe)
		}
	}()

	authURL := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	log.Infof("Opening the authentication page in your browser. If it does not open, navigate to:\n\n%s\n", authURL)
	if errOpen := open.Run(authURL); errOpen != nil {
		log.Errorf("Failed to open browser: %v. Please open the URL manually.", errOpen)
	}

	var authCode string
	select {
	case authCode = <-codeChan:
	case err = <-errChan:
		_ = server.Shutdown(ctx)
		return "", err
	case <-time.After(loginTimeout):
		_ = server.Shutdown(ctx)
		return "", errors.New("oauth flow timed out")
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		return "", ctx.Err()
	}

	if errShutdown := server.Shutdown(ctx); errShutdown != nil {
		log.Errorf("Failed to shut down callback server: %v", errShutdown)
	}

	token, err := conf.Exchange(ctx, authCode, oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return "", fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if token.RefreshToken == "" {
		return "", errors.New("provider returned no refresh token; revoke access and retry")
	}

	email, err := FetchUserEmail(ctx, httpClient, token.AccessToken)
	if err != nil {
		return "", err
	}

	pair := TokenPair{
		Email:        email,
		AccessToken:  token.AccessToken,
		AccessExpiry: token.Expiry,
		RefreshToken: token.RefreshToken,
	}
	if err = store.Add(pair); err != nil {
		return "", err
	}
	log.Infof("Authenticated %s", email)
	return email, nil
}
