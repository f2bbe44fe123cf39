// Package authsession manages the browser-facing login session: an
// OAuth2 authorization-code exchange against Infor's identity provider,
// and the cookie session that carries the resulting token plus the
// acting user's identity for audit columns throughout the rest of the
// application.
package authsession

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"golang.org/x/oauth2"

	"github.com/pinggolf/gestima/internal/config"
)

// CookieName is the session cookie every handler reads and writes.
const CookieName = "gestima-session"

// Session value keys.
const (
	keyState        = "oauth_state"
	keyAuthenticated = "authenticated"
	keyAccessToken   = "access_token"
	keyRefreshToken  = "refresh_token"
	keyTokenExpiry   = "token_expiry"
	keyUserName      = "user_name"
)

// Manager issues login URLs, exchanges authorization codes, and keeps
// the session's access token fresh.
type Manager struct {
	cfg         *config.Config
	sessionStore sessions.Store
	oauthConfig *oauth2.Config
}

// NewStore builds the cookie store NewManager and the HTTP server both
// depend on.
func NewStore(cfg *config.Config) sessions.Store {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   cfg.AppEnv == "production",
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// NewManager builds a Manager against the Infor OAuth client
// registration.
func NewManager(cfg *config.Config, store sessions.Store) *Manager {
	return &Manager{
		cfg:          cfg,
		sessionStore: store,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.InforClientID,
			ClientSecret: cfg.InforClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.OAuthAuthEndpoint,
				TokenURL: cfg.InforTokenEndpoint,
			},
			RedirectURL: cfg.OAuthRedirectURI,
			Scopes:      []string{"openid", "profile"},
		},
	}
}

// Get fetches the request's session, creating an empty one if absent.
func (m *Manager) Get(r *http.Request) (*sessions.Session, error) {
	return m.sessionStore.Get(r, CookieName)
}

// AuthorizationURL generates the OAuth authorization URL and stashes a
// CSRF state value in the session for Exchange to verify.
func (m *Manager) AuthorizationURL(session *sessions.Session) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("authsession: generate state: %w", err)
	}
	session.Values[keyState] = state
	return m.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// ErrStateMismatch is returned when an OAuth callback's state parameter
// doesn't match the one stored at authorization time.
var ErrStateMismatch = fmt.Errorf("authsession: oauth state mismatch")

// Exchange validates the callback's state and exchanges its
// authorization code for a token, then stores the token and user
// identity in the session.
func (m *Manager) Exchange(ctx context.Context, session *sessions.Session, state, code, userName string) error {
	expected, ok := session.Values[keyState].(string)
	if !ok || expected == "" || expected != state {
		return ErrStateMismatch
	}
	delete(session.Values, keyState)

	token, err := m.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("authsession: exchange code: %w", err)
	}

	session.Values[keyAuthenticated] = true
	session.Values[keyAccessToken] = token.AccessToken
	session.Values[keyRefreshToken] = token.RefreshToken
	session.Values[keyTokenExpiry] = token.Expiry.Unix()
	session.Values[keyUserName] = userName
	return nil
}

// IsAuthenticated reports whether the session carries a valid login.
func (m *Manager) IsAuthenticated(session *sessions.Session) bool {
	authenticated, _ := session.Values[keyAuthenticated].(bool)
	return authenticated
}

// ActingUser returns the logged-in user's identity, used as the actor
// string on every audited write the request triggers.
func (m *Manager) ActingUser(session *sessions.Session) (string, error) {
	name, ok := session.Values[keyUserName].(string)
	if !ok || name == "" {
		return "", fmt.Errorf("authsession: no user in session")
	}
	return name, nil
}

// RefreshIfNeeded refreshes the session's access token if it's within
// the configured refresh buffer of expiring. Returns whether a refresh
// happened.
func (m *Manager) RefreshIfNeeded(ctx context.Context, session *sessions.Session) (bool, error) {
	expiryUnix, ok := session.Values[keyTokenExpiry].(int64)
	if !ok {
		return false, fmt.Errorf("authsession: no token expiry in session")
	}

	expiry := time.Unix(expiryUnix, 0)
	if time.Until(expiry) > m.cfg.TokenRefreshBuffer {
		return false, nil
	}

	refreshToken, ok := session.Values[keyRefreshToken].(string)
	if !ok || refreshToken == "" {
		return false, fmt.Errorf("authsession: no refresh token available")
	}

	tokenSource := m.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	newToken, err := tokenSource.Token()
	if err != nil {
		return false, fmt.Errorf("authsession: refresh token: %w", err)
	}

	session.Values[keyAccessToken] = newToken.AccessToken
	if newToken.RefreshToken != "" {
		session.Values[keyRefreshToken] = newToken.RefreshToken
	}
	session.Values[keyTokenExpiry] = newToken.Expiry.Unix()
	return true, nil
}

// AccessToken returns the session's current access token.
func (m *Manager) AccessToken(session *sessions.Session) (string, error) {
	token, ok := session.Values[keyAccessToken].(string)
	if !ok || token == "" {
		return "", fmt.Errorf("authsession: no access token in session")
	}
	return token, nil
}

// Clear logs the session out.
func (m *Manager) Clear(session *sessions.Session) {
	session.Values = make(map[interface{}]interface{})
	session.Options.MaxAge = -1
}

func generateState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
