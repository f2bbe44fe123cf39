package authsession

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pinggolf/gestima/internal/config"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := &config.Config{
		SessionSecret:      "test-secret-test-secret-32-bytes!",
		SessionDuration:     time.Hour,
		TokenRefreshBuffer: 5 * time.Minute,
		InforClientID:      "client",
		InforClientSecret:  "secret",
		InforTokenEndpoint: "https://idp.example.com/token",
		OAuthAuthEndpoint:  "https://idp.example.com/authorize",
		OAuthRedirectURI:   "https://app.example.com/callback",
	}
	store := NewStore(cfg)
	return NewManager(cfg, store)
}

func TestAuthorizationURL_StashesState(t *testing.T) {
	m := testManager(t)
	req := httptest.NewRequest("GET", "/login", nil)
	session, err := m.Get(req)
	require.NoError(t, err)

	authURL, err := m.AuthorizationURL(session)
	require.NoError(t, err)
	require.Contains(t, authURL, "https://idp.example.com/authorize")

	state, ok := session.Values[keyState].(string)
	require.True(t, ok)
	require.NotEmpty(t, state)
}

func TestExchange_RejectsStateMismatch(t *testing.T) {
	m := testManager(t)
	req := httptest.NewRequest("GET", "/login", nil)
	session, err := m.Get(req)
	require.NoError(t, err)

	_, err = m.AuthorizationURL(session)
	require.NoError(t, err)

	err = m.Exchange(context.Background(), session, "wrong-state", "some-code", "alice")
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestIsAuthenticated_FalseByDefault(t *testing.T) {
	m := testManager(t)
	req := httptest.NewRequest("GET", "/", nil)
	session, err := m.Get(req)
	require.NoError(t, err)

	require.False(t, m.IsAuthenticated(session))

	_, err = m.ActingUser(session)
	require.Error(t, err)
}

func TestClear_RemovesSessionValues(t *testing.T) {
	m := testManager(t)
	req := httptest.NewRequest("GET", "/", nil)
	session, err := m.Get(req)
	require.NoError(t, err)

	session.Values[keyAuthenticated] = true
	session.Values[keyUserName] = "alice"

	m.Clear(session)

	require.False(t, m.IsAuthenticated(session))
	require.Equal(t, -1, session.Options.MaxAge)
}

func TestRefreshIfNeeded_ErrorsWithoutExpiry(t *testing.T) {
	m := testManager(t)
	req := httptest.NewRequest("GET", "/", nil)
	session, err := m.Get(req)
	require.NoError(t, err)

	_, err = m.RefreshIfNeeded(context.Background(), session)
	require.Error(t, err)
}
