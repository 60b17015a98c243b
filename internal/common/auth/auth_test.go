package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "bezhas-entitlements/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":  "abc",
		"bearer  xyz": "xyz",
		"Basic abc":   "",
		"":            "",
		"Bearer":      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, BearerToken(in), in)
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))

	ctx = WithIdentity(ctx, &Identity{UserID: "u-1"})
	require.NotNil(t, FromContext(ctx))
	assert.Equal(t, "u-1", FromContext(ctx).UserID)
}

func TestJWTAuthenticator_RoundTrip(t *testing.T) {
	a := NewJWTAuthenticator("secret", "bezhas")
	token, err := a.Issue("user-42", "u@example.com", time.Hour)
	require.NoError(t, err)

	id, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id.UserID)
	assert.Equal(t, "u@example.com", id.Email)
}

func TestJWTAuthenticator_Rejects(t *testing.T) {
	a := NewJWTAuthenticator("secret", "bezhas")

	expired, err := a.Issue("user-1", "", -time.Minute)
	require.NoError(t, err)
	_, err = a.Authenticate(context.Background(), expired)
	assert.Error(t, err)

	other, err := NewJWTAuthenticator("other", "bezhas").Issue("user-1", "", time.Hour)
	require.NoError(t, err)
	_, err = a.Authenticate(context.Background(), other)
	assert.Error(t, err)

	wrongIssuer, err := NewJWTAuthenticator("secret", "someone-else").Issue("user-1", "", time.Hour)
	require.NoError(t, err)
	_, err = a.Authenticate(context.Background(), wrongIssuer)
	assert.Error(t, err)

	_, err = NewJWTAuthenticator("", "").Authenticate(context.Background(), "x")
	assert.Error(t, err)
}

func TestKeycloakClient_Authenticate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realms/bezhas/protocol/openid-connect/token/introspect", r.URL.Path)
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("token") != "good" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"active": false})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"active":       true,
			"sub":          "kc-user",
			"email":        "kc@example.com",
			"realm_access": map[string]interface{}{"roles": []string{"creator"}},
		})
	}))
	defer srv.Close()

	kc := NewKeycloakClient(srv.URL+"/", "bezhas", "gate", "s3cret")

	id, err := kc.Authenticate(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "kc-user", id.UserID)
	assert.Equal(t, []string{"creator"}, id.Roles)

	_, err = kc.Authenticate(context.Background(), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAuthRequired)
}

func TestKeycloakClient_TransientFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewKeycloakClient(srv.URL, "bezhas", "gate", "s").ValidateToken(context.Background(), "t")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeExternalService, apperrors.AsStandardError(err).Code)
}
