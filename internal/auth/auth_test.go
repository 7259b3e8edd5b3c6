package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate(t *testing.T) {
	g := NewGate()

	_, ok := g.Authorization()
	assert.False(t, ok)
	assert.False(t, g.Authenticated())

	g.Set(Credentials{Token: "tok-123", Type: "Bearer"})
	assert.True(t, g.Authenticated())

	header, ok := g.Authorization()
	require.True(t, ok)
	assert.Equal(t, "Bearer tok-123", header)

	g.Clear()
	assert.False(t, g.Authenticated())
	_, ok = g.Authorization()
	assert.False(t, ok)
}

func TestCredentialsAuthorizationDefaultsType(t *testing.T) {
	c := Credentials{Token: "abc"}
	assert.Equal(t, "Bearer abc", c.Authorization())
}

func TestCredentialsExpiresAt(t *testing.T) {
	t.Run("opaque token", func(t *testing.T) {
		_, ok := Credentials{Token: "not-a-jwt"}.ExpiresAt()
		assert.False(t, ok)
	})

	t.Run("jwt with exp", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).Unix()
		payload, _ := json.Marshal(map[string]any{"exp": exp})
		header, _ := json.Marshal(map[string]any{"alg": "HS256", "typ": "JWT"})
		tok := fmt.Sprintf("%s.%s.sig",
			base64.RawURLEncoding.EncodeToString(header),
			base64.RawURLEncoding.EncodeToString(payload))

		got, ok := Credentials{Token: tok}.ExpiresAt()
		require.True(t, ok)
		assert.Equal(t, exp, got.Unix())
	})
}

func TestLogin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "alice", user)
			assert.Equal(t, "s3cret", pass)
			json.NewEncoder(w).Encode(LoginResponse{AccessToken: "tok", TokenType: "Bearer", User: "alice"})
		}))
		defer srv.Close()

		creds, err := Login(context.Background(), srv.Client(), srv.URL, "alice", "s3cret")
		require.NoError(t, err)
		assert.Equal(t, "tok", creds.Token)
		assert.Equal(t, "Bearer", creds.Type)
	})

	t.Run("rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(LoginResponse{Message: "bad credentials"})
		}))
		defer srv.Close()

		_, err := Login(context.Background(), srv.Client(), srv.URL, "alice", "wrong")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad credentials")
	})

	t.Run("retries a transient network failure", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				// drop the connection mid-request to simulate a transient fault
				hj, ok := w.(http.Hijacker)
				require.True(t, ok)
				conn, _, err := hj.Hijack()
				require.NoError(t, err)
				conn.Close()
				return
			}
			json.NewEncoder(w).Encode(LoginResponse{AccessToken: "tok"})
		}))
		defer srv.Close()

		creds, err := Login(context.Background(), srv.Client(), srv.URL, "alice", "s3cret")
		require.NoError(t, err)
		assert.Equal(t, "tok", creds.Token)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("missing token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(LoginResponse{User: "alice"})
		}))
		defer srv.Close()

		_, err := Login(context.Background(), srv.Client(), srv.URL, "alice", "s3cret")
		assert.Error(t, err)
	})
}
