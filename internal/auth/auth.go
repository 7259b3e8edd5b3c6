// Package auth holds the bearer credential for the client process and
// implements the login contract against the workflow backend.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/logmapper/internal/retry"
)

// Credentials is a bearer token plus its token-type string, attached to every
// request as "Authorization: <type> <token>".
type Credentials struct {
	Token string
	Type  string
}

// Authorization renders the header value for the credential.
func (c Credentials) Authorization() string {
	typ := c.Type
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + c.Token
}

// ExpiresAt peeks at the token's exp claim without verifying the signature.
// The backend owns validation; this only feeds status display.
func (c Credentials) ExpiresAt() (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(c.Token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Gate is the process-wide credential holder. Absence of a credential means
// unauthenticated; Clear is the logout teardown.
type Gate struct {
	mu    sync.RWMutex
	creds *Credentials
}

func NewGate() *Gate {
	return &Gate{}
}

// Set installs a credential.
func (g *Gate) Set(c Credentials) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creds = &c
}

// Clear invalidates the stored credential.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creds = nil
}

// Authenticated reports whether a credential is held.
func (g *Gate) Authenticated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.creds != nil && g.creds.Token != ""
}

// Authorization returns the header value to attach, if authenticated.
func (g *Gate) Authorization() (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.creds == nil || g.creds.Token == "" {
		return "", false
	}
	return g.creds.Authorization(), true
}

// Credentials returns a copy of the held credential, if any.
func (g *Gate) Credentials() (Credentials, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.creds == nil {
		return Credentials{}, false
	}
	return *g.creds, true
}

// LoginResponse models the backend's login payload.
type LoginResponse struct {
	AccessToken string `json:"access_token,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
	Message     string `json:"message,omitempty"`
	User        string `json:"user,omitempty"`
}

// Login exchanges an HTTP Basic credential for a bearer token.
func Login(ctx context.Context, client *http.Client, baseURL, username, password string) (*Credentials, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	endpoint := strings.TrimSuffix(baseURL, "/") + "/login"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.SetBasicAuth(username, password)

	// transient network failures get another attempt; anything else fails
	// immediately
	var resp *http.Response
	var permErr error
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		r, doErr := client.Do(req)
		if doErr != nil {
			if retry.IsRetryableError(doErr) {
				return doErr
			}
			permErr = doErr
			return nil
		}
		resp = r
		return nil
	})
	if err == nil && permErr != nil {
		err = permErr
	}
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read login response: %w", err)
	}

	var parsed LoginResponse
	if err := json.Unmarshal(body, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("failed to parse login response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Message != "" {
			return nil, fmt.Errorf("login failed: %s", parsed.Message)
		}
		return nil, fmt.Errorf("login failed with status %d", resp.StatusCode)
	}
	if parsed.AccessToken == "" {
		if parsed.Message != "" {
			return nil, fmt.Errorf("login rejected: %s", parsed.Message)
		}
		return nil, fmt.Errorf("login response carried no access token")
	}

	typ := parsed.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return &Credentials{Token: parsed.AccessToken, Type: typ}, nil
}
