package identity_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmerrifield20/renderledger/internal/identity"
)

func newVerifier(t *testing.T, issuer string, ttl time.Duration) *identity.TokenVerifier {
	t.Helper()
	v, err := identity.NewTokenVerifier("test-secret", issuer, ttl)
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}
	return v
}

func TestNewTokenVerifier_requiresSecret(t *testing.T) {
	if _, err := identity.NewTokenVerifier("", "", 0); !errors.Is(err, identity.ErrNoSecret) {
		t.Errorf("expected ErrNoSecret, got %v", err)
	}
}

func TestTokenVerifier_roundTrip(t *testing.T) {
	v := newVerifier(t, "renderledger", time.Hour)
	tok, err := v.Issue("user-42", "a@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if parts := strings.Split(tok, "."); len(parts) != 3 {
		t.Fatalf("expected 3-part JWT, got %d parts", len(parts))
	}

	claims, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID() != "user-42" || claims.Email != "a@example.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenVerifier_rejects(t *testing.T) {
	v := newVerifier(t, "renderledger", time.Hour)

	t.Run("expired", func(t *testing.T) {
		short := newVerifier(t, "renderledger", time.Nanosecond)
		tok, _ := short.Issue("u", "")
		time.Sleep(time.Millisecond)
		if _, err := v.Verify(tok); err == nil {
			t.Error("expected expired token to fail")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, _ := identity.NewTokenVerifier("other-secret", "renderledger", time.Hour)
		tok, _ := other.Issue("u", "")
		if _, err := v.Verify(tok); err == nil {
			t.Error("expected signature failure")
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := newVerifier(t, "someone-else", time.Hour)
		tok, _ := other.Issue("u", "")
		if _, err := v.Verify(tok); err == nil {
			t.Error("expected issuer failure")
		}
	})

	t.Run("alg none", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": "u", "exp": time.Now().Add(time.Hour).Unix(), "iss": "renderledger"}
		tok, _ := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if _, err := v.Verify(tok); err == nil {
			t.Error("expected unsigned token to fail")
		}
	})

	t.Run("no subject", func(t *testing.T) {
		tok, _ := v.Issue("", "")
		if _, err := v.Verify(tok); err == nil {
			t.Error("expected missing subject to fail")
		}
	})
}

func TestTokenVerifier_issuerOptional(t *testing.T) {
	v := newVerifier(t, "", time.Hour)
	other := newVerifier(t, "anything", time.Hour)
	tok, _ := other.Issue("u", "")
	if _, err := v.Verify(tok); err != nil {
		t.Errorf("issuer check should be disabled: %v", err)
	}
}

func setupRouter(v *identity.TokenVerifier, mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", mw, func(c *gin.Context) {
		c.String(http.StatusOK, identity.UserIDFromCtx(c))
	})
	return r
}

func TestRequireUserToken(t *testing.T) {
	v := newVerifier(t, "", time.Hour)
	r := setupRouter(v, identity.RequireUserToken(v))
	tok, _ := v.Issue("alice", "")

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + tok, http.StatusOK, "alice"},
		{"lowercase scheme", "bearer " + tok, http.StatusOK, "alice"},
		{"missing", "", http.StatusUnauthorized, "missing_token"},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized, "invalid_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if !strings.Contains(w.Body.String(), tt.body) {
				t.Errorf("body = %q, want it to contain %q", w.Body.String(), tt.body)
			}
		})
	}
}

func TestOptionalUserToken(t *testing.T) {
	v := newVerifier(t, "", time.Hour)
	r := setupRouter(v, identity.OptionalUserToken(v))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusOK || w.Body.String() != "" {
		t.Errorf("anonymous: %d %q", w.Code, w.Body.String())
	}

	tok, _ := v.Issue("bob", "")
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Body.String() != "bob" {
		t.Errorf("authenticated: %q", w.Body.String())
	}

	nilRouter := setupRouter(nil, identity.OptionalUserToken(nil))
	w = httptest.NewRecorder()
	nilRouter.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "" {
		t.Errorf("nil verifier: %d %q", w.Code, w.Body.String())
	}
}
