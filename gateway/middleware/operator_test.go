package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "operator-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestOperatorAuthScopes(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var failures int
	auth := NewOperatorAuth(OperatorAuthConfig{
		HMACSecret: testSecret,
		Issuer:     "openrate-ops",
		Audience:   "openrated",
	}, nil, func(scheme string) {
		if scheme != "jwt" {
			t.Fatalf("unexpected scheme %q", scheme)
		}
		failures++
	})
	auth.nowFunc = func() time.Time { return now }

	var subject string
	handler := auth.Require(ScopeMint)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	base := jwt.MapClaims{
		"sub": "ops-bot",
		"iss": "openrate-ops",
		"aud": "openrated",
		"exp": now.Add(time.Hour).Unix(),
	}
	withScope := func(scope interface{}) jwt.MapClaims {
		claims := jwt.MapClaims{}
		for k, v := range base {
			claims[k] = v
		}
		claims["scope"] = scope
		return claims
	}

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad secret", "Bearer " + signToken(t, "other", withScope(ScopeMint)), http.StatusUnauthorized},
		{"wrong scope", "Bearer " + signToken(t, testSecret, withScope(ScopeExport)), http.StatusForbidden},
		{"string scope", "Bearer " + signToken(t, testSecret, withScope("ops:mint ops:export")), http.StatusNoContent},
		{"list scope", "Bearer " + signToken(t, testSecret, withScope([]string{ScopeMint})), http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/ops/mints", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, res.Code, res.Body.String())
			}
		})
	}
	if subject != "ops-bot" {
		t.Fatalf("expected subject in context, got %q", subject)
	}
	if failures != 4 {
		t.Fatalf("expected 4 recorded failures, got %d", failures)
	}
}

func TestOperatorAuthRejectsExpiredAndForeignIssuer(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	auth := NewOperatorAuth(OperatorAuthConfig{HMACSecret: testSecret, Issuer: "openrate-ops", ClockSkew: time.Second}, nil, nil)
	auth.nowFunc = func() time.Time { return now }

	expired := signToken(t, testSecret, jwt.MapClaims{"iss": "openrate-ops", "scope": ScopeExport, "exp": now.Add(-time.Minute).Unix()})
	if _, err := auth.parse(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
	foreign := signToken(t, testSecret, jwt.MapClaims{"iss": "elsewhere", "scope": ScopeExport, "exp": now.Add(time.Minute).Unix()})
	if _, err := auth.parse(foreign); err != errIssuerMismatch {
		t.Fatalf("expected issuer mismatch, got %v", err)
	}
}

func TestOperatorAuthWithoutSecretRejectsEverything(t *testing.T) {
	auth := NewOperatorAuth(OperatorAuthConfig{}, nil, nil)
	if _, err := auth.parse("anything"); err != errNoSecret {
		t.Fatalf("expected errNoSecret, got %v", err)
	}
}
