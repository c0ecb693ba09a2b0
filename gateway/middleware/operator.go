package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Operator scopes.
const (
	ScopeMint   = "ops:mint"
	ScopeExport = "ops:export"
)

// OperatorAuthConfig configures bearer-token checks on operator routes.
type OperatorAuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

type contextKey string

const (
	ContextKeySubject contextKey = "openrate.operator.subject"
	ContextKeyScopes  contextKey = "openrate.operator.scopes"
)

var (
	errNoSecret       = errors.New("operator auth secret not configured")
	errSigningMethod  = errors.New("unexpected signing method")
	errIssuerMismatch = errors.New("issuer mismatch")
	errAudience       = errors.New("audience mismatch")
)

// OperatorAuth validates HS256 operator tokens and their scopes.
type OperatorAuth struct {
	cfg     OperatorAuthConfig
	secret  []byte
	logger  *slog.Logger
	onFail  func(scheme string)
	nowFunc func() time.Time
}

// NewOperatorAuth builds the operator authenticator. onFail, when set, is
// invoked for every rejected request.
func NewOperatorAuth(cfg OperatorAuthConfig, logger *slog.Logger, onFail func(scheme string)) *OperatorAuth {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &OperatorAuth{
		cfg:     cfg,
		secret:  []byte(strings.TrimSpace(cfg.HMACSecret)),
		logger:  logger,
		onFail:  onFail,
		nowFunc: time.Now,
	}
}

// Require rejects requests whose bearer token lacks any of the scopes.
func (a *OperatorAuth) Require(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r.Header.Get("Authorization"))
			if token == "" {
				a.reject(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := a.parse(token)
			if err != nil {
				a.logger.Warn("operator token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				a.reject(w, http.StatusUnauthorized, "invalid token")
				return
			}
			granted := extractScopes(claims, a.cfg.ScopeClaim)
			if !hasScopes(granted, scopes) {
				a.reject(w, http.StatusForbidden, "insufficient scope")
				return
			}
			subject, _ := claims.GetSubject()
			ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
			ctx = context.WithValue(ctx, ContextKeyScopes, granted)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext returns the operator subject of an authorised request.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeySubject).(string)
	return subject
}

func (a *OperatorAuth) reject(w http.ResponseWriter, status int, msg string) {
	if a.onFail != nil {
		a.onFail("jwt")
	}
	writeError(w, status, "unauthorized", msg)
}

func (a *OperatorAuth) parse(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errNoSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithTimeFunc(a.nowFunc),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errSigningMethod
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("token invalid")
	}
	if a.cfg.Issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != a.cfg.Issuer {
			return nil, errIssuerMismatch
		}
	}
	if a.cfg.Audience != "" {
		aud, _ := claims.GetAudience()
		matched := false
		for _, entry := range aud {
			if entry == a.cfg.Audience {
				matched = true
				break
			}
		}
		if !matched {
			return nil, errAudience
		}
	}
	return claims, nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	switch v := claims[scopeClaim].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(granted, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, scope := range granted {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
