package auth

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

type callerKey struct{}

// WithCaller stores an authenticated caller on the context.
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller attached by Middleware.
func CallerFromContext(ctx context.Context) (*Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(*Caller)
	return caller, ok && caller != nil
}

// FailureHandler renders an authentication failure.
type FailureHandler func(w http.ResponseWriter, r *http.Request, err error)

// Middleware authenticates the request body signature and rejects unsigned or
// replayed requests through onFail. The body is restored for downstream
// handlers.
func Middleware(a *Authenticator, onFail FailureHandler) func(http.Handler) http.Handler {
	if onFail == nil {
		onFail = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body []byte
			if r.Body != nil {
				data, err := io.ReadAll(io.LimitReader(r.Body, int64(MaxBodyForSignature)+1))
				_ = r.Body.Close()
				if err != nil {
					onFail(w, r, err)
					return
				}
				body = data
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			caller, err := a.Authenticate(r, body)
			if err != nil {
				onFail(w, r, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
