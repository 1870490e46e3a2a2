package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	keyPrefixKey contextKey = "key_prefix"
	callerKey    contextKey = "caller"
)

// WithPrincipal attaches the authenticated caller to ctx.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the caller set by Authenticate.
func GetPrincipal(r *http.Request) (models.Principal, bool) {
	p, ok := r.Context().Value(principalKey).(models.Principal)
	return p, ok
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// callerSlot lets Authenticate report the caller back to the outer Logger.
type callerSlot struct {
	name string
}

func withCallerSlot(ctx context.Context, s *callerSlot) context.Context {
	return context.WithValue(ctx, callerKey, s)
}

func recordCaller(ctx context.Context, name string) {
	if s, ok := ctx.Value(callerKey).(*callerSlot); ok {
		s.name = name
	}
}

func callerName(ctx context.Context) string {
	if s, ok := ctx.Value(callerKey).(*callerSlot); ok {
		return s.name
	}
	return ""
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}
