package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pharmacart/internal/domain/auth"
)

// HeaderAPIKey carries the internal API key.
const HeaderAPIKey = "api_key"

// KeyAuth authenticates internal callers by API key. Keys are stored as the
// hex HMAC-SHA256 of the key under a server-side pepper.
type KeyAuth struct {
	keys   auth.Repository
	pepper []byte
}

// NewKeyAuth creates a KeyAuth.
func NewKeyAuth(keys auth.Repository, pepper []byte) *KeyAuth {
	return &KeyAuth{keys: keys, pepper: pepper}
}

// Require admits requests whose key exists and grants scope.
func (k *KeyAuth) Require(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderAPIKey)
			if key == "" {
				writeError(w, r, auth.ErrUnauthorized)
				return
			}
			info, err := k.authenticate(r, key)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !info.HasScope(scope) {
				zctx.From(r.Context()).Warn("API key lacks scope",
					zap.String("key_id", info.ID),
					zap.String("scope", scope),
				)
				writeError(w, r, auth.ErrForbidden)
				return
			}
			ctx := zctx.With(r.Context(), zap.String("api_key_id", info.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (k *KeyAuth) authenticate(r *http.Request, key string) (*auth.APIKeyInfo, error) {
	hash := auth.HashKey(k.pepper, key)
	info, err := k.keys.FindByHash(r.Context(), hash)
	if err != nil {
		return nil, err
	}

	want, err := hex.DecodeString(hash)
	if err != nil {
		return nil, auth.ErrUnauthorized
	}
	got, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(want, got) != 1 {
		return nil, auth.ErrUnauthorized
	}
	return info, nil
}
