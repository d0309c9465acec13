package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/pharmacart/internal/domain/auth"
)

// Claims are the bearer token claims. The subject is the actor id.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// BearerAuth verifies HS256 bearer tokens issued by the authentication
// service.
type BearerAuth struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewBearerAuth creates a BearerAuth. An empty issuer accepts any issuer.
func NewBearerAuth(secret []byte, issuer string) *BearerAuth {
	return &BearerAuth{secret: secret, issuer: issuer, now: time.Now}
}

// Issue signs a token for a. Token issuance belongs to the authentication
// service; this is used by development tooling and tests.
func (b *BearerAuth) Issue(a auth.Actor, ttl time.Duration) (string, error) {
	now := b.now()
	claims := Claims{
		Role: string(a.Role),
		Name: a.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			Issuer:    b.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}

// Verify parses token and returns its actor.
func (b *BearerAuth) Verify(token string) (auth.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithTimeFunc(b.now),
	}
	if b.issuer != "" {
		opts = append(opts, jwt.WithIssuer(b.issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	}, opts...); err != nil {
		return auth.Actor{}, auth.ErrUnauthorized.With(err)
	}

	a := auth.Actor{ID: claims.Subject, Role: auth.Role(claims.Role), Name: claims.Name}
	if a.ID == "" || !a.Role.Valid() {
		return auth.Actor{}, auth.ErrUnauthorized
	}
	return a, nil
}

// Middleware authenticates the Authorization: Bearer header and stores the
// actor in the request context.
func (b *BearerAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeError(w, r, auth.ErrUnauthorized)
			return
		}
		a, err := b.Verify(strings.TrimSpace(token))
		if err != nil {
			zctx.From(r.Context()).Debug("Bearer token rejected", zap.Error(err))
			writeError(w, r, auth.ErrUnauthorized)
			return
		}

		ctx := auth.WithActor(r.Context(), a)
		ctx = zctx.With(ctx, zap.String("actor_id", a.ID), zap.String("actor_role", string(a.Role)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects actors of any other role with 403.
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := auth.ActorFrom(r.Context())
			if !ok {
				writeError(w, r, auth.ErrUnauthorized)
				return
			}
			if a.Role != role {
				writeError(w, r, auth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actor(r *http.Request) auth.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}
