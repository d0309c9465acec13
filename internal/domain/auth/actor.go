// Package auth describes who is calling: bearer token actors and internal
// API keys.
package auth

import (
	"context"

	"github.com/xenking/pharmacart/internal/domain/apperr"
)

var (
	// ErrUnauthorized is returned when a request carries no valid credentials.
	ErrUnauthorized = apperr.New(apperr.KindUnauthorized, "unauthorized", "unauthorized")
	// ErrForbidden is returned when the actor's role may not call an operation.
	ErrForbidden = apperr.New(apperr.KindForbidden, "forbidden", "forbidden")
)

// Role is the kind of account behind a bearer token.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleRider    Role = "rider"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleVendor, RoleRider:
		return true
	default:
		return false
	}
}

// Actor is the authenticated caller. ID is the user id for customers, the
// pharmacy id for vendors and the rider id for riders.
type Actor struct {
	ID   string
	Role Role
	Name string
}

type actorKey struct{}

// WithActor stores a in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored by WithActor.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
