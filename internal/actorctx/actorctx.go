// Package actorctx carries the authenticated caller on a context.Context so
// code below the HTTP layer (logging, coordinator spans) can see who acted.
package actorctx

import "context"

type ctxKey struct{}

type Actor struct {
	UserID string
	Role   string
}

func With(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func From(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok && a.UserID != ""
}

// UserID returns the caller's id, or "" when the context is anonymous.
func UserID(ctx context.Context) string {
	a, _ := From(ctx)
	return a.UserID
}
