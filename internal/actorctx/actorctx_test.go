package actorctx

import (
	"context"
	"testing"
)

func TestActorRoundTrip(t *testing.T) {
	if _, ok := From(context.Background()); ok {
		t.Fatalf("empty context must be anonymous")
	}

	ctx := With(context.Background(), Actor{UserID: "u1", Role: "admin"})
	a, ok := From(ctx)
	if !ok || a.UserID != "u1" || a.Role != "admin" {
		t.Fatalf("actor = %+v ok=%v", a, ok)
	}
	if UserID(ctx) != "u1" {
		t.Fatalf("UserID = %q", UserID(ctx))
	}

	if _, ok := From(With(context.Background(), Actor{})); ok {
		t.Fatalf("actor without id must be anonymous")
	}
}
