package falcontest

import (
	"context"
	"net/http"
)

func withTenant(ctx context.Context, t *tenantState) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

func tenantFrom(r *http.Request) *tenantState {
	t, _ := r.Context().Value(ctxKey{}).(*tenantState)
	return t
}
