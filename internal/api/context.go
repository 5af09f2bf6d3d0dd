package api

import (
	"context"

	"github.com/org/datacapture/pkg/models"
)

type contextKey string

const (
	ctxKeyPrincipal contextKey = "principal"
	ctxKeyRequestID contextKey = "request_id"
)

func withPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// principalFromCtx returns the acting principal, or nil for anonymous requests.
func principalFromCtx(ctx context.Context) *models.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(*models.Principal)
	return p
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
