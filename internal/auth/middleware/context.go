package auth

import (
	"context"

	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

type ctxKey string

const ctxKeySub ctxKey = "sub"

func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, ctxKeySub, sub)
}

func SubjectFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxKeySub); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Identity is the authenticated caller as seen by handlers.
type Identity struct {
	Subject string
	Role    string
}

func IdentityFromContext(ctx context.Context) Identity {
	return Identity{Subject: SubjectFromContext(ctx), Role: rbac.RoleFromContext(ctx)}
}
