package model

import "context"

// ContextManager attaches the authenticated principal to a request context.
type ContextManager interface {
	SetPrincipalToContext(ctx context.Context, principal Principal) context.Context
	GetPrincipalFromContext(ctx context.Context) (Principal, bool)
}
