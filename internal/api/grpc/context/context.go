package context

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"

	"github.com/dtroode/authkeeper/internal/model"
)

// Metadata keys carrying the authenticated principal on incoming context.
const (
	subjectKey = "x-principal-sub"
	emailKey   = "x-principal-email"
	roleKey    = "x-principal-role"
)

var _ model.ContextManager = (*Manager)(nil)

// Manager stores the principal in incoming gRPC metadata. Values are
// overwritten on every authenticated call, so client supplied keys never
// survive authentication.
type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// SetPrincipalToContext returns ctx with principal in incoming metadata.
func (m *Manager) SetPrincipalToContext(ctx context.Context, principal model.Principal) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}

	md.Set(subjectKey, principal.Subject.String())
	md.Set(emailKey, principal.Email)
	md.Set(roleKey, string(principal.Role))

	return metadata.NewIncomingContext(ctx, md)
}

// GetPrincipalFromContext reads principal set by SetPrincipalToContext.
func (m *Manager) GetPrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return model.Principal{}, false
	}

	subjects := md.Get(subjectKey)
	if len(subjects) == 0 {
		return model.Principal{}, false
	}

	subject, err := uuid.Parse(subjects[0])
	if err != nil || subject == uuid.Nil {
		return model.Principal{}, false
	}

	return model.Principal{
		Subject: subject,
		Email:   first(md.Get(emailKey)),
		Role:    model.Role(first(md.Get(roleKey))),
	}, true
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
