package auth

import "context"

// ServiceIdentity captures the authenticated principal details for a
// service-to-service caller rather than an end user.
type ServiceIdentity struct {
	Subject string
}

const serviceIdentityContextKey contextKey = "github.com/fabrica-ops/api/internal/platform/auth/service-identity"

// WithServiceIdentity stores the service identity within the context for
// downstream handlers.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	return context.WithValue(ctx, serviceIdentityContextKey, identity)
}

// ServiceIdentityFromContext retrieves the service identity previously stored
// in context.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
