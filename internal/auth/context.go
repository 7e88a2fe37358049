package auth

import "context"

type contextKey string

const (
	contextKeyCustomer contextKey = "auth.customer_id"
	contextKeyRole     contextKey = "auth.role"
	contextKeySubject  contextKey = "auth.subject"
)

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, customerID string, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, contextKeyCustomer, customerID)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	return ctx
}

// CustomerIDFromContext extracts the customer a token is scoped to.
func CustomerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyCustomer)
	if customerID, ok := value.(string); ok {
		return customerID
	}
	return ""
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeySubject)
	if subject, ok := value.(string); ok {
		return subject
	}
	return ""
}

// EnsureCustomerAccess rejects customer tokens reading another customer's data.
// Staff roles and unauthenticated contexts pass through.
func EnsureCustomerAccess(ctx context.Context, customerID string) error {
	if RoleFromContext(ctx) != RoleCustomer {
		return nil
	}
	if scoped := CustomerIDFromContext(ctx); scoped == "" || scoped != customerID {
		return ErrForbidden
	}
	return nil
}
