package common

import "context"

type ctxKey string

const identityKey ctxKey = "auth/identity"

// Identity carries the authenticated caller's claims relevant to ordering.
type Identity struct {
	UserID        string
	Role          string
	Phone         string
	PhoneVerified bool
}

// RoleCustomer is the role allowed to redeem private vouchers.
const RoleCustomer = "customer"

// WithIdentity stores the authenticated identity on the provided context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the authenticated identity from the context if present.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	v := ctx.Value(identityKey)
	if v == nil {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// UserID extracts the authenticated user identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.UserID == "" {
		return "", false
	}
	return id.UserID, true
}
