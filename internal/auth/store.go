package auth

import "context"

// Directory is the read side of the identity and permission tables.
// Implementations return ErrNotFound when a lookup has no row.
type Directory interface {
	// FindIdentity returns the active identity with userName joined through its
	// role-tenant association.
	FindIdentity(ctx context.Context, userName string) (IdentityRecord, error)
	RoleTenants(ctx context.Context, roleID int64) ([]RoleTenant, error)
	Navigations(ctx context.Context) ([]Navigation, error)
	Grants(ctx context.Context, roleTenantID int64) ([]Grant, error)
	Actions(ctx context.Context) ([]Action, error)
}
