package auth

import "time"

// Identity is a login account. Provisioning is done elsewhere; this package only reads it.
type Identity struct {
	ID           int64
	ExternalID   string
	FullName     string
	UserName     string
	Email        string
	PasswordHash string
	RoleTenantID int64
	Active       bool
}

// Tenant is an isolated customer account. License material is bound to ExternalID.
type Tenant struct {
	ID         int64
	ExternalID string
	Name       string
}

// Role is a named permission bundle, meaningful only through a RoleTenant.
type Role struct {
	ID         int64
	ExternalID string
	Name       string
}

// RoleTenant associates a role with a tenant. Grants hang off this association.
type RoleTenant struct {
	ID       int64
	RoleID   int64
	TenantID int64
}

// IdentityRecord is an identity joined through its role-tenant association.
type IdentityRecord struct {
	Identity   Identity
	RoleTenant RoleTenant
	Role       Role
	Tenant     Tenant
}

// Navigation is a menu/resource node. ParentID is nil for roots.
type Navigation struct {
	ID           int64
	ExternalID   string
	ParentID     *int64
	Name         string
	URL          string
	Icon         string
	DisplayOrder int
	Active       bool
	Deleted      bool
}

// ActionKind enumerates grantable operations.
type ActionKind string

const (
	ActionView   ActionKind = "View"
	ActionAdd    ActionKind = "Add"
	ActionEdit   ActionKind = "Edit"
	ActionDelete ActionKind = "Delete"
)

// ActionKinds lists every kind in canonical order.
var ActionKinds = []ActionKind{ActionView, ActionAdd, ActionEdit, ActionDelete}

// Action is a stored action row.
type Action struct {
	ID         int64
	ExternalID string
	Kind       ActionKind
}

// Grant authorizes an action on a navigation node for a role-tenant association.
// There is no deny record: absence of a grant means no access.
type Grant struct {
	ID           int64
	RoleTenantID int64
	NavigationID int64
	ActionID     int64
}

// VerifiedIdentity is the outcome of a successful credential check.
type VerifiedIdentity struct {
	UserID           int64  `json:"userId"`
	UserExternalID   string `json:"userExternalId"`
	UserName         string `json:"userName"`
	FullName         string `json:"fullName"`
	Email            string `json:"email"`
	RoleID           int64  `json:"roleId"`
	RoleExternalID   string `json:"roleExternalId"`
	RoleName         string `json:"roleName"`
	TenantID         int64  `json:"clientId"`
	TenantExternalID string `json:"clientExternalId"`
	TenantName       string `json:"clientName"`
}

// Subject identifies whose permissions to resolve: a role inside a tenant.
type Subject struct {
	RoleID   int64
	TenantID int64
}

// Subject returns the role/tenant pair of v.
func (v VerifiedIdentity) Subject() Subject {
	return Subject{RoleID: v.RoleID, TenantID: v.TenantID}
}

// NavigationRef is the projection of a Navigation emitted in menus and snapshots.
type NavigationRef struct {
	ID           int64  `json:"id"`
	ExternalID   string `json:"externalId"`
	Name         string `json:"name"`
	URL          string `json:"url,omitempty"`
	Icon         string `json:"icon,omitempty"`
	DisplayOrder int    `json:"displayOrder"`
}

// MenuEntry is one visible navigation node. Parent is nil when the node has no
// resolvable parent.
type MenuEntry struct {
	Navigation NavigationRef  `json:"navigation"`
	Parent     *NavigationRef `json:"parent"`
}

// PermissionEntry is one granted (navigation, action) pair.
type PermissionEntry struct {
	Navigation NavigationRef  `json:"navigation"`
	Parent     *NavigationRef `json:"parent"`
	ActionID   int64          `json:"actionId"`
	Action     ActionKind     `json:"action"`
}

// IssuedToken is a signed session token with its companion refresh token.
type IssuedToken struct {
	SessionID    string
	Token        string
	RefreshToken string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}
