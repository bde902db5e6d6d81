package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"auditgrid.org/internal/auth"
)

// Snapshot is the write-once audit record of a session.
type Snapshot struct {
	ID          string               `json:"id"`
	SessionID   string               `json:"sessionId"`
	CreatedAt   time.Time            `json:"createdAt"`
	Identity    IdentitySnapshot     `json:"identity"`
	Token       TokenSnapshot        `json:"token"`
	Permissions []PermissionSnapshot `json:"permissions"`
	Projects    []ProjectAccess      `json:"projects"`
}

type IdentitySnapshot struct {
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

// TokenSnapshot keeps the validity window and a digest of the refresh token;
// the token itself is never stored.
type TokenSnapshot struct {
	RefreshTokenSHA256 string    `json:"refreshTokenSha256"`
	IssuedAt           time.Time `json:"issuedAt"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

type PermissionSnapshot struct {
	NavigationID         int64  `json:"navigationId"`
	NavigationExternalID string `json:"navigationExternalId"`
	NavigationName       string `json:"navigationName"`
	NavigationURL        string `json:"navigationUrl,omitempty"`
	ParentID             *int64 `json:"parentId"`
	ParentName           string `json:"parentName,omitempty"`
	DisplayOrder         int    `json:"displayOrder"`
	ActionID             int64  `json:"actionId"`
	Action               string `json:"action"`
}

// ProjectAccess is one assigned project. Error is set instead of Connection
// when the scheduler credential could not be recovered.
type ProjectAccess struct {
	ProjectID         int64  `json:"projectId"`
	ProjectExternalID string `json:"projectExternalId"`
	ProjectName       string `json:"projectName"`
	SchedulerUserName string `json:"schedulerUserName,omitempty"`
	Connection        string `json:"connection,omitempty"`
	Error             string `json:"error,omitempty"`
}

func identitySnapshot(v auth.VerifiedIdentity) IdentitySnapshot {
	return IdentitySnapshot{
		UserID:           v.UserID,
		UserExternalID:   v.UserExternalID,
		UserName:         v.UserName,
		FullName:         v.FullName,
		Email:            v.Email,
		RoleID:           v.RoleID,
		RoleExternalID:   v.RoleExternalID,
		RoleName:         v.RoleName,
		TenantID:         v.TenantID,
		TenantExternalID: v.TenantExternalID,
		TenantName:       v.TenantName,
	}
}

func tokenSnapshot(t auth.IssuedToken) TokenSnapshot {
	return TokenSnapshot{
		RefreshTokenSHA256: digest(t.RefreshToken),
		IssuedAt:           t.IssuedAt,
		ExpiresAt:          t.ExpiresAt,
	}
}

func permissionSnapshot(p auth.PermissionEntry) PermissionSnapshot {
	out := PermissionSnapshot{
		NavigationID:         p.Navigation.ID,
		NavigationExternalID: p.Navigation.ExternalID,
		NavigationName:       p.Navigation.Name,
		NavigationURL:        p.Navigation.URL,
		DisplayOrder:         p.Navigation.DisplayOrder,
		ActionID:             p.ActionID,
		Action:               string(p.Action),
	}
	if p.Parent != nil {
		id := p.Parent.ID
		out.ParentID = &id
		out.ParentName = p.Parent.Name
	}
	return out
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
