package auth

import (
	"context"
	"errors"
	"strings"
)

// CredentialVerifier checks a username/password pair against the directory.
type CredentialVerifier struct {
	dir Directory
}

func NewCredentialVerifier(dir Directory) *CredentialVerifier {
	return &CredentialVerifier{dir: dir}
}

// Verify returns the identity for valid credentials. Unknown user, inactive
// user and wrong password all produce the same AuthenticationFailure.
func (v *CredentialVerifier) Verify(ctx context.Context, userName, password string) (VerifiedIdentity, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" || password == "" {
		return VerifiedIdentity{}, AuthenticationFailure()
	}

	rec, err := v.dir.FindIdentity(ctx, userName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = VerifyPassword(dummyHash, password)
			return VerifiedIdentity{}, AuthenticationFailure()
		}
		return VerifiedIdentity{}, InternalError("identity lookup failed", err)
	}
	if err := VerifyPassword(rec.Identity.PasswordHash, password); err != nil {
		return VerifiedIdentity{}, AuthenticationFailure()
	}
	if !rec.Identity.Active {
		return VerifiedIdentity{}, AuthenticationFailure()
	}
	return verifiedFromRecord(rec), nil
}

func verifiedFromRecord(rec IdentityRecord) VerifiedIdentity {
	return VerifiedIdentity{
		UserID:           rec.Identity.ID,
		UserExternalID:   rec.Identity.ExternalID,
		UserName:         rec.Identity.UserName,
		FullName:         rec.Identity.FullName,
		Email:            rec.Identity.Email,
		RoleID:           rec.Role.ID,
		RoleExternalID:   rec.Role.ExternalID,
		RoleName:         rec.Role.Name,
		TenantID:         rec.Tenant.ID,
		TenantExternalID: rec.Tenant.ExternalID,
		TenantName:       rec.Tenant.Name,
	}
}
