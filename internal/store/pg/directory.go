package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"auditgrid.org/internal/auth"
)

// FindIdentity returns the active identity with userName (case-insensitive)
// joined through its role-tenant association.
func (s *Store) FindIdentity(ctx context.Context, userName string) (auth.IdentityRecord, error) {
	if s.db == nil {
		return auth.IdentityRecord{}, errNoDB
	}
	var rec auth.IdentityRecord
	err := s.db.QueryRowContext(ctx, `
		select u.id, u.external_id, u.full_name, u.user_name, u.email, u.password_hash, u.role_tenant_id, u.active,
		       rt.id, rt.role_id, rt.tenant_id,
		       r.id, r.external_id, r.name,
		       t.id, t.external_id, t.name
		from users u
		join role_tenants rt on rt.id = u.role_tenant_id
		join roles r on r.id = rt.role_id
		join tenants t on t.id = rt.tenant_id
		where lower(u.user_name) = lower($1) and u.active
	`, strings.TrimSpace(userName)).Scan(
		&rec.Identity.ID, &rec.Identity.ExternalID, &rec.Identity.FullName, &rec.Identity.UserName,
		&rec.Identity.Email, &rec.Identity.PasswordHash, &rec.Identity.RoleTenantID, &rec.Identity.Active,
		&rec.RoleTenant.ID, &rec.RoleTenant.RoleID, &rec.RoleTenant.TenantID,
		&rec.Role.ID, &rec.Role.ExternalID, &rec.Role.Name,
		&rec.Tenant.ID, &rec.Tenant.ExternalID, &rec.Tenant.Name,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.IdentityRecord{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.IdentityRecord{}, err
	}
	return rec, nil
}

func (s *Store) RoleTenants(ctx context.Context, roleID int64) ([]auth.RoleTenant, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, role_id, tenant_id
		from role_tenants
		where role_id = $1
		order by id
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.RoleTenant
	for rows.Next() {
		var rt auth.RoleTenant
		if err := rows.Scan(&rt.ID, &rt.RoleID, &rt.TenantID); err != nil {
			return nil, err
		}
		result = append(result, rt)
	}
	return result, rows.Err()
}

// Navigations returns every navigation row; filtering and parent resolution
// happen in memory.
func (s *Store) Navigations(ctx context.Context) ([]auth.Navigation, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, external_id, parent_id, name, url, icon, display_order, active, deleted
		from navigations
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Navigation
	for rows.Next() {
		var (
			n      auth.Navigation
			parent sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.ExternalID, &parent, &n.Name, &n.URL, &n.Icon, &n.DisplayOrder, &n.Active, &n.Deleted); err != nil {
			return nil, err
		}
		if parent.Valid {
			p := parent.Int64
			n.ParentID = &p
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (s *Store) Grants(ctx context.Context, roleTenantID int64) ([]auth.Grant, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, role_tenant_id, navigation_id, action_id
		from permission_grants
		where role_tenant_id = $1
	`, roleTenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Grant
	for rows.Next() {
		var g auth.Grant
		if err := rows.Scan(&g.ID, &g.RoleTenantID, &g.NavigationID, &g.ActionID); err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func (s *Store) Actions(ctx context.Context) ([]auth.Action, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select id, external_id, name from actions order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Action
	for rows.Next() {
		var (
			a    auth.Action
			name string
		)
		if err := rows.Scan(&a.ID, &a.ExternalID, &name); err != nil {
			return nil, err
		}
		a.Kind = auth.ActionKind(name)
		result = append(result, a)
	}
	return result, rows.Err()
}
