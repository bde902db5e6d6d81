package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"auditgrid.org/internal/audit"
	"auditgrid.org/internal/auth"
	"auditgrid.org/internal/license"
)

func (s *Store) AssignedProjects(ctx context.Context, userID, tenantID int64) ([]audit.Project, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.external_id, p.name, p.tenant_id
		from projects p
		join project_assignments pa on pa.project_id = p.id
		where pa.user_id = $1 and p.tenant_id = $2
		order by p.name, p.id
	`, userID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Project
	for rows.Next() {
		var p audit.Project
		if err := rows.Scan(&p.ID, &p.ExternalID, &p.Name, &p.TenantID); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) SchedulerCredentials(ctx context.Context, tenantID int64) ([]audit.SchedulerCredential, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select c.project_id, c.user_name, c.cipher_password, c.cipher_key
		from project_scheduler_credentials c
		join projects p on p.id = c.project_id
		where p.tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.SchedulerCredential
	for rows.Next() {
		var c audit.SchedulerCredential
		if err := rows.Scan(&c.ProjectID, &c.UserName, &c.Password.Payload, &c.Password.Key); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// ProjectTenant returns the external id of the tenant owning projectID.
func (s *Store) ProjectTenant(ctx context.Context, projectID int64) (string, error) {
	if s.db == nil {
		return "", errNoDB
	}
	var externalID string
	err := s.db.QueryRowContext(ctx, `
		select t.external_id
		from projects p
		join tenants t on t.id = p.tenant_id
		where p.id = $1
	`, projectID).Scan(&externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return externalID, nil
}

// SetSchedulerCredential stores (or replaces) the sealed scheduler login of a project.
func (s *Store) SetSchedulerCredential(ctx context.Context, projectID int64, userName string, sealed license.Sealed) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into project_scheduler_credentials (project_id, user_name, cipher_password, cipher_key)
		values ($1, $2, $3, $4)
		on conflict (project_id) do update
		set user_name = excluded.user_name,
		    cipher_password = excluded.cipher_password,
		    cipher_key = excluded.cipher_key
	`, projectID, userName, sealed.Payload, sealed.Key)
	return mapWriteError(err)
}

// AppendSnapshot inserts a snapshot. A second snapshot for the same session is a conflict.
func (s *Store) AppendSnapshot(ctx context.Context, snap *audit.Snapshot) error {
	if s.db == nil {
		return errNoDB
	}
	if snap == nil {
		return errors.New("snapshot is nil")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_snapshots (id, session_id, user_id, tenant_id, created_at, payload)
		values ($1, $2, $3, $4, $5, $6)
	`, snap.ID, snap.SessionID, snap.Identity.UserID, snap.Identity.TenantID, snap.CreatedAt, payload)
	return mapWriteError(err)
}
