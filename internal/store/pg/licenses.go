package pg

import (
	"context"
	"database/sql"
	"errors"

	"auditgrid.org/internal/auth"
	"auditgrid.org/internal/license"
)

func (s *Store) CreateLicense(ctx context.Context, rec license.Record) (license.Record, error) {
	if s.db == nil {
		return license.Record{}, errNoDB
	}
	err := s.db.QueryRowContext(ctx, `
		insert into licenses (id, tenant_external_id, cipher_payload, cipher_key, start_date, end_date, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at
	`, rec.ID, rec.TenantExternalID, rec.CipherPayload, rec.CipherKey, rec.StartDate, rec.EndDate, rec.CreatedAt).
		Scan(&rec.CreatedAt)
	if err != nil {
		return license.Record{}, mapWriteError(err)
	}
	return rec, nil
}

// LatestLicense returns the most recently issued license of a tenant.
func (s *Store) LatestLicense(ctx context.Context, tenantExternalID string) (license.Record, error) {
	if s.db == nil {
		return license.Record{}, errNoDB
	}
	var rec license.Record
	err := s.db.QueryRowContext(ctx, `
		select id, tenant_external_id, cipher_payload, cipher_key, start_date, end_date, created_at
		from licenses
		where tenant_external_id = $1
		order by created_at desc, id desc
		limit 1
	`, tenantExternalID).Scan(&rec.ID, &rec.TenantExternalID, &rec.CipherPayload, &rec.CipherKey,
		&rec.StartDate, &rec.EndDate, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return license.Record{}, auth.ErrNotFound
	}
	if err != nil {
		return license.Record{}, err
	}
	return rec, nil
}
