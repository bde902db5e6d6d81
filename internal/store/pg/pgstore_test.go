package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"auditgrid.org/internal/audit"
	"auditgrid.org/internal/auth"
	"auditgrid.org/internal/license"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestFindIdentity(t *testing.T) {
	s, mock := newMock(t)
	cols := []string{"id", "external_id", "full_name", "user_name", "email", "password_hash", "role_tenant_id", "active",
		"rt_id", "role_id", "tenant_id", "r_id", "r_external_id", "r_name", "t_id", "t_external_id", "t_name"}
	mock.ExpectQuery("select u.id, u.external_id.*from users u.*where lower\\(u.user_name\\) = lower\\(\\$1\\) and u.active").
		WithArgs("alice@acme.com").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			1, "user-alice", "Alice Doe", "alice@acme.com", "alice@acme.com", "$argon2id$x", 1000, true,
			1000, 100, 10, 100, "role-admin", "Admin", 10, "tenant-acme", "Acme"))

	rec, err := s.FindIdentity(context.Background(), " alice@acme.com ")
	if err != nil {
		t.Fatalf("FindIdentity: %v", err)
	}
	if rec.Role.Name != "Admin" || rec.Tenant.Name != "Acme" || rec.RoleTenant.ID != 1000 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestFindIdentityNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from users u").WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	if _, err := s.FindIdentity(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNavigationsNullableParent(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select id, external_id, parent_id.*from navigations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id", "parent_id", "name", "url", "icon", "display_order", "active", "deleted"}).
			AddRow(1, "n1", nil, "Dashboard", "/dashboard", "", 1, true, false).
			AddRow(2, "n2", 1, "Child", "/child", "cog", 2, true, false))

	navs, err := s.Navigations(context.Background())
	if err != nil {
		t.Fatalf("Navigations: %v", err)
	}
	if len(navs) != 2 {
		t.Fatalf("expected 2 navigations, got %d", len(navs))
	}
	if navs[0].ParentID != nil {
		t.Fatalf("expected nil parent, got %v", *navs[0].ParentID)
	}
	if navs[1].ParentID == nil || *navs[1].ParentID != 1 {
		t.Fatalf("expected parent 1, got %v", navs[1].ParentID)
	}
}

func TestGrantsAndActions(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from permission_grants").WithArgs(int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role_tenant_id", "navigation_id", "action_id"}).AddRow(1, 1000, 3, 1))
	mock.ExpectQuery("select id, external_id, name from actions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id", "name"}).AddRow(1, "a1", "View").AddRow(2, "a2", "Add"))
	mock.ExpectQuery("from role_tenants").WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role_id", "tenant_id"}).AddRow(1000, 100, 10))

	grants, err := s.Grants(context.Background(), 1000)
	if err != nil || len(grants) != 1 || grants[0].NavigationID != 3 {
		t.Fatalf("Grants: %v %+v", err, grants)
	}
	actions, err := s.Actions(context.Background())
	if err != nil || len(actions) != 2 || actions[0].Kind != auth.ActionView {
		t.Fatalf("Actions: %v %+v", err, actions)
	}
	rts, err := s.RoleTenants(context.Background(), 100)
	if err != nil || len(rts) != 1 || rts[0].TenantID != 10 {
		t.Fatalf("RoleTenants: %v %+v", err, rts)
	}
}

func TestProjectsAndCredentials(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from projects p.*join project_assignments").WithArgs(int64(1), int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id", "name", "tenant_id"}).AddRow(7, "p-7", "Payroll", 10))
	mock.ExpectQuery("from project_scheduler_credentials c").WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"project_id", "user_name", "cipher_password", "cipher_key"}).AddRow(7, "sched", "cp", "ck"))

	projects, err := s.AssignedProjects(context.Background(), 1, 10)
	if err != nil || len(projects) != 1 || projects[0].Name != "Payroll" {
		t.Fatalf("AssignedProjects: %v %+v", err, projects)
	}
	creds, err := s.SchedulerCredentials(context.Background(), 10)
	if err != nil || len(creds) != 1 {
		t.Fatalf("SchedulerCredentials: %v %+v", err, creds)
	}
	if creds[0].Password != (license.Sealed{Payload: "cp", Key: "ck"}) {
		t.Fatalf("unexpected sealed password: %+v", creds[0].Password)
	}
}

func TestProjectTenant(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("join tenants t on t.id = p.tenant_id").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"external_id"}).AddRow("11111111-1111-1111-1111-111111111111"))
	mock.ExpectQuery("join tenants t on t.id = p.tenant_id").WithArgs(int64(8)).WillReturnError(sql.ErrNoRows)

	got, err := s.ProjectTenant(context.Background(), 7)
	if err != nil || got != "11111111-1111-1111-1111-111111111111" {
		t.Fatalf("ProjectTenant: %q %v", got, err)
	}
	if _, err := s.ProjectTenant(context.Background(), 8); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendSnapshot(t *testing.T) {
	s, mock := newMock(t)
	snap := &audit.Snapshot{
		ID:        "01HZX",
		SessionID: "sess-1",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Identity:  audit.IdentitySnapshot{UserID: 1, TenantID: 10},
	}
	payload, _ := json.Marshal(snap)
	mock.ExpectExec("insert into audit_snapshots").
		WithArgs("01HZX", "sess-1", int64(1), int64(10), snap.CreatedAt, payload).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.AppendSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("AppendSnapshot: %v", err)
	}
}

func TestAppendSnapshotDuplicateSession(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into audit_snapshots").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := s.AppendSnapshot(context.Background(), &audit.Snapshot{ID: "x", SessionID: "dup"})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestLicenses(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := license.Record{
		ID: "01LIC", TenantExternalID: "tenant-acme", CipherPayload: "p", CipherKey: "k",
		StartDate: created, EndDate: created.AddDate(0, 6, 0), CreatedAt: created,
	}
	mock.ExpectQuery("insert into licenses").
		WithArgs(rec.ID, rec.TenantExternalID, "p", "k", rec.StartDate, rec.EndDate, rec.CreatedAt).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectQuery("from licenses").WithArgs("tenant-acme").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_external_id", "cipher_payload", "cipher_key", "start_date", "end_date", "created_at"}).
			AddRow(rec.ID, rec.TenantExternalID, "p", "k", rec.StartDate, rec.EndDate, created))
	mock.ExpectQuery("from licenses").WithArgs("nobody").WillReturnError(sql.ErrNoRows)

	if _, err := s.CreateLicense(context.Background(), rec); err != nil {
		t.Fatalf("CreateLicense: %v", err)
	}
	got, err := s.LatestLicense(context.Background(), "tenant-acme")
	if err != nil {
		t.Fatalf("LatestLicense: %v", err)
	}
	if got.Envelope() != rec.Envelope() {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if _, err := s.LatestLicense(context.Background(), "nobody"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateLicenseUnknownTenant(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into licenses").WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	if _, err := s.CreateLicense(context.Background(), license.Record{ID: "x"}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
