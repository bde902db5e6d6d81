package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type fakeDirectory struct {
	mu          sync.Mutex
	identities  map[string]IdentityRecord
	roleTenants []RoleTenant
	navs        []Navigation
	grants      []Grant
	actions     []Action
	lookupErr   error
	grantErr    error
	calls       map[string]int
}

func (f *fakeDirectory) hit(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
}

func (f *fakeDirectory) FindIdentity(_ context.Context, userName string) (IdentityRecord, error) {
	f.hit("FindIdentity")
	if f.lookupErr != nil {
		return IdentityRecord{}, f.lookupErr
	}
	rec, ok := f.identities[strings.ToLower(userName)]
	if !ok {
		return IdentityRecord{}, ErrNotFound
	}
	return rec, nil
}

func (f *fakeDirectory) RoleTenants(_ context.Context, roleID int64) ([]RoleTenant, error) {
	f.hit("RoleTenants")
	var out []RoleTenant
	for _, rt := range f.roleTenants {
		if rt.RoleID == roleID {
			out = append(out, rt)
		}
	}
	return out, nil
}

func (f *fakeDirectory) Navigations(context.Context) ([]Navigation, error) {
	f.hit("Navigations")
	return append([]Navigation(nil), f.navs...), nil
}

func (f *fakeDirectory) Grants(_ context.Context, roleTenantID int64) ([]Grant, error) {
	f.hit("Grants")
	if f.grantErr != nil {
		return nil, f.grantErr
	}
	var out []Grant
	for _, g := range f.grants {
		if g.RoleTenantID == roleTenantID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeDirectory) Actions(context.Context) ([]Action, error) {
	f.hit("Actions")
	return f.actions, nil
}

func ptr(v int64) *int64 { return &v }

var testActions = []Action{
	{ID: 1, ExternalID: "a-view", Kind: ActionView},
	{ID: 2, ExternalID: "a-add", Kind: ActionAdd},
	{ID: 3, ExternalID: "a-edit", Kind: ActionEdit},
	{ID: 4, ExternalID: "a-delete", Kind: ActionDelete},
}

// newFixture builds the "Acme" tenant with alice (Admin) and bob (Viewer).
func newFixture(t *testing.T) *fakeDirectory {
	t.Helper()
	aliceHash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	bobHash, err := HashPassword("viewer-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	acme := Tenant{ID: 10, ExternalID: "11111111-1111-1111-1111-111111111111", Name: "Acme"}
	admin := Role{ID: 100, ExternalID: "role-admin", Name: "Admin"}
	viewer := Role{ID: 101, ExternalID: "role-viewer", Name: "Viewer"}
	adminRT := RoleTenant{ID: 1000, RoleID: admin.ID, TenantID: acme.ID}
	viewerRT := RoleTenant{ID: 1001, RoleID: viewer.ID, TenantID: acme.ID}

	return &fakeDirectory{
		identities: map[string]IdentityRecord{
			"alice@acme.com": {
				Identity: Identity{ID: 1, ExternalID: "user-alice", FullName: "Alice Doe", UserName: "alice@acme.com",
					Email: "alice@acme.com", PasswordHash: aliceHash, RoleTenantID: adminRT.ID, Active: true},
				RoleTenant: adminRT, Role: admin, Tenant: acme,
			},
			"bob@acme.com": {
				Identity: Identity{ID: 2, ExternalID: "user-bob", FullName: "Bob Roe", UserName: "bob@acme.com",
					Email: "bob@acme.com", PasswordHash: bobHash, RoleTenantID: viewerRT.ID, Active: true},
				RoleTenant: viewerRT, Role: viewer, Tenant: acme,
			},
		},
		roleTenants: []RoleTenant{adminRT, viewerRT},
		navs: []Navigation{
			{ID: 1, ExternalID: "n-dashboard", Name: "Dashboard", URL: "/dashboard", DisplayOrder: 1, Active: true},
			{ID: 2, ExternalID: "n-admin", Name: "Administration", URL: "/admin", DisplayOrder: 5, Active: true},
			{ID: 3, ExternalID: "n-users", ParentID: ptr(2), Name: "Users", URL: "/admin/users", DisplayOrder: 6, Active: true},
			{ID: 4, ExternalID: "n-reports", ParentID: ptr(0), Name: "Reports", URL: "/reports", DisplayOrder: 3, Active: true},
			{ID: 5, ExternalID: "n-orphan", ParentID: ptr(999), Name: "Orphan", URL: "/orphan", DisplayOrder: 4, Active: true},
			{ID: 6, ExternalID: "n-retired", Name: "Retired", DisplayOrder: 2, Active: true, Deleted: true},
			{ID: 7, ExternalID: "n-hidden", Name: "Hidden", DisplayOrder: 2, Active: false},
		},
		grants: []Grant{
			{ID: 1, RoleTenantID: adminRT.ID, NavigationID: 3, ActionID: 1},
			{ID: 2, RoleTenantID: adminRT.ID, NavigationID: 3, ActionID: 3},
			{ID: 3, RoleTenantID: adminRT.ID, NavigationID: 1, ActionID: 1},
			{ID: 4, RoleTenantID: adminRT.ID, NavigationID: 2, ActionID: 1},
			{ID: 5, RoleTenantID: adminRT.ID, NavigationID: 4, ActionID: 1},
			{ID: 6, RoleTenantID: adminRT.ID, NavigationID: 5, ActionID: 1},
			{ID: 7, RoleTenantID: adminRT.ID, NavigationID: 6, ActionID: 1},
			{ID: 8, RoleTenantID: adminRT.ID, NavigationID: 7, ActionID: 1},
			{ID: 9, RoleTenantID: adminRT.ID, NavigationID: 4, ActionID: 4},
			{ID: 10, RoleTenantID: viewerRT.ID, NavigationID: 1, ActionID: 1},
		},
		actions: testActions,
	}
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(testActions)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

var errBoom = errors.New("boom")
