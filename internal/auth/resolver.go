package auth

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PermissionResolver computes navigation grants for a role inside a tenant.
// Results are never cached: grants may change between sessions.
type PermissionResolver struct {
	dir     Directory
	catalog *Catalog
	log     *zap.Logger
}

func NewPermissionResolver(dir Directory, catalog *Catalog, log *zap.Logger) *PermissionResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &PermissionResolver{dir: dir, catalog: catalog, log: log}
}

// Association finds the role-tenant association for subj.
func (r *PermissionResolver) Association(ctx context.Context, subj Subject) (RoleTenant, error) {
	assocs, err := r.dir.RoleTenants(ctx, subj.RoleID)
	if err != nil {
		return RoleTenant{}, InternalError("role lookup failed", err)
	}
	var (
		match   RoleTenant
		found   bool
		tenants = make(map[int64]struct{}, len(assocs))
	)
	for _, a := range assocs {
		tenants[a.TenantID] = struct{}{}
		if a.TenantID == subj.TenantID && !found {
			match, found = a, true
		}
	}
	if len(tenants) > 1 {
		// Role ids shared across tenants make a role-only join ambiguous; we
		// scope to the caller's tenant and leave a trace for operators.
		r.log.Warn("role is associated with multiple tenants",
			zap.Int64("role_id", subj.RoleID),
			zap.Int64("tenant_id", subj.TenantID),
			zap.Int("tenants", len(tenants)))
	}
	if !found {
		return RoleTenant{}, AuthorizationFailure()
	}
	return match, nil
}

// Menu returns the View-granted navigation nodes ordered by display order.
func (r *PermissionResolver) Menu(ctx context.Context, subj Subject) ([]MenuEntry, error) {
	view, ok := r.catalog.Action(ActionView)
	if !ok {
		return nil, ConfigurationError("view action is not provisioned")
	}
	rows, err := r.join(ctx, subj, func(g Grant) bool { return g.ActionID == view.ID })
	if err != nil {
		return nil, err
	}
	out := make([]MenuEntry, 0, len(rows))
	seen := make(map[int64]struct{}, len(rows))
	for _, row := range rows {
		if _, dup := seen[row.nav.ID]; dup {
			continue
		}
		seen[row.nav.ID] = struct{}{}
		out = append(out, MenuEntry{Navigation: row.ref, Parent: row.parent})
	}
	return out, nil
}

// Permissions returns every granted (navigation, action) pair ordered by
// navigation display order.
func (r *PermissionResolver) Permissions(ctx context.Context, subj Subject) ([]PermissionEntry, error) {
	rows, err := r.join(ctx, subj, func(Grant) bool { return true })
	if err != nil {
		return nil, err
	}
	out := make([]PermissionEntry, 0, len(rows))
	for _, row := range rows {
		action, ok := r.catalog.ByID(row.grant.ActionID)
		if !ok {
			r.log.Warn("grant references unknown action",
				zap.Int64("grant_id", row.grant.ID), zap.Int64("action_id", row.grant.ActionID))
			continue
		}
		out = append(out, PermissionEntry{
			Navigation: row.ref,
			Parent:     row.parent,
			ActionID:   action.ID,
			Action:     action.Kind,
		})
	}
	return out, nil
}

type joinedGrant struct {
	grant  Grant
	nav    Navigation
	ref    NavigationRef
	parent *NavigationRef
}

// join loads grants and navigations for subj and joins them in memory.
func (r *PermissionResolver) join(ctx context.Context, subj Subject, keep func(Grant) bool) ([]joinedGrant, error) {
	assoc, err := r.Association(ctx, subj)
	if err != nil {
		return nil, err
	}

	var (
		navs   []Navigation
		grants []Grant
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		navs, err = r.dir.Navigations(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		grants, err = r.dir.Grants(gctx, assoc.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, InternalError("permission lookup failed", err)
	}

	byID := make(map[int64]Navigation, len(navs))
	for _, n := range navs {
		byID[n.ID] = n
	}

	rows := make([]joinedGrant, 0, len(grants))
	for _, gr := range grants {
		if !keep(gr) {
			continue
		}
		nav, ok := byID[gr.NavigationID]
		if !ok || !nav.Active || nav.Deleted {
			continue
		}
		rows = append(rows, joinedGrant{
			grant:  gr,
			nav:    nav,
			ref:    navigationRef(nav),
			parent: parentRef(nav, byID),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.nav.DisplayOrder != b.nav.DisplayOrder {
			return a.nav.DisplayOrder < b.nav.DisplayOrder
		}
		if a.nav.ID != b.nav.ID {
			return a.nav.ID < b.nav.ID
		}
		return a.grant.ActionID < b.grant.ActionID
	})
	return rows, nil
}

func navigationRef(n Navigation) NavigationRef {
	return NavigationRef{
		ID:           n.ID,
		ExternalID:   n.ExternalID,
		Name:         n.Name,
		URL:          n.URL,
		Icon:         n.Icon,
		DisplayOrder: n.DisplayOrder,
	}
}

// parentRef resolves the parent of n; a missing, non-positive or unknown
// parent id yields nil.
func parentRef(n Navigation, byID map[int64]Navigation) *NavigationRef {
	if n.ParentID == nil || *n.ParentID <= 0 {
		return nil
	}
	p, ok := byID[*n.ParentID]
	if !ok {
		return nil
	}
	ref := navigationRef(p)
	return &ref
}
