package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"auditgrid.org/internal/auth"
	"auditgrid.org/internal/ids"
	"auditgrid.org/internal/license"
)

// PermissionSource resolves the full permission set of a role inside a tenant.
type PermissionSource interface {
	Permissions(ctx context.Context, subj auth.Subject) ([]auth.PermissionEntry, error)
}

// Project is a project an identity is assigned to.
type Project struct {
	ID         int64
	ExternalID string
	Name       string
	TenantID   int64
}

// SchedulerCredential is the license-encrypted database login of a project.
type SchedulerCredential struct {
	ProjectID int64
	UserName  string
	Password  license.Sealed
}

// ProjectStore reads project assignments and their scheduler credentials.
type ProjectStore interface {
	AssignedProjects(ctx context.Context, userID, tenantID int64) ([]Project, error)
	SchedulerCredentials(ctx context.Context, tenantID int64) ([]SchedulerCredential, error)
}

// SnapshotStore appends audit snapshots. Snapshots are never updated.
type SnapshotStore interface {
	AppendSnapshot(ctx context.Context, s *Snapshot) error
}

// Recorder builds and persists session snapshots. It implements auth.SessionRecorder.
type Recorder struct {
	perms     PermissionSource
	projects  ProjectStore
	snapshots SnapshotStore
	codec     *license.Codec
	template  license.ConnectionTemplate
	log       *zap.Logger
	now       func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

func NewRecorder(perms PermissionSource, projects ProjectStore, snapshots SnapshotStore, codec *license.Codec, tmpl license.ConnectionTemplate, opts ...Option) (*Recorder, error) {
	if perms == nil || projects == nil || snapshots == nil || codec == nil {
		return nil, errors.New("audit: permission source, project store, snapshot store and codec are required")
	}
	r := &Recorder{
		perms:     perms,
		projects:  projects,
		snapshots: snapshots,
		codec:     codec,
		template:  tmpl,
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

var _ auth.SessionRecorder = (*Recorder)(nil)

// RecordSession assembles the snapshot for rec and appends it.
func (r *Recorder) RecordSession(ctx context.Context, rec auth.SessionRecord) error {
	snap, err := r.Build(ctx, rec)
	if err != nil {
		return err
	}
	if err := r.snapshots.AppendSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("audit: append snapshot: %w", err)
	}
	_ = LogEvent(ctx, "auth.session.recorded",
		zap.String("snapshot_id", snap.ID),
		zap.String("session_id", snap.SessionID),
		zap.Int("permissions", len(snap.Permissions)),
		zap.Int("projects", len(snap.Projects)))
	return nil
}

// Build loads permissions and project access for rec and returns the snapshot
// without persisting it.
func (r *Recorder) Build(ctx context.Context, rec auth.SessionRecord) (*Snapshot, error) {
	id := rec.Identity
	var (
		perms    []auth.PermissionEntry
		projects []Project
		creds    []SchedulerCredential
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		perms, err = r.perms.Permissions(gctx, id.Subject())
		if err != nil {
			return fmt.Errorf("permissions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		projects, err = r.projects.AssignedProjects(gctx, id.UserID, id.TenantID)
		if err != nil {
			return fmt.Errorf("assigned projects: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		creds, err = r.projects.SchedulerCredentials(gctx, id.TenantID)
		if err != nil {
			return fmt.Errorf("scheduler credentials: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	snap := &Snapshot{
		ID:          ids.New(),
		SessionID:   rec.Token.SessionID,
		CreatedAt:   r.now().UTC(),
		Identity:    identitySnapshot(id),
		Token:       tokenSnapshot(rec.Token),
		Permissions: make([]PermissionSnapshot, 0, len(perms)),
	}
	for _, p := range perms {
		snap.Permissions = append(snap.Permissions, permissionSnapshot(p))
	}
	snap.Projects = r.projectAccess(id, projects, creds)
	return snap, nil
}

// projectAccess decrypts each project's scheduler credential. A project whose
// credential is missing or cannot be decrypted is kept with Error set.
func (r *Recorder) projectAccess(id auth.VerifiedIdentity, projects []Project, creds []SchedulerCredential) []ProjectAccess {
	byProject := make(map[int64]SchedulerCredential, len(creds))
	for _, c := range creds {
		byProject[c.ProjectID] = c
	}
	out := make([]ProjectAccess, 0, len(projects))
	for _, p := range projects {
		access := ProjectAccess{
			ProjectID:         p.ID,
			ProjectExternalID: p.ExternalID,
			ProjectName:       p.Name,
		}
		cred, ok := byProject[p.ID]
		if !ok {
			access.Error = "scheduler credential not found"
			out = append(out, access)
			continue
		}
		access.SchedulerUserName = cred.UserName
		password, err := r.codec.DecryptString(cred.Password, id.TenantExternalID)
		if err != nil {
			r.log.Warn("scheduler credential not recovered",
				zap.Int64("project_id", p.ID),
				zap.Int64("tenant_id", id.TenantID),
				zap.Error(err))
			access.Error = "scheduler credential could not be decrypted"
			out = append(out, access)
			continue
		}
		access.Connection = r.template.Render(p.Name, cred.UserName, password)
		out = append(out, access)
	}
	return out
}
