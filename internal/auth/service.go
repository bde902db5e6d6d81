package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"auditgrid.org/internal/ids"
	"auditgrid.org/internal/obs"
)

const (
	defaultGrantType    = "password"
	defaultAuditTimeout = 5 * time.Second
)

// LoginRequest is the credential exchange input.
type LoginRequest struct {
	UserName  string
	Password  string
	GrantType string
}

// LoginResult is the session bundle returned to the caller.
type LoginResult struct {
	Name         string    `json:"name"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	RoleID       int64     `json:"roleId"`
	RoleName     string    `json:"roleName"`
	ClientID     int64     `json:"clientId"`
	ClientName   string    `json:"clientName"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// SessionRecord is what the audit trail receives after a token is issued.
type SessionRecord struct {
	Identity VerifiedIdentity
	Token    IssuedToken
}

// SessionRecorder persists an audit snapshot of a session. Failures are
// reported to the caller of RecordSession but never fail a login.
type SessionRecorder interface {
	RecordSession(ctx context.Context, rec SessionRecord) error
}

// Service runs the login pipeline:
// verify credentials, resolve the role-tenant association, issue the token,
// then record the session best-effort.
type Service struct {
	verifier  *CredentialVerifier
	resolver  *PermissionResolver
	issuer    *TokenIssuer
	recorder  SessionRecorder
	auditWait time.Duration
	grantType string
	log       *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newSessID func() string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRecorder installs the session audit recorder.
func WithRecorder(r SessionRecorder) ServiceOption {
	return func(s *Service) error {
		s.recorder = r
		return nil
	}
}

// WithAuditTimeout bounds how long a login waits for the audit step.
func WithAuditTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d <= 0 {
			return errors.New("auth: audit timeout must be positive")
		}
		s.auditWait = d
		return nil
	}
}

// WithGrantType overrides the accepted grant type.
func WithGrantType(gt string) ServiceOption {
	return func(s *Service) error {
		gt = strings.TrimSpace(gt)
		if gt == "" {
			return errors.New("auth: grant type must not be empty")
		}
		s.grantType = gt
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
			s.issuer.now = fn
		}
		return nil
	}
}

// WithSessionIDs overrides the session id generator.
func WithSessionIDs(fn func() string) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.newSessID = fn
		}
		return nil
	}
}

// NewService wires the pipeline stages.
func NewService(verifier *CredentialVerifier, resolver *PermissionResolver, issuer *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if verifier == nil || resolver == nil || issuer == nil {
		return nil, errors.New("auth: verifier, resolver and issuer are required")
	}
	svc := &Service{
		verifier:  verifier,
		resolver:  resolver,
		issuer:    issuer,
		auditWait: defaultAuditTimeout,
		grantType: defaultGrantType,
		log:       zap.NewNop(),
		tracer:    otel.Tracer("auditgrid.org/internal/auth"),
		now:       time.Now,
		newSessID: ids.NewSession,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Login exchanges credentials for a session. Authentication failures are
// returned as-is; every other failure is wrapped with its kind preserved.
func (s *Service) Login(ctx context.Context, req LoginRequest) (res LoginResult, err error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "auth.login")
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		obs.ObserveLogin(outcome, s.now().Sub(start))
	}()

	if err := s.validate(req); err != nil {
		return LoginResult{}, err
	}

	identity, err := s.verify(ctx, req)
	if err != nil {
		if KindOf(err) == KindAuthentication {
			s.log.Info("login rejected", zap.String("user_name", strings.TrimSpace(req.UserName)))
			return LoginResult{}, err
		}
		return LoginResult{}, s.fail("verify", err)
	}

	if err := s.resolveRole(ctx, identity); err != nil {
		return LoginResult{}, s.fail("resolve", err)
	}

	token, err := s.issue(ctx, identity)
	if err != nil {
		return LoginResult{}, s.fail("issue", err)
	}

	s.record(ctx, SessionRecord{Identity: identity, Token: token})

	return LoginResult{
		Name:         identity.FullName,
		Token:        token.Token,
		RefreshToken: token.RefreshToken,
		RoleID:       identity.RoleID,
		RoleName:     identity.RoleName,
		ClientID:     identity.TenantID,
		ClientName:   identity.TenantName,
		ExpiresAt:    token.ExpiresAt,
	}, nil
}

// Menu resolves the navigation menu for an authenticated token.
func (s *Service) Menu(ctx context.Context, claims *Claims) ([]MenuEntry, error) {
	if claims == nil {
		return nil, TokenFailure()
	}
	ctx, span := s.tracer.Start(ctx, "auth.menu")
	defer span.End()
	return s.resolver.Menu(ctx, claims.Scope())
}

// Authenticate verifies a bearer token.
func (s *Service) Authenticate(token string) (*Claims, error) {
	return s.issuer.Parse(token)
}

func (s *Service) validate(req LoginRequest) error {
	switch {
	case strings.TrimSpace(req.UserName) == "":
		return ValidationError("userName is required")
	case req.Password == "":
		return ValidationError("password is required")
	case strings.TrimSpace(req.GrantType) == "":
		return ValidationError("grantType is required")
	case !strings.EqualFold(strings.TrimSpace(req.GrantType), s.grantType):
		return ValidationError("unsupported grantType")
	}
	return nil
}

func (s *Service) verify(ctx context.Context, req LoginRequest) (VerifiedIdentity, error) {
	ctx, span := s.tracer.Start(ctx, "auth.login.verify")
	defer span.End()
	return s.verifier.Verify(ctx, req.UserName, req.Password)
}

func (s *Service) resolveRole(ctx context.Context, id VerifiedIdentity) error {
	ctx, span := s.tracer.Start(ctx, "auth.login.resolve",
		trace.WithAttributes(attribute.Int64("role_id", id.RoleID), attribute.Int64("tenant_id", id.TenantID)))
	defer span.End()
	_, err := s.resolver.Association(ctx, id.Subject())
	return err
}

func (s *Service) issue(ctx context.Context, id VerifiedIdentity) (IssuedToken, error) {
	_, span := s.tracer.Start(ctx, "auth.login.issue")
	defer span.End()
	return s.issuer.Issue(id, s.newSessID())
}

// record runs the audit step. Nothing it does, including a panic or a hung
// store, reaches the caller: the step is abandoned after auditWait.
func (s *Service) record(ctx context.Context, rec SessionRecord) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.auditWait)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "auth.login.audit")
	defer span.End()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("session audit panicked: %v", r)
			}
		}()
		done <- s.recorder.RecordSession(ctx, rec)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("session audit abandoned: %w", ctx.Err())
	}
	if err != nil {
		obs.IncAuditFailure()
		span.RecordError(err)
		s.log.Warn("session audit not recorded",
			zap.String("session_id", rec.Token.SessionID),
			zap.Int64("user_id", rec.Identity.UserID),
			zap.Error(err))
	}
}

func (s *Service) fail(stage string, err error) error {
	kind := KindOf(err)
	s.log.Error("login failed", zap.String("stage", stage), zap.String("kind", string(kind)), zap.Error(err))
	var e *Error
	if errors.As(err, &e) {
		return fmt.Errorf("login failed at %s: %w", stage, err)
	}
	return InternalError("login failed at "+stage, err)
}
