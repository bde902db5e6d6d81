package httpapi

import (
	"context"
	"errors"
	"time"

	"auditgrid.org/internal/auth"
)

const goodToken = "good-token"

type fakeService struct {
	loginErr error
	menuErr  error
	lastReq  auth.LoginRequest
}

func (f *fakeService) Login(_ context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	f.lastReq = req
	if f.loginErr != nil {
		return auth.LoginResult{}, f.loginErr
	}
	if req.Password != "correct horse" {
		return auth.LoginResult{}, auth.AuthenticationFailure()
	}
	return auth.LoginResult{
		Name:         "Alice Doe",
		Token:        goodToken,
		RefreshToken: "refresh",
		RoleID:       100,
		RoleName:     "Admin",
		ClientID:     10,
		ClientName:   "Acme",
		ExpiresAt:    time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeService) Authenticate(token string) (*auth.Claims, error) {
	if token != goodToken {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{SessionID: "s-1", RoleID: 101, TenantID: 10}, nil
}

func (f *fakeService) Menu(_ context.Context, claims *auth.Claims) ([]auth.MenuEntry, error) {
	if f.menuErr != nil {
		return nil, f.menuErr
	}
	if claims.RoleID != 101 {
		return nil, auth.AuthorizationFailure()
	}
	return []auth.MenuEntry{{Navigation: auth.NavigationRef{ID: 1, Name: "Dashboard", URL: "/dashboard", DisplayOrder: 1}}}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

var errDown = errors.New("db down")
