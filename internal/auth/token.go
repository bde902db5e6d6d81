package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultExpiryMinutes = 60
	refreshTokenBytes    = 32
)

// SigningConfig is the token signing material read from process configuration.
type SigningConfig struct {
	Issuer        string
	Audience      string
	Key           string
	ExpiryMinutes int
}

// SigningSource yields the current signing configuration. It is consulted on
// every issue so configuration problems surface per request.
type SigningSource func() SigningConfig

// StaticSigning returns a SigningSource for a fixed configuration.
func StaticSigning(cfg SigningConfig) SigningSource {
	return func() SigningConfig { return cfg }
}

func (c SigningConfig) validate() error {
	var missing []string
	if strings.TrimSpace(c.Issuer) == "" {
		missing = append(missing, "issuer")
	}
	if strings.TrimSpace(c.Audience) == "" {
		missing = append(missing, "audience")
	}
	if strings.TrimSpace(c.Key) == "" {
		missing = append(missing, "signing key")
	}
	if len(missing) > 0 {
		return ConfigurationError("token signing " + strings.Join(missing, ", ") + " not configured")
	}
	return nil
}

// Claims is the session token payload.
type Claims struct {
	SessionID      string `json:"sid"`
	UserID         int64  `json:"uid"`
	UserExternalID string `json:"uxid"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	RoleID         int64  `json:"rid"`
	RoleExternalID string `json:"rxid"`
	RoleName       string `json:"role"`
	TenantID       int64  `json:"cid"`
	TenantName     string `json:"cname"`
	jwt.RegisteredClaims
}

// Scope returns the role/tenant pair carried by c.
func (c *Claims) Scope() Subject {
	return Subject{RoleID: c.RoleID, TenantID: c.TenantID}
}

// TokenIssuer signs HS256 session tokens and mints refresh tokens.
type TokenIssuer struct {
	source SigningSource
	now    func() time.Time
	rand   io.Reader
}

func NewTokenIssuer(source SigningSource) *TokenIssuer {
	return &TokenIssuer{source: source, now: time.Now, rand: rand.Reader}
}

// Issue builds and signs a token for id under a fresh session id.
func (t *TokenIssuer) Issue(id VerifiedIdentity, sessionID string) (IssuedToken, error) {
	cfg, err := t.config()
	if err != nil {
		return IssuedToken{}, err
	}
	if strings.TrimSpace(sessionID) == "" {
		return IssuedToken{}, errors.New("session id is required")
	}
	minutes := cfg.ExpiryMinutes
	if minutes <= 0 {
		minutes = defaultExpiryMinutes
	}

	now := t.now().UTC().Truncate(time.Second)
	exp := now.Add(time.Duration(minutes) * time.Minute)
	claims := Claims{
		SessionID:      sessionID,
		UserID:         id.UserID,
		UserExternalID: id.UserExternalID,
		Name:           id.FullName,
		Email:          id.Email,
		RoleID:         id.RoleID,
		RoleExternalID: id.RoleExternalID,
		RoleName:       id.RoleName,
		TenantID:       id.TenantID,
		TenantName:     id.TenantName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			Subject:   subjectOf(id),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Key))
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign token: %w", err)
	}
	refresh, err := t.refreshToken()
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{
		SessionID:    sessionID,
		Token:        signed,
		RefreshToken: refresh,
		IssuedAt:     now,
		ExpiresAt:    exp,
	}, nil
}

// Parse verifies signature, issuer, audience and expiry of a session token.
func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	cfg, err := t.config()
	if err != nil {
		return nil, err
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(cfg.Key), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (t *TokenIssuer) config() (SigningConfig, error) {
	if t.source == nil {
		return SigningConfig{}, ConfigurationError("token signing not configured")
	}
	cfg := t.source()
	if err := cfg.validate(); err != nil {
		return SigningConfig{}, err
	}
	return cfg, nil
}

func (t *TokenIssuer) refreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := io.ReadFull(t.rand, buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func subjectOf(id VerifiedIdentity) string {
	if id.UserExternalID != "" {
		return id.UserExternalID
	}
	return strconv.FormatInt(id.UserID, 10)
}
