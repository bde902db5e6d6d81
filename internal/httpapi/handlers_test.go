package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"auditgrid.org/internal/auth"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T, svc AuthService, rp ReadyProbe) *apiClient {
	t.Helper()

	api := New(svc, rp, Options{Version: "test", MaxBodyBytes: 1024, RateLimit: true, RateBurst: 100, RatePerSec: 100})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t}
}

func (c *apiClient) do(method, path string, body []byte, headers map[string]string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (c *apiClient) login(body any) *http.Response {
	c.t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		c.t.Fatalf("marshal body: %v", err)
	}
	return c.do(http.MethodPost, "/v1/auth/login", payload, nil)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestLoginSuccess(t *testing.T) {
	svc := &fakeService{}
	c := newTestAPI(t, svc, ReadyProbe{})

	resp := c.login(map[string]string{"userName": "alice@acme.com", "password": "correct horse", "grantType": "password"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	for key, want := range map[string]any{
		"name": "Alice Doe", "token": goodToken, "refreshToken": "refresh",
		"roleId": float64(100), "roleName": "Admin", "clientId": float64(10), "clientName": "Acme",
	} {
		if body[key] != want {
			t.Fatalf("%s: expected %v, got %v", key, want, body[key])
		}
	}
	if svc.lastReq.UserName != "alice@acme.com" || svc.lastReq.GrantType != "password" {
		t.Fatalf("request not forwarded: %+v", svc.lastReq)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers")
	}
}

func TestLoginErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"validation", auth.ValidationError("unsupported grantType"), http.StatusBadRequest, "unsupported grantType"},
		{"authentication", auth.AuthenticationFailure(), http.StatusUnauthorized, "Invalid username or password."},
		{"authorization", fmt.Errorf("login failed at resolve: %w", auth.AuthorizationFailure()), http.StatusForbidden, "User role information is invalid."},
		{"configuration", auth.ConfigurationError("token signing key not configured"), http.StatusInternalServerError, "internal error"},
		{"unclassified", errDown, http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestAPI(t, &fakeService{loginErr: tc.err}, ReadyProbe{})
			resp := c.login(map[string]string{"userName": "a", "password": "b", "grantType": "password"})
			if resp.StatusCode != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, resp.StatusCode)
			}
			body := decodeBody(t, resp)
			if body["error"] != tc.message {
				t.Fatalf("unexpected message: %v", body["error"])
			}
			if body["request_id"] == nil || body["request_id"] == "" {
				t.Fatalf("expected request_id in error body")
			}
		})
	}
}

func TestLoginWrongPasswordSetsChallenge(t *testing.T) {
	c := newTestAPI(t, &fakeService{}, ReadyProbe{})
	resp := c.login(map[string]string{"userName": "alice@acme.com", "password": "nope", "grantType": "password"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
}

func TestLoginRejectsBadBodies(t *testing.T) {
	c := newTestAPI(t, &fakeService{}, ReadyProbe{})

	if resp := c.do(http.MethodPost, "/v1/auth/login", []byte("{not json"), nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", resp.StatusCode)
	}
	if resp := c.do(http.MethodPost, "/v1/auth/login", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", resp.StatusCode)
	}
	big := []byte(`{"userName":"` + strings.Repeat("a", 4096) + `"}`)
	if resp := c.do(http.MethodPost, "/v1/auth/login", big, nil); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
	resp := c.do(http.MethodGet, "/v1/auth/login", nil, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 with Allow header, got %d", resp.StatusCode)
	}
}

func TestMenuRequiresBearer(t *testing.T) {
	c := newTestAPI(t, &fakeService{}, ReadyProbe{})

	if resp := c.do(http.MethodGet, "/v1/navigation/menu", nil, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp := c.do(http.MethodGet, "/v1/navigation/menu", nil, map[string]string{"Authorization": "Bearer forged"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", resp.StatusCode)
	}
	if resp := c.do(http.MethodGet, "/v1/navigation/menu", nil, map[string]string{"Authorization": "Basic abc"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong scheme, got %d", resp.StatusCode)
	}
}

func TestMenuReturnsItems(t *testing.T) {
	c := newTestAPI(t, &fakeService{}, ReadyProbe{})
	resp := c.do(http.MethodGet, "/v1/navigation/menu", nil, map[string]string{"Authorization": "Bearer " + goodToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Items []auth.MenuEntry `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].Navigation.Name != "Dashboard" || body.Items[0].Parent != nil {
		t.Fatalf("unexpected menu: %+v", body.Items)
	}
}

func TestMenuAuthorizationFailure(t *testing.T) {
	c := newTestAPI(t, &fakeService{menuErr: auth.AuthorizationFailure()}, ReadyProbe{})
	resp := c.do(http.MethodGet, "/v1/navigation/menu", nil, map[string]string{"Authorization": "Bearer " + goodToken})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	c := newTestAPI(t, &fakeService{}, ReadyProbe{DB: fakePinger{}})
	if resp := c.do(http.MethodGet, "/healthz", nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	if resp := c.do(http.MethodGet, "/readyz", nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: %d", resp.StatusCode)
	}
	if resp := c.do(http.MethodGet, "/nope", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	down := newTestAPI(t, &fakeService{}, ReadyProbe{DB: fakePinger{err: errDown}})
	resp := down.do(http.MethodGet, "/readyz", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["status"] != "not_ready" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	c := newTestAPI(t, &fakeService{}, ReadyProbe{})
	_ = c.login(map[string]string{"userName": "alice@acme.com", "password": "correct horse", "grantType": "password"})
	resp := c.do(http.MethodGet, "/metrics", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}

func TestExtractBearerToken(t *testing.T) {
	if tok, err := extractBearerToken("bearer  abc "); err != nil || tok != "abc" {
		t.Fatalf("unexpected: %q %v", tok, err)
	}
	for _, h := range []string{"", "Bearer ", "Token abc"} {
		if _, err := extractBearerToken(h); err == nil {
			t.Fatalf("expected error for %q", h)
		}
	}
}

func TestStatusForKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{auth.ValidationError("bad"), http.StatusBadRequest},
		{auth.AuthenticationFailure(), http.StatusUnauthorized},
		{auth.TokenFailure(), http.StatusUnauthorized},
		{auth.AuthorizationFailure(), http.StatusForbidden},
		{auth.ConfigurationError("no key"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", auth.ErrNotFound), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
