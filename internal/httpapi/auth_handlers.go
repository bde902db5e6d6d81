package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"auditgrid.org/internal/audit"
	"auditgrid.org/internal/auth"
	"auditgrid.org/internal/obs"
)

type loginRequest struct {
	UserName  string `json:"userName"`
	Password  string `json:"password"`
	GrantType string `json:"grantType"`
}

type menuResponse struct {
	Items []auth.MenuEntry `json:"items"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		writeError(w, r, code, err.Error())
		return
	}

	res, err := a.svc.Login(r.Context(), auth.LoginRequest{
		UserName:  req.UserName,
		Password:  req.Password,
		GrantType: req.GrantType,
	})
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			obs.Logger().Error("login error",
				zap.String("request_id", audit.RequestIDFromContext(r.Context())), zap.Error(err))
		}
		_ = audit.LogEvent(r.Context(), "auth.login.failed",
			zap.String("kind", string(auth.KindOf(err))), zap.Int("status", code))
		if code == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", `Bearer realm="auditgrid"`)
		}
		writeError(w, r, code, auth.PublicMessage(err))
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login.succeeded",
		zap.Int64("role_id", res.RoleID), zap.Int64("client_id", res.ClientID))
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleMenu(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	items, err := a.svc.Menu(r.Context(), claims)
	if err != nil {
		writeError(w, r, statusFor(err), auth.PublicMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, menuResponse{Items: items})
}
