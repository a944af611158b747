package httpapi

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"idcheck.org/internal/audit"
	"idcheck.org/internal/auth"
)

const (
	defaultTokenTTL = 15 * time.Minute
	maxTokenTTL     = time.Hour

	bootstrapHeader = "X-Bootstrap-Secret"
)

type tokenRequest struct {
	User       string   `json:"user"`
	Roles      []string `json:"roles"`
	TTLSeconds int      `json:"ttl_seconds"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken issues short-lived tokens for operators holding the
// bootstrap secret. The route is only mounted when one is configured.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	given := r.Header.Get(bootstrapHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(a.bootstrapSecret)) != 1 {
		_ = audit.LogEvent(r.Context(), audit.EventTokenDenied, map[string]any{
			"remote_ip": clientIP(r),
			"missing":   given == "",
		})
		unauthorized(w, r, "invalid bootstrap secret")
		return
	}

	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	var roles []string
	for _, role := range req.Roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if !auth.KnownRole(role) {
			writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown role %q", role))
			return
		}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		writeError(w, r, http.StatusBadRequest, "roles are required")
		return
	}

	ttl := defaultTokenTTL
	if req.TTLSeconds != 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
		if ttl < time.Minute || ttl > maxTokenTTL {
			writeError(w, r, http.StatusBadRequest, "ttl_seconds must be between 60 and 3600")
			return
		}
	}

	token, expiresAt, err := a.issuer.GenerateToken(user, roles, ttl)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventTokenIssued, map[string]any{
		"user":       user,
		"roles":      roles,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}
