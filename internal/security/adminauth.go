package security

import (
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/rs/zerolog"

	"github.com/noah-isme/mwire-gateway/internal/common"
)

// AdminKey verifies an administrator secret against either a plaintext key or
// an argon2id hash. The hash wins when both are configured.
type AdminKey struct {
	Plain string
	Hash  string
}

// Configured reports whether any admin secret is set.
func (k AdminKey) Configured() bool {
	return strings.TrimSpace(k.Plain) != "" || strings.TrimSpace(k.Hash) != ""
}

// Verify reports whether candidate matches the configured secret.
func (k AdminKey) Verify(candidate string) bool {
	if candidate == "" {
		return false
	}
	if hash := strings.TrimSpace(k.Hash); hash != "" {
		ok, err := argon2id.ComparePasswordAndHash(candidate, hash)
		return err == nil && ok
	}
	return common.SecureEqual(candidate, k.Plain)
}

// AdminAuth guards operator endpoints with HTTP basic auth: the username is
// the merchant id and the password the admin key.
type AdminAuth struct {
	Username string
	Key      AdminKey
	Realm    string
	Logger   zerolog.Logger
}

// Middleware rejects requests without valid admin credentials.
func (a AdminAuth) Middleware(next http.Handler) http.Handler {
	realm := a.Realm
	if realm == "" {
		realm = "mwire-admin"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Key.Configured() || a.Username == "" {
			common.JSONError(w, http.StatusServiceUnavailable, "ADMIN_DISABLED", "admin access is not configured", nil)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !common.SecureEqual(user, a.Username) || !a.Key.Verify(pass) {
			a.Logger.Warn().Str("client_ip", common.ClientIP(r)).Str("path", r.URL.Path).Msg("admin_auth_failed")
			w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`", charset="UTF-8"`)
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "admin credentials required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
