package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// NewAdminAuthMiddleware は管理者用エンドポイントをBearerトークンで保護するミドルウェアを返す。
// トークンは定数時間で比較する。不一致または未指定の場合は401を返す。
func NewAdminAuthMiddleware(adminToken string) func(next http.Handler) http.Handler {
	expected := []byte(adminToken)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			presented := []byte(strings.TrimSpace(header[len(bearerPrefix):]))
			if len(expected) == 0 || subtle.ConstantTimeCompare(presented, expected) != 1 {
				writeUnauthorized(w, r, "invalid bearer token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	slog.Warn("admin authentication failed",
		slog.String("reason", reason),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("path", loggedPath(r)),
	)
	w.Header().Set("WWW-Authenticate", `Bearer realm="examgate"`)
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "Authentication credentials were not provided or are invalid.")
}
