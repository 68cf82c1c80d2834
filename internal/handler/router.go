package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/examgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	TrustedProxies    []netip.Prefix
	RateLimiter       *middleware.RateLimiter
	AdminToken        string
	StatusRecorder    middleware.StatusRecorder

	// トークン
	TokenService TokenServiceInterface
	Sanitizer    TextSanitizer

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → TrustedRealIP → Recovery → Logging → Metrics → SecurityHeaders → CORS
//
// 発行エンドポイントはさらに AdminRateLimit → AdminAuth、
// 入室エンドポイントは AccessRateLimit を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.NewTrustedRealIPMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "NOT_FOUND", "The requested resource was not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "The requested method is not allowed.")
	})

	tokenHandler := NewTokenHandler(deps.TokenService, deps.Sanitizer, logger)

	// --- 運用 ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/exams", func(r chi.Router) {
		// 管理者: トークン発行
		r.With(
			deps.RateLimiter.AdminMiddleware(),
			middleware.NewAdminAuthMiddleware(deps.AdminToken),
		).Post("/{examID}/tokens", tokenHandler.IssueToken)

		// 公開: 入室
		r.With(deps.RateLimiter.AccessMiddleware()).Get("/access/{token}", tokenHandler.AccessExam)
	})

	return r
}
