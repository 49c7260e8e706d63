package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/moodbytes/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ミドルウェア依存
	Authenticator     middleware.PrincipalAuthenticator
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 検索・履歴・プロフィール
	DiscoveryService DiscoveryServiceInterface
	HistoryService   HistoryServiceInterface
	ProfileService   ProfileServiceInterface
	SearchTimeout    time.Duration

	// 通知
	Events            EventSubscriber
	HeartbeatInterval time.Duration

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → (/api) CSRF → Session → RateLimit(General)
//
// 認証ルート（/auth/*）はCSRFとセッションのチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{HSTS: deps.AuthConfig.CookieSecure}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	searchHandler := NewSearchHandler(deps.DiscoveryService, deps.SearchTimeout)
	historyHandler := NewHistoryHandler(deps.HistoryService, deps.DiscoveryService)
	profileHandler := NewProfileHandler(deps.ProfileService, deps.DiscoveryService)
	eventsHandler := NewEventsHandler(deps.Events, deps.HeartbeatInterval)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)

	sessionMW := middleware.NewSessionMiddleware(deps.Authenticator)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証ルート ---
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.SignUp)
		r.Post("/login", authHandler.SignIn)
		r.Get("/google/login", authHandler.GoogleLogin)
		r.Get("/google/callback", authHandler.GoogleCallback)
		r.Post("/logout", authHandler.Logout)
		r.With(sessionMW).Get("/me", authHandler.Me)
	})

	// --- APIルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		// 認証不要
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
		r.Get("/moods", searchHandler.ListMoods)

		// 認証が必要なルート
		// ミドルウェアスタック: Session → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(sessionMW)
			r.Use(deps.RateLimiter.GeneralMiddleware())

			// POST /api/search - 上流APIを呼ぶため検索専用レート制限を追加
			r.With(deps.RateLimiter.SearchMiddleware()).Post("/search", searchHandler.Search)
			r.Get("/places/{id}", searchHandler.PlaceDetails)

			r.Route("/history", func(r chi.Router) {
				r.Get("/", historyHandler.ListHistory)
				r.Delete("/{id}", historyHandler.DeleteHistory)
			})

			r.Get("/profile", profileHandler.GetProfile)
			r.Get("/events", eventsHandler.Stream)
			r.Delete("/users/me", userHandler.Withdraw)
		})
	})

	return r
}
