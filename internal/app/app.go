package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/moodbytes/internal/auth"
	"github.com/hitoshi/moodbytes/internal/config"
	"github.com/hitoshi/moodbytes/internal/database"
	"github.com/hitoshi/moodbytes/internal/discovery"
	"github.com/hitoshi/moodbytes/internal/handler"
	"github.com/hitoshi/moodbytes/internal/history"
	"github.com/hitoshi/moodbytes/internal/logger"
	"github.com/hitoshi/moodbytes/internal/metrics"
	"github.com/hitoshi/moodbytes/internal/middleware"
	"github.com/hitoshi/moodbytes/internal/notify"
	"github.com/hitoshi/moodbytes/internal/placesapi"
	"github.com/hitoshi/moodbytes/internal/profile"
	"github.com/hitoshi/moodbytes/internal/repository"
	"github.com/hitoshi/moodbytes/internal/security"
	"github.com/hitoshi/moodbytes/internal/session"
	"github.com/hitoshi/moodbytes/internal/user"
	"github.com/hitoshi/moodbytes/internal/worker/cleanup"
)

// dbPool はserve/workerで共通のコネクションプール設定。
var dbPool = database.PoolConfig{
	MaxOpenConns:    20,
	MaxIdleConns:    5,
	ConnMaxLifetime: 30 * time.Minute,
}

const (
	// principalIdleTTL はセッションごとのプリンシパルをメモリ・Redisに保持する期間。
	principalIdleTTL = 30 * time.Minute
	// searchTimeoutMargin は上流APIのタイムアウトに加える検索処理全体の猶予。
	searchTimeoutMargin = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数（と.env）からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}
	if cmd == CommandHelp {
		PrintUsage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return fmt.Errorf("unsupported command %q", cmd)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, dbPool)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newPrincipalCache はREDIS_URLが設定されていればRedis、なければメモリのキャッシュを返す。
// Redisに接続できない場合は起動を止めずにメモリキャッシュへ切り替える。
func newPrincipalCache(cfg *config.Config) (session.PrincipalCache, func()) {
	if cfg.RedisURL == "" {
		return session.NewMemoryPrincipalCache(principalIdleTTL), func() {}
	}

	client, err := session.NewRedisClient(cfg.RedisURL)
	if err != nil {
		slog.Warn("Redisの設定が不正なためメモリキャッシュを使用します", slog.String("error", err.Error()))
		return session.NewMemoryPrincipalCache(principalIdleTTL), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("Redisに接続できないためメモリキャッシュを使用します", slog.String("error", err.Error()))
		client.Close()
		return session.NewMemoryPrincipalCache(principalIdleTTL), func() {}
	}

	slog.Info("principal cache uses redis")
	return session.NewRedisPrincipalCache(client, principalIdleTTL), func() { client.Close() }
}

// newMetricsRegistry はアプリ用のPrometheusレジストリを生成する。
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクス
	reg := newMetricsRegistry()
	collector := metrics.NewCollector(reg)

	// 3. リポジトリの初期化
	profileRepo := repository.NewPostgresProfileRepo(db)
	historyRepo := repository.NewPostgresHistoryRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 4. 場所検索APIクライアント
	guard := security.NewOutboundGuard(cfg.PlacesAllowPrivate)
	if err := guard.ValidateEndpoint(cfg.PlacesAPIURL); err != nil {
		return fmt.Errorf("invalid PLACES_API_URL: %w", err)
	}
	placesClient := placesapi.NewClient(
		guard.NewClient(cfg.PlacesAPITimeout),
		slog.Default(),
		placesapi.Config{
			Endpoint:        cfg.PlacesAPIURL,
			Radius:          cfg.SearchRadiusMeters,
			DetailFields:    cfg.PlaceDetailsFields,
			MaxResponseSize: cfg.PlacesMaxResponseSize,
		},
	).WithMetrics(collector)

	// 5. ドメインサービスの初期化
	profileService := profile.NewService(profileRepo, historyRepo, collector, slog.Default(), cfg.PurgeMaxConcurrent)
	historyService := history.NewService(historyRepo, profileService, collector, slog.Default(), history.Options{
		DefaultLimit: cfg.HistoryDefaultLimit,
		MoodLimit:    cfg.HistoryMoodLimit,
	})
	broker := notify.NewBroker(slog.Default())
	orchestrator := discovery.NewOrchestrator(placesClient, historyService, broker, collector, slog.Default())

	// 6. セッションと認証
	cache, closeCache := newPrincipalCache(cfg)
	defer closeCache()

	coordinator := session.NewCoordinator(
		profileService, sessionRepo, identRepo, cache, slog.Default(),
		session.Config{IdleTTL: principalIdleTTL, PruneInterval: 5 * time.Minute},
	)
	defer coordinator.Stop()

	var oauthProvider auth.OAuthProvider
	if cfg.GoogleOAuthEnabled() {
		oauthProvider = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		})
	} else {
		slog.Info("google sign-in disabled: GOOGLE_* variables are not set")
	}
	authService := auth.NewService(
		oauthProvider, identRepo, sessionRepo, coordinator,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	userService := user.NewService(identRepo, sessionRepo, profileService, coordinator)

	// 7. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configはreq/min単位なのでreq/secに変換する
	rateLimiterCfg.GeneralRate, rateLimiterCfg.GeneralBurst = middleware.PerMinute(cfg.RateLimitGeneral)
	rateLimiterCfg.SearchRate, rateLimiterCfg.SearchBurst = middleware.PerMinute(cfg.RateLimitSearch)
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	searchTimeout := cfg.PlacesAPITimeout + searchTimeoutMargin

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),
		Authenticator:     coordinator,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		DiscoveryService: orchestrator,
		HistoryService:   historyService,
		ProfileService:   profileService,
		SearchTimeout:    searchTimeout,

		Events: broker,

		UserService: handler.NewUserServiceAdapter(userService),
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	// SSEはハンドラー側で書き込み期限を解除する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: searchTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. ジョブの初期化
	// workerはHTTPを公開しないため、メトリクスはプロセス内で集計のみ行う
	collector := metrics.NewCollector(prometheus.NewRegistry())
	sessionRepo := repository.NewPostgresSessionRepo(db)
	cleanupJob := cleanup.NewSessionCleanupJob(sessionRepo, collector, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	result, err := database.ApplyMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("from_version", uint64(result.From)),
		slog.Uint64("to_version", uint64(result.To)),
		slog.Bool("applied", result.Applied()),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
