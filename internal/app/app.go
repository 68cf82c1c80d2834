package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hitoshi/examgate/internal/clock"
	"github.com/hitoshi/examgate/internal/config"
	"github.com/hitoshi/examgate/internal/database"
	"github.com/hitoshi/examgate/internal/examtoken"
	"github.com/hitoshi/examgate/internal/handler"
	"github.com/hitoshi/examgate/internal/logger"
	"github.com/hitoshi/examgate/internal/metrics"
	"github.com/hitoshi/examgate/internal/middleware"
	"github.com/hitoshi/examgate/internal/notify"
	"github.com/hitoshi/examgate/internal/repository"
	"github.com/hitoshi/examgate/internal/security"
	"github.com/hitoshi/examgate/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envを読み込む（既存の環境変数は上書きしない）
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたレベルでロガーを差し替える
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINT/SIGTERMで停止する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, w, args)
}

// RunContext はctxの終了で停止するRun。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(ctx, port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("notify_driver", cfg.NotifyDriver),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return runMigrate(cfg, rest)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// newRegistry はアプリケーションのメトリクスとGo/プロセスのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーと通知ワーカーを起動する。
// ctxが終了するとHTTPサーバー、通知ディスパッチャーの順にグレースフルシャットダウンする。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	examRepo := repository.NewPostgresExamRepo(db, cfg.StoreTimeout)
	studentRepo := repository.NewPostgresStudentRepo(db, cfg.StoreTimeout)
	tokenRepo := repository.NewPostgresAccessTokenRepo(db, cfg.StoreTimeout)

	// 3. メトリクス
	reg, collector := newRegistry()

	// 4. 通知ディスパッチャー
	sender, err := buildSender(cfg, slog.Default())
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(sender, slog.Default(), notify.Config{
		BaseURL:     cfg.BaseURL,
		Workers:     cfg.NotifyWorkers,
		QueueSize:   cfg.NotifyQueueSize,
		MaxAttempts: cfg.NotifyMaxAttempts,
		SendTimeout: cfg.NotifySendTimeout,
	}, notify.WithRecorder(collector))

	// 5. ドメインサービス
	tokenService := examtoken.NewService(
		examRepo, studentRepo, tokenRepo, dispatcher, clock.NewSystem(),
		examtoken.WithRecorder(collector),
	)

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitAccess, cfg.RateLimitAdmin))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustedProxies:    cfg.TrustedProxies,
		RateLimiter:       rateLimiter,
		AdminToken:        cfg.AdminAPIToken,
		StatusRecorder:    collector,
		TokenService:      tokenService,
		Sanitizer:         security.NewDisplaySanitizer(),
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	dispatcher.Start(context.WithoutCancel(ctx))

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var listenErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down API server...")
	case listenErr = <-serveErr:
		slog.Error("server listen error", slog.String("error", listenErr.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	// 発行済みトークンの通知をできるだけ配送してから終了する
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		slog.Warn("notification dispatcher did not drain", slog.String("error", err.Error()))
	}

	if listenErr != nil {
		return fmt.Errorf("server listen failed: %w", listenErr)
	}
	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 保持期間を過ぎたトークンのクリーンアップを定期実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	tokenRepo := repository.NewPostgresAccessTokenRepo(db, cfg.StoreTimeout)
	_, collector := newRegistry()

	job := cleanup.NewCleanupJob(tokenRepo, clock.NewSystem(), slog.Default(), collector)
	job.RetentionDays = cfg.TokenRetentionDays

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", cfg.TokenRetentionDays),
	)

	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 操作は up（既定）、down [steps]、version。
func runMigrate(cfg *config.Config, args []string) error {
	action, ok := ParseMigrateAction(args)
	if !ok {
		return fmt.Errorf("unknown migrate action %q (want up, down or version)", args[0])
	}

	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid rollback steps %q: %w", args[1], err)
			}
			steps = n
		}
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", steps))
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("database migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	return checkHealth(ctx, &http.Client{Timeout: 5 * time.Second}, fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(ctx context.Context, client *http.Client, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
