// Package app はプロセスの起動とコンポーネントの組み立てを行う。
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

	"github.com/hitoshi/librarian/internal/auth"
	"github.com/hitoshi/librarian/internal/borrowing"
	"github.com/hitoshi/librarian/internal/catalog"
	"github.com/hitoshi/librarian/internal/config"
	"github.com/hitoshi/librarian/internal/dashboard"
	"github.com/hitoshi/librarian/internal/database"
	"github.com/hitoshi/librarian/internal/handler"
	"github.com/hitoshi/librarian/internal/logger"
	"github.com/hitoshi/librarian/internal/metrics"
	"github.com/hitoshi/librarian/internal/middleware"
	"github.com/hitoshi/librarian/internal/repository"
	"github.com/hitoshi/librarian/internal/repository/memory"
	"github.com/hitoshi/librarian/internal/security"
	"github.com/hitoshi/librarian/internal/user"
	"github.com/hitoshi/librarian/internal/worker/cleanup"
)

// dbPingTimeout は起動時のデータベース疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// stores はストアドライバーに応じたリポジトリの組。
type stores struct {
	db         *sql.DB // memoryドライバーの場合はnil
	users      repository.UserRepository
	sessions   repository.SessionRepository
	purger     cleanup.SessionPurger
	books      repository.BookRepository
	borrowings repository.BorrowingRepository
	locker     repository.BookLocker
	dashboard  repository.DashboardRepository
}

// healthChecker はDB接続がある場合のみ疎通確認を返す。
func (s *stores) healthChecker() handler.HealthChecker {
	if s.db == nil {
		return nil
	}
	return s.db
}

// Close はDB接続を閉じる。
func (s *stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// openStores は cfg.StoreDriver に従ってリポジトリを組み立てる。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		slog.Warn("using in-memory store; data is lost on restart")
		store := memory.NewStore(cfg.LockTimeout)
		return &stores{
			users:      store.Users(),
			sessions:   store.Sessions(),
			purger:     store.Sessions(),
			books:      store.Books(),
			borrowings: store.Borrowings(),
			locker:     store.Locker(),
			dashboard:  store.Dashboard(),
		}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	sessions := repository.NewPostgresSessionRepo(db)
	return &stores{
		db:         db,
		users:      repository.NewPostgresUserRepo(db),
		sessions:   sessions,
		purger:     sessions,
		books:      repository.NewPostgresBookRepo(db),
		borrowings: repository.NewPostgresBorrowingRepo(db),
		locker:     repository.NewPostgresBookLocker(db, cfg.LockTimeout),
		dashboard:  repository.NewPostgresDashboardRepo(db),
	}, nil
}

// services はドメインサービスの組。
type services struct {
	auth      *auth.Service
	catalog   *catalog.Service
	ledger    *borrowing.Service
	users     *user.Service
	dashboard *dashboard.Service
}

func newServices(cfg *config.Config, st *stores, collector metrics.MetricsCollector) *services {
	authService := auth.NewService(st.users, st.sessions, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		BcryptCost:    cfg.BcryptCost,
	})
	ledger := borrowing.NewService(st.books, st.borrowings, st.locker, collector, borrowing.Config{
		LoanPeriod: cfg.LoanPeriod,
	})
	return &services{
		auth:      authService,
		catalog:   catalog.NewService(st.books, st.locker, security.NewTextSanitizer(), collector, catalog.Config{}),
		ledger:    ledger,
		users:     user.NewService(st.users, st.sessions, ledger, authService.Hasher(), nil),
		dashboard: dashboard.NewService(st.dashboard, st.borrowings, dashboard.Config{DueSoonWindow: cfg.DueSoonWindow}),
	}
}

// newRegistry はプロセスとGoランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newAPIHandler はAPIサーバーのルーターを組み立てる。返す関数でレートリミッターを停止する。
func newAPIHandler(cfg *config.Config, st *stores, reg *prometheus.Registry) (http.Handler, *services, func()) {
	collector := metrics.NewCollector(reg)
	svc := newServices(cfg, st, collector)
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Authenticator:     svc.auth,
		RateLimiter:       rl,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     st.healthChecker(),
		Pagination: handler.PaginationConfig{
			DefaultPerPage: cfg.DefaultPerPage,
			MaxPerPage:     cfg.MaxPerPage,
		},
		AuthService:      svc.auth,
		BookService:      svc.catalog,
		BorrowingService: svc.ledger,
		UserService:      svc.users,
		DashboardService: svc.dashboard,
	})
	return router, svc, rl.Stop
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctx がキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := newRegistry()
	router, _, stopLimiter := newAPIHandler(cfg, st, reg)
	defer stopLimiter()

	// インメモリストアはworkerと共有できないため、期限切れセッションの削除を同じプロセスで行う
	if st.db == nil {
		job := cleanup.NewCleanupJob(st.purger, nil, slog.Default())
		go job.Start(ctx, cfg.SessionCleanupInterval)
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serveUntilDone(ctx, server, "API server")
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの定期削除と、ワーカー用メトリクスの公開を行う。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreDriver == config.StoreDriverMemory {
		return fmt.Errorf("worker requires STORE_DRIVER=%s", config.StoreDriverPostgres)
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := newRegistry()
	collector := metrics.NewCollector(reg)
	job := cleanup.NewCleanupJob(st.purger, collector, slog.Default())

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	jobDone := make(chan struct{})
	go func() {
		defer close(jobDone)
		job.Start(jobCtx, cfg.SessionCleanupInterval)
	}()

	err = serveUntilDone(ctx, metricsServer, "worker metrics server")
	cancelJob()
	<-jobDone
	slog.Info("worker stopped gracefully")
	return err
}

// serveUntilDone はサーバーを起動し、ctx がキャンセルされるとシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}
	slog.Info(name + " stopped gracefully")
	return nil
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// runMigrate はデータベースマイグレーションを実行する。
// steps が0の場合はすべての未適用マイグレーションを適用する。負の場合は -steps 件戻す。
func runMigrate(cfg *config.Config, steps int) error {
	if cfg.StoreDriver == config.StoreDriverMemory {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.StoreDriverPostgres)
	}
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("steps", steps),
	)

	var err error
	if steps < 0 {
		err = database.MigrateDown(cfg.DatabaseURL, -steps)
	} else {
		err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
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
