package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/librarian/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Authenticator     middleware.Authenticator
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	Metrics           middleware.HTTPRecorder // nilの場合は計測しない
	MetricsHandler    http.Handler            // nilの場合は /metrics を公開しない
	HealthChecker     HealthChecker

	Pagination PaginationConfig
	Now        func() time.Time

	AuthService      AuthServiceInterface
	BookService      BookServiceInterface
	BorrowingService BorrowingServiceInterface
	UserService      UserServiceInterface
	DashboardService DashboardServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → CORS → Auth → RateLimit(General)
//
// sign_up / sign_in は認証の外に置き、IP単位のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pagination := deps.Pagination
	if pagination.DefaultPerPage <= 0 {
		pagination = DefaultPaginationConfig()
	}
	rl := deps.RateLimiter
	if rl == nil {
		rl = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	bookHandler := NewBookHandler(deps.BookService, pagination)
	borrowingHandler := NewBorrowingHandler(deps.BorrowingService, pagination, deps.Now)
	userHandler := NewUserHandler(deps.UserService, pagination)
	dashboardHandler := NewDashboardHandler(deps.DashboardService)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		r.Route("/auth", func(r chi.Router) {
			r.With(rl.AuthMiddleware()).Post("/sign_up", authHandler.SignUp)
			r.With(rl.AuthMiddleware()).Post("/sign_in", authHandler.SignIn)
			r.Delete("/sign_out", authHandler.SignOut)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
			r.Use(rl.GeneralMiddleware())

			r.Route("/books", func(r chi.Router) {
				r.Get("/", bookHandler.ListBooks)
				r.Post("/", bookHandler.CreateBook)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", bookHandler.GetBook)
					r.Patch("/", bookHandler.UpdateBook)
					r.Put("/", bookHandler.UpdateBook)
					r.Delete("/", bookHandler.DeleteBook)
				})
			})

			r.Route("/borrowings", func(r chi.Router) {
				r.Get("/", borrowingHandler.ListBorrowings)
				r.Post("/", borrowingHandler.CreateBorrowing)
				r.Get("/overdue", borrowingHandler.OverdueBorrowings)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", borrowingHandler.GetBorrowing)
					r.Patch("/", borrowingHandler.UpdateBorrowing)
					r.Put("/", borrowingHandler.UpdateBorrowing)
					r.Delete("/", borrowingHandler.DeleteBorrowing)
				})
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/", userHandler.ListUsers)
				r.Get("/me", userHandler.Me)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", userHandler.GetUser)
					r.Patch("/", userHandler.UpdateUser)
					r.Put("/", userHandler.UpdateUser)
					r.Delete("/", userHandler.DeleteUser)
				})
			})

			r.Get("/dashboard", dashboardHandler.GetDashboard)
		})
	})

	return r
}
