package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	api "github.com/mind-engage/mindengage-training/internal/api/http"
	"github.com/mind-engage/mindengage-training/internal/assessment"
	"github.com/mind-engage/mindengage-training/internal/attempt"
	"github.com/mind-engage/mindengage-training/internal/audit"
	auth "github.com/mind-engage/mindengage-training/internal/auth/middleware"
	"github.com/mind-engage/mindengage-training/internal/config"
	"github.com/mind-engage/mindengage-training/internal/db"
	"github.com/mind-engage/mindengage-training/internal/grading"
	"github.com/mind-engage/mindengage-training/internal/rbac"
	"github.com/mind-engage/mindengage-training/internal/storage"
)

func main() {
	cfg := config.FromEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		return err
	}
	defer dbh.Close()

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		return err
	}

	// --- Services ---
	sink := audit.NewAsyncSink(audit.NewEventRepo(dbh, cfg.SiteID), cfg.AuditBuffer, logger)
	dir := rbac.NewSQLDirectory(dbh)
	users := auth.NewUserStore(dbh)
	structures := assessment.NewService(assessment.NewSQLStore(dbh), dir,
		assessment.WithAudit(sink), assessment.WithLogger(logger))
	attempts := attempt.NewService(attempt.NewSQLStore(dbh), structures,
		attempt.WithEngine(grading.NewEngine(grading.WithPassThreshold(cfg.PassThreshold))),
		attempt.WithBlobs(bs),
		attempt.WithAudit(sink),
		attempt.WithLogger(logger),
	)

	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		if _, err := users.Upsert(ctx, cfg.AdminUsername, rbac.RoleAdmin, cfg.AdminPassword); err != nil {
			return err
		}
		logger.Info("admin account seeded", "username", cfg.AdminUsername)
	}

	// --- Auth (local JWT) ---
	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Local login (enabled in offline mode by default; can be disabled via env)
	if cfg.EnableLocalAuth {
		r.Post("/auth/login", auth.LoginHandler(authSvc, users))
	}

	// Protected API (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Use(auth.AttachRole(dir, cfg.ClaimRoleFallback))
		api.Mount(pr, api.Deps{Structures: structures, Attempts: attempts, Users: users, Blobs: bs})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sink.Run(gctx) })
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.HTTPAddr, "mode", cfg.Mode, "db", cfg.DBDriver)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
