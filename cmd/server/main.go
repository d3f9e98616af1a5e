// Package main is the entry point for the RonDB demo coordinator.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mronstro/rondb-tools/internal/config"
	"github.com/mronstro/rondb-tools/internal/database"
	"github.com/mronstro/rondb-tools/internal/eventlog"
	"github.com/mronstro/rondb-tools/internal/handler"
	"github.com/mronstro/rondb-tools/internal/middleware"
	"github.com/mronstro/rondb-tools/internal/nginx"
	"github.com/mronstro/rondb-tools/internal/service"
	"github.com/mronstro/rondb-tools/internal/store"
	"github.com/mronstro/rondb-tools/internal/supervisor"
)

func main() {
	// Setup structured logger for operational output. Domain events go to
	// the durable event log instead.
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting demo coordinator",
		slog.String("listen_addr", cfg.ListenAddr),
		slog.String("mysql_host", cfg.MySQLHost),
	)

	for _, dir := range []string{cfg.DurableDir, cfg.LoadgenLogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	elog, err := eventlog.New(cfg.EventLogPath())
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}
	defer elog.Close()

	st, err := store.New(cfg.StateFilePath())
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}

	// The pool is lazy: MySQL being briefly down at boot only affects
	// readiness, not startup.
	db, err := database.New(cfg.MySQLDSN())
	if err != nil {
		log.Fatalf("Failed to open MySQL pool: %v", err)
	}
	defer db.Close()

	sup := supervisor.New(elog)
	proxy := nginx.NewWriter(nginx.Config{
		FragmentPath:  cfg.NginxDynamicConfPath(),
		MainConfPath:  cfg.NginxMainConfPath(),
		ErrorLogPath:  cfg.NginxErrorLog,
		Binary:        cfg.NginxBin,
		ClusterSecret: cfg.GUISecret,
	}, st)

	svc := service.New(cfg, st, db, sup, proxy, elog)

	elog.Info("Starting server")
	if err := svc.Reconcile(context.Background()); err != nil {
		log.Fatalf("Failed to restore state: %v", err)
	}

	stop := make(chan struct{})
	maintenanceDone := make(chan struct{})
	go func() {
		defer close(maintenanceDone)
		svc.RunMaintenance(stop)
	}()

	middleware.RegisterSessionGauges(svc.Counts)

	h := handler.New(svc, cfg.StaticDir, elog, db)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	if cfg.CORSAllowedOrigins != "" {
		r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(middleware.Metrics())
	r.Mount("/", h.Routes(middleware.EnsureAuthCookie(svc)))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	}

	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	elog.Info("Entering event loop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	elog.Info("Shutting down server")
	logger.Info("Shutting down server", slog.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	// In-flight provisioning jobs are abandoned at exit; the next boot's
	// state restore repairs any half-done transition they leave behind.
	close(stop)
	<-maintenanceDone

	elog.Info("Shutdown complete")
}
