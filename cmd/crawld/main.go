package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"skrapp/internal/config"
	server "skrapp/internal/http"
	"skrapp/internal/migrate"
	"skrapp/internal/store"
	"skrapp/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|all")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// Create a shared *sql.DB with pooling for the Store
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *role {
	case "api":
		s := server.NewServer(cfg, st, logger)
		go func() {
			<-rootCtx.Done()
			s.Shutdown()
		}()
		if err := s.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case "worker":
		worker.New(cfg, st, logger).Run(rootCtx)
	case "all":
		w := worker.New(cfg, st, logger)
		workerDone := make(chan struct{})
		go func() {
			defer close(workerDone)
			w.Run(rootCtx)
		}()

		s := server.NewServer(cfg, st, logger)
		go func() {
			<-rootCtx.Done()
			s.Shutdown()
		}()
		if err := s.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
		<-workerDone
	default:
		log.Fatalf("invalid role: %s (expected api|worker|all)", *role)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
