package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/mind-engage/mindengage-exams/internal/api/http"
	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/config"
	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/scheduler"
	storage "github.com/mind-engage/mindengage-exams/internal/storage"
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
	"github.com/mind-engage/mindengage-exams/internal/users"
)

func main() {
	cfg := config.Load()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	defer dbh.Close()

	userStore := users.NewStore(dbh)
	if created, err := userStore.EnsureAdmin(ctx, cfg.AdminUser, cfg.AdminPassHash); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	} else if created {
		log.Printf("created bootstrap admin %q", cfg.AdminUser)
	}

	events := syncx.NewEventRepo(dbh, cfg.SiteID)
	svc := exam.NewService(exam.NewSQLStore(dbh), exam.WithEvents(events))

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	// --- Sweep ---
	sched := scheduler.New(svc, cfg.SweepInterval)
	if cfg.SweepInterval > 0 {
		if err := sched.Start(cfg.SweepOnStart); err != nil {
			log.Fatalf("sweep scheduler: %v", err)
		}
	}

	h := api.NewRouter(api.Deps{
		DB:                dbh,
		Exams:             svc,
		Users:             userStore,
		Auth:              auth.NewAuthService(cfg.AuthHMACSecret),
		Blobs:             bs,
		Sweeps:            sched,
		Origins:           cfg.CORSOrigins(),
		EnableLocalAuth:   cfg.EnableLocalAuth,
		ClaimRoleFallback: cfg.ClaimRoleFallback,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Printf("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	sched.Stop()
	shutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdown); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
