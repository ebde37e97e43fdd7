// Command sweep runs the expiry sweep once and exits, for cron or manual use.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/config"
	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "abort the sweep after this long")
	flag.Parse()

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	defer dbh.Close()

	svc := exam.NewService(exam.NewSQLStore(dbh), exam.WithEvents(syncx.NewEventRepo(dbh, cfg.SiteID)))
	n, err := svc.SweepExpired(ctx)
	log.Printf("sweep closed %d attempts", n)
	if err != nil {
		log.Printf("sweep errors: %v", err)
		dbh.Close()
		os.Exit(1)
	}
}
