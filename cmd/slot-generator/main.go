package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/seturahealth/vaccine-slot-booking/internal/config"
	"github.com/seturahealth/vaccine-slot-booking/internal/db"
	"github.com/seturahealth/vaccine-slot-booking/internal/slotgen"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("slot-generator starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running slot generator in env=%s interval=%s horizon=%dd",
		cfg.Env, cfg.WorkerInterval, cfg.UpcomingDays)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	store := slotgen.NewPgStore(pgPool)
	gen := slotgen.NewGenerator(store, cfg.UpcomingDays, cfg.CenterBatchSize, cfg.Timezone)

	// Run once at startup so a fresh deploy has sheets immediately
	runOnce(rootCtx, gen)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping slot generator")
			return
		case <-ticker.C:
			runOnce(rootCtx, gen)
		}
	}
}

func runOnce(ctx context.Context, gen *slotgen.Generator) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	start := time.Now()
	if err := gen.Run(runCtx); err != nil {
		log.Printf("generation run error: %v", err)
		return
	}
	log.Printf("generation run complete in %s", time.Since(start))
}
