package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camrec/api"
	"camrec/config"
	"camrec/cron"
	"camrec/database"
	"camrec/metrics"
	"camrec/monitoring"
	"camrec/recording"
	"camrec/storage"
	"camrec/streaming"

	"golang.org/x/sync/errgroup"
)

const (
	monitorInterval     = 5 * time.Minute
	healthSchedule      = "*/30 * * * * *"
	httpShutdownTimeout = 5 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	if err := config.EnsurePaths(cfg); err != nil {
		log.Fatalf("❌ %v", err)
	}

	// Initialize database
	db, err := database.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize SQLite database:", err)
	}
	defer db.Close()

	// Segments left open by a crash are closed without size
	if n, err := db.CloseDanglingSegments(time.Now()); err != nil {
		log.Printf("⚠️ Failed to close dangling segments: %v", err)
	} else if n > 0 {
		log.Printf("⚠️ Marked %d segments from a previous run as closed", n)
	}

	catalog := database.NewCatalogObserver(db)
	catalog.Start()
	defer catalog.Stop()

	rec := metrics.NewRecorder()
	hub := streaming.NewHub()
	observers := []recording.Observer{catalog, rec}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Archive.Enabled {
		r2Storage, err := storage.NewR2Storage(storage.R2Config{
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			AccountID: cfg.Archive.AccountID,
			Bucket:    cfg.Archive.Bucket,
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
		})
		if err != nil {
			log.Fatal("Failed to initialize R2 storage:", err)
		}
		archiver := storage.NewArchiver(r2Storage, cfg.Archive.Prefix, func(res storage.ArchiveResult) {
			rec.ObserveArchive(res.Err)
			if res.Err == nil {
				catalog.RecordArchive(res.Segment.Path, res.URL)
			}
		})
		// uploads get their own context so queued segments still go out on shutdown
		archiver.Start(context.Background())
		defer archiver.Stop()
		observers = append(observers, archiver)
	}

	supervisor := recording.NewSupervisor(cfg, recording.Options{
		NewSource: streaming.RTSPSourceFactory(cfg.StallTimeout),
		Live:      hub,
		Observers: observers,
		DiskUsage: monitoring.DiskUsage,
		StatePath: cfg.StatePath(),
	})

	reaper := &cron.Reaper{
		Dir:       cfg.OutputDir,
		Retention: cfg.Retention(),
		Registry:  supervisor.Registry(),
		OnDelete: func(f cron.FileInfo) {
			catalog.RecordDeletion(f.Path, time.Now())
		},
	}
	retention := cron.NewRetentionCron(reaper, cfg.ReaperSchedule, rec.ObserveReaper)
	if err := retention.Start(); err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer retention.Stop()

	if err := supervisor.StartAll(ctx); err != nil {
		log.Fatalf("❌ Failed to start recordings: %v", err)
	}

	health := cron.NewHealthCheckCron(supervisor.StatusSnapshot, healthSchedule, 3*cfg.StallTimeout)
	if err := health.Start(); err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer health.Stop()

	server := api.NewServer(cfg, api.Deps{
		Recorder: supervisor,
		Hub:      hub,
		DB:       db,
		Metrics:  rec.Handler(),
	})
	monitor := &monitoring.Monitor{Dir: cfg.OutputDir, Interval: monitorInterval, OnDisk: rec.ObserveDisk}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			log.Println("🔄 Shutting down...")
		case <-supervisor.Done():
			log.Println("🔄 System stop requested")
		}
		if err := supervisor.StopSystem(); err != nil {
			log.Printf("⚠️ %v", err)
		}
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer done()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("❌ %v", err)
	}
	log.Println("✅ Recorder stopped")
}
