package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-data/spatial.report/internal/api"
	"github.com/banshee-data/spatial.report/internal/arframe"
	"github.com/banshee-data/spatial.report/internal/arframe/monitor"
	"github.com/banshee-data/spatial.report/internal/config"
	"github.com/banshee-data/spatial.report/internal/framedb"
	"github.com/banshee-data/spatial.report/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbFile        = flag.String("db", "frame_log.db", "Frame log database path (empty disables the log)")
	migrationsDir = flag.String("migrations", "migrations", "Migrations directory")
	settingsFile  = flag.String("settings", "", "Optional settings JSON file")
	simMode       = flag.Bool("sim", false, "Feed the capture service from the synthetic AR platform")
	simStart      = flag.Bool("sim-start", true, "In sim mode, start capture immediately")
)

func main() {
	flag.Parse()
	log.Printf("spatial.report %s", version.String())

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("loading .env: %v", err)
	}

	settings := config.EmptySettings()
	if *settingsFile != "" {
		loaded, err := config.LoadSettings(*settingsFile)
		if err != nil {
			log.Fatalf("settings: %v", err)
		}
		settings.Merge(loaded)
	}
	if err := settings.ApplyEnv(); err != nil {
		log.Fatalf("settings: %v", err)
	}
	if settings.ListenAddr != nil {
		*listen = *settings.ListenAddr
	}
	if settings.DBPath != nil {
		*dbFile = *settings.DBPath
	}

	var db *framedb.DB
	var runLog *framedb.RunLogger
	if *dbFile != "" {
		var err error
		db, err = framedb.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("frame log: %v", err)
		}
		defer db.Close()
		if err := db.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("frame log migrations: %v", err)
		}
		runLog = framedb.NewRunLogger(db)
	}

	hub := api.NewEventHub()

	var session arframe.Session
	var platform *arframe.SyntheticPlatform
	if *simMode {
		platform = arframe.NewSyntheticPlatform()
		session = platform
	}

	svcConfig := arframe.CaptureServiceConfig{
		Session: session,
		OnFrame: hub.Publish,
	}
	if runLog != nil {
		svcConfig.FrameLog = runLog
	}
	if settings.RingCapacity != nil {
		svcConfig.RingCapacity = *settings.RingCapacity
	}
	if settings.EventBuffer != nil {
		svcConfig.EventBuffer = *settings.EventBuffer
	}
	svc := arframe.NewFrameCaptureService(svcConfig)
	defer svc.Close()

	if *simMode && *simStart {
		captureConfig := settings.CaptureConfig()
		applied := svc.Start(captureConfig)
		if runLog != nil {
			runLog.BeginRun(applied)
		}
	}

	server := api.NewServer(svc, db, runLog, hub)
	mux := server.ServeMux()
	if db != nil {
		monitor.NewWebServer(db).Register(mux)
	}

	stop := make(chan struct{})
	if *simMode {
		go pumpSyntheticFrames(platform, svc, stop)
	}

	httpServer := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}

	go func() {
		log.Printf("listening on %s", *listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	close(stop)
	if runLog != nil {
		runLog.EndRun()
	}

	// Let in-flight requests finish; open SSE streams hold their handlers,
	// so force-close whatever remains after the grace period.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
		httpServer.Close()
	}
}

// pumpSyntheticFrames drives the capture service at a render-loop cadence
// from the synthetic platform. Rate limiting happens inside the service;
// this loop just plays the role of the AR render callback.
func pumpSyntheticFrames(platform *arframe.SyntheticPlatform, svc *arframe.FrameCaptureService, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) * platform.FrameInterval))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			svc.OnARFrame(platform.NextFrame())
		}
	}
}
