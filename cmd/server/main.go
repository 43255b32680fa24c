package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"channeld/internal/api"
	"channeld/internal/bumper"
	"channeld/internal/concat"
	"channeld/internal/config"
	"channeld/internal/epg"
	"channeld/internal/logger"
	"channeld/internal/playlist"
	"channeld/internal/presence"
	"channeld/internal/repository"
	"channeld/internal/runtime"
	"channeld/internal/timeline"
)

func main() {
	// 1. Parse command-line arguments
	listenAddr := flag.String("l", ":8080", "HTTP listen address")
	logLevel := flag.String("L", "info", "Log level (error, warn, info, debug)")
	configFile := flag.String("c", "", "Path to the application config file (optional)")
	dbPath := flag.String("db", "channeld.sqlite", "Path to the SQLite database file")
	lineupFile := flag.String("lineup", "", "Path to a seed lineup JSON file, loaded once if the database is empty")
	flag.Parse()

	// 2. Initialize logger
	log := logger.NewLogger(*logLevel)
	log.Infof("Starting channel orchestrator...")
	log.Infof("Log level set to: %s", *logLevel)

	// 3. Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	log.Infof("Configuration loaded: server=%s maxConcurrentStreams=%d", cfg.ServerURL, cfg.MaxConcurrentStreams)

	// 4. Open the persistence layer and optionally seed it
	repo, err := repository.Open(*dbPath)
	if err != nil {
		log.Errorf("Failed to open repository: %v", err)
		os.Exit(1)
	}

	if *lineupFile != "" {
		if existing, err := repo.AllChannels(); err == nil && len(existing) == 0 {
			if err := config.LoadLineup(*lineupFile, repo); err != nil {
				log.Errorf("Failed to load lineup %s: %v", *lineupFile, err)
				os.Exit(1)
			}
			log.Infof("Lineup loaded from %s", *lineupFile)
		}
	}

	// 5. Initialize the runtime's collaborators
	resolver := playlist.New(repo)
	clock := timeline.New(repo)
	epgGen := epg.New(resolver, clock)

	manager := runtime.NewManager(runtime.Deps{
		Log:       log,
		Store:     repo,
		Sessions:  repo,
		Resolver:  resolver,
		Clock:     clock,
		ConcatMgr: concat.New(),
		BumperGen: bumper.New(log),
		EPGGen:    epgGen,
	}, presence.Options{
		IdleTimeout:   cfg.ViewerSessionIdleTimeout,
		GracePeriod:   cfg.ViewerDisconnectGracePeriod,
		SweepInterval: 10 * time.Second,
	})

	manager.Start()
	if err := manager.Recover(context.Background()); err != nil {
		log.Errorf("Startup recovery failed: %v", err)
	}

	// 6. Set up API router with dependencies
	router := api.New(repo, manager, epgGen)

	// 7. Set up and run the HTTP server with graceful shutdown
	server := &http.Server{
		Addr:    *listenAddr,
		Handler: router,
	}

	go func() {
		log.Infof("Server starting on %s", *listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Could not listen on %s: %v\n", *listenAddr, err)
			os.Exit(1)
		}
	}()

	// Listen for shutdown signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Infof("Server is shutting down...")

	// Create a context with a timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	manager.Stop()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
		os.Exit(1)
	}

	log.Infof("Server exited gracefully")
}
