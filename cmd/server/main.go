package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"neuralviz/internal/dataset"
	"neuralviz/internal/realtime"
	"neuralviz/internal/trainer"
)

// Config holds server configuration, loaded from environment variables.
type Config struct {
	Port        int
	StaticDir   string
	DataDir     string
	ReportEvery int
}

func loadConfig() Config {
	cfg := Config{
		Port:        5000,
		StaticDir:   "./frontend/dist",
		DataDir:     "./data",
		ReportEvery: 10,
	}

	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("REPORT_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReportEvery = n
		}
	}

	return cfg
}

func main() {
	cfg := loadConfig()

	store := dataset.NewStore(cfg.DataDir)
	hub := trainer.NewHub()
	mgr := trainer.NewManager(store, hub, cfg.ReportEvery)

	// Initialize the dataset watcher (callback is wired after the realtime
	// server exists).
	var rtServer *realtime.Server
	watcher := dataset.NewWatcher(store, func(available []string) {
		if rtServer != nil {
			rtServer.OnDatasetsUpdate(available)
		}
	})
	if err := watcher.Start(); err != nil {
		log.Printf("dataset watcher disabled: %v", err)
	}

	rtServer = realtime.New(mgr, store, cfg.StaticDir)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: rtServer.Handler(),
	}

	// Graceful shutdown on signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down...")
		watcher.Shutdown()
		mgr.Shutdown()
		httpServer.Close()
	}()

	log.Printf("NeuralViz backend running on http://localhost:%d", cfg.Port)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}
