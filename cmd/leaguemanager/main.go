package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"league-platform/internal/config"
	"league-platform/internal/events"
	"league-platform/internal/manager"
	"league-platform/internal/models"
	"league-platform/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var store storage.Store
	gormStore, err := storage.NewGorm(cfg.DBConfig)
	if err != nil {
		log.Printf("[MANAGER] database unavailable (%v), running in-memory", err)
		store = storage.NewMemory()
	} else {
		store = gormStore
	}

	hub := events.NewHub()
	sink := events.Multi{&events.LogSink{Tag: "MANAGER"}, hub}

	mgr := manager.New(manager.Config{
		LeagueID:       cfg.LeagueID,
		GameType:       cfg.GameType,
		BestOfK:        cfg.BestOfK,
		MinPlayers:     cfg.MinPlayers,
		Points:         cfg.Points,
		MoveDeadline:   cfg.MoveDeadline,
		AuthTokenBytes: cfg.AuthTokenBytes,
	}, store, sink)

	mgr.Server().Engine().GET("/ws", hub.HandleWS)

	go func() {
		log.Printf("League manager %s starting on :%s", cfg.LeagueID, cfg.ServerPort)
		if err := mgr.Server().Run(":" + cfg.ServerPort); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	if cfg.AutoRun {
		go autoRun(mgr, cfg.MinPlayers)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.Server().Shutdown(ctx)
}

// autoRun starts the league once enough players have registered and a
// settle window has passed without new registrations.
func autoRun(mgr *manager.Manager, minPlayers int) {
	const settle = 5 * time.Second

	var lastCount int
	var stableSince time.Time

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if mgr.State() != models.LeagueRegistration {
			return
		}
		count := mgr.PlayerCount()
		if count != lastCount {
			lastCount = count
			stableSince = time.Now()
			continue
		}
		if count >= minPlayers && mgr.RefereeCount() > 0 && time.Since(stableSince) >= settle {
			break
		}
	}

	if err := mgr.StartLeague(); err != nil {
		log.Printf("[MANAGER] auto-start failed: %v", err)
		return
	}
	if err := mgr.RunAllRounds(context.Background()); err != nil {
		log.Printf("[MANAGER] league run failed: %v", err)
	}
}
