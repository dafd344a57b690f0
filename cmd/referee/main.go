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
	"league-platform/internal/referee"
	"league-platform/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = "referee-" + cfg.ServerPort
	}

	var outbox storage.Outbox
	if cfg.RedisAddr != "" {
		outbox = storage.NewRedisOutbox(cfg.RedisAddr)
	} else {
		outbox = storage.NewMemoryOutbox()
	}

	agent := referee.New(referee.Config{
		DisplayName:          displayName,
		ContactEndpoint:      cfg.ContactEndpoint,
		LeagueID:             cfg.LeagueID,
		ManagerEndpoint:      cfg.ManagerEndpoint,
		SupportedGameTypes:   []string{cfg.GameType},
		MaxConcurrentMatches: cfg.MaxConcurrentMatches,
		MoveDeadline:         cfg.MoveDeadline,
	}, outbox, &events.LogSink{Tag: "REFEREE"})

	go func() {
		log.Printf("Referee %s starting on :%s", displayName, cfg.ServerPort)
		if err := agent.Server().Run(":" + cfg.ServerPort); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	registerCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := agent.Register(registerCtx); err != nil {
		cancel()
		log.Fatalf("Failed to register with league manager: %v", err)
	}
	cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	agent.Server().Shutdown(ctx)
}
