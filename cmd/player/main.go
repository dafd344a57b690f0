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
	"league-platform/internal/player"
	"league-platform/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = "player-" + cfg.ServerPort
	}

	strat, err := strategy.New(cfg.StrategyName)
	if err != nil {
		log.Fatalf("Unknown strategy %q: %v", cfg.StrategyName, err)
	}

	agent := player.New(displayName, cfg.ContactEndpoint, cfg.LeagueID, cfg.ManagerEndpoint,
		[]string{cfg.GameType}, strat, &events.LogSink{Tag: "PLAYER"})

	go func() {
		log.Printf("Player %s starting on :%s", displayName, cfg.ServerPort)
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
