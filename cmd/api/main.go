package main

import (
	"context"
	"log"
	"os"

	"github.com/vadim/dealroom/internal/app"
	"github.com/vadim/dealroom/internal/config"
)

func main() {
	// Load configuration, from a YAML file when CONFIG_PATH is set
	cfg := config.MustLoad()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		fileCfg, err := config.LoadFromFile(path)
		if err != nil {
			log.Fatalf("failed to load config file: %v", err)
		}
		cfg = fileCfg
	}

	// Create root context
	ctx := context.Background()

	// Initialize application
	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	// Run application (blocks until shutdown)
	if err := application.Run(ctx); err != nil {
		log.Printf("application error: %v", err)
		os.Exit(1)
	}
}
