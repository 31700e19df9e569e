package main

import (
	"log"

	"github.com/learnhub-io/identity/internal/bootstrap"
	"github.com/learnhub-io/identity/internal/config"
)

func main() {
	cfg := config.Load()

	if err := bootstrap.Run(cfg); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
}
