package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/lox/wandibirds/internal/api"
	"github.com/lox/wandibirds/internal/ingest"
)

var cli struct {
	Port     string `default:"8080" help:"HTTP server port."`
	EbirdKey string `env:"EBIRD_API_KEY" help:"eBird API key. Bird observations are disabled when unset."`
}

func main() {
	// Optional .env for local dev; real deployments set the environment.
	godotenv.Load()

	kong.Parse(&cli,
		kong.Name("wandibirds"),
		kong.Description("Bird observation and activity dashboard API."),
	)

	if cli.EbirdKey == "" {
		log.Println("EBIRD_API_KEY not set, bird observations disabled")
	}

	ebird := ingest.NewEBird(cli.EbirdKey)
	server := api.NewServer(ebird, cli.Port, clockwork.NewRealClock())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Printf("starting server on :%s", cli.Port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
}
