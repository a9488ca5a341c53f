package main

import (
	"context"
	"log"
	"os"

	"github.com/klinio/consilium/internal/app"
	"github.com/klinio/consilium/internal/config"
)

func main() {
	cfg := config.Load(os.Getenv("CONSILIUM_CONFIG"))

	a, err := app.New(context.Background(), cfg, app.Deps{})
	if err != nil {
		log.Fatalf("consiliumd: %v", err)
	}

	log.Fatal(a.RunWithSignal())
}
