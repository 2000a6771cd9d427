package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"coderoom/internal/app"
)

func main() {
	_ = godotenv.Load()
	cfg, err := app.LoadClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "WebSocket URL (e.g., ws://localhost:8080/ws)")
	flag.StringVar(&cfg.Username, "user", cfg.Username, "default username for login prompts")
	flag.Parse()

	if args := flag.Args(); len(args) >= 1 {
		cfg.RoomID = args[0]
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
