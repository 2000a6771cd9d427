package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"coderoom/internal/app"
)

func main() {
	_ = godotenv.Load()
	cfg, err := app.LoadServerConfig()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "server listen address")
	flag.StringVar(&cfg.Path, "path", cfg.Path, "websocket path")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "DEBUG, INFO, WARN or ERROR")
	flag.BoolVar(&cfg.StrictRooms, "strict-rooms", cfg.StrictRooms, "only allow joining rooms created through the API")
	flag.Parse()

	logger := logs.GetLoggerFromString(strings.ToUpper(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("Server start", "error", err)
		os.Exit(1)
	}
	if err := handle.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
