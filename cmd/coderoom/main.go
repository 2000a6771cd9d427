package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"coderoom/internal/app"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeLocal  = "local"
)

func main() {
	_ = godotenv.Load()
	mode, args := parseMode(os.Args[1:])

	serverCfg, err := app.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "coderoom: %v\n", err)
		os.Exit(1)
	}
	clientCfg, err := app.LoadClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "coderoom: %v\n", err)
		os.Exit(1)
	}
	if mode == modeLocal && os.Getenv("CODEROOM_ADDR") == "" {
		serverCfg.Addr = "127.0.0.1:0"
	}

	flagSet := flag.NewFlagSet("coderoom", flag.ExitOnError)
	flagSet.StringVar(&serverCfg.Addr, "addr", serverCfg.Addr, "server listen address")
	flagSet.StringVar(&serverCfg.Path, "path", serverCfg.Path, "websocket path")
	flagSet.StringVar(&serverCfg.DBPath, "db", serverCfg.DBPath, "sqlite database path")
	flagSet.StringVar(&serverCfg.LogLevel, "log-level", serverCfg.LogLevel, "DEBUG, INFO, WARN or ERROR")
	flagSet.StringVar(&clientCfg.ServerURL, "server-url", clientCfg.ServerURL, "server websocket URL (client mode)")
	flagSet.StringVar(&clientCfg.Username, "user", clientCfg.Username, "default username for login prompts")
	quiet := flagSet.Bool("quiet", false, "only log errors")
	_ = flagSet.Parse(args)

	if remaining := flagSet.Args(); len(remaining) > 0 {
		clientCfg.RoomID = remaining[0]
	}
	serverCfg.Path = app.NormalizeWSPath(serverCfg.Path)

	level := strings.ToUpper(serverCfg.LogLevel)
	if *quiet || mode == modeLocal {
		// the TUI owns the terminal in local mode
		level = "ERROR"
	}
	logger := logs.GetLoggerFromString(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case modeServer:
		err = runServerMode(ctx, serverCfg, logger)
	case modeLocal:
		err = runLocalMode(ctx, serverCfg, clientCfg, logger)
	default:
		err = app.RunClient(clientCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "coderoom: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.ServerConfig, logger *slog.Logger) error {
	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return handle.Wait()
}

func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig, logger *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(serverCfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	handle, err := app.RunServer(ctx, serverCfg, logger)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}
	clientCfg.ServerURL = buildWebsocketURL(handle.Addr(), serverCfg.Path)

	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
