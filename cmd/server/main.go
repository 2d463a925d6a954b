package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"SignalServe/internal/di"
	"SignalServe/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config path] [<host> <port>]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := applyArgs(cfg, flag.Args()); err != nil {
		flag.Usage()
		log.Fatalf("arguments: %v", err)
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run application (blocks until signal)
	if err := app.Run(context.Background()); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}

// applyArgs lets positional host and port override the configured address.
func applyArgs(cfg *config.Config, args []string) error {
	switch len(args) {
	case 0:
		return nil
	case 2:
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("port %q: %w", args[1], err)
		}
		cfg.Server.Host = args[0]
		cfg.Server.Port = port
		return cfg.Validate()
	default:
		return fmt.Errorf("expected <host> <port>, got %d arguments", len(args))
	}
}
