// attentiond watches a user's attention through a capture client and walks
// an escalation ladder when focus lapses.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-attention/internal/config"
	"github.com/teslashibe/go-attention/internal/log"
	"github.com/teslashibe/go-attention/pkg/web"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Config file (overrides CONFIG_PATH)")
	port := flag.String("port", "", "HTTP port (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	autostart := flag.Bool("autostart", false, "Start a session immediately")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("CONFIG_PATH", *configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	log.Init(cfg.LogLevel)
	web.Version = version

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, cfg)
	if err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer app.Shutdown()

	if *autostart {
		if _, err := app.monitor.StartSession(ctx); err != nil {
			log.Error("autostart failed", "error", err)
		}
	}

	if err := app.Run(ctx); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
