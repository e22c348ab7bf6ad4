package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dougsko/audiohook/pkg/config"
	"github.com/dougsko/audiohook/pkg/engine"
	"github.com/dougsko/audiohook/pkg/logging"
	"github.com/dougsko/audiohook/pkg/verbose"
)

var (
	configPath = flag.String("config", "config.yaml", "Configuration file path (empty for defaults)")
	version    = flag.Bool("version", false, "Show version information")
)

const Build = "development"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("audiohookd version %s (%s)\n", engine.Version, Build)
		os.Exit(0)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.InitGlobalLogger(cfg); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()
	verbose.SetEnabled(cfg.Logging.Verbose)

	logging.Info("main", fmt.Sprintf("audiohookd version %s starting...", engine.Version))
	logging.Info("main", fmt.Sprintf("Backend: %s (hook enabled: %t)", cfg.BackendKind(), cfg.Hook.Enabled))
	logging.Info("main", fmt.Sprintf("Pro-audio driver: %s #%d", cfg.ProAudio.Driver, cfg.ProAudio.DriverIndex))
	logging.Info("main", fmt.Sprintf("Web interface: http://%s:%d", cfg.Web.BindAddress, cfg.Web.Port))

	daemon, err := NewAudiohookDaemon(cfg, engine.Options{})
	if err != nil {
		logging.Error("main", fmt.Sprintf("Failed to create daemon: %v", err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Error("main", fmt.Sprintf("Failed to start daemon: %v", err))
		daemon.Stop()
		os.Exit(1)
	}

	logging.Info("main", "audiohookd started successfully")

	<-sigChan
	logging.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Error("main", fmt.Sprintf("Error during shutdown: %v", err))
	}

	logging.Info("main", "audiohookd stopped")
}
