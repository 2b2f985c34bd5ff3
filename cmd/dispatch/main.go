package main

import (
	"context"
	"flag"
	"os"

	"github.com/feastlane/dispatch-system/config"
	"github.com/feastlane/dispatch-system/internal/app"
	"github.com/feastlane/dispatch-system/pkg/logger"
)

var (
	helpFlag   = flag.Bool("help", false, "Show help message")
	configPath = flag.String("config-path", "config.yaml", "Path to the config yaml file")
)

func main() {
	flag.Parse()
	if *helpFlag {
		config.PrintHelp()
		return
	}

	ctx := context.Background()
	log := logger.InitLogger("", logger.LevelDebug)

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		log.Error(ctx, "failed to configure application", err)
		config.PrintHelp()
		os.Exit(1)
	}

	config.PrintConfig(cfg)

	logLevel := cfg.Logging.Level
	if !logger.ValidateLogLevel(logLevel) {
		logLevel = logger.LevelInfo
	}
	log = logger.InitLogger(string(cfg.Mode), logLevel)

	application, err := app.NewApplication(ctx, *cfg, log)
	if err != nil {
		log.Error(ctx, "failed to init application", err)
		os.Exit(1)
	}

	if err = application.Run(ctx); err != nil {
		log.Error(ctx, "failed to run application", err)
		os.Exit(1)
	}
}
