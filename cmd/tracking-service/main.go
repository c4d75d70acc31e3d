package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"walktrack/internal/shared/config"
	"walktrack/internal/shared/logger"
	"walktrack/internal/tracking/bootstrap"

	flag "github.com/spf13/pflag"
)

func main() {
	configDir := flag.String("config-dir", "", "directory with *.yaml config files (overrides CONFIG_DIR)")
	logLevel := flag.String("log-level", "", "DEBUG|INFO|WARN|ERROR (overrides LOG_LEVEL)")
	logDir := flag.String("log-dir", "", "also append log lines to <log-dir>/tracking-service.log")
	storage := flag.String("storage", "", "postgres|memory (overrides config)")
	flag.Parse()

	level := *logLevel
	if level == "" {
		level = getenvDefault("LOG_LEVEL", "INFO")
	}
	log, err := logger.NewLoggerWithOptions("tracking-service", level, *logDir)
	if err != nil {
		logger.NewLogger("tracking-service").Fatal(logger.Entry{Action: "logger_init_failed", Message: err.Error()})
	}
	defer log.Close()

	var cfg config.Config
	if *configDir != "" {
		cfg, err = config.LoadDir(*configDir)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatal(logger.Entry{Action: "config_load_failed", Message: err.Error()})
	}
	if *storage != "" {
		cfg.Database.Driver = *storage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := bootstrap.Run(ctx, cfg, log); err != nil {
		log.Fatal(logger.Entry{
			Action:  "tracking_service_failed",
			Message: err.Error(),
			Error:   &logger.ErrObj{Msg: err.Error()},
		})
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
