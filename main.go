package main

import (
	"context"
	"os/signal"
	"syscall"

	"walktrack/internal/shared/config"
	"walktrack/internal/shared/logger"
	trackingboot "walktrack/internal/tracking/bootstrap"

	flag "github.com/spf13/pflag"
)

func main() {
	svc := flag.String("service", "tracking", "service to run (tracking)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	switch *svc {
	case "tracking":
		log := logger.NewLogger("tracking-service")
		defer log.Close()

		cfg, err := config.Load()
		if err != nil {
			log.Fatal(logger.Entry{Action: "config_load_failed", Message: err.Error()})
		}
		if err := trackingboot.Run(ctx, cfg, log); err != nil {
			log.Fatal(logger.Entry{
				Action:  "tracking_service_failed",
				Message: err.Error(),
				Error:   &logger.ErrObj{Msg: err.Error()},
			})
		}

	default:
		log := logger.NewLogger("bootstrap")
		log.Fatal(logger.Entry{Action: "invalid_service", Message: *svc})
	}
}
