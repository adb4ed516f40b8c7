package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nyaruka/eventsink"
	"github.com/nyaruka/eventsink/runtime"
)

var version = "Dev"

func main() {
	config := runtime.LoadConfig("eventsink.toml")

	if version != "Dev" {
		config.Version = version
	}

	flush, err := runtime.ConfigureLogging(config, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	defer flush()

	logger := slog.With("comp", "main")
	logger.Info("starting eventsink server", "version", version)

	ctx := context.Background()

	rt, err := runtime.NewRuntime(ctx, config)
	if err != nil {
		logger.Error("error creating runtime", "error", err)
		os.Exit(1)
	}
	rt.Start(ctx)
	defer rt.Stop()

	server := eventsink.NewServer(rt, eventsink.NewPipeline(rt))
	server.Start()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("stopping", "signal", <-ch)

	server.Stop()
}
