package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/nyaruka/eventsink"
	"github.com/nyaruka/eventsink/runtime"
)

var version = "Dev"

func main() {
	config := runtime.LoadConfig("eventsink.toml")

	// if we have a custom version, use it
	if version != "Dev" {
		config.Version = version
	}

	flush, err := runtime.ConfigureLogging(config, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	defer flush()

	logger := slog.With("comp", "main")
	logger.Info("starting eventsink", "version", version)

	ctx := context.Background()

	// the runtime lives for as long as the Lambda environment stays warm
	rt, err := runtime.NewRuntime(ctx, config)
	if err != nil {
		logger.Error("error creating runtime", "error", err)
		os.Exit(1)
	}
	rt.Start(ctx)

	lambda.Start(eventsink.NewPipeline(rt).Handle)
}
