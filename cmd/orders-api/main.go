package main

import (
	"context"

	"orderdash/internal/app"
	"orderdash/internal/config"
	"orderdash/internal/metrics"

	"github.com/aws/aws-lambda-go/lambda"
)

func main() {
	logger := config.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}
	config.SetLogLevel(cfg.LogLevel)
	metrics.Register()

	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("wire orderdash")
	}
	defer a.Close()

	lambda.Start(a.Router.Handle)
}
