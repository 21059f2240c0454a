package main

import (
	"context"

	"orderdash/internal/config"
	"orderdash/internal/db"
	"orderdash/internal/etl"
	"orderdash/internal/orders"
	"orderdash/internal/shopify"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func main() {
	ctx := context.Background()
	logger := config.GetLogger()

	cfg, err := config.LoadExport()
	if err != nil {
		logger.WithError(err).Fatal("load export config")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.WithError(err).Fatal("load aws config")
	}
	ddb, err := db.NewDynamoClient(ctx, "")
	if err != nil {
		logger.WithError(err).Fatal("dynamodb client")
	}

	job := &etl.OrderMetricsETL{
		// Listing shops needs no token decryption.
		Shops:    shopify.NewIntegrationStore(ddb, cfg.IntegrationsTable, nil),
		Orders:   orders.NewService(orders.NewDynamoStore(ddb, cfg.OrdersTable)),
		S3:       s3.NewFromConfig(awsCfg),
		Bucket:   cfg.Bucket,
		Prefix:   cfg.Prefix,
		DaysBack: cfg.DaysBack,
		Log:      logger,
	}
	if cfg.AthenaEnabled() {
		job.Repair = &etl.PartitionRepairer{
			Athena:    athena.NewFromConfig(awsCfg),
			Database:  cfg.AthenaDatabase,
			Table:     cfg.AthenaTable,
			Workgroup: cfg.AthenaWorkgroup,
			Output:    cfg.AthenaOutput,
			Log:       logger,
		}
	}

	lambda.Start(func(ctx context.Context, _ events.CloudWatchEvent) (etl.ExportResult, error) {
		return job.Run(ctx)
	})
}
