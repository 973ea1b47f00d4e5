package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/shiplog/shiplog/log"
	"github.com/shiplog/shiplog/pipeline"
)

func main() {
	// optional .env for local runs; real deployments set the
	// environment directly
	godotenv.Load()

	cmd := &cli.Command{
		Name:  "shiplog",
		Usage: "ship github actions workflow logs to a splunk http event collector",
		Commands: []*cli.Command{
			pipeline.ShipCommand(),
			pipeline.BatchCommand(),
		},
	}

	ctx := context.Background()
	logger := log.New("shiplog")
	ctx = log.IntoContext(ctx, logger)

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}
