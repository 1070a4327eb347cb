// Package cmd implements the cifserver subcommands.
package cmd

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/spanner"
	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"go.skia.org/cif/go/cif/catalog"
	"go.skia.org/cif/go/cif/config"
	"go.skia.org/cif/go/cif/factory"
)

// Version is the build version reported by the check subcommand and the
// frontend health check. Overridden at build time via -ldflags.
var Version = "development"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cifserver",
	Short: "The main CIF application.",
	Long: `The main CIF application.

The different parts of CIF are run as sub-commands, for example to run one
ingestion cycle for a source:

	cifserver ingestion 0123456789abcdef0123456789abcdef

`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	initSubCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initSubCommands() {
	checkInit()
	ingestionInit()
	workerInit()
	frontendInit()
}

// clients bundles everything a subcommand needs to reach the catalog and the
// external services the deployment's sources are configured for.
type clients struct {
	cfg     config.InstanceConfig
	spanner *spanner.Client
	pubsub  *pubsub.Client
	cat     catalog.Catalog
	fact    *factory.Factory
}

// newClients connects to Spanner, Pub/Sub, GCS and BigQuery per the
// environment configuration.
func newClients(ctx context.Context) (*clients, error) {
	cfg := config.New()
	sc, err := spanner.NewClient(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to Spanner database %s", cfg.DatabasePath())
	}
	pc, err := pubsub.NewClient(ctx, cfg.WorkTopicProjectID)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to Pub/Sub in project %s", cfg.WorkTopicProjectID)
	}
	gcs, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to GCS")
	}
	bq, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to BigQuery in project %s", cfg.ProjectID)
	}
	return &clients{
		cfg:     cfg,
		spanner: sc,
		pubsub:  pc,
		cat:     catalog.New(sc),
		fact:    factory.New(gcs, bq),
	}, nil
}
