package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"go.skia.org/cif/go/cif/disaggregation"
	"go.skia.org/cif/go/cif/ingestion"
	"go.skia.org/cif/go/cif/sub"
	"go.skia.org/cif/go/cif/types"
	"go.skia.org/cif/go/sklog"
)

// ingestionCmd runs one full ingestion cycle for a single source.
var ingestionCmd = &cobra.Command{
	Use:   "ingestion <source_id>",
	Short: "Run one ingestion cycle for a source.",
	Long: `Run one ingestion cycle for a source.

Stages the source's current listing, promotes a new generation if anything
changed, and disaggregates the new artifacts according to the source's
configured mode. Exits non-zero if any step fails.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID := args[0]
		if err := types.ValidateID(sourceID); err != nil {
			return err
		}
		ctx := context.Background()
		c, err := newClients(ctx)
		if err != nil {
			return err
		}
		defer c.spanner.Close()
		topic, err := sub.NewTopic(ctx, c.pubsub, c.cfg.WorkTopicID, c.cfg.WorkTopicKMSKeyName)
		if err != nil {
			return err
		}
		defer topic.Stop()
		if err := ingestion.Ingest(ctx, c.cat, c.fact, disaggregation.NewTopicPublisher(topic), sourceID); err != nil {
			return err
		}
		sklog.Flush()
		return nil
	},
}

func ingestionInit() {
	rootCmd.AddCommand(ingestionCmd)
}
