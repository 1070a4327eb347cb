package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"go.skia.org/cif/go/cif/sub"
	"go.skia.org/cif/go/cif/worker"
	"go.skia.org/cif/go/cleanup"
	"go.skia.org/cif/go/metrics2"
	"go.skia.org/cif/go/sklog"
)

var workerFlags struct {
	maxMessages int
	promPort    string
}

// workerCmd subscribes to the work topic and processes deferred
// disaggregation messages until the process receives SIGTERM.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process deferred disaggregation work.",
	Long: `Process deferred disaggregation work.

Subscribes to the work topic and runs each message's extraction, recording a
DONE or FAILED status per message. On SIGTERM the subscription stops and
in-flight messages are allowed to complete.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		c, err := newClients(ctx)
		if err != nil {
			return err
		}
		defer c.spanner.Close()
		metrics2.InitForServing(workerFlags.promPort)
		s, err := sub.NewSubscription(ctx, c.pubsub, c.cfg.WorkTopicID, c.cfg.WorkTopicSubscriptionID, c.cfg.WorkTopicKMSKeyName)
		if err != nil {
			return err
		}
		cleanup.AtExit(func() {
			// Receive returns after in-flight handlers complete.
			cancel()
		})
		r := worker.NewReceiver(s, worker.New(c.cat, c.fact), workerFlags.maxMessages)
		if err := r.Receive(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		sklog.Flush()
		return nil
	},
}

func workerInit() {
	workerCmd.Flags().IntVar(&workerFlags.maxMessages, "max-messages", 1, "Maximum number of messages processed concurrently.")
	workerCmd.Flags().StringVar(&workerFlags.promPort, "prom-port", ":20000", "Metrics service address (e.g., ':20000')")
	rootCmd.AddCommand(workerCmd)
}
