package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"go.skia.org/cif/go/cif/frontend"
	"go.skia.org/cif/go/cleanup"
	"go.skia.org/cif/go/httputils"
	"go.skia.org/cif/go/metrics2"
	"go.skia.org/cif/go/sklog"
)

var frontendFlags struct {
	port     string
	promPort string
}

// frontendCmd serves the CIF HTTP API.
var frontendCmd = &cobra.Command{
	Use:   "frontend",
	Short: "Serve the CIF HTTP API.",
	Long: `Serve the CIF HTTP API.

The read path serves sources, generations, artifacts and fragment search; the
admin path queries deferred disaggregation work. Metrics are served on a
separate port.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := newClients(ctx)
		if err != nil {
			return err
		}
		defer c.spanner.Close()
		metrics2.InitForServing(frontendFlags.promPort)

		router := chi.NewRouter()
		frontend.New(c.cat, c.fact, Version).RegisterHandlers(router)
		server := &http.Server{
			Addr:    frontendFlags.port,
			Handler: httputils.LoggingRequestResponse(router),
		}
		cleanup.AtExit(func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(sctx); err != nil {
				sklog.Errorf("Failed to shut down server: %s", err)
			}
		})
		sklog.Infof("Serving on %s", frontendFlags.port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func frontendInit() {
	frontendCmd.Flags().StringVar(&frontendFlags.port, "port", ":8000", "HTTP service address (e.g., ':8000')")
	frontendCmd.Flags().StringVar(&frontendFlags.promPort, "prom-port", ":20000", "Metrics service address (e.g., ':20000')")
	rootCmd.AddCommand(frontendCmd)
}
