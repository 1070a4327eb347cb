// Package ingestion drives one full ingestion cycle for a source: intake
// followed, when a generation was created, by disaggregation.
package ingestion

import (
	"context"

	"go.skia.org/cif/go/cif/catalog"
	"go.skia.org/cif/go/cif/disaggregation"
	"go.skia.org/cif/go/cif/factory"
	"go.skia.org/cif/go/cif/intake"
	"go.skia.org/cif/go/metrics2"
	"go.skia.org/cif/go/sklog"
)

// Ingest runs one ingestion cycle for the given source. A cycle that detects
// no changes ends after intake; otherwise the new generation is
// disaggregated according to the source's mode. bus may be nil for sources
// that do not defer work.
func Ingest(ctx context.Context, cat catalog.Catalog, fact *factory.Factory, bus disaggregation.Publisher, sourceID string) error {
	defer metrics2.NewTimer("cif_ingestion", map[string]string{"source": sourceID}).Stop()
	source, err := cat.Source(ctx, sourceID)
	if err != nil {
		return err
	}
	conn, err := fact.Connector(source)
	if err != nil {
		return err
	}
	sklog.Infof("Starting ingestion for source %s", sourceID)
	defer sklog.Infof("Ingestion for source %s finished", sourceID)
	res, err := intake.New(cat, conn).Run(ctx, source)
	if err != nil {
		return err
	}
	if res.Generation == nil {
		return nil
	}
	_, err = disaggregation.New(cat, bus, fact).Disaggregate(ctx, source, res.Generation)
	return err
}
