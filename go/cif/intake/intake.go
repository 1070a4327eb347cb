// Package intake stages the current listing of a source and promotes it into
// a new generation when the listing differs from the latest one.
package intake

import (
	"context"
	"time"

	"go.skia.org/cif/go/cif/catalog"
	"go.skia.org/cif/go/cif/connector"
	"go.skia.org/cif/go/cif/types"
	"go.skia.org/cif/go/metrics2"
	"go.skia.org/cif/go/now"
	"go.skia.org/cif/go/sklog"
)

// BatchSize is how many rows are staged per batch, and therefore how many
// stage rows each promotion transaction reads. Spanner caps transactions at
// 80,000 mutations and promoting one stage row costs 13, so batches are
// sized to floor(80,000 / 13). Revisit if the artifact or generation schema
// grows columns or indexes.
const BatchSize = 6153

// Result reports what one intake run did.
type Result struct {
	// Staged is the number of listing rows written to the stage.
	Staged int64

	// InsertedUpdated and Deleted are the change counts against the previous
	// latest generation. Both are zero when this run created the source's
	// first generation.
	InsertedUpdated int64
	Deleted         int64

	// Promoted sums the promotion counters over all batches.
	Promoted catalog.PromoteCounts

	// Generation is the newly created generation, or nil when the listing
	// was empty or unchanged.
	Generation *types.Generation
}

// Intake drives staging and promotion for sources read through one
// connector.
type Intake struct {
	cat  catalog.Catalog
	conn connector.Connector
}

// New returns an Intake using the given catalog and connector. The connector
// must be the one configured on the sources passed to Run.
func New(cat catalog.Catalog, conn connector.Connector) *Intake {
	return &Intake{cat: cat, conn: conn}
}

// Run stages the connector's current listing for source and, when it differs
// from the latest generation, promotes it into a new generation.
func (in *Intake) Run(ctx context.Context, source *types.Source) (Result, error) {
	defer metrics2.NewTimer("cif_intake", map[string]string{"source": source.SourceID}).Stop()
	stageID := types.NewID()
	createdOn := now.Now(ctx).UTC().Truncate(time.Microsecond)

	ret, numBatches, err := in.stage(ctx, source, stageID, createdOn)
	if err != nil {
		return Result{}, err
	}
	if ret.Staged == 0 {
		sklog.Infof("No data staged for source %s", source.SourceID)
		return ret, nil
	}

	latest, err := in.cat.LatestGeneration(ctx, source.SourceID)
	switch {
	case types.IsNotFound(err):
		sklog.Infof("No previous generation for source %s", source.SourceID)
	case err != nil:
		return Result{}, err
	default:
		ret.InsertedUpdated, err = in.cat.CountInsertedUpdated(ctx, stageID, source.SourceID, latest.GenerationID)
		if err != nil {
			return Result{}, err
		}
		ret.Deleted, err = in.cat.CountDeleted(ctx, stageID, source.SourceID, latest.GenerationID)
		if err != nil {
			return Result{}, err
		}
		if ret.InsertedUpdated == 0 && ret.Deleted == 0 {
			sklog.Infof("No changes detected between generation %d of source %s and stage %s", latest.GenerationID, source.SourceID, stageID)
			return ret, nil
		}
		sklog.Infof("Changes detected between generation %d of source %s and stage %s: +%d, -%d artifacts", latest.GenerationID, source.SourceID, stageID, ret.InsertedUpdated, ret.Deleted)
	}

	sklog.Infof("Will create new generation for source %s from stage %s", source.SourceID, stageID)
	for batchID := int64(0); batchID < numBatches; batchID++ {
		counts, err := in.cat.Promote(ctx, stageID, batchID, source.SourceID)
		if err != nil {
			return Result{}, err
		}
		ret.Promoted.Add(counts)
	}
	generation, err := in.cat.LatestGeneration(ctx, source.SourceID)
	if err != nil {
		return Result{}, err
	}
	ret.Generation = generation
	sklog.Infof("Created new generation %d for source %s from stage %s with %d artifacts", generation.GenerationID, source.SourceID, stageID, ret.Promoted.Total)
	return ret, nil
}

// stage writes the connector's listing into the stage in BatchSize batches
// and returns the number of batches written.
func (in *Intake) stage(ctx context.Context, source *types.Source, stageID string, createdOn time.Time) (Result, int64, error) {
	sklog.Infof("Starting stage %s for source %s", stageID, source.SourceID)
	var ret Result
	var batchID int64
	batch := make([]*types.StageRow, 0, BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := in.cat.InsertStageRows(ctx, batch); err != nil {
			return err
		}
		ret.Staged += int64(len(batch))
		batchID++
		batch = make([]*types.StageRow, 0, BatchSize)
		return nil
	}
	err := in.conn.ListArtifacts(ctx, func(externalID string, fp types.Fingerprint) error {
		batch = append(batch, &types.StageRow{
			StageID:       stageID,
			BatchID:       batchID,
			SourceID:      source.SourceID,
			ArtifactID:    types.NewID(),
			CreatedOn:     createdOn,
			ExternalID:    externalID,
			Version:       fp.Version,
			ContentLength: fp.ContentLength,
			ContentType:   fp.ContentType,
		})
		if len(batch) == BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return Result{}, 0, err
	}
	if err := flush(); err != nil {
		return Result{}, 0, err
	}
	sklog.Infof("Inserted %d rows (%d batches) into stage %s", ret.Staged, batchID, stageID)
	return ret, batchID, nil
}
