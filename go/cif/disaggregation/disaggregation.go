// Package disaggregation turns the new artifacts of a generation into
// fragments and fragment keys, per the source's disaggregation mode.
//
// The immediate modes extract in the calling process. The deferred modes
// persist PENDING work rows and publish them to the work topic, where the
// worker pool picks them up. Work is always persisted before it is
// published, so a failed publish leaves a PENDING row behind for
// reconciliation instead of losing the work.
package disaggregation

import (
	"context"

	"golang.org/x/sync/errgroup"

	"go.skia.org/cif/go/cif/catalog"
	"go.skia.org/cif/go/cif/connector"
	"go.skia.org/cif/go/cif/extractor"
	"go.skia.org/cif/go/cif/factory"
	"go.skia.org/cif/go/cif/types"
	"go.skia.org/cif/go/metrics2"
	"go.skia.org/cif/go/sklog"
)

const (
	// newArtifactsPageSize is how many new artifacts are processed per
	// catalog page.
	newArtifactsPageSize = 100

	// LinesPerChunk is how many lines of an artifact go into one chunk in
	// the chunked modes.
	LinesPerChunk = 50000

	// chunkWorkers bounds concurrent chunk extraction in IMMEDIATE_CHUNKED
	// mode. Workers share the catalog and connector, which are both safe
	// for concurrent use.
	chunkWorkers = 3
)

// Disaggregator extracts fragments for the new artifacts of generations.
type Disaggregator struct {
	cat  catalog.Catalog
	bus  Publisher
	fact *factory.Factory
}

// New returns a Disaggregator. The bus may be nil when no source in the
// deployment uses a deferred mode.
func New(cat catalog.Catalog, bus Publisher, fact *factory.Factory) *Disaggregator {
	return &Disaggregator{cat: cat, bus: bus, fact: fact}
}

// Disaggregate processes every artifact first observed in generation,
// dispatching on the source's disaggregation mode. It returns the number of
// extractions run, or deferred work records published, over all pages.
func (d *Disaggregator) Disaggregate(ctx context.Context, source *types.Source, generation *types.Generation) (int, error) {
	defer metrics2.NewTimer("cif_disaggregation", map[string]string{
		"source": source.SourceID,
		"mode":   string(source.DisaggregationMode),
	}).Stop()
	sklog.Infof("Starting disaggregation of source %s, generation %d", source.SourceID, generation.GenerationID)
	conn, err := d.fact.Connector(source)
	if err != nil {
		return 0, err
	}
	extractors, err := d.fact.Extractors(source, conn)
	if err != nil {
		return 0, err
	}

	count := 0
	offset := 0
	for {
		artifacts, next, err := d.cat.NewArtifacts(ctx, source.SourceID, generation.GenerationID, newArtifactsPageSize, offset)
		if err != nil {
			return count, err
		}
		var n int
		switch source.DisaggregationMode {
		case types.DisaggregationImmediate:
			n, err = d.immediate(ctx, artifacts, extractors)
		case types.DisaggregationImmediateChunked:
			n, err = d.immediateChunked(ctx, conn, artifacts, extractors)
		case types.DisaggregationDeferred:
			n, err = d.deferAll(ctx, source, generation, artifacts, extractors)
		case types.DisaggregationDeferredChunked:
			n, err = d.deferChunked(ctx, source, generation, conn, artifacts, extractors)
		default:
			return count, types.Validationf("unknown disaggregation mode %q", source.DisaggregationMode)
		}
		count += n
		if err != nil {
			return count, err
		}
		if next == catalog.NoMoreResults {
			break
		}
		offset = next
	}
	sklog.Infof("Finished disaggregation of source %s, generation %d: %d units", source.SourceID, generation.GenerationID, count)
	return count, nil
}

// DisaggregateOne runs one extractor over one artifact, or over the byte
// range in opts, and writes the resulting fragments and fragment keys.
func (d *Disaggregator) DisaggregateOne(ctx context.Context, artifact *types.Artifact, e extractor.Extractor, opts extractor.FragmentOptions) error {
	fragments, err := e.CalcFragments(ctx, artifact, opts)
	if err != nil {
		return err
	}
	sklog.Infof("Extracted %d fragments from artifact %s", len(fragments), artifact.ArtifactID)
	if err := d.cat.InsertFragments(ctx, fragments); err != nil {
		return err
	}

	keys := []*types.FragmentKey{}
	for _, fragment := range fragments {
		fragmentKeys, err := e.CalcFragmentKeys(ctx, artifact, fragment)
		if err != nil {
			return err
		}
		keys = append(keys, fragmentKeys...)
	}
	sklog.Infof("Extracted %d fragment keys from artifact %s", len(keys), artifact.ArtifactID)
	return d.cat.InsertFragmentKeys(ctx, keys)
}

// immediate runs every extractor on every artifact serially.
func (d *Disaggregator) immediate(ctx context.Context, artifacts []*types.Artifact, extractors []extractor.Extractor) (int, error) {
	count := 0
	for _, artifact := range artifacts {
		for _, e := range extractors {
			if err := d.DisaggregateOne(ctx, artifact, e, extractor.FragmentOptions{}); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// chunkTask is one (artifact, chunk, extractor) unit of chunked extraction.
type chunkTask struct {
	artifact *types.Artifact
	chunk    types.ByteRange
	e        extractor.Extractor
}

// calcChunkTasks splits each artifact into line chunks and crosses them with
// the extractors.
func calcChunkTasks(ctx context.Context, conn connector.Connector, artifacts []*types.Artifact, extractors []extractor.Extractor) ([]chunkTask, error) {
	tasks := []chunkTask{}
	for _, artifact := range artifacts {
		sklog.Infof("Splitting large artifact %s (%d bytes) into chunks", artifact.ArtifactID, artifact.ContentLength)
		chunks, err := conn.CalcLineChunks(ctx, artifact.ExternalID, LinesPerChunk, artifact.Version)
		if err != nil {
			return nil, err
		}
		for _, chunk := range chunks {
			for _, e := range extractors {
				tasks = append(tasks, chunkTask{artifact: artifact, chunk: chunk, e: e})
			}
		}
	}
	return tasks, nil
}

// immediateChunked runs every (artifact, chunk, extractor) task on a bounded
// worker pool, each task with a fresh fragment_id shared by the fragments it
// produces.
func (d *Disaggregator) immediateChunked(ctx context.Context, conn connector.Connector, artifacts []*types.Artifact, extractors []extractor.Extractor) (int, error) {
	tasks, err := calcChunkTasks(ctx, conn, artifacts, extractors)
	if err != nil {
		return 0, err
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(chunkWorkers)
	for _, task := range tasks {
		start, end := task.chunk.Start, task.chunk.End
		opts := extractor.FragmentOptions{
			FragmentID: types.NewID(),
			StartByte:  &start,
			EndByte:    &end,
		}
		artifact, e := task.artifact, task.e
		eg.Go(func() error {
			return d.DisaggregateOne(ctx, artifact, e, opts)
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// deferAll persists and publishes one work record per (artifact, extractor).
func (d *Disaggregator) deferAll(ctx context.Context, source *types.Source, generation *types.Generation, artifacts []*types.Artifact, extractors []extractor.Extractor) (int, error) {
	rows := []*types.DeferredDisaggregation{}
	for _, artifact := range artifacts {
		sklog.Infof("Will disaggregate artifact %s in a single pass", artifact.ArtifactID)
		for _, e := range extractors {
			rows = append(rows, &types.DeferredDisaggregation{
				SourceID:      source.SourceID,
				GenerationID:  generation.GenerationID,
				ArtifactID:    artifact.ArtifactID,
				ExtractorType: e.Type(),
				CreatedOn:     generation.CreatedOn,
				Status:        types.DeferredPending,
			})
		}
	}
	return d.publish(ctx, rows)
}

// deferChunked persists and publishes one work record per (artifact, chunk,
// extractor), each carrying its byte range and a fresh fragment_id.
func (d *Disaggregator) deferChunked(ctx context.Context, source *types.Source, generation *types.Generation, conn connector.Connector, artifacts []*types.Artifact, extractors []extractor.Extractor) (int, error) {
	tasks, err := calcChunkTasks(ctx, conn, artifacts, extractors)
	if err != nil {
		return 0, err
	}
	rows := make([]*types.DeferredDisaggregation, 0, len(tasks))
	for _, task := range tasks {
		fragmentID := types.NewID()
		start, end := task.chunk.Start, task.chunk.End
		rows = append(rows, &types.DeferredDisaggregation{
			SourceID:      source.SourceID,
			GenerationID:  generation.GenerationID,
			ArtifactID:    task.artifact.ArtifactID,
			ExtractorType: task.e.Type(),
			FragmentID:    &fragmentID,
			StartByte:     &start,
			EndByte:       &end,
			CreatedOn:     generation.CreatedOn,
			Status:        types.DeferredPending,
		})
	}
	return d.publish(ctx, rows)
}

// publish persists the work rows as PENDING and then publishes them all.
// Persistence always comes first: a row whose publish fails stays PENDING
// and is retried operationally, while an unpersisted row is never published.
func (d *Disaggregator) publish(ctx context.Context, rows []*types.DeferredDisaggregation) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := d.cat.UpsertDeferredDisaggregations(ctx, rows); err != nil {
		return 0, err
	}
	if err := d.bus.Publish(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
