package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.skia.org/cif/go/cif/catalog"
	"go.skia.org/cif/go/cif/factory"
	"go.skia.org/cif/go/cif/intake"
	"go.skia.org/cif/go/cif/types"
	"go.skia.org/cif/go/now"
)

var baseTime = time.Date(2025, time.March, 18, 10, 30, 0, 0, time.UTC)

const sourceID = "8eb156a290f14963a36a86ec6c5259d0"

// fakeMessage counts settlements so tests can assert ack against nack.
type fakeMessage struct {
	data            []byte
	deliveryAttempt int64
	acks            int
	nacks           int
}

func (m *fakeMessage) Data() []byte           { return m.data }
func (m *fakeMessage) DeliveryAttempt() int64 { return m.deliveryAttempt }
func (m *fakeMessage) Ack()                   { m.acks++ }
func (m *fakeMessage) Nack()                  { m.nacks++ }

var _ Message = (*fakeMessage)(nil)

// fixture holds one promoted HTML source with a single artifact.
type fixture struct {
	ctx      context.Context
	cat      catalog.Catalog
	worker   *Worker
	source   *types.Source
	gen      *types.Generation
	artifact *types.Artifact
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := now.TimeTravelingContext(baseTime)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.html"),
		[]byte("<html><head><title>plan</title></head><body>dental coverage</body></html>"), 0644))
	connCfg, err := types.NewConfig(factory.FilesystemConnectorConfig{
		Type:        "FilesystemConnector",
		Root:        dir,
		GlobPattern: "**.html",
	})
	require.NoError(t, err)
	extCfg, err := types.NewConfig(factory.ExtractorConfig{Type: "HTMLExtractor"})
	require.NoError(t, err)
	source := &types.Source{
		SourceID:           sourceID,
		ExternalID:         "test-source",
		Enabled:            true,
		Connector:          connCfg,
		Extractors:         []types.Config{extCfg},
		DisaggregationMode: types.DisaggregationDeferred,
		RetainGenerations:  3,
	}
	cat := catalog.NewInMemoryCatalog()
	require.NoError(t, cat.PutSource(ctx, source))
	fact := factory.New(nil, nil)
	conn, err := fact.Connector(source)
	require.NoError(t, err)
	res, err := intake.New(cat, conn).Run(ctx, source)
	require.NoError(t, err)
	require.NotNil(t, res.Generation)
	artifacts, _, err := cat.GenerationArtifacts(ctx, sourceID, res.Generation.GenerationID, 10, 0)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	return &fixture{
		ctx:      ctx,
		cat:      cat,
		worker:   New(cat, fact),
		source:   source,
		gen:      res.Generation,
		artifact: artifacts[0],
		dir:      dir,
	}
}

// row returns a work row for the fixture's artifact.
func (f *fixture) row() *types.DeferredDisaggregation {
	return &types.DeferredDisaggregation{
		SourceID:      f.source.SourceID,
		GenerationID:  f.gen.GenerationID,
		ArtifactID:    f.artifact.ArtifactID,
		ExtractorType: "HTMLExtractor",
		CreatedOn:     f.gen.CreatedOn,
		Status:        types.DeferredPending,
	}
}

func message(t *testing.T, row *types.DeferredDisaggregation, deliveryAttempt int64) *fakeMessage {
	t.Helper()
	b, err := json.Marshal(row)
	require.NoError(t, err)
	return &fakeMessage{data: b, deliveryAttempt: deliveryAttempt}
}

// deferredRows returns every deferred row for the fixture's source.
func (f *fixture) deferredRows(t *testing.T) []*types.DeferredDisaggregation {
	t.Helper()
	rows, _, err := f.cat.DeferredDisaggregations(f.ctx, catalog.DeferredQuery{
		SourceID: f.source.SourceID,
		Limit:    100,
	})
	require.NoError(t, err)
	return rows
}

func TestProcess_SuccessMarksRowDoneAndAcks(t *testing.T) {
	f := newFixture(t)
	row := f.row()
	require.NoError(t, f.cat.UpsertDeferredDisaggregations(f.ctx, []*types.DeferredDisaggregation{row}))
	msg := message(t, row, 0)

	require.NoError(t, f.worker.Process(f.ctx, msg))
	assert.Equal(t, 1, msg.acks)
	assert.Equal(t, 0, msg.nacks)

	rows := f.deferredRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, types.DeferredDone, rows[0].Status)
	assert.Equal(t, int64(1), rows[0].DeliveryAttempt)

	matches, _, err := f.cat.SearchFragments(f.ctx, f.source.SourceID, "dental", "", false, catalog.SearchOptions{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestProcess_UnparseableMessageIsAckedWithoutCatalogWrites(t *testing.T) {
	f := newFixture(t)
	msg := &fakeMessage{data: []byte{}}

	err := f.worker.Process(f.ctx, msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparseable")
	assert.Equal(t, 1, msg.acks)
	assert.Equal(t, 0, msg.nacks)
	assert.Empty(t, f.deferredRows(t))
}

func TestProcess_MissingSourceIsDiscardedAsFailed(t *testing.T) {
	f := newFixture(t)
	row := f.row()
	row.SourceID = "ffffffffffffffffffffffffffffffff"
	msg := message(t, row, 4)

	err := f.worker.Process(f.ctx, msg)
	require.Error(t, err)
	assert.Equal(t, 1, msg.acks)
	assert.Equal(t, 0, msg.nacks)

	rows, _, err := f.cat.DeferredDisaggregations(f.ctx, catalog.DeferredQuery{
		SourceID: row.SourceID,
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.DeferredFailed, rows[0].Status)
	assert.Equal(t, int64(4), rows[0].DeliveryAttempt)
}

func TestProcess_MissingArtifactIsDiscardedAsFailed(t *testing.T) {
	f := newFixture(t)
	row := f.row()
	row.ArtifactID = "ffffffffffffffffffffffffffffffff"
	msg := message(t, row, 0)

	err := f.worker.Process(f.ctx, msg)
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
	assert.Equal(t, 1, msg.acks)
	assert.Equal(t, 0, msg.nacks)

	rows := f.deferredRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, types.DeferredFailed, rows[0].Status)
	assert.Equal(t, int64(1), rows[0].DeliveryAttempt)
}

func TestProcess_UnknownExtractorTypeIsDiscardedAsFailed(t *testing.T) {
	f := newFixture(t)
	row := f.row()
	row.ExtractorType = "TeleportExtractor"
	msg := message(t, row, 0)

	err := f.worker.Process(f.ctx, msg)
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
	assert.Equal(t, 1, msg.acks)
	assert.Equal(t, 0, msg.nacks)

	rows := f.deferredRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, types.DeferredFailed, rows[0].Status)
}

func TestProcess_ExtractionFailureIsNackedAndMarkedFailed(t *testing.T) {
	f := newFixture(t)
	// Make the read fail after promotion so resolution succeeds but the
	// extractor cannot load the content.
	require.NoError(t, os.Remove(filepath.Join(f.dir, "doc.html")))
	row := f.row()
	msg := message(t, row, 2)

	err := f.worker.Process(f.ctx, msg)
	require.Error(t, err)
	assert.Equal(t, 0, msg.acks)
	assert.Equal(t, 1, msg.nacks)

	rows := f.deferredRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, types.DeferredFailed, rows[0].Status)
	assert.Equal(t, int64(2), rows[0].DeliveryAttempt)
}

func TestProcess_ChunkedMessageSharesTheSuppliedFragmentID(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rows.csv"),
		[]byte("ZP3SCHD_ID,NOTE\nZ100,dental plan\nZ200,vision plan\n"), 0644))
	connCfg, err := types.NewConfig(factory.FilesystemConnectorConfig{
		Type:        "FilesystemConnector",
		Root:        dir,
		GlobPattern: "**.csv",
	})
	require.NoError(t, err)
	extCfg, err := types.NewConfig(factory.ExtractorConfig{Type: "CSVRowExtractor"})
	require.NoError(t, err)
	source := &types.Source{
		SourceID:           "d5896a4b38c94028842c310aab98fc79",
		ExternalID:         "csv-source",
		Enabled:            true,
		Connector:          connCfg,
		Extractors:         []types.Config{extCfg},
		DisaggregationMode: types.DisaggregationDeferredChunked,
		RetainGenerations:  3,
	}
	cat := catalog.NewInMemoryCatalog()
	require.NoError(t, cat.PutSource(ctx, source))
	fact := factory.New(nil, nil)
	conn, err := fact.Connector(source)
	require.NoError(t, err)
	res, err := intake.New(cat, conn).Run(ctx, source)
	require.NoError(t, err)
	artifacts, _, err := cat.GenerationArtifacts(ctx, source.SourceID, res.Generation.GenerationID, 10, 0)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	fragmentID := types.NewID()
	start := int64(0)
	end := artifacts[0].ContentLength - 1
	row := &types.DeferredDisaggregation{
		SourceID:      source.SourceID,
		GenerationID:  res.Generation.GenerationID,
		ArtifactID:    artifacts[0].ArtifactID,
		ExtractorType: "CSVRowExtractor",
		FragmentID:    &fragmentID,
		StartByte:     &start,
		EndByte:       &end,
		CreatedOn:     res.Generation.CreatedOn,
		Status:        types.DeferredPending,
	}
	msg := message(t, row, 0)

	w := New(cat, fact)
	require.NoError(t, w.Process(ctx, msg))
	assert.Equal(t, 1, msg.acks)

	matches, _, err := cat.SearchFragments(ctx, source.SourceID, "plan", "", false, catalog.SearchOptions{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	seqs := []int64{}
	for _, m := range matches {
		assert.Equal(t, fragmentID, m.FragmentID)
		seqs = append(seqs, m.SeqNo)
	}
	assert.ElementsMatch(t, []int64{0, 1}, seqs)
}

func TestPubsubMessage_DeliveryAttemptDefaultsToZeroWhenUnset(t *testing.T) {
	m := pubsubMessage{m: &pubsub.Message{Data: []byte("x")}}
	assert.Equal(t, int64(0), m.DeliveryAttempt())
	four := 4
	m = pubsubMessage{m: &pubsub.Message{Data: []byte("x"), DeliveryAttempt: &four}}
	assert.Equal(t, int64(4), m.DeliveryAttempt())
	assert.Equal(t, []byte("x"), m.Data())
}
