package disaggregation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.skia.org/cif/go/cif/catalog"
	"go.skia.org/cif/go/cif/factory"
	"go.skia.org/cif/go/cif/intake"
	"go.skia.org/cif/go/cif/types"
	"go.skia.org/cif/go/now"
)

var baseTime = time.Date(2025, time.March, 18, 10, 30, 0, 0, time.UTC)

// zp3SourceID has key rules lifting ZP3SCHD_ID and PAYSCHD_ID from CSV rows.
const zp3SourceID = "d5896a4b38c94028842c310aab98fc79"

// fakeBus records published work, optionally failing every publish.
type fakeBus struct {
	published []*types.DeferredDisaggregation
	err       error
}

func (b *fakeBus) Publish(ctx context.Context, rows []*types.DeferredDisaggregation) error {
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, rows...)
	return nil
}

var _ Publisher = (*fakeBus)(nil)

func newSource(t *testing.T, sourceID, dir, glob string, mode types.DisaggregationMode, extractorTypes ...string) *types.Source {
	t.Helper()
	conn, err := types.NewConfig(factory.FilesystemConnectorConfig{
		Type:        "FilesystemConnector",
		Root:        dir,
		GlobPattern: glob,
	})
	require.NoError(t, err)
	extractors := make([]types.Config, 0, len(extractorTypes))
	for _, et := range extractorTypes {
		cfg, err := types.NewConfig(factory.ExtractorConfig{Type: et})
		require.NoError(t, err)
		extractors = append(extractors, cfg)
	}
	return &types.Source{
		SourceID:           sourceID,
		ExternalID:         "test-source",
		Enabled:            true,
		Connector:          conn,
		Extractors:         extractors,
		DisaggregationMode: mode,
		RetainGenerations:  3,
	}
}

// promote runs intake for source and returns the resulting generation.
func promote(t *testing.T, ctx context.Context, cat catalog.Catalog, fact *factory.Factory, source *types.Source) *types.Generation {
	t.Helper()
	conn, err := fact.Connector(source)
	require.NoError(t, err)
	res, err := intake.New(cat, conn).Run(ctx, source)
	require.NoError(t, err)
	require.NotNil(t, res.Generation)
	return res.Generation
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDisaggregate_Immediate_RunsEveryArtifactExtractorPair(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		writeFile(t, dir, fmt.Sprintf("doc_%d.html", i),
			fmt.Sprintf("<html><head><title>plan %d</title></head><body>dental coverage %d</body></html>", i, i))
	}
	cat := catalog.NewInMemoryCatalog()
	fact := factory.New(nil, nil)
	source := newSource(t, "8eb156a290f14963a36a86ec6c5259d0", dir, "**.html",
		types.DisaggregationImmediate, "HTMLExtractor", "HTMLTitleExtractor")
	generation := promote(t, ctx, cat, fact, source)

	count, err := New(cat, nil, fact).Disaggregate(ctx, source, generation)
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	docs, _, err := cat.SearchFragments(ctx, source.SourceID, "dental", "", false, catalog.SearchOptions{
		AggregationLevel: types.AggregationDocument,
	}, 100, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	titles, _, err := cat.SearchFragments(ctx, source.SourceID, "plan", "", false, catalog.SearchOptions{
		AggregationLevel: types.AggregationTitle,
	}, 100, 0)
	require.NoError(t, err)
	assert.Len(t, titles, 3)
}

func TestDisaggregate_Immediate_WritesFragmentKeys(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	dir := t.TempDir()
	writeFile(t, dir, "schedule.csv", "ZP3SCHD_ID,PAYSCHD_ID,NOTE\nZ100,01001,dental plan\nZ200,01002,vision plan\n")
	cat := catalog.NewInMemoryCatalog()
	fact := factory.New(nil, nil)
	source := newSource(t, zp3SourceID, dir, "**.csv", types.DisaggregationImmediate, "CSVRowExtractor")
	generation := promote(t, ctx, cat, fact, source)

	count, err := New(cat, nil, fact).Disaggregate(ctx, source, generation)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	matches, _, err := cat.SearchFragmentsKey(ctx, source.SourceID, []types.KeySearchTerm{
		{Key: "ZP3SCHD_ID", Values: []string{"Z100"}},
	}, catalog.SearchOptions{}, 100, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Z100 01001 dental plan", matches[0].TextContent)
}

// chunkedCSV writes a CSV of exactly numLines 16 byte lines, so line chunk
// boundaries land at predictable byte offsets.
func chunkedCSV(t *testing.T, dir, name string, numLines int) {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < numLines; i++ {
		fmt.Fprintf(&sb, "%07d,payload\n", i)
	}
	writeFile(t, dir, name, sb.String())
}

func TestDisaggregate_DeferredChunked_PersistsThenPublishesOneRowPerTask(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	dir := t.TempDir()
	// 150,000 lines at LinesPerChunk 50,000 is three chunks; with two
	// extractors that is six units of work.
	chunkedCSV(t, dir, "big.csv", 3*LinesPerChunk)
	cat := catalog.NewInMemoryCatalog()
	fact := factory.New(nil, nil)
	bus := &fakeBus{}
	source := newSource(t, zp3SourceID, dir, "**.csv",
		types.DisaggregationDeferredChunked, "CSVRowExtractor", "HTMLExtractor")
	generation := promote(t, ctx, cat, fact, source)

	count, err := New(cat, bus, fact).Disaggregate(ctx, source, generation)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
	require.Len(t, bus.published, 6)

	rows, next, err := cat.DeferredDisaggregations(ctx, catalog.DeferredQuery{
		SourceID: source.SourceID,
		Limit:    100,
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.NoMoreResults, next)
	require.Len(t, rows, 6)

	const lineBytes = 16
	wantRanges := []types.ByteRange{
		{Start: 0, End: 1*LinesPerChunk*lineBytes - 1},
		{Start: 1 * LinesPerChunk * lineBytes, End: 2*LinesPerChunk*lineBytes - 1},
		{Start: 2 * LinesPerChunk * lineBytes, End: 3*LinesPerChunk*lineBytes - 1},
	}
	seen := map[string]int{}
	fragmentIDs := map[string]bool{}
	for _, row := range rows {
		assert.Equal(t, types.DeferredPending, row.Status)
		assert.Equal(t, generation.GenerationID, row.GenerationID)
		assert.Equal(t, generation.CreatedOn, row.CreatedOn)
		require.NotNil(t, row.FragmentID)
		require.NotNil(t, row.StartByte)
		require.NotNil(t, row.EndByte)
		fragmentIDs[*row.FragmentID] = true
		seen[fmt.Sprintf("%s:%d-%d", row.ExtractorType, *row.StartByte, *row.EndByte)]++
	}
	// Every (chunk, extractor) combination appears exactly once, each with
	// its own fragment_id.
	assert.Len(t, fragmentIDs, 6)
	for _, want := range wantRanges {
		for _, et := range []string{"CSVRowExtractor", "HTMLExtractor"} {
			assert.Equal(t, 1, seen[fmt.Sprintf("%s:%d-%d", et, want.Start, want.End)])
		}
	}
}

func TestDisaggregate_Deferred_OneRowPerArtifactExtractorPair(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	dir := t.TempDir()
	writeFile(t, dir, "a.html", "<html>one</html>")
	writeFile(t, dir, "b.html", "<html>two</html>")
	cat := catalog.NewInMemoryCatalog()
	fact := factory.New(nil, nil)
	bus := &fakeBus{}
	source := newSource(t, "8eb156a290f14963a36a86ec6c5259d0", dir, "**.html",
		types.DisaggregationDeferred, "HTMLExtractor", "HTMLLinkExtractor")
	generation := promote(t, ctx, cat, fact, source)

	count, err := New(cat, bus, fact).Disaggregate(ctx, source, generation)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	require.Len(t, bus.published, 4)
	for _, row := range bus.published {
		assert.Nil(t, row.FragmentID)
		assert.Nil(t, row.StartByte)
		assert.Nil(t, row.EndByte)
		assert.Equal(t, types.DeferredPending, row.Status)
		assert.Equal(t, generation.CreatedOn, row.CreatedOn)
	}

	rows, _, err := cat.DeferredDisaggregations(ctx, catalog.DeferredQuery{SourceID: source.SourceID, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestDisaggregate_Deferred_PersistsRowsEvenWhenPublishFails(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	dir := t.TempDir()
	writeFile(t, dir, "a.html", "<html>one</html>")
	cat := catalog.NewInMemoryCatalog()
	fact := factory.New(nil, nil)
	bus := &fakeBus{err: errors.New("broker unavailable")}
	source := newSource(t, "8eb156a290f14963a36a86ec6c5259d0", dir, "**.html",
		types.DisaggregationDeferred, "HTMLExtractor")
	generation := promote(t, ctx, cat, fact, source)

	_, err := New(cat, bus, fact).Disaggregate(ctx, source, generation)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")

	// The rows stay PENDING for operational retry.
	rows, _, err := cat.DeferredDisaggregations(ctx, catalog.DeferredQuery{SourceID: source.SourceID, Limit: 100})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.DeferredPending, rows[0].Status)
}

func TestDisaggregate_ImmediateChunked_SharesFragmentIDWithinChunk(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	dir := t.TempDir()
	chunkedCSV(t, dir, "big.csv", 3*LinesPerChunk)
	cat := catalog.NewInMemoryCatalog()
	fact := factory.New(nil, nil)
	source := newSource(t, zp3SourceID, dir, "**.csv",
		types.DisaggregationImmediateChunked, "CSVRowExtractor")
	generation := promote(t, ctx, cat, fact, source)

	count, err := New(cat, nil, fact).Disaggregate(ctx, source, generation)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	matches, _, err := cat.SearchFragments(ctx, source.SourceID, "payload", "", false, catalog.SearchOptions{}, 200000, 0)
	require.NoError(t, err)
	// The first chunk starts at byte zero, so its header line is dropped.
	require.Len(t, matches, 3*LinesPerChunk-1)
	perFragmentID := map[string]int{}
	for _, m := range matches {
		perFragmentID[m.FragmentID]++
	}
	require.Len(t, perFragmentID, 3)
	sizes := []int{}
	for _, n := range perFragmentID {
		sizes = append(sizes, n)
	}
	assert.ElementsMatch(t, []int{LinesPerChunk - 1, LinesPerChunk, LinesPerChunk}, sizes)
}

func TestDisaggregate_UnknownModeIsAValidationError(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	dir := t.TempDir()
	cat := catalog.NewInMemoryCatalog()
	fact := factory.New(nil, nil)
	source := newSource(t, "8eb156a290f14963a36a86ec6c5259d0", dir, "**.html",
		types.DisaggregationMode("SOMEDAY"), "HTMLExtractor")

	_, err := New(cat, nil, fact).Disaggregate(ctx, source, &types.Generation{
		SourceID:     source.SourceID,
		GenerationID: baseTime.UnixMicro(),
		CreatedOn:    baseTime,
	})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}
