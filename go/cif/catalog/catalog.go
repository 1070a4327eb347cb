// Package catalog provides data access to the CIF catalog database.
//
// The catalog records every registered source, the artifacts observed for it,
// the generations those artifacts were observed in, the fragments extracted
// from them, and the ledger of deferred disaggregation work. Two
// implementations are provided: one backed by Cloud Spanner and an in-memory
// one for tests.
package catalog

import (
	"context"
	"time"

	"go.skia.org/cif/go/cif/types"
)

// NoMoreResults is the next offset returned by paginated operations when the
// current page was the last one.
const NoMoreResults = -1

// PromoteCounts reports the row counts from the three passes of promoting one
// staged batch: rows matched to an existing artifact, new artifact rows
// inserted, and generation rows written.
type PromoteCounts struct {
	Matched  int64 `json:"matched"`
	Inserted int64 `json:"inserted"`
	Total    int64 `json:"total"`
}

// Add accumulates the counts from another batch.
func (p *PromoteCounts) Add(o PromoteCounts) {
	p.Matched += o.Matched
	p.Inserted += o.Inserted
	p.Total += o.Total
}

// SearchOptions restricts fragment searches. The zero value searches every
// aggregation level and external_id in the latest generation of the source.
type SearchOptions struct {
	// AggregationLevel, if non-empty, restricts matches to fragments at
	// that level.
	AggregationLevel types.AggregationLevel

	// GenerationID, if non-zero, searches the given generation instead of
	// the latest one.
	GenerationID int64

	// ExternalID, if non-empty, restricts matches to fragments of the
	// artifact with that external_id.
	ExternalID string
}

// DeferredQuery selects deferred disaggregation rows by creation time range
// and optionally by source.
type DeferredQuery struct {
	// SourceID, if non-empty, restricts results to one source.
	SourceID string

	// CreatedOnStart is the inclusive lower bound. The zero value means
	// midnight UTC of the current day.
	CreatedOnStart time.Time

	// CreatedOnEnd is the inclusive upper bound. The zero value means no
	// upper bound.
	CreatedOnEnd time.Time

	Limit  int
	Offset int
}

// Catalog is the data access interface for the CIF catalog.
//
// All paginated operations return their records along with the offset of the
// next page, or NoMoreResults if the returned page was the last. Lookups for
// absent rows return an error wrapping types.ErrNotFound.
type Catalog interface {
	// Sources lists all sources ordered by source_id.
	Sources(ctx context.Context, limit, offset int) ([]*types.Source, int, error)

	// Source returns one source by id.
	Source(ctx context.Context, sourceID string) (*types.Source, error)

	// PutSource inserts or updates a source registration.
	PutSource(ctx context.Context, source *types.Source) error

	// SearchSources lists sources whose external_id matches the given SQL
	// LIKE pattern.
	SearchSources(ctx context.Context, externalIDLike string, limit, offset int) ([]*types.Source, int, error)

	// InsertStageRows writes staged listing rows. Rows are written as
	// inserts; a stage_id is never reused.
	InsertStageRows(ctx context.Context, rows []*types.StageRow) error

	// CountInsertedUpdated counts staged rows with no identical artifact in
	// the given generation.
	CountInsertedUpdated(ctx context.Context, stageID, sourceID string, generationID int64) (int64, error)

	// CountDeleted counts artifacts of the given generation with no
	// identical staged row.
	CountDeleted(ctx context.Context, stageID, sourceID string, generationID int64) (int64, error)

	// Promote turns one staged batch into artifact and generation rows in a
	// single read-write transaction.
	Promote(ctx context.Context, stageID string, batchID int64, sourceID string) (PromoteCounts, error)

	// Generations lists the generations of a source, newest first.
	Generations(ctx context.Context, sourceID string, limit, offset int) ([]*types.Generation, int, error)

	// LatestGeneration returns the newest generation of a source.
	LatestGeneration(ctx context.Context, sourceID string) (*types.Generation, error)

	// Generation returns one generation by id.
	Generation(ctx context.Context, sourceID string, generationID int64) (*types.Generation, error)

	// GenerationArtifacts lists every artifact in a generation.
	GenerationArtifacts(ctx context.Context, sourceID string, generationID int64, limit, offset int) ([]*types.Artifact, int, error)

	// NewArtifacts lists the artifacts first observed in the given
	// generation.
	NewArtifacts(ctx context.Context, sourceID string, generationID int64, limit, offset int) ([]*types.Artifact, int, error)

	// Artifact returns one artifact by id.
	Artifact(ctx context.Context, artifactID string) (*types.Artifact, error)

	// DiffGenerations classifies every external_id present in either of two
	// generations as INSERTED, DELETED, UPDATED or NONE, from the
	// perspective of moving from generation A to generation B.
	DiffGenerations(ctx context.Context, sourceID string, generationIDA, generationIDB int64, limit, offset int) ([]*types.ArtifactChange, int, error)

	// InsertFragments upserts extracted fragments.
	InsertFragments(ctx context.Context, fragments []*types.Fragment) error

	// InsertFragmentKeys upserts fragment keys.
	InsertFragmentKeys(ctx context.Context, keys []*types.FragmentKey) error

	// SearchFragments runs a full-text (ngram false) or ngram (ngram true)
	// search over fragment text_content, ordered by descending relevance.
	// For text searches query is required and scoreQuery defaults to query.
	// For ngram searches at least one of query and scoreQuery is required;
	// an empty query skips the match predicate and only scores.
	SearchFragments(ctx context.Context, sourceID, query, scoreQuery string, ngram bool, opts SearchOptions, limit, offset int) ([]*types.FragmentMatch, int, error)

	// SearchFragmentsJSON finds fragments whose json_content matches every
	// supplied term.
	SearchFragmentsJSON(ctx context.Context, sourceID string, terms []types.JSONSearchTerm, opts SearchOptions, limit, offset int) ([]*types.FragmentMatch, int, error)

	// SearchFragmentsKey finds fragments carrying every supplied key with
	// one of the allowed values.
	SearchFragmentsKey(ctx context.Context, sourceID string, terms []types.KeySearchTerm, opts SearchOptions, limit, offset int) ([]*types.FragmentMatch, int, error)

	// UpsertDeferredDisaggregations writes deferred work rows, replacing
	// rows with the same key.
	UpsertDeferredDisaggregations(ctx context.Context, rows []*types.DeferredDisaggregation) error

	// UpdateDeferredStatus upserts one deferred work row with the given
	// status and delivery attempt.
	UpdateDeferredStatus(ctx context.Context, row *types.DeferredDisaggregation, status types.DeferredStatus, deliveryAttempt int64) error

	// DeferredDisaggregations lists deferred work rows in the query's time
	// range, ordered by source, creation time and status.
	DeferredDisaggregations(ctx context.Context, q DeferredQuery) ([]*types.DeferredDisaggregation, int, error)

	// DeferredDisaggregationSummaries aggregates deferred work rows by
	// source, generation and status.
	DeferredDisaggregationSummaries(ctx context.Context, q DeferredQuery) ([]*types.DeferredDisaggregationSummary, int, error)
}
