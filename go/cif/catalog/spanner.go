package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/pkg/errors"

	"go.skia.org/cif/go/cif/types"
	"go.skia.org/cif/go/metrics2"
	"go.skia.org/cif/go/now"
	"go.skia.org/cif/go/sklog"
	"go.skia.org/cif/go/util"
)

const (
	// queryTimeout bounds every read query.
	queryTimeout = 30 * time.Second

	// Mutation batch sizes per table, sized so one Apply call stays under
	// the Spanner per-commit mutation limit of 80,000. Fragment rows cost
	// 13 mutations each (7 columns, 3 generated token columns, 3 search
	// index entries), fragment keys 7 and deferred rows 10.
	fragmentBatchSize    = 1000
	fragmentKeyBatchSize = 2000
	deferredBatchSize    = 5000
)

const countInsertedUpdatedSQL = `
select count(*) from stage s
where
s.stage_id = @stage_id and
s.source_id = @source_id and
not exists (
select * from generation g
inner join artifact a on
a.source_id = g.source_id and
a.artifact_id = g.artifact_id
where
g.generation_id = @generation_id and
g.source_id = s.source_id and
a.external_id = s.external_id and
a.version = s.version)`

const countDeletedSQL = `
select count(*) from generation g
inner join artifact a on
g.source_id = a.source_id and
g.artifact_id = a.artifact_id
where
g.source_id = @source_id and
g.generation_id = @generation_id and
not exists (
select * from stage s
where
s.stage_id = @stage_id and
s.source_id = @source_id and
s.source_id = a.source_id and
s.external_id = a.external_id and
s.version = a.version)`

// promotePass1 points staged rows at artifacts that already exist with the
// same source_id, external_id and version. Rows with no such artifact keep
// the provisional artifact_id assigned at staging time.
const promotePass1 = `
update stage s
set s.artifact_id = (select a0.artifact_id from artifact a0 where
a0.source_id = s.source_id and
a0.external_id = s.external_id and
a0.version = s.version)
where
s.stage_id = @stage_id and
s.batch_id = @batch_id and
s.source_id = @source_id and
exists (select * from artifact a1
where
a1.source_id = s.source_id and
a1.external_id = s.external_id and
a1.version = s.version
)`

// promotePass2 inserts the artifacts that are new in this batch, skipping
// the ones pass 1 matched to existing rows.
const promotePass2 = `
insert or ignore into artifact
(artifact_id, source_id, external_id, version, content_type, content_length, created_on)
(select artifact_id, source_id, external_id, version, content_type, content_length, created_on
from stage
where stage_id = @stage_id and
batch_id = @batch_id and
source_id = @source_id)`

// promotePass3 records every artifact of the batch in the new generation,
// deriving generation_id from the staging timestamp.
const promotePass3 = `
insert into generation (source_id, generation_id, artifact_id, created_on)
(select source_id, unix_micros(timestamp_trunc(created_on, MICROSECOND)), artifact_id, created_on from stage
where stage_id = @stage_id and
batch_id = @batch_id and
source_id = @source_id)`

const diffGenerationsSQL = `
select
coalesce(a.external_id, b.external_id) as external_id,
a.artifact_id as artifact_id_a,
b.artifact_id as artifact_id_b,
(case
when a.external_id is null then 'INSERTED'
when b.external_id is null then 'DELETED'
when a.artifact_id != b.artifact_id then 'UPDATED'
else 'NONE' end) as change
from (
select a0.external_id, a0.artifact_id, g.generation_id
from generation g
inner join artifact a0 on a0.artifact_id = g.artifact_id
where g.source_id = @source_id
and g.generation_id = @generation_id_a) as a
full outer join (
select a0.external_id, a0.artifact_id, g.generation_id
from generation g
inner join artifact a0 on a0.artifact_id = g.artifact_id
where g.source_id = @source_id
and g.generation_id = @generation_id_b) as b
on a.external_id = b.external_id`

type spannerCatalog struct {
	client *spanner.Client
}

// New returns a Catalog backed by the given Spanner client.
func New(client *spanner.Client) Catalog {
	return &spannerCatalog{client: client}
}

// queryMany appends pagination to stmt, runs it and calls scan once per row.
// The returned int is the offset of the next page, or NoMoreResults when the
// returned page was the last one.
func (c *spannerCatalog) queryMany(ctx context.Context, stmt spanner.Statement, limit, offset int, scan func(r *spanner.Row) error) (int, error) {
	if limit < 1 {
		return 0, types.Validationf("limit must be positive, got %d", limit)
	}
	if offset < 0 {
		return 0, types.Validationf("offset may not be negative, got %d", offset)
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	stmt.SQL += " limit @limit offset @offset"
	stmt.Params["limit"] = int64(limit)
	stmt.Params["offset"] = int64(offset)
	n := 0
	err := c.client.Single().Query(ctx, stmt).Do(func(r *spanner.Row) error {
		n++
		return scan(r)
	})
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if n == limit {
		return offset + limit, nil
	}
	return NoMoreResults, nil
}

// queryZeroOrOne runs stmt limited to a single row and returns
// types.ErrNotFound if no row matched.
func (c *spannerCatalog) queryZeroOrOne(ctx context.Context, stmt spanner.Statement, scan func(r *spanner.Row) error) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	stmt.SQL += " limit 1"
	found := false
	err := c.client.Single().Query(ctx, stmt).Do(func(r *spanner.Row) error {
		found = true
		return scan(r)
	})
	if err != nil {
		return errors.WithStack(err)
	}
	if !found {
		return types.ErrNotFound
	}
	return nil
}

// queryCount runs stmt and returns the first column of its single row.
func (c *spannerCatalog) queryCount(ctx context.Context, stmt spanner.Statement) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var count int64
	err := c.client.Single().Query(ctx, stmt).Do(func(r *spanner.Row) error {
		return r.Column(0, &count)
	})
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return count, nil
}

// decodeJSONColumn round-trips a Spanner JSON column value into v.
func decodeJSONColumn(col spanner.NullJSON, v interface{}) error {
	if !col.Valid || col.Value == nil {
		return nil
	}
	b, err := json.Marshal(col.Value)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(json.Unmarshal(b, v))
}

func scanSource(r *spanner.Row) (*types.Source, error) {
	var s types.Source
	if err := r.ColumnByName("source_id", &s.SourceID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("created_on", &s.CreatedOn); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("external_id", &s.ExternalID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("category", &s.Category); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("enabled", &s.Enabled); err != nil {
		return nil, errors.WithStack(err)
	}
	var connector, extractors spanner.NullJSON
	if err := r.ColumnByName("connector", &connector); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := decodeJSONColumn(connector, &s.Connector); err != nil {
		return nil, err
	}
	if err := r.ColumnByName("extractors", &extractors); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := decodeJSONColumn(extractors, &s.Extractors); err != nil {
		return nil, err
	}
	var mode string
	if err := r.ColumnByName("disaggregation_mode", &mode); err != nil {
		return nil, errors.WithStack(err)
	}
	s.DisaggregationMode = types.DisaggregationMode(mode)
	if err := r.ColumnByName("retain_generations", &s.RetainGenerations); err != nil {
		return nil, errors.WithStack(err)
	}
	return &s, nil
}

func scanGeneration(r *spanner.Row) (*types.Generation, error) {
	var g types.Generation
	if err := r.ColumnByName("source_id", &g.SourceID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("generation_id", &g.GenerationID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("created_on", &g.CreatedOn); err != nil {
		return nil, errors.WithStack(err)
	}
	return &g, nil
}

func scanArtifact(r *spanner.Row) (*types.Artifact, error) {
	var a types.Artifact
	if err := r.ColumnByName("source_id", &a.SourceID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("artifact_id", &a.ArtifactID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("created_on", &a.CreatedOn); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("external_id", &a.ExternalID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("version", &a.Version); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("content_length", &a.ContentLength); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("content_type", &a.ContentType); err != nil {
		return nil, errors.WithStack(err)
	}
	return &a, nil
}

// scanFragmentMatch reads one row of the fragment search select list. The
// scored flag indicates whether the row carries a relevance column.
func scanFragmentMatch(r *spanner.Row, scored bool) (*types.FragmentMatch, error) {
	var m types.FragmentMatch
	if err := r.ColumnByName("source_id", &m.SourceID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("artifact_id", &m.ArtifactID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("fragment_id", &m.FragmentID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("seq_no", &m.SeqNo); err != nil {
		return nil, errors.WithStack(err)
	}
	var level string
	if err := r.ColumnByName("aggregation_level", &level); err != nil {
		return nil, errors.WithStack(err)
	}
	m.AggregationLevel = types.AggregationLevel(level)
	if err := r.ColumnByName("text_content", &m.TextContent); err != nil {
		return nil, errors.WithStack(err)
	}
	var jsonContent spanner.NullJSON
	if err := r.ColumnByName("json_content", &jsonContent); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := decodeJSONColumn(jsonContent, &m.JSONContent); err != nil {
		return nil, err
	}
	if err := r.ColumnByName("external_id", &m.ExternalID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("generation_id", &m.GenerationID); err != nil {
		return nil, errors.WithStack(err)
	}
	if scored {
		var relevance float64
		if err := r.ColumnByName("relevance", &relevance); err != nil {
			return nil, errors.WithStack(err)
		}
		m.Relevance = &relevance
	}
	return &m, nil
}

func scanDeferred(r *spanner.Row) (*types.DeferredDisaggregation, error) {
	var d types.DeferredDisaggregation
	if err := r.ColumnByName("source_id", &d.SourceID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("generation_id", &d.GenerationID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("artifact_id", &d.ArtifactID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("extractor_type", &d.ExtractorType); err != nil {
		return nil, errors.WithStack(err)
	}
	var fragmentID string
	if err := r.ColumnByName("fragment_id", &fragmentID); err != nil {
		return nil, errors.WithStack(err)
	}
	var startByte, endByte int64
	if err := r.ColumnByName("start_byte", &startByte); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("end_byte", &endByte); err != nil {
		return nil, errors.WithStack(err)
	}
	// The sentinel defaults in the primary key mean "not chunked".
	if fragmentID != "" {
		d.FragmentID = &fragmentID
	}
	if startByte != -1 {
		d.StartByte = &startByte
	}
	if endByte != -1 {
		d.EndByte = &endByte
	}
	if err := r.ColumnByName("created_on", &d.CreatedOn); err != nil {
		return nil, errors.WithStack(err)
	}
	var status string
	if err := r.ColumnByName("status", &status); err != nil {
		return nil, errors.WithStack(err)
	}
	d.Status = types.DeferredStatus(status)
	if err := r.ColumnByName("delivery_attempt", &d.DeliveryAttempt); err != nil {
		return nil, errors.WithStack(err)
	}
	return &d, nil
}

func scanSummary(r *spanner.Row) (*types.DeferredDisaggregationSummary, error) {
	var s types.DeferredDisaggregationSummary
	if err := r.ColumnByName("source_id", &s.SourceID); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("generation_id", &s.GenerationID); err != nil {
		return nil, errors.WithStack(err)
	}
	var status string
	if err := r.ColumnByName("status", &status); err != nil {
		return nil, errors.WithStack(err)
	}
	s.Status = types.DeferredStatus(status)
	if err := r.ColumnByName("min_created_on", &s.MinCreatedOn); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("max_created_on", &s.MaxCreatedOn); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("artifact_count", &s.ArtifactCount); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("disaggregation_count", &s.DisaggregationCount); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := r.ColumnByName("avg_delivery_attempt", &s.AvgDeliveryAttempt); err != nil {
		return nil, errors.WithStack(err)
	}
	return &s, nil
}

// Sources implements Catalog.
func (c *spannerCatalog) Sources(ctx context.Context, limit, offset int) ([]*types.Source, int, error) {
	stmt := spanner.NewStatement("select * from source order by source_id")
	ret := []*types.Source{}
	next, err := c.queryMany(ctx, stmt, limit, offset, func(r *spanner.Row) error {
		s, err := scanSource(r)
		if err != nil {
			return err
		}
		ret = append(ret, s)
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "listing sources")
	}
	return ret, next, nil
}

// Source implements Catalog.
func (c *spannerCatalog) Source(ctx context.Context, sourceID string) (*types.Source, error) {
	stmt := spanner.NewStatement("select * from source where source_id = @source_id")
	stmt.Params["source_id"] = sourceID
	var ret *types.Source
	err := c.queryZeroOrOne(ctx, stmt, func(r *spanner.Row) error {
		s, err := scanSource(r)
		if err != nil {
			return err
		}
		ret = s
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "source %q", sourceID)
	}
	return ret, nil
}

// PutSource implements Catalog.
func (c *spannerCatalog) PutSource(ctx context.Context, source *types.Source) error {
	m := spanner.InsertOrUpdateMap("source", map[string]interface{}{
		"source_id":           source.SourceID,
		"created_on":          source.CreatedOn,
		"external_id":         source.ExternalID,
		"category":            source.Category,
		"enabled":             source.Enabled,
		"connector":           spanner.NullJSON{Value: source.Connector, Valid: true},
		"extractors":          spanner.NullJSON{Value: source.Extractors, Valid: true},
		"disaggregation_mode": string(source.DisaggregationMode),
		"retain_generations":  source.RetainGenerations,
	})
	if _, err := c.client.Apply(ctx, []*spanner.Mutation{m}); err != nil {
		return errors.Wrapf(err, "writing source %q", source.SourceID)
	}
	return nil
}

// SearchSources implements Catalog.
func (c *spannerCatalog) SearchSources(ctx context.Context, externalIDLike string, limit, offset int) ([]*types.Source, int, error) {
	stmt := spanner.NewStatement("select * from source where external_id like @external_id")
	stmt.Params["external_id"] = externalIDLike
	ret := []*types.Source{}
	next, err := c.queryMany(ctx, stmt, limit, offset, func(r *spanner.Row) error {
		s, err := scanSource(r)
		if err != nil {
			return err
		}
		ret = append(ret, s)
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "searching sources")
	}
	return ret, next, nil
}

// InsertStageRows implements Catalog.
func (c *spannerCatalog) InsertStageRows(ctx context.Context, rows []*types.StageRow) error {
	muts := make([]*spanner.Mutation, 0, len(rows))
	for _, row := range rows {
		muts = append(muts, spanner.InsertMap("stage", map[string]interface{}{
			"stage_id":       row.StageID,
			"batch_id":       row.BatchID,
			"source_id":      row.SourceID,
			"external_id":    row.ExternalID,
			"version":        row.Version,
			"content_length": row.ContentLength,
			"content_type":   row.ContentType,
			"created_on":     row.CreatedOn,
			"artifact_id":    row.ArtifactID,
		}))
	}
	if _, err := c.client.Apply(ctx, muts); err != nil {
		return errors.Wrap(err, "staging rows")
	}
	return nil
}

// CountInsertedUpdated implements Catalog.
func (c *spannerCatalog) CountInsertedUpdated(ctx context.Context, stageID, sourceID string, generationID int64) (int64, error) {
	stmt := spanner.NewStatement(countInsertedUpdatedSQL)
	stmt.Params["stage_id"] = stageID
	stmt.Params["source_id"] = sourceID
	stmt.Params["generation_id"] = generationID
	count, err := c.queryCount(ctx, stmt)
	if err != nil {
		return 0, errors.Wrap(err, "counting inserted and updated artifacts")
	}
	return count, nil
}

// CountDeleted implements Catalog.
func (c *spannerCatalog) CountDeleted(ctx context.Context, stageID, sourceID string, generationID int64) (int64, error) {
	stmt := spanner.NewStatement(countDeletedSQL)
	stmt.Params["stage_id"] = stageID
	stmt.Params["source_id"] = sourceID
	stmt.Params["generation_id"] = generationID
	count, err := c.queryCount(ctx, stmt)
	if err != nil {
		return 0, errors.Wrap(err, "counting deleted artifacts")
	}
	return count, nil
}

// Promote implements Catalog.
func (c *spannerCatalog) Promote(ctx context.Context, stageID string, batchID int64, sourceID string) (PromoteCounts, error) {
	defer metrics2.NewTimer("cif_catalog_promote").Stop()
	params := map[string]interface{}{
		"stage_id":  stageID,
		"batch_id":  batchID,
		"source_id": sourceID,
	}
	var counts PromoteCounts
	_, err := c.client.ReadWriteTransaction(ctx, func(ctx context.Context, rwt *spanner.ReadWriteTransaction) error {
		matched, err := rwt.Update(ctx, spanner.Statement{SQL: promotePass1, Params: params})
		if err != nil {
			return errors.Wrap(err, "matching existing artifacts")
		}
		inserted, err := rwt.Update(ctx, spanner.Statement{SQL: promotePass2, Params: params})
		if err != nil {
			return errors.Wrap(err, "inserting new artifacts")
		}
		total, err := rwt.Update(ctx, spanner.Statement{SQL: promotePass3, Params: params})
		if err != nil {
			return errors.Wrap(err, "inserting generation rows")
		}
		counts = PromoteCounts{Matched: matched, Inserted: inserted, Total: total}
		return nil
	})
	if err != nil {
		return PromoteCounts{}, errors.Wrapf(err, "promoting batch %d of stage %s", batchID, stageID)
	}
	sklog.Debugf("Promoted batch %d of stage %s: matched %d, inserted %d, total %d", batchID, stageID, counts.Matched, counts.Inserted, counts.Total)
	return counts, nil
}

// Generations implements Catalog.
func (c *spannerCatalog) Generations(ctx context.Context, sourceID string, limit, offset int) ([]*types.Generation, int, error) {
	stmt := spanner.NewStatement(`
select distinct source_id, generation_id, created_on from generation
where source_id = @source_id order by generation_id desc`)
	stmt.Params["source_id"] = sourceID
	ret := []*types.Generation{}
	next, err := c.queryMany(ctx, stmt, limit, offset, func(r *spanner.Row) error {
		g, err := scanGeneration(r)
		if err != nil {
			return err
		}
		ret = append(ret, g)
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrapf(err, "listing generations of source %q", sourceID)
	}
	return ret, next, nil
}

// LatestGeneration implements Catalog.
func (c *spannerCatalog) LatestGeneration(ctx context.Context, sourceID string) (*types.Generation, error) {
	stmt := spanner.NewStatement(`
select source_id, generation_id, created_on from generation
where source_id = @source_id order by generation_id desc`)
	stmt.Params["source_id"] = sourceID
	var ret *types.Generation
	err := c.queryZeroOrOne(ctx, stmt, func(r *spanner.Row) error {
		g, err := scanGeneration(r)
		if err != nil {
			return err
		}
		ret = g
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "latest generation of source %q", sourceID)
	}
	return ret, nil
}

// Generation implements Catalog.
func (c *spannerCatalog) Generation(ctx context.Context, sourceID string, generationID int64) (*types.Generation, error) {
	stmt := spanner.NewStatement(`
select distinct source_id, generation_id, created_on from generation
where source_id = @source_id and generation_id = @generation_id`)
	stmt.Params["source_id"] = sourceID
	stmt.Params["generation_id"] = generationID
	var ret *types.Generation
	err := c.queryZeroOrOne(ctx, stmt, func(r *spanner.Row) error {
		g, err := scanGeneration(r)
		if err != nil {
			return err
		}
		ret = g
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "generation %d of source %q", generationID, sourceID)
	}
	return ret, nil
}

// GenerationArtifacts implements Catalog.
func (c *spannerCatalog) GenerationArtifacts(ctx context.Context, sourceID string, generationID int64, limit, offset int) ([]*types.Artifact, int, error) {
	stmt := spanner.NewStatement(`
select a.source_id, a.artifact_id, a.created_on, external_id, version, content_length, content_type
from artifact a
where a.artifact_id in (
select g.artifact_id from generation g
where g.source_id = @source_id and g.generation_id = @generation_id
)
order by a.artifact_id`)
	stmt.Params["source_id"] = sourceID
	stmt.Params["generation_id"] = generationID
	ret := []*types.Artifact{}
	next, err := c.queryMany(ctx, stmt, limit, offset, func(r *spanner.Row) error {
		a, err := scanArtifact(r)
		if err != nil {
			return err
		}
		ret = append(ret, a)
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrapf(err, "listing artifacts of generation %d", generationID)
	}
	return ret, next, nil
}

// NewArtifacts implements Catalog.
func (c *spannerCatalog) NewArtifacts(ctx context.Context, sourceID string, generationID int64, limit, offset int) ([]*types.Artifact, int, error) {
	stmt := spanner.NewStatement(`
select a.source_id, a.artifact_id, a.created_on, external_id, version, content_length, content_type from artifact as a
inner join generation as g on
g.artifact_id = a.artifact_id and g.created_on = a.created_on
where g.source_id = @source_id and g.generation_id = @generation_id`)
	stmt.Params["source_id"] = sourceID
	stmt.Params["generation_id"] = generationID
	ret := []*types.Artifact{}
	next, err := c.queryMany(ctx, stmt, limit, offset, func(r *spanner.Row) error {
		a, err := scanArtifact(r)
		if err != nil {
			return err
		}
		ret = append(ret, a)
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrapf(err, "listing new artifacts of generation %d", generationID)
	}
	return ret, next, nil
}

// Artifact implements Catalog.
func (c *spannerCatalog) Artifact(ctx context.Context, artifactID string) (*types.Artifact, error) {
	stmt := spanner.NewStatement("select * from artifact where artifact_id = @artifact_id")
	stmt.Params["artifact_id"] = artifactID
	var ret *types.Artifact
	err := c.queryZeroOrOne(ctx, stmt, func(r *spanner.Row) error {
		a, err := scanArtifact(r)
		if err != nil {
			return err
		}
		ret = a
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "artifact %q", artifactID)
	}
	return ret, nil
}

// DiffGenerations implements Catalog.
func (c *spannerCatalog) DiffGenerations(ctx context.Context, sourceID string, generationIDA, generationIDB int64, limit, offset int) ([]*types.ArtifactChange, int, error) {
	stmt := spanner.NewStatement(diffGenerationsSQL)
	stmt.Params["source_id"] = sourceID
	stmt.Params["generation_id_a"] = generationIDA
	stmt.Params["generation_id_b"] = generationIDB
	ret := []*types.ArtifactChange{}
	next, err := c.queryMany(ctx, stmt, limit, offset, func(r *spanner.Row) error {
		var change types.ArtifactChange
		if err := r.ColumnByName("external_id", &change.ExternalID); err != nil {
			return errors.WithStack(err)
		}
		var a, b spanner.NullString
		if err := r.ColumnByName("artifact_id_a", &a); err != nil {
			return errors.WithStack(err)
		}
		if err := r.ColumnByName("artifact_id_b", &b); err != nil {
			return errors.WithStack(err)
		}
		if a.Valid {
			change.ArtifactIDA = &a.StringVal
		}
		if b.Valid {
			change.ArtifactIDB = &b.StringVal
		}
		var kind string
		if err := r.ColumnByName("change", &kind); err != nil {
			return errors.WithStack(err)
		}
		change.Change = types.ChangeKind(kind)
		ret = append(ret, &change)
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrapf(err, "diffing generations %d and %d", generationIDA, generationIDB)
	}
	return ret, next, nil
}

// InsertFragments implements Catalog.
func (c *spannerCatalog) InsertFragments(ctx context.Context, fragments []*types.Fragment) error {
	defer metrics2.NewTimer("cif_catalog_insert_fragments").Stop()
	return util.ChunkIter(len(fragments), fragmentBatchSize, func(start, end int) error {
		muts := make([]*spanner.Mutation, 0, end-start)
		for _, f := range fragments[start:end] {
			muts = append(muts, spanner.InsertOrUpdateMap("fragment", map[string]interface{}{
				"source_id":         f.SourceID,
				"artifact_id":       f.ArtifactID,
				"fragment_id":       f.FragmentID,
				"seq_no":            f.SeqNo,
				"aggregation_level": string(f.AggregationLevel),
				"text_content":      f.TextContent,
				"json_content":      spanner.NullJSON{Value: f.JSONContent, Valid: f.JSONContent != nil},
			}))
		}
		if _, err := c.client.Apply(ctx, muts); err != nil {
			return errors.Wrap(err, "inserting fragments")
		}
		return nil
	})
}

// InsertFragmentKeys implements Catalog.
func (c *spannerCatalog) InsertFragmentKeys(ctx context.Context, keys []*types.FragmentKey) error {
	return util.ChunkIter(len(keys), fragmentKeyBatchSize, func(start, end int) error {
		muts := make([]*spanner.Mutation, 0, end-start)
		for _, k := range keys[start:end] {
			muts = append(muts, spanner.InsertOrUpdateMap("fragment_key", map[string]interface{}{
				"source_id":   k.SourceID,
				"artifact_id": k.ArtifactID,
				"fragment_id": k.FragmentID,
				"seq_no":      k.SeqNo,
				"key":         k.Key,
				"value":       k.Value,
			}))
		}
		if _, err := c.client.Apply(ctx, muts); err != nil {
			return errors.Wrap(err, "inserting fragment keys")
		}
		return nil
	})
}

// appendSearchFilters extends a fragment search where clause with the common
// filters. When opts.GenerationID is zero the search is pinned to the latest
// generation of the source via a subselect.
func appendSearchFilters(where string, params map[string]interface{}, query string, ngram bool, opts SearchOptions) string {
	if opts.AggregationLevel != "" {
		where += " and aggregation_level = @aggregation_level"
		params["aggregation_level"] = string(opts.AggregationLevel)
	}
	if opts.GenerationID != 0 {
		where += " and g.generation_id = @generation_id"
		params["generation_id"] = opts.GenerationID
	} else {
		where += " and g.generation_id = (select max(generation_id) from generation where source_id = @source_id)"
	}
	if opts.ExternalID != "" {
		where += " and a.external_id = @external_id"
		params["external_id"] = opts.ExternalID
	}
	if query != "" {
		if ngram {
			where += " and search_ngrams(f.ngram_tokens, @query)"
		} else {
			where += " and search(f.text_tokens, @query)"
		}
		params["query"] = query
	}
	return where
}

// SearchFragments implements Catalog. Query and scoreQuery use Spanner's
// rquery syntax, see
// https://cloud.google.com/spanner/docs/reference/standard-sql/search_functions#rquery-syntax
func (c *spannerCatalog) SearchFragments(ctx context.Context, sourceID, query, scoreQuery string, ngram bool, opts SearchOptions, limit, offset int) ([]*types.FragmentMatch, int, error) {
	defer metrics2.NewTimer("cif_catalog_search_fragments", map[string]string{"ngram": fmt.Sprint(ngram)}).Stop()
	if ngram {
		if query == "" && scoreQuery == "" {
			return nil, 0, types.Validationf("at least one of query or score_query must be supplied for ngram searches")
		}
	} else if query == "" {
		return nil, 0, types.Validationf("a query is required for text searches")
	}
	if scoreQuery == "" {
		scoreQuery = query
	}
	relevance := "score(f.text_tokens, @score_query) as relevance"
	if ngram {
		relevance = "score_ngrams(f.ngram_tokens, @score_query) as relevance"
	}
	params := map[string]interface{}{
		"source_id":   sourceID,
		"score_query": scoreQuery,
	}
	where := appendSearchFilters("where f.source_id = @source_id", params, query, ngram, opts)
	stmt := spanner.Statement{
		SQL: fmt.Sprintf(`
select f.*, a.external_id, g.generation_id, %s from fragment f
inner join generation g on f.source_id = g.source_id and f.artifact_id = g.artifact_id
inner join artifact a on f.source_id = a.source_id and a.artifact_id = f.artifact_id
%s
order by relevance desc`, relevance, where),
		Params: params,
	}
	ret := []*types.FragmentMatch{}
	next, err := c.queryMany(ctx, stmt, limit, offset, func(r *spanner.Row) error {
		m, err := scanFragmentMatch(r, true)
		if err != nil {
			return err
		}
		ret = append(ret, m)
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrapf(err, "searching fragments of source %q", sourceID)
	}
	return ret, next, nil
}

// SearchFragmentsJSON implements Catalog. JSON paths use the format accepted
// by Spanner's JSON_VALUE function, see
// https://cloud.google.com/spanner/docs/reference/standard-sql/json_functions#json_value
func (c *spannerCatalog) SearchFragmentsJSON(ctx context.Context, sourceID string, terms []types.JSONSearchTerm, opts SearchOptions, limit, offset int) ([]*types.FragmentMatch, int, error) {
	if len(terms) == 0 {
		return nil, 0, types.Validationf("at least one search term is required")
	}
	params := map[string]interface{}{"source_id": sourceID}
	clauses := make([]string, 0, len(terms))
	for i, term := range terms {
		if term.JSONPath == "" || len(term.Values) == 0 {
			return nil, 0, types.Validationf("each search term requires a json_path and at least one value")
		}
		pathParam := fmt.Sprintf("json_path%d", i)
		params[pathParam] = term.JSONPath
		placeholders := make([]string, 0, len(term.Values))
		for j, v := range term.Values {
			valueParam := fmt.Sprintf("value%d_%d", i, j)
			params[valueParam] = v
			placeholders = append(placeholders, "@"+valueParam)
		}
		clauses = append(clauses, fmt.Sprintf("json_value(f.json_content, @%s) in (%s)", pathParam, strings.Join(placeholders, ", ")))
	}
	where := appendSearchFilters("where f.source_id = @source_id and "+strings.Join(clauses, " and "), params, "", false, opts)
	stmt := spanner.Statement{
		SQL: fmt.Sprintf(`
select f.*, a.external_id, g.generation_id from fragment f
inner join generation g on f.source_id = g.source_id and f.artifact_id = g.artifact_id
inner join artifact a on f.source_id = a.source_id and a.artifact_id = f.artifact_id
%s`, where),
		Params: params,
	}
	ret := []*types.FragmentMatch{}
	next, err := c.queryMany(ctx, stmt, limit, offset, func(r *spanner.Row) error {
		m, err := scanFragmentMatch(r, false)
		if err != nil {
			return err
		}
		ret = append(ret, m)
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrapf(err, "searching fragments of source %q by json content", sourceID)
	}
	return ret, next, nil
}

// SearchFragmentsKey implements Catalog. Fragments match when they carry
// every supplied key with one of its allowed values.
func (c *spannerCatalog) SearchFragmentsKey(ctx context.Context, sourceID string, terms []types.KeySearchTerm, opts SearchOptions, limit, offset int) ([]*types.FragmentMatch, int, error) {
	// source_id is interpolated into the statement text below, so enforce
	// its format first.
	if err := types.ValidateID(sourceID); err != nil {
		return nil, 0, err
	}
	if len(terms) == 0 {
		return nil, 0, types.Validationf("at least one search term is required")
	}
	params := map[string]interface{}{}
	clauses := make([]string, 0, len(terms))
	for i, term := range terms {
		if term.Key == "" || len(term.Values) == 0 {
			return nil, 0, types.Validationf("each search term requires a key and at least one value")
		}
		keyParam := fmt.Sprintf("key%d", i)
		params[keyParam] = term.Key
		placeholders := make([]string, 0, len(term.Values))
		for j, v := range term.Values {
			valueParam := fmt.Sprintf("value%d_%d", i, j)
			params[valueParam] = v
			placeholders = append(placeholders, "@"+valueParam)
		}
		clauses = append(clauses, fmt.Sprintf("(key = @%s and value in (%s))", keyParam, strings.Join(placeholders, ", ")))
	}
	filters := appendSearchFilters("where f.source_id = @source_id", params, "", false, opts)
	sql := fmt.Sprintf(`
select f.*, a.external_id, g.generation_id from fragment f
join (
select source_id, artifact_id, fragment_id, seq_no
from fragment_key
where (%s)
and source_id = @source_id
group by source_id, artifact_id, fragment_id, seq_no having count(distinct key) = %d) matches
on f.source_id = matches.source_id and f.artifact_id = matches.artifact_id and
f.fragment_id = matches.fragment_id and f.seq_no = matches.seq_no
inner join artifact a on f.artifact_id = a.artifact_id and f.source_id = a.source_id
inner join generation g on f.artifact_id = g.artifact_id and f.source_id = g.source_id
%s`, strings.Join(clauses, " or "), len(terms), filters)
	// The grouped subquery keeps the planner from accepting source_id as a
	// bound parameter, so the validated literal is substituted for every
	// occurrence instead.
	sql = strings.ReplaceAll(sql, "@source_id", "'"+sourceID+"'")
	stmt := spanner.Statement{SQL: sql, Params: params}
	ret := []*types.FragmentMatch{}
	next, err := c.queryMany(ctx, stmt, limit, offset, func(r *spanner.Row) error {
		m, err := scanFragmentMatch(r, false)
		if err != nil {
			return err
		}
		ret = append(ret, m)
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrapf(err, "searching fragments of source %q by key", sourceID)
	}
	return ret, next, nil
}

// deferredRow converts a DeferredDisaggregation into column values, mapping
// the optional chunk fields onto the sentinel defaults used in the primary
// key.
func deferredRow(row *types.DeferredDisaggregation, status types.DeferredStatus, deliveryAttempt int64) map[string]interface{} {
	fragmentID := ""
	if row.FragmentID != nil {
		fragmentID = *row.FragmentID
	}
	startByte := int64(-1)
	if row.StartByte != nil {
		startByte = *row.StartByte
	}
	endByte := int64(-1)
	if row.EndByte != nil {
		endByte = *row.EndByte
	}
	return map[string]interface{}{
		"source_id":        row.SourceID,
		"generation_id":    row.GenerationID,
		"artifact_id":      row.ArtifactID,
		"extractor_type":   row.ExtractorType,
		"fragment_id":      fragmentID,
		"start_byte":       startByte,
		"end_byte":         endByte,
		"created_on":       row.CreatedOn,
		"status":           string(status),
		"delivery_attempt": deliveryAttempt,
	}
}

// UpsertDeferredDisaggregations implements Catalog.
func (c *spannerCatalog) UpsertDeferredDisaggregations(ctx context.Context, rows []*types.DeferredDisaggregation) error {
	return util.ChunkIter(len(rows), deferredBatchSize, func(start, end int) error {
		muts := make([]*spanner.Mutation, 0, end-start)
		for _, row := range rows[start:end] {
			muts = append(muts, spanner.InsertOrUpdateMap("deferred_disaggregation", deferredRow(row, row.Status, row.DeliveryAttempt)))
		}
		if _, err := c.client.Apply(ctx, muts); err != nil {
			return errors.Wrap(err, "writing deferred disaggregations")
		}
		return nil
	})
}

// UpdateDeferredStatus implements Catalog.
func (c *spannerCatalog) UpdateDeferredStatus(ctx context.Context, row *types.DeferredDisaggregation, status types.DeferredStatus, deliveryAttempt int64) error {
	m := spanner.InsertOrUpdateMap("deferred_disaggregation", deferredRow(row, status, deliveryAttempt))
	if _, err := c.client.Apply(ctx, []*spanner.Mutation{m}); err != nil {
		return errors.Wrapf(err, "marking deferred disaggregation %s", status)
	}
	return nil
}

// appendDeferredFilters builds the where clause for deferred work queries.
// An unset start time means midnight UTC of the current day.
func appendDeferredFilters(ctx context.Context, q DeferredQuery, params map[string]interface{}) string {
	start := q.CreatedOnStart
	if start.IsZero() {
		start = now.Now(ctx).UTC().Truncate(24 * time.Hour)
	}
	params["created_on_start"] = start
	where := "where created_on >= @created_on_start"
	if !q.CreatedOnEnd.IsZero() {
		where += " and created_on <= @created_on_end"
		params["created_on_end"] = q.CreatedOnEnd
	}
	if q.SourceID != "" {
		where += " and source_id = @source_id"
		params["source_id"] = q.SourceID
	}
	return where
}

// DeferredDisaggregations implements Catalog.
func (c *spannerCatalog) DeferredDisaggregations(ctx context.Context, q DeferredQuery) ([]*types.DeferredDisaggregation, int, error) {
	params := map[string]interface{}{}
	where := appendDeferredFilters(ctx, q, params)
	stmt := spanner.Statement{
		SQL: fmt.Sprintf(`
select * from deferred_disaggregation
%s
order by source_id, created_on, status desc`, where),
		Params: params,
	}
	ret := []*types.DeferredDisaggregation{}
	next, err := c.queryMany(ctx, stmt, q.Limit, q.Offset, func(r *spanner.Row) error {
		d, err := scanDeferred(r)
		if err != nil {
			return err
		}
		ret = append(ret, d)
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "listing deferred disaggregations")
	}
	return ret, next, nil
}

// DeferredDisaggregationSummaries implements Catalog.
func (c *spannerCatalog) DeferredDisaggregationSummaries(ctx context.Context, q DeferredQuery) ([]*types.DeferredDisaggregationSummary, int, error) {
	params := map[string]interface{}{}
	where := appendDeferredFilters(ctx, q, params)
	stmt := spanner.Statement{
		SQL: fmt.Sprintf(`
select source_id, generation_id, status,
min(created_on) as min_created_on, max(created_on) as max_created_on,
count(distinct artifact_id) as artifact_count, count(*) as disaggregation_count,
avg(delivery_attempt) as avg_delivery_attempt
from deferred_disaggregation
%s
group by 1,2,3
order by source_id, generation_id, min_created_on, status`, where),
		Params: params,
	}
	ret := []*types.DeferredDisaggregationSummary{}
	next, err := c.queryMany(ctx, stmt, q.Limit, q.Offset, func(r *spanner.Row) error {
		s, err := scanSummary(r)
		if err != nil {
			return err
		}
		ret = append(ret, s)
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "summarizing deferred disaggregations")
	}
	return ret, next, nil
}
