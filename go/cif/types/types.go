// Package types defines the entities stored in the CIF catalog and passed
// between the intake, disaggregation, worker and frontend components.
package types

import (
	"time"
)

// DisaggregationMode selects how fragments are produced for a new generation.
type DisaggregationMode string

const (
	// DisaggregationImmediate extracts fragments serially in the ingestion
	// process.
	DisaggregationImmediate DisaggregationMode = "IMMEDIATE"

	// DisaggregationImmediateChunked extracts fragments in the ingestion
	// process, splitting each artifact into line chunks processed
	// concurrently.
	DisaggregationImmediateChunked DisaggregationMode = "IMMEDIATE_CHUNKED"

	// DisaggregationDeferred hands each (artifact, extractor) pair to the
	// worker pool via the work topic.
	DisaggregationDeferred DisaggregationMode = "DEFERRED"

	// DisaggregationDeferredChunked hands each (artifact, chunk, extractor)
	// tuple to the worker pool via the work topic.
	DisaggregationDeferredChunked DisaggregationMode = "DEFERRED_CHUNKED"
)

// AllDisaggregationModes lists every valid DisaggregationMode.
var AllDisaggregationModes = []DisaggregationMode{
	DisaggregationImmediate,
	DisaggregationImmediateChunked,
	DisaggregationDeferred,
	DisaggregationDeferredChunked,
}

// AggregationLevel describes the granularity of a fragment.
type AggregationLevel string

const (
	AggregationDocument AggregationLevel = "DOCUMENT"
	AggregationLink     AggregationLevel = "LINK"
	AggregationTitle    AggregationLevel = "TITLE"
	AggregationRow      AggregationLevel = "ROW"
)

// ChangeKind classifies one external_id in a generation diff.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "INSERTED"
	ChangeDeleted  ChangeKind = "DELETED"
	ChangeUpdated  ChangeKind = "UPDATED"
	ChangeNone     ChangeKind = "NONE"
)

// DeferredStatus is the lifecycle state of one deferred disaggregation unit.
type DeferredStatus string

const (
	DeferredPending DeferredStatus = "PENDING"
	DeferredDone    DeferredStatus = "DONE"
	DeferredFailed  DeferredStatus = "FAILED"
)

// Source is a registered upstream system whose artifacts CIF ingests.
//
// The connector and extractor configurations are stored as JSON columns and
// reified at runtime by the factory package.
type Source struct {
	SourceID           string             `json:"source_id"`
	CreatedOn          time.Time          `json:"created_on"`
	ExternalID         string             `json:"external_id"`
	Category           string             `json:"category"`
	Enabled            bool               `json:"enabled"`
	Connector          Config             `json:"connector"`
	Extractors         []Config           `json:"extractors"`
	DisaggregationMode DisaggregationMode `json:"disaggregation_mode"`
	RetainGenerations  int64              `json:"retain_generations"`
}

// Generation is one content-addressed snapshot of a source.
//
// GenerationID is derived from CreatedOn as the number of microseconds since
// the Unix epoch, so ids order chronologically and the pair never disagrees.
type Generation struct {
	SourceID     string    `json:"source_id"`
	GenerationID int64     `json:"generation_id"`
	CreatedOn    time.Time `json:"created_on"`
}

// Artifact is one immutable version of an upstream item. The same artifact
// row is shared by every generation that observed the identical version.
type Artifact struct {
	SourceID      string    `json:"source_id"`
	ArtifactID    string    `json:"artifact_id"`
	CreatedOn     time.Time `json:"created_on"`
	ExternalID    string    `json:"external_id"`
	Version       string    `json:"version"`
	ContentLength int64     `json:"content_length"`
	ContentType   string    `json:"content_type"`
}

// StageRow is one listed artifact awaiting promotion. Rows are written in
// numbered batches so each batch can be promoted in its own transaction.
type StageRow struct {
	StageID       string    `json:"stage_id"`
	BatchID       int64     `json:"batch_id"`
	SourceID      string    `json:"source_id"`
	ArtifactID    string    `json:"artifact_id"`
	CreatedOn     time.Time `json:"created_on"`
	ExternalID    string    `json:"external_id"`
	Version       string    `json:"version"`
	ContentLength int64     `json:"content_length"`
	ContentType   string    `json:"content_type"`
}

// ArtifactChange reports how one external_id differs between two generations.
// ArtifactIDA and ArtifactIDB are nil on the side where the external_id is
// absent.
type ArtifactChange struct {
	ExternalID  string     `json:"external_id"`
	ArtifactIDA *string    `json:"artifact_id_a"`
	ArtifactIDB *string    `json:"artifact_id_b"`
	Change      ChangeKind `json:"change"`
}

// Fragment is one unit of extracted content.
//
// Fragments produced by splitting a single logical extraction across chunks
// share a fragment_id and are ordered by seq_no. Fragments that stand alone
// have a unique fragment_id and seq_no 0.
type Fragment struct {
	SourceID         string            `json:"source_id"`
	ArtifactID       string            `json:"artifact_id"`
	FragmentID       string            `json:"fragment_id"`
	AggregationLevel AggregationLevel  `json:"aggregation_level"`
	SeqNo            int64             `json:"seq_no"`
	TextContent      string            `json:"text_content"`
	JSONContent      map[string]string `json:"json_content,omitempty"`
}

// FragmentKey is one exact-match key/value pair attached to a fragment.
type FragmentKey struct {
	SourceID   string `json:"source_id"`
	ArtifactID string `json:"artifact_id"`
	FragmentID string `json:"fragment_id"`
	SeqNo      int64  `json:"seq_no"`
	Key        string `json:"key"`
	Value      string `json:"value"`
}

// FragmentMatch is a Fragment joined with its generation membership, as
// returned by the search operations. Relevance is only set by the scored
// text searches.
type FragmentMatch struct {
	Fragment
	GenerationID int64    `json:"generation_id"`
	ExternalID   string   `json:"external_id"`
	Relevance    *float64 `json:"relevance,omitempty"`
}

// DeferredDisaggregation is one unit of deferred extraction work. The same
// record is persisted in the catalog and published to the work topic.
//
// FragmentID, StartByte and EndByte are only set for chunked work. They
// serialize as JSON null when absent.
type DeferredDisaggregation struct {
	SourceID        string         `json:"source_id"`
	GenerationID    int64          `json:"generation_id"`
	ArtifactID      string         `json:"artifact_id"`
	ExtractorType   string         `json:"extractor_type"`
	FragmentID      *string        `json:"fragment_id"`
	StartByte       *int64         `json:"start_byte"`
	EndByte         *int64         `json:"end_byte"`
	CreatedOn       time.Time      `json:"created_on"`
	Status          DeferredStatus `json:"status"`
	DeliveryAttempt int64          `json:"delivery_attempt"`
}

// DeferredDisaggregationSummary aggregates deferred work rows by source,
// generation and status.
type DeferredDisaggregationSummary struct {
	SourceID            string         `json:"source_id"`
	GenerationID        int64          `json:"generation_id"`
	DisaggregationCount int64          `json:"disaggregation_count"`
	ArtifactCount       int64          `json:"artifact_count"`
	AvgDeliveryAttempt  float64        `json:"avg_delivery_attempt"`
	MinCreatedOn        time.Time      `json:"min_created_on"`
	MaxCreatedOn        time.Time      `json:"max_created_on"`
	Status              DeferredStatus `json:"status"`
}

// JSONSearchTerm matches fragments whose json_content has one of Values at
// JSONPath, e.g. {"$.state", ["CA", "OR"]}.
type JSONSearchTerm struct {
	JSONPath string   `json:"json_path"`
	Values   []string `json:"values"`
}

// KeySearchTerm matches fragments carrying a fragment key named Key with a
// value in Values.
type KeySearchTerm struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// ByteRange is an inclusive byte span within an artifact.
type ByteRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Fingerprint is the identifying metadata of one artifact version as
// reported by a connector.
type Fingerprint struct {
	Version       string
	ContentLength int64
	ContentType   string
}

// GenerationIDFromTime derives the generation id for a generation created at
// the given time.
func GenerationIDFromTime(createdOn time.Time) int64 {
	return createdOn.Truncate(time.Microsecond).UnixMicro()
}
