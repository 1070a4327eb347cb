// Package sql defines the Spanner schema for the CIF catalog database.
package sql

// Schema is the GoogleSQL DDL for the catalog. Statements are separated by
// semicolons and ordered so they can be applied to an empty database in one
// UpdateDatabaseDdl call.
//
// The stage, artifact and generation tables participate in the promotion
// transaction, which modifies 11 columns and 2 index entries per staged row.
// Changing their shape changes the mutation count per row; revisit
// intake.BatchSize if you do.
const Schema = `
CREATE TABLE source (
  source_id STRING(32) NOT NULL,
  created_on TIMESTAMP NOT NULL,
  external_id STRING(MAX) NOT NULL,
  category STRING(MAX) NOT NULL,
  enabled BOOL NOT NULL,
  connector JSON NOT NULL,
  extractors JSON NOT NULL,
  disaggregation_mode STRING(32) NOT NULL,
  retain_generations INT64 NOT NULL
) PRIMARY KEY (source_id);

CREATE TABLE stage (
  stage_id STRING(32) NOT NULL,
  batch_id INT64 NOT NULL,
  source_id STRING(32) NOT NULL,
  external_id STRING(MAX) NOT NULL,
  version STRING(MAX) NOT NULL,
  content_length INT64 NOT NULL,
  content_type STRING(MAX) NOT NULL,
  created_on TIMESTAMP NOT NULL,
  artifact_id STRING(32) NOT NULL
) PRIMARY KEY (stage_id, batch_id, source_id, external_id);

CREATE TABLE artifact (
  artifact_id STRING(32) NOT NULL,
  source_id STRING(32) NOT NULL,
  external_id STRING(MAX) NOT NULL,
  version STRING(MAX) NOT NULL,
  content_type STRING(MAX) NOT NULL,
  content_length INT64 NOT NULL,
  created_on TIMESTAMP NOT NULL
) PRIMARY KEY (artifact_id);

CREATE UNIQUE INDEX artifact_by_identity ON artifact(source_id, external_id, version);

CREATE TABLE generation (
  source_id STRING(32) NOT NULL,
  generation_id INT64 NOT NULL,
  artifact_id STRING(32) NOT NULL,
  created_on TIMESTAMP NOT NULL
) PRIMARY KEY (source_id, generation_id, artifact_id);

CREATE INDEX generation_by_artifact ON generation(source_id, artifact_id);

CREATE TABLE fragment (
  source_id STRING(32) NOT NULL,
  artifact_id STRING(32) NOT NULL,
  fragment_id STRING(32) NOT NULL,
  seq_no INT64 NOT NULL,
  aggregation_level STRING(32) NOT NULL,
  text_content STRING(MAX) NOT NULL,
  json_content JSON,
  text_tokens TOKENLIST AS (TOKENIZE_FULLTEXT(text_content)) HIDDEN,
  ngram_tokens TOKENLIST AS (TOKENIZE_NGRAMS(text_content)) HIDDEN,
  json_tokens TOKENLIST AS (TOKENIZE_JSON(json_content)) HIDDEN
) PRIMARY KEY (artifact_id, fragment_id, seq_no);

CREATE SEARCH INDEX fragment_by_text_tokens ON fragment(text_tokens);

CREATE SEARCH INDEX fragment_by_ngram_tokens ON fragment(ngram_tokens);

CREATE SEARCH INDEX fragment_by_json_tokens ON fragment(json_tokens);

CREATE TABLE fragment_key (
  source_id STRING(32) NOT NULL,
  artifact_id STRING(32) NOT NULL,
  fragment_id STRING(32) NOT NULL,
  seq_no INT64 NOT NULL,
  key STRING(MAX) NOT NULL,
  value STRING(MAX) NOT NULL
) PRIMARY KEY (artifact_id, fragment_id, seq_no, key, value);

CREATE INDEX fragment_key_by_key_value ON fragment_key(source_id, key, value);

CREATE TABLE deferred_disaggregation (
  source_id STRING(32) NOT NULL,
  generation_id INT64 NOT NULL,
  artifact_id STRING(32) NOT NULL,
  extractor_type STRING(MAX) NOT NULL,
  fragment_id STRING(32) NOT NULL DEFAULT (""),
  start_byte INT64 NOT NULL DEFAULT (-1),
  end_byte INT64 NOT NULL DEFAULT (-1),
  created_on TIMESTAMP NOT NULL,
  status STRING(32) NOT NULL,
  delivery_attempt INT64 NOT NULL
) PRIMARY KEY (source_id, generation_id, artifact_id, extractor_type, fragment_id, start_byte, end_byte);
`
