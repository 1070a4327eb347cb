// Package factory reifies the connector and extractor configurations stored
// on a source into live connector and extractor instances.
//
// Configurations are tagged JSON objects. The "type" field selects a builder
// from a registry, so supporting a new connector or extractor is a registry
// entry rather than a new code path through the callers.
package factory

import (
	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/pkg/errors"

	"go.skia.org/cif/go/cif/connector"
	"go.skia.org/cif/go/cif/extractor"
	"go.skia.org/cif/go/cif/types"
)

// FilesystemConnectorConfig configures a connector reading files under a
// root directory.
type FilesystemConnectorConfig struct {
	Type        string `json:"type"`
	Root        string `json:"root"`
	GlobPattern string `json:"glob_pattern"`
}

// BucketConnectorConfig configures a connector reading objects from a GCS
// bucket.
type BucketConnectorConfig struct {
	Type        string `json:"type"`
	BucketName  string `json:"bucket_name"`
	GlobPattern string `json:"glob_pattern"`
}

// DynamicPrefixBucketConnectorConfig configures a bucket connector that
// lists under the greatest top-level directory matching a prefix, for
// sources that land dated drops like "epolicies_20250407/".
type DynamicPrefixBucketConnectorConfig struct {
	Type                string `json:"type"`
	BucketName          string `json:"bucket_name"`
	ArtifactGlobPattern string `json:"artifact_glob_pattern"`
	Prefix              string `json:"prefix"`
}

// BigQueryConnectorConfig configures a connector treating the rows of a
// query as artifacts.
type BigQueryConnectorConfig struct {
	Type       string   `json:"type"`
	SQL        string   `json:"sql"`
	KeyColumns []string `json:"key_columns"`
}

// ExtractorConfig is the shared configuration shape of every extractor.
type ExtractorConfig struct {
	Type              string                      `json:"type"`
	TextContentFilter *extractor.TextFilterConfig `json:"text_content_filter,omitempty"`
}

// Factory builds connectors and extractors from stored configurations. The
// GCS and BigQuery clients may be nil when no source in the deployment needs
// them.
type Factory struct {
	gcs *storage.Client
	bq  *bigquery.Client
}

// New returns a Factory using the given clients.
func New(gcs *storage.Client, bq *bigquery.Client) *Factory {
	return &Factory{gcs: gcs, bq: bq}
}

// connectorBuilders maps config type names to connector constructors.
var connectorBuilders = map[string]func(f *Factory, cfg types.Config) (connector.Connector, error){
	"FilesystemConnector": func(f *Factory, cfg types.Config) (connector.Connector, error) {
		var c FilesystemConnectorConfig
		if err := cfg.Decode(&c); err != nil {
			return nil, err
		}
		return connector.NewFilesystem(c.Root, c.GlobPattern), nil
	},
	"BucketConnector": func(f *Factory, cfg types.Config) (connector.Connector, error) {
		var c BucketConnectorConfig
		if err := cfg.Decode(&c); err != nil {
			return nil, err
		}
		if f.gcs == nil {
			return nil, errors.New("no GCS client configured")
		}
		return connector.NewBucket(f.gcs, c.BucketName, c.GlobPattern), nil
	},
	"DynamicPrefixBucketConnector": func(f *Factory, cfg types.Config) (connector.Connector, error) {
		var c DynamicPrefixBucketConnectorConfig
		if err := cfg.Decode(&c); err != nil {
			return nil, err
		}
		if f.gcs == nil {
			return nil, errors.New("no GCS client configured")
		}
		return connector.NewDynamicPrefixBucket(f.gcs, c.BucketName, c.ArtifactGlobPattern, c.Prefix), nil
	},
	"BigQueryConnector": func(f *Factory, cfg types.Config) (connector.Connector, error) {
		var c BigQueryConnectorConfig
		if err := cfg.Decode(&c); err != nil {
			return nil, err
		}
		if f.bq == nil {
			return nil, errors.New("no BigQuery client configured")
		}
		return connector.NewBigQuery(f.bq, c.SQL, c.KeyColumns), nil
	},
}

// extractorBuilders maps config type names to extractor constructors.
var extractorBuilders = map[string]func(conn connector.Connector, filter *extractor.TextFilter) extractor.Extractor{
	"HTMLExtractor": func(conn connector.Connector, filter *extractor.TextFilter) extractor.Extractor {
		return extractor.NewHTML(conn, filter)
	},
	"HTMLLinkExtractor": func(conn connector.Connector, filter *extractor.TextFilter) extractor.Extractor {
		return extractor.NewHTMLLink(conn, filter)
	},
	"HTMLTitleExtractor": func(conn connector.Connector, filter *extractor.TextFilter) extractor.Extractor {
		return extractor.NewHTMLTitle(conn, filter)
	},
	"CSVRowExtractor": func(conn connector.Connector, filter *extractor.TextFilter) extractor.Extractor {
		return extractor.NewCSVRow(conn, filter)
	},
}

// Connector builds the connector configured on source.
func (f *Factory) Connector(source *types.Source) (connector.Connector, error) {
	build, ok := connectorBuilders[source.Connector.Type]
	if !ok {
		return nil, errors.Wrapf(types.ErrNotFound, "no connector registered for type %q", source.Connector.Type)
	}
	return build(f, source.Connector)
}

func buildExtractor(cfg types.Config, conn connector.Connector) (extractor.Extractor, error) {
	build, ok := extractorBuilders[cfg.Type]
	if !ok {
		return nil, errors.Wrapf(types.ErrNotFound, "no extractor registered for type %q", cfg.Type)
	}
	var c ExtractorConfig
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	return build(conn, extractor.NewTextFilter(c.TextContentFilter)), nil
}

// Extractors builds every extractor configured on source, reading through
// conn, in configuration order.
func (f *Factory) Extractors(source *types.Source, conn connector.Connector) ([]extractor.Extractor, error) {
	ret := make([]extractor.Extractor, 0, len(source.Extractors))
	for _, cfg := range source.Extractors {
		e, err := buildExtractor(cfg, conn)
		if err != nil {
			return nil, err
		}
		ret = append(ret, e)
	}
	return ret, nil
}

// Extractor builds the single extractor of the given type configured on
// source. Deferred work records extractors by type, so the worker rebuilds
// exactly the one that was requested.
func (f *Factory) Extractor(source *types.Source, conn connector.Connector, extractorType string) (extractor.Extractor, error) {
	for _, cfg := range source.Extractors {
		if cfg.Type == extractorType {
			return buildExtractor(cfg, conn)
		}
	}
	return nil, errors.Wrapf(types.ErrNotFound, "source %s has no extractor of type %q", source.SourceID, extractorType)
}
