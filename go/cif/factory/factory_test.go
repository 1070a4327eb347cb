package factory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.skia.org/cif/go/cif/connector"
	"go.skia.org/cif/go/cif/extractor"
	"go.skia.org/cif/go/cif/types"
)

func mustConfig(t *testing.T, v interface{}) types.Config {
	t.Helper()
	cfg, err := types.NewConfig(v)
	require.NoError(t, err)
	return cfg
}

func TestConnector_BuildsFilesystemConnectorFromConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.html"), []byte("<html></html>"), 0644))
	f := New(nil, nil)
	source := &types.Source{
		SourceID: "src1",
		Connector: mustConfig(t, FilesystemConnectorConfig{
			Type:        "FilesystemConnector",
			Root:        dir,
			GlobPattern: "**.html",
		}),
	}

	conn, err := f.Connector(source)
	require.NoError(t, err)
	listed := []string{}
	require.NoError(t, conn.ListArtifacts(context.Background(), func(externalID string, fp types.Fingerprint) error {
		listed = append(listed, externalID)
		return nil
	}))
	assert.Equal(t, []string{"a.html"}, listed)
}

func TestConnector_UnknownTypeIsNotFound(t *testing.T) {
	f := New(nil, nil)
	source := &types.Source{
		Connector: mustConfig(t, map[string]string{"type": "CarrierPigeonConnector"}),
	}

	_, err := f.Connector(source)
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestConnector_BucketTypesRequireAGCSClient(t *testing.T) {
	f := New(nil, nil)
	for _, cfg := range []interface{}{
		BucketConnectorConfig{Type: "BucketConnector", BucketName: "b", GlobPattern: "**"},
		DynamicPrefixBucketConnectorConfig{Type: "DynamicPrefixBucketConnector", BucketName: "b", ArtifactGlobPattern: "**", Prefix: "drop_"},
	} {
		source := &types.Source{Connector: mustConfig(t, cfg)}
		_, err := f.Connector(source)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no GCS client configured")
	}
}

func TestConnector_BigQueryTypeRequiresABigQueryClient(t *testing.T) {
	f := New(nil, nil)
	source := &types.Source{
		Connector: mustConfig(t, BigQueryConnectorConfig{
			Type:       "BigQueryConnector",
			SQL:        "SELECT * FROM t",
			KeyColumns: []string{"id"},
		}),
	}

	_, err := f.Connector(source)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no BigQuery client configured")
}

func TestExtractors_BuiltInConfigurationOrder(t *testing.T) {
	f := New(nil, nil)
	source := &types.Source{
		SourceID: "src1",
		Extractors: []types.Config{
			mustConfig(t, ExtractorConfig{Type: "HTMLExtractor"}),
			mustConfig(t, ExtractorConfig{Type: "HTMLLinkExtractor"}),
			mustConfig(t, ExtractorConfig{Type: "HTMLTitleExtractor"}),
		},
	}

	extractors, err := f.Extractors(source, nil)
	require.NoError(t, err)
	require.Len(t, extractors, 3)
	assert.Equal(t, "HTMLExtractor", extractors[0].Type())
	assert.Equal(t, "HTMLLinkExtractor", extractors[1].Type())
	assert.Equal(t, "HTMLTitleExtractor", extractors[2].Type())
}

func TestExtractor_SelectsByType(t *testing.T) {
	f := New(nil, nil)
	source := &types.Source{
		SourceID: "src1",
		Extractors: []types.Config{
			mustConfig(t, ExtractorConfig{Type: "HTMLExtractor"}),
			mustConfig(t, ExtractorConfig{Type: "CSVRowExtractor"}),
		},
	}

	e, err := f.Extractor(source, nil, "CSVRowExtractor")
	require.NoError(t, err)
	assert.Equal(t, "CSVRowExtractor", e.Type())

	_, err = f.Extractor(source, nil, "HTMLTitleExtractor")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestExtractor_UnknownTypeIsNotFound(t *testing.T) {
	f := New(nil, nil)
	source := &types.Source{
		SourceID: "src1",
		Extractors: []types.Config{
			mustConfig(t, map[string]string{"type": "TeaLeafExtractor"}),
		},
	}

	_, err := f.Extractor(source, nil, "TeaLeafExtractor")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestExtractors_TextFilterIsWired(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.html"),
		[]byte("<html><body>This is the significant content</body></html>"), 0644))
	conn := connector.NewFilesystem(dir, "**.html")
	f := New(nil, nil)
	source := &types.Source{
		SourceID: "src1",
		Extractors: []types.Config{
			mustConfig(t, ExtractorConfig{
				Type: "HTMLExtractor",
				TextContentFilter: &extractor.TextFilterConfig{
					IncludeBaseStopWords: true,
					AdditionalStopWords:  []string{"content"},
				},
			}),
		},
	}

	extractors, err := f.Extractors(source, conn)
	require.NoError(t, err)
	require.Len(t, extractors, 1)
	artifact := &types.Artifact{SourceID: "src1", ArtifactID: "art1", ExternalID: "doc.html"}
	fragments, err := extractors[0].CalcFragments(context.Background(), artifact, extractor.FragmentOptions{})
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.Equal(t, "significant", fragments[0].TextContent)
}

func TestRegistries_TypeNamesMatchBuiltInstances(t *testing.T) {
	for name, build := range extractorBuilders {
		assert.Equal(t, name, build(nil, nil).Type())
	}
}
