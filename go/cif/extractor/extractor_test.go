package extractor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.skia.org/cif/go/cif/connector"
	"go.skia.org/cif/go/cif/types"
)

// newTestArtifact writes content to a file and returns the artifact and a
// filesystem connector that serves it.
func newTestArtifact(t *testing.T, sourceID, externalID, content string) (*types.Artifact, connector.Connector) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, filepath.FromSlash(externalID))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	artifact := &types.Artifact{
		SourceID:      sourceID,
		ArtifactID:    types.NewID(),
		ExternalID:    externalID,
		ContentLength: int64(len(content)),
	}
	return artifact, connector.NewFilesystem(dir, "**")
}

func i64(v int64) *int64 {
	return &v
}

func TestNewFragment_SharedFragmentIDKeepsSeqNo(t *testing.T) {
	artifact := &types.Artifact{SourceID: "src", ArtifactID: "art"}
	opts := FragmentOptions{FragmentID: "abcd1234"}

	f := newFragment(artifact, opts, 7, types.AggregationRow, "some text", nil, nil)
	require.Equal(t, "abcd1234", f.FragmentID)
	require.Equal(t, int64(7), f.SeqNo)
	require.Equal(t, "src", f.SourceID)
	require.Equal(t, "art", f.ArtifactID)
	require.Equal(t, types.AggregationRow, f.AggregationLevel)
	require.Equal(t, "some text", f.TextContent)
}

func TestNewFragment_NoFragmentIDAssignsFreshIDAndSeqZero(t *testing.T) {
	artifact := &types.Artifact{SourceID: "src", ArtifactID: "art"}

	a := newFragment(artifact, FragmentOptions{}, 3, types.AggregationLink, "a", nil, nil)
	b := newFragment(artifact, FragmentOptions{}, 4, types.AggregationLink, "b", nil, nil)
	require.Equal(t, int64(0), a.SeqNo)
	require.Equal(t, int64(0), b.SeqNo)
	require.NotEmpty(t, a.FragmentID)
	require.NotEqual(t, a.FragmentID, b.FragmentID)
}

func TestNewFragment_AppliesTextFilter(t *testing.T) {
	artifact := &types.Artifact{SourceID: "src", ArtifactID: "art"}
	filter := NewTextFilter(&TextFilterConfig{IncludeBaseStopWords: true})

	f := newFragment(artifact, FragmentOptions{}, 0, types.AggregationDocument, "This is the Content", nil, filter)
	require.Equal(t, "content", f.TextContent)
}

func TestReadContent_FullRead(t *testing.T) {
	artifact, conn := newTestArtifact(t, "src", "doc.txt", "0123456789")

	b, err := readContent(context.Background(), conn, artifact, FragmentOptions{})
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(b))
}

func TestReadContent_InclusiveByteRange(t *testing.T) {
	artifact, conn := newTestArtifact(t, "src", "doc.txt", "0123456789")

	b, err := readContent(context.Background(), conn, artifact, FragmentOptions{
		StartByte: i64(2),
		EndByte:   i64(5),
	})
	require.NoError(t, err)
	require.Equal(t, "2345", string(b))
}
