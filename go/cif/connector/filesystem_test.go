package connector

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.skia.org/cif/go/cif/types"
)

const htmlBody = "<html><body>link</body></html>"

// newFilesystemFixture lays out a small artifact tree and returns a connector
// over it.
func newFilesystemFixture(t *testing.T, globPattern string) *Filesystem {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	for path, content := range map[string]string{
		"a.html":     htmlBody,
		"sub/b.html": htmlBody + htmlBody,
		"c.txt":      "not html",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(path)), []byte(content), 0o644))
	}
	return NewFilesystem(root, globPattern)
}

func TestFilesystemListArtifacts_RecursiveGlob(t *testing.T) {
	conn := newFilesystemFixture(t, "**.html")
	listed := map[string]types.Fingerprint{}
	require.NoError(t, conn.ListArtifacts(context.Background(), func(externalID string, fp types.Fingerprint) error {
		listed[externalID] = fp
		return nil
	}))
	require.Len(t, listed, 2)

	digest := md5.Sum([]byte(htmlBody))
	fp := listed["a.html"]
	assert.Equal(t, hex.EncodeToString(digest[:]), fp.Version)
	assert.Equal(t, int64(len(htmlBody)), fp.ContentLength)
	assert.Equal(t, "text/html; charset=utf-8", fp.ContentType)

	// Nested external ids are slash separated and relative to the root.
	assert.Equal(t, int64(2*len(htmlBody)), listed["sub/b.html"].ContentLength)
}

func TestFilesystemListArtifacts_FlatGlobSkipsSubdirectories(t *testing.T) {
	conn := newFilesystemFixture(t, "*.html")
	listed := []string{}
	require.NoError(t, conn.ListArtifacts(context.Background(), func(externalID string, fp types.Fingerprint) error {
		listed = append(listed, externalID)
		return nil
	}))
	assert.Equal(t, []string{"a.html"}, listed)
}

func TestFilesystemListArtifacts_CallbackErrorStopsListing(t *testing.T) {
	conn := newFilesystemFixture(t, "**.html")
	boom := errors.New("boom")
	calls := 0
	err := conn.ListArtifacts(context.Background(), func(externalID string, fp types.Fingerprint) error {
		calls++
		return boom
	})
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, calls)
}

func TestFilesystemGetArtifact_RoundTrip(t *testing.T) {
	conn := newFilesystemFixture(t, "**.html")
	r, fp, err := conn.GetArtifact(context.Background(), "a.html", "")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, r.Close())
	}()
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, htmlBody, string(content))

	digest := md5.Sum([]byte(htmlBody))
	assert.Equal(t, hex.EncodeToString(digest[:]), fp.Version)
	assert.Equal(t, int64(len(htmlBody)), fp.ContentLength)
}

func TestFilesystemGetArtifact_MissingFile(t *testing.T) {
	conn := newFilesystemFixture(t, "**.html")
	_, _, err := conn.GetArtifact(context.Background(), "missing.html", "")
	assert.True(t, types.IsNotFound(err))
}

func TestFilesystemGetArtifactChunk_InclusiveRange(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.csv"), []byte("0123456789ABCDEF"), 0o644))
	conn := NewFilesystem(root, "*.csv")

	chunk, err := conn.GetArtifactChunk(context.Background(), "data.csv", 0, 10, "")
	require.NoError(t, err)
	assert.Equal(t, "0123456789A", string(chunk))

	// Ranges past the end of the file return the available bytes.
	chunk, err = conn.GetArtifactChunk(context.Background(), "data.csv", 10, 100, "")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF", string(chunk))

	_, err = conn.GetArtifactChunk(context.Background(), "data.csv", 5, 2, "")
	assert.True(t, types.IsValidation(err))
}

func TestFilesystemCalcLineChunks_ChunksReassembleContent(t *testing.T) {
	content := "aaaaaaaa\nbbbbbbbb\ncccccccc\ndddd"
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.csv"), []byte(content), 0o644))
	conn := NewFilesystem(root, "*.csv")

	chunks, err := conn.CalcLineChunks(context.Background(), "data.csv", 2, "")
	require.NoError(t, err)
	assert.Equal(t, []types.ByteRange{
		{Start: 0, End: 17},
		{Start: 18, End: 30},
	}, chunks)

	reassembled := ""
	for _, c := range chunks {
		chunk, err := conn.GetArtifactChunk(context.Background(), "data.csv", c.Start, c.End, "")
		require.NoError(t, err)
		reassembled += string(chunk)
	}
	assert.Equal(t, content, reassembled)
}
