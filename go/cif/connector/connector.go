// Package connector provides access to the artifact stores that feed the
// catalog. A Connector enumerates the artifacts a source currently offers and
// retrieves their content, either whole or as byte ranges.
package connector

import (
	"bufio"
	"context"
	"io"

	"github.com/pkg/errors"

	"go.skia.org/cif/go/cif/types"
)

// Connector is a store of artifacts managed by one source.
//
// Byte ranges are inclusive on both ends, so a range of [0, 9] covers the
// first ten bytes of an artifact. An empty version selects the current
// content.
type Connector interface {
	// ListArtifacts calls fn once for every artifact the source currently
	// offers. Listing stops at the first error returned by fn.
	ListArtifacts(ctx context.Context, fn func(externalID string, fp types.Fingerprint) error) error

	// GetArtifact returns a reader over the artifact's content along with
	// its fingerprint. The caller owns closing the reader.
	GetArtifact(ctx context.Context, externalID, version string) (io.ReadCloser, types.Fingerprint, error)

	// GetArtifactChunk returns the bytes of the artifact between start and
	// end, inclusive.
	GetArtifactChunk(ctx context.Context, externalID string, start, end int64, version string) ([]byte, error)

	// CalcLineChunks scans the artifact and returns contiguous byte ranges
	// each covering linesPerChunk lines, suitable for GetArtifactChunk.
	CalcLineChunks(ctx context.Context, externalID string, linesPerChunk int, version string) ([]types.ByteRange, error)
}

// lineChunks splits the contents of r into inclusive byte ranges of
// linesPerChunk lines each. The final range always ends at the last byte of
// the content, whether or not it closes with a newline or a full count of
// lines.
func lineChunks(r io.Reader, linesPerChunk int) ([]types.ByteRange, error) {
	if linesPerChunk < 1 {
		return nil, types.Validationf("lines per chunk must be positive, got %d", linesPerChunk)
	}
	br := bufio.NewReader(r)
	chunks := []types.ByteRange{}
	start := int64(0)
	buffered := int64(0)
	lines := 0
	for {
		line, err := br.ReadBytes('\n')
		buffered += int64(len(line))
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
		lines++
		if lines%linesPerChunk == 0 {
			chunks = append(chunks, types.ByteRange{Start: start, End: start + buffered - 1})
			start += buffered
			buffered = 0
		}
	}
	if buffered > 0 {
		chunks = append(chunks, types.ByteRange{Start: start, End: start + buffered - 1})
	}
	return chunks, nil
}

// validateByteRange rejects ranges that cannot address artifact content.
func validateByteRange(start, end int64) error {
	if start < 0 || end < start {
		return types.Validationf("invalid byte range [%d, %d]", start, end)
	}
	return nil
}
