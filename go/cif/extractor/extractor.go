// Package extractor turns artifact content into fragments and fragment keys.
//
// Extractors are built by the factory package from the per-source extractor
// configurations and always read artifact content through a connector, so the
// same extractor works against buckets, filesystems and query results.
package extractor

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"go.skia.org/cif/go/cif/connector"
	"go.skia.org/cif/go/cif/types"
	"go.skia.org/cif/go/sklog"
	"go.skia.org/cif/go/util"
)

// Extractor calculates the fragments and fragment keys of artifacts.
type Extractor interface {
	// Type returns the registered name of this extractor, e.g.
	// "HTMLExtractor". It is recorded on deferred disaggregation work so the
	// worker can rebuild the extractor that was requested.
	Type() string

	// CalcFragments extracts fragments from the artifact's content.
	CalcFragments(ctx context.Context, artifact *types.Artifact, opts FragmentOptions) ([]*types.Fragment, error)

	// CalcFragmentKeys derives the exact-match keys of a single fragment
	// previously produced by CalcFragments.
	CalcFragmentKeys(ctx context.Context, artifact *types.Artifact, fragment *types.Fragment) ([]*types.FragmentKey, error)
}

// FragmentOptions controls how CalcFragments assigns fragment ids and which
// part of the artifact it reads.
//
// A caller that splits one artifact across several chunk tasks passes the
// same FragmentID to every task along with that task's byte range. The
// resulting fragments then share the fragment_id and are ordered by seq_no.
// With a zero FragmentOptions every fragment gets a fresh fragment_id and
// seq_no 0.
type FragmentOptions struct {
	FragmentID string
	StartByte  *int64
	EndByte    *int64
}

// newFragment builds one fragment, applying the id assignment rules of
// FragmentOptions and the optional text filter.
func newFragment(artifact *types.Artifact, opts FragmentOptions, seqNo int64, level types.AggregationLevel, text string, jsonContent map[string]string, filter *TextFilter) *types.Fragment {
	if filter != nil {
		text = filter.Filter(text)
	}
	fragmentID := opts.FragmentID
	if fragmentID == "" {
		fragmentID = types.NewID()
		seqNo = 0
	}
	return &types.Fragment{
		SourceID:         artifact.SourceID,
		ArtifactID:       artifact.ArtifactID,
		FragmentID:       fragmentID,
		AggregationLevel: level,
		SeqNo:            seqNo,
		TextContent:      text,
		JSONContent:      jsonContent,
	}
}

// readContent returns the artifact's bytes, restricted to the byte range in
// opts when one is present.
func readContent(ctx context.Context, conn connector.Connector, artifact *types.Artifact, opts FragmentOptions) ([]byte, error) {
	if opts.StartByte != nil && opts.EndByte != nil {
		sklog.Debugf("Reading bytes %d - %d of %s", *opts.StartByte, *opts.EndByte, artifact.ExternalID)
		return conn.GetArtifactChunk(ctx, artifact.ExternalID, *opts.StartByte, *opts.EndByte, artifact.Version)
	}
	r, _, err := conn.GetArtifact(ctx, artifact.ExternalID, artifact.Version)
	if err != nil {
		return nil, err
	}
	defer util.Close(r)
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", artifact.ExternalID)
	}
	return b, nil
}
