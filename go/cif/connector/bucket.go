package connector

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"

	"go.skia.org/cif/go/cif/types"
	"go.skia.org/cif/go/sklog"
	"go.skia.org/cif/go/util"
)

// Bucket reads objects matching a glob pattern from a GCS bucket. External
// ids are object names and versions are object generations, so reads pinned
// to a version keep working after the live object changes.
type Bucket struct {
	bucket      *storage.BucketHandle
	name        string
	globPattern string
}

// NewBucket returns a Bucket connector over the named bucket.
func NewBucket(client *storage.Client, bucketName, globPattern string) *Bucket {
	return &Bucket{
		bucket:      client.Bucket(bucketName),
		name:        bucketName,
		globPattern: globPattern,
	}
}

// ListArtifacts implements Connector.
func (b *Bucket) ListArtifacts(ctx context.Context, fn func(externalID string, fp types.Fingerprint) error) error {
	return b.listArtifacts(ctx, b.globPattern, fn)
}

func (b *Bucket) listArtifacts(ctx context.Context, globPattern string, fn func(externalID string, fp types.Fingerprint) error) error {
	sklog.Infof("Reading artifacts from %s, matching on glob pattern %s", b.name, globPattern)
	q := &storage.Query{MatchGlob: globPattern}
	if err := q.SetAttrSelection([]string{"Name", "Size", "ContentType", "Generation"}); err != nil {
		return errors.WithStack(err)
	}
	it := b.bucket.Objects(ctx, q)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "listing objects of bucket %s", b.name)
		}
		fp := types.Fingerprint{
			Version:       strconv.FormatInt(attrs.Generation, 10),
			ContentLength: attrs.Size,
			ContentType:   attrs.ContentType,
		}
		if err := fn(attrs.Name, fp); err != nil {
			return err
		}
	}
}

// object returns a handle for externalID, pinned to version when one is
// supplied.
func (b *Bucket) object(externalID, version string) (*storage.ObjectHandle, error) {
	obj := b.bucket.Object(externalID)
	if version == "" {
		return obj, nil
	}
	generation, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return nil, types.Validationf("version %q is not an object generation", version)
	}
	return obj.Generation(generation), nil
}

func wrapNotExist(err error, externalID, version string) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrapf(types.ErrNotFound, "no object found for %s:%s", externalID, version)
	}
	return errors.WithStack(err)
}

// GetArtifact implements Connector.
func (b *Bucket) GetArtifact(ctx context.Context, externalID, version string) (io.ReadCloser, types.Fingerprint, error) {
	obj, err := b.object(externalID, version)
	if err != nil {
		return nil, types.Fingerprint{}, err
	}
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, types.Fingerprint{}, wrapNotExist(err, externalID, version)
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, types.Fingerprint{}, wrapNotExist(err, externalID, version)
	}
	fp := types.Fingerprint{
		Version:       strconv.FormatInt(attrs.Generation, 10),
		ContentLength: attrs.Size,
		ContentType:   attrs.ContentType,
	}
	return r, fp, nil
}

// GetArtifactChunk implements Connector.
func (b *Bucket) GetArtifactChunk(ctx context.Context, externalID string, start, end int64, version string) ([]byte, error) {
	if err := validateByteRange(start, end); err != nil {
		return nil, err
	}
	obj, err := b.object(externalID, version)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewRangeReader(ctx, start, 1+end-start)
	if err != nil {
		return nil, wrapNotExist(err, externalID, version)
	}
	defer util.Close(r)
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return buf, nil
}

// CalcLineChunks implements Connector.
func (b *Bucket) CalcLineChunks(ctx context.Context, externalID string, linesPerChunk int, version string) ([]types.ByteRange, error) {
	obj, err := b.object(externalID, version)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, wrapNotExist(err, externalID, version)
	}
	defer util.Close(r)
	return lineChunks(r, linesPerChunk)
}

// DynamicPrefixBucket is a Bucket whose glob pattern is computed at listing
// time by prepending the greatest top-level prefix matching a configured
// stem. Sources that land dated drops like "epolicies_20250407/..." use it to
// ingest the most recent drop.
type DynamicPrefixBucket struct {
	*Bucket
	prefix string
}

// NewDynamicPrefixBucket returns a DynamicPrefixBucket connector over the
// named bucket. artifactGlobPattern is relative to the chosen prefix.
func NewDynamicPrefixBucket(client *storage.Client, bucketName, artifactGlobPattern, prefix string) *DynamicPrefixBucket {
	return &DynamicPrefixBucket{
		Bucket: NewBucket(client, bucketName, artifactGlobPattern),
		prefix: prefix,
	}
}

// latestPrefix returns the greatest member of prefixes that starts with want.
func latestPrefix(prefixes []string, want string) (string, error) {
	matches := []string{}
	for _, p := range prefixes {
		if strings.HasPrefix(p, want) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return "", errors.Errorf("no prefixes found matching %q", want)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// calcGlobPattern lists the top-level prefixes of the bucket and returns the
// glob pattern under the greatest one matching the configured stem.
func (d *DynamicPrefixBucket) calcGlobPattern(ctx context.Context) (string, error) {
	it := d.bucket.Objects(ctx, &storage.Query{Prefix: d.prefix, Delimiter: "/"})
	prefixes := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", errors.Wrapf(err, "listing prefixes of bucket %s", d.name)
		}
		if attrs.Prefix != "" {
			prefixes = append(prefixes, attrs.Prefix)
		}
	}
	latest, err := latestPrefix(prefixes, d.prefix)
	if err != nil {
		return "", err
	}
	return latest + d.globPattern, nil
}

// ListArtifacts implements Connector.
func (d *DynamicPrefixBucket) ListArtifacts(ctx context.Context, fn func(externalID string, fp types.Fingerprint) error) error {
	globPattern, err := d.calcGlobPattern(ctx)
	if err != nil {
		return err
	}
	return d.listArtifacts(ctx, globPattern, fn)
}

var _ Connector = (*Bucket)(nil)
var _ Connector = (*DynamicPrefixBucket)(nil)
