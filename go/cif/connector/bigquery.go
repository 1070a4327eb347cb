package connector

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"

	"go.skia.org/cif/go/cif/types"
	"go.skia.org/cif/go/sklog"
)

// BigQuery treats each row of a query result set as one artifact. The
// external id is the row's key column values joined with "/", the content is
// the row rendered as JSON and the version is the hex MD5 of that JSON, so an
// artifact changes version exactly when any of its column values change.
//
// Rows have no meaningful byte ranges, so the chunked read methods return
// validation errors and row sources cannot use the chunked disaggregation
// modes.
type BigQuery struct {
	client     *bigquery.Client
	sql        string
	keyColumns []string
}

// NewBigQuery returns a BigQuery connector over the result set of sql.
func NewBigQuery(client *bigquery.Client, sql string, keyColumns []string) *BigQuery {
	return &BigQuery{
		client:     client,
		sql:        sql,
		keyColumns: keyColumns,
	}
}

// rowExternalID joins the key column values of row with "/".
func rowExternalID(row map[string]bigquery.Value, keyColumns []string) (string, error) {
	parts := make([]string, 0, len(keyColumns))
	for _, col := range keyColumns {
		v, ok := row[col]
		if !ok {
			return "", types.Validationf("key column %q is not in the result set", col)
		}
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, "/"), nil
}

// rowArtifact renders row as its JSON payload and fingerprint. Map keys are
// marshaled in sorted order, so the version is stable across runs.
func rowArtifact(row map[string]bigquery.Value) ([]byte, types.Fingerprint, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, types.Fingerprint{}, errors.WithStack(err)
	}
	digest := md5.Sum(payload)
	return payload, types.Fingerprint{
		Version:       hex.EncodeToString(digest[:]),
		ContentLength: int64(len(payload)),
		ContentType:   "application/json",
	}, nil
}

func (b *BigQuery) rows(ctx context.Context, fn func(externalID string, row map[string]bigquery.Value) error) error {
	it, err := b.client.Query(b.sql).Read(ctx)
	if err != nil {
		return errors.Wrap(err, "running the artifact query")
	}
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading the artifact query result")
		}
		externalID, err := rowExternalID(row, b.keyColumns)
		if err != nil {
			return err
		}
		if err := fn(externalID, row); err != nil {
			return err
		}
	}
}

// ListArtifacts implements Connector.
func (b *BigQuery) ListArtifacts(ctx context.Context, fn func(externalID string, fp types.Fingerprint) error) error {
	sklog.Infof("Reading artifacts from a BigQuery result set keyed on %s", strings.Join(b.keyColumns, ", "))
	return b.rows(ctx, func(externalID string, row map[string]bigquery.Value) error {
		_, fp, err := rowArtifact(row)
		if err != nil {
			return err
		}
		return fn(externalID, fp)
	})
}

// errStopIteration short-circuits a row scan once the wanted row is found.
var errStopIteration = errors.New("stop iteration")

// GetArtifact implements Connector.
func (b *BigQuery) GetArtifact(ctx context.Context, externalID, version string) (io.ReadCloser, types.Fingerprint, error) {
	var payload []byte
	var fp types.Fingerprint
	err := b.rows(ctx, func(rowID string, row map[string]bigquery.Value) error {
		if rowID != externalID {
			return nil
		}
		p, f, err := rowArtifact(row)
		if err != nil {
			return err
		}
		if version != "" && f.Version != version {
			return nil
		}
		payload, fp = p, f
		return errStopIteration
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, types.Fingerprint{}, err
	}
	if payload == nil {
		return nil, types.Fingerprint{}, errors.Wrapf(types.ErrNotFound, "no row found for %s:%s", externalID, version)
	}
	return io.NopCloser(bytes.NewReader(payload)), fp, nil
}

// GetArtifactChunk implements Connector.
func (b *BigQuery) GetArtifactChunk(ctx context.Context, externalID string, start, end int64, version string) ([]byte, error) {
	return nil, types.Validationf("ranged reads are not supported for BigQuery artifacts")
}

// CalcLineChunks implements Connector.
func (b *BigQuery) CalcLineChunks(ctx context.Context, externalID string, linesPerChunk int, version string) ([]types.ByteRange, error) {
	return nil, types.Validationf("line chunking is not supported for BigQuery artifacts")
}

var _ Connector = (*BigQuery)(nil)
