package extractor

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"

	"github.com/pkg/errors"

	"go.skia.org/cif/go/cif/connector"
	"go.skia.org/cif/go/cif/types"
)

// headerProbeBytes is how much of the artifact is read to sniff the header
// row. Header rows longer than this are not supported.
const headerProbeBytes = 4096

// CSVRow emits one ROW fragment per CSV record, with the record values
// joined as the fragment text and mapped by column name in json_content.
//
// CSVRow understands byte ranges produced by Connector.CalcLineChunks, which
// always split on line boundaries, so a chunked read parses cleanly. The
// header row is re-read for every chunk to recover the column names, and is
// skipped as data in full reads and in chunks that start at byte 0.
type CSVRow struct {
	conn   connector.Connector
	filter *TextFilter
}

// NewCSVRow returns a CSVRow extractor reading through conn.
func NewCSVRow(conn connector.Connector, filter *TextFilter) *CSVRow {
	return &CSVRow{conn: conn, filter: filter}
}

// Type implements Extractor.
func (c *CSVRow) Type() string {
	return "CSVRowExtractor"
}

// fieldNames sniffs the column names from the artifact's header row.
func (c *CSVRow) fieldNames(ctx context.Context, artifact *types.Artifact) ([]string, error) {
	probe, err := c.conn.GetArtifactChunk(ctx, artifact.ExternalID, 0, headerProbeBytes-1, artifact.Version)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(probe))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "reading the header row of %s", artifact.ExternalID)
	}
	return header, nil
}

// CalcFragments implements Extractor.
func (c *CSVRow) CalcFragments(ctx context.Context, artifact *types.Artifact, opts FragmentOptions) ([]*types.Fragment, error) {
	fieldNames, err := c.fieldNames(ctx, artifact)
	if err != nil {
		return nil, err
	}
	content, err := readContent(ctx, c.conn, artifact, opts)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", artifact.ExternalID)
	}
	if len(records) > 0 && (opts.StartByte == nil || *opts.StartByte == 0) {
		records = records[1:]
	}
	ret := make([]*types.Fragment, 0, len(records))
	for i, record := range records {
		if len(record) > len(fieldNames) {
			record = record[:len(fieldNames)]
		}
		jsonContent := make(map[string]string, len(record))
		for j, value := range record {
			jsonContent[fieldNames[j]] = value
		}
		text := strings.Join(record, " ")
		ret = append(ret, newFragment(artifact, opts, int64(i), types.AggregationRow, text, jsonContent, c.filter))
	}
	return ret, nil
}

// CalcFragmentKeys implements Extractor.
func (c *CSVRow) CalcFragmentKeys(ctx context.Context, artifact *types.Artifact, fragment *types.Fragment) ([]*types.FragmentKey, error) {
	return calcRuleKeys(artifact, fragment), nil
}

var _ Extractor = (*CSVRow)(nil)
