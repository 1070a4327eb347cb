package connector

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"go.skia.org/cif/go/cif/types"
	"go.skia.org/cif/go/sklog"
	"go.skia.org/cif/go/util"
)

// Filesystem reads files matching a glob pattern under a root directory.
// External ids are root-relative slash-separated paths, and versions are the
// hex MD5 of the file content. Reads always return the current content, so
// the version argument of the read methods is ignored.
type Filesystem struct {
	root        string
	globPattern string
}

// NewFilesystem returns a Filesystem connector rooted at root.
func NewFilesystem(root, globPattern string) *Filesystem {
	return &Filesystem{
		root:        root,
		globPattern: globPattern,
	}
}

// fingerprint reads all of r and returns its fingerprint.
func fingerprint(r io.Reader) (types.Fingerprint, error) {
	// DetectContentType never looks past the first 512 bytes.
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return types.Fingerprint{}, errors.WithStack(err)
	}
	head = head[:n]
	digest := md5.New()
	size, err := io.Copy(digest, io.MultiReader(bytes.NewReader(head), r))
	if err != nil {
		return types.Fingerprint{}, errors.WithStack(err)
	}
	return types.Fingerprint{
		Version:       hex.EncodeToString(digest.Sum(nil)),
		ContentLength: size,
		ContentType:   http.DetectContentType(head),
	}, nil
}

// ListArtifacts implements Connector.
func (f *Filesystem) ListArtifacts(ctx context.Context, fn func(externalID string, fp types.Fingerprint) error) error {
	g, err := glob.Compile(f.globPattern, '/')
	if err != nil {
		return types.Validationf("invalid glob pattern %q: %s", f.globPattern, err)
	}
	sklog.Infof("Reading artifacts from %s, matching on glob pattern %s", f.root, f.globPattern)
	return filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.WithStack(err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return errors.WithStack(err)
		}
		externalID := filepath.ToSlash(rel)
		if !g.Match(externalID) {
			return nil
		}
		r, err := f.open(externalID)
		if err != nil {
			return err
		}
		fp, err := fingerprint(r)
		util.Close(r)
		if err != nil {
			return err
		}
		return fn(externalID, fp)
	})
}

func (f *Filesystem) open(externalID string) (*os.File, error) {
	r, err := os.Open(filepath.Join(f.root, filepath.FromSlash(externalID)))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(types.ErrNotFound, "artifact %q", externalID)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return r, nil
}

// GetArtifact implements Connector.
func (f *Filesystem) GetArtifact(ctx context.Context, externalID, version string) (io.ReadCloser, types.Fingerprint, error) {
	r, err := f.open(externalID)
	if err != nil {
		return nil, types.Fingerprint{}, err
	}
	fp, err := fingerprint(r)
	if err != nil {
		util.Close(r)
		return nil, types.Fingerprint{}, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		util.Close(r)
		return nil, types.Fingerprint{}, errors.WithStack(err)
	}
	return r, fp, nil
}

// GetArtifactChunk implements Connector.
func (f *Filesystem) GetArtifactChunk(ctx context.Context, externalID string, start, end int64, version string) ([]byte, error) {
	if err := validateByteRange(start, end); err != nil {
		return nil, err
	}
	r, err := f.open(externalID)
	if err != nil {
		return nil, err
	}
	defer util.Close(r)
	buf := make([]byte, 1+end-start)
	n, err := r.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, errors.WithStack(err)
	}
	return buf[:n], nil
}

// CalcLineChunks implements Connector.
func (f *Filesystem) CalcLineChunks(ctx context.Context, externalID string, linesPerChunk int, version string) ([]types.ByteRange, error) {
	r, err := f.open(externalID)
	if err != nil {
		return nil, err
	}
	defer util.Close(r)
	return lineChunks(r, linesPerChunk)
}

var _ Connector = (*Filesystem)(nil)
