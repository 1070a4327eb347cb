// Package util contains small general purpose utilities.
package util

import (
	"io"

	"github.com/pkg/errors"

	"go.skia.org/cif/go/sklog"
)

// Close wraps an io.Closer and logs an error if one is returned.
func Close(c io.Closer) {
	if err := c.Close(); err != nil {
		sklog.Errorf("Failed to Close(): %v", err)
	}
}

// ChunkIter calls fn with the start and end indexes of successive chunks of
// at most chunkSize elements until length is covered. A zero length results
// in no calls.
func ChunkIter(length, chunkSize int, fn func(start, end int) error) error {
	if chunkSize < 1 {
		return errors.New("chunk size may not be less than 1")
	}
	for start := 0; start < length; start += chunkSize {
		end := min(length, start+chunkSize)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// AddParams adds the second instance of map[string]string to the first and
// returns the first map.
func AddParams(a map[string]string, b ...map[string]string) map[string]string {
	if a == nil {
		a = make(map[string]string, len(b))
	}
	for _, oneMap := range b {
		for k, v := range oneMap {
			a[k] = v
		}
	}
	return a
}
