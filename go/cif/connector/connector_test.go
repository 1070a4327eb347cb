package connector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.skia.org/cif/go/cif/types"
)

func TestLineChunks_ExactMultipleCoversContentExactly(t *testing.T) {
	// Four lines of nine bytes each.
	content := "aaaaaaaa\nbbbbbbbb\ncccccccc\ndddddddd\n"
	chunks, err := lineChunks(strings.NewReader(content), 2)
	require.NoError(t, err)
	assert.Equal(t, []types.ByteRange{
		{Start: 0, End: 17},
		{Start: 18, End: 35},
	}, chunks)
}

func TestLineChunks_TrailingShortChunkEndsAtLastByte(t *testing.T) {
	content := "aaaaaaaa\nbbbbbbbb\ncccccccc\n"
	chunks, err := lineChunks(strings.NewReader(content), 2)
	require.NoError(t, err)
	assert.Equal(t, []types.ByteRange{
		{Start: 0, End: 17},
		{Start: 18, End: 26},
	}, chunks)
}

func TestLineChunks_MissingFinalNewline(t *testing.T) {
	content := "aaaaaaaa\nbbbbbbbb\ncccc"
	chunks, err := lineChunks(strings.NewReader(content), 2)
	require.NoError(t, err)
	assert.Equal(t, []types.ByteRange{
		{Start: 0, End: 17},
		{Start: 18, End: 21},
	}, chunks)
}

func TestLineChunks_SingleChunkWhenContentIsShort(t *testing.T) {
	content := "a\nb\n"
	chunks, err := lineChunks(strings.NewReader(content), 50000)
	require.NoError(t, err)
	assert.Equal(t, []types.ByteRange{{Start: 0, End: 3}}, chunks)
}

func TestLineChunks_EmptyContent(t *testing.T) {
	chunks, err := lineChunks(strings.NewReader(""), 2)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestLineChunks_ChunksAreContiguous(t *testing.T) {
	content := strings.Repeat("some line of text\n", 13) + "tail"
	chunks, err := lineChunks(strings.NewReader(content), 5)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, int64(0), chunks[0].Start)
	assert.Equal(t, int64(len(content)-1), chunks[len(chunks)-1].End)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].End+1, chunks[i].Start)
	}
}

func TestLineChunks_RejectsNonPositiveLinesPerChunk(t *testing.T) {
	_, err := lineChunks(strings.NewReader("a\n"), 0)
	assert.True(t, types.IsValidation(err))
}

func TestValidateByteRange(t *testing.T) {
	assert.NoError(t, validateByteRange(0, 0))
	assert.NoError(t, validateByteRange(18, 35))
	assert.True(t, types.IsValidation(validateByteRange(-1, 3)))
	assert.True(t, types.IsValidation(validateByteRange(5, 2)))
}
