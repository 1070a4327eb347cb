package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestPrefix_PicksGreatestMatch(t *testing.T) {
	prefixes := []string{
		"bar_20250618/",
		"bar_20250619/",
		"bar_20250430/",
		"baz_20250701/",
	}
	latest, err := latestPrefix(prefixes, "bar_")
	require.NoError(t, err)
	assert.Equal(t, "bar_20250619/", latest)
}

func TestLatestPrefix_NoMatches(t *testing.T) {
	_, err := latestPrefix([]string{"baz_20250701/"}, "bar_")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no prefixes found matching "bar_"`)
}
