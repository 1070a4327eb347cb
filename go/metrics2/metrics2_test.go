package metrics2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	assert.Equal(t, "a_b_c", clean("a b-c"))
	assert.Equal(t, "already_clean_123", clean("already_clean_123"))
}

func TestCounter_IncDecReset(t *testing.T) {
	c := GetCounter("test_counter", map[string]string{"status": "ok"})
	c.Reset()
	c.Inc(3)
	c.Inc(2)
	require.Equal(t, int64(5), c.Get())
	c.Dec(1)
	require.Equal(t, int64(4), c.Get())
	c.Reset()
	require.Equal(t, int64(0), c.Get())
}

func TestGetInt64Metric_SameNameAndTags_SameInstance(t *testing.T) {
	m1 := GetInt64Metric("test_int64", map[string]string{"a": "1"})
	m2 := GetInt64Metric("test_int64", map[string]string{"a": "1"})
	m1.Update(17)
	require.Equal(t, int64(17), m2.Get())

	// Different tag values are tracked independently.
	m3 := GetInt64Metric("test_int64", map[string]string{"a": "2"})
	m3.Update(1)
	require.Equal(t, int64(17), m1.Get())
	require.Equal(t, int64(1), m3.Get())
}

func TestTimer_Stop_ReturnsElapsed(t *testing.T) {
	timer := NewTimer("test_timer", map[string]string{"phase": "stage"})
	elapsed := timer.Stop()
	assert.GreaterOrEqual(t, elapsed.Nanoseconds(), int64(0))
}

func TestLiveness_Reset_ZeroesMetric(t *testing.T) {
	l := NewLiveness("test_liveness")
	defer l.Close()
	l.Reset()
	assert.Equal(t, int64(0), l.Get())
}
