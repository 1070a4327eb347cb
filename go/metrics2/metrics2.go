// Package metrics2 is a client interface for recording metrics, backed by
// Prometheus. Metrics are identified by a measurement name plus a set of
// string tags which become Prometheus labels.
package metrics2

import (
	"time"
)

// Int64Metric is a metric which reports an int64 value.
type Int64Metric interface {
	// Get returns the current value of the metric.
	Get() int64

	// Update adds a data point to the metric.
	Update(v int64)
}

// Counter is a metric which reports a running total, with helpers for
// incrementing and decrementing.
type Counter interface {
	// Get returns the current value.
	Get() int64

	// Inc increments the counter by the given quantity.
	Inc(i int64)

	// Dec decrements the counter by the given quantity.
	Dec(i int64)

	// Reset sets the counter to zero.
	Reset()
}

// Float64SummaryMetric is a metric which reports observations of a float64
// value and exposes quantiles.
type Float64SummaryMetric interface {
	// Observe adds a single observation.
	Observe(v float64)
}

// Client represents a set of metrics.
type Client interface {
	// GetInt64Metric returns an Int64Metric instance.
	GetInt64Metric(measurement string, tags ...map[string]string) Int64Metric

	// GetCounter returns a Counter instance.
	GetCounter(name string, tags ...map[string]string) Counter

	// GetFloat64SummaryMetric returns a Float64SummaryMetric instance.
	GetFloat64SummaryMetric(measurement string, tags ...map[string]string) Float64SummaryMetric

	// NewTimer creates and returns a started Timer.
	NewTimer(name string, tags ...map[string]string) Timer

	// NewLiveness creates and returns a new Liveness.
	NewLiveness(name string, tags ...map[string]string) Liveness

	// Flush pushes any queued data immediately. Prometheus is pull-based,
	// so this is a no-op for the default client.
	Flush() error
}

// Timer measures a duration and reports it when Stop is called.
type Timer interface {
	// Stop reports the elapsed time since the timer was created and
	// returns it.
	Stop() time.Duration
}

// Liveness keeps a time-since-last-successful-update metric, in seconds.
// Every periodic process should have one, with an alert on the value
// growing too large.
type Liveness interface {
	// Get returns the current value in seconds.
	Get() int64

	// Reset should be called when the work the liveness tracks has
	// completed successfully.
	Reset()

	// Close stops the background reporting goroutine.
	Close()
}

var defaultClient Client = newPromClient()

// GetDefaultClient returns the default Client.
func GetDefaultClient() Client {
	return defaultClient
}

// GetInt64Metric returns an Int64Metric from the default Client.
func GetInt64Metric(measurement string, tags ...map[string]string) Int64Metric {
	return defaultClient.GetInt64Metric(measurement, tags...)
}

// GetCounter returns a Counter from the default Client.
func GetCounter(name string, tags ...map[string]string) Counter {
	return defaultClient.GetCounter(name, tags...)
}

// GetFloat64SummaryMetric returns a Float64SummaryMetric from the default
// Client.
func GetFloat64SummaryMetric(measurement string, tags ...map[string]string) Float64SummaryMetric {
	return defaultClient.GetFloat64SummaryMetric(measurement, tags...)
}

// NewTimer creates and returns a started Timer from the default Client.
func NewTimer(name string, tags ...map[string]string) Timer {
	return defaultClient.NewTimer(name, tags...)
}

// NewLiveness creates and returns a new Liveness from the default Client.
func NewLiveness(name string, tags ...map[string]string) Liveness {
	return defaultClient.NewLiveness(name, tags...)
}
