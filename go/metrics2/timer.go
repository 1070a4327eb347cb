package metrics2

import (
	"time"
)

const (
	timerMeasurement = "timer_s"
)

// timer implements the Timer interface, reporting elapsed seconds to a
// summary metric.
type timer struct {
	begin   time.Time
	summary Float64SummaryMetric
}

func newTimer(c Client, name string, tags ...map[string]string) Timer {
	return &timer{
		begin:   time.Now(),
		summary: c.GetFloat64SummaryMetric(timerMeasurement, addNameTag(name, tags)),
	}
}

// Stop implements the Timer interface.
func (t *timer) Stop() time.Duration {
	elapsed := time.Since(t.begin)
	t.summary.Observe(elapsed.Seconds())
	return elapsed
}

// addNameTag folds the metric name into the tag set under the "name" key.
func addNameTag(name string, tags []map[string]string) map[string]string {
	t := make(map[string]string, len(tags)+1)
	for _, m := range tags {
		for k, v := range m {
			t[k] = v
		}
	}
	t["name"] = name
	return t
}
