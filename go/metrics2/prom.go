package metrics2

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.skia.org/cif/go/sklog"
	"go.skia.org/cif/go/util"
)

// invalidChar is used to force metric and tag names to conform to
// Prometheus's restrictions.
var invalidChar = regexp.MustCompile("([^a-zA-Z0-9_:])")

func clean(s string) string {
	return invalidChar.ReplaceAllLiteralString(s, "_")
}

// InitForServing registers an HTTP handler for the metrics endpoint on its
// own port and starts serving in the background.
func InitForServing(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		sklog.Infof("Metrics server listening on %s", port)
		sklog.Fatal(http.ListenAndServe(port, mux))
	}()
}

// promInt64 implements the Int64Metric interface.
type promInt64 struct {
	// i tracks the value of the gauge, because the prometheus client lib
	// doesn't support get on Gauge values.
	i     int64
	gauge prometheus.Gauge
}

func (m *promInt64) Get() int64 {
	return atomic.LoadInt64(&m.i)
}

func (m *promInt64) Update(v int64) {
	atomic.StoreInt64(&m.i, v)
	m.gauge.Set(float64(v))
}

// promCounter implements the Counter interface.
type promCounter struct {
	*promInt64
}

func (c *promCounter) Inc(i int64) {
	c.Update(c.Get() + i)
}

func (c *promCounter) Dec(i int64) {
	c.Update(c.Get() - i)
}

func (c *promCounter) Reset() {
	c.Update(0)
}

// promSummary implements the Float64SummaryMetric interface.
type promSummary struct {
	summary prometheus.Observer
}

func (m *promSummary) Observe(v float64) {
	m.summary.Observe(v)
}

// promClient implements the Client interface.
type promClient struct {
	int64GaugeVecs map[string]*prometheus.GaugeVec
	int64Gauges    map[string]*promInt64
	int64Mutex     sync.Mutex

	summaryVecs  map[string]*prometheus.SummaryVec
	summaries    map[string]*promSummary
	summaryMutex sync.Mutex
}

func newPromClient() *promClient {
	return &promClient{
		int64GaugeVecs: map[string]*prometheus.GaugeVec{},
		int64Gauges:    map[string]*promInt64{},
		summaryVecs:    map[string]*prometheus.SummaryVec{},
		summaries:      map[string]*promSummary{},
	}
}

// commonGet returns a clean measurement name, clean tags, the sorted tag
// keys, a key uniquely identifying the metric, and a key uniquely
// identifying its metric vec.
func (p *promClient) commonGet(measurement string, tags ...map[string]string) (string, map[string]string, []string, string, string) {
	measurement = clean(measurement)

	rawTags := util.AddParams(map[string]string{}, tags...)
	cleanTags := map[string]string{}
	keys := []string{}
	for k, v := range rawTags {
		key := clean(k)
		cleanTags[key] = v
		keys = append(keys, key)
	}
	sort.Strings(keys)

	gaugeKeySrc := []string{measurement}
	for _, key := range keys {
		gaugeKeySrc = append(gaugeKeySrc, key, cleanTags[key])
	}
	gaugeKey := strings.Join(gaugeKeySrc, "-")
	vecKey := fmt.Sprintf("%s %v", measurement, keys)

	return measurement, cleanTags, keys, gaugeKey, vecKey
}

func (p *promClient) GetInt64Metric(name string, tags ...map[string]string) Int64Metric {
	measurement, cleanTags, keys, gaugeKey, vecKey := p.commonGet(name, tags...)

	p.int64Mutex.Lock()
	defer p.int64Mutex.Unlock()
	if ret, ok := p.int64Gauges[gaugeKey]; ok {
		return ret
	}

	gaugeVec, ok := p.int64GaugeVecs[vecKey]
	if !ok {
		gaugeVec = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: measurement,
				Help: measurement,
			},
			keys,
		)
		if err := prometheus.Register(gaugeVec); err != nil {
			sklog.Fatalf("Failed to register %q: %s", measurement, err)
		}
		p.int64GaugeVecs[vecKey] = gaugeVec
	}
	gauge, err := gaugeVec.GetMetricWith(prometheus.Labels(cleanTags))
	if err != nil {
		sklog.Fatalf("Failed to get gauge: %s", err)
	}
	ret := &promInt64{
		gauge: gauge,
	}
	p.int64Gauges[gaugeKey] = ret
	return ret
}

func (p *promClient) GetCounter(name string, tags ...map[string]string) Counter {
	return &promCounter{
		promInt64: p.GetInt64Metric(name, tags...).(*promInt64),
	}
}

func (p *promClient) GetFloat64SummaryMetric(name string, tags ...map[string]string) Float64SummaryMetric {
	measurement, cleanTags, keys, summaryKey, vecKey := p.commonGet(name, tags...)

	p.summaryMutex.Lock()
	defer p.summaryMutex.Unlock()
	if ret, ok := p.summaries[summaryKey]; ok {
		return ret
	}

	summaryVec, ok := p.summaryVecs[vecKey]
	if !ok {
		summaryVec = prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       measurement,
				Help:       measurement,
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			keys,
		)
		if err := prometheus.Register(summaryVec); err != nil {
			sklog.Fatalf("Failed to register %q: %s", measurement, err)
		}
		p.summaryVecs[vecKey] = summaryVec
	}
	summary, err := summaryVec.GetMetricWith(prometheus.Labels(cleanTags))
	if err != nil {
		sklog.Fatalf("Failed to get summary: %s", err)
	}
	ret := &promSummary{
		summary: summary,
	}
	p.summaries[summaryKey] = ret
	return ret
}

func (p *promClient) NewTimer(name string, tags ...map[string]string) Timer {
	return newTimer(p, name, tags...)
}

func (p *promClient) NewLiveness(name string, tags ...map[string]string) Liveness {
	return newLiveness(p, name, tags...)
}

func (p *promClient) Flush() error {
	return nil
}

var _ Client = (*promClient)(nil)
