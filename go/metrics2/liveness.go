package metrics2

import (
	"sync"
	"time"
)

const (
	livenessMeasurement = "liveness_s"

	livenessReportFrequency = 15 * time.Second
)

// liveness implements the Liveness interface.
type liveness struct {
	mtx                  sync.Mutex
	lastSuccessfulUpdate time.Time
	m                    Int64Metric
	stop                 chan struct{}
	stopOnce             sync.Once
}

func newLiveness(c Client, name string, tags ...map[string]string) Liveness {
	l := &liveness{
		lastSuccessfulUpdate: time.Now(),
		m:                    c.GetInt64Metric(livenessMeasurement, addNameTag(name, tags)),
		stop:                 make(chan struct{}),
	}
	l.update()
	go func() {
		ticker := time.NewTicker(livenessReportFrequency)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.update()
			case <-l.stop:
				return
			}
		}
	}()
	return l
}

func (l *liveness) update() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.m.Update(int64(time.Since(l.lastSuccessfulUpdate).Seconds()))
}

// Get implements the Liveness interface.
func (l *liveness) Get() int64 {
	return l.m.Get()
}

// Reset implements the Liveness interface.
func (l *liveness) Reset() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.lastSuccessfulUpdate = time.Now()
	l.m.Update(0)
}

// Close implements the Liveness interface.
func (l *liveness) Close() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}
