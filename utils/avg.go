package utils

import (
	"sync"
	"time"
)

// AvgDuration keeps a running average of observed durations. Used for the
// per-context execution latency exposed by the prometheus collector.
type AvgDuration struct {
	sum   time.Duration
	count int64
	lock  sync.Mutex
}

func (a *AvgDuration) Observe(d time.Duration) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.sum += d
	a.count++
}

func (a *AvgDuration) Seconds() float64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.count == 0 {
		return 0
	}
	return a.sum.Seconds() / float64(a.count)
}

func (a *AvgDuration) Count() int64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.count
}
