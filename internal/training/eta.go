package training

import (
	"sync"
	"time"
)

// etaEstimator tracks a moving average of processing rate (items per
// second) across progress updates, used to project remaining duration
// for a knowledge base's in-flight training run.
type etaEstimator struct {
	mu         sync.Mutex
	startedAt  time.Time
	lastUpdate time.Time
	lastCount  int
	total      int
	avgRate    float64 // exponential moving average, items/sec
}

const etaSmoothing = 0.3

func newETAEstimator() *etaEstimator {
	return &etaEstimator{}
}

func (e *etaEstimator) start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startedAt = time.Now()
	e.lastUpdate = e.startedAt
	e.lastCount = 0
	e.avgRate = 0
}

func (e *etaEstimator) update(processed, total int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	e.total = total

	elapsed := now.Sub(e.lastUpdate).Seconds()
	delta := processed - e.lastCount
	if elapsed > 0 && delta > 0 {
		instantRate := float64(delta) / elapsed
		if e.avgRate == 0 {
			e.avgRate = instantRate
		} else {
			e.avgRate = etaSmoothing*instantRate + (1-etaSmoothing)*e.avgRate
		}
	}
	e.lastUpdate = now
	e.lastCount = processed
}

func (e *etaEstimator) remaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.avgRate <= 0 {
		return 0
	}
	left := e.total - e.lastCount
	if left <= 0 {
		return 0
	}
	return time.Duration(float64(left)/e.avgRate) * time.Second
}
