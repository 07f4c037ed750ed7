package driver

import (
	"math"
	"sync"
	"time"
)

// Tabs are retired once any of these is reached.
const (
	retireErrScore = 3.0
	retireUses     = 50
	retireAge      = 50 * time.Minute
)

// health scores a tab across runs. Successes lower the error score by
// 0.5 (to no less than 0), failures raise it by 1.
type health struct {
	mu       sync.Mutex
	errScore float64
	uses     int
	created  time.Time
}

func newHealth(now time.Time) *health {
	return &health{created: now}
}

func (h *health) record(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.uses++
	if err != nil {
		h.errScore++
		return
	}
	h.errScore = math.Max(0, h.errScore-0.5)
}

func (h *health) shouldRetire(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errScore >= retireErrScore ||
		h.uses >= retireUses ||
		now.Sub(h.created) >= retireAge
}
