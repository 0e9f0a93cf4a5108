package trigger

import (
	"math"
	"sync"
	"time"

	"github.com/ardiex/ardiex/internal/fsutil"
)

const (
	mib = 1024 * 1024
	gib = 1024 * mib
)

// MinIntervalForSize returns the minimum spacing between cron-triggered
// rounds for a source of the given on-disk size (spec §4.8).
func MinIntervalForSize(totalBytes int64) time.Duration {
	switch {
	case totalBytes <= 10*mib:
		return time.Second
	case totalBytes <= 100*mib:
		return time.Minute
	case totalBytes <= gib:
		return time.Hour
	default:
		hours := math.Ceil(float64(totalBytes) / float64(gib))
		return time.Duration(hours) * time.Hour
	}
}

// SizeGate enforces MinIntervalForSize per source: Wait blocks a
// cron-triggered fire until enough time has passed since that source's
// last allowed trigger.
type SizeGate struct {
	mu            sync.Mutex
	lastTriggered map[string]time.Time
}

func NewSizeGate() *SizeGate {
	return &SizeGate{lastTriggered: make(map[string]time.Time)}
}

// Wait blocks until sourceDir is allowed to trigger again, based on its
// current recursive on-disk size, then records the trigger time.
func (g *SizeGate) Wait(sourceDir string) {
	interval := MinIntervalForSize(fsutil.DirSize(sourceDir))

	g.mu.Lock()
	last, ok := g.lastTriggered[sourceDir]
	g.mu.Unlock()

	if ok {
		if wait := interval - time.Since(last); wait > 0 {
			time.Sleep(wait)
		}
	}

	g.mu.Lock()
	g.lastTriggered[sourceDir] = time.Now()
	g.mu.Unlock()
}
