package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMinIntervalForSizeTable(t *testing.T) {
	assert.Equal(t, time.Second, MinIntervalForSize(5*mib))
	assert.Equal(t, time.Minute, MinIntervalForSize(50*mib))
	assert.Equal(t, time.Hour, MinIntervalForSize(gib))
	assert.Equal(t, 3*time.Hour, MinIntervalForSize(2*gib+1))
}

func TestSizeGateWaitDoesNotBlockFirstTrigger(t *testing.T) {
	g := NewSizeGate()
	dir := t.TempDir()

	start := time.Now()
	g.Wait(dir)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
