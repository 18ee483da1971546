package upload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStats(t *testing.T) {
	stats := NewStats()

	assert.Equal(t, int64(0), stats.FinishedCount())
	assert.Equal(t, time.Duration(0), stats.Average())
	assert.Equal(t, float64(0), stats.Throughput())

	stats.Update(1000, 100*time.Millisecond)
	stats.Update(2000, 200*time.Millisecond)
	stats.Update(3000, 300*time.Millisecond)

	assert.Equal(t, int64(3), stats.FinishedCount())
	assert.Equal(t, int64(6000), stats.TransferredBytes())
	assert.Equal(t, 200*time.Millisecond, stats.Average())
	assert.Equal(t, 600*time.Millisecond, stats.TotalDuration())
	assert.InDelta(t, 10000.0, stats.Throughput(), 0.001)
}
