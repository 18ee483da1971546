package upload

import (
	"sync"
	"time"
)

// Stats accumulates per-chunk transfer measurements for one attempt: how many
// chunks settled, how many bytes they carried and how long they took.
type Stats struct {
	mu             sync.Mutex
	totalDuration  time.Duration
	totalBytes     int64
	finishedChunks int64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records one successfully transferred chunk.
func (s *Stats) Update(sizeBytes int64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalDuration += d
	s.totalBytes += sizeBytes
	s.finishedChunks++
}

// Average returns the mean transfer duration of the finished chunks.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedChunks == 0 {
		return 0
	}
	return s.totalDuration / time.Duration(s.finishedChunks)
}

// Throughput returns the aggregate transfer rate in bytes per second.
func (s *Stats) Throughput() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalDuration <= 0 {
		return 0
	}
	return float64(s.totalBytes) / s.totalDuration.Seconds()
}

// FinishedCount returns the number of finished chunk transfers.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedChunks
}

// TransferredBytes returns the total payload size of the finished chunks.
func (s *Stats) TransferredBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

// TotalDuration returns the summed transfer duration of the finished chunks.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalDuration
}
