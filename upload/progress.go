package upload

import (
	"math"
)

// ProgressSnapshot is a point-in-time summary of an upload attempt.
// Snapshots are recomputed values and never persisted.
type ProgressSnapshot struct {
	UploadedBytes int64
	TotalBytes    int64
	// Percentage is rounded and clamped to [0, 100].
	Percentage int
	// CurrentChunkIndex is the 1-based index of the first chunk that has not
	// succeeded yet, or TotalChunks once every chunk succeeded.
	CurrentChunkIndex int
	TotalChunks       int
}

// Aggregate computes a snapshot from the chunk statuses. Succeeded chunks
// count in full; the in-flight chunk contributes the bytes the transport has
// reported so far. Pure function, cheap enough to call on every status change.
func Aggregate(chunks []Chunk, totalBytes int64) ProgressSnapshot {
	var uploaded int64
	current := 0
	for _, c := range chunks {
		switch c.Status {
		case ChunkSucceeded:
			uploaded += c.Size()
		case ChunkInFlight:
			uploaded += c.SentBytes
		}
		if current == 0 && c.Status != ChunkSucceeded {
			current = c.Index
		}
	}
	if current == 0 {
		current = len(chunks)
	}

	percentage := 0
	if totalBytes > 0 {
		percentage = int(math.Round(float64(uploaded) / float64(totalBytes) * 100))
	}
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}

	return ProgressSnapshot{
		UploadedBytes:     uploaded,
		TotalBytes:        totalBytes,
		Percentage:        percentage,
		CurrentChunkIndex: current,
		TotalChunks:       len(chunks),
	}
}
