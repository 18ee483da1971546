package upload

import (
	"fmt"
)

// ChunkStatus is the lifecycle state of a single chunk within an attempt.
type ChunkStatus int

const (
	// ChunkPending means the chunk has not been sent yet.
	ChunkPending ChunkStatus = iota
	// ChunkInFlight means the chunk is currently being transferred.
	ChunkInFlight
	// ChunkSucceeded means the transport acknowledged persistence of the chunk.
	ChunkSucceeded
	// ChunkFailed means the transfer of the chunk failed.
	ChunkFailed
)

func (s ChunkStatus) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkInFlight:
		return "in-flight"
	case ChunkSucceeded:
		return "succeeded"
	case ChunkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Chunk describes one contiguous byte range of the source file.
// The range is half-open: [StartByte, EndByte). Indices are 1-based and
// contiguous across an attempt.
type Chunk struct {
	Index     int
	StartByte int64
	EndByte   int64
	Status    ChunkStatus
	// Attempt counts how many times the chunk entered the in-flight state.
	Attempt int
	// SentBytes carries partial progress reported by the transport while the
	// chunk is in flight. Reset once the chunk settles.
	SentBytes int64
}

// Size returns the chunk length in bytes.
func (c Chunk) Size() int64 {
	return c.EndByte - c.StartByte
}

// Split partitions totalSize bytes into ordered chunks of at most chunkSize
// bytes each. Ranges are contiguous, non-overlapping and cover [0, totalSize)
// exactly. An empty input still yields a single zero-length chunk so that a
// session always has at least one part.
func Split(totalSize, chunkSize int64) ([]Chunk, error) {
	if totalSize < 0 {
		return nil, fmt.Errorf("total size must not be negative, got %d", totalSize)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	effectiveSize := totalSize
	if effectiveSize < 1 {
		effectiveSize = 1
	}
	numChunks := int((effectiveSize + chunkSize - 1) / chunkSize)

	chunks := make([]Chunk, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > totalSize {
			end = totalSize
		}
		chunks = append(chunks, Chunk{
			Index:     i + 1,
			StartByte: start,
			EndByte:   end,
			Status:    ChunkPending,
		})
	}

	return chunks, nil
}
