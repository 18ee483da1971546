package upload

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// ChunkSource provides the bytes of individual chunks.
// ReadChunk is called by the orchestrator once per chunk, in index order.
type ChunkSource interface {
	// Size returns the total size of the underlying data in bytes.
	Size() int64

	// ReadChunk returns a reader over the chunk's byte range.
	ReadChunk(chunk Chunk) (io.Reader, error)
}

// FileSource reads chunks from a file on disk.
type FileSource struct {
	file *os.File
	size int64
	mu   sync.Mutex
}

// NewFileSource creates a ChunkSource backed by the file at path.
// The caller is responsible for calling Close once the attempt settled.
func NewFileSource(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		closeErr := file.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("stat file: %w (close: %s)", err, closeErr)
		}
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return &FileSource{
		file: file,
		size: info.Size(),
	}, nil
}

// Size returns the file size in bytes.
func (s *FileSource) Size() int64 {
	return s.size
}

// ReadChunk reads the chunk's byte range into memory and returns a reader over it.
func (s *FileSource) ReadChunk(chunk Chunk) (io.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(chunk.StartByte, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to position %d for chunk %d: %w", chunk.StartByte, chunk.Index, err)
	}

	buf := make([]byte, chunk.Size())
	if _, err := io.ReadFull(s.file, buf); err != nil {
		return nil, fmt.Errorf("read chunk %d: %w", chunk.Index, err)
	}

	return bytes.NewReader(buf), nil
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// BytesSource serves chunks from an in-memory byte slice.
type BytesSource struct {
	data []byte
}

// NewBytesSource creates a ChunkSource over data.
func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{data: data}
}

// Size returns the length of the underlying slice.
func (s *BytesSource) Size() int64 {
	return int64(len(s.data))
}

// ReadChunk returns a reader over the chunk's byte range.
func (s *BytesSource) ReadChunk(chunk Chunk) (io.Reader, error) {
	if chunk.StartByte < 0 || chunk.EndByte > int64(len(s.data)) || chunk.StartByte > chunk.EndByte {
		return nil, fmt.Errorf("chunk %d range [%d, %d) out of bounds [0, %d)", chunk.Index, chunk.StartByte, chunk.EndByte, len(s.data))
	}
	return bytes.NewReader(s.data[chunk.StartByte:chunk.EndByte]), nil
}
