package upload

import (
	"context"
	"fmt"
	"io"
	"sync"
)

type fakeInitiator struct {
	mu       sync.Mutex
	calls    int
	sessions []string
	err      error
}

func (f *fakeInitiator) Initiate(ctx context.Context, fileName string, totalSize int64, totalChunks int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	id := fmt.Sprintf("session-%d", f.calls)
	f.sessions = append(f.sessions, id)
	return id, nil
}

func (f *fakeInitiator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeInitiator) sessionIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sessions))
	copy(out, f.sessions)
	return out
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []int

	failAt       int   // 1-based chunk index that fails, 0 = never
	failErr      error
	partialBytes int64 // bytes reported via onProgress before the failure

	blockAt      int           // 1-based chunk index that blocks until release (or ctx)
	started      chan struct{} // closed when the blocked chunk starts
	release      chan struct{} // close to let the blocked chunk settle
	ignoreCancel bool          // blocked chunk ignores ctx and returns success on release

	reportProgress bool
}

func (f *fakeTransport) SendChunk(ctx context.Context, sessionID string, chunk Chunk, body io.Reader, onProgress func(sentBytes int64)) error {
	f.mu.Lock()
	failAt := f.failAt
	failErr := f.failErr
	blockAt := f.blockAt
	started := f.started
	f.started = nil
	f.mu.Unlock()

	if blockAt == chunk.Index {
		if started != nil {
			close(started)
		}
		if f.ignoreCancel {
			<-f.release
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.release:
			}
		}
	}

	if failAt == chunk.Index {
		if f.partialBytes > 0 && onProgress != nil {
			onProgress(f.partialBytes)
		}
		return failErr
	}

	if body != nil {
		if _, err := io.Copy(io.Discard, body); err != nil {
			return err
		}
	}

	if f.reportProgress && onProgress != nil {
		onProgress(chunk.Size() / 2)
		onProgress(chunk.Size())
	}

	f.mu.Lock()
	f.sent = append(f.sent, chunk.Index)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) setFailAt(index int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAt = index
	f.failErr = err
}

func (f *fakeTransport) sentChunks() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeFinalizer struct {
	mu      sync.Mutex
	calls   int
	locator string
	err     error

	block   bool
	started chan struct{} // closed when a blocked finalize starts
	release chan struct{} // close to let a blocked finalize settle
}

func (f *fakeFinalizer) Finalize(ctx context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	started := f.started
	f.started = nil
	f.mu.Unlock()

	if block {
		if started != nil {
			close(started)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-f.release:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.locator, nil
}

func (f *fakeFinalizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type progressRecorder struct {
	mu        sync.Mutex
	snapshots []ProgressSnapshot
}

func (r *progressRecorder) record(s ProgressSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *progressRecorder) all() []ProgressSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProgressSnapshot, len(r.snapshots))
	copy(out, r.snapshots)
	return out
}
