// Package upload implements a client-side chunked upload orchestrator: a file
// is partitioned into ordered byte-range chunks which are sent strictly one at
// a time, with aggregate progress reporting, cooperative cancellation and a
// finalize step that yields a download locator for the assembled resource.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
)

// State is the lifecycle state of an Uploader.
type State int

const (
	// StateIdle means no attempt has been started yet.
	StateIdle State = iota
	// StateInitiating means the upload session is being opened on the server.
	StateInitiating
	// StateUploading means chunks are being transferred.
	StateUploading
	// StateFinalizing means all chunks succeeded and the session is being closed.
	StateFinalizing
	// StateCompleted is terminal: the attempt produced an Outcome.
	StateCompleted
	// StateFailed is terminal: the attempt failed.
	StateFailed
	// StateCancelled is terminal: the attempt was aborted by the caller.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitiating:
		return "initiating"
	case StateUploading:
		return "uploading"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// SessionInitiator opens an upload session on the server.
// Invoked exactly once per attempt, before any chunk transfer.
type SessionInitiator interface {
	Initiate(ctx context.Context, fileName string, totalSize int64, totalChunks int) (string, error)
}

// ChunkTransport sends the bytes of a single chunk. At most one chunk is in
// flight per session. Implementations must stop promptly when ctx is cancelled
// and may report partial progress through onProgress (which can be nil).
type ChunkTransport interface {
	SendChunk(ctx context.Context, sessionID string, chunk Chunk, body io.Reader, onProgress func(sentBytes int64)) error
}

// CompletionFinalizer closes a fully uploaded session and returns the download
// locator of the assembled resource. Invoked only after every chunk succeeded,
// and never once a cancellation was requested.
type CompletionFinalizer interface {
	Finalize(ctx context.Context, sessionID string) (string, error)
}

// Metadata describes the file being uploaded.
type Metadata struct {
	FileName  string `validate:"required,max=255"`
	TotalSize int64  `validate:"gt=0"`
}

// Outcome is the terminal result of a successful attempt.
type Outcome struct {
	SessionID       string
	DownloadLocator string
}

// Result is delivered exactly once per attempt on the channel returned by Start.
type Result struct {
	// Outcome is set on success, nil otherwise.
	Outcome *Outcome
	Err     error
}

// DefaultChunkSizeBytes is used when Config.ChunkSizeBytes is not set.
const DefaultChunkSizeBytes = 8 * 1024 * 1024

// Config holds configuration for an Uploader.
type Config struct {
	// ChunkSizeBytes is the chunk size used to partition the file.
	// Default: DefaultChunkSizeBytes.
	ChunkSizeBytes int64

	// OnProgress, when set, is invoked after every chunk status or partial
	// progress change. Invocations are serialized; emission frequency is
	// unconstrained, throttling is the caller's concern.
	OnProgress func(ProgressSnapshot)

	// Logger used for attempt logging. Default: log.NewLogger().
	Logger log.Logger
}

var validate = validator.New()

// Uploader drives one upload attempt at a time through the collaborators.
// A new attempt can only be started once the previous one reached a terminal
// state; never share one instance across concurrently running attempts.
type Uploader struct {
	initiator SessionInitiator
	transport ChunkTransport
	finalizer CompletionFinalizer
	config    Config
	logger    log.Logger

	mu              sync.Mutex
	state           State
	generation      uint64
	cancelRequested bool
	cancelAttempt   context.CancelFunc
	chunks          []Chunk
	totalBytes      int64
	sessionID       string
	lastSnapshot    ProgressSnapshot
	results         chan Result
	stats           *Stats

	// emitMu serializes snapshot computation and delivery so that observed
	// progress stays monotonic even when the transport reports partial bytes
	// from another goroutine.
	emitMu sync.Mutex
}

// New creates an Uploader over the given collaborators.
func New(initiator SessionInitiator, transport ChunkTransport, finalizer CompletionFinalizer, config Config) *Uploader {
	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	if config.ChunkSizeBytes <= 0 {
		config.ChunkSizeBytes = DefaultChunkSizeBytes
	}

	return &Uploader{
		initiator: initiator,
		transport: transport,
		finalizer: finalizer,
		config:    config,
		logger:    logger,
		state:     StateIdle,
		stats:     NewStats(),
	}
}

// Stats returns the chunk transfer statistics of the current attempt.
func (u *Uploader) Stats() *Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

// State returns the current state.
func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Progress returns the most recent progress snapshot of the current attempt.
func (u *Uploader) Progress() ProgressSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastSnapshot
}

// Start begins a new upload attempt. Metadata is validated synchronously;
// invalid input fails before any network call. The attempt itself runs on its
// own goroutine and delivers its single Result on the returned buffered
// channel. Start fails with *ConcurrentUploadError while an attempt is active,
// leaving the in-flight attempt untouched.
func (u *Uploader) Start(ctx context.Context, source ChunkSource, fileName string) (<-chan Result, error) {
	meta := Metadata{FileName: fileName, TotalSize: source.Size()}
	if err := validate.Struct(meta); err != nil {
		return nil, &ValidationError{
			Reason: fmt.Sprintf("file %q, size %d", meta.FileName, meta.TotalSize),
			Err:    err,
		}
	}

	chunks, err := Split(meta.TotalSize, u.config.ChunkSizeBytes)
	if err != nil {
		return nil, &ValidationError{Reason: "partition file", Err: err}
	}

	u.mu.Lock()
	if u.state != StateIdle && !u.state.terminal() {
		state := u.state
		u.mu.Unlock()
		return nil, &ConcurrentUploadError{State: state}
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	u.generation++
	gen := u.generation
	u.state = StateInitiating
	u.cancelRequested = false
	u.cancelAttempt = cancel
	u.chunks = chunks
	u.totalBytes = meta.TotalSize
	u.sessionID = ""
	u.lastSnapshot = ProgressSnapshot{
		TotalBytes:        meta.TotalSize,
		CurrentChunkIndex: 1,
		TotalChunks:       len(chunks),
	}
	results := make(chan Result, 1)
	u.results = results
	u.stats = NewStats()
	stats := u.stats
	u.mu.Unlock()

	u.logger.Infof("Uploading %s (%s) in %d chunks", meta.FileName, units.HumanSize(float64(meta.TotalSize)), len(chunks))

	go u.run(attemptCtx, cancel, gen, source, meta, stats)

	return results, nil
}

// Cancel aborts the active attempt: the in-flight chunk transfer is stopped
// through the shared cancellation signal and finalize is guaranteed not to be
// invoked afterwards, even if the cancelled chunk settles as a success.
// Calling Cancel on a settled Uploader is a no-op.
func (u *Uploader) Cancel() {
	u.mu.Lock()
	if u.state.terminal() {
		u.mu.Unlock()
		return
	}
	if u.state == StateIdle {
		u.state = StateCancelled
		u.mu.Unlock()
		return
	}
	u.cancelRequested = true
	cancel := u.cancelAttempt
	u.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// run drives a single attempt through initiate, sequential chunk sends and
// finalize. It is the only writer of chunk statuses for its generation.
func (u *Uploader) run(ctx context.Context, cancel context.CancelFunc, gen uint64, source ChunkSource, meta Metadata, stats *Stats) {
	// Release the attempt context on every exit path.
	defer cancel()

	u.mu.Lock()
	totalChunks := len(u.chunks)
	u.mu.Unlock()

	sessionID, err := u.initiator.Initiate(ctx, meta.FileName, meta.TotalSize, totalChunks)
	if ctx.Err() != nil {
		u.settle(gen, Result{Err: &CancellationError{Stage: StateInitiating}})
		return
	}
	if err != nil {
		u.settle(gen, Result{Err: fmt.Errorf("initiate upload session: %w", err)})
		return
	}

	u.mu.Lock()
	if gen != u.generation || u.state.terminal() {
		u.mu.Unlock()
		return
	}
	u.sessionID = sessionID
	u.state = StateUploading
	u.mu.Unlock()

	u.logger.Debugf("Session %s opened for %s", sessionID, meta.FileName)
	u.emitSnapshot(gen)

	for i := 0; i < totalChunks; i++ {
		chunk, ok := u.updateChunk(gen, i, func(c *Chunk) {
			c.Status = ChunkInFlight
			c.Attempt++
		})
		if !ok {
			return
		}
		u.emitSnapshot(gen)

		body, err := source.ReadChunk(chunk)
		if err != nil {
			u.updateChunk(gen, i, func(c *Chunk) {
				c.Status = ChunkFailed
				c.SentBytes = 0
			})
			u.settle(gen, Result{Err: fmt.Errorf("upload chunk %d/%d: %w", chunk.Index, totalChunks, &ChunkTransportError{Index: chunk.Index, Err: err})})
			return
		}

		onProgress := func(sent int64) {
			u.updateChunk(gen, i, func(c *Chunk) {
				if c.Status == ChunkInFlight && sent > c.SentBytes {
					c.SentBytes = sent
				}
			})
			u.emitSnapshot(gen)
		}

		u.logger.Debugf("Uploading chunk %d/%d (%s) [finished=%d] [avg=%v] [rate=%s/s]",
			chunk.Index, totalChunks, units.HumanSize(float64(chunk.Size())),
			stats.FinishedCount(), stats.Average().Round(time.Millisecond),
			units.HumanSize(stats.Throughput()))

		start := time.Now()
		err = u.transport.SendChunk(ctx, sessionID, chunk, body, onProgress)

		if ctx.Err() != nil {
			// Cancellation wins over a racing success or failure.
			u.updateChunk(gen, i, func(c *Chunk) {
				c.Status = ChunkFailed
				c.SentBytes = 0
			})
			u.settle(gen, Result{Err: &CancellationError{Stage: StateUploading, ChunkIndex: chunk.Index}})
			return
		}
		if err != nil {
			// No snapshot here: discarding the failed chunk's partial bytes
			// would make observed progress go backwards.
			u.updateChunk(gen, i, func(c *Chunk) {
				c.Status = ChunkFailed
				c.SentBytes = 0
			})
			u.settle(gen, Result{Err: fmt.Errorf("upload chunk %d/%d: %w", chunk.Index, totalChunks, &ChunkTransportError{Index: chunk.Index, Err: err})})
			return
		}

		stats.Update(chunk.Size(), time.Since(start))
		u.updateChunk(gen, i, func(c *Chunk) {
			c.Status = ChunkSucceeded
			c.SentBytes = 0
		})
		u.emitSnapshot(gen)
	}

	u.mu.Lock()
	if gen != u.generation || u.state.terminal() {
		u.mu.Unlock()
		return
	}
	if u.cancelRequested {
		u.mu.Unlock()
		u.settle(gen, Result{Err: &CancellationError{Stage: StateUploading}})
		return
	}
	u.state = StateFinalizing
	u.mu.Unlock()

	u.logger.Debugf("Finalizing session %s", sessionID)
	locator, err := u.finalizer.Finalize(ctx, sessionID)
	if ctx.Err() != nil {
		u.settle(gen, Result{Err: &CancellationError{Stage: StateFinalizing}})
		return
	}
	if err != nil {
		u.settle(gen, Result{Err: fmt.Errorf("finalize session %s: %w", sessionID, err)})
		return
	}

	u.logger.Donef("Upload of %s completed", meta.FileName)
	u.settle(gen, Result{Outcome: &Outcome{SessionID: sessionID, DownloadLocator: locator}})
}

// updateChunk applies fn to the i-th chunk of the given attempt generation and
// returns the updated copy. Stale generations are ignored.
func (u *Uploader) updateChunk(gen uint64, i int, fn func(*Chunk)) (Chunk, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if gen != u.generation || i < 0 || i >= len(u.chunks) {
		return Chunk{}, false
	}
	fn(&u.chunks[i])
	return u.chunks[i], true
}

// emitSnapshot recomputes the aggregate progress and delivers it to the caller.
func (u *Uploader) emitSnapshot(gen uint64) {
	u.emitMu.Lock()
	defer u.emitMu.Unlock()

	u.mu.Lock()
	if gen != u.generation || u.state.terminal() {
		u.mu.Unlock()
		return
	}
	snapshot := Aggregate(u.chunks, u.totalBytes)
	u.lastSnapshot = snapshot
	u.mu.Unlock()

	if u.config.OnProgress != nil {
		u.config.OnProgress(snapshot)
	}
}

// settle records the attempt's single terminal result. Only the first terminal
// transition of a generation is honored, later ones are no-ops. A pending
// cancellation takes precedence over any racing success or failure.
func (u *Uploader) settle(gen uint64, res Result) {
	u.mu.Lock()
	if gen != u.generation || u.state.terminal() {
		u.mu.Unlock()
		return
	}

	var cancelErr *CancellationError
	if !errors.As(res.Err, &cancelErr) && u.cancelRequested {
		res = Result{Err: &CancellationError{Stage: u.state}}
	}

	switch {
	case res.Err == nil:
		u.state = StateCompleted
	case errors.As(res.Err, &cancelErr):
		u.state = StateCancelled
	default:
		u.state = StateFailed
	}
	results := u.results
	state := u.state
	u.mu.Unlock()

	if res.Err != nil {
		u.logger.Errorf("Upload attempt settled as %s: %s", state, res.Err)
	}
	if results != nil {
		results <- res
	}
}
