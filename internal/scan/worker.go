package scan

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/medverify/medverify/internal/telemetry"
)

// FrameStatus is the latest outcome of the realtime detect loop. Err is a
// string so the status marshals cleanly for streaming clients.
type FrameStatus struct {
	Seq       uint64    `json:"seq"`
	Boxes     []Box     `json:"boxes,omitempty"`
	Skipped   bool      `json:"skipped,omitempty"`
	Err       string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FrameWorker consumes a camera stream through a single-slot queue: a new
// frame arriving while one is queued replaces it, so the worker always sees
// the freshest frame and never builds a backlog. Only every N-th accepted
// frame is actually run through the detector.
type FrameWorker struct {
	detector Detector
	every    int
	maxSide  int

	frames chan []byte
	latest atomic.Pointer[FrameStatus]
	seq    atomic.Uint64

	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewFrameWorker builds a worker that detects on every n-th frame
// (n <= 0 means every frame).
func NewFrameWorker(detector Detector, every, maxSide int, logger *slog.Logger, metrics *telemetry.Metrics) *FrameWorker {
	if every <= 0 {
		every = 1
	}
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameWorker{
		detector: detector,
		every:    every,
		maxSide:  maxSide,
		frames:   make(chan []byte, 1),
		logger:   logger,
		metrics:  metrics,
	}
}

// Push offers a frame to the worker. When the slot is full the stale frame
// is dropped in favor of the new one; recency beats completeness.
func (w *FrameWorker) Push(frame []byte) {
	for {
		select {
		case w.frames <- frame:
			return
		default:
		}
		select {
		case <-w.frames:
			w.metrics.IncFrameDropped()
		default:
		}
	}
}

// Latest returns the most recent frame status, or nil before the first
// frame is processed.
func (w *FrameWorker) Latest() *FrameStatus {
	return w.latest.Load()
}

// Run processes frames until ctx is cancelled.
func (w *FrameWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-w.frames:
			w.process(ctx, frame)
		}
	}
}

func (w *FrameWorker) process(ctx context.Context, frame []byte) {
	seq := w.seq.Add(1)
	status := &FrameStatus{Seq: seq, Timestamp: time.Now()}
	defer w.latest.Store(status)

	if seq%uint64(w.every) != 0 {
		status.Skipped = true
		return
	}

	img, err := DecodeImage(frame, w.maxSide)
	if err != nil {
		status.Err = err.Error()
		return
	}

	boxes, err := w.detector.Detect(ctx, img)
	if err != nil {
		w.logger.Warn("frame detect failed",
			slog.Uint64("seq", seq), slog.String("error", err.Error()))
		status.Err = err.Error()
		return
	}
	status.Boxes = boxes
}
