// Package snapshot persists diagnostic frames next to the emulator's own
// screenshots. A single worker drains a bounded queue so the control loop
// only waits at explicit Drain barriers.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is returned by Enqueue when the worker is behind.
	ErrQueueFull = errors.New("snapshot queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("snapshot writer closed")
)

// DefaultQueueSize is the number of pending frames the writer accepts.
const DefaultQueueSize = 64

type job struct {
	frame image.Image
	path  string
	// barrier jobs carry no frame and are closed once reached.
	barrier chan struct{}
}

// Writer composes each emulator snapshot with the observation frame the
// model saw and overwrites the snapshot file with the result.
type Writer struct {
	logger zerolog.Logger
	jobs   chan job
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	statsMu sync.Mutex
	written int
	failed  int
}

// NewWriter starts the worker.
func NewWriter(queueSize int, logger zerolog.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	w := &Writer{
		logger: logger.With().Str("component", "snapshot").Logger(),
		jobs:   make(chan job, queueSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue schedules frame to be appended to the snapshot at path. It never
// blocks: a full queue drops the frame and returns ErrQueueFull.
func (w *Writer) Enqueue(frame image.Image, path string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.jobs <- job{frame: frame, path: path}:
		return nil
	default:
		w.logger.Warn().Str("path", path).Msg("snapshot queue full, dropping frame")
		return ErrQueueFull
	}
}

// Drain blocks until every frame enqueued before the call is written.
func (w *Writer) Drain(ctx context.Context) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil
	}
	barrier := make(chan struct{})
	select {
	case w.jobs <- job{barrier: barrier}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting frames, writes the queued ones and waits for the
// worker to exit. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	<-w.done
	return nil
}

// Stats returns the number of frames written and failed so far.
func (w *Writer) Stats() (written, failed int) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.written, w.failed
}

func (w *Writer) run() {
	defer close(w.done)
	for j := range w.jobs {
		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		err := Compose(j.path, j.frame)

		w.statsMu.Lock()
		if err != nil {
			w.failed++
		} else {
			w.written++
		}
		w.statsMu.Unlock()

		if err != nil {
			w.logger.Error().Err(err).Str("path", j.path).Msg("write snapshot")
		}
	}
}

// Compose loads the PNG at path, places frame scaled to the same size on
// its right and saves the result over path.
func Compose(path string, frame image.Image) error {
	shot, err := imgio.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	b := shot.Bounds()
	w, h := b.Dx(), b.Dy()

	scaled := transform.Resize(frame, w, h, transform.NearestNeighbor)

	out := image.NewRGBA(image.Rect(0, 0, w*2, h))
	draw.Draw(out, image.Rect(0, 0, w, h), shot, b.Min, draw.Src)
	draw.Draw(out, image.Rect(w, 0, w*2, h), scaled, scaled.Bounds().Min, draw.Src)

	if err := imgio.Save(path, out, imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
