// Package capture implements the per-camera capture worker of spec.md
// §4.3: pull throttled frames from a video source, publish them into the
// camera's frame slot, enqueue metadata for the recognition worker, and
// maintain an overlay cache from recognition feedback for the preview
// JPEG. Grounded on original_source/src/pipeline/rtsp_reader.py's
// loop/reconnect shape and the teacher's worker-goroutine-per-resource
// pattern (internal/camera/rtsp_client.go's run()).
package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/outletguard/orchestrator/internal/frameslot"
	"github.com/outletguard/orchestrator/internal/logger"
	"github.com/outletguard/orchestrator/internal/recognition"
	"github.com/outletguard/orchestrator/internal/storage"
	"github.com/outletguard/orchestrator/internal/videosource"
)

// MetadataEnqueueTimeout is the short bounded wait of spec.md §4.3 point 3.
const MetadataEnqueueTimeout = 100 * time.Millisecond

// Clock returns the current wall-clock time in epoch seconds.
type Clock func() float64

// Worker drives one camera's capture loop.
type Worker struct {
	CameraID string
	OutletID string

	Source   videosource.Source
	Slot     *frameslot.Slot
	Metadata chan<- recognition.Metadata
	Feedback <-chan recognition.Result
	Snapshot *storage.SnapshotStore

	PreviewSaveInterval time.Duration
	PreviewWidth        int
	PreviewQuality      int
	Clock               Clock

	log *logger.Logger

	frameID      int64
	mu           sync.Mutex
	overlay      recognition.Result
	hasOverlay   bool
	lastPreview  time.Time
	framesEmitted atomic.Int64
}

// NewWorker constructs a capture worker. clock defaults to wall-clock time
// if nil. previewInterval <= 0 disables the preview JPEG entirely (the
// `--no-preview` CLI flag, per spec.md §6, wires through as previewInterval
// == 0).
func NewWorker(cameraID, outletID string, source videosource.Source, slot *frameslot.Slot,
	metadata chan<- recognition.Metadata, feedback <-chan recognition.Result,
	snapshot *storage.SnapshotStore, previewInterval time.Duration, previewWidth, previewQuality int,
	clock Clock, log *logger.Logger) *Worker {
	if clock == nil {
		clock = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }
	}
	if log != nil {
		log = log.WithCamera(cameraID)
	}
	return &Worker{
		CameraID:            cameraID,
		OutletID:            outletID,
		Source:              source,
		Slot:                slot,
		Metadata:            metadata,
		Feedback:            feedback,
		Snapshot:            snapshot,
		PreviewSaveInterval: previewInterval,
		PreviewWidth:        previewWidth,
		PreviewQuality:      previewQuality,
		Clock:               clock,
		log:                 log,
	}
}

// Run drives the capture loop until ctx is canceled. Per-iteration
// failures are logged and the loop continues; it returns ctx's error on
// cancellation and nil when the source reports end of stream.
func (w *Worker) Run(ctx context.Context) error {
	defer w.Source.Close()
	defer w.Slot.Reset()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w.drainFeedback()

		frame, err := w.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == videosource.ErrEndOfStream {
				if w.log != nil {
					w.log.Warn("capture source ended")
				}
				return nil
			}
			if w.log != nil {
				w.log.Warn("capture source read failed", "error", err)
			}
			continue
		}
		if frame == nil {
			continue
		}

		w.publishFrame(frame)
		w.maybeSavePreview(frame)
	}
}

// drainFeedback non-blockingly retains only the newest matching-camera
// result per spec.md §4.3 point 2.
func (w *Worker) drainFeedback() {
	for {
		select {
		case result, ok := <-w.Feedback:
			if !ok {
				return
			}
			if result.CameraID != w.CameraID {
				continue
			}
			w.mu.Lock()
			w.overlay = result
			w.hasOverlay = true
			w.mu.Unlock()
		default:
			return
		}
	}
}

func (w *Worker) publishFrame(frame *frameslot.Frame) {
	frame = downscaleToFit(frame, w.Slot.MaxHeight(), w.Slot.MaxWidth())

	id := atomic.AddInt64(&w.frameID, 1)
	ts := w.Clock()

	if !w.Slot.Write(frame, id, ts) {
		if w.log != nil {
			w.log.Warn("frame exceeds slot capacity, dropped")
		}
		return
	}
	w.framesEmitted.Add(1)

	select {
	case w.Metadata <- recognition.Metadata{CameraID: w.CameraID, FrameID: id, Timestamp: ts}:
	case <-time.After(MetadataEnqueueTimeout):
		// drop silently: the newer frame is already in the slot (spec.md §4.3 point 3)
	}
}

func (w *Worker) maybeSavePreview(frame *frameslot.Frame) {
	if w.Snapshot == nil || w.PreviewSaveInterval <= 0 {
		return
	}
	now := time.Now()
	w.mu.Lock()
	due := now.Sub(w.lastPreview) >= w.PreviewSaveInterval
	if due {
		w.lastPreview = now
	}
	overlay := w.overlay
	hasOverlay := w.hasOverlay
	w.mu.Unlock()

	if !due {
		return
	}

	// Bound the frame to slot capacity first, the resolution recognition saw
	// and the coordinate space of the cached result's bounding boxes; then
	// draw the overlay, and only then downscale to the preview width.
	frame = downscaleToFit(frame, w.Slot.MaxHeight(), w.Slot.MaxWidth())
	annotated := drawOverlay(frame, overlay, hasOverlay)
	if w.PreviewWidth > 0 && w.PreviewWidth < frame.Width {
		annotated = downscaleImageToWidth(annotated, w.PreviewWidth)
	}
	quality := w.PreviewQuality
	if quality <= 0 {
		quality = 85
	}
	if _, err := w.Snapshot.SaveLatestFrame(w.CameraID, annotated, quality); err != nil && w.log != nil {
		w.log.Warn("failed to save preview frame", "error", err)
	}
}

// FramesEmitted reports how many frames this worker has written to the
// slot, for diagnostics and tests.
func (w *Worker) FramesEmitted() int64 { return w.framesEmitted.Load() }
