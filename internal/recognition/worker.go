// Package recognition implements the single recognition worker of
// spec.md §4.4: it owns the detector and gallery index, dequeues capture
// metadata, applies a per-camera frame-skip policy, and publishes matched
// face results on a best-effort channel. Grounded on the teacher's
// internal/ai Client request/response shape for the detector boundary and
// on internal/gallery/index.go for matching; the dedicated-process
// rationale for keeping exactly one recognition worker is carried from
// spec.md §9 verbatim (model load cost, non-thread-safety).
package recognition

import (
	"context"
	"sync"
	"time"

	"github.com/outletguard/orchestrator/internal/detector"
	"github.com/outletguard/orchestrator/internal/frameslot"
	"github.com/outletguard/orchestrator/internal/gallery"
	"github.com/outletguard/orchestrator/internal/logger"
)

// DequeueTimeout is the bounded metadata-dequeue wait of spec.md §4.4.
const DequeueTimeout = time.Second

// Worker is the single recognition worker shared by every camera.
type Worker struct {
	Detector  detector.Detector
	Slots     map[string]*frameslot.Slot
	Metadata  <-chan Metadata
	Results   chan<- Result
	FrameSkip int
	Threshold float64
	log       *logger.Logger

	mu      sync.RWMutex
	gallery *gallery.Index

	skipMu   sync.Mutex
	skipLeft map[string]int
}

// NewWorker constructs a recognition worker. gallery may be swapped at
// runtime via SetGallery (e.g. after `outletd enroll` adds an identity).
func NewWorker(det detector.Detector, slots map[string]*frameslot.Slot, metadata <-chan Metadata, results chan<- Result, frameSkip int, threshold float64, idx *gallery.Index, log *logger.Logger) *Worker {
	return &Worker{
		Detector:  det,
		Slots:     slots,
		Metadata:  metadata,
		Results:   results,
		FrameSkip: frameSkip,
		Threshold: threshold,
		gallery:   idx,
		log:       log,
		skipLeft:  make(map[string]int),
	}
}

// SetGallery atomically swaps the gallery index the worker matches
// against.
func (w *Worker) SetGallery(idx *gallery.Index) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gallery = idx
}

func (w *Worker) currentGallery() *gallery.Index {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.gallery
}

// Run drives the dequeue loop until ctx is canceled or the metadata
// channel is closed (the STOP sentinel of spec.md §4.4).
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case meta, ok := <-w.Metadata:
			if !ok {
				return nil
			}
			w.process(ctx, meta)
		case <-time.After(DequeueTimeout):
			// bounded-wait tick; nothing to do, loop again
		}
	}
}

func (w *Worker) process(ctx context.Context, meta Metadata) {
	if w.shouldSkip(meta.CameraID) {
		return
	}

	slot, ok := w.Slots[meta.CameraID]
	if !ok {
		return
	}
	frame, slotMeta, ok := slot.Read()
	if !ok {
		return
	}

	start := time.Now()
	faces, err := w.Detector.Detect(ctx, frame)
	if err != nil {
		if w.log != nil {
			w.log.Warn("detection failed", "camera_id", meta.CameraID, "frame_id", meta.FrameID, "error", err)
		}
		return
	}
	inferenceMs := float64(time.Since(start).Microseconds()) / 1000.0

	idx := w.currentGallery()
	faceResults := make([]FaceResult, 0, len(faces))
	for _, f := range faces {
		result := FaceResult{BBox: f.BBox, DetScore: f.DetScore}
		if idx != nil {
			matched, targetID, displayName, sim := idx.Match(f.Embedding, w.Threshold)
			result.Matched = matched
			result.TargetID = targetID
			result.DisplayName = displayName
			result.Similarity = sim
		}
		faceResults = append(faceResults, result)
	}

	out := Result{
		CameraID:    meta.CameraID,
		FrameID:     slotMeta.FrameID,
		Timestamp:   meta.Timestamp,
		Faces:       faceResults,
		InferenceMs: inferenceMs,
	}

	select {
	case w.Results <- out:
	default:
		// results channel full: drop, best-effort per spec.md §4.4
	}
}

// shouldSkip applies the strictly-per-camera frame-skip counter of
// spec.md §4.4. Returns true (and decrements the counter) when this
// message should be skipped without reading the slot.
func (w *Worker) shouldSkip(cameraID string) bool {
	if w.FrameSkip <= 0 {
		return false
	}
	w.skipMu.Lock()
	defer w.skipMu.Unlock()

	left, seen := w.skipLeft[cameraID]
	if !seen {
		w.skipLeft[cameraID] = w.FrameSkip
		return false
	}
	if left > 0 {
		w.skipLeft[cameraID] = left - 1
		return true
	}
	w.skipLeft[cameraID] = w.FrameSkip
	return false
}
