// Package detector defines the black-box face detection/embedding
// capability spec.md §1 treats as an external collaborator
// (detect(frame) -> list of (bbox, det_score, embedding)), plus a
// deterministic stub implementation for tests and for running the pipeline
// without a real model attached.
package detector

import (
	"context"

	"github.com/outletguard/orchestrator/internal/frameslot"
)

// Face is the per-face record the detector boundary produces. Downstream
// code depends only on this struct, never on a detector's native types.
type Face struct {
	BBox       [4]float64 // x1, y1, x2, y2
	DetScore   float64
	Embedding  []float32
}

// Detector runs face detection plus embedding extraction on one frame.
type Detector interface {
	// Detect returns zero or more faces found in frame.
	Detect(ctx context.Context, frame *frameslot.Frame) ([]Face, error)
	// Close releases any model resources. Safe to call once at worker
	// shutdown.
	Close() error
}

// Options configures detector construction (input size, execution
// providers, model path) — the shape a real ONNX/insightface binding would
// take these from.
type Options struct {
	InputSize [2]int // height, width the detector resizes to internally
	ModelPath string
}
