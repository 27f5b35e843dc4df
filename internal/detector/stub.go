package detector

import (
	"context"

	"github.com/outletguard/orchestrator/internal/frameslot"
)

// StubDetector is a deterministic, model-free Detector used in tests and in
// --simulate mode before a real detector binding is wired in. It reports a
// single full-frame face whose embedding is derived from average pixel
// intensity, just enough signal to exercise the matching pipeline without a
// model.
type StubDetector struct {
	Dim      int     // embedding dimensionality to produce
	DetScore float64 // fixed detection confidence to report
}

// NewStub builds a StubDetector producing Dim-length embeddings.
func NewStub(dim int) *StubDetector {
	if dim <= 0 {
		dim = 128
	}
	return &StubDetector{Dim: dim, DetScore: 0.99}
}

func (s *StubDetector) Detect(_ context.Context, frame *frameslot.Frame) ([]Face, error) {
	if frame == nil || frame.Height == 0 || frame.Width == 0 {
		return nil, nil
	}

	emb := make([]float32, s.Dim)
	var sum float64
	for _, b := range frame.Pix {
		sum += float64(b)
	}
	mean := float32(0.0)
	if len(frame.Pix) > 0 {
		mean = float32(sum / float64(len(frame.Pix)) / 255.0)
	}
	emb[0] = mean
	if s.Dim > 1 {
		emb[1] = 1 - mean
	}

	face := Face{
		BBox:      [4]float64{0, 0, float64(frame.Width), float64(frame.Height)},
		DetScore:  s.DetScore,
		Embedding: emb,
	}
	return []Face{face}, nil
}

func (s *StubDetector) Close() error { return nil }
