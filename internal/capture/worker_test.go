package capture

import (
	"context"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/outletguard/orchestrator/internal/frameslot"
	"github.com/outletguard/orchestrator/internal/recognition"
	"github.com/outletguard/orchestrator/internal/videosource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	frames []*frameslot.Frame
	i      atomic.Int64
	closed atomic.Bool
}

func (s *fakeSource) Next(ctx context.Context) (*frameslot.Frame, error) {
	idx := s.i.Add(1) - 1
	if int(idx) >= len(s.frames) {
		return nil, videosource.ErrEndOfStream
	}
	return s.frames[idx], nil
}
func (s *fakeSource) Close() error { s.closed.Store(true); return nil }

func smallFrame() *frameslot.Frame {
	return &frameslot.Frame{Height: 4, Width: 4, Pix: make([]byte, 48)}
}

func TestWorkerPublishesFramesAndClosesSourceOnEOF(t *testing.T) {
	src := &fakeSource{frames: []*frameslot.Frame{smallFrame(), smallFrame(), smallFrame()}}
	slot := frameslot.New(720, 1280)
	metaCh := make(chan recognition.Metadata, 10)
	feedback := make(chan recognition.Result, 10)

	w := NewWorker("cam1", "o1", src, slot, metaCh, feedback, nil, 0, 0, 0, func() float64 { return 1.0 }, nil)
	err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), w.FramesEmitted())
	assert.True(t, src.closed.Load())
	_, _, ok := slot.Read()
	assert.False(t, ok, "worker resets the slot on shutdown")
}

func TestWorkerAssignsStrictlyIncreasingFrameIDs(t *testing.T) {
	src := &fakeSource{frames: []*frameslot.Frame{smallFrame(), smallFrame()}}
	slot := frameslot.New(720, 1280)
	metaCh := make(chan recognition.Metadata, 10)
	feedback := make(chan recognition.Result, 10)

	w := NewWorker("cam1", "o1", src, slot, metaCh, feedback, nil, 0, 0, 0, nil, nil)
	require.NoError(t, w.Run(context.Background()))
	close(metaCh)

	var ids []int64
	for m := range metaCh {
		ids = append(ids, m.FrameID)
	}
	require.Len(t, ids, 2)
	assert.Less(t, ids[0], ids[1])
}

func TestWorkerDrainsFeedbackKeepingNewestMatchingCamera(t *testing.T) {
	src := &fakeSource{frames: []*frameslot.Frame{smallFrame()}}
	slot := frameslot.New(720, 1280)
	metaCh := make(chan recognition.Metadata, 10)
	feedback := make(chan recognition.Result, 10)

	feedback <- recognition.Result{CameraID: "other", FrameID: 1}
	feedback <- recognition.Result{CameraID: "cam1", FrameID: 1, Faces: []recognition.FaceResult{{Matched: false}}}
	feedback <- recognition.Result{CameraID: "cam1", FrameID: 2, Faces: []recognition.FaceResult{{Matched: true, TargetID: "t1"}}}

	w := NewWorker("cam1", "o1", src, slot, metaCh, feedback, nil, 0, 0, 0, nil, nil)
	require.NoError(t, w.Run(context.Background()))

	w.mu.Lock()
	defer w.mu.Unlock()
	require.True(t, w.hasOverlay)
	assert.Equal(t, int64(2), w.overlay.FrameID)
}

func TestWorkerStopsCleanlyOnContextCancel(t *testing.T) {
	src := &fakeSource{frames: nil}
	slot := frameslot.New(720, 1280)
	metaCh := make(chan recognition.Metadata, 1)
	feedback := make(chan recognition.Result, 1)

	blockingSrc := &blockingSource{fakeSource: src}
	w := NewWorker("cam1", "o1", blockingSrc, slot, metaCh, feedback, nil, 0, 0, 0, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker should stop promptly on context cancellation")
	}
}

type blockingSource struct {
	*fakeSource
}

func (s *blockingSource) Next(ctx context.Context) (*frameslot.Frame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestMaybeSavePreviewDisabledWhenIntervalZero(t *testing.T) {
	w := &Worker{CameraID: "cam1", PreviewSaveInterval: 0, PreviewWidth: 100, PreviewQuality: 50, Snapshot: nil}
	// Snapshot is nil and PreviewSaveInterval is 0 (the --no-preview wiring);
	// maybeSavePreview must no-op rather than panic on the nil store.
	w.maybeSavePreview(smallFrame())
}

func TestDownscaleImageToWidthPreservesAspectRatio(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	out := downscaleImageToWidth(img, 50)
	b := out.Bounds()
	assert.Equal(t, 50, b.Dx())
	assert.Equal(t, 25, b.Dy())
}

func TestDownscaleImageToWidthNoopWhenAlreadyNarrower(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	out := downscaleImageToWidth(img, 100)
	assert.Equal(t, img, out)
}

func TestWorkerDownscalesOversizedFrameToFitSlot(t *testing.T) {
	oversized := &frameslot.Frame{Height: 2000, Width: 2000, Pix: make([]byte, 2000*2000*3)}
	src := &fakeSource{frames: []*frameslot.Frame{oversized}}
	slot := frameslot.New(64, 64) // tiny slot: the 2000x2000 frame must be downscaled to fit
	metaCh := make(chan recognition.Metadata, 1)
	feedback := make(chan recognition.Result, 1)

	w := NewWorker("cam1", "o1", src, slot, metaCh, feedback, nil, 0, 0, 0, nil, nil)
	require.NoError(t, w.Run(context.Background()))
	// downscale targets slot capacity, so the written frame should actually fit
	assert.Equal(t, int64(1), w.FramesEmitted())
}
