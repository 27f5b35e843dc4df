package videosource

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/outletguard/orchestrator/internal/frameslot"
)

// WebcamConfig configures a WebcamSource.
type WebcamConfig struct {
	DeviceIndex int
	ProcessFPS  float64
	FrameHeight int
	FrameWidth  int
}

// WebcamDevice is the minimal device-capture seam a real OS webcam driver
// implements; WebcamSource only depends on this interface so the `enroll`
// CLI can be exercised without a physical camera attached. Video decoding
// itself is out of scope per spec.md §1 — same black-box boundary as
// RTSPSource.
type WebcamDevice interface {
	// ReadFrame blocks for at most one frame interval and returns the next
	// raw RGB buffer, or ok=false if no frame was available; WebcamSource
	// reports ok=false as ErrEndOfStream.
	ReadFrame() (pix []byte, ok bool, err error)
	Close() error
}

// WebcamSource reads from a local capture device for `outletd enroll`,
// throttled the same way as original_source/src/pipeline/webcam_reader.py's
// read_throttled() pacing to 1/fps, except that a frame read early is not
// dropped: Next waits out the rest of the interval and then returns it.
type WebcamSource struct {
	cfg      WebcamConfig
	device   WebcamDevice
	lastEmit time.Time
}

// NewWebcamSource wraps an already-open device; cfg.DeviceIndex only
// appears in the error returned when device is nil.
func NewWebcamSource(cfg WebcamConfig, device WebcamDevice) (*WebcamSource, error) {
	if device == nil {
		return nil, fmt.Errorf("open webcam index %d: no capture device provided", cfg.DeviceIndex)
	}
	if cfg.FrameHeight == 0 {
		cfg.FrameHeight = frameslot.DefaultMaxHeight
	}
	if cfg.FrameWidth == 0 {
		cfg.FrameWidth = frameslot.DefaultMaxWidth
	}
	return &WebcamSource{cfg: cfg, device: device}, nil
}

// Next returns the next throttled frame from the device.
func (s *WebcamSource) Next(ctx context.Context) (*frameslot.Frame, error) {
	interval := time.Duration(float64(time.Second) / clampFPS(s.cfg.ProcessFPS))

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		pix, ok, err := s.device.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("read webcam frame: %w", err)
		}
		if !ok {
			return nil, ErrEndOfStream
		}

		now := time.Now()
		if wait := interval - now.Sub(s.lastEmit); wait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		s.lastEmit = time.Now()

		want := s.cfg.FrameHeight * s.cfg.FrameWidth * 3
		if len(pix) != want {
			pix = resample(pix, want)
		}
		return &frameslot.Frame{Height: s.cfg.FrameHeight, Width: s.cfg.FrameWidth, Pix: pix}, nil
	}
}

// Close releases the underlying device.
func (s *WebcamSource) Close() error { return s.device.Close() }

// resample stretches or truncates a raw buffer to exactly n bytes so a
// device returning an unexpected resolution still fits the configured
// slot dimensions.
func resample(pix []byte, n int) []byte {
	if len(pix) == 0 {
		return make([]byte, n)
	}
	out := make([]byte, n)
	ratio := float64(len(pix)) / float64(n)
	for i := range out {
		out[i] = pix[int(math.Min(float64(len(pix)-1), float64(i)*ratio))]
	}
	return out
}
