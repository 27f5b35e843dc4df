// Package videosource implements the capture worker's video input, behind
// the black-box contract spec.md §1 assigns to video decoding:
// read_frame() -> pixel buffer | EOF. Three concrete sources are provided:
// RTSP (gortsplib), a looping file reader for test fixtures/offline
// replay, and a webcam reader for `outletd enroll`. Throttling to the
// configured sample rate happens inside each source, grounded on
// original_source/src/pipeline/rtsp_reader.py and webcam_reader.py's
// read_throttled() — track last-emit time; the RTSP source drops frames
// arriving before the next interval, while the file-loop and webcam
// sources wait out the rest of the interval instead.
package videosource

import (
	"context"
	"errors"

	"github.com/outletguard/orchestrator/internal/frameslot"
)

// ErrEndOfStream is returned by Next when a source has no more frames to
// offer (e.g. a file-loop source configured not to loop, or webcam
// disconnect).
var ErrEndOfStream = errors.New("videosource: end of stream")

// Source is the black-box "read a pixel buffer" contract of spec.md §1.
// Next blocks until either a throttled frame is ready, ctx is canceled, or
// the stream ends.
type Source interface {
	// Next returns the next sample-rate-throttled frame, or ErrEndOfStream,
	// or a wrapped transient error the caller should retry after backoff.
	Next(ctx context.Context) (*frameslot.Frame, error)
	// Close releases any OS resources (sockets, file handles, device
	// handles) the source holds.
	Close() error
}

// clampFPS floors the rate at 1 fps; rates above 1, fractional or not,
// are returned unchanged.
func clampFPS(fps float64) float64 {
	if fps < 1 {
		return 1
	}
	return fps
}
