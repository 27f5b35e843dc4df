// Package frameslot implements the single-slot, zero-copy frame hand-off
// between one capture worker and the recognition worker described in
// spec.md §4.2. Exactly one writer and one reader share a *Slot by
// reference; see SPEC_FULL.md §0 for why this is an in-process struct
// rather than an OS shared-memory segment, and why that substitution
// preserves every byte-level invariant spec.md cares about.
package frameslot

import "sync"

// DefaultMaxHeight and DefaultMaxWidth are the slot capacity spec.md names
// as its defaults.
const (
	DefaultMaxHeight = 720
	DefaultMaxWidth  = 1280
	channels         = 3
)

// Frame is a decoded HWC, 3-channel pixel buffer.
type Frame struct {
	Height int
	Width  int
	Pix    []byte // len == Height*Width*3
}

// Meta is the header information returned alongside a frame on Read.
type Meta struct {
	Height    int
	Width     int
	FrameID   int64
	Timestamp float64
}

// Slot is a fixed-capacity, mutex-guarded single-frame buffer. Write
// overwrites unconditionally; Read returns an independent copy of whatever
// is currently valid, or (nil, Meta{}, false) if nothing has been published
// yet.
//
// Publish discipline: Write sets every header field except valid, then sets
// valid last. Read checks valid first, and only then copies the header and
// pixel region out. This ordering is the "publish fence" spec.md requires:
// a reader that observes valid==1 is guaranteed to see a fully-formed
// frame, never a torn one.
type Slot struct {
	mu     sync.Mutex
	maxH   int
	maxW   int
	valid  bool
	header Meta
	pixels []byte // capacity maxH*maxW*3, only [:h*w*3] meaningful while valid
}

// New allocates a slot sized for frames up to maxH x maxW.
func New(maxH, maxW int) *Slot {
	if maxH <= 0 {
		maxH = DefaultMaxHeight
	}
	if maxW <= 0 {
		maxW = DefaultMaxWidth
	}
	return &Slot{
		maxH:   maxH,
		maxW:   maxW,
		pixels: make([]byte, maxH*maxW*channels),
	}
}

// MaxHeight and MaxWidth report the slot's configured capacity.
func (s *Slot) MaxHeight() int { return s.maxH }
func (s *Slot) MaxWidth() int  { return s.maxW }

// Write stores frame under the slot's mutex. Returns false, leaving the
// slot's prior content (and valid flag) untouched, if frame exceeds the
// slot's capacity.
func (s *Slot) Write(frame *Frame, frameID int64, ts float64) bool {
	if frame.Height > s.maxH || frame.Width > s.maxW {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := frame.Height * frame.Width * channels
	copy(s.pixels[:n], frame.Pix[:n])
	s.header = Meta{Height: frame.Height, Width: frame.Width, FrameID: frameID, Timestamp: ts}
	s.valid = true // publish fence: last store
	return true
}

// Read returns an independent copy of the current frame and its metadata,
// or ok==false if no valid frame has been published (or the slot has been
// reset).
func (s *Slot) Read() (frame *Frame, meta Meta, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.valid {
		return nil, Meta{}, false
	}

	h, w := s.header.Height, s.header.Width
	n := h * w * channels
	out := make([]byte, n)
	copy(out, s.pixels[:n])

	return &Frame{Height: h, Width: w, Pix: out}, s.header, true
}

// Reset clears the valid flag without touching pixel data, returning the
// slot to its empty state. Used by tests and by capture worker shutdown.
func (s *Slot) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
}
