package videosource

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/outletguard/orchestrator/internal/frameslot"
)

// FileLoopConfig configures a FileLoopSource.
type FileLoopConfig struct {
	Dir        string // directory of numbered JPEG/PNG frame fixtures
	ProcessFPS float64
	Loop       bool // loop back to the first frame on EOF instead of ending the stream
}

// FileLoopSource replays a directory of still-image fixtures in sorted
// filename order, throttled to ProcessFPS. Used for integration tests and
// offline replay where no live camera is available; grounded on the same
// read_throttled() throttling shape as RTSPSource and original_source's
// readers, applied to a static frame set instead of a live feed.
type FileLoopSource struct {
	cfg      FileLoopConfig
	paths    []string
	index    int
	lastEmit time.Time
}

// NewFileLoopSource lists and sorts the image files under cfg.Dir.
func NewFileLoopSource(cfg FileLoopConfig) (*FileLoopSource, error) {
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("read frame fixture dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".jpg" || ext == ".jpeg" || ext == ".png" {
			paths = append(paths, filepath.Join(cfg.Dir, e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frame fixtures found under %s", cfg.Dir)
	}
	return &FileLoopSource{cfg: cfg, paths: paths}, nil
}

// Next returns the next throttled frame, looping or ending per cfg.Loop.
func (s *FileLoopSource) Next(ctx context.Context) (*frameslot.Frame, error) {
	interval := time.Duration(float64(time.Second) / clampFPS(s.cfg.ProcessFPS))

	for {
		if s.index >= len(s.paths) {
			if !s.cfg.Loop {
				return nil, ErrEndOfStream
			}
			s.index = 0
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		now := time.Now()
		if now.Sub(s.lastEmit) < interval {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval - now.Sub(s.lastEmit)):
			}
		}

		path := s.paths[s.index]
		s.index++

		frame, err := loadImageFrame(path)
		if err != nil {
			continue // skip unreadable fixture, try the next one
		}
		s.lastEmit = time.Now()
		return frame, nil
	}
}

// Close is a no-op: FileLoopSource holds no OS handles between reads.
func (s *FileLoopSource) Close() error { return nil }

func loadImageFrame(path string) (*frameslot.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame fixture: %w", err)
	}
	defer f.Close()

	var img image.Image
	switch filepath.Ext(path) {
	case ".png":
		img, err = png.Decode(f)
	default:
		img, err = jpeg.Decode(f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode frame fixture: %w", err)
	}

	return imageToFrame(img), nil
}

func imageToFrame(img image.Image) *frameslot.Frame {
	b := img.Bounds()
	height, width := b.Dy(), b.Dx()
	pix := make([]byte, height*width*3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			pix[i] = byte(r >> 8)
			pix[i+1] = byte(g >> 8)
			pix[i+2] = byte(bl >> 8)
			i += 3
		}
	}
	return &frameslot.Frame{Height: height, Width: width, Pix: pix}
}
