package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/outletguard/orchestrator/internal/gallery"
	"github.com/outletguard/orchestrator/internal/videosource"
)

// enrollCommand implements `outletd enroll`: capture K valid faces from a
// capture device and store them as one gallery identity, per spec.md §6.
func enrollCommand(args []string) {
	fs := flag.NewFlagSet("enroll", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	targetID := fs.String("target_id", "", "unique id for the enrolled target")
	name := fs.String("name", "", "display name for the enrolled target")
	samples := fs.Int("samples", 5, "number of valid face samples to capture")
	deviceDir := fs.String("device_dir", "", "directory of still-image fixtures standing in for a live capture device")
	_ = fs.Parse(args)

	if *targetID == "" || *name == "" {
		fmt.Fprintln(os.Stderr, "enroll requires --target_id and --name")
		os.Exit(1)
	}
	if *samples <= 0 {
		*samples = 5
	}

	cfg := loadConfigOrExit(*configPath)
	log := buildLoggerOrExit(cfg)
	defer log.Sync()

	dir := *deviceDir
	if dir == "" {
		dir = filepath.Join(cfg.DataDir, "enroll_fixtures", *targetID)
	}
	device, err := newDirWebcamDevice(dir)
	if err != nil {
		log.Fatal("failed to open capture device", "error", err)
	}

	source, err := videosource.NewWebcamSource(videosource.WebcamConfig{
		ProcessFPS:  cfg.Camera.ProcessFPS,
		FrameHeight: cfg.Inference.MaxFrameHeight,
		FrameWidth:  cfg.Inference.MaxFrameWidth,
	}, device)
	if err != nil {
		log.Fatal("failed to start capture", "error", err)
	}
	defer source.Close()

	det := buildDetector(cfg)
	defer det.Close()

	galleryStore, err := gallery.NewStore(cfg.DataDir, log)
	if err != nil {
		log.Fatal("failed to open gallery store", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var embeddings [][]float32
	var sampleMeta []gallery.SampleMeta
	minDetScore := 1.0
	minFaceWidth := 0

	for len(embeddings) < *samples {
		frame, err := source.Next(ctx)
		if err != nil {
			if err == videosource.ErrEndOfStream {
				log.Warn("capture device exhausted before reaching sample target",
					"captured", len(embeddings), "requested", *samples)
				break
			}
			log.Fatal("capture failed", "error", err)
		}

		faces, err := det.Detect(ctx, frame)
		if err != nil {
			log.Warn("detection failed on sample, skipping", "error", err)
			continue
		}
		if len(faces) == 0 {
			continue
		}
		face := faces[0] // single-subject enrollment: take the first face the detector reports
		faceWidth := int(face.BBox[2] - face.BBox[0])

		embeddings = append(embeddings, face.Embedding)
		sampleMeta = append(sampleMeta, gallery.SampleMeta{DetScore: face.DetScore, FaceWidthPx: faceWidth})
		if face.DetScore < minDetScore {
			minDetScore = face.DetScore
		}
		if minFaceWidth == 0 || faceWidth < minFaceWidth {
			minFaceWidth = faceWidth
		}
		log.Info("captured sample", "n", len(embeddings), "requested", *samples, "det_score", face.DetScore)
	}

	if len(embeddings) == 0 {
		log.Fatal("no valid face samples captured, enrollment aborted")
	}

	meta := gallery.PersonMeta{
		CreatedAt:      time.Now(),
		NumSamples:     len(embeddings),
		MinDetScore:    minDetScore,
		MinFaceWidthPx: minFaceWidth,
		Samples:        sampleMeta,
	}
	path, err := galleryStore.SavePerson(*targetID, *name, embeddings, meta)
	if err != nil {
		log.Fatal("failed to save gallery document", "error", err)
	}

	log.Info("enrollment complete", "target_id", *targetID, "name", *name, "samples", len(embeddings), "path", path)
}

// dirWebcamDevice stands in for a live OS capture device: it reads each
// still-image fixture of a directory once, in sorted order, then reports no
// frame (which WebcamSource treats as end of stream). Real webcam capture is the
// same out-of-scope video-decoding boundary spec.md §1 carves out for
// RTSP; this seam (videosource.WebcamDevice) is exactly where a
// platform-specific binding would plug in.
type dirWebcamDevice struct {
	paths []string
	index int
}

func newDirWebcamDevice(dir string) (*dirWebcamDevice, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read capture fixture dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".jpg" || ext == ".jpeg" || ext == ".png" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no image fixtures found in %s", dir)
	}
	return &dirWebcamDevice{paths: paths}, nil
}

func (d *dirWebcamDevice) ReadFrame() ([]byte, bool, error) {
	if d.index >= len(d.paths) {
		return nil, false, nil
	}
	path := d.paths[d.index]
	d.index++

	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("open fixture %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, false, fmt.Errorf("decode fixture %s: %w", path, err)
	}

	return imageToRGBBuffer(img), true, nil
}

func (d *dirWebcamDevice) Close() error { return nil }

func imageToRGBBuffer(img image.Image) []byte {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	pix := make([]byte, h*w*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			off := (y*w + x) * 3
			pix[off] = byte(r >> 8)
			pix[off+1] = byte(g >> 8)
			pix[off+2] = byte(bl >> 8)
		}
	}
	return pix
}
