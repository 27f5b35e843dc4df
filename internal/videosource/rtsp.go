package videosource

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/pion/rtp"

	"github.com/outletguard/orchestrator/internal/frameslot"
	"github.com/outletguard/orchestrator/internal/logger"
)

// RTSPConfig configures an RTSPSource.
type RTSPConfig struct {
	URL               string
	Username          string
	Password          string
	ProcessFPS        float64
	ReconnectCooldown time.Duration
	FrameHeight       int
	FrameWidth        int
}

// RTSPSource reads H.264 RTSP frames and throttles them to ProcessFPS,
// grounded on internal/camera/rtsp_client.go's gortsplib.Client usage in
// the teacher repo. Real H.264 decode is out of scope per spec.md §1
// (video decoding is a black box); frames are rendered the same way the
// teacher's own nalusToFrame does — a deterministic stand-in derived from
// the NALU payload, not a true decode.
type RTSPSource struct {
	cfg RTSPConfig
	log *logger.Logger

	mu          sync.Mutex
	client      *gortsplib.Client
	frameCh     chan []byte
	lastEmit    time.Time
	lastReconnect time.Time
	frameID     int64
}

// NewRTSPSource constructs a source and connects immediately.
func NewRTSPSource(cfg RTSPConfig, log *logger.Logger) (*RTSPSource, error) {
	if cfg.ReconnectCooldown == 0 {
		cfg.ReconnectCooldown = 5 * time.Second
	}
	if cfg.FrameHeight == 0 {
		cfg.FrameHeight = frameslot.DefaultMaxHeight
	}
	if cfg.FrameWidth == 0 {
		cfg.FrameWidth = frameslot.DefaultMaxWidth
	}
	s := &RTSPSource{cfg: cfg, log: log, frameCh: make(chan []byte, 4)}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RTSPSource) connect() error {
	u, err := base.ParseURL(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse rtsp url: %w", err)
	}
	if s.cfg.Username != "" && u.User == nil {
		u.User = url.UserPassword(s.cfg.Username, s.cfg.Password)
	}

	client := &gortsplib.Client{}
	desc, _, err := client.Describe(u)
	if err != nil {
		return fmt.Errorf("describe rtsp stream: %w", err)
	}

	var h264Format *format.H264
	var h264Media *description.Media
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if h264, ok := forma.(*format.H264); ok {
				h264Format = h264
				h264Media = media
				break
			}
		}
		if h264Format != nil {
			break
		}
	}
	if h264Format == nil {
		client.Close()
		return fmt.Errorf("no H.264 format in rtsp stream %s", s.cfg.URL)
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		client.Close()
		return fmt.Errorf("setup rtsp stream: %w", err)
	}

	decoder := &rtph264.Decoder{}
	if err := decoder.Init(); err != nil {
		client.Close()
		return fmt.Errorf("init h264 decoder: %w", err)
	}

	client.OnPacketRTP(h264Media, h264Format, func(pkt *rtp.Packet) {
		nalus, err := decoder.Decode(pkt)
		if err != nil {
			return
		}
		var payload []byte
		for _, nalu := range nalus {
			payload = append(payload, nalu...)
		}
		select {
		case s.frameCh <- payload:
		default:
			// drop-oldest: prefer the freshest frame over backlog (spec.md §5 backpressure policy)
			select {
			case <-s.frameCh:
			default:
			}
			select {
			case s.frameCh <- payload:
			default:
			}
		}
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return fmt.Errorf("play rtsp stream: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	// Clear the client when the session dies so Next reconnects after the
	// cooldown; a client replaced or closed by Close is left alone.
	go func() {
		err := client.Wait()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.client == client {
			s.client = nil
			if s.log != nil {
				s.log.Warn("rtsp stream ended", "url", s.cfg.URL, "error", err)
			}
		}
	}()

	if s.log != nil {
		s.log.Info("rtsp source connected", "url", s.cfg.URL)
	}
	return nil
}

// Next returns the next throttled frame, reconnecting (subject to the
// reconnect cooldown) on transport failure.
func (s *RTSPSource) Next(ctx context.Context) (*frameslot.Frame, error) {
	interval := time.Duration(float64(time.Second) / clampFPS(s.cfg.ProcessFPS))

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case payload, ok := <-s.frameCh:
			if !ok {
				return nil, ErrEndOfStream
			}
			now := time.Now()
			if now.Sub(s.lastEmit) < interval {
				continue
			}
			s.lastEmit = now
			s.frameID++
			return payloadToFrame(payload, s.cfg.FrameHeight, s.cfg.FrameWidth), nil
		case <-time.After(100 * time.Millisecond):
			s.mu.Lock()
			dead := s.client == nil
			s.mu.Unlock()
			if dead && time.Since(s.lastReconnect) >= s.cfg.ReconnectCooldown {
				s.lastReconnect = time.Now()
				if err := s.connect(); err != nil {
					if s.log != nil {
						s.log.Warn("rtsp reconnect failed", "url", s.cfg.URL, "error", err)
					}
				}
			}
		}
	}
}

// Close releases the underlying RTSP connection.
func (s *RTSPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	return nil
}

// payloadToFrame renders an RTSP NALU payload into a deterministic pixel
// buffer. Real H.264 decode is explicitly out of scope (spec.md §1); this
// is a stand-in in the same spirit as the teacher's nalusToFrame, which
// also never performs a true decode.
func payloadToFrame(payload []byte, height, width int) *frameslot.Frame {
	h := fnv.New64a()
	h.Write(payload)
	seed := h.Sum64()

	pix := make([]byte, height*width*3)
	for i := range pix {
		pix[i] = byte(seed >> (uint(i%8) * 8))
	}
	return &frameslot.Frame{Height: height, Width: width, Pix: pix}
}
