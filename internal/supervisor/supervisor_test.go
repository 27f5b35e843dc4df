package supervisor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outletguard/orchestrator/internal/config"
	"github.com/outletguard/orchestrator/internal/detector"
	"github.com/outletguard/orchestrator/internal/frameslot"
	"github.com/outletguard/orchestrator/internal/gallery"
	"github.com/outletguard/orchestrator/internal/logger"
	"github.com/outletguard/orchestrator/internal/videosource"
)

// loopSource repeatedly emits the same frame until the context is
// canceled, simulating a live camera for wiring tests.
type loopSource struct {
	frame *frameslot.Frame
}

func (s *loopSource) Next(ctx context.Context) (*frameslot.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return s.frame, nil
	}
}
func (s *loopSource) Close() error { return nil }

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		DataDir: dir,
		Outlet: config.OutletConfig{
			ID:           "o1",
			Cameras:      []string{"cam1"},
			TargetSPGIDs: []string{"t1"},
		},
		Presence: config.PresenceConfig{GraceSeconds: 1, AbsentSeconds: 2},
		Inference: config.InferenceConfig{
			FrameSkip:      0,
			MaxFrameHeight: 64,
			MaxFrameWidth:  64,
		},
		Recognition: config.RecognitionConfig{Threshold: -1.0}, // match anything, deterministic
		Storage: config.StorageConfig{
			SnapshotRetentionDays: 0,
			PreviewSaveInterval:   5 * time.Millisecond,
			PreviewWidth:          2,
			PreviewQuality:        50,
		},
	}
}

func buildSupervisor(t *testing.T, previewEnabled bool) (*Supervisor, *config.Config) {
	cfg := testConfig(t)
	log := logger.Nop()

	frame := &frameslot.Frame{Height: 4, Width: 4, Pix: make([]byte, 48)}
	for i := range frame.Pix {
		frame.Pix[i] = byte(i)
	}
	sources := map[string]videosource.Source{"cam1": &loopSource{frame: frame}}

	det := detector.NewStub(4)
	idx := gallery.Build(nil) // empty gallery: no matches, still exercises the full path

	sup, err := New(cfg, log, det, sources, idx, nil, nil, previewEnabled)
	require.NoError(t, err)
	return sup, cfg
}

func TestNewWiresOneWorkerPerConfiguredCamera(t *testing.T) {
	sup, _ := buildSupervisor(t, true)
	assert.Len(t, sup.captureWorkers, 1)
	assert.Len(t, sup.slots, 1)
	assert.Len(t, sup.presenceEngines, 1)
	assert.NotNil(t, sup.recogWorker)
}

func TestNewWiresPreviewSettingsThroughToCaptureWorkers(t *testing.T) {
	enabled, _ := buildSupervisor(t, true)
	require.Len(t, enabled.captureWorkers, 1)
	assert.Equal(t, 5*time.Millisecond, enabled.captureWorkers[0].PreviewSaveInterval)
	assert.Equal(t, 2, enabled.captureWorkers[0].PreviewWidth)
	assert.Equal(t, 50, enabled.captureWorkers[0].PreviewQuality)

	disabled, _ := buildSupervisor(t, false)
	require.Len(t, disabled.captureWorkers, 1)
	assert.Equal(t, time.Duration(0), disabled.captureWorkers[0].PreviewSaveInterval,
		"--no-preview must zero the interval so maybeSavePreview no-ops")
}

func TestRunStopsPromptlyOnContextCancel(t *testing.T) {
	sup, _ := buildSupervisor(t, true)
	defer sup.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor should stop promptly on context cancellation")
	}
}

func TestRunProducesEventLogsAndStateSnapshot(t *testing.T) {
	sup, cfg := buildSupervisor(t, true)
	defer sup.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor should stop promptly on context cancellation")
	}

	// the event log file itself must exist even with an empty gallery
	// (no target ever gets matched, so no events are appended, but the
	// capture/recognition/tick pipeline must have run without error)
	eventPath := filepath.Join(cfg.DataDir, "cam1", "events.jsonl")
	_, err := os.Stat(eventPath)
	require.NoError(t, err)

	statePath := filepath.Join(cfg.DataDir, cfg.Outlet.ID, "outlet_state.json")
	raw, err := os.ReadFile(statePath)
	require.NoError(t, err)
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &parsed))
}
