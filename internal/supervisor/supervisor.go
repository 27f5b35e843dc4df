// Package supervisor wires together every other package into one running
// outlet monitor: it constructs the gallery, frame slots, capture workers,
// the recognition worker, per-camera presence engines, the aggregator, the
// event logs, the snapshot store, the alert sink, and the ambient
// registry, then drives the tick loop and handles graceful shutdown.
// Grounded on internal/service/manager.go's Start/Shutdown shape in the
// teacher repo, rebuilt on top of golang.org/x/sync/errgroup for
// goroutine lifecycle management in place of the teacher's hand-rolled
// WaitGroup + status map.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/outletguard/orchestrator/internal/aggregator"
	"github.com/outletguard/orchestrator/internal/alertsink"
	"github.com/outletguard/orchestrator/internal/capture"
	"github.com/outletguard/orchestrator/internal/config"
	"github.com/outletguard/orchestrator/internal/detector"
	"github.com/outletguard/orchestrator/internal/domain"
	"github.com/outletguard/orchestrator/internal/eventlog"
	"github.com/outletguard/orchestrator/internal/frameslot"
	"github.com/outletguard/orchestrator/internal/gallery"
	"github.com/outletguard/orchestrator/internal/logger"
	"github.com/outletguard/orchestrator/internal/presence"
	"github.com/outletguard/orchestrator/internal/recognition"
	"github.com/outletguard/orchestrator/internal/registry"
	"github.com/outletguard/orchestrator/internal/storage"
	"github.com/outletguard/orchestrator/internal/videosource"
)

// TickInterval is the supervisor's sleep-between-ticks of spec.md §5.
const TickInterval = 50 * time.Millisecond

// ResultsDrainLimit is the per-tick bounded drain of spec.md §5.
const ResultsDrainLimit = 50

// Supervisor owns every long-lived component for one outlet.
type Supervisor struct {
	cfg *config.Config
	log *logger.Logger

	gallery  *gallery.Index
	detector detector.Detector
	slots    map[string]*frameslot.Slot
	sources  map[string]videosource.Source

	metadata chan recognition.Metadata
	results  chan recognition.Result
	feedback map[string]chan recognition.Result

	presenceEngines map[string]*presence.Engine
	aggregatorImpl  *aggregator.Aggregator

	eventLogs     map[string]*eventlog.Log
	globalLog     *eventlog.Log
	outletDir     string
	snapshotStore *storage.SnapshotStore
	alertSink     *alertsink.Sink
	reg           *registry.Registry

	captureWorkers []*capture.Worker
	recogWorker    *recognition.Worker
}

// New wires every component from cfg without starting any goroutines.
// previewEnabled gates whether capture workers save the periodic preview
// JPEG at all, per the `--preview`/`--no-preview` CLI flags of spec.md §6.
func New(cfg *config.Config, log *logger.Logger, det detector.Detector, sources map[string]videosource.Source, idx *gallery.Index, sink *alertsink.Sink, reg *registry.Registry, previewEnabled bool) (*Supervisor, error) {
	s := &Supervisor{
		cfg:             cfg,
		log:             log,
		gallery:         idx,
		detector:        det,
		sources:         sources,
		slots:           make(map[string]*frameslot.Slot),
		feedback:        make(map[string]chan recognition.Result),
		presenceEngines: make(map[string]*presence.Engine),
		eventLogs:       make(map[string]*eventlog.Log),
		alertSink:       sink,
		reg:             reg,
	}

	snapshotStore, err := storage.NewSnapshotStore(cfg.DataDir, log)
	if err != nil {
		return nil, fmt.Errorf("construct snapshot store: %w", err)
	}
	s.snapshotStore = snapshotStore

	s.metadata = make(chan recognition.Metadata, 256)
	s.results = make(chan recognition.Result, 256)

	for _, camID := range cfg.Outlet.Cameras {
		s.slots[camID] = frameslot.New(cfg.Inference.MaxFrameHeight, cfg.Inference.MaxFrameWidth)
		s.feedback[camID] = make(chan recognition.Result, 16)
		s.presenceEngines[camID] = presence.NewEngine(cfg.Outlet.ID, camID, cfg.Presence.GraceSeconds, cfg.Presence.AbsentSeconds)

		camDir := filepath.Join(cfg.DataDir, camID)
		if err := os.MkdirAll(camDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir for %s: %w", camID, err)
		}
		logPath := filepath.Join(camDir, "events.jsonl")
		log, err := eventlog.Open(logPath)
		if err != nil {
			return nil, fmt.Errorf("open event log for %s: %w", camID, err)
		}
		s.eventLogs[camID] = log

		source, ok := sources[camID]
		if !ok {
			return nil, fmt.Errorf("no video source configured for camera %s", camID)
		}

		previewInterval := cfg.Storage.PreviewSaveInterval
		if !previewEnabled {
			previewInterval = 0
		}
		worker := capture.NewWorker(camID, cfg.Outlet.ID, source, s.slots[camID], s.metadata, s.feedback[camID],
			s.snapshotStore, previewInterval, cfg.Storage.PreviewWidth, cfg.Storage.PreviewQuality, nil, s.log)
		s.captureWorkers = append(s.captureWorkers, worker)
	}

	outletDir := filepath.Join(cfg.DataDir, cfg.Outlet.ID)
	if err := os.MkdirAll(outletDir, 0o755); err != nil {
		return nil, fmt.Errorf("create outlet data dir: %w", err)
	}
	s.outletDir = outletDir

	globalLog, err := eventlog.Open(filepath.Join(outletDir, "aggregator_events.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open aggregator event log: %w", err)
	}
	s.globalLog = globalLog

	s.aggregatorImpl = aggregator.New(cfg.Outlet.ID, cfg.Presence.AbsentSeconds, cfg.Outlet.TargetSPGIDs, nil, s.log)

	s.recogWorker = recognition.NewWorker(det, s.slots, s.metadata, s.results, cfg.Inference.FrameSkip, cfg.Recognition.Threshold, idx, s.log)

	return s, nil
}

// Run starts every goroutine and blocks until ctx is canceled or a fatal
// error occurs (e.g. model load failure propagated from the recognition
// worker). On return, every goroutine has been asked to stop and the
// snapshot retention sweep has already run once at startup.
func (s *Supervisor) Run(ctx context.Context) error {
	if sweep, err := s.snapshotStore.Sweep(s.cfg.Storage.SnapshotRetentionDays, time.Now()); err != nil {
		s.log.Warn("startup snapshot sweep failed", "error", err)
	} else if sweep.FilesDeleted > 0 {
		s.log.Info("snapshot retention sweep complete", "files_deleted", sweep.FilesDeleted, "bytes_freed", sweep.BytesFreed)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, w := range s.captureWorkers {
		w := w
		g.Go(func() error {
			if err := w.Run(gctx); err != nil && err != context.Canceled {
				s.log.Warn("capture worker exited", "camera_id", w.CameraID, "error", err)
			}
			return nil // transient capture failures never abort the supervisor
		})
	}

	g.Go(func() error {
		if err := s.recogWorker.Run(gctx); err != nil && err != context.Canceled {
			return fmt.Errorf("recognition worker fatal: %w", err)
		}
		return nil
	})

	g.Go(func() error { return s.tickLoop(gctx) })

	return g.Wait()
}

// tickLoop is the supervisor's own loop: drain results (bounded per tick),
// fan them into presence engines + aggregator, tick every presence engine
// and the aggregator, persist events, dump the state snapshot, and run
// the alert sink for freshly fired alerts.
func (s *Supervisor) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tickOnce()
		}
	}
}

func (s *Supervisor) tickOnce() {
	now := float64(time.Now().UnixNano()) / 1e9

	drained := 0
	var seenEvents []domain.Event
	for drained < ResultsDrainLimit {
		select {
		case result := <-s.results:
			drained++
			s.handleResult(result, &seenEvents)
		default:
			drained = ResultsDrainLimit // nothing left, stop draining
		}
	}

	for camID, engine := range s.presenceEngines {
		events := engine.Tick(s.cfg.Outlet.TargetSPGIDs, now)
		s.persistEvents(camID, events)
	}

	s.aggregatorImpl.Ingest(seenEvents)
	alerts := s.aggregatorImpl.Tick()
	s.persistGlobalEvents(alerts)
	s.dispatchAlerts(alerts)

	s.aggregatorImpl.DumpState(filepath.Join(s.outletDir, "outlet_state.json"))
}

func (s *Supervisor) handleResult(result recognition.Result, seenEvents *[]domain.Event) {
	engine, ok := s.presenceEngines[result.CameraID]
	if !ok {
		return
	}

	targets := make(map[string]bool, len(s.cfg.Outlet.TargetSPGIDs))
	for _, id := range s.cfg.Outlet.TargetSPGIDs {
		targets[id] = true
	}
	recorded := make(map[string]bool)
	for _, face := range result.Faces {
		if !face.Matched || !targets[face.TargetID] || recorded[face.TargetID] {
			continue
		}
		recorded[face.TargetID] = true
		events := engine.ObserveSeen(face.TargetID, face.DisplayName, face.Similarity, result.Timestamp)
		s.persistEvents(result.CameraID, events)
		*seenEvents = append(*seenEvents, events...)
	}

	select {
	case s.feedback[result.CameraID] <- result:
	default:
		// overwrite-on-full: capture worker only needs the newest overlay state
		select {
		case <-s.feedback[result.CameraID]:
		default:
		}
		select {
		case s.feedback[result.CameraID] <- result:
		default:
		}
	}
}

func (s *Supervisor) persistEvents(cameraID string, events []domain.Event) {
	log, ok := s.eventLogs[cameraID]
	if !ok {
		return
	}
	for _, e := range events {
		if err := log.Append(e); err != nil {
			s.log.Warn("failed to append event", "camera_id", cameraID, "error", err)
		}
	}
}

func (s *Supervisor) persistGlobalEvents(events []domain.Event) {
	for _, e := range events {
		if err := s.globalLog.Append(e); err != nil {
			s.log.Warn("failed to append aggregator event", "error", err)
		}
		if s.reg != nil {
			reason, _ := e.Details["reason"].(string)
			if err := s.reg.RecordAlert(e.OutletID, e.TargetID, e.CameraID, e.Timestamp, reason); err != nil {
				s.log.Warn("failed to record alert history", "error", err)
			}
		}
	}
}

func (s *Supervisor) dispatchAlerts(alerts []domain.Event) {
	if s.alertSink == nil {
		return
	}
	for _, a := range alerts {
		text := fmt.Sprintf("[%s] %s absent from outlet %s", a.DisplayName, a.TargetID, a.OutletID)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.alertSink.SendText(ctx, text); err != nil {
			s.log.Error("alert dispatch failed, will re-arm next absence episode", "target_id", a.TargetID, "error", err)
		}
		cancel()
	}
}

// Shutdown releases any resources the supervisor owns directly (event log
// file handles, registry connection). Capture/recognition goroutine
// cleanup happens via ctx cancellation in Run.
func (s *Supervisor) Shutdown() {
	for _, log := range s.eventLogs {
		_ = log.Close()
	}
	_ = s.globalLog.Close()
	if s.detector != nil {
		_ = s.detector.Close()
	}
	if s.reg != nil {
		_ = s.reg.Close()
	}
}
