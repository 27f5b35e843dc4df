package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/outletguard/orchestrator/internal/alertsink"
	"github.com/outletguard/orchestrator/internal/config"
	"github.com/outletguard/orchestrator/internal/detector"
	"github.com/outletguard/orchestrator/internal/gallery"
	"github.com/outletguard/orchestrator/internal/logger"
	"github.com/outletguard/orchestrator/internal/registry"
	"github.com/outletguard/orchestrator/internal/statusapi"
	"github.com/outletguard/orchestrator/internal/supervisor"
	"github.com/outletguard/orchestrator/internal/videosource"
)

// runCommand implements `outletd run`, per spec.md §6's CLI surface: start
// the supervisor and every worker for the configured outlet.
func runCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	preview := fs.Bool("preview", false, "save annotated preview JPEGs")
	noPreview := fs.Bool("no-preview", false, "disable preview JPEGs (overrides --preview)")
	simulate := fs.Bool("simulate", false, "replay fixture frames instead of live camera feeds")
	_ = fs.Parse(args)

	cfg := loadConfigOrExit(*configPath)
	log := buildLoggerOrExit(cfg)
	defer log.Sync()

	log.Info("starting outletd", "version", version, "build_time", buildTime, "git_commit", gitCommit,
		"outlet_id", cfg.Outlet.ID, "preview", previewEnabled(*preview, *noPreview))

	reg, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		log.Fatal("failed to open registry", "error", err)
	}

	galleryStore, err := gallery.NewStore(cfg.DataDir, log)
	if err != nil {
		log.Fatal("failed to open gallery store", "error", err)
	}
	identities, err := galleryStore.LoadAll()
	if err != nil {
		log.Fatal("failed to load gallery", "error", err)
	}
	idx := gallery.Build(identities)
	log.Info("gallery loaded", "identities", idx.Size())

	sources, err := buildSources(cfg, *simulate, log)
	if err != nil {
		log.Fatal("failed to construct video sources", "error", err)
	}
	for _, camID := range cfg.Outlet.Cameras {
		uri := sourceURIFor(cfg, camID)
		if err := reg.RegisterCamera(camID, cfg.Outlet.ID, uri, true); err != nil {
			log.Warn("failed to register camera", "camera_id", camID, "error", err)
		}
	}

	det := buildDetector(cfg)

	var sink *alertsink.Sink
	if alertCfg, err := alertsink.FromEnv(cfg.AlertSink.BotTokenEnvVar, cfg.AlertSink.ChatIDEnvVar, alertsink.Config{
		MaxRetries:           cfg.AlertSink.MaxRetries,
		BackoffBaseSeconds:   cfg.AlertSink.BackoffBaseSeconds,
		RetryAfterDefaultSec: cfg.AlertSink.RetryAfterDefaultSec,
	}); err != nil {
		log.Warn("alert sink credentials not configured, alerts will only be logged", "error", err)
	} else {
		sink = alertsink.New(alertCfg, log)
	}

	sup, err := supervisor.New(cfg, log, det, sources, idx, sink, reg, previewEnabled(*preview, *noPreview))
	if err != nil {
		log.Fatal("failed to wire supervisor", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var statusSrv *statusapi.Server
	if cfg.StatusAPI.Enabled {
		statusSrv = statusapi.New(statusapi.Config{
			Addr:      cfg.StatusAPI.Addr,
			StatePath: filepath.Join(cfg.DataDir, cfg.Outlet.ID, "outlet_state.json"),
		}, log)
		statusSrv.RegisterChecker(registryChecker{reg: reg, maxAgeSeconds: 60})
		if err := statusSrv.Start(ctx); err != nil {
			log.Warn("status API failed to start", "error", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	go func() {
		sig := waitForShutdownSignal(cancel)
		log.Info("received shutdown signal", "signal", sig.String())
	}()

	err = <-done
	sup.Shutdown()
	if statusSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = statusSrv.Stop(shutdownCtx)
		shutdownCancel()
	}

	if err != nil && err != context.Canceled {
		log.Error("supervisor exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func previewEnabled(preview, noPreview bool) bool {
	if noPreview {
		return false
	}
	return preview
}

// buildDetector constructs the face detector. A real model binding is out
// of scope (spec.md §1 treats detection as a black box); the stub produces
// deterministic, pixel-derived embeddings sufficient to exercise matching.
func buildDetector(cfg *config.Config) detector.Detector {
	return detector.NewStub(128)
}

func sourceURIFor(cfg *config.Config, cameraID string) string {
	for _, src := range cfg.Camera.Sources {
		if src.ID == cameraID {
			return src.URI
		}
	}
	return ""
}

// buildSources constructs one videosource.Source per camera listed in
// cfg.Outlet.Cameras, dispatching on the matching CameraSource.Kind.
// simulate forces every camera onto FileLoopSource regardless of
// configured kind, per SPEC_FULL.md's `--simulate` behavior.
func buildSources(cfg *config.Config, simulate bool, log *logger.Logger) (map[string]videosource.Source, error) {
	out := make(map[string]videosource.Source)
	for _, camID := range cfg.Outlet.Cameras {
		var cs *config.CameraSource
		for i := range cfg.Camera.Sources {
			if cfg.Camera.Sources[i].ID == camID {
				cs = &cfg.Camera.Sources[i]
				break
			}
		}
		if cs == nil {
			return nil, fmt.Errorf("no camera source declared for outlet camera %q", camID)
		}

		kind := cs.Kind
		if simulate {
			kind = "file_loop"
		}

		src, err := buildOneSource(cfg, *cs, kind, log)
		if err != nil {
			return nil, fmt.Errorf("camera %q: %w", camID, err)
		}
		out[camID] = src
	}
	return out, nil
}

func buildOneSource(cfg *config.Config, cs config.CameraSource, kind string, log *logger.Logger) (videosource.Source, error) {
	switch kind {
	case "rtsp":
		return videosource.NewRTSPSource(videosource.RTSPConfig{
			URL:               cs.URI,
			ProcessFPS:        cfg.Camera.ProcessFPS,
			ReconnectCooldown: cfg.Camera.ReconnectCooldown,
			FrameHeight:       cfg.Inference.MaxFrameHeight,
			FrameWidth:        cfg.Inference.MaxFrameWidth,
		}, log)
	case "file_loop":
		return videosource.NewFileLoopSource(videosource.FileLoopConfig{
			Dir:        cs.URI,
			ProcessFPS: cfg.Camera.ProcessFPS,
			Loop:       true,
		})
	default:
		return nil, fmt.Errorf("unsupported camera source kind %q (webcam sources are only used by `outletd enroll`)", kind)
	}
}

// registryChecker adapts the ambient registry's worker-heartbeat table to
// statusapi.Checker.
type registryChecker struct {
	reg           *registry.Registry
	maxAgeSeconds float64
}

func (c registryChecker) Healthy() (bool, string) {
	stale, err := c.reg.StaleWorkers(float64(time.Now().Unix()), c.maxAgeSeconds)
	if err != nil {
		return false, err.Error()
	}
	if len(stale) > 0 {
		return false, fmt.Sprintf("%d stale worker(s): %v", len(stale), stale)
	}
	return true, ""
}
