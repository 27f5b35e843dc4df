// Package presence implements the per-camera presence state machine of
// spec.md §4.5: a per-target three-state machine that turns a stream of raw
// sightings into SEEN, PRESENT, ABSENT, and ABSENT_ALERT_FIRED events under
// grace/absence thresholds. Grounded on
// original_source/pipeline/presence_logic.py, carried over unchanged in
// semantics.
package presence

import (
	"math"

	"github.com/outletguard/orchestrator/internal/domain"
)

// State is one target's presence bookkeeping within a single camera's
// engine.
type State struct {
	Status     Status
	LastSeenTS *float64
	AlertFired bool
}

// Status is the three-state machine's state.
type Status string

const (
	StatusUnknown Status = "UNKNOWN"
	StatusPresent Status = "PRESENT"
	StatusAbsent  Status = "ABSENT"
)

// Engine owns one SpgState per target for a single camera.
type Engine struct {
	OutletID string
	CameraID string

	GraceSeconds   int
	AbsentSeconds  int

	states map[string]*State
}

// NewEngine constructs a presence engine for one camera. GraceSeconds must
// be <= AbsentSeconds (spec.md invariant); callers are expected to validate
// configuration before construction.
func NewEngine(outletID, cameraID string, graceSeconds, absentSeconds int) *Engine {
	return &Engine{
		OutletID:      outletID,
		CameraID:      cameraID,
		GraceSeconds:  graceSeconds,
		AbsentSeconds: absentSeconds,
		states:        make(map[string]*State),
	}
}

func (e *Engine) get(targetID string) *State {
	s, ok := e.states[targetID]
	if !ok {
		s = &State{Status: StatusUnknown}
		e.states[targetID] = s
	}
	return s
}

// State returns a copy of the current bookkeeping for targetID, for tests
// and diagnostics.
func (e *Engine) State(targetID string) State {
	return *e.get(targetID)
}

// ObserveSeen records a matched sighting of targetID at ts. Callers are
// responsible for the "matched && target_id in target set && not already
// recorded this frame" dedup spec.md describes — this method simply records
// one sighting.
func (e *Engine) ObserveSeen(targetID, displayName string, similarity float64, ts float64) []domain.Event {
	s := e.get(targetID)
	var events []domain.Event

	s.LastSeenTS = floatPtr(ts)

	sim := similarity
	events = append(events, domain.NewEvent(ts, domain.EventSPGSeen, e.OutletID, e.CameraID).
		WithTarget(targetID, displayName, &sim))

	if s.Status != StatusPresent {
		s.Status = StatusPresent
		s.AlertFired = false
		events = append(events, domain.NewEvent(ts, domain.EventSPGPresent, e.OutletID, e.CameraID).
			WithTarget(targetID, displayName, &sim))
	}

	return events
}

// Tick evaluates absence rules for every target in targetIDs at time ts.
func (e *Engine) Tick(targetIDs []string, ts float64) []domain.Event {
	var events []domain.Event

	for _, targetID := range targetIDs {
		s := e.get(targetID)
		if s.LastSeenTS == nil {
			continue
		}

		dt := ts - *s.LastSeenTS

		if dt > float64(e.GraceSeconds) && s.Status != StatusAbsent {
			s.Status = StatusAbsent
			events = append(events, domain.NewEvent(ts, domain.EventSPGAbsent, e.OutletID, e.CameraID).
				WithTarget(targetID, "", nil).
				WithDetails(map[string]interface{}{"seconds_since_last_seen": int(math.Floor(dt))}))
		}

		if dt > float64(e.AbsentSeconds) && !s.AlertFired {
			s.AlertFired = true
			events = append(events, domain.NewEvent(ts, domain.EventAbsentAlertFired, e.OutletID, e.CameraID).
				WithTarget(targetID, "", nil).
				WithDetails(map[string]interface{}{"seconds_since_last_seen": int(math.Floor(dt))}))
		}
	}

	return events
}

func floatPtr(f float64) *float64 { return &f }
