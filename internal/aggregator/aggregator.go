// Package aggregator implements the outlet aggregator of spec.md §4.6: it
// fuses per-camera SPG_SEEN events into a global per-target presence state
// ("seen on ANY camera => present"), drives a once-per-absence-window alert
// edge, and handles startup ("never arrived") absence. Grounded on
// original_source/pipeline/outlet_aggregator.py, extended with the
// never-arrived startup branch spec.md adds.
package aggregator

import (
	"encoding/json"
	"math"
	"os"
	"sort"
	"time"

	"github.com/outletguard/orchestrator/internal/domain"
	"github.com/outletguard/orchestrator/internal/logger"
)

// targetState is the aggregator's per-target bookkeeping.
type targetState struct {
	lastSeenTS  float64
	isAbsent    bool
	alertFired  bool
	displayName string
}

// Clock returns the current wall-clock time in epoch seconds. Only the
// supervisor's real clock implementation is used in production; tests
// inject a fake.
type Clock func() float64

// Aggregator owns global per-target presence fusion for one outlet.
type Aggregator struct {
	OutletID      string
	AbsentSeconds int
	TargetIDs     []string // fixed at construction, deterministic tick order

	startTime float64
	clock     Clock
	states    map[string]*targetState
	log       *logger.Logger
}

// New constructs an Aggregator. startTime is captured once, at construction,
// per spec.md §4.6.
func New(outletID string, absentSeconds int, targetIDs []string, clock Clock, log *logger.Logger) *Aggregator {
	if clock == nil {
		clock = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }
	}
	ids := append([]string(nil), targetIDs...)
	return &Aggregator{
		OutletID:      outletID,
		AbsentSeconds: absentSeconds,
		TargetIDs:     ids,
		startTime:     clock(),
		clock:         clock,
		states:        make(map[string]*targetState),
		log:           log,
	}
}

func (a *Aggregator) get(targetID string) *targetState {
	s, ok := a.states[targetID]
	if !ok {
		s = &targetState{}
		a.states[targetID] = s
	}
	return s
}

// Ingest applies a batch of events from any camera in the outlet. Only
// SPG_SEEN events with a target id and a matching outlet id advance global
// state.
func (a *Aggregator) Ingest(events []domain.Event) {
	for _, e := range events {
		if e.OutletID != a.OutletID || e.Type != domain.EventSPGSeen || e.TargetID == "" {
			continue
		}
		s := a.get(e.TargetID)
		if e.Timestamp > s.lastSeenTS {
			s.lastSeenTS = e.Timestamp
			if s.isAbsent {
				s.isAbsent = false
				s.alertFired = false
			}
		}
		if e.DisplayName != "" {
			s.displayName = e.DisplayName
		}
	}
}

// Tick evaluates global absence rules for every configured target, in
// configured order, and returns any ABSENT_ALERT_FIRED events produced.
func (a *Aggregator) Tick() []domain.Event {
	now := a.clock()
	var events []domain.Event

	for _, targetID := range a.TargetIDs {
		s := a.get(targetID)

		if s.lastSeenTS == 0 {
			if now-a.startTime > float64(a.AbsentSeconds) {
				s.isAbsent = true
				if !s.alertFired {
					s.alertFired = true
					events = append(events, domain.NewEvent(now, domain.EventAbsentAlertFired, a.OutletID, domain.AggregatorCameraID).
						WithTarget(targetID, s.displayName, nil).
						WithDetails(map[string]interface{}{
							"reason":               "startup_absence_never_arrived",
							"seconds_since_startup": int(math.Floor(now - a.startTime)),
						}))
				}
			}
			continue
		}

		dt := now - s.lastSeenTS
		if dt > float64(a.AbsentSeconds) {
			s.isAbsent = true
			if !s.alertFired {
				s.alertFired = true
				events = append(events, domain.NewEvent(now, domain.EventAbsentAlertFired, a.OutletID, domain.AggregatorCameraID).
					WithTarget(targetID, s.displayName, nil).
					WithDetails(map[string]interface{}{
						"reason":                 "global_absence",
						"seconds_since_last_seen": int(math.Floor(dt)),
					}))
			}
		}
	}

	return events
}

// targetStatus is the state machine derived for the state snapshot file.
type targetStatus string

const (
	statusPresent      targetStatus = "PRESENT"
	statusAbsent       targetStatus = "ABSENT"
	statusNeverArrived targetStatus = "NEVER_ARRIVED"
	statusNotSeenYet   targetStatus = "NOT_SEEN_YET"
)

// snapshotTarget and snapshot mirror spec.md §3's State Snapshot JSON.
type snapshotTarget struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name,omitempty"`
	Status              targetStatus `json:"status"`
	LastSeenTS          float64      `json:"last_seen_ts"`
	SecondsSinceEvent   int          `json:"seconds_since_last_event"`
	IsAlertFired        bool         `json:"is_alert_fired"`
}

type snapshot struct {
	OutletID  string           `json:"outlet_id"`
	Timestamp float64          `json:"timestamp"`
	Targets   []snapshotTarget `json:"targets"`
}

// buildSnapshot renders the current state into the snapshot document.
func (a *Aggregator) buildSnapshot() snapshot {
	now := a.clock()
	ids := append([]string(nil), a.TargetIDs...)
	sort.Strings(ids)

	doc := snapshot{OutletID: a.OutletID, Timestamp: now}
	for _, targetID := range ids {
		s := a.get(targetID)

		var status targetStatus
		var secondsSince int
		switch {
		case s.lastSeenTS == 0 && s.isAbsent:
			status = statusNeverArrived
			secondsSince = int(math.Floor(now - a.startTime))
		case s.lastSeenTS == 0:
			status = statusNotSeenYet
			secondsSince = int(math.Floor(now - a.startTime))
		case s.isAbsent:
			status = statusAbsent
			secondsSince = int(math.Floor(now - s.lastSeenTS))
		default:
			status = statusPresent
			secondsSince = int(math.Floor(now - s.lastSeenTS))
		}

		doc.Targets = append(doc.Targets, snapshotTarget{
			ID:                targetID,
			Name:              s.displayName,
			Status:            status,
			LastSeenTS:        s.lastSeenTS,
			SecondsSinceEvent: secondsSince,
			IsAlertFired:      s.alertFired,
		})
	}
	return doc
}

// DumpState writes the state snapshot JSON to path, overwriting it in
// place. Tolerates a concurrent reader: makes up to 3 write attempts, 50ms
// apart, on any write error, then gives up with a warning (the
// dashboard gets slightly stale data, which is non-fatal per spec.md §4.6).
func (a *Aggregator) DumpState(path string) {
	doc := a.buildSnapshot()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		if a.log != nil {
			a.log.Warn("failed to marshal state snapshot", "error", err)
		}
		return
	}

	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := os.WriteFile(path, data, 0o644); err == nil {
			return
		} else if attempt == maxAttempts-1 {
			if a.log != nil {
				a.log.Warn("giving up writing state snapshot after retries", "path", path, "error", err)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
