package aggregator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/outletguard/orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClock(t *float64) Clock {
	return func() float64 { return *t }
}

func seenEvent(outlet, cam, targetID string, ts float64) domain.Event {
	return domain.NewEvent(ts, domain.EventSPGSeen, outlet, cam).WithTarget(targetID, "", nil)
}

func countAlerts(events []domain.Event) int {
	n := 0
	for _, e := range events {
		if e.Type == domain.EventAbsentAlertFired {
			n++
		}
	}
	return n
}

// Scenario 3 from spec.md §8: cross-camera fusion.
func TestCrossCameraFusionScenario(t *testing.T) {
	now := 100.0
	agg := New("o1", 30, []string{"t1"}, fakeClock(&now), nil)
	agg.Ingest([]domain.Event{seenEvent("o1", "camA", "t1", 100.0)})

	now = 125
	assert.Empty(t, agg.Tick())

	now = 135
	alerts := agg.Tick()
	require.Len(t, alerts, 1)
	assert.Equal(t, "global_absence", alerts[0].Details["reason"])
	assert.Equal(t, 35, alerts[0].Details["seconds_since_last_seen"])

	agg.Ingest([]domain.Event{seenEvent("o1", "camB", "t1", 136.0)})
	assert.False(t, agg.get("t1").isAbsent)
	assert.False(t, agg.get("t1").alertFired)

	now = 170
	alerts = agg.Tick()
	require.Len(t, alerts, 1)
}

// Scenario 4 from spec.md §8: never-arrived startup alert.
func TestNeverArrivedStartupAlertScenario(t *testing.T) {
	now := 0.0
	agg := New("o1", 60, []string{"t1"}, fakeClock(&now), nil)

	now = 59
	assert.Empty(t, agg.Tick())

	now = 61
	alerts := agg.Tick()
	require.Len(t, alerts, 1)
	assert.Equal(t, "startup_absence_never_arrived", alerts[0].Details["reason"])
	assert.Equal(t, 61, alerts[0].Details["seconds_since_startup"])

	now = 200
	assert.Empty(t, agg.Tick())
}

func TestSeeingOnAnyCameraClearsGlobalAbsence(t *testing.T) {
	now := 0.0
	agg := New("o1", 10, []string{"t1"}, fakeClock(&now), nil)
	agg.Ingest([]domain.Event{seenEvent("o1", "camA", "t1", 1.0)})

	now = 20
	agg.Tick()
	assert.True(t, agg.get("t1").isAbsent)
	assert.True(t, agg.get("t1").alertFired)

	agg.Ingest([]domain.Event{seenEvent("o1", "camB", "t1", 21.0)})
	assert.False(t, agg.get("t1").isAbsent)
	assert.False(t, agg.get("t1").alertFired)
}

func TestAlertUniquenessAcrossInterleavedIngestAndTick(t *testing.T) {
	now := 0.0
	agg := New("o1", 5, []string{"t1"}, fakeClock(&now), nil)
	agg.Ingest([]domain.Event{seenEvent("o1", "camA", "t1", 1.0)})

	total := 0
	for now = 1; now <= 40; now++ {
		total += countAlerts(agg.Tick())
		if now == 10 || now == 25 {
			agg.Ingest([]domain.Event{seenEvent("o1", "camA", "t1", now)})
		}
	}
	// Absence episodes: (1,6]->alert once around t=7..10 (cleared at 10),
	// then (10,15]->alert once around t=16..25 (cleared at 25),
	// then (25,30]->alert once through t=40. Exactly 3 episodes.
	assert.Equal(t, 3, total)
}

func TestIngestIgnoresOtherOutletsAndNonSeenEvents(t *testing.T) {
	now := 0.0
	agg := New("o1", 5, []string{"t1"}, fakeClock(&now), nil)
	agg.Ingest([]domain.Event{
		seenEvent("o2", "camA", "t1", 0.0),
		domain.NewEvent(0, domain.EventSPGPresent, "o1", "camA").WithTarget("t1", "", nil),
	})
	assert.Equal(t, 0.0, agg.get("t1").lastSeenTS)
}

func TestDumpStateWritesSnapshotJSON(t *testing.T) {
	now := 42.0
	agg := New("o1", 5, []string{"t1", "t2"}, fakeClock(&now), nil)
	agg.Ingest([]domain.Event{seenEvent("o1", "camA", "t1", 40.0)})

	path := filepath.Join(t.TempDir(), "outlet_state.json")
	agg.DumpState(path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc snapshot
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "o1", doc.OutletID)
	require.Len(t, doc.Targets, 2)
	assert.Equal(t, "t1", doc.Targets[0].ID)
	assert.Equal(t, statusPresent, doc.Targets[0].Status)
	assert.Equal(t, "t2", doc.Targets[1].ID)
	assert.Equal(t, statusNotSeenYet, doc.Targets[1].Status)
}
