package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestDebounceDeadlineIsQuietWindowWithinBurst checks that within a
// burst that never exceeds max_batch, the fire deadline tracks
// last_event + debounce, not first_event.
func TestDebounceDeadlineIsQuietWindowWithinBurst(t *testing.T) {
	t.Parallel()

	d := NewDebounceState()
	base := time.Now()

	d.RecordEvent("a.go", base)
	d.RecordEvent("b.go", base.Add(100*time.Millisecond))

	got := d.Deadline(base.Add(100 * time.Millisecond))
	want := base.Add(100 * time.Millisecond).Add(d.Debounce)
	assert.True(t, got.Equal(want), "deadline must equal last_event + debounce while under max_batch")
}

// TestDebounceDeadlineCapsAtMaxBatchDuringSustainedBurst checks that
// a burst sustained long enough that
// first_event + max_batch arrives before last_event + debounce fires at
// the batch cap instead.
func TestDebounceDeadlineCapsAtMaxBatchDuringSustainedBurst(t *testing.T) {
	t.Parallel()

	d := NewDebounceState()
	base := time.Now()
	d.RecordEvent("a.go", base)

	// Keep nudging last_event forward, inside the quiet window each time,
	// well past first_event+MaxBatch.
	last := base
	for last.Sub(base) < d.MaxBatch+time.Second {
		last = last.Add(d.Debounce / 2)
		d.RecordEvent("a.go", last)
	}

	got := d.Deadline(last)
	want := base.Add(d.MaxBatch)
	assert.True(t, got.Equal(want), "deadline must cap at first_event + max_batch during a sustained burst")
}

// TestDebounceDrainPathsReturnsNilOnForceFullScan checks that a burst
// exceeding forceFullScanThreshold distinct paths collapses to a full
// scan (nil paths hint) rather than an ever-growing paths list.
func TestDebounceDrainPathsReturnsNilOnForceFullScan(t *testing.T) {
	t.Parallel()

	d := NewDebounceState()
	base := time.Now()
	for i := 0; i <= forceFullScanThreshold+1; i++ {
		d.RecordEvent(pathFor(i), base.Add(time.Duration(i)*recentDedupeWindow))
	}

	assert.True(t, d.ForceFullScan)
	assert.Nil(t, d.DrainPaths())
}

func pathFor(i int) string {
	return string(rune('a'+i%26)) + "/" + string(rune('a'+(i/26)%26)) + ".go"
}

// TestDebounceWithinWindowDedupeDoesNotDoubleCountPaths checks that
// recording the same path twice within the dedupe window increments
// PendingCount but not the distinct pending-paths set.
func TestDebounceWithinWindowDedupeDoesNotDoubleCountPaths(t *testing.T) {
	t.Parallel()

	d := NewDebounceState()
	base := time.Now()
	d.RecordEvent("a.go", base)
	d.RecordEvent("a.go", base.Add(10*time.Millisecond))

	assert.Equal(t, 2, d.PendingCount)
	assert.Len(t, d.PendingPaths, 1)
}

// TestTunerUpshiftIsImmediate checks that an increase in observed load
// snaps the debounce/max_batch rungs upward on the very next Adapt
// call, with no quiet-streak gate.
func TestTunerUpshiftIsImmediate(t *testing.T) {
	t.Parallel()

	tuner := NewTuner()
	newDebounce, _ := tuner.Adapt(5000, 0, false, 500*time.Millisecond, 3000*time.Millisecond)
	assert.Equal(t, 4000*time.Millisecond, newDebounce, "a load spike must upshift on the first Adapt call")
}

// TestTunerDownshiftRequiresThreeConsecutiveQuietCycles checks that a
// downshift only takes effect once the
// quiet-cycle streak reaches quietCyclesForDownshift, and moves exactly
// one rung at a time even then.
func TestTunerDownshiftRequiresThreeConsecutiveQuietCycles(t *testing.T) {
	t.Parallel()

	tuner := NewTuner()
	cur := 2000 * time.Millisecond // a debounceLadder rung

	d1, _ := tuner.Adapt(100, 0, false, cur, 10000*time.Millisecond)
	assert.Equal(t, cur, d1, "cycle 1 of 3 quiet cycles must not downshift yet")

	d2, _ := tuner.Adapt(100, 0, false, d1, 10000*time.Millisecond)
	assert.Equal(t, cur, d2, "cycle 2 of 3 quiet cycles must not downshift yet")

	d3, _ := tuner.Adapt(100, 0, false, d2, 10000*time.Millisecond)
	assert.Equal(t, 1000*time.Millisecond, d3, "the 3rd consecutive quiet cycle downshifts exactly one rung")
}

// TestTunerQuietStreakResetsOnPressure checks that a pending-count spike
// between quiet cycles resets the streak, delaying any downshift.
func TestTunerQuietStreakResetsOnPressure(t *testing.T) {
	t.Parallel()

	tuner := NewTuner()
	cur := 2000 * time.Millisecond

	d1, _ := tuner.Adapt(100, 0, false, cur, 10000*time.Millisecond)
	assert.Equal(t, cur, d1)
	d2, _ := tuner.Adapt(100, 0, false, d1, 10000*time.Millisecond)
	assert.Equal(t, cur, d2)

	// A busy cycle resets the streak; 900 pending adds 2000 ms of
	// pressure (500 + 2000 snaps up to 3000), an immediate upshift.
	d3, _ := tuner.Adapt(100, 900, false, d2, 10000*time.Millisecond)
	assert.Equal(t, 3000*time.Millisecond, d3)

	d4, _ := tuner.Adapt(100, 0, false, d3, 10000*time.Millisecond)
	assert.Equal(t, 3000*time.Millisecond, d4, "streak restarted, still short of 3")
}
