package watcher

import "time"

// debounceLadder and batchLadder are the fixed rungs adaptive tuning
// snaps to. Values are in milliseconds for arithmetic
// convenience; callers convert to time.Duration at the edges.
var debounceLadder = []int64{500, 750, 1000, 2000, 3000, 4000, 5000}
var batchLadder = []int64{3000, 5000, 10000, 20000, 30000}

// quietCyclesForDownshift is how many consecutive low-pending cycles are
// required before a downshift is allowed to take effect.
const quietCyclesForDownshift = 3

// quietPendingThreshold is the pending count at or below which a cycle
// counts as "quiet" for downshift purposes.
const quietPendingThreshold = 8

// Tuner tracks the duration history ring and consecutive-quiet-cycle
// counter that drive adaptive debounce/max-batch tuning.
type Tuner struct {
	history     []int64 // bounded ring of cycle durations, ms
	quietStreak int
}

// NewTuner returns a Tuner with an empty history ring.
func NewTuner() *Tuner {
	return &Tuner{}
}

const historyCap = 20

// RecordCycle appends one completed cycle's duration to the bounded
// history ring; P95 computes the percentile from it on demand.
func (t *Tuner) RecordCycle(duration time.Duration) {
	t.history = append(t.history, duration.Milliseconds())
	if len(t.history) > historyCap {
		t.history = t.history[len(t.history)-historyCap:]
	}
}

// P95 returns the 95th percentile of the duration history, or 0 if empty.
func (t *Tuner) P95() int64 {
	if len(t.history) == 0 {
		return 0
	}
	sorted := append([]int64(nil), t.history...)
	// insertion sort: history is capped at 20 entries, a full sort
	// library import buys nothing here.
	for i := 1; i < len(sorted); i++ {
		v := sorted[i]
		j := i - 1
		for j >= 0 && sorted[j] > v {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = v
	}
	idx := (len(sorted)*95+99)/100 - 1
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Adapt produces the next (debounce, maxBatch)
// pair given the just-observed cycle's load and pending-event pressure,
// and the current rungs.
func (t *Tuner) Adapt(loadMs int64, pending int, failed bool, curDebounce, curMaxBatch time.Duration) (time.Duration, time.Duration) {
	targetDebounceMs := targetDebounce(loadMs)
	targetDebounceMs += pendingPressureDebounce(pending)

	targetBatchMs := clampI64(loadMs*4, 3000, 30000)
	targetBatchMs += pendingPressureBatch(pending)

	if failed {
		targetDebounceMs = maxI64(targetDebounceMs, 2000)
		targetBatchMs = maxI64(targetBatchMs, 10000)
	}
	targetBatchMs = maxI64(targetBatchMs, curDebounce.Milliseconds()*5)

	targetDebounceMs = snapUp(debounceLadder, targetDebounceMs)
	targetBatchMs = snapUp(batchLadder, targetBatchMs)

	curDebounceMs := curDebounce.Milliseconds()
	curBatchMs := curMaxBatch.Milliseconds()

	streak := t.quietStreakFor(pending)
	newDebounceMs := applyRung(debounceLadder, curDebounceMs, targetDebounceMs, streak)
	newBatchMs := applyRung(batchLadder, curBatchMs, targetBatchMs, streak)

	return time.Duration(newDebounceMs) * time.Millisecond, time.Duration(newBatchMs) * time.Millisecond
}

// quietStreakFor updates and returns the consecutive-quiet-cycle streak;
// downshifts only apply once the streak reaches quietCyclesForDownshift.
func (t *Tuner) quietStreakFor(pending int) int {
	if pending <= quietPendingThreshold {
		t.quietStreak++
	} else {
		t.quietStreak = 0
	}
	return t.quietStreak
}

func targetDebounce(loadMs int64) int64 {
	switch {
	case loadMs <= 250:
		return 500
	case loadMs <= 500:
		return 750
	case loadMs <= 1000:
		return 1000
	case loadMs <= 2000:
		return 2000
	case loadMs <= 4000:
		return 3000
	default:
		return 4000
	}
}

func pendingPressureDebounce(pending int) int64 {
	switch {
	case pending >= 512:
		return 2000
	case pending >= 256:
		return 1000
	case pending >= 128:
		return 500
	case pending >= 64:
		return 250
	default:
		return 0
	}
}

func pendingPressureBatch(pending int) int64 {
	switch {
	case pending >= 512:
		return 4000
	case pending >= 256:
		return 2000
	case pending >= 128:
		return 1000
	case pending >= 64:
		return 500
	default:
		return 0
	}
}

// snapUp rounds ms up to the nearest rung in ladder, clamping at the top.
func snapUp(ladder []int64, ms int64) int64 {
	for _, rung := range ladder {
		if ms <= rung {
			return rung
		}
	}
	return ladder[len(ladder)-1]
}

// applyRung applies upshifts immediately; downshifts only after
// quietStreak reaches the threshold, and then only one rung at a time.
func applyRung(ladder []int64, cur, target int64, quietStreak int) int64 {
	if target >= cur {
		return target
	}
	if quietStreak < quietCyclesForDownshift {
		return cur
	}
	curIdx := rungIndex(ladder, cur)
	if curIdx <= 0 {
		return ladder[0]
	}
	return ladder[curIdx-1]
}

func rungIndex(ladder []int64, ms int64) int {
	for i, rung := range ladder {
		if rung == ms {
			return i
		}
	}
	// Not exactly on a rung (e.g. a fresh DebounceState's starting
	// value): find the nearest rung at or above.
	for i, rung := range ladder {
		if ms <= rung {
			return i
		}
	}
	return len(ladder) - 1
}

func clampI64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
