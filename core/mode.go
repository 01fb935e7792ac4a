package core

// mode.go – C5 Mode Router: a pure function from signals to mode. Never
// touches the store; closure.go and daemon.go are the only callers that
// turn its output into a delta.

// Mode is one of the seven operating modes that gate admission.
type Mode string

const (
	ModeRecover     Mode = "RECOVER"
	ModeCloseLoops  Mode = "CLOSE_LOOPS"
	ModeBuild       Mode = "BUILD"
	ModeCompound    Mode = "COMPOUND"
	ModeScale       Mode = "SCALE"
	ModeMaintenance Mode = "MAINTENANCE"
	ModeClosure     Mode = "CLOSURE"
)

// buildAllowingModes is the set the global overrides treat as eligible for
// the CLOSE_LOOPS override.
var buildAllowingModes = map[Mode]bool{ModeBuild: true, ModeCompound: true, ModeScale: true}

// Signals is computeMode's sole input: the five state projections the
// router reads, never a whole system_state entity.
type Signals struct {
	SleepHours      float64
	OpenLoops       int
	LeverageBalance float64
	StreakDays      int
	ClosureRatio    float64
}

// ModeResult is computeMode's output: the new mode plus whether building
// work is currently allowed under it.
type ModeResult struct {
	Mode         Mode
	BuildAllowed bool
}

// computeMode is a pure function over signals and the previously active
// mode. Three rule families compose, highest priority first; ties resolve
// by the earlier rule.
//
// RECOVER and CLOSE_LOOPS (Phase 5A) are entered and exited by sleep/loop
// signals alone. BUILD/COMPOUND/SCALE/MAINTENANCE/CLOSURE (Phase 5B) are
// baselined by the closure-ratio LUT; the leverage/streak rungs of the
// progression ladder then escalate BUILD→COMPOUND→SCALE on top of that
// baseline. This reading is the Open Question decision recorded in
// DESIGN.md: the ladder's early rungs (RECOVER→CLOSE_LOOPS,
// CLOSE_LOOPS→BUILD) gate entry into the ratio-governed phase; its later
// rungs refine the ratio's verdict rather than compete with it.
func computeMode(signals Signals, currentMode Mode) ModeResult {
	// 1. Global overrides.
	if signals.SleepHours < 5 {
		return ModeResult{Mode: ModeRecover, BuildAllowed: false}
	}
	if signals.SleepHours < 7 && buildAllowingModes[currentMode] {
		return ModeResult{Mode: ModeCloseLoops, BuildAllowed: false}
	}
	if signals.OpenLoops > 7 && buildAllowingModes[currentMode] {
		return ModeResult{Mode: ModeCloseLoops, BuildAllowed: false}
	}

	// 3a. Progression ladder, early rungs: Phase 5A is governed by sleep
	// and open-loop count only, never by closure ratio.
	if currentMode == ModeRecover {
		if signals.SleepHours >= 7 {
			return ModeResult{Mode: ModeCloseLoops, BuildAllowed: false}
		}
		return ModeResult{Mode: ModeRecover, BuildAllowed: false}
	}
	if currentMode == ModeCloseLoops {
		if signals.OpenLoops <= 3 {
			return ClosureRatioForMode(signals.ClosureRatio)
		}
		return ModeResult{Mode: ModeCloseLoops, BuildAllowed: false}
	}

	// 2. Closure ratio LUT baselines the Phase-5B mode.
	result := ClosureRatioForMode(signals.ClosureRatio)

	// 3b. Progression ladder, late rungs: escalate on top of the ratio
	// baseline using leverage/streak, which the LUT alone does not see.
	if result.Mode == ModeBuild && signals.LeverageBalance >= 5 {
		result = ModeResult{Mode: ModeCompound, BuildAllowed: true}
	}
	if result.Mode == ModeCompound && signals.LeverageBalance >= 10 && signals.StreakDays >= 3 {
		result = ModeResult{Mode: ModeScale, BuildAllowed: true}
	}
	return result
}

// ClosureRatioForMode reports the mode/build_allowed pair the LUT alone
// assigns for ratio, ignoring overrides and the progression ladder — used
// by the closure engine, which always recomputes mode fresh from a new
// ratio rather than advancing a prior mode.
func ClosureRatioForMode(ratio float64) ModeResult {
	switch {
	case ratio >= 0.80:
		return ModeResult{Mode: ModeScale, BuildAllowed: true}
	case ratio >= 0.60:
		return ModeResult{Mode: ModeBuild, BuildAllowed: true}
	case ratio >= 0.40:
		return ModeResult{Mode: ModeMaintenance, BuildAllowed: false}
	default:
		return ModeResult{Mode: ModeClosure, BuildAllowed: false}
	}
}

// ComputeMode is the exported entry point the daemon's mode_recalc job and
// the public API use.
func ComputeMode(signals Signals, currentMode Mode) ModeResult {
	return computeMode(signals, currentMode)
}
