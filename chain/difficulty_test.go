package chain

import "testing"

func TestDifficultyGovernorBootstrapThreshold(t *testing.T) {
	d := NewDifficultyGovernor(45000, 10)
	if d.Threshold() != maxVRFThreshold {
		t.Fatalf("Threshold() before any samples = %d, want max", d.Threshold())
	}
}

func TestDifficultyGovernorHoldsUntilWindowFull(t *testing.T) {
	d := NewDifficultyGovernor(45000, 5)
	for i := 0; i < 4; i++ {
		d.Observe(45000)
	}
	if d.Threshold() != maxVRFThreshold {
		t.Fatalf("Threshold() before window filled = %d, want unchanged max", d.Threshold())
	}
}

func TestDifficultyGovernorAdjustsAfterWindow(t *testing.T) {
	d := NewDifficultyGovernor(45000, 3)
	for i := 0; i < 3; i++ {
		d.Observe(45000)
	}
	if d.Threshold() == 0 {
		t.Fatalf("expected a non-zero threshold once the window is full")
	}
}

func TestDifficultyGovernorFastBlocksShrinkThreshold(t *testing.T) {
	d := NewDifficultyGovernor(45000, 3)
	for i := 0; i < 3; i++ {
		d.Observe(45000)
	}
	before := d.Threshold()
	for i := 0; i < 3; i++ {
		d.Observe(1000) // blocks coming far faster than target
	}
	after := d.Threshold()
	if after >= before {
		t.Fatalf("expected threshold to shrink when blocks come faster than target: before=%d after=%d", before, after)
	}
}

func TestScaleThresholdNeverOverflowsPastMax(t *testing.T) {
	got := scaleThreshold(maxVRFThreshold, 1, 1)
	if got > maxVRFThreshold {
		t.Fatalf("scaleThreshold() = %d, exceeds maxVRFThreshold", got)
	}
}

func TestScaleThresholdNeverZero(t *testing.T) {
	if got := scaleThreshold(1, 1, 1000000); got == 0 {
		t.Fatalf("expected scaleThreshold to floor at 1, got 0")
	}
}
