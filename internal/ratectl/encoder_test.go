package ratectl

import (
	"testing"
	"time"
)

// driveSET completes the initial SET probe by feeding a constant frame size
// at the given quality id, returning the number of frames consumed (at most
// NumQualityIDs+1: one frame to record the first size sample, then at most
// 7 probe steps, per the probe-convergence law).
func driveSET(t *testing.T, c *Controller, clk *fakeClock, frameSize uint64) int {
	t.Helper()
	for i := 0; i < NumQualityIDs+1; i++ {
		clk.Advance(40 * time.Millisecond)
		dec := c.BeginFrame(MMTime(i * 40))
		if dec.Status == Drop {
			continue
		}
		c.FrameEncoded(frameSize)
		if !c.duringQualityEval {
			return i + 1
		}
	}
	t.Fatalf("SET probe did not converge within %d frames", NumQualityIDs+1)
	return -1
}

func TestNewInstallsMedianAndArmsSET(t *testing.T) {
	clk := newFakeClock()
	c := newController(clk, 8_000_000, Callbacks{})

	if c.QualityID() != MedianQualityID {
		t.Errorf("quality id = %d, want %d", c.QualityID(), MedianQualityID)
	}
	if c.FPS() != 5 {
		t.Errorf("fps = %d, want 5", c.FPS())
	}
	if got, want := c.AdjustedFPS(), 7.5; got != want {
		t.Errorf("adjusted fps = %v, want %v", got, want)
	}
	if !c.duringQualityEval || c.qualityEval.Type != EvalSet {
		t.Errorf("expected an armed SET probe at construction")
	}
	if c.ByteRate() == 0 {
		t.Errorf("byte rate must be > 0 once initialized")
	}
}

// Scenario 1: cold start, stable channel.
func TestColdStartStableChannel(t *testing.T) {
	clk := newFakeClock()
	c := newController(clk, 8_000_000, Callbacks{}) // 1MB/s

	driveSET(t, c, clk, 40_000)

	if c.duringQualityEval {
		t.Fatalf("SET probe should have completed")
	}
	if qv := qualityValue(c.QualityID()); uint64(40_000)*uint64(c.FPS()) > c.ByteRate() {
		t.Errorf("chosen fps %d at quality %d exceeds byte rate budget", c.FPS(), qv)
	}
	if c.FPS() > MaxFPS {
		t.Errorf("fps %d exceeds MaxFPS", c.FPS())
	}

	byteRateBefore := c.ByteRate()
	for i := 0; i < 10; i++ {
		clk.Advance(40 * time.Millisecond)
		dec := c.BeginFrame(MMTime(1000 + i*40))
		if dec.Status == Admit {
			c.FrameEncoded(40_000)
		}
	}
	if c.ByteRate() != byteRateBefore {
		t.Errorf("byte rate changed on a stable channel: %d -> %d", byteRateBefore, c.ByteRate())
	}
}

// Scenario 2: admission drop.
func TestAdmissionDrop(t *testing.T) {
	clk := newFakeClock()
	c := newController(clk, 8_000_000, Callbacks{})
	c.duringQualityEval = false
	c.qualityEval.resetDefaults()
	c.fps = 5
	c.adjustedFPS = 7.5
	c.bitRateInfo.LastFrameTime = clk.Now()

	clk.Advance(100 * time.Millisecond)
	dec := c.BeginFrame(100)
	if dec.Status != Drop {
		t.Fatalf("expected Drop at 100ms spacing with adjusted_fps=7.5 (threshold ~133ms), got %v", dec.Status)
	}
}

func TestAdmissionMonotonicity(t *testing.T) {
	clk := newFakeClock()
	c := newController(clk, 8_000_000, Callbacks{})
	c.duringQualityEval = false
	c.qualityEval.resetDefaults()
	c.fps = 5
	c.adjustedFPS = 10
	c.bitRateInfo.LastFrameTime = clk.Now()

	clk.Advance(50 * time.Millisecond) // threshold is 100ms; 50ms must drop
	if dec := c.BeginFrame(0); dec.Status != Drop {
		t.Fatalf("expected Drop on first short interval")
	}
	// No intervening accept: an even earlier-relative check must also drop.
	if dec := c.BeginFrame(0); dec.Status != Drop {
		t.Fatalf("expected Drop to persist with no intervening accept")
	}
}

func TestWarmupShieldsDecreaseBitRate(t *testing.T) {
	clk := newFakeClock()
	c := newController(clk, 8_000_000, Callbacks{})
	before := c.ByteRate()

	clk.Advance(1 * time.Second)
	c.decreaseBitRate()

	if c.ByteRate() != before {
		t.Errorf("decrease_bit_rate must be a no-op during warmup, got byte rate %d, want %d", c.ByteRate(), before)
	}
}

func TestInvariantsAfterConstruction(t *testing.T) {
	clk := newFakeClock()
	c := newController(clk, 500_000, Callbacks{})

	if c.FPS() < MinFPS || c.FPS() > MaxFPS {
		t.Errorf("fps %d out of bounds", c.FPS())
	}
	if c.QualityID() < MinQualityID || c.QualityID() > MaxQualityID {
		t.Errorf("quality id %d out of bounds", c.QualityID())
	}
	if c.ByteRate() == 0 {
		t.Errorf("byte rate must be positive")
	}
}
