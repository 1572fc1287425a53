package ratectl

import (
	"testing"
	"time"
)

func readyController(clk *fakeClock, byteRate uint64) *Controller {
	c := newController(clk, byteRate*8, Callbacks{})
	c.duringQualityEval = false
	c.qualityEval.resetDefaults()
	c.warmupStart = time.Time{} // past warmup for feedback-focused tests
	return c
}

// Scenario 3: client negative report after warmup.
func TestClientNegativeReportTriggersDecrease(t *testing.T) {
	clk := newFakeClock()
	c := readyController(clk, 1_000_000)
	before := c.ByteRate()

	c.bitRateInfo.NumEncFrames = 10
	c.bitRateInfo.SumEncSize = 400_000
	c.bitRateInfo.ChangeStartTime = clk.now
	clk.Advance(1 * time.Second)
	c.bitRateInfo.LastFrameTime = clk.now
	c.bitRateInfo.ChangeStartMMTime = 100

	c.ClientStreamReport(10, 0, 1000, 2000, -100, 0)

	// With these inputs, measured=SumEncSize/duration=400000 B/s and
	// decrease=SumEncSize/NumEncFrames=40000 B/s, both below the current
	// byte_rate estimate, so decrease_bit_rate lands on measured-decrease.
	const want = 360_000
	if c.ByteRate() != want {
		t.Fatalf("byte rate = %d, want %d (before=%d)", c.ByteRate(), want, before)
	}
	if !c.duringQualityEval || c.qualityEval.Type != EvalDowngrade || c.qualityEval.Reason != ReasonRateChange {
		t.Errorf("expected an armed RATE_CHANGE DOWNGRADE probe, got type=%v reason=%v during=%v",
			c.qualityEval.Type, c.qualityEval.Reason, c.duringQualityEval)
	}

	// A server drop notification arriving while this probe is in flight
	// must not cascade into another decrease.
	byteRateAfterFirst := c.ByteRate()
	c.NotifyServerFrameDrop()
	if c.ByteRate() != byteRateAfterFirst {
		t.Errorf("server drop during an active probe should not cascade a second decrease")
	}
}

// Scenario 4: server drop storm. Once enough frames have been encoded to
// clear the evaluation threshold, a single additional drop already pushes
// the ratio over 0.1 and must fire exactly one decrease; a second
// notification arriving right after must find a freshly reset window and
// do nothing.
func TestServerDropStormTriggersDecreaseOnce(t *testing.T) {
	clk := newFakeClock()
	c := readyController(clk, 1_000_000)
	c.fps = 8
	before := c.ByteRate()

	c.serverState.NumFramesEncoded = 8 // == threshold(min(fps, srcFPS))

	c.NotifyServerFrameDrop() // 1 drop / 9 total = 0.111 > 0.1 -> decrease, counters reset
	afterFirst := c.ByteRate()
	if afterFirst >= before {
		t.Fatalf("drop ratio 0.111 should have triggered a decrease, byte rate stayed at %d", before)
	}
	if c.serverState.NumFramesEncoded != 0 || c.serverState.NumFramesDropped != 0 {
		t.Fatalf("server drop counters must reset once the ratio is evaluated")
	}

	c.NotifyServerFrameDrop() // encoded=0 < threshold: no second evaluation
	if c.ByteRate() != afterFirst {
		t.Errorf("a second drop notification before enough frames re-accumulate must not cascade another decrease")
	}
}

// Scenario 5: positive report timing.
func TestPositiveReportTiming(t *testing.T) {
	clk := newFakeClock()
	c := readyController(clk, 50_000) // byte_rate = 50,000 B/s
	c.fps = 8
	c.qualityID = 2
	c.bitRateInfo.ChangeStartMMTime = 1000
	c.bitRateInfo.NumEncFrames = 20
	c.bitRateInfo.SumEncSize = 80_000
	c.bitRateInfo.ChangeStartTime = clk.now
	clk.Advance(1 * time.Second)
	c.bitRateInfo.LastFrameTime = clk.now

	before := c.ByteRate()
	c.handlePositiveReport(2500) // 2500-1000=1500 < 2000ms timeout: ignored
	if c.ByteRate() != before {
		t.Fatalf("positive report before timeout must be a no-op")
	}

	// measured=80000/1s=80000 B/s, increase=80000/20=4000; measured+increase
	// exceeds the current byte_rate estimate (50000), so increase_bit_rate
	// moves byte_rate to min(byte_rate, measured)+increase = 54000.
	c.handlePositiveReport(3500) // 3500-1000=2500 >= 2000ms timeout: fires
	const want = 54_000
	if c.ByteRate() != want {
		t.Fatalf("byte rate = %d, want %d after increase_bit_rate (before=%d)", c.ByteRate(), want, before)
	}
	if !c.duringQualityEval || c.qualityEval.Type != EvalUpgrade || c.qualityEval.Reason != ReasonRateChange {
		t.Errorf("expected an armed RATE_CHANGE UPGRADE probe")
	}
}

func TestPositiveReportIdempotentBeforeTimeout(t *testing.T) {
	clk := newFakeClock()
	c := readyController(clk, 1_000_000)
	c.bitRateInfo.ChangeStartMMTime = 1000
	c.bitRateInfo.NumEncFrames = 20
	c.bitRateInfo.SumEncSize = 800_000
	c.bitRateInfo.ChangeStartTime = clk.now
	clk.Advance(1 * time.Second)
	c.bitRateInfo.LastFrameTime = clk.now

	before := c.ByteRate()
	for _, mm := range []MMTime{1200, 1500, 1999} {
		c.handlePositiveReport(mm)
		if c.ByteRate() != before {
			t.Fatalf("positive report at mm=%d before timeout must be a no-op", mm)
		}
	}
}

func TestHandlePositiveReportIgnoredDuringRateChangeProbe(t *testing.T) {
	clk := newFakeClock()
	c := readyController(clk, 1_000_000)
	c.armUpgrade(ReasonRateChange, 0, 1)
	c.bitRateInfo.ChangeStartMMTime = 1000
	c.bitRateInfo.NumEncFrames = 20
	c.bitRateInfo.SumEncSize = 800_000

	before := c.ByteRate()
	c.handlePositiveReport(10_000)
	if c.ByteRate() != before {
		t.Errorf("positive report must be ignored while a RATE_CHANGE probe is in flight")
	}
}

func TestHandleNegativeReportIgnoresStaleWindow(t *testing.T) {
	clk := newFakeClock()
	c := readyController(clk, 1_000_000)
	c.bitRateInfo.ChangeStartMMTime = 5000 // a later change already happened
	before := c.ByteRate()

	c.handleNegativeReport(1000) // end_mm < change_start_mm_time
	if c.ByteRate() != before {
		t.Errorf("a negative report about a superseded window must be ignored")
	}
}

func TestHandleNegativeReportHonorsInterveningUpgrade(t *testing.T) {
	clk := newFakeClock()
	c := readyController(clk, 1_000_000)
	c.bitRateInfo.ChangeStartMMTime = 5000
	c.bitRateInfo.WasUpgraded = true
	c.bitRateInfo.NumEncFrames = 10
	c.bitRateInfo.SumEncSize = 400_000
	c.bitRateInfo.ChangeStartTime = clk.now
	clk.Advance(1 * time.Second)
	c.bitRateInfo.LastFrameTime = clk.now

	before := c.ByteRate()
	c.handleNegativeReport(1000)
	if c.ByteRate() >= before {
		t.Errorf("an intervening upgrade must not suppress the decrease")
	}
}

func TestServerFrameDropBelowThresholdDoesNothing(t *testing.T) {
	clk := newFakeClock()
	c := readyController(clk, 1_000_000)
	c.fps = 25
	before := c.ByteRate()

	c.serverState.NumFramesEncoded = 5 // below min(fps=25, srcFPS=25)=25
	c.NotifyServerFrameDrop()

	if c.ByteRate() != before {
		t.Errorf("drop evaluation must wait until enough frames are encoded")
	}
}
