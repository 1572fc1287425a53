package ratectl

import "testing"

// Scenario 6: quality monotonicity breach. The codec returns a smaller size
// at a higher quality id than at a lower one; completion must still pick
// the id with the best observed fps rather than the current walk position.
func TestQualityMonotonicityBreach(t *testing.T) {
	clk := newFakeClock()
	c := newController(clk, 8_000_000, Callbacks{}) // byte_rate = 1,000,000 B/s
	c.armUpgrade(ReasonSizeChange, 0, 5)

	// The codec returned a SMALLER size at the higher quality id (30000 at
	// id1, 20000 at id2) which should not happen under the monotonic-size
	// assumption. Walk to id1 first, then id2, recording each sample via
	// the real per-frame step so max_sampled_fps_quality_id is tracked the
	// way production code would track it.
	c.qualityID = 1
	c.recordSample(30_000) // fps = 1,000,000/30,000 = 33.3 -> clamped to 25
	if !c.duringQualityEval {
		t.Fatalf("eval should not complete after the first sample")
	}
	if c.qualityID != 2 {
		t.Fatalf("expected the walk to step up to id 2, got id %d", c.qualityID)
	}
	c.recordSample(20_000) // fps = 1,000,000/20,000 = 50 -> clamped to 25, ties id1's fps

	// Both samples clamp to fps=25, a tie. Id2 must still be the recorded
	// best, because the tie-break favors the strictly higher quality id at
	// an equal-or-better-than-source fps (spec §9).
	if c.qualityEval.MaxSampledFPSQualityID != 2 {
		t.Fatalf("max_sampled_fps_quality_id = %d, want 2 (tie-break favors higher id)", c.qualityEval.MaxSampledFPSQualityID)
	}
}

func TestCompleteEvalPicksMaxSampledFPSQualityID(t *testing.T) {
	clk := newFakeClock()
	c := newController(clk, 8_000_000, Callbacks{})
	c.armDowngrade(ReasonSizeChange, MaxQualityID, MaxFPS)
	c.qualityID = 2

	// Manually populate samples as if a walk had visited id 1 and id 2,
	// with id 2's fps tying-or-beating source fps at a strictly higher id.
	c.qualityEval.EncodedSizeByQuality[1] = 40_000
	c.qualityEval.EncodedSizeByQuality[2] = 40_000
	c.updateMaxSampledFPS(25, 25, 1)
	c.updateMaxSampledFPS(25, 25, 2) // equals src fps and higher id -> replaces

	c.completeEval(2)

	if c.duringQualityEval {
		t.Fatalf("expected eval to complete")
	}
	if c.QualityID() != 2 {
		t.Errorf("final quality id = %d, want 2 (max(current=2, best=2))", c.QualityID())
	}
}

// Probe convergence: any probe started with min<=quality_id<=max must finish
// within 7 encoded frames.
func TestProbeConvergesWithinSevenFrames(t *testing.T) {
	clk := newFakeClock()
	c := newController(clk, 4_000_000, Callbacks{}) // byte_rate = 500,000 B/s
	// Drain the initial SET probe first.
	for i := 0; i < NumQualityIDs+1 && c.duringQualityEval; i++ {
		c.qualityID = clampQID(c.qualityID)
		c.qualityEval.EncodedSizeByQuality[c.qualityID] = 20_000
		c.evalQuality()
	}

	c.armUpgrade(ReasonSizeChange, 0, 1)
	frames := 0
	for c.duringQualityEval && frames < NumQualityIDs {
		c.qualityEval.EncodedSizeByQuality[c.qualityID] = uint64(10_000 * (c.qualityID + 1))
		c.evalQuality()
		frames++
	}
	if c.duringQualityEval {
		t.Fatalf("probe did not converge within %d frames", NumQualityIDs)
	}
}

func clampQID(id int) int {
	if id < MinQualityID {
		return MinQualityID
	}
	if id > MaxQualityID {
		return MaxQualityID
	}
	return id
}

func TestResetQualityInvariants(t *testing.T) {
	clk := newFakeClock()
	c := newController(clk, 8_000_000, Callbacks{})
	c.armUpgrade(ReasonRateChange, 2, 8)

	c.resetQuality(5, 20, 50_000)

	if c.duringQualityEval {
		t.Errorf("reset_quality must clear during_quality_eval")
	}
	if c.baseEncSize != 50_000 {
		t.Errorf("base_enc_size = %d, want 50000", c.baseEncSize)
	}
	if c.qualityEval.MaxQualityID != MaxQualityID || c.qualityEval.MaxQualityFPS != MaxFPS {
		t.Errorf("quality_eval boundary values not restored to defaults after reset")
	}
	// Reason was RATE_CHANGE: server_state must be cleared.
	if c.serverState.NumFramesEncoded != 0 || c.serverState.NumFramesDropped != 0 {
		t.Errorf("server_state must be cleared after a RATE_CHANGE round completes")
	}
}

func TestArmUpgradeEncodedSizeZeroForUnsampledIDs(t *testing.T) {
	clk := newFakeClock()
	c := newController(clk, 8_000_000, Callbacks{})
	c.armUpgrade(ReasonSizeChange, 0, 5)
	c.qualityEval.EncodedSizeByQuality[3] = 40_000

	for id, v := range c.qualityEval.EncodedSizeByQuality {
		if id != 3 && v != 0 {
			t.Errorf("encoded_size_by_quality[%d] = %d, want 0 for unsampled id", id, v)
		}
	}
}
