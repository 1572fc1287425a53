package ratectl

import (
	"math"
	"time"
)

// armUpgrade starts an UPGRADE probe bounded below by (minID, minFPS): the
// known-good operating point the probe must not regress past.
func (c *Controller) armUpgrade(reason EvalReason, minID, minFPS int) {
	qe := &c.qualityEval
	qe.EncodedSizeByQuality = [NumQualityIDs]uint64{}
	qe.Type = EvalUpgrade
	qe.Reason = reason
	qe.MinQualityID = minID
	qe.MinQualityFPS = minFPS
	qe.MaxSampledFPS = 0
	qe.MaxSampledFPSQualityID = 0
	c.duringQualityEval = true
}

// armDowngrade starts a DOWNGRADE probe bounded above by (maxID, maxFPS):
// the known-good operating point being abandoned as too expensive.
func (c *Controller) armDowngrade(reason EvalReason, maxID, maxFPS int) {
	qe := &c.qualityEval
	qe.EncodedSizeByQuality = [NumQualityIDs]uint64{}
	qe.Type = EvalDowngrade
	qe.Reason = reason
	qe.MaxQualityID = maxID
	qe.MaxQualityFPS = maxFPS
	qe.MaxSampledFPS = 0
	qe.MaxSampledFPSQualityID = 0
	c.duringQualityEval = true
}

// recordSample stores the frame just encoded at the current quality id and
// runs one step of the probing round. Called from adjust_params_to_bit_rate
// whenever during_quality_eval is true.
func (c *Controller) recordSample(encSize uint64) {
	c.qualityEval.EncodedSizeByQuality[c.qualityID] = encSize
	c.evalQuality()
}

// evalQuality runs a single step of the quality-evaluation state machine
// (spec §4.2 "Per-frame step").
func (c *Controller) evalQuality() {
	qe := &c.qualityEval
	enc := qe.EncodedSizeByQuality[c.qualityID]
	if enc == 0 {
		// No sample at the current id yet; wait for another frame.
		return
	}

	fps := rateToFPS(c.byteRate, enc)
	srcFPS := float64(c.callbacks.sourceFPS())

	c.updateMaxSampledFPS(fps, srcFPS, c.qualityID)

	switch {
	case c.qualityID > MedianQualityID && fps < 10 && fps < srcFPS:
		// Above median and too slow: prefer to drop quality.
		if qe.EncodedSizeByQuality[c.qualityID-1] != 0 {
			c.completeEval(c.qualityID)
			return
		}
		c.qualityID--

	case (fps > 5 && fps >= 0.66*float64(qe.MinQualityFPS)) || fps >= srcFPS:
		// Fast enough: try to raise quality.
		if c.qualityID == MaxQualityID || c.qualityID == qe.MaxQualityID ||
			qe.EncodedSizeByQuality[c.qualityID+1] != 0 {
			c.completeEval(c.qualityID)
			return
		}
		if c.qualityID == MedianQualityID && fps < 10 && fps < srcFPS {
			c.completeEval(c.qualityID)
			return
		}
		c.qualityID++

	default:
		// Very low fps: drop quality.
		if c.qualityID == MinQualityID || c.qualityID == qe.MinQualityID ||
			qe.EncodedSizeByQuality[c.qualityID-1] != 0 {
			c.completeEval(c.qualityID)
			return
		}
		c.qualityID--
	}
}

// updateMaxSampledFPS implements the tie-break described in spec §9: a
// sample replaces the stored best if strictly faster, or if it merely
// matches-or-beats the source fps while using a strictly higher quality id
// — which can demote a previously-best faster sample. This is preserved
// exactly as specified.
func (c *Controller) updateMaxSampledFPS(fps, srcFPS float64, qualityID int) {
	qe := &c.qualityEval
	if fps > qe.MaxSampledFPS || (fps >= srcFPS && qualityID > qe.MaxSampledFPSQualityID) {
		qe.MaxSampledFPS = fps
		qe.MaxSampledFPSQualityID = qualityID
	}
}

// completeEval finishes the current probing round, landing on the best
// observed operating point.
func (c *Controller) completeEval(currentID int) {
	qe := &c.qualityEval

	finalID := currentID
	if c.anySampleRecorded() && qe.MaxSampledFPSQualityID > finalID {
		finalID = qe.MaxSampledFPSQualityID
	}

	finalEnc := qe.EncodedSizeByQuality[finalID]
	finalFPS := rateToFPS(c.byteRate, finalEnc)
	if finalID == qe.MinQualityID {
		finalFPS = math.Max(finalFPS, float64(qe.MinQualityFPS))
	}
	if finalID == qe.MaxQualityID {
		finalFPS = math.Min(finalFPS, float64(qe.MaxQualityFPS))
	}

	c.resetQuality(finalID, finalFPS, finalEnc)
}

// anySampleRecorded reports whether any quality id has been sampled in the
// current round.
func (c *Controller) anySampleRecorded() bool {
	for _, v := range c.qualityEval.EncodedSizeByQuality {
		if v != 0 {
			return true
		}
	}
	return false
}

// resetQuality installs (qid, fps, encSize) as the new operating point and
// clears probing state (spec §4.2 "reset_quality").
func (c *Controller) resetQuality(qid int, fps float64, encSize uint64) {
	reason := c.qualityEval.Reason

	c.duringQualityEval = false
	if qid != c.qualityID {
		c.lastEncSize = 0
	}
	if reason == ReasonRateChange {
		c.serverState.reset()
	}

	ratio := 1.5
	if c.adjustedFPS != 0 {
		ratio = c.adjustedFPS / float64(c.fps)
	}

	clamped := fps
	if clamped < MinFPS {
		clamped = MinFPS
	}
	if clamped > MaxFPS {
		clamped = MaxFPS
	}

	c.qualityID = qid
	c.fps = int(math.Round(clamped))
	if c.fps < MinFPS {
		c.fps = MinFPS
	}
	if c.fps > MaxFPS {
		c.fps = MaxFPS
	}
	// Ratio is preserved verbatim and can transiently push adjusted_fps
	// outside [fps, 2*fps] until the next periodic adjust_fps step — this
	// is intentional, not a bug (spec §9).
	c.adjustedFPS = float64(c.fps) * ratio

	c.adjustedFPSStart = time.Time{}
	c.adjustedFPSNumFrame = 0

	c.baseEncSize = encSize
	c.sumRecentEncSize = 0
	c.numRecentEncFrames = 0

	c.qualityEval.resetDefaults()

	if c.byteRate > 0 && encSize > 0 {
		frameTimeMS := float64(encSize) * 1000 / float64(c.byteRate)
		minDelay := 2*frameTimeMS + float64(c.callbacks.roundtripMS())
		if minDelay > maxPlaybackDelayMS {
			minDelay = maxPlaybackDelayMS
		}
		c.callbacks.updatePlaybackDelay(int64(minDelay))
	}
}

// cancelEval aborts the active probe and installs the safe operating point
// for its type (spec §4.3 "quality_eval_stop").
func (c *Controller) cancelEval() {
	qe := &c.qualityEval

	var id, fps int
	switch qe.Type {
	case EvalUpgrade:
		id, fps = qe.MinQualityID, qe.MinQualityFPS
	case EvalDowngrade:
		id, fps = qe.MaxQualityID, qe.MaxQualityFPS
	default: // EvalSet
		id, fps = MedianQualityID, MaxFPS/2
	}

	enc := qe.EncodedSizeByQuality[id]
	c.resetQuality(id, float64(fps), enc)
}

// rateToFPS converts an encoded size at the current byte rate into an
// implied fps, clamped to MaxFPS.
func rateToFPS(byteRate, enc uint64) float64 {
	if enc == 0 {
		return float64(MaxFPS)
	}
	fps := float64(byteRate) / float64(enc)
	if fps > float64(MaxFPS) {
		return float64(MaxFPS)
	}
	return fps
}
