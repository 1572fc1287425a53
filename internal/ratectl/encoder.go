package ratectl

import (
	"math"
	"time"
)

// Decision is the admission outcome of BeginFrame.
type Decision int

const (
	// Admit means the caller should proceed to encode the frame at the
	// returned quality id.
	Admit Decision = iota
	// Drop means the admission gate rejected this frame; the caller must
	// not touch the codec or the source bitmap.
	Drop
)

// FrameDecision is the result of BeginFrame.
type FrameDecision struct {
	Status    Decision
	QualityID int
}

// BeginFrame runs the periodic adjusted-fps recalibration, the admission
// gate, and the bit-rate parameter update for one candidate frame (spec
// §4.1 steps 1-5). On Admit, the caller must encode at FrameDecision.
// QualityID and report the outcome via FrameEncoded or FrameFailed.
func (c *Controller) BeginFrame(frameMMTime MMTime) FrameDecision {
	now := c.clock.Now()
	if c.adjustedFPSStart.IsZero() {
		c.adjustedFPSStart = now
	}

	c.adjustFPS(now)

	if !c.bitRateInfo.LastFrameTime.IsZero() {
		threshold := time.Duration(float64(time.Second) / c.adjustedFPS)
		if now.Sub(c.bitRateInfo.LastFrameTime) < threshold {
			return FrameDecision{Status: Drop}
		}
	}

	c.adjustParamsToBitRate()

	if !c.duringQualityEval || c.qualityEval.Reason == ReasonSizeChange {
		c.bitRateInfo.ChangeStartTime = now
		if c.bitRateInfo.ChangeStartMMTime == 0 {
			c.bitRateInfo.ChangeStartMMTime = frameMMTime
		}
		c.bitRateInfo.LastFrameTime = now
	}

	return FrameDecision{Status: Admit, QualityID: c.qualityID}
}

// FrameEncoded records a successfully encoded frame of the given size
// (spec §4.1 step 7).
func (c *Controller) FrameEncoded(size uint64) {
	c.lastEncSize = size
	c.serverState.NumFramesEncoded++

	if !c.duringQualityEval || c.qualityEval.Reason == ReasonSizeChange {
		if c.numRecentEncFrames >= AvgWindow {
			c.sumRecentEncSize = 0
			c.numRecentEncFrames = 0
		}
		c.sumRecentEncSize += size
		c.numRecentEncFrames++
		c.adjustedFPSNumFrame++
	}

	c.bitRateInfo.SumEncSize += size
	c.bitRateInfo.NumEncFrames++

	c.statsNumFrames++
	c.statsSumQuality += uint64(qualityValue(c.qualityID))
}

// FrameFailed records a codec failure mid-frame: the frame is abandoned and
// last_enc_size is cleared. No other counters move (spec §4.1 step 6, §7).
func (c *Controller) FrameFailed() {
	c.lastEncSize = 0
}

// adjustFPS is the periodic adjusted-fps recalibration (spec §4.1 step 2).
func (c *Controller) adjustFPS(now time.Time) {
	if c.duringQualityEval {
		return
	}

	elapsed := now.Sub(c.adjustedFPSStart)
	if elapsed <= fpsAdjustCadence {
		return
	}

	elapsedMS := float64(elapsed) / float64(time.Millisecond)
	thresholdMS := 1000.0 / c.adjustedFPS
	if elapsedMS <= thresholdMS {
		return
	}

	avgFPS := float64(c.adjustedFPSNumFrame) * 1000.0 / elapsedMS
	fps := float64(c.fps)
	srcFPS := float64(c.callbacks.sourceFPS())

	switch {
	case avgFPS+0.5 < fps && srcFPS > avgFPS:
		if avgFPS == 0 {
			c.adjustedFPS = math.Min(2*fps, 2*c.adjustedFPS)
		} else {
			c.adjustedFPS = math.Min(2*fps, c.adjustedFPS/(avgFPS/fps))
		}
	case fps+0.5 < avgFPS:
		c.adjustedFPS = math.Max(fps, c.adjustedFPS/(avgFPS/fps))
	}

	c.adjustedFPSStart = now
	c.adjustedFPSNumFrame = 0
}

// adjustParamsToBitRate is the heart of the controller, invoked once per
// accepted frame before encoding (spec §4.1 "adjust_params_to_bit_rate").
func (c *Controller) adjustParamsToBitRate() {
	if c.lastEncSize == 0 {
		return
	}

	if c.duringQualityEval {
		c.recordSample(c.lastEncSize)
		return
	}

	if c.numRecentEncFrames < minInt(AvgWindow, c.fps) {
		c.processServerDrops()
		return
	}

	newAvg := c.sumRecentEncSize / uint64(c.numRecentEncFrames)
	var newFPS float64
	if newAvg == 0 {
		newFPS = float64(MaxFPS)
	} else {
		newFPS = float64(c.byteRate) / float64(newAvg)
	}

	fps := float64(c.fps)
	srcFPS := c.callbacks.sourceFPS()

	switch {
	case newFPS > fps && (c.fps < srcFPS || c.qualityID < MaxQualityID):
		c.armUpgrade(ReasonSizeChange, c.qualityID, c.fps)
	case newFPS < fps && newFPS < float64(srcFPS):
		c.armDowngrade(ReasonSizeChange, c.qualityID, c.fps)
	default:
		c.processServerDrops()
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
