package ratectl

import "time"

// NotifyServerFrameDrop records a server-side frame drop and re-evaluates
// the local drop ratio (spec §4.3 "on_server_frame_drop").
func (c *Controller) NotifyServerFrameDrop() {
	c.serverState.NumFramesDropped++
	c.processServerDrops()
}

// processServerDrops triggers a bit-rate decrease once enough frames have
// been observed and the drop ratio exceeds the configured threshold.
func (c *Controller) processServerDrops() {
	threshold := minInt(c.fps, c.callbacks.sourceFPS())
	if c.serverState.NumFramesEncoded < threshold {
		return
	}

	total := c.serverState.NumFramesDropped + c.serverState.NumFramesEncoded
	if total > 0 {
		dropFactor := float64(c.serverState.NumFramesDropped) / float64(total)
		if dropFactor > dropFactorThreshold {
			c.decreaseBitRate()
		}
	}
	c.serverState.reset()
}

// ClientStreamReport ingests a client stream report and decides whether it
// indicates playback degradation (negative) or stability (positive), per
// spec §4.3.
func (c *Controller) ClientStreamReport(numFrames, numDrops int, startMM, endMM MMTime, videoDelayMS, audioDelayMS float64) {
	if c.duringQualityEval && c.qualityEval.Type == EvalDowngrade && c.qualityEval.Reason == ReasonRateChange {
		return
	}

	var avgEnc uint64
	if c.numRecentEncFrames > 0 {
		avgEnc = c.sumRecentEncSize / uint64(c.numRecentEncFrames)
	}

	var minPlaybackDelay float64
	if c.byteRate > 0 && avgEnc > 0 {
		frameTimeMS := float64(avgEnc) * 1000 / float64(c.byteRate)
		minPlaybackDelay = 2*frameTimeMS + float64(c.callbacks.roundtripMS())
		if minPlaybackDelay > maxPlaybackDelayMS {
			minPlaybackDelay = maxPlaybackDelayMS
		}
	}

	srcFPS := c.callbacks.sourceFPS()
	isVideoDelaySmall := false
	if minPlaybackDelay > videoDelayMS &&
		(c.qualityID != MaxQualityID || c.fps < minInt(srcFPS, MaxFPS) || videoDelayMS < 0) {
		isVideoDelaySmall = true
		c.callbacks.updatePlaybackDelay(int64(minPlaybackDelay))
	}

	if videoDelayMS > 0 &&
		audioDelayMS < audioDelayMaxFactor*c.clientState.MaxAudioLatency &&
		videoDelayMS > videoAudioSkewRatio*audioDelayMS {
		c.handleNegativeReport(endMM)
		return
	}

	if videoDelayMS < videoDelayNegativeThresholdMS {
		c.handleNegativeReport(endMM)
		return
	}

	if videoDelayMS > c.clientState.MaxVideoLatency {
		c.clientState.MaxVideoLatency = videoDelayMS
	}
	if audioDelayMS > c.clientState.MaxAudioLatency {
		c.clientState.MaxAudioLatency = audioDelayMS
	}

	mediumTh := 0.5 * c.clientState.MaxVideoLatency
	majorTh := 0.25 * c.clientState.MaxVideoLatency

	switch {
	case (videoDelayMS < mediumTh && isVideoDelaySmall) || videoDelayMS < majorTh:
		c.handleNegativeReport(endMM)
	case numDrops == 0:
		c.handlePositiveReport(startMM)
	}
}

// handleNegativeReport ignores reports about a window already superseded by
// a later downgrade, unless an upgrade happened in between.
func (c *Controller) handleNegativeReport(endMM MMTime) {
	stale := c.bitRateInfo.ChangeStartMMTime > endMM || c.bitRateInfo.ChangeStartMMTime == 0
	if stale && !c.bitRateInfo.WasUpgraded {
		return
	}
	c.decreaseBitRate()
}

// handlePositiveReport requires the current operating point to have been
// stable for a minimum timeout before triggering a bit-rate increase.
func (c *Controller) handlePositiveReport(startMM MMTime) {
	if c.duringQualityEval && c.qualityEval.Reason == ReasonRateChange {
		return
	}

	srcFPS := c.callbacks.sourceFPS()
	timeout := int64(positiveTimeoutShort)
	if (c.fps > 10 || c.fps >= srcFPS) && c.qualityID > MedianQualityID {
		timeout = positiveTimeoutLong
	}

	if c.bitRateInfo.ChangeStartMMTime == 0 || startMM.Sub(c.bitRateInfo.ChangeStartMMTime) < timeout {
		return
	}
	c.increaseBitRate()
}

// decreaseBitRate lowers the byte-rate estimate and arms a RATE_CHANGE
// DOWNGRADE probe, subject to the post-construction warmup shield.
func (c *Controller) decreaseBitRate() {
	if !c.warmupStart.IsZero() {
		if c.clock.Now().Sub(c.warmupStart) < warmupDuration {
			return
		}
		c.warmupStart = time.Time{}
	}

	if c.duringQualityEval {
		c.cancelEval()
	}
	c.clientState = ClientState{}

	var measured, decrease uint64
	minSamples := maxInt(3, c.fps)
	if c.bitRateInfo.NumEncFrames >= minSamples {
		if duration := c.bitRateInfo.LastFrameTime.Sub(c.bitRateInfo.ChangeStartTime).Seconds(); duration > 0 {
			measured = uint64(float64(c.bitRateInfo.SumEncSize) / duration)
		}
		decrease = c.bitRateInfo.SumEncSize / uint64(c.bitRateInfo.NumEncFrames)
	} else {
		measured = c.byteRate
		decrease = c.byteRate / uint64(c.fps)
	}

	if measured > c.byteRate {
		measured = c.byteRate
	}
	if decrease >= measured {
		decrease = measured / 2
	}
	c.byteRate = measured - decrease

	c.bitRateInfo.reset()
	c.armDowngrade(ReasonRateChange, c.qualityID, c.fps)
}

// increaseBitRate raises the byte-rate estimate and arms a RATE_CHANGE
// UPGRADE probe, once enough samples exist to measure the achieved rate.
func (c *Controller) increaseBitRate() {
	minSamples := maxInt(3, c.fps)
	if c.bitRateInfo.NumEncFrames < minSamples {
		return
	}

	var measured uint64
	if duration := c.bitRateInfo.LastFrameTime.Sub(c.bitRateInfo.ChangeStartTime).Seconds(); duration > 0 {
		measured = uint64(float64(c.bitRateInfo.SumEncSize) / duration)
	}
	increase := c.bitRateInfo.SumEncSize / uint64(c.bitRateInfo.NumEncFrames)

	if c.duringQualityEval {
		c.cancelEval()
	}

	if measured+increase < c.byteRate {
		// Measured rate plus headroom still trails the current estimate;
		// leave byte_rate unchanged.
	} else {
		base := c.byteRate
		if measured < base {
			base = measured
		}
		c.byteRate = base + increase
	}

	c.bitRateInfo.reset()
	c.bitRateInfo.WasUpgraded = true
	c.armUpgrade(ReasonRateChange, c.qualityID, c.fps)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
