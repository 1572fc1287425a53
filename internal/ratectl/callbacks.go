package ratectl

// Callbacks holds the host-supplied function table. Any field may be left
// nil; Controller substitutes the documented default at call time rather
// than requiring callers to populate every entry.
type Callbacks struct {
	// GetSourceFPS reports the current capture/source frame rate. Default: 25.
	GetSourceFPS func() int

	// GetRoundtripMS reports half the current client roundtrip latency, in
	// milliseconds. Default: 0.
	GetRoundtripMS func() int64

	// UpdateClientPlaybackDelay pushes a newly computed minimum playback
	// delay, in milliseconds, to the client. Default: no-op.
	UpdateClientPlaybackDelay func(minDelayMS int64)
}

func (cb Callbacks) sourceFPS() int {
	if cb.GetSourceFPS == nil {
		return 25
	}
	if fps := cb.GetSourceFPS(); fps > 0 {
		return fps
	}
	return 25
}

func (cb Callbacks) roundtripMS() int64 {
	if cb.GetRoundtripMS == nil {
		return 0
	}
	return cb.GetRoundtripMS()
}

func (cb Callbacks) updatePlaybackDelay(minDelayMS int64) {
	if cb.UpdateClientPlaybackDelay != nil {
		cb.UpdateClientPlaybackDelay(minDelayMS)
	}
}
