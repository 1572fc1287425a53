package telemetry

import (
	"testing"
	"time"
)

func TestHistogramObserveAndPercentile(t *testing.T) {
	h := NewFrameSizeHistogram()
	for _, v := range []float64{2000, 4000, 8000, 16000, 32000} {
		h.Observe(v)
	}

	stats := h.Stats()
	if stats.Count != 5 {
		t.Fatalf("Count = %d, want 5", stats.Count)
	}
	if stats.Min != 2000 || stats.Max != 32000 {
		t.Errorf("Min/Max = %v/%v, want 2000/32000", stats.Min, stats.Max)
	}

	p50 := h.Percentile(50)
	if p50 <= 0 {
		t.Errorf("Percentile(50) = %v, want > 0", p50)
	}
}

func TestHistogramResetClearsState(t *testing.T) {
	h := NewEncodeLatencyHistogram()
	h.Observe(0.01)
	h.Reset()

	stats := h.Stats()
	if stats.Count != 0 || stats.Sum != 0 {
		t.Errorf("after Reset, stats = %+v, want all zero", stats)
	}
}

func TestRateCalculatorRate(t *testing.T) {
	rc := NewRateCalculator(10)
	rc.Add(1000)
	time.Sleep(10 * time.Millisecond)
	rc.Add(1000)

	if rc.Total() != 2000 {
		t.Errorf("Total = %d, want 2000", rc.Total())
	}
	if rc.Rate() <= 0 {
		t.Errorf("Rate = %v, want > 0 after two samples", rc.Rate())
	}
}

func TestMountMetricsRecordFrameEncoded(t *testing.T) {
	m := NewMountMetrics("/cam1")
	m.RecordFrameEncoded(12000, 5*time.Millisecond)
	m.RecordFrameEncoded(15000, 6*time.Millisecond)
	m.RecordFrameDropped()

	snap := m.Snapshot()
	if snap.FramesEncoded != 2 {
		t.Errorf("FramesEncoded = %d, want 2", snap.FramesEncoded)
	}
	if snap.FramesDropped != 1 {
		t.Errorf("FramesDropped = %d, want 1", snap.FramesDropped)
	}
	if snap.FrameSizeP50 <= 0 {
		t.Errorf("FrameSizeP50 = %v, want > 0", snap.FrameSizeP50)
	}
}

func TestMountMetricsListenerCounting(t *testing.T) {
	m := NewMountMetrics("/cam1")
	m.RecordListenerConnect()
	m.RecordListenerConnect()
	m.RecordListenerDisconnect()

	snap := m.Snapshot()
	if snap.CurrentListeners != 1 {
		t.Errorf("CurrentListeners = %d, want 1", snap.CurrentListeners)
	}
	if snap.PeakListeners != 2 {
		t.Errorf("PeakListeners = %d, want 2", snap.PeakListeners)
	}
}

func TestRegistryGetOrCreateIsStable(t *testing.T) {
	r := &Registry{StartTime: time.Now()}
	a := r.GetOrCreate("/cam1")
	b := r.GetOrCreate("/cam1")
	if a != b {
		t.Errorf("GetOrCreate returned different instances for the same mount path")
	}

	r.Remove("/cam1")
	if r.Get("/cam1") != nil {
		t.Errorf("metrics should be gone after Remove")
	}
}
