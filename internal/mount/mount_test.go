package mount

import (
	"testing"

	"github.com/gocast/mjpegrc/internal/config"
	"github.com/gocast/mjpegrc/internal/ratectl"
)

func testMountConfig() *config.MountConfig {
	return &config.MountConfig{
		Name:               "/cam1",
		MaxListeners:       2,
		Public:             true,
		Width:              4,
		Height:             4,
		SourcePixelFormat:  "bgrx32",
		SourceFPS:          25,
		StartingBitRateBps: 2_000_000,
	}
}

func pushFullFrame(t *testing.T, m *Mount, mmTime ratectl.MMTime) bool {
	t.Helper()
	line := make([]byte, 4*4) // width(4) * 4 bytes/pixel
	for y := 0; y < 4; y++ {
		if err := m.WriteScanline(line); err != nil {
			t.Fatalf("WriteScanline: %v", err)
		}
	}
	admitted, err := m.CompleteFrame(mmTime)
	if err != nil {
		t.Fatalf("CompleteFrame: %v", err)
	}
	return admitted
}

func TestMountRequiresActiveSourceToWrite(t *testing.T) {
	m := NewMount("/cam1", testMountConfig())
	if err := m.WriteScanline(make([]byte, 16)); err != ErrNoSource {
		t.Errorf("WriteScanline before StartSource = %v, want ErrNoSource", err)
	}
}

func TestMountStartSourceRejectsSecondSource(t *testing.T) {
	m := NewMount("/cam1", testMountConfig())
	if err := m.StartSource("10.0.0.1"); err != nil {
		t.Fatalf("first StartSource: %v", err)
	}
	if err := m.StartSource("10.0.0.2"); err != ErrSourceConnected {
		t.Errorf("second StartSource = %v, want ErrSourceConnected", err)
	}
}

func TestMountCompleteFrameAdmitsFirstFrame(t *testing.T) {
	m := NewMount("/cam1", testMountConfig())
	if err := m.StartSource("10.0.0.1"); err != nil {
		t.Fatalf("StartSource: %v", err)
	}

	if !pushFullFrame(t, m, 0) {
		t.Fatalf("first frame through a fresh mount must be admitted")
	}

	f, ok := m.Frames().Latest()
	if !ok {
		t.Fatalf("expected a frame in the ring buffer after admission")
	}
	if len(f.Data) == 0 {
		t.Errorf("admitted frame has no compressed data")
	}
}

func TestMountCompleteFrameWithoutFullFrameIsNoop(t *testing.T) {
	m := NewMount("/cam1", testMountConfig())
	if err := m.StartSource("10.0.0.1"); err != nil {
		t.Fatalf("StartSource: %v", err)
	}

	// Only write one of the frame's scanlines.
	line := make([]byte, 4*4)
	if err := m.WriteScanline(line); err != nil {
		t.Fatalf("WriteScanline: %v", err)
	}
	admitted, err := m.CompleteFrame(0)
	if err != nil {
		t.Fatalf("CompleteFrame: %v", err)
	}
	if admitted {
		t.Errorf("CompleteFrame must not admit a partially-delivered frame")
	}
	if _, ok := m.Frames().Latest(); ok {
		t.Errorf("no frame should have been pushed to the ring")
	}
}

func TestMountStopSourceClearsActiveFlag(t *testing.T) {
	m := NewMount("/cam1", testMountConfig())
	_ = m.StartSource("10.0.0.1")
	m.StopSource()
	if m.IsActive() {
		t.Errorf("IsActive after StopSource should be false")
	}
	if err := m.WriteScanline(make([]byte, 16)); err != ErrNoSource {
		t.Errorf("WriteScanline after StopSource = %v, want ErrNoSource", err)
	}
}

func TestMountListenerLifecycle(t *testing.T) {
	m := NewMount("/cam1", testMountConfig())

	l1 := NewListener("1.2.3.4", "camviewer/1.0")
	l2 := NewListener("1.2.3.5", "camviewer/1.0")
	m.AddListener(l1)
	m.AddListener(l2)

	if m.ListenerCount() != 2 {
		t.Fatalf("ListenerCount = %d, want 2", m.ListenerCount())
	}
	if m.CanAddListener() {
		t.Errorf("CanAddListener should be false at MaxListeners=2")
	}

	m.RemoveListener(l1)
	if m.ListenerCount() != 1 {
		t.Errorf("ListenerCount after removal = %d, want 1", m.ListenerCount())
	}
	if m.GetListener(l1.ID) != nil {
		t.Errorf("removed listener should no longer be retrievable")
	}
	select {
	case <-l1.Done():
	default:
		t.Errorf("removed listener's Done channel should be closed")
	}
}

func TestMountStatsReflectsEncoderState(t *testing.T) {
	m := NewMount("/cam1", testMountConfig())
	_ = m.StartSource("10.0.0.1")
	pushFullFrame(t, m, 0)

	stats := m.Stats()
	if !stats.Active {
		t.Errorf("stats.Active = false, want true while source connected")
	}
	if stats.FramesReceived != 1 {
		t.Errorf("stats.FramesReceived = %d, want 1", stats.FramesReceived)
	}
	if stats.ByteRate == 0 {
		t.Errorf("stats.ByteRate should reflect the mount's starting byte rate")
	}
}
