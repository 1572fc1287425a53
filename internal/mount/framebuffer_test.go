package mount

import (
	"testing"
	"time"
)

func TestFrameBufferPushAndAt(t *testing.T) {
	b := NewFrameBuffer()

	b.Push([]byte("frame-0"), 3)
	b.Push([]byte("frame-1"), 4)

	f, ok := b.At(0)
	if !ok {
		t.Fatalf("At(0) not found")
	}
	if string(f.Data) != "frame-0" || f.QualityID != 3 {
		t.Errorf("At(0) = %+v, want data=frame-0 quality=3", f)
	}

	f, ok = b.At(1)
	if !ok || string(f.Data) != "frame-1" || f.QualityID != 4 {
		t.Errorf("At(1) = %+v, want data=frame-1 quality=4", f)
	}

	if _, ok := b.At(2); ok {
		t.Errorf("At(2) should not exist yet")
	}
}

func TestFrameBufferLatest(t *testing.T) {
	b := NewFrameBuffer()
	if _, ok := b.Latest(); ok {
		t.Fatalf("Latest on empty buffer should report ok=false")
	}

	b.Push([]byte("a"), 0)
	b.Push([]byte("b"), 0)
	f, ok := b.Latest()
	if !ok || string(f.Data) != "b" || f.SeqNum != 1 {
		t.Errorf("Latest = %+v, want seq=1 data=b", f)
	}
}

func TestFrameBufferOverwrittenSlotReportsNotFound(t *testing.T) {
	b := NewFrameBuffer()
	for i := 0; i < ringSize+2; i++ {
		b.Push([]byte{byte(i)}, 0)
	}

	if _, ok := b.At(0); ok {
		t.Errorf("frame 0 should have been overwritten by the ring wrapping")
	}
	if _, ok := b.At(ringSize + 1); !ok {
		t.Errorf("most recent frame should still be retrievable")
	}
}

func TestFrameBufferWaitForNextReturnsImmediatelyIfAvailable(t *testing.T) {
	b := NewFrameBuffer()
	b.Push([]byte("ready"), 0)

	f, ok := b.WaitForNext(0, time.Second)
	if !ok || string(f.Data) != "ready" {
		t.Fatalf("WaitForNext should return the already-available frame, got %+v ok=%v", f, ok)
	}
}

func TestFrameBufferWaitForNextWakesOnPush(t *testing.T) {
	b := NewFrameBuffer()
	done := make(chan Frame, 1)

	go func() {
		f, ok := b.WaitForNext(0, 2*time.Second)
		if ok {
			done <- f
		} else {
			close(done)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	b.Push([]byte("woke-up"), 1)

	select {
	case f := <-done:
		if string(f.Data) != "woke-up" {
			t.Errorf("woke frame data = %q, want woke-up", f.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForNext did not wake up after Push")
	}
}

func TestFrameBufferWaitForNextTimesOut(t *testing.T) {
	b := NewFrameBuffer()
	start := time.Now()
	_, ok := b.WaitForNext(0, 50*time.Millisecond)
	if ok {
		t.Fatalf("WaitForNext should time out when nothing is ever pushed")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("WaitForNext returned too early after %v", elapsed)
	}
}
