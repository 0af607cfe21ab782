package pingtimer

import (
	"testing"
	"time"
)

func TestTimer_FiresAfterInterval(t *testing.T) {
	pt := New(20 * time.Millisecond)
	defer pt.Stop()

	select {
	case <-pt.TimeoutC():
	case <-time.After(time.Second):
		t.Fatal("expected timeout to fire")
	}
}

func TestTimer_PingedResetsDeadline(t *testing.T) {
	pt := New(50 * time.Millisecond)
	defer pt.Stop()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
		pt.Pinged()
		select {
		case <-pt.TimeoutC():
			t.Fatal("timer fired despite repeated Pinged calls")
		default:
		}
	}
}

func TestTimer_DisabledNeverFires(t *testing.T) {
	pt := New(0)
	defer pt.Stop()

	select {
	case <-pt.TimeoutC():
		t.Fatal("disabled timer must never fire")
	case <-time.After(100 * time.Millisecond):
	}
}
