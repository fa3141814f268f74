package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTimer(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(10 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Error("timer did not fire")
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Sleep(time.Second)
	clock.Sleep(2 * time.Second)

	if got := clock.Since(start); got != 3*time.Second {
		t.Errorf("Since() = %v, want 3s", got)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}

func TestMockClock_Timer(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	timer := clock.NewTimer(5 * time.Millisecond)

	select {
	case <-timer.C():
		t.Fatal("timer fired too early")
	default:
	}

	clock.Advance(5 * time.Millisecond)

	select {
	case got := <-timer.C():
		if !got.Equal(start.Add(5 * time.Millisecond)) {
			t.Errorf("fired at %v", got)
		}
	default:
		t.Fatal("timer did not fire after Advance")
	}
}

func TestMockClock_TimerStop(t *testing.T) {
	clock := NewMockClock(time.Time{})
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("Stop() on active timer should return true")
	}
	clock.Advance(2 * time.Second)

	select {
	case <-timer.C():
		t.Error("stopped timer fired")
	default:
	}
	if timer.Stop() {
		t.Error("second Stop() should return false")
	}
}

func TestMockClock_ZeroTimerFiresImmediately(t *testing.T) {
	clock := NewMockClock(time.Time{})
	timer := clock.NewTimer(0)

	select {
	case <-timer.C():
	default:
		t.Error("zero-duration timer did not fire")
	}
}
