package timeutil

import (
	"testing"
	"time"
)

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if !clock.Now().Equal(start) {
		t.Fatalf("Now = %v, want %v", clock.Now(), start)
	}

	clock.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if !clock.Now().Equal(want) {
		t.Errorf("Now after Advance = %v, want %v", clock.Now(), want)
	}
	if got := clock.Since(start); got != 90*time.Second {
		t.Errorf("Since = %v, want 90s", got)
	}
}

func TestMockTickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(30 * time.Second)

	select {
	case <-ticker.C():
		t.Fatal("ticker fired before interval elapsed")
	default:
	}

	clock.Advance(30 * time.Second)
	select {
	case tick := <-ticker.C():
		if !tick.Equal(start.Add(30 * time.Second)) {
			t.Errorf("tick at %v, want %v", tick, start.Add(30*time.Second))
		}
	default:
		t.Fatal("ticker did not fire after interval")
	}
}

func TestMockTickerStop(t *testing.T) {
	clock := NewMockClock(time.Now())
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()
	clock.Advance(5 * time.Second)

	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
}

func TestRealClock(t *testing.T) {
	var clock Clock = RealClock{}
	before := time.Now()
	now := clock.Now()
	if now.Before(before) {
		t.Error("RealClock.Now went backwards")
	}
	ticker := clock.NewTicker(time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("real ticker did not fire within a second")
	}
}
