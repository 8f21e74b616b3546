package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}

	before := c.Now()
	c.Sleep(time.Millisecond)
	if c.Since(before) <= 0 {
		t.Error("Since should be positive after a sleep")
	}
}

func TestMockClock_AdvanceAndSince(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if !c.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", c.Now(), start)
	}

	c.Advance(5 * time.Second)
	if got := c.Since(start); got != 5*time.Second {
		t.Errorf("Since(start) = %v, want 5s", got)
	}

	c.Set(start)
	if got := c.Since(start); got != 0 {
		t.Errorf("Since(start) after Set = %v, want 0", got)
	}
}

func TestMockClock_SleepRecordsWithoutBlocking(t *testing.T) {
	c := NewMockClock(time.Now())

	done := make(chan struct{})
	go func() {
		c.Sleep(time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mock Sleep blocked")
	}

	sleeps := c.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != time.Hour {
		t.Errorf("Sleeps() = %v, want [1h]", sleeps)
	}
}
