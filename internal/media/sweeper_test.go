package media

import (
	"os"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestSweeperSweep(t *testing.T) {
	s, _ := newTestStore(t)
	now := time.Now()
	old := s.PhotoPath(5, now.Add(-3*time.Hour))
	touch(t, old, now.Add(-3*time.Hour))
	recent := s.PhotoPath(5, now)
	touch(t, recent, now)

	sw := NewSweeper(s, time.Minute, time.Hour, quietLogger())
	if got := sw.Sweep(); got != 1 {
		t.Errorf("Sweep() = %d, want 1", got)
	}
	if _, err := os.Stat(recent); err != nil {
		t.Errorf("recent file removed")
	}
}

func TestSweeperStartStopDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, _ := newTestStore(t)
	sw := NewSweeper(s, 50*time.Millisecond, time.Hour, quietLogger())
	if err := sw.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sw.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	sw.Stop()
	sw.Stop()
}

func TestSweeperRunsOnSchedule(t *testing.T) {
	s, _ := newTestStore(t)
	old := s.AudioPath(9, time.Now())
	touch(t, old, time.Now().Add(-2*time.Hour))

	sw := NewSweeper(s, time.Second, time.Hour, quietLogger())
	if err := sw.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sw.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(old); os.IsNotExist(err) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("scheduled sweep did not remove expired file")
}
