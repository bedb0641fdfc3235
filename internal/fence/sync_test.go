package fence

import (
	"errors"
	"testing"
)

func TestSynchronizerWaitOnlyWhenSaturated(t *testing.T) {
	f := NewManual()
	var waitedFor []uint64
	f.OnWait = func(v uint64) {
		waitedFor = append(waitedFor, v)
		f.Retire(v)
	}
	s := NewSynchronizer(f, 2)

	if id := s.SignalWork(); id != 1 {
		t.Fatalf("first frame id = %d, want 1", id)
	}
	if s.Wait() {
		t.Error("Wait blocked with 1 of 2 frames in flight")
	}
	s.SignalWork()
	if !s.Wait() {
		t.Error("Wait did not block with 2 of 2 frames in flight")
	}
	if len(waitedFor) != 1 || waitedFor[0] != 1 {
		t.Errorf("waited for %v, want [1]", waitedFor)
	}
	if got := s.LastRetired(); got != 1 {
		t.Errorf("LastRetired = %d, want 1", got)
	}
	if got := s.InFlight(); got != 1 {
		t.Errorf("InFlight = %d, want 1", got)
	}
	if got := s.Waits(); got != 1 {
		t.Errorf("Waits = %d, want 1", got)
	}
}

func TestSynchronizerRetiresWithoutBlocking(t *testing.T) {
	f := NewManual()
	f.OnWait = func(uint64) { t.Fatal("unexpected blocking wait") }
	s := NewSynchronizer(f, 3)

	s.SignalWork()
	s.SignalWork()
	f.Retire(2)
	if s.LastRetired() != 0 {
		t.Fatal("LastRetired changed outside Wait")
	}
	s.Wait()
	if s.LastRetired() != 2 || s.InFlight() != 0 {
		t.Errorf("retired=%d inflight=%d, want 2 and 0", s.LastRetired(), s.InFlight())
	}
}

func TestSynchronizerRetirementMonotonic(t *testing.T) {
	tests := []struct {
		name        string
		maxInFlight int
		frames      int
		retireEvery int
	}{
		{"double buffered", 2, 50, 1},
		{"triple buffered lazy gpu", 3, 60, 4},
		{"single frame", 1, 20, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewManual()
			f.OnWait = func(v uint64) { f.Retire(v) }
			s := NewSynchronizer(f, tt.maxInFlight)

			var prev uint64
			for i := 1; i <= tt.frames; i++ {
				s.SignalWork()
				if i%tt.retireEvery == 0 {
					f.Retire(uint64(i) - 1) //nolint:gosec // G115: test loop bound
				}
				if i%7 == 0 {
					s.WaitAll()
				} else {
					s.Wait()
				}
				got := s.LastRetired()
				if got < prev {
					t.Fatalf("frame %d: LastRetired went from %d to %d", i, prev, got)
				}
				if s.InFlight() > tt.maxInFlight {
					t.Fatalf("frame %d: %d frames in flight, limit %d", i, s.InFlight(), tt.maxInFlight)
				}
				prev = got
			}
		})
	}
}

func TestSynchronizerWaitAll(t *testing.T) {
	f := NewManual()
	f.AutoRetire = true
	s := NewSynchronizer(f, 2)

	s.SignalWork()
	s.WaitAll()
	if s.LastSignaled() != 2 {
		t.Errorf("LastSignaled = %d, want 2", s.LastSignaled())
	}
	if s.LastRetired() != 2 || s.InFlight() != 0 {
		t.Errorf("after WaitAll retired=%d inflight=%d", s.LastRetired(), s.InFlight())
	}
	if !s.IsRetired(2) || s.IsRetired(3) {
		t.Error("IsRetired disagrees with LastRetired")
	}
}

func TestSynchronizerDefaultLimit(t *testing.T) {
	s := NewSynchronizer(NewManual(), 0)
	if s.MaxInFlight() != DefaultMaxInFlight {
		t.Errorf("MaxInFlight = %d, want %d", s.MaxInFlight(), DefaultMaxInFlight)
	}
}

type failingFence struct{ Manual }

func (f *failingFence) Signal(uint64) error { return errors.New("device removed") }

func TestSynchronizerSignalFailureIsFatal(t *testing.T) {
	s := NewSynchronizer(&failingFence{}, 2)
	defer func() {
		if recover() == nil {
			t.Error("SignalWork did not panic on fence failure")
		}
	}()
	s.SignalWork()
}

func TestManualFence(t *testing.T) {
	m := NewManual()
	if err := m.Signal(1); err != nil {
		t.Fatal(err)
	}
	if err := m.Signal(1); !errors.Is(err, ErrNotMonotonic) {
		t.Errorf("repeat signal err = %v, want ErrNotMonotonic", err)
	}
	if err := m.Wait(5); !errors.Is(err, ErrNotSignaled) {
		t.Errorf("wait on unsignaled value err = %v, want ErrNotSignaled", err)
	}
	m.Retire(10)
	if m.Completed() != 1 {
		t.Errorf("Retire past signal: Completed = %d, want 1", m.Completed())
	}

	_ = m.Signal(2)
	done := make(chan struct{})
	go func() {
		_ = m.Wait(2)
		close(done)
	}()
	m.Retire(2)
	<-done
}
