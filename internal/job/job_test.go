package job

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tbleier/fabelwerk/pkg/fault"
)

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("create and get", func(t *testing.T) {
		t.Parallel()
		s := NewStore()
		s.Create("j1")
		snap, err := s.Get("j1")
		if err != nil {
			t.Fatal(err)
		}
		if snap.State != StateWaitingForScript {
			t.Fatalf("state = %s", snap.State)
		}
	})

	t.Run("unknown job is not found", func(t *testing.T) {
		t.Parallel()
		s := NewStore()
		if _, err := s.Get("nope"); !errors.Is(err, fault.ErrNotFound) {
			t.Fatalf("want fault.ErrNotFound, got %v", err)
		}
	})

	t.Run("fail records the message", func(t *testing.T) {
		t.Parallel()
		s := NewStore()
		s.Create("j1")
		s.Fail("j1", errors.New("boom"))
		snap, _ := s.Get("j1")
		if snap.State != StateError || snap.Error != "boom" {
			t.Fatalf("snapshot = %+v", snap)
		}
	})

	t.Run("progress text survives until next state change", func(t *testing.T) {
		t.Parallel()
		s := NewStore()
		s.Create("j1")
		s.Set("j1", StateGeneratingAudio)
		s.Progress("j1", "Voices: 3/12")
		snap, _ := s.Get("j1")
		if snap.Progress != "Voices: 3/12" {
			t.Fatalf("progress = %q", snap.Progress)
		}
		s.Set("j1", StateDone)
		snap, _ = s.Get("j1")
		if snap.Progress != "" {
			t.Fatalf("progress not cleared: %q", snap.Progress)
		}
	})
}

func TestTransition(t *testing.T) {
	t.Parallel()

	t.Run("moves between the expected states", func(t *testing.T) {
		t.Parallel()
		s := NewStore()
		s.Create("j1")
		s.Set("j1", StatePreview)
		if err := s.Transition("j1", StatePreview, StateGeneratingAudio); err != nil {
			t.Fatal(err)
		}
		snap, _ := s.Get("j1")
		if snap.State != StateGeneratingAudio {
			t.Fatalf("state = %s", snap.State)
		}
	})

	t.Run("second confirm loses the race", func(t *testing.T) {
		t.Parallel()
		s := NewStore()
		s.Create("j1")
		s.Set("j1", StatePreview)

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.Transition("j1", StatePreview, StateGeneratingAudio)
			}(i)
		}
		wg.Wait()

		won := 0
		for _, err := range errs {
			if err == nil {
				won++
			} else if !errors.Is(err, fault.ErrValidation) {
				t.Fatalf("loser got %v, want fault.ErrValidation", err)
			}
		}
		if won != 1 {
			t.Fatalf("want exactly one winner, got %d", won)
		}
	})

	t.Run("unknown job is not found", func(t *testing.T) {
		t.Parallel()
		s := NewStore()
		err := s.Transition("nope", StatePreview, StateGeneratingAudio)
		if !errors.Is(err, fault.ErrNotFound) {
			t.Fatalf("want fault.ErrNotFound, got %v", err)
		}
	})
}

func TestCreateIfAbsent(t *testing.T) {
	t.Parallel()

	t.Run("leaves an existing record untouched", func(t *testing.T) {
		t.Parallel()
		s := NewStore()
		s.Create("j1")
		s.Set("j1", StateGeneratingAudio)

		if s.CreateIfAbsent("j1", StatePreview) {
			t.Fatal("insert reported on an existing record")
		}
		snap, _ := s.Get("j1")
		if snap.State != StateGeneratingAudio {
			t.Fatalf("state reset to %s", snap.State)
		}
	})

	t.Run("inserts exactly once under contention", func(t *testing.T) {
		t.Parallel()
		s := NewStore()

		var wg sync.WaitGroup
		inserted := make([]bool, 8)
		for i := range inserted {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				inserted[i] = s.CreateIfAbsent("j1", StatePreview)
			}(i)
		}
		wg.Wait()

		n := 0
		for _, ok := range inserted {
			if ok {
				n++
			}
		}
		if n != 1 {
			t.Fatalf("want exactly one insert, got %d", n)
		}
		snap, _ := s.Get("j1")
		if snap.State != StatePreview {
			t.Fatalf("state = %s", snap.State)
		}
	})

	t.Run("a transition won between inserts is never rolled back", func(t *testing.T) {
		t.Parallel()
		s := NewStore()
		s.CreateIfAbsent("j1", StatePreview)
		if err := s.Transition("j1", StatePreview, StateGeneratingAudio); err != nil {
			t.Fatal(err)
		}

		// A late caller re-registering the same id must not reopen the
		// preview window.
		s.CreateIfAbsent("j1", StatePreview)
		err := s.Transition("j1", StatePreview, StateGeneratingAudio)
		if !errors.Is(err, fault.ErrValidation) {
			t.Fatalf("second transition got %v, want fault.ErrValidation", err)
		}
	})
}

func TestExpire(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := func() time.Time { return now }
	s := NewStore(WithTTL(30*time.Minute), WithClock(func() time.Time { return clock() }))

	s.Create("old")
	now = now.Add(31 * time.Minute)
	s.Create("fresh")

	if n := s.expire(); n != 1 {
		t.Fatalf("expired %d jobs, want 1", n)
	}
	if _, err := s.Get("old"); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("old job still present: %v", err)
	}
	if _, err := s.Get("fresh"); err != nil {
		t.Fatalf("fresh job expired: %v", err)
	}
}

func TestWatch(t *testing.T) {
	t.Parallel()

	t.Run("delivers current snapshot then updates", func(t *testing.T) {
		t.Parallel()
		s := NewStore()
		s.Create("j1")

		ch, cancel, err := s.Watch("j1")
		if err != nil {
			t.Fatal(err)
		}
		defer cancel()

		first := <-ch
		if first.State != StateWaitingForScript {
			t.Fatalf("first snapshot state = %s", first.State)
		}

		s.Set("j1", StatePreview)
		update := <-ch
		if update.State != StatePreview {
			t.Fatalf("update state = %s", update.State)
		}
	})

	t.Run("terminal state closes the channel", func(t *testing.T) {
		t.Parallel()
		s := NewStore()
		s.Create("j1")
		ch, cancel, err := s.Watch("j1")
		if err != nil {
			t.Fatal(err)
		}
		defer cancel()

		<-ch
		s.Set("j1", StateDone)
		<-ch // the done snapshot
		if _, open := <-ch; open {
			t.Fatal("channel still open after terminal state")
		}
	})

	t.Run("watching a finished job yields a closed channel", func(t *testing.T) {
		t.Parallel()
		s := NewStore()
		s.Create("j1")
		s.Set("j1", StateDone)

		ch, cancel, err := s.Watch("j1")
		if err != nil {
			t.Fatal(err)
		}
		defer cancel()
		snap := <-ch
		if snap.State != StateDone {
			t.Fatalf("state = %s", snap.State)
		}
		if _, open := <-ch; open {
			t.Fatal("channel should be closed")
		}
	})
}
