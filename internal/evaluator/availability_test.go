package evaluator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestAvailability_ProbesOnce(t *testing.T) {
	t.Parallel()

	var probes atomic.Int32
	a := NewAvailability(func(context.Context) bool {
		probes.Add(1)
		return true
	})
	if a.Known() {
		t.Fatal("Known() before first use")
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !a.Available(context.Background()) {
				t.Error("Available() = false, want true")
			}
		}()
	}
	wg.Wait()

	if n := probes.Load(); n != 1 {
		t.Errorf("probe ran %d times, want 1", n)
	}
	if !a.Known() {
		t.Error("Known() = false after probing")
	}
}

func TestAvailability_CachesNegativeAnswer(t *testing.T) {
	t.Parallel()

	calls := 0
	a := NewAvailability(func(context.Context) bool {
		calls++
		return false
	})
	for range 3 {
		if a.Available(context.Background()) {
			t.Fatal("Available() = true, want false")
		}
	}
	if calls != 1 {
		t.Errorf("probe ran %d times, want 1", calls)
	}
}

func TestAvailability_NilProbe(t *testing.T) {
	t.Parallel()

	if NewAvailability(nil).Available(context.Background()) {
		t.Error("nil probe should never be available")
	}
}
