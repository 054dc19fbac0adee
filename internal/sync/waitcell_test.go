package sync

import (
	"sync"
	"testing"
	"time"
)

func TestWaitableCellBlocksUntilSet(t *testing.T) {
	c := NewWaitableCell[int]()

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Wait()
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	if err := c.Set(42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	wg.Wait()

	for i, v := range results {
		if v != 42 {
			t.Errorf("waiter %d observed %d, want 42", i, v)
		}
	}
}

func TestWaitableCellWaitAfterSetReturnsImmediately(t *testing.T) {
	c := NewWaitableCell[string]()
	if err := c.Set("done"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	done := make(chan string, 1)
	go func() { done <- c.Wait() }()

	select {
	case v := <-done:
		if v != "done" {
			t.Errorf("got %q, want %q", v, "done")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait blocked after Set")
	}
}

func TestWaitableCellSetTwiceErrors(t *testing.T) {
	c := NewWaitableCell[int]()
	if err := c.Set(1); err != nil {
		t.Fatalf("first Set: %v", err)
	}
	if err := c.Set(2); err == nil {
		t.Fatal("second Set: want error, got nil")
	}
	if got := c.Wait(); got != 1 {
		t.Errorf("Wait() = %d, want 1 (first value wins)", got)
	}
}

func TestWaitableCellTryGet(t *testing.T) {
	c := NewWaitableCell[int]()
	if _, ok := c.TryGet(); ok {
		t.Fatal("TryGet on unset cell reported ok")
	}
	_ = c.Set(7)
	v, ok := c.TryGet()
	if !ok || v != 7 {
		t.Errorf("TryGet() = (%d, %v), want (7, true)", v, ok)
	}
}

func TestWaitableCellSetGuardWith(t *testing.T) {
	c := NewWaitableCell[int]()
	guard := c.SetGuardWith(func() int { return 9 })
	if _, ok := c.TryGet(); ok {
		t.Fatal("cell set before guard ran")
	}
	guard()
	v, ok := c.TryGet()
	if !ok || v != 9 {
		t.Errorf("TryGet() after guard = (%d, %v), want (9, true)", v, ok)
	}
}
