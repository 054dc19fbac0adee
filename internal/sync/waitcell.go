package sync

import "sync"

// WaitableCell is a write-once cell. Any number of goroutines may call
// Wait concurrently with Set; every Wait that observed the cell as
// unset before a given Set call is guaranteed to see the value that
// Set installed.
//
// This is the shim's mechanism for publishing a container's exit code:
// the supervisor goroutine calls Set exactly once when the child dies,
// and the `wait`/`state` RPC handlers call Wait without ever blocking
// each other or the registry lock.
type WaitableCell[T any] struct {
	mu  sync.Mutex
	cv  *sync.Cond
	set bool
	v   T
}

// NewWaitableCell returns an unset cell.
func NewWaitableCell[T any]() *WaitableCell[T] {
	c := &WaitableCell[T]{}
	c.cv = sync.NewCond(&c.mu)
	return c
}

// Set installs v as the cell's value. It returns nil on the first call
// and an error on every subsequent call; the value passed to a rejected
// call is discarded by the caller (wrap the error with it if needed).
func (c *WaitableCell[T]) Set(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return errAlreadySet
	}
	c.v = v
	c.set = true
	c.cv.Broadcast()
	return nil
}

// SetGuardWith returns a func that, when deferred, sets the cell to
// f() iff the cell is still unset. This lets a supervisor goroutine
// guarantee a value is always published even if it panics or returns
// early, by deferring `defer cell.SetGuardWith(func() T {...})()`.
func (c *WaitableCell[T]) SetGuardWith(f func() T) func() {
	return func() {
		c.mu.Lock()
		already := c.set
		c.mu.Unlock()
		if !already {
			_ = c.Set(f())
		}
	}
}

// Wait blocks until the cell is set and returns its value.
func (c *WaitableCell[T]) Wait() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.set {
		c.cv.Wait()
	}
	return c.v
}

// TryGet returns the cell's value and true if it has been set, or the
// zero value and false otherwise. It never blocks.
func (c *WaitableCell[T]) TryGet() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v, c.set
}

type cellError string

func (e cellError) Error() string { return string(e) }

const errAlreadySet = cellError("waitable cell already set")
