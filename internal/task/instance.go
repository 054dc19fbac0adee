package task

import (
	"context"
	"time"

	"github.com/containerd/wasm-shim/internal/engine"
	"github.com/containerd/wasm-shim/internal/runtimectx"
	isync "github.com/containerd/wasm-shim/internal/sync"
)

// ExitStatus is the result an instance's Wait resolves to.
type ExitStatus struct {
	Code     uint32
	ExitedAt time.Time
}

// InstanceConfig is everything Create needs to construct an Instance:
// its id, the sandbox it belongs to (if any), and its normalized
// runtime context.
type InstanceConfig struct {
	ID        string
	SandboxID string
	Bundle    string
	Runtime   *runtimectx.RuntimeContext
}

// Instance is a single task's (or exec's) runtime state: its current
// lifecycle stage, its process id once started, and a cell that the
// supervisor goroutine resolves exactly once with the process's exit
// status.
type Instance struct {
	Config InstanceConfig
	Engine engine.Engine

	Machine *Machine
	Pid     int

	exit *isync.WaitableCell[ExitStatus]
}

// NewInstance constructs an Instance in StateCreated with an unset
// exit cell.
func NewInstance(cfg InstanceConfig, eng engine.Engine) *Instance {
	return &Instance{
		Config:  cfg,
		Engine:  eng,
		Machine: NewMachine(),
		exit:    isync.NewWaitableCell[ExitStatus](),
	}
}

// SetExited records an instance's exit status exactly once and
// transitions its state machine to StateExited. Calling it twice for
// the same instance is a logic error in the caller.
func (i *Instance) SetExited(status ExitStatus) error {
	if err := i.exit.Set(status); err != nil {
		return err
	}
	return i.Machine.Transition(StateExited)
}

// Wait blocks until the instance has exited and returns its status.
// Multiple concurrent callers (e.g. a CRI sandbox's own wait plus a
// client's) all observe the same status.
func (i *Instance) Wait(ctx context.Context) (ExitStatus, error) {
	type result struct {
		status ExitStatus
	}
	done := make(chan result, 1)
	go func() { done <- result{i.exit.Wait()} }()

	select {
	case r := <-done:
		return r.status, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// TryExitStatus returns the instance's exit status without blocking,
// for the Stats/State RPCs which must never wait on a running task.
func (i *Instance) TryExitStatus() (ExitStatus, bool) {
	return i.exit.TryGet()
}
