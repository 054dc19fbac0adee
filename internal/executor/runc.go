// Package executor brings up the Linux side of a task: namespace
// entry, cgroup configuration, rootfs, and stdio, then either hands
// the process to runc (a native Linux payload) or runs it in-process
// through a wasm engine. Dispatch between the two is decided once per
// instance and cached.
package executor

import (
	"context"
	"syscall"

	runc "github.com/containerd/go-runc"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// runcRoot is the state directory runc keeps its container state
// under, mirroring containerd-shim-runc-v2's convention of nesting it
// by namespace under the shim's own root.
const runcRoot = "/run/containerd/wasm-shim"

// RuncExecutor drives a Linux container's lifecycle through the real
// runc binary via the go-runc client, the same wrapping approach the
// guest-side Linux runtime uses, minus the guest's relay/virtio
// plumbing which doesn't apply to a host-side shim.
type RuncExecutor struct {
	runc *runc.Runc
}

// NewRuncExecutor constructs a RuncExecutor that keeps its namespaced
// container state under root/<namespace>.
func NewRuncExecutor(namespace string) *RuncExecutor {
	return &RuncExecutor{
		runc: &runc.Runc{
			Root:    runcRoot + "/" + namespace,
			Command: "runc",
			Log:     "",
		},
	}
}

// Create runs `runc create` for a bundle prepared at bundlePath,
// returning once the container's init process exists but before it
// has started running its entrypoint.
func (e *RuncExecutor) Create(ctx context.Context, id, bundlePath string, io runc.IO) error {
	opts := &runc.CreateOpts{
		IO:      io,
		NoPivot: false,
	}
	return e.runc.Create(ctx, id, bundlePath, opts)
}

// Start runs `runc start`, transitioning the container's init process
// from created to running.
func (e *RuncExecutor) Start(ctx context.Context, id string) error {
	return e.runc.Start(ctx, id)
}

// Kill sends signal to the container's init process (or, if all is
// true, every process in the container).
func (e *RuncExecutor) Kill(ctx context.Context, id string, signal syscall.Signal, all bool) error {
	return e.runc.Kill(ctx, id, int(signal), &runc.KillOpts{All: all})
}

// Delete removes the container's on-disk runc state. force allows
// deleting a still-running container, matching the behavior the task
// service needs for an unclean shutdown.
func (e *RuncExecutor) Delete(ctx context.Context, id string, force bool) error {
	return e.runc.Delete(ctx, id, &runc.DeleteOpts{Force: force})
}

// Update applies new resource limits to a running container via `runc
// update`, which performs its own v1/v2 cgroup hierarchy translation;
// callers pass the OCI spec's resources unchanged rather than through
// [ToCgroupResources].
func (e *RuncExecutor) Update(ctx context.Context, id string, resources *specs.LinuxResources) error {
	return e.runc.Update(ctx, id, resources)
}

// State returns runc's view of the container, including its init
// process's pid and status string ("created", "running", "stopped").
func (e *RuncExecutor) State(ctx context.Context, id string) (*runc.Container, error) {
	return e.runc.State(ctx, id)
}

// ExitCode translates a [syscall.WaitStatus] into the exit code
// containerd expects: the process's exit status if it exited
// normally, or 128+signal if a signal terminated it, matching the
// convention used throughout the rest of the containerd shim
// ecosystem.
func ExitCode(ws syscall.WaitStatus) uint32 {
	if ws.Signaled() {
		return uint32(128 + int(ws.Signal()))
	}
	return uint32(ws.ExitStatus())
}
