package main

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/log"
	digest "github.com/opencontainers/go-digest"

	"github.com/containerd/wasm-shim/internal/cache"
	"github.com/containerd/wasm-shim/internal/engine"
	"github.com/containerd/wasm-shim/internal/executor"
	"github.com/containerd/wasm-shim/internal/runtimectx"
	"github.com/containerd/wasm-shim/internal/signals"
	"github.com/containerd/wasm-shim/internal/task"
)

// hostedTask is a single instance's runtime wiring: its normalized
// spec, its dispatch target, and whichever of runc or the linked
// engine is actually driving its process.
type hostedTask struct {
	id string
	rc *runtimectx.RuntimeContext

	inst   *task.Instance
	target executor.Target

	runc   *executor.RuncExecutor
	engine engine.Engine

	// cache is nil unless the Create request asked for precompilation
	// and the shim process has a live connection to a content store to
	// cache artifacts in.
	cache *cache.Cache

	stdio executor.StdioPaths

	// cancelRun cancels a real wasm run's own context. It is nil for
	// every target but TargetWasm; Kill uses it instead of a synthetic
	// exit status, since a wasm task's exit cell must reflect whether
	// engine.RunWASI actually stopped running.
	cancelRun context.CancelFunc
}

func newHostedTask(id string, rc *runtimectx.RuntimeContext, eng engine.Engine, runcExec *executor.RuncExecutor) *hostedTask {
	return &hostedTask{
		id:     id,
		rc:     rc,
		inst:   task.NewInstance(task.InstanceConfig{ID: id, SandboxID: rc.SandboxID, Bundle: rc.Bundle, Runtime: rc}, eng),
		runc:   runcExec,
		engine: eng,
	}
}

// Start transitions the instance to starting, then to started, and
// launches the supervisor goroutine that will resolve its exit cell.
func (t *hostedTask) Start(ctx context.Context, decide *executor.DecideOnce) (pid int, err error) {
	if err := t.inst.Machine.Transition(task.StateStarting); err != nil {
		return 0, err
	}

	target, err := decide.Decide(ctx, t.engine, t.id, t.rc)
	if err != nil {
		return 0, err
	}
	t.target = target

	switch target {
	case executor.TargetLinux:
		pid, err = t.startLinux(ctx)
	case executor.TargetWasm:
		pid, err = t.startWasm(ctx)
	case executor.TargetSandbox:
		// No process and no in-process engine run back this instance;
		// it exists only to hold pod state until it is killed.
	default:
		return 0, fmt.Errorf("no runtime can handle entrypoint %s", t.rc.Entrypoint)
	}
	if err != nil {
		return 0, err
	}

	t.inst.Pid = pid
	return pid, t.inst.Machine.Transition(task.StateStarted)
}

func (t *hostedTask) startLinux(ctx context.Context) (int, error) {
	io, err := t.stdio.Open()
	if err != nil {
		return 0, err
	}
	if err := t.runc.Create(ctx, t.id, t.rc.Bundle, io); err != nil {
		return 0, fmt.Errorf("runc create: %w", err)
	}
	if err := t.runc.Start(ctx, t.id); err != nil {
		return 0, fmt.Errorf("runc start: %w", err)
	}
	st, err := t.runc.State(ctx, t.id)
	if err != nil {
		return 0, err
	}
	go t.superviseLinux(context.WithoutCancel(ctx))
	return st.Pid, nil
}

// superviseLinux polls runc's view of the container until it reports
// stopped, then resolves the instance's exit cell. Polling (rather
// than a wait4 on the child directly) matches go-runc's own model: the
// shim never forks the container's init process itself, runc does.
func (t *hostedTask) superviseLinux(ctx context.Context) {
	for {
		st, err := t.runc.State(ctx, t.id)
		if err != nil {
			t.inst.SetExited(task.ExitStatus{ExitedAt: time.Now()})
			return
		}
		if st.Status == "stopped" {
			t.inst.SetExited(task.ExitStatus{ExitedAt: time.Now()})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// loadModule returns the entrypoint's module bytes, resolving through
// the image cache when the source is an OCI layer rather than a plain
// rootfs file.
func (t *hostedTask) loadModule(ctx context.Context) ([]byte, error) {
	if t.rc.Source.IsOCI() {
		if t.cache == nil {
			return nil, fmt.Errorf("entrypoint is OCI-layer sourced but no image cache is wired")
		}
		return t.cache.ReadLayer(ctx, digest.Digest(t.rc.Source.OciLayerDigest))
	}
	return t.rc.Source.AsBytes()
}

func (t *hostedTask) startWasm(ctx context.Context) (int, error) {
	module, err := t.loadModule(ctx)
	if err != nil {
		return 0, err
	}

	layerDigest := digest.FromBytes(module)
	if t.rc.Source.IsOCI() {
		layerDigest = digest.Digest(t.rc.Source.OciLayerDigest)
	}

	if t.cache != nil {
		if compiler, ok := t.engine.(engine.Compiler); ok {
			layer := cache.Layer{Digest: layerDigest}
			artifact, cerr := t.cache.Precompile(ctx, compiler, t.engine.Name(), layer, module)
			if cerr != nil {
				log.G(ctx).WithError(cerr).Warn("precompile cache miss, running uncached")
			} else {
				module = artifact
			}
		}
	}

	stdio, err := t.stdio.OpenEngine()
	if err != nil {
		return 0, err
	}

	// The run's context must outlive the Start RPC: ctx is scoped to
	// that single ttrpc call and is canceled as soon as it returns, but
	// the engine run this launches keeps going long after. cancelRun
	// lets Kill stop it directly instead.
	runCtx, cancel := context.WithCancel(context.Background())
	t.cancelRun = cancel

	go func() {
		if err := executor.Isolate(t.rc.Namespaces, t.rc.CgroupsPath, t.rc.Resources, t.rc.Unified); err != nil {
			log.G(runCtx).WithError(err).Warn("isolating wasm task, running without full container isolation")
		}

		code, err := t.engine.RunWASI(runCtx, engine.RunConfig{
			ID:         t.id,
			Entrypoint: t.rc.Entrypoint,
			Module:     module,
			Stdio:      stdio,
		})
		if err != nil {
			code = 137
		}
		t.inst.SetExited(task.ExitStatus{Code: code, ExitedAt: time.Now()})
	}()
	// The wasm path runs in-process, so there is no OS pid; the task
	// reports a pid of 0.
	return 0, nil
}

// Kill delivers sig to the instance. The three dispatch targets are
// killed three different ways: a Linux process through runc, a
// sandbox-role instance by resolving a synthetic exit status directly
// (there is no process or engine run behind it to signal), and a real
// wasm run by canceling its context so engine.RunWASI actually stops
// and its own completion resolves the exit cell.
func (t *hostedTask) Kill(ctx context.Context, sig uint32, all bool) error {
	s, err := signals.Validate(sig)
	if err != nil {
		return err
	}

	switch t.target {
	case executor.TargetLinux:
		return t.runc.Kill(ctx, t.id, s, all)
	case executor.TargetSandbox:
		if signals.ShouldKill(sig) {
			return t.inst.SetExited(task.ExitStatus{Code: 137, ExitedAt: time.Now()})
		}
		return t.inst.SetExited(task.ExitStatus{Code: 0, ExitedAt: time.Now()})
	case executor.TargetWasm:
		if signals.ShouldKill(sig) && t.cancelRun != nil {
			t.cancelRun()
		}
		return nil
	default:
		return nil
	}
}

func (t *hostedTask) Delete(ctx context.Context) error {
	if err := t.inst.Machine.Transition(task.StateDeleting); err != nil {
		return err
	}
	if t.target == executor.TargetLinux {
		if err := t.runc.Delete(ctx, t.id, true); err != nil {
			// Back out to Exited so a retried delete is a valid
			// transition instead of a machine stuck in Deleting.
			_ = t.inst.Machine.Transition(task.StateExited)
			return err
		}
	}
	if t.rc.Rootfs != "" {
		_ = executor.CleanupRootfs(t.rc.Rootfs)
	}
	return nil
}
