package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/containerd/wasm-shim/internal/engine"
	"github.com/containerd/wasm-shim/internal/engine/enginetest"
	"github.com/containerd/wasm-shim/internal/executor"
	"github.com/containerd/wasm-shim/internal/runtimectx"
	"github.com/containerd/wasm-shim/internal/task"
)

func writeModuleFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "module-*.wasm")
	require.NoError(t, err)
	_, err = f.Write([]byte("\x00asm not a real module, just bytes the mock engine accepts"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func wasmRuntimeContext(t *testing.T) *runtimectx.RuntimeContext {
	path := writeModuleFile(t)
	return &runtimectx.RuntimeContext{
		Entrypoint: runtimectx.Entrypoint{Path: path, Func: runtimectx.DefaultFunc},
		Source:     runtimectx.Source{FilePath: path},
	}
}

// TestHostedTaskWasmLifecycle drives a task through Start, a graceful
// (ignored) signal, SIGKILL, and Delete against a mocked engine,
// exercising the same dispatch path createInternal/startInternal wire
// a real wasm entrypoint through without linking wazero.
func TestHostedTaskWasmLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	eng := enginetest.NewMockEngine(ctrl)
	eng.EXPECT().CanHandle(gomock.Any(), gomock.Any()).Return(true).AnyTimes()

	ran := make(chan struct{})
	eng.EXPECT().RunWASI(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, cfg engine.RunConfig) (uint32, error) {
			close(ran)
			<-ctx.Done()
			return 0, ctx.Err()
		},
	).Times(1)

	rc := wasmRuntimeContext(t)
	ht := newHostedTask("task-1", rc, eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pid, err := ht.Start(ctx, executor.NewDecideOnce())
	require.NoError(t, err)
	require.Equal(t, 0, pid, "wasm targets have no OS pid")
	require.Equal(t, executor.TargetWasm, ht.target)
	require.Equal(t, task.StateStarted, ht.inst.Machine.Current())

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("engine.RunWASI was never invoked")
	}

	require.NoError(t, ht.Kill(ctx, uint32(syscall.SIGTERM), false))
	require.Equal(t, task.StateStarted, ht.inst.Machine.Current(), "a non-kill signal must not tear down the instance")

	require.NoError(t, ht.Kill(ctx, uint32(syscall.SIGKILL), false))

	// Kill only cancels the run's context; the exit cell resolves once
	// the (mocked) engine run actually observes the cancellation and
	// returns, asynchronously to Kill itself.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	status, err := ht.inst.Wait(waitCtx)
	require.NoError(t, err)
	require.Equal(t, uint32(137), status.Code)
	require.Equal(t, task.StateExited, ht.inst.Machine.Current())

	require.NoError(t, ht.Delete(ctx))
	require.Equal(t, task.StateDeleting, ht.inst.Machine.Current())
}

// TestHostedTaskBecomesSandboxRoleWhenUnhandled exercises the
// TargetCantHandle path: neither runc (no ELF/shebang) nor the engine
// claims the entrypoint. Per spec this becomes a no-op sandbox-role
// instance rather than failing Start outright, and is killable like
// any other sandbox-role task.
func TestHostedTaskBecomesSandboxRoleWhenUnhandled(t *testing.T) {
	ctrl := gomock.NewController(t)
	eng := enginetest.NewMockEngine(ctrl)
	eng.EXPECT().CanHandle(gomock.Any(), gomock.Any()).Return(false).AnyTimes()

	rc := wasmRuntimeContext(t)
	ht := newHostedTask("task-2", rc, eng, nil)

	pid, err := ht.Start(context.Background(), executor.NewDecideOnce())
	require.NoError(t, err)
	require.Equal(t, 0, pid)
	require.Equal(t, executor.TargetSandbox, ht.target)
	require.Equal(t, task.StateStarted, ht.inst.Machine.Current())

	require.NoError(t, ht.Kill(context.Background(), uint32(syscall.SIGTERM), false))
	status, ok := ht.inst.TryExitStatus()
	require.True(t, ok)
	require.Equal(t, uint32(0), status.Code)
}
