package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	eventstypes "github.com/containerd/containerd/api/events"
	task "github.com/containerd/containerd/api/runtime/task/v2"
	"github.com/containerd/containerd/api/types"
	containerdtypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/runtime"
	"github.com/containerd/containerd/v2/pkg/namespaces"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	typeurl "github.com/containerd/typeurl/v2"
	"github.com/opencontainers/runtime-spec/specs-go"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/containerd/wasm-shim/internal/executor"
	"github.com/containerd/wasm-shim/internal/runtimectx"
	"github.com/containerd/wasm-shim/internal/stats"
	itask "github.com/containerd/wasm-shim/internal/task"
)

var empty = &emptypb.Empty{}

var decider = executor.NewDecideOnce()

func (s *service) getPod() (*pod, error) {
	raw := s.taskOrPod.Load()
	if raw == nil {
		return nil, fmt.Errorf("shim for %q must be created first: %w", s.tid, errdefs.ErrFailedPrecondition)
	}
	return podFrom(raw)
}

func (s *service) getTask(tid string) (*hostedTask, error) {
	raw := s.taskOrPod.Load()
	if raw == nil {
		return nil, fmt.Errorf("task %q not found: %w", tid, errdefs.ErrNotFound)
	}
	if s.isSandbox {
		p, err := podFrom(raw)
		if err != nil {
			return nil, err
		}
		return p.GetTask(tid)
	}
	if s.tid != tid {
		return nil, fmt.Errorf("task %q not found: %w", tid, errdefs.ErrNotFound)
	}
	return raw.(*hostedTask), nil
}

func (s *service) stateInternal(ctx context.Context, req *task.StateRequest) (*task.StateResponse, error) {
	t, err := s.getTask(req.ID)
	if err != nil {
		return nil, err
	}
	return t.stateResponse(), nil
}

func (t *hostedTask) stateResponse() *task.StateResponse {
	resp := &task.StateResponse{
		ID:     t.id,
		Bundle: t.rc.Bundle,
		Pid:    uint32(t.inst.Pid),
		Status: statusFor(t.inst.Machine.Current()),
	}
	if status, ok := t.inst.TryExitStatus(); ok {
		resp.ExitStatus = status.Code
		resp.ExitedAt = timestamppb.New(status.ExitedAt)
	}
	return resp
}

func statusFor(s itask.State) containerdtypes.Status {
	switch s {
	case itask.StateCreated:
		return containerdtypes.Status_CREATED
	case itask.StateStarting:
		return containerdtypes.Status_CREATED
	case itask.StateStarted:
		return containerdtypes.Status_RUNNING
	case itask.StateExited:
		return containerdtypes.Status_STOPPED
	default:
		return containerdtypes.Status_UNKNOWN
	}
}

func (s *service) createInternal(ctx context.Context, req *task.CreateTaskRequest) (*task.CreateTaskResponse, error) {
	shimOpts, err := decodeOptions(req.Options)
	if err != nil {
		return nil, fmt.Errorf("decoding options: %w", err)
	}
	if entry := log.G(ctx); shimOpts != nil {
		entry.WithField("options", log.Format(ctx, shimOpts)).Debug("parsed shim options")
	}

	spec, err := readSpec(req.Bundle)
	if err != nil {
		return nil, err
	}

	rootfs := filepath.Join(req.Bundle, "rootfs")
	if len(req.Rootfs) > 0 {
		if err := os.MkdirAll(rootfs, 0o711); err != nil {
			return nil, fmt.Errorf("creating rootfs dir: %w", err)
		}
		if err := executor.PrepareRootfs(executor.ToMounts(req.Rootfs), rootfs); err != nil {
			return nil, err
		}
	}

	rc, err := runtimectx.NewRuntimeContext(spec, req.Bundle, rootfs)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.containers != nil {
		if err := s.resolveWasmSource(ctx, req.ID, rc); err != nil {
			log.G(ctx).WithError(err).Warn("resolving wasm layers from image, falling back to rootfs entrypoint")
		}
	}

	s.cl.Lock()
	defer s.cl.Unlock()

	if s.taskOrPod.Load() == nil && req.ID != s.tid {
		return nil, fmt.Errorf("shim for %q cannot create %q as its first task: %w", s.tid, req.ID, errdefs.ErrInvalidArgument)
	}

	if s.isSandbox && rc.IsSandbox() && rc.SandboxID == req.ID {
		// This is the sandbox/pause task itself: it establishes the pod.
		if s.taskOrPod.Load() != nil {
			return nil, fmt.Errorf("shim already tracking %q: %w", s.tid, errdefs.ErrAlreadyExists)
		}
		p := newPod(req.ID)
		ht := newHostedTask(req.ID, rc, s.engine, executor.NewRuncExecutor(namespaceOf(ctx)))
		ht.stdio = executor.StdioPaths{Stdin: req.Stdin, Stdout: req.Stdout, Stderr: req.Stderr}
		if shimOpts != nil && shimOpts.PrecompileCache {
			ht.cache = s.cache
		}
		if err := p.AddTask(req.ID, ht); err != nil {
			return nil, err
		}
		s.taskOrPod.Store(p)
		return &task.CreateTaskResponse{Pid: uint32(os.Getpid())}, nil
	}

	if s.isSandbox {
		p, err := s.getPod()
		if err != nil {
			return nil, err
		}
		ht := newHostedTask(req.ID, rc, s.engine, executor.NewRuncExecutor(namespaceOf(ctx)))
		ht.stdio = executor.StdioPaths{Stdin: req.Stdin, Stdout: req.Stdout, Stderr: req.Stderr}
		if shimOpts != nil && shimOpts.PrecompileCache {
			ht.cache = s.cache
		}
		if err := p.AddTask(req.ID, ht); err != nil {
			return nil, err
		}
		return &task.CreateTaskResponse{Pid: uint32(os.Getpid())}, nil
	}

	if s.taskOrPod.Load() != nil {
		return nil, fmt.Errorf("shim already tracking %q: %w", s.tid, errdefs.ErrAlreadyExists)
	}
	ht := newHostedTask(req.ID, rc, s.engine, executor.NewRuncExecutor(namespaceOf(ctx)))
	ht.stdio = executor.StdioPaths{Stdin: req.Stdin, Stdout: req.Stdout, Stderr: req.Stderr}
	if shimOpts != nil && shimOpts.PrecompileCache {
		ht.cache = s.cache
	}
	s.taskOrPod.Store(ht)
	return &task.CreateTaskResponse{Pid: uint32(os.Getpid())}, nil
}

// resolveWasmSource looks up id's container to find its image name,
// then asks the image cache to walk that image's manifest for wasm
// layers (spec.md §4.2 steps 1-2). When the image is a wasm image
// with at least one matching layer, rc's Source and WasmLayers are
// rewritten to point at the resolved layer instead of a rootfs file
// path, so startWasm reads the module through the cache rather than
// directly off disk.
func (s *service) resolveWasmSource(ctx context.Context, id string, rc *runtimectx.RuntimeContext) error {
	c, err := s.containers.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("getting container %s: %w", id, err)
	}
	if c.Image == "" {
		return nil
	}

	layers, err := s.cache.ResolveWasmLayers(ctx, c.Image, s.engine.SupportedLayerTypes())
	if err != nil {
		return fmt.Errorf("resolving wasm layers for %s: %w", c.Image, err)
	}
	if len(layers) == 0 {
		return nil
	}

	rc.WasmLayers = make([]runtimectx.WasmLayer, 0, len(layers))
	for _, l := range layers {
		rc.WasmLayers = append(rc.WasmLayers, runtimectx.WasmLayer{Digest: l.Digest.String(), MediaType: l.MediaType})
	}
	// A task's entrypoint names exactly one module; when the image
	// carries more than one wasm layer, the first in manifest order is
	// the one this task runs.
	rc.Source = runtimectx.Source{OciLayerDigest: layers[0].Digest.String()}
	return nil
}

func (s *service) startInternal(ctx context.Context, req *task.StartRequest) (*task.StartResponse, error) {
	t, err := s.getTask(req.ID)
	if err != nil {
		return nil, err
	}
	pid, err := t.Start(ctx, decider)
	if err != nil {
		return nil, err
	}
	if err := s.publish(ctx, runtime.TaskStartEventTopic, &eventstypes.TaskStart{ContainerID: t.id, Pid: uint32(pid)}); err != nil {
		log.G(ctx).WithError(err).Warn("publishing task start event")
	}
	return &task.StartResponse{Pid: uint32(pid)}, nil
}

func (s *service) deleteInternal(ctx context.Context, req *task.DeleteRequest) (*task.DeleteResponse, error) {
	t, err := s.getTask(req.ID)
	if err != nil {
		return nil, err
	}
	status, _ := t.inst.TryExitStatus()
	if err := t.Delete(ctx); err != nil {
		return nil, err
	}

	if s.isSandbox {
		p, err := s.getPod()
		if err == nil {
			p.RemoveTask(req.ID)
		}
	} else {
		s.taskOrPod.Store((*hostedTask)(nil))
	}

	if err := s.publish(ctx, runtime.TaskDeleteEventTopic, &eventstypes.TaskDelete{
		ContainerID: t.id,
		Pid:         uint32(t.inst.Pid),
		ExitStatus:  status.Code,
		ExitedAt:    timestamppb.New(status.ExitedAt),
	}); err != nil {
		log.G(ctx).WithError(err).Warn("publishing task delete event")
	}

	return &task.DeleteResponse{
		Pid:        uint32(t.inst.Pid),
		ExitStatus: status.Code,
		ExitedAt:   timestamppb.New(status.ExitedAt),
	}, nil
}

func (s *service) pidsInternal(ctx context.Context, req *task.PidsRequest) (*task.PidsResponse, error) {
	t, err := s.getTask(req.ID)
	if err != nil {
		return nil, err
	}
	return &task.PidsResponse{Processes: []*containerdtypes.ProcessInfo{{Pid: uint32(t.inst.Pid)}}}, nil
}

func (s *service) killInternal(ctx context.Context, req *task.KillRequest) error {
	t, err := s.getTask(req.ID)
	if err != nil {
		return err
	}
	return t.Kill(ctx, req.Signal, req.All)
}

func (s *service) closeIOInternal(ctx context.Context, req *task.CloseIORequest) error {
	_, err := s.getTask(req.ID)
	return err
}

func (s *service) waitInternal(ctx context.Context, req *task.WaitRequest) (*task.WaitResponse, error) {
	t, err := s.getTask(req.ID)
	if err != nil {
		return nil, err
	}
	status, err := t.inst.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &task.WaitResponse{ExitStatus: status.Code, ExitedAt: timestamppb.New(status.ExitedAt)}, nil
}

func (s *service) updateInternal(ctx context.Context, req *task.UpdateTaskRequest) error {
	if req.Resources == nil {
		return fmt.Errorf("resources cannot be empty: %w", errdefs.ErrInvalidArgument)
	}
	t, err := s.getTask(req.ID)
	if err != nil {
		return err
	}
	if t.target != executor.TargetLinux {
		// A wasm entrypoint dispatched in-process has no cgroup of its
		// own for resource limits to apply to.
		return nil
	}
	v, err := typeurl.UnmarshalAny(req.Resources)
	if err != nil {
		return fmt.Errorf("decoding updated resources: %w", err)
	}
	resources, ok := v.(*specs.LinuxResources)
	if !ok {
		return fmt.Errorf("updated resources payload is %T, not *specs.LinuxResources: %w", v, errdefs.ErrInvalidArgument)
	}
	return t.runc.Update(ctx, t.id, resources)
}

func (s *service) statsInternal(ctx context.Context, req *task.StatsRequest) (*task.StatsResponse, error) {
	t, err := s.getTask(req.ID)
	if err != nil {
		return nil, err
	}
	if t.target != executor.TargetLinux || t.rc.CgroupsPath == "" {
		// Wasm entrypoints dispatched in-process have no cgroup of
		// their own to report stats for.
		return &task.StatsResponse{}, nil
	}

	m, err := stats.NewReader(t.rc.CgroupsPath, t.rc.Unified).Read()
	if err != nil {
		return nil, fmt.Errorf("reading cgroup stats: %w", err)
	}

	var metrics interface{}
	if t.rc.Unified {
		metrics = m.ToV2()
	} else {
		metrics = m.ToV1()
	}
	a, err := typeurl.MarshalAny(metrics)
	if err != nil {
		return nil, fmt.Errorf("marshaling cgroup stats: %w", err)
	}
	return &task.StatsResponse{Stats: &types.Any{TypeUrl: a.GetTypeUrl(), Value: a.GetValue()}}, nil
}

func (s *service) connectInternal(ctx context.Context, req *task.ConnectRequest) (*task.ConnectResponse, error) {
	t, err := s.getTask(req.ID)
	if err != nil {
		return nil, err
	}
	return &task.ConnectResponse{
		ShimPid: uint32(os.Getpid()),
		TaskPid: uint32(t.inst.Pid),
	}, nil
}

func (s *service) publish(ctx context.Context, topic string, ev interface{}) error {
	if s.events == nil {
		return nil
	}
	return s.events.Publish(ctx, topic, ev)
}

func namespaceOf(ctx context.Context) string {
	ns, ok := namespaces.Namespace(ctx)
	if !ok || ns == "" {
		return "default"
	}
	return ns
}

func readSpec(bundle string) (*specs.Spec, error) {
	f, err := os.Open(filepath.Join(bundle, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("opening config.json: %w", err)
	}
	defer f.Close()
	var spec specs.Spec
	if err := json.NewDecoder(f).Decode(&spec); err != nil {
		return nil, fmt.Errorf("decoding config.json: %w", err)
	}
	return &spec, nil
}
