package main

import (
	"context"
	"sync"
	"sync/atomic"

	task "github.com/containerd/containerd/api/runtime/task/v2"
	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/errdefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/containerd/wasm-shim/internal/cache"
	"github.com/containerd/wasm-shim/internal/engine"
	"github.com/containerd/wasm-shim/internal/events"
	"github.com/containerd/wasm-shim/internal/otelutil"
)

// ServiceOptions configures a service at construction time: the event
// sink it publishes to, the id of the task or pod it was launched to
// serve, and the engine it dispatches wasm entrypoints to.
type ServiceOptions struct {
	Events         events.Sender
	TID            string
	IsSandbox      bool
	Engine         engine.Engine
	TracerShutdown func(context.Context) error
	Cache          *cache.Cache
	Containers     containers.Store
}

type ServiceOption func(*ServiceOptions)

func WithEventSender(e events.Sender) ServiceOption {
	return func(o *ServiceOptions) { o.Events = e }
}

func WithTID(tid string) ServiceOption {
	return func(o *ServiceOptions) { o.TID = tid }
}

func WithIsSandbox(s bool) ServiceOption {
	return func(o *ServiceOptions) { o.IsSandbox = s }
}

func WithEngine(e engine.Engine) ServiceOption {
	return func(o *ServiceOptions) { o.Engine = e }
}

// WithTracerShutdown registers the flush/close of the process-wide
// TracerProvider main wired up, so the shim's own Shutdown RPC drains
// any buffered spans before the process exits.
func WithTracerShutdown(f func(context.Context) error) ServiceOption {
	return func(o *ServiceOptions) { o.TracerShutdown = f }
}

// WithCache wires a precompile cache backed by a real containerd
// client connection; nil disables precompilation for every task this
// service creates regardless of what an individual Create requests.
func WithCache(c *cache.Cache) ServiceOption {
	return func(o *ServiceOptions) { o.Cache = c }
}

// WithContainers wires the containers service Create's image cache
// lookup uses to resolve a task's container id to the image name
// ResolveWasmLayers needs.
func WithContainers(c containers.Store) ServiceOption {
	return func(o *ServiceOptions) { o.Containers = c }
}

// service is the shim's ttrpc Task API v2 implementation. One service
// instance exists per shim process, and serves either a single task or
// (when isSandbox is true) a CRI pod's sandbox task plus every
// workload container task created against the same pod id.
type service struct {
	events events.Sender
	engine engine.Engine

	// tid is the id this shim was launched to serve: either a single
	// task, or a pod's sandbox id if isSandbox is true. The first
	// Create call must match this id.
	tid string
	// isSandbox allows multiple Create calls against the same pod id,
	// one per workload container, instead of rejecting all but the
	// first.
	isSandbox bool

	// taskOrPod holds the *pod (isSandbox) or *hostedTask (otherwise)
	// this shim is tracking. Nil until the first Create call.
	taskOrPod atomic.Value

	// cl serializes Create calls: it is held for the call that
	// establishes taskOrPod and for every workload container created
	// into an existing pod.
	cl sync.Mutex

	shutdown     chan struct{}
	shutdownOnce sync.Once

	tracerShutdown func(context.Context) error
	cache          *cache.Cache
	containers     containers.Store
}

var _ task.TaskService = (*service)(nil)

// NewService constructs a service from the given options.
func NewService(o ...ServiceOption) (*service, error) {
	var opts ServiceOptions
	for _, op := range o {
		op(&opts)
	}
	return &service{
		events:         opts.Events,
		engine:         opts.Engine,
		tid:            opts.TID,
		isSandbox:      opts.IsSandbox,
		shutdown:       make(chan struct{}),
		tracerShutdown: opts.TracerShutdown,
		cache:          opts.Cache,
		containers:     opts.Containers,
	}, nil
}

func (s *service) Done() <-chan struct{} { return s.shutdown }

func (s *service) IsShutdown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

func (s *service) State(ctx context.Context, req *task.StateRequest) (resp *task.StateResponse, err error) {
	ctx, span := otelutil.StartSpan(ctx, "State", trace.WithAttributes(
		attribute.String("tid", req.ID),
		attribute.String("eid", req.ExecID)))
	defer span.End()
	defer func() { otelutil.SetSpanStatus(span, err) }()
	if s.isSandbox {
		span.SetAttributes(attribute.String("pod-id", s.tid))
	}

	r, e := s.stateInternal(ctx, req)
	return r, errdefs.ToGRPC(e)
}

func (s *service) Create(ctx context.Context, req *task.CreateTaskRequest) (resp *task.CreateTaskResponse, err error) {
	ctx, span := otelutil.StartSpan(ctx, "Create", trace.WithAttributes(
		attribute.String("tid", req.ID),
		attribute.String("bundle", req.Bundle),
		attribute.Bool("terminal", req.Terminal),
		attribute.String("stdin", req.Stdin),
		attribute.String("stdout", req.Stdout),
		attribute.String("stderr", req.Stderr)))
	defer span.End()
	defer func() {
		if resp != nil {
			span.SetAttributes(attribute.Int64("pid", int64(resp.Pid)))
		}
		otelutil.SetSpanStatus(span, err)
	}()
	if s.isSandbox {
		span.SetAttributes(attribute.String("pod-id", s.tid))
	}

	r, e := s.createInternal(ctx, req)
	return r, errdefs.ToGRPC(e)
}

func (s *service) Start(ctx context.Context, req *task.StartRequest) (resp *task.StartResponse, err error) {
	ctx, span := otelutil.StartSpan(ctx, "Start", trace.WithAttributes(
		attribute.String("tid", req.ID),
		attribute.String("eid", req.ExecID)))
	defer span.End()
	defer func() {
		if resp != nil {
			span.SetAttributes(attribute.Int64("pid", int64(resp.Pid)))
		}
		otelutil.SetSpanStatus(span, err)
	}()

	r, e := s.startInternal(ctx, req)
	return r, errdefs.ToGRPC(e)
}

func (s *service) Delete(ctx context.Context, req *task.DeleteRequest) (resp *task.DeleteResponse, err error) {
	ctx, span := otelutil.StartSpan(ctx, "Delete", trace.WithAttributes(
		attribute.String("tid", req.ID),
		attribute.String("eid", req.ExecID)))
	defer span.End()
	defer func() { otelutil.SetSpanStatus(span, err) }()

	r, e := s.deleteInternal(ctx, req)
	return r, errdefs.ToGRPC(e)
}

func (s *service) Pids(ctx context.Context, req *task.PidsRequest) (resp *task.PidsResponse, err error) {
	ctx, span := otelutil.StartSpan(ctx, "Pids", trace.WithAttributes(attribute.String("tid", req.ID)))
	defer span.End()
	defer func() { otelutil.SetSpanStatus(span, err) }()

	r, e := s.pidsInternal(ctx, req)
	return r, errdefs.ToGRPC(e)
}

func (s *service) Pause(ctx context.Context, req *task.PauseRequest) (*emptypb.Empty, error) {
	return nil, errdefs.ToGRPC(errdefs.ErrNotImplemented)
}

func (s *service) Resume(ctx context.Context, req *task.ResumeRequest) (*emptypb.Empty, error) {
	return nil, errdefs.ToGRPC(errdefs.ErrNotImplemented)
}

func (s *service) Checkpoint(ctx context.Context, req *task.CheckpointTaskRequest) (*emptypb.Empty, error) {
	return nil, errdefs.ToGRPC(errdefs.ErrNotImplemented)
}

func (s *service) Kill(ctx context.Context, req *task.KillRequest) (resp *emptypb.Empty, err error) {
	ctx, span := otelutil.StartSpan(ctx, "Kill", trace.WithAttributes(
		attribute.String("tid", req.ID),
		attribute.String("eid", req.ExecID),
		attribute.Int64("signal", int64(req.Signal)),
		attribute.Bool("all", req.All)))
	defer span.End()
	defer func() { otelutil.SetSpanStatus(span, err) }()

	e := s.killInternal(ctx, req)
	return &emptypb.Empty{}, errdefs.ToGRPC(e)
}

func (s *service) Exec(ctx context.Context, req *task.ExecProcessRequest) (*emptypb.Empty, error) {
	// exec into a running task is out of scope.
	return nil, errdefs.ToGRPC(errdefs.ErrNotImplemented)
}

func (s *service) ResizePty(ctx context.Context, req *task.ResizePtyRequest) (*emptypb.Empty, error) {
	// interactive terminals are out of scope.
	return nil, errdefs.ToGRPC(errdefs.ErrNotImplemented)
}

func (s *service) CloseIO(ctx context.Context, req *task.CloseIORequest) (resp *emptypb.Empty, err error) {
	ctx, span := otelutil.StartSpan(ctx, "CloseIO", trace.WithAttributes(attribute.String("tid", req.ID)))
	defer span.End()
	defer func() { otelutil.SetSpanStatus(span, err) }()

	e := s.closeIOInternal(ctx, req)
	return &emptypb.Empty{}, errdefs.ToGRPC(e)
}

func (s *service) Update(ctx context.Context, req *task.UpdateTaskRequest) (resp *emptypb.Empty, err error) {
	ctx, span := otelutil.StartSpan(ctx, "Update", trace.WithAttributes(attribute.String("tid", req.ID)))
	defer span.End()
	defer func() { otelutil.SetSpanStatus(span, err) }()

	e := s.updateInternal(ctx, req)
	return &emptypb.Empty{}, errdefs.ToGRPC(e)
}

func (s *service) Wait(ctx context.Context, req *task.WaitRequest) (resp *task.WaitResponse, err error) {
	ctx, span := otelutil.StartSpan(ctx, "Wait", trace.WithAttributes(
		attribute.String("tid", req.ID),
		attribute.String("eid", req.ExecID)))
	defer span.End()
	defer func() {
		if resp != nil {
			span.SetAttributes(attribute.Int64("exitStatus", int64(resp.ExitStatus)))
		}
		otelutil.SetSpanStatus(span, err)
	}()

	r, e := s.waitInternal(ctx, req)
	return r, errdefs.ToGRPC(e)
}

func (s *service) Stats(ctx context.Context, req *task.StatsRequest) (resp *task.StatsResponse, err error) {
	ctx, span := otelutil.StartSpan(ctx, "Stats", trace.WithAttributes(attribute.String("tid", req.ID)))
	defer span.End()
	defer func() { otelutil.SetSpanStatus(span, err) }()

	r, e := s.statsInternal(ctx, req)
	return r, errdefs.ToGRPC(e)
}

func (s *service) Connect(ctx context.Context, req *task.ConnectRequest) (resp *task.ConnectResponse, err error) {
	ctx, span := otelutil.StartSpan(ctx, "Connect", trace.WithAttributes(attribute.String("tid", req.ID)))
	defer span.End()
	defer func() { otelutil.SetSpanStatus(span, err) }()

	r, e := s.connectInternal(ctx, req)
	return r, errdefs.ToGRPC(e)
}

func (s *service) Shutdown(ctx context.Context, req *task.ShutdownRequest) (*emptypb.Empty, error) {
	s.shutdownOnce.Do(func() {
		if s.tracerShutdown != nil {
			_ = s.tracerShutdown(ctx)
		}
		close(s.shutdown)
	})
	return &emptypb.Empty{}, nil
}

// StartShim is called by containerd before the task API is ever
// dialed: it gives this process the chance to re-exec itself detached
// and hand back the ttrpc address a later `shim start` should connect
// to, or (as here) to just report its own address since there is
// nothing further to fork.
func (s *service) StartShim(ctx context.Context, opts shim.StartOpts) (string, error) {
	address, err := shim.SocketAddress(ctx, opts.Address, opts.ID, false)
	if err != nil {
		return "", err
	}
	return address, nil
}

// Cleanup is invoked when containerd wants this shim's resources torn
// down without an attached client (e.g. after a containerd restart
// finds an orphaned task). Engine-driven wasm tasks leave nothing on
// disk beyond the bundle containerd already owns, so this is a no-op
// beyond reporting an empty delete response.
func (s *service) Cleanup(ctx context.Context) (*task.DeleteResponse, error) {
	return &task.DeleteResponse{}, nil
}
