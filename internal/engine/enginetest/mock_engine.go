// Package enginetest provides a gomock-based Engine double, in the
// shape mockgen would generate for engine.Engine, for tests that need
// to observe or control RunWASI without linking a real wasm runtime.
package enginetest

import (
	"context"
	"reflect"

	"go.uber.org/mock/gomock"

	"github.com/containerd/wasm-shim/internal/engine"
	"github.com/containerd/wasm-shim/internal/runtimectx"
)

// MockEngine is a gomock double for engine.Engine.
type MockEngine struct {
	ctrl     *gomock.Controller
	recorder *MockEngineMockRecorder
}

// MockEngineMockRecorder records expected calls on a MockEngine.
type MockEngineMockRecorder struct {
	mock *MockEngine
}

// NewMockEngine constructs a MockEngine bound to ctrl.
func NewMockEngine(ctrl *gomock.Controller) *MockEngine {
	m := &MockEngine{ctrl: ctrl}
	m.recorder = &MockEngineMockRecorder{mock: m}
	return m
}

// EXPECT returns the recorder used to set up expected calls.
func (m *MockEngine) EXPECT() *MockEngineMockRecorder {
	return m.recorder
}

func (m *MockEngine) Name() string {
	ret := m.ctrl.Call(m, "Name")
	name, _ := ret[0].(string)
	return name
}

func (mr *MockEngineMockRecorder) Name() *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Name", reflect.TypeOf((*MockEngine)(nil).Name))
}

func (m *MockEngine) CanHandle(ctx context.Context, ep runtimectx.Entrypoint) bool {
	ret := m.ctrl.Call(m, "CanHandle", ctx, ep)
	ok, _ := ret[0].(bool)
	return ok
}

func (mr *MockEngineMockRecorder) CanHandle(ctx, ep interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "CanHandle", reflect.TypeOf((*MockEngine)(nil).CanHandle), ctx, ep)
}

func (m *MockEngine) SupportedLayerTypes() []string {
	ret := m.ctrl.Call(m, "SupportedLayerTypes")
	types, _ := ret[0].([]string)
	return types
}

func (mr *MockEngineMockRecorder) SupportedLayerTypes() *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SupportedLayerTypes", reflect.TypeOf((*MockEngine)(nil).SupportedLayerTypes))
}

func (m *MockEngine) RunWASI(ctx context.Context, cfg engine.RunConfig) (uint32, error) {
	ret := m.ctrl.Call(m, "RunWASI", ctx, cfg)
	code, _ := ret[0].(uint32)
	err, _ := ret[1].(error)
	return code, err
}

func (mr *MockEngineMockRecorder) RunWASI(ctx, cfg interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RunWASI", reflect.TypeOf((*MockEngine)(nil).RunWASI), ctx, cfg)
}
