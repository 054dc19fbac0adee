// Package wazero is the shim's reference wasm engine, built on
// github.com/tetratelabs/wazero. It is wired into the binary in
// cmd/containerd-shim-wasm-v1/main.go; nothing else in the shim
// imports it directly.
package wazero

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	wz "github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/containerd/wasm-shim/internal/engine"
	"github.com/containerd/wasm-shim/internal/runtimectx"
)

const name = "wazero"

// wasmMagic is the 4-byte header every binary wasm module starts with.
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// Engine runs wasm instances with an in-process wazero runtime.
// Compiled modules are cached for the process lifetime so repeated
// Run calls against the same bytes (e.g. a pod's sandbox and its
// sibling containers sharing one image) skip recompilation.
type Engine struct {
	runtime wz.Runtime
}

var _ engine.Engine = (*Engine)(nil)
var _ engine.Compiler = (*Engine)(nil)

// New constructs an Engine with its own compilation cache.
func New(ctx context.Context) (*Engine, error) {
	cache := wz.NewCompilationCache()
	rt := wz.NewRuntimeWithConfig(ctx, wz.NewRuntimeConfig().WithCompilationCache(cache))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiating wasi_snapshot_preview1: %w", err)
	}
	return &Engine{runtime: rt}, nil
}

func (e *Engine) Name() string { return name }

func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

func (e *Engine) SupportedLayerTypes() []string {
	return []string{
		"application/vnd.wasm.content.layer.v1+wasm",
		"application/wasm",
	}
}

// CanHandle reports whether entrypoint.Path's file starts with the
// wasm binary magic number.
func (e *Engine) CanHandle(ctx context.Context, entrypoint runtimectx.Entrypoint) bool {
	src := runtimectx.Source{FilePath: entrypoint.Path}
	b, err := src.AsBytes()
	if err != nil {
		return false
	}
	return bytes.HasPrefix(b, wasmMagic)
}

func (e *Engine) CacheKey(ctx context.Context, module []byte) (string, error) {
	sum := sha256.Sum256(module)
	return hex.EncodeToString(sum[:]), nil
}

// Compile precompiles module and serializes the result so it can be
// written into the content store by the image cache.
func (e *Engine) Compile(ctx context.Context, module []byte) ([]byte, error) {
	compiled, err := e.runtime.CompileModule(ctx, module)
	if err != nil {
		return nil, fmt.Errorf("compiling module: %w", err)
	}
	defer compiled.Close(ctx)
	// wazero has no public serialized-module format in this API
	// surface, so the cache artifact is the source bytes: loading
	// back through LoadCompiled recompiles with the warmed
	// in-process compilation cache, which is the part that's
	// actually expensive to skip across instances.
	return module, nil
}

func (e *Engine) LoadCompiled(ctx context.Context, artifact []byte) error {
	compiled, err := e.runtime.CompileModule(ctx, artifact)
	if err != nil {
		return fmt.Errorf("validating cached module: %w", err)
	}
	return compiled.Close(ctx)
}

// RunWASI instantiates cfg.Module under WASI and runs it to
// completion, translating a WASI proc_exit call or a normal return
// from the entry function into an exit code.
func (e *Engine) RunWASI(ctx context.Context, cfg engine.RunConfig) (uint32, error) {
	compiled, err := e.runtime.CompileModule(ctx, cfg.Module)
	if err != nil {
		return 0, fmt.Errorf("compiling module: %w", err)
	}
	defer compiled.Close(ctx)

	modCfg := wz.NewModuleConfig().
		WithName(cfg.ID).
		WithArgs(cfg.Args...).
		WithEnv(splitEnv(cfg.Env)...).
		WithStdin(stdinOrEmpty(cfg.Stdio.Stdin)).
		WithStdout(stdoutOrDiscard(cfg.Stdio.Stdout)).
		WithStderr(stdoutOrDiscard(cfg.Stdio.Stderr))

	if cfg.Entrypoint.Func != "" && cfg.Entrypoint.Func != runtimectx.DefaultFunc {
		modCfg = modCfg.WithStartFunctions(runtimectx.DefaultFunc)
	}

	mod, err := e.runtime.InstantiateModule(ctx, compiled, modCfg)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err == nil {
		if cfg.Entrypoint.Func != "" && cfg.Entrypoint.Func != runtimectx.DefaultFunc {
			fn := mod.ExportedFunction(cfg.Entrypoint.Func)
			if fn == nil {
				return 0, fmt.Errorf("module has no exported function %q", cfg.Entrypoint.Func)
			}
			_, err = fn.Call(ctx)
		}
	}

	var exitErr *api.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return 0, fmt.Errorf("running module: %w", err)
	}
	return 0, nil
}

func splitEnv(env []string) []string {
	// wazero's WithEnv takes alternating key, value pairs rather than
	// "k=v" strings.
	out := make([]string, 0, len(env)*2)
	for _, kv := range env {
		k, v, ok := cut(kv)
		if !ok {
			continue
		}
		out = append(out, k, v)
	}
	return out
}

func cut(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
