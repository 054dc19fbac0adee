// Package engine defines the contract a concrete wasm runtime
// implements to be pluggable into the shim. The shim links exactly one
// engine into its binary (see internal/engine/wazero for the reference
// implementation); there is no runtime plugin loading.
package engine

import (
	"context"
	"io"

	"github.com/containerd/wasm-shim/internal/runtimectx"
)

// Stdio carries the three standard streams a running instance's
// process should be wired to. A nil stream is redirected to /dev/null,
// matching the dup2 behavior containerd's own shims use for detached
// tasks.
type Stdio struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// RunConfig is everything an engine needs to run a single wasm
// instance: the resolved module bytes, the entry function to invoke,
// the process's argv/envp, and its stdio.
type RunConfig struct {
	ID         string
	Entrypoint runtimectx.Entrypoint
	Module     []byte
	Args       []string
	Env        []string
	Stdio      Stdio
}

// Engine is the narrow surface a wasm runtime must implement.
// CanHandle is used by the container executor's dispatch decision,
// SupportedLayerTypes by the image cache's layer scan, and Name in the
// precompile label; RunWASI executes an instance to completion.
type Engine interface {
	// Name identifies the engine, e.g. for the precompile content
	// label "runwasi.io/precompiled/<name>/<cache-key>".
	Name() string

	// CanHandle reports whether this engine is able to execute the
	// module at entrypoint.Path. It must not have side effects beyond
	// reading the file to sniff its format.
	CanHandle(ctx context.Context, entrypoint runtimectx.Entrypoint) bool

	// SupportedLayerTypes lists the OCI layer media types this engine
	// recognizes as wasm module content, consulted by the image cache
	// when scanning an image's layers.
	SupportedLayerTypes() []string

	// RunWASI runs cfg.Module to completion (or until ctx is
	// canceled), returning the process's exit code.
	RunWASI(ctx context.Context, cfg RunConfig) (uint32, error)
}

// Compiler is an optional capability an Engine may additionally
// implement: the ability to precompile a module ahead of run time and
// cache the result keyed by CacheKey. Engines that only support plain
// interpretation omit this interface.
type Compiler interface {
	// CacheKey returns a stable key identifying how module would be
	// compiled: engine version, target triple, optimization flags,
	// and any other input that changes the compiled output. Two calls
	// with equal engine configuration and equal module bytes must
	// return equal keys.
	CacheKey(ctx context.Context, module []byte) (string, error)

	// Compile compiles module into an engine-specific artifact
	// suitable for storage in the content store and later reload via
	// LoadCompiled.
	Compile(ctx context.Context, module []byte) ([]byte, error)

	// LoadCompiled prepares a previously compiled artifact for
	// execution, validating that it is still usable with the current
	// engine configuration.
	LoadCompiled(ctx context.Context, artifact []byte) error
}
