package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sync"

	"github.com/containerd/wasm-shim/internal/engine"
	"github.com/containerd/wasm-shim/internal/runtimectx"
)

// Target is the dispatch decision for a single instance: run it as a
// native Linux process under runc, or run it in-process through a
// wasm engine.
type Target int

const (
	// TargetCantHandle means neither runc nor the linked engine claim
	// the entrypoint. DecideOnce never returns this to its caller: it
	// is remapped to TargetSandbox before being cached and handed back.
	TargetCantHandle Target = iota
	TargetLinux
	TargetWasm
	// TargetSandbox means the instance becomes a no-op sandbox-role
	// task: there is no process or in-process engine run backing it,
	// only a synthetic exit status a Kill resolves directly.
	TargetSandbox
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}
var shebang = []byte{'#', '!'}

// Decide chooses a Target for rc, consulting eng only when the
// entrypoint is not sourced from an OCI wasm layer: a layer-sourced
// module is unconditionally wasm, since there is no rootfs path for
// runc to exec.
//
// The decision is cached per instance id by the caller; Decide itself
// is cheap enough (a PATH lookup and a few header bytes) that no
// internal caching is needed here.
func Decide(ctx context.Context, eng engine.Engine, rc *runtimectx.RuntimeContext) (Target, error) {
	if rc.Source.IsOCI() {
		return TargetWasm, nil
	}

	if isLinuxExecutable(rc.Entrypoint.Path) {
		return TargetLinux, nil
	}
	if eng.CanHandle(ctx, rc.Entrypoint) {
		return TargetWasm, nil
	}
	return TargetCantHandle, nil
}

// isLinuxExecutable reports whether path names a file on PATH (or an
// absolute/relative path directly) that is executable and looks like
// a native Linux binary: an ELF header, or a "#!" interpreter line.
func isLinuxExecutable(path string) bool {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return false
	}
	f, err := os.Open(resolved)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Mode()&0o111 == 0 {
		return false
	}

	header := make([]byte, 4)
	n, _ := f.Read(header)
	header = header[:n]
	return bytes.HasPrefix(header, elfMagic) || bytes.HasPrefix(header, shebang)
}

// once caches a Target decision per instance id for the lifetime of a
// shim process.
type once struct {
	mu sync.Mutex
	m  map[string]Target
}

func newOnce() *once { return &once{m: map[string]Target{}} }

func (o *once) get(id string) (Target, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.m[id]
	return t, ok
}

func (o *once) set(id string, t Target) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.m[id] = t
}

// DecideOnce wraps Decide with an id-keyed cache so a pod's repeated
// queries about the same instance (e.g. state vs start) never
// re-sniff the filesystem or re-run CanHandle.
type DecideOnce struct {
	cache *once
}

func NewDecideOnce() *DecideOnce {
	return &DecideOnce{cache: newOnce()}
}

// Decide returns the cached Target for id, computing and caching it on
// first call. A payload neither runc nor the engine can handle becomes
// TargetSandbox rather than an error: per spec, an instance whose
// engine cannot handle the payload becomes a no-op sandbox-role task
// instead of failing create/start outright.
func (d *DecideOnce) Decide(ctx context.Context, eng engine.Engine, id string, rc *runtimectx.RuntimeContext) (Target, error) {
	if t, ok := d.cache.get(id); ok {
		return t, nil
	}
	t, err := Decide(ctx, eng, rc)
	if err != nil {
		return TargetCantHandle, err
	}
	if t == TargetCantHandle {
		t = TargetSandbox
	}
	d.cache.set(id, t)
	return t, nil
}
