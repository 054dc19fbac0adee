// Package runtimectx derives the shim's view of a single task from the
// OCI bundle containerd hands the shim: its entrypoint, the image
// layers backing it, the Kubernetes sandbox/container annotations, and
// the platform it targets. It plays the role the teacher's internal/oci
// package plays for HCS: reading [specs.Spec] into domain types so the
// rest of the shim never touches raw annotation strings.
package runtimectx

import (
	"fmt"
	"strings"
)

// DefaultFunc is the WASI entry function assumed when an Entrypoint's
// module reference does not carry an explicit "#func" suffix.
const DefaultFunc = "_start"

// Entrypoint identifies the wasm module and exported function a task
// runs, parsed from the grammar "<path>[#<func>]" found in the OCI
// spec's Process.Args[0].
type Entrypoint struct {
	Path string
	Func string
}

// ParseEntrypoint parses arg into an Entrypoint. An arg with no "#"
// resolves to DefaultFunc. A trailing bare "#" or a path-less "#func"
// is rejected.
func ParseEntrypoint(arg string) (Entrypoint, error) {
	path, fn, found := strings.Cut(arg, "#")
	if path == "" {
		return Entrypoint{}, fmt.Errorf("entrypoint %q: missing module path", arg)
	}
	if !found {
		return Entrypoint{Path: path, Func: DefaultFunc}, nil
	}
	if fn == "" {
		return Entrypoint{}, fmt.Errorf("entrypoint %q: empty function name after '#'", arg)
	}
	return Entrypoint{Path: path, Func: fn}, nil
}

func (e Entrypoint) String() string {
	if e.Func == "" || e.Func == DefaultFunc {
		return e.Path
	}
	return e.Path + "#" + e.Func
}
