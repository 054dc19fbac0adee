package main

import (
	"github.com/containerd/containerd/api/types"
	typeurl "github.com/containerd/typeurl/v2"
)

// Options is the shim-specific payload containerd attaches to a
// CreateTaskRequest when the runtime handler in containerd's config.toml
// names this shim and sets runtime_options. It is plain JSON rather than
// a generated proto message: typeurl marshals any registered type it
// doesn't recognize as a proto.Message through encoding/json instead.
type Options struct {
	// Engine selects the wasm engine by name when a shim process is
	// linked against more than one. Empty selects the shim's default.
	Engine string `json:"engine,omitempty"`

	// PrecompileCache, when true, persists compiled wasm artifacts into
	// the content store keyed off the source module's digest so later
	// creates of the same image skip recompilation.
	PrecompileCache bool `json:"precompile_cache,omitempty"`
}

func init() {
	typeurl.Register(&Options{}, "wasm-shim", "Options")
}

// decodeOptions unmarshals the shim options embedded in a
// CreateTaskRequest, if any. A nil or empty payload is not an error: it
// just means the defaults apply.
func decodeOptions(any *types.Any) (*Options, error) {
	if any == nil {
		return nil, nil
	}
	v, err := typeurl.UnmarshalAny(any)
	if err != nil {
		return nil, err
	}
	opts, ok := v.(*Options)
	if !ok {
		return nil, nil
	}
	return opts, nil
}
