package runtimectx

import (
	"fmt"
	"os"
)

// Source is where an Entrypoint's module bytes come from: a path
// inside the rootfs the bundle already mounted, or an OCI image layer
// whose bytes the image cache reads out of the content store.
type Source struct {
	// FilePath is set when the module is a plain file already present
	// in the container's rootfs (e.g. baked into the image's base
	// layer, or bind-mounted in).
	FilePath string

	// OciLayerDigest is set when the module must be located through
	// the image and compilation cache by the digest of the layer that
	// provides it. Mutually exclusive with FilePath.
	OciLayerDigest string
}

// IsOCI reports whether the source must be resolved through the image
// cache rather than read directly off the rootfs.
func (s Source) IsOCI() bool {
	return s.OciLayerDigest != ""
}

// AsBytes returns the module's contents when the source is a plain
// file. Multi-layer / OCI-resolved sources are rejected: a component
// is only ever handed a single compiled payload, never a set of
// candidate layers to disambiguate between.
func (s Source) AsBytes() ([]byte, error) {
	if s.IsOCI() {
		return nil, fmt.Errorf("source resolves through the image cache, not directly from bytes")
	}
	if s.FilePath == "" {
		return nil, fmt.Errorf("source has no file path")
	}
	return os.ReadFile(s.FilePath)
}
