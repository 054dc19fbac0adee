package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/containerd/containerd/v2/core/content"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// wasmArchitecture is the image config "architecture" field value that
// marks an image as a wasm workload rather than a native one, matching
// the convention wasm-oci images publish under (e.g. via buildkit's
// "wasm" platform).
const wasmArchitecture = "wasm"

// ResolveWasmLayers reads imageName's manifest and config out of the
// content store and returns the layers whose media type is in
// supportedMediaTypes, in manifest order. If the image config's
// platform is not wasm, ResolveWasmLayers returns no layers (and no
// error) so the caller falls back to the native dispatch path.
// imageName must already be a single-platform manifest; image indexes
// are not descended into, matching the cache's single-payload scope.
func (c *Cache) ResolveWasmLayers(ctx context.Context, imageName string, supportedMediaTypes []string) ([]Layer, error) {
	img, err := c.images.Get(ctx, imageName)
	if err != nil {
		return nil, fmt.Errorf("getting image %s: %w", imageName, err)
	}

	b, err := content.ReadBlob(ctx, c.content, img.Target)
	if err != nil {
		return nil, fmt.Errorf("reading manifest for %s: %w", imageName, err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(b, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshaling manifest for %s: %w", imageName, err)
	}

	cfg, err := content.ReadBlob(ctx, c.content, manifest.Config)
	if err != nil {
		return nil, fmt.Errorf("reading image config for %s: %w", imageName, err)
	}
	var image ocispec.Image
	if err := json.Unmarshal(cfg, &image); err != nil {
		return nil, fmt.Errorf("unmarshaling image config for %s: %w", imageName, err)
	}
	if image.Architecture != wasmArchitecture {
		return nil, nil
	}

	supported := make(map[string]bool, len(supportedMediaTypes))
	for _, mt := range supportedMediaTypes {
		supported[mt] = true
	}

	var layers []Layer
	for _, l := range manifest.Layers {
		if !supported[l.MediaType] {
			continue
		}
		layers = append(layers, Layer{
			Digest:      l.Digest,
			MediaType:   l.MediaType,
			Size:        l.Size,
			ImageDigest: img.Target.Digest,
		})
	}
	return layers, nil
}
