package cache

import (
	"context"
	"encoding/json"
	"testing"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"

	"github.com/containerd/wasm-shim/internal/cache/cachetest"
)

func putWasmConfig(t *testing.T, store *cachetest.Store) ocispec.Descriptor {
	t.Helper()
	cfg := ocispec.Image{Platform: ocispec.Platform{Architecture: "wasm", OS: "wasip1"}}
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	d := digest.FromBytes(b)
	store.PutBlob(d, b)
	return ocispec.Descriptor{MediaType: ocispec.MediaTypeImageConfig, Digest: d, Size: int64(len(b))}
}

func TestResolveWasmLayersFiltersByMediaType(t *testing.T) {
	store := cachetest.New()
	c := New(store, store.Images(), store.Leases())

	manifest := ocispec.Manifest{
		Config: putWasmConfig(t, store),
		Layers: []ocispec.Descriptor{
			{MediaType: "application/vnd.oci.image.layer.v1.tar+gzip", Digest: digest.FromString("base-layer"), Size: 10},
			{MediaType: "application/wasm", Digest: digest.FromString("wasm-layer"), Size: 20},
		},
	}
	b, err := json.Marshal(manifest)
	require.NoError(t, err)
	manifestDigest := digest.FromBytes(b)
	store.PutBlob(manifestDigest, b)
	store.PutImage("example.com/wasm:latest", ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageManifest,
		Digest:    manifestDigest,
		Size:      int64(len(b)),
	})

	layers, err := c.ResolveWasmLayers(context.Background(), "example.com/wasm:latest", []string{"application/wasm"})
	require.NoError(t, err)
	require.Len(t, layers, 1)
	require.Equal(t, digest.FromString("wasm-layer"), layers[0].Digest)
}

func TestResolveWasmLayersNonWasmPlatform(t *testing.T) {
	store := cachetest.New()
	c := New(store, store.Images(), store.Leases())

	cfg := ocispec.Image{Platform: ocispec.Platform{Architecture: "amd64", OS: "linux"}}
	cb, err := json.Marshal(cfg)
	require.NoError(t, err)
	cd := digest.FromBytes(cb)
	store.PutBlob(cd, cb)

	manifest := ocispec.Manifest{
		Config: ocispec.Descriptor{MediaType: ocispec.MediaTypeImageConfig, Digest: cd, Size: int64(len(cb))},
		Layers: []ocispec.Descriptor{
			{MediaType: "application/wasm", Digest: digest.FromString("wasm-layer"), Size: 20},
		},
	}
	b, err := json.Marshal(manifest)
	require.NoError(t, err)
	manifestDigest := digest.FromBytes(b)
	store.PutBlob(manifestDigest, b)
	store.PutImage("example.com/native:latest", ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageManifest,
		Digest:    manifestDigest,
		Size:      int64(len(b)),
	})

	layers, err := c.ResolveWasmLayers(context.Background(), "example.com/native:latest", []string{"application/wasm"})
	require.NoError(t, err)
	require.Empty(t, layers)
}

func TestResolveWasmLayersUnknownImage(t *testing.T) {
	store := cachetest.New()
	c := New(store, store.Images(), store.Leases())

	_, err := c.ResolveWasmLayers(context.Background(), "nope", []string{"application/wasm"})
	require.Error(t, err)
}
