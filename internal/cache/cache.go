// Package cache implements at-most-once precompilation of wasm image
// layers: given a layer's bytes and the engine that will run them, it
// compiles the module once and writes the result back into
// containerd's content store under a label keyed by engine name and
// cache key, so every later instance backed by the same layer reuses
// the compiled artifact instead of recompiling it.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/leases"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/singleflight"

	"github.com/containerd/wasm-shim/internal/engine"
	"github.com/containerd/wasm-shim/internal/otelutil"
)

// leaseExpiry bounds how long the transient lease taken while writing
// a precompiled artifact is allowed to pin its referenced content, so
// a shim that crashes mid-write does not leak a permanent GC root.
const leaseExpiry = 24 * time.Hour

// Cache precompiles wasm layers and caches the result in a
// containerd content store.
type Cache struct {
	content content.Store
	images  images.Store
	leases  leases.Manager

	// compiles collapses concurrent Precompile calls that miss the
	// cache for the same (engine, cache key) pair into a single
	// in-flight compile; without it, two callers racing on a layer
	// neither has seen yet would both pay the compiler's cost before
	// the content store's AlreadyExists handling discards the loser's
	// write.
	compiles singleflight.Group
}

// New constructs a Cache backed by the given containerd services.
func New(content content.Store, imagesSvc images.Store, leasesSvc leases.Manager) *Cache {
	return &Cache{content: content, images: imagesSvc, leases: leasesSvc}
}

// Layer is one candidate wasm layer from an image, as identified by
// the container executor's image inspection.
type Layer struct {
	Digest    digest.Digest
	MediaType string
	Size      int64

	// ImageDigest is the digest of the image manifest layer was
	// resolved from, if known. Empty when a caller precompiles a
	// module that did not come through ResolveWasmLayers (e.g. a plain
	// rootfs file); in that case the compiled artifact is not anchored
	// to an image descriptor, and is anchored to the layer only if the
	// layer has an entry of its own in the content store.
	ImageDigest digest.Digest
}

// Precompile returns the compiled artifact bytes for layer under eng,
// compiling and caching it if this is the first request for this
// (engine, cache key, layer) triple. Concurrent callers racing on the
// same triple each get a correct result; only one of them actually
// runs the compiler, the rest share its result through singleflight.
func (c *Cache) Precompile(ctx context.Context, eng engine.Compiler, engineName string, layer Layer, moduleBytes []byte) (artifact []byte, err error) {
	ctx, span := otelutil.StartSpan(ctx, "cache.Precompile", otelutil.WithServerSpanKind)
	defer span.End()
	defer func() { otelutil.SetSpanStatus(span, err) }()

	cacheKey, err := eng.CacheKey(ctx, moduleBytes)
	if err != nil {
		return nil, fmt.Errorf("computing cache key: %w", err)
	}

	label := precompiledLabel(engineName, cacheKey)
	ref := "precompile-" + engineName + "-" + cacheKey

	// Step 1: probe for an existing artifact addressed by this
	// (engine, cache key) pair before doing any compilation work.
	if existing, ok := c.lookup(ctx, label); ok {
		if b, err := c.readBlob(ctx, existing); err == nil {
			log.G(ctx).WithField("cache-key", cacheKey).Debug("precompile cache hit")
			return b, nil
		}
	}

	// Steps 2-5 run under singleflight keyed by the (engine, cache key)
	// label: the first caller to miss the cache for a given label does
	// the lease/compile/write/label sequence; every concurrent caller
	// racing on the same label waits for and shares its result instead
	// of independently recompiling the same module.
	v, err, _ := c.compiles.Do(label, func() (interface{}, error) {
		// A second probe: another goroutine may have committed the
		// artifact between this caller's initial miss and acquiring
		// the singleflight slot.
		if existing, ok := c.lookup(ctx, label); ok {
			if b, err := c.readBlob(ctx, existing); err == nil {
				return b, nil
			}
		}

		// Acquire a transient lease so the source layer and the
		// artifact we're about to write are both GC-safe for the
		// duration of the compile+write, even though neither is
		// referenced by a container yet.
		lease, err := c.leases.Create(ctx,
			leases.WithID("precompile-"+uuid.NewString()),
			leases.WithExpiration(leaseExpiry),
			leases.WithLabels(map[string]string{
				"containerd.io/gc.expire": time.Now().Add(leaseExpiry).Format(time.RFC3339),
			}))
		if err != nil {
			return nil, fmt.Errorf("creating precompile lease: %w", err)
		}
		defer c.leases.Delete(ctx, lease)

		compiled, err := eng.Compile(ctx, moduleBytes)
		if err != nil {
			return nil, fmt.Errorf("compiling layer %s: %w", layer.Digest, err)
		}

		dgst := digest.FromBytes(compiled)

		// Stream the artifact into the content store, labeled so the
		// garbage collector keeps the source layer alive for as long
		// as this artifact exists.
		labels := map[string]string{
			gcRefLabel(0): layer.Digest.String(),
		}
		if err := c.write(ctx, ref, dgst, compiled, labels); err != nil {
			return nil, err
		}

		// Record the (engine, cache key) -> artifact digest mapping as
		// a label on the artifact's own content entry so lookup never
		// needs an external index.
		if _, err := c.content.Update(ctx, content.Info{
			Digest: dgst,
			Labels: map[string]string{label: dgst.String()},
		}, "labels."+label); err != nil {
			return nil, fmt.Errorf("labeling precompiled artifact: %w", err)
		}

		// Anchor the artifact from the original layer and, if this
		// layer was resolved through an image, the image descriptor
		// too, so both keep it transitively reachable via GC refs
		// once the transient lease above is released. Without this,
		// the artifact is only reachable through the lease, which
		// expires; these labels are what make "precompile once"
		// durable across restarts. A layer with no content-store entry
		// of its own (a plain rootfs file) has nothing to label and is
		// skipped.
		if _, err := c.content.Update(ctx, content.Info{
			Digest: layer.Digest,
			Labels: map[string]string{
				label:         dgst.String(),
				gcRefLabel(0): dgst.String(),
			},
		}, "labels."+label, "labels."+gcRefLabel(0)); err != nil && !errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("anchoring precompiled artifact on original layer: %w", err)
		}

		if layer.ImageDigest != "" {
			if _, err := c.content.Update(ctx, content.Info{
				Digest: layer.ImageDigest,
				Labels: map[string]string{
					label:         "true",
					gcRefLabel(0): dgst.String(),
				},
			}, "labels."+label, "labels."+gcRefLabel(0)); err != nil {
				return nil, fmt.Errorf("anchoring precompiled artifact on image descriptor: %w", err)
			}
		}

		return compiled, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// ReadLayer returns the bytes of the content-store entry at dgst,
// exposing the same read path Precompile uses internally for callers
// that resolved a module through ResolveWasmLayers rather than a
// plain rootfs file.
func (c *Cache) ReadLayer(ctx context.Context, dgst digest.Digest) ([]byte, error) {
	return c.readBlob(ctx, dgst)
}

// lookup scans the content store for an entry labeled with label,
// returning its value as a digest. The image descriptor carries the
// same label with the value "true" rather than a digest (a flag
// marking that this (engine, cache key) has been precompiled at all,
// not a digest), so entries whose value doesn't parse as a digest are
// skipped rather than returned as a bogus match.
func (c *Cache) lookup(ctx context.Context, label string) (digest.Digest, bool) {
	var found digest.Digest
	err := c.content.Walk(ctx, func(info content.Info) error {
		v, ok := info.Labels[label]
		if !ok {
			return nil
		}
		if _, err := digest.Parse(v); err != nil {
			return nil
		}
		found = digest.Digest(v)
		return nil
	})
	if err != nil || found == "" {
		return "", false
	}
	return found, true
}

func (c *Cache) readBlob(ctx context.Context, dgst digest.Digest) ([]byte, error) {
	ra, err := c.content.ReaderAt(ctx, ocispec.Descriptor{Digest: dgst})
	if err != nil {
		return nil, err
	}
	defer ra.Close()
	buf := make([]byte, ra.Size())
	if _, err := io.ReadFull(io.NewSectionReader(ra, 0, ra.Size()), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Cache) write(ctx context.Context, ref string, dgst digest.Digest, data []byte, labels map[string]string) error {
	if err := writeContent(ctx, c.content, "application/vnd.wasm.precompiled", ref, dgst, int64(len(data)), bytes.NewReader(data)); err != nil {
		return err
	}
	if len(labels) == 0 {
		return nil
	}
	fields := make([]string, 0, len(labels))
	info := content.Info{Digest: dgst, Labels: map[string]string{}}
	for k, v := range labels {
		info.Labels[k] = v
		fields = append(fields, "labels."+k)
	}
	_, err := c.content.Update(ctx, info, fields...)
	return err
}
