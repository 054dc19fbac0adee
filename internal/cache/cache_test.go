package cache

import (
	"context"
	"testing"

	digest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"

	"github.com/containerd/wasm-shim/internal/cache/cachetest"
)

// countingCompiler counts Compile calls so the test can assert a
// second Precompile for the same layer reuses the cached artifact
// instead of compiling again.
type countingCompiler struct {
	compiles int
}

func (c *countingCompiler) CacheKey(ctx context.Context, module []byte) (string, error) {
	return digest.FromBytes(module).Encoded(), nil
}

func (c *countingCompiler) Compile(ctx context.Context, module []byte) ([]byte, error) {
	c.compiles++
	out := make([]byte, len(module))
	copy(out, module)
	out = append(out, "-compiled"...)
	return out, nil
}

func (c *countingCompiler) LoadCompiled(ctx context.Context, artifact []byte) error {
	return nil
}

func TestPrecompileCompilesOnlyOnce(t *testing.T) {
	store := cachetest.New()
	c := New(store, store.Images(), store.Leases())
	eng := &countingCompiler{}

	module := []byte("\x00asm fake module bytes")
	layer := Layer{Digest: digest.FromBytes(module), MediaType: "application/wasm", Size: int64(len(module))}

	first, err := c.Precompile(context.Background(), eng, "wazero", layer, module)
	require.NoError(t, err)
	require.Equal(t, 1, eng.compiles)

	second, err := c.Precompile(context.Background(), eng, "wazero", layer, module)
	require.NoError(t, err)
	require.Equal(t, 1, eng.compiles, "cache hit expected, compiler should not run again")
	require.Equal(t, first, second)
}

func TestPrecompileDifferentEnginesDoNotShareArtifacts(t *testing.T) {
	store := cachetest.New()
	c := New(store, store.Images(), store.Leases())
	wazeroEng := &countingCompiler{}
	otherEng := &countingCompiler{}

	module := []byte("\x00asm another module")
	layer := Layer{Digest: digest.FromBytes(module), MediaType: "application/wasm", Size: int64(len(module))}

	_, err := c.Precompile(context.Background(), wazeroEng, "wazero", layer, module)
	require.NoError(t, err)
	_, err = c.Precompile(context.Background(), otherEng, "other-engine", layer, module)
	require.NoError(t, err)

	require.Equal(t, 1, wazeroEng.compiles)
	require.Equal(t, 1, otherEng.compiles)
}
