package cache

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/containerd/wasm-shim/pkg/annotations"
)

// precompiledLabel returns the content-store label under which a
// precompiled artifact for engineName/cacheKey is recorded, e.g.
// "runwasi.io/precompiled/wazero/3a7bd...".
func precompiledLabel(engineName, cacheKey string) string {
	return fmt.Sprintf("runwasi.io/precompiled/%s/%s", engineName, hexCacheKey(cacheKey))
}

func hexCacheKey(cacheKey string) string {
	// cacheKey is already a hex string when it comes from an
	// engine.Compiler (see wazero.CacheKey); re-encoding a raw key
	// defensively keeps the label well formed either way.
	if _, err := hex.DecodeString(cacheKey); err == nil && len(cacheKey) == 64 {
		return cacheKey
	}
	return hex.EncodeToString([]byte(cacheKey))
}

// gcRefLabel returns the nth indexed gc.ref.content label key that
// pins a source layer as a dependency of a precompiled artifact.
func gcRefLabel(n int) string {
	return annotations.GCRefContentPrecompilePrefix + strconv.Itoa(n)
}

func parseGCRefIndex(key string) (int, bool) {
	if !strings.HasPrefix(key, annotations.GCRefContentPrecompilePrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(key, annotations.GCRefContentPrecompilePrefix))
	if err != nil {
		return 0, false
	}
	return n, true
}
