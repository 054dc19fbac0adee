package cache

import "testing"

func TestPrecompiledLabel(t *testing.T) {
	key := "3a7bd3e2360a3d1f1f6c0bc7f6a9e8d5c5d3b1a0e2f9c8b7a6d5e4f3c2b1a0e9"
	got := precompiledLabel("wazero", key)
	want := "runwasi.io/precompiled/wazero/" + key
	if got != want {
		t.Errorf("precompiledLabel() = %q, want %q", got, want)
	}
}

func TestHexCacheKeyPassesThroughHex(t *testing.T) {
	key := "3a7bd3e2360a3d1f1f6c0bc7f6a9e8d5c5d3b1a0e2f9c8b7a6d5e4f3c2b1a0e9"
	if got := hexCacheKey(key); got != key {
		t.Errorf("hexCacheKey(%q) = %q, want unchanged", key, got)
	}
}

func TestHexCacheKeyEncodesNonHex(t *testing.T) {
	got := hexCacheKey("not-hex!")
	if len(got) != len("not-hex!")*2 {
		t.Errorf("hexCacheKey non-hex input: got %q, wrong length", got)
	}
}

func TestGCRefLabelRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 42} {
		label := gcRefLabel(n)
		got, ok := parseGCRefIndex(label)
		if !ok || got != n {
			t.Errorf("parseGCRefIndex(gcRefLabel(%d)) = (%d, %v), want (%d, true)", n, got, ok, n)
		}
	}
}

func TestParseGCRefIndexRejectsUnrelatedKeys(t *testing.T) {
	if _, ok := parseGCRefIndex("containerd.io/gc.ref.content.0"); ok {
		t.Error("parseGCRefIndex matched a non-precompile gc.ref key")
	}
	if _, ok := parseGCRefIndex("unrelated"); ok {
		t.Error("parseGCRefIndex matched an unrelated key")
	}
}
