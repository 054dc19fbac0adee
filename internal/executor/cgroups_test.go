package executor

import "testing"

func TestSharesToWeight(t *testing.T) {
	cases := []struct {
		shares uint64
		want   uint64
	}{
		{0, 0},
		{2, 1},
		{262144, 10000},
		{1024, 39}, // the runc/cgroups default cpu.shares
	}
	for _, c := range cases {
		if got := sharesToWeight(c.shares); got != c.want {
			t.Errorf("sharesToWeight(%d) = %d, want %d", c.shares, got, c.want)
		}
	}
}

func TestWeightToSharesRoundTrip(t *testing.T) {
	for _, shares := range []uint64{2, 100, 1024, 100000, 262144} {
		w := sharesToWeight(shares)
		back := weightToShares(w)
		// the mapping is lossy (262142 shares values onto 9999 weight
		// values), so round-tripping only needs to land close, not exact.
		diff := int64(back) - int64(shares)
		if diff < -30 || diff > 30 {
			t.Errorf("shares %d -> weight %d -> shares %d: drifted too far", shares, w, back)
		}
	}
}

func TestBlkioWeightToIOWeight(t *testing.T) {
	cases := []struct {
		w    uint16
		want uint64
	}{
		{0, 0},
		{10, 1},
		{1000, 10000},
		{500, 4950},
	}
	for _, c := range cases {
		if got := blkioWeightToIOWeight(c.w); got != c.want {
			t.Errorf("blkioWeightToIOWeight(%d) = %d, want %d", c.w, got, c.want)
		}
	}
}

func TestToCgroupResourcesNil(t *testing.T) {
	out := ToCgroupResources(nil, true)
	if out == nil {
		t.Fatal("ToCgroupResources(nil, true) returned nil")
	}
}
