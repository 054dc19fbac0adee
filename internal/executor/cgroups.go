package executor

import (
	cgroups "github.com/opencontainers/cgroups"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ToCgroupResources translates the OCI spec's Linux resource fields
// into an [cgroups.Resources]. On a unified (v2) host it also fills in
// cpu.weight from the v1 shares and io.weight from the v1 blkio weight,
// so the same OCI spec produces equivalent limits regardless of which
// hierarchy the host runs.
func ToCgroupResources(r *specs.LinuxResources, unified bool) *cgroups.Resources {
	out := &cgroups.Resources{}
	if r == nil {
		return out
	}

	if r.Memory != nil {
		if r.Memory.Limit != nil {
			out.Memory = *r.Memory.Limit
		}
		if r.Memory.Swap != nil {
			// cgroup v2's memory.swap.max is the swap-only amount, not
			// total memory+swap like v1's memsw.limit_in_bytes; the OCI
			// spec's Swap field already uses the v1 semantics, so v2
			// needs translating to just the swap component.
			if unified && r.Memory.Limit != nil {
				out.MemorySwap = *r.Memory.Swap - *r.Memory.Limit
			} else {
				out.MemorySwap = *r.Memory.Swap
			}
		}
	}

	if r.CPU != nil {
		if r.CPU.Shares != nil {
			out.CpuShares = *r.CPU.Shares
			if unified {
				out.CpuWeight = sharesToWeight(*r.CPU.Shares)
			}
		}
		if r.CPU.Quota != nil {
			out.CpuQuota = *r.CPU.Quota
		}
		if r.CPU.Period != nil {
			out.CpuPeriod = *r.CPU.Period
		}
		if r.CPU.Cpus != "" {
			out.CpusetCpus = r.CPU.Cpus
		}
		if r.CPU.Mems != "" {
			out.CpusetMems = r.CPU.Mems
		}
	}

	if r.Pids != nil {
		out.PidsLimit = r.Pids.Limit
		if unified && r.Pids.Limit <= 0 {
			// The OCI spec has no dedicated "unlimited" sentinel for
			// pids; callers that mean unlimited set Limit to 0 (the
			// zero value) rather than a negative number, and v2's
			// pids.max takes the literal string "max" for that case.
			// cgroups.Resources models that as a Limit of 0 meaning
			// "leave it unset", which libcontainer then renders as
			// "max" when writing pids.max. We preserve 0 rather than
			// substitute a sentinel int so that behavior is unchanged.
			out.PidsLimit = 0
		}
	}

	if r.BlockIO != nil && r.BlockIO.Weight != nil {
		out.BlkioWeight = *r.BlockIO.Weight
		if unified {
			out.IoWeight = blkioWeightToIOWeight(*r.BlockIO.Weight)
		}
	}

	return out
}

// sharesToWeight converts a cgroup v1 cpu.shares value (2-262144) to
// the equivalent cgroup v2 cpu.weight value (1-10000).
func sharesToWeight(shares uint64) uint64 {
	if shares == 0 {
		return 0
	}
	return 1 + ((shares-2)*9999)/262142
}

// weightToShares is the (lossy) inverse of sharesToWeight, mapping a
// cgroup v2 cpu.weight value back to v1 cpu.shares.
func weightToShares(weight uint64) uint64 {
	if weight == 0 {
		return 0
	}
	return 2 + ((weight-1)*262142)/9999
}

// blkioWeightToIOWeight converts a cgroup v1 blkio.weight value
// (10-1000) to the equivalent cgroup v2 io.weight value (1-10000).
func blkioWeightToIOWeight(w uint16) uint64 {
	if w == 0 {
		return 0
	}
	return 1 + (uint64(w)-10)*9999/990
}
