// Package stats reads a running task's cgroup and reports it in the
// shape the containerd Task API's Stats RPC expects, independent of
// whether the host runs the v1 controller set or the v2 unified
// hierarchy.
package stats

import (
	"fmt"

	cgroup1stats "github.com/containerd/cgroups/v3/cgroup1/stats"
	cgroup2stats "github.com/containerd/cgroups/v3/cgroup2/stats"
	cgroups "github.com/opencontainers/cgroups"
	"github.com/opencontainers/cgroups/fs"
	"github.com/opencontainers/cgroups/fs2"
)

// Metrics is the subset of a cgroup's accounting the shim surfaces,
// translated to a single shape regardless of hierarchy version.
type Metrics struct {
	MemoryUsageBytes uint64
	MemoryLimitBytes uint64

	CPUUsageNanos  uint64
	CPUUserNanos   uint64
	CPUKernelNanos uint64

	ThrottlePeriods  uint64
	ThrottledPeriods uint64
	ThrottledNanos   uint64

	PidsCurrent uint64
	PidsLimit   uint64
}

// Reader reads cgroup stats for a single container's cgroup path.
type Reader struct {
	path    string
	unified bool
}

// NewReader constructs a Reader for the cgroup at path. unified
// selects v2 (unified hierarchy) vs v1 (per-controller) parsing.
func NewReader(path string, unified bool) *Reader {
	return &Reader{path: path, unified: unified}
}

// Read returns the current metrics for the reader's cgroup.
func (r *Reader) Read() (Metrics, error) {
	var (
		st  *cgroups.Stats
		err error
	)
	if r.unified {
		var m *fs2.Manager
		m, err = fs2.NewManager(&cgroups.Cgroup{Path: r.path}, r.path)
		if err == nil {
			st, err = m.GetStats()
		}
	} else {
		m := fs.NewManager(&cgroups.Cgroup{Path: r.path}, map[string]string{
			"memory": r.path,
			"cpu":    r.path,
			"pids":   r.path,
		})
		st, err = m.GetStats()
	}
	if err != nil {
		return Metrics{}, fmt.Errorf("reading cgroup stats at %s: %w", r.path, err)
	}

	out := Metrics{
		MemoryUsageBytes: st.MemoryStats.Usage.Usage,
		MemoryLimitBytes: st.MemoryStats.Usage.Limit,

		CPUUsageNanos:  st.CpuStats.CpuUsage.TotalUsage,
		CPUUserNanos:   st.CpuStats.CpuUsage.UsageInUsermode,
		CPUKernelNanos: st.CpuStats.CpuUsage.UsageInKernelmode,

		ThrottlePeriods:  st.CpuStats.ThrottlingData.Periods,
		ThrottledPeriods: st.CpuStats.ThrottlingData.ThrottledPeriods,
		ThrottledNanos:   st.CpuStats.ThrottlingData.ThrottledTime,

		PidsCurrent: st.PidsStats.Current,
		PidsLimit:   st.PidsStats.Limit,
	}
	return out, nil
}

// ToV1 renders m in the same shape containerd's cgroup v1 (per
// controller hierarchy) shims marshal into the Task API's Stats
// response, so clients that decode by type URL see the same wire
// format regardless of which shim produced it.
func (m Metrics) ToV1() *cgroup1stats.Metrics {
	return &cgroup1stats.Metrics{
		Memory: &cgroup1stats.MemoryStat{
			Usage: &cgroup1stats.MemoryEntry{
				Usage: m.MemoryUsageBytes,
				Limit: m.MemoryLimitBytes,
			},
		},
		CPU: &cgroup1stats.CPUStat{
			Usage: &cgroup1stats.CPUUsage{
				Total:  m.CPUUsageNanos,
				User:   m.CPUUserNanos,
				Kernel: m.CPUKernelNanos,
			},
			Throttling: &cgroup1stats.Throttle{
				Periods:          m.ThrottlePeriods,
				ThrottledPeriods: m.ThrottledPeriods,
				ThrottledTime:    m.ThrottledNanos,
			},
		},
		Pids: &cgroup1stats.PidsStat{
			Current: m.PidsCurrent,
			Limit:   m.PidsLimit,
		},
	}
}

// ToV2 is ToV1's counterpart for cgroup v2 (unified hierarchy) hosts.
func (m Metrics) ToV2() *cgroup2stats.Metrics {
	return &cgroup2stats.Metrics{
		Memory: &cgroup2stats.MemoryStat{
			Usage:      m.MemoryUsageBytes,
			UsageLimit: m.MemoryLimitBytes,
		},
		CPU: &cgroup2stats.CPUStat{
			UsageUsec:     m.CPUUsageNanos / 1000,
			UserUsec:      m.CPUUserNanos / 1000,
			SystemUsec:    m.CPUKernelNanos / 1000,
			NrPeriods:     m.ThrottlePeriods,
			NrThrottled:   m.ThrottledPeriods,
			ThrottledUsec: m.ThrottledNanos / 1000,
		},
		Pids: &cgroup2stats.PidsStat{
			Current: m.PidsCurrent,
			Limit:   m.PidsLimit,
		},
	}
}
