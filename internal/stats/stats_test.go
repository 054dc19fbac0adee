package stats

import "testing"

func TestMetricsToV1(t *testing.T) {
	m := Metrics{
		MemoryUsageBytes: 1024,
		MemoryLimitBytes: 4096,
		CPUUsageNanos:    5_000_000,
		CPUUserNanos:     3_000_000,
		CPUKernelNanos:   2_000_000,
		ThrottlePeriods:  7,
		ThrottledPeriods: 2,
		ThrottledNanos:   400_000,
		PidsCurrent:      3,
		PidsLimit:        10,
	}
	v1 := m.ToV1()
	if v1.Memory.Usage.Usage != m.MemoryUsageBytes {
		t.Errorf("Memory.Usage.Usage = %d, want %d", v1.Memory.Usage.Usage, m.MemoryUsageBytes)
	}
	if v1.Memory.Usage.Limit != m.MemoryLimitBytes {
		t.Errorf("Memory.Usage.Limit = %d, want %d", v1.Memory.Usage.Limit, m.MemoryLimitBytes)
	}
	if v1.CPU.Usage.Total != m.CPUUsageNanos {
		t.Errorf("CPU.Usage.Total = %d, want %d", v1.CPU.Usage.Total, m.CPUUsageNanos)
	}
	if v1.CPU.Usage.User != m.CPUUserNanos || v1.CPU.Usage.Kernel != m.CPUKernelNanos {
		t.Errorf("CPU.Usage = {User: %d, Kernel: %d}, want {%d, %d}", v1.CPU.Usage.User, v1.CPU.Usage.Kernel, m.CPUUserNanos, m.CPUKernelNanos)
	}
	if v1.CPU.Throttling.Periods != m.ThrottlePeriods || v1.CPU.Throttling.ThrottledPeriods != m.ThrottledPeriods || v1.CPU.Throttling.ThrottledTime != m.ThrottledNanos {
		t.Errorf("CPU.Throttling = %+v, want {%d, %d, %d}", v1.CPU.Throttling, m.ThrottlePeriods, m.ThrottledPeriods, m.ThrottledNanos)
	}
	if v1.Pids.Current != m.PidsCurrent || v1.Pids.Limit != m.PidsLimit {
		t.Errorf("Pids = {%d, %d}, want {%d, %d}", v1.Pids.Current, v1.Pids.Limit, m.PidsCurrent, m.PidsLimit)
	}
}

func TestMetricsToV2(t *testing.T) {
	m := Metrics{
		MemoryUsageBytes: 2048,
		MemoryLimitBytes: 8192,
		CPUUsageNanos:    3_000_000,
		CPUUserNanos:     1_800_000,
		CPUKernelNanos:   1_200_000,
		ThrottlePeriods:  5,
		ThrottledPeriods: 1,
		ThrottledNanos:   250_000,
		PidsCurrent:      1,
		PidsLimit:        20,
	}
	v2 := m.ToV2()
	if v2.Memory.Usage != m.MemoryUsageBytes {
		t.Errorf("Memory.Usage = %d, want %d", v2.Memory.Usage, m.MemoryUsageBytes)
	}
	if v2.Memory.UsageLimit != m.MemoryLimitBytes {
		t.Errorf("Memory.UsageLimit = %d, want %d", v2.Memory.UsageLimit, m.MemoryLimitBytes)
	}
	if v2.CPU.UsageUsec != m.CPUUsageNanos/1000 {
		t.Errorf("CPU.UsageUsec = %d, want %d", v2.CPU.UsageUsec, m.CPUUsageNanos/1000)
	}
	if v2.CPU.UserUsec != m.CPUUserNanos/1000 || v2.CPU.SystemUsec != m.CPUKernelNanos/1000 {
		t.Errorf("CPU = {User: %d, System: %d}, want {%d, %d}", v2.CPU.UserUsec, v2.CPU.SystemUsec, m.CPUUserNanos/1000, m.CPUKernelNanos/1000)
	}
	if v2.CPU.NrPeriods != m.ThrottlePeriods || v2.CPU.NrThrottled != m.ThrottledPeriods || v2.CPU.ThrottledUsec != m.ThrottledNanos/1000 {
		t.Errorf("CPU throttling = {%d, %d, %d}, want {%d, %d, %d}", v2.CPU.NrPeriods, v2.CPU.NrThrottled, v2.CPU.ThrottledUsec, m.ThrottlePeriods, m.ThrottledPeriods, m.ThrottledNanos/1000)
	}
	if v2.Pids.Current != m.PidsCurrent || v2.Pids.Limit != m.PidsLimit {
		t.Errorf("Pids = {%d, %d}, want {%d, %d}", v2.Pids.Current, v2.Pids.Limit, m.PidsCurrent, m.PidsLimit)
	}
}
