package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	cgroups "github.com/opencontainers/cgroups"
	"github.com/opencontainers/cgroups/fs"
	"github.com/opencontainers/cgroups/fs2"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// Isolate joins the calling goroutine's OS thread to the namespaces
// and cgroup an OCI spec names, so an in-process engine run gets the
// same container isolation a forked runc child would.
//
// The caller must invoke Isolate from the exact goroutine that will go
// on to run the workload, and must never call runtime.UnlockOSThread
// afterwards: setns(2)/unshare(2) and cgroup thread membership are
// per-OS-thread, not per-process, and Go's runtime guarantees that an
// OS thread left locked when its goroutine exits is destroyed rather
// than returned to the scheduler's pool, which is what keeps this
// thread's altered namespaces/cgroup from leaking into unrelated work
// once the workload finishes.
func Isolate(namespaces []specs.LinuxNamespace, cgroupsPath string, resources *specs.LinuxResources, unified bool) error {
	runtime.LockOSThread()

	for _, ns := range namespaces {
		if ns.Path == "" {
			// An empty path asks for a freshly created namespace of
			// this type; that requires a process of its own to place
			// in it, which an in-process wasm run doesn't have, so
			// there is nothing to join here.
			continue
		}
		if err := joinNamespacePath(string(ns.Type), ns.Path); err != nil {
			return fmt.Errorf("joining %s namespace: %w", ns.Type, err)
		}
	}

	if cgroupsPath == "" {
		return nil
	}
	return applyCgroup(cgroupsPath, resources, unified)
}

// applyCgroup sets resources on the container's cgroup and attaches
// the calling OS thread to it. The attach is thread-granular (cgroup
// v1's "tasks" file, v2's "cgroup.threads") rather than process-wide:
// a shim process can host more than one task, so moving the whole
// process into one task's cgroup would misattribute every other
// task's work to it.
func applyCgroup(cgroupsPath string, resources *specs.LinuxResources, unified bool) error {
	res := ToCgroupResources(resources, unified)
	tid := unix.Gettid()

	if unified {
		mgr, err := fs2.NewManager(&cgroups.Cgroup{Path: cgroupsPath}, cgroupsPath)
		if err != nil {
			return fmt.Errorf("constructing cgroup2 manager: %w", err)
		}
		if err := mgr.Set(res); err != nil {
			return fmt.Errorf("applying cgroup2 resources: %w", err)
		}
		return attachThread(cgroupsPath, "cgroup.threads", tid)
	}

	mgr := fs.NewManager(&cgroups.Cgroup{Path: cgroupsPath}, map[string]string{
		"memory": cgroupsPath,
		"cpu":    cgroupsPath,
		"pids":   cgroupsPath,
	})
	if err := mgr.Set(res); err != nil {
		return fmt.Errorf("applying cgroup resources: %w", err)
	}
	for _, controller := range []string{"memory", "cpu", "pids"} {
		dir := filepath.Join("/sys/fs/cgroup", controller, cgroupsPath)
		if err := attachThread(dir, "tasks", tid); err != nil {
			return fmt.Errorf("attaching thread to %s cgroup: %w", controller, err)
		}
	}
	return nil
}

func attachThread(dir, file string, tid int) error {
	return os.WriteFile(filepath.Join(dir, file), []byte(strconv.Itoa(tid)), 0o644)
}
