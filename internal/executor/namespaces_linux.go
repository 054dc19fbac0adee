package executor

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// nsType maps an OCI LinuxNamespaceType to the /proc/<pid>/ns/<file>
// name and the CLONE_NEW* flag unshare(2)/setns(2) expect.
var nsType = map[string]struct {
	file string
	flag uintptr
}{
	"pid":     {"pid", unix.CLONE_NEWPID},
	"network": {"net", unix.CLONE_NEWNET},
	"mount":   {"mnt", unix.CLONE_NEWNS},
	"ipc":     {"ipc", unix.CLONE_NEWIPC},
	"uts":     {"uts", unix.CLONE_NEWUTS},
	"user":    {"user", unix.CLONE_NEWUSER},
	"cgroup":  {"cgroup", unix.CLONE_NEWCGROUP},
}

// JoinNamespace enters the namespace of kind ns that pid already
// belongs to, via setns(2) against its /proc/<pid>/ns/<file> symlink.
// Used when a workload container is asked to share a namespace with
// its pod's sandbox task.
func JoinNamespace(kind string, pid int) error {
	if _, ok := nsType[kind]; !ok {
		return fmt.Errorf("unknown namespace kind %q", kind)
	}
	return joinNamespaceFile(kind, fmt.Sprintf("/proc/%d/ns/%s", pid, nsType[kind].file))
}

// joinNamespacePath enters the namespace of kind at an explicit
// /proc/<pid>/ns/<file> (or bind-mounted namespace file) path, as
// named by an OCI spec's LinuxNamespace.Path.
func joinNamespacePath(kind, path string) error {
	if _, ok := nsType[kind]; !ok {
		return fmt.Errorf("unknown namespace kind %q", kind)
	}
	return joinNamespaceFile(kind, path)
}

func joinNamespaceFile(kind, path string) error {
	t := nsType[kind]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if err := unix.Setns(int(f.Fd()), int(t.flag)); err != nil {
		return fmt.Errorf("setns(%s): %w", kind, err)
	}
	return nil
}
