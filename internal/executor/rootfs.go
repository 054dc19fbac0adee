package executor

import (
	"fmt"

	"github.com/containerd/containerd/api/types"
	"github.com/containerd/containerd/v2/core/mount"
)

// ToMounts converts the wire-format mounts containerd attaches to a
// CreateTaskRequest into the mount.Mount type mount.All operates on.
func ToMounts(apiMounts []*types.Mount) []mount.Mount {
	mounts := make([]mount.Mount, 0, len(apiMounts))
	for _, m := range apiMounts {
		mounts = append(mounts, mount.Mount{
			Type:    m.Type,
			Source:  m.Source,
			Target:  m.Target,
			Options: m.Options,
		})
	}
	return mounts
}

// PrepareRootfs mounts mounts (as handed to the shim by containerd in
// the task Create request) at rootfs. Exactly one rootfs is supported
// per task: multi-module OCI components sharing one task's rootfs are
// out of scope, so there is no layered-rootfs merge logic here beyond
// what mount.All already does for the overlay/bind mounts containerd
// itself resolved.
func PrepareRootfs(mounts []mount.Mount, rootfs string) error {
	if len(mounts) == 0 {
		return fmt.Errorf("task has no rootfs mounts")
	}
	if err := mount.All(mounts, rootfs); err != nil {
		return fmt.Errorf("mounting rootfs at %s: %w", rootfs, err)
	}
	return nil
}

// CleanupRootfs unmounts rootfs, best-effort, for use during Delete.
func CleanupRootfs(rootfs string) error {
	return mount.UnmountAll(rootfs, 0)
}
