package cache

import "github.com/containerd/errdefs"

func isAlreadyExists(err error) bool {
	return errdefs.IsAlreadyExists(err)
}
