// Package annotations holds the OCI spec annotation keys the shim
// reads or writes, and the containerd content-store label keys the
// image and compilation cache uses to make precompiled payloads
// garbage-collector-safe.
package annotations

const (
	// KubernetesContainerType is the annotation CRI sets to distinguish
	// a pod's sandbox ("pause") container from its workload containers.
	KubernetesContainerType = "io.kubernetes.cri.container-type"

	// KubernetesSandboxID is the annotation CRI sets, on both the
	// sandbox and its workload containers, to the sandbox's task id.
	KubernetesSandboxID = "io.kubernetes.cri.sandbox-id"
)

const (
	// GCRefContentPrecompilePrefix is the prefix of the indexed
	// gc.ref.content labels the cache attaches to a precompiled
	// artifact so the garbage collector keeps the source layer alive
	// for as long as the artifact it was compiled from exists.
	//
	// The full label is "containerd.io/gc.ref.content.precompile.<n>"
	// for the nth referenced layer.
	GCRefContentPrecompilePrefix = "containerd.io/gc.ref.content.precompile."

	// GCExpire is the label the cache sets on the transient lease it
	// holds while streaming a precompiled artifact into the content
	// store, so an interrupted write does not pin content forever.
	GCExpire = "containerd.io/gc.expire"
)
