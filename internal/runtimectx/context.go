package runtimectx

import (
	"fmt"

	"github.com/containerd/platforms"
	cgroups "github.com/opencontainers/cgroups"
	"github.com/opencontainers/runtime-spec/specs-go"

	"github.com/containerd/wasm-shim/pkg/annotations"
)

// ContainerType mirrors the CRI container-type annotation: a task is
// either a bare container, the sandbox ("pause") container of a pod, or
// (outside CRI) unset.
type ContainerType string

const (
	ContainerTypeNone      ContainerType = ""
	ContainerTypeContainer ContainerType = "container"
	ContainerTypeSandbox   ContainerType = "sandbox"
)

// GetSandboxTypeAndID reads the CRI container-type/sandbox-id
// annotation pair off specAnnotations and validates that they are
// either both present or both absent.
func GetSandboxTypeAndID(specAnnotations map[string]string) (ContainerType, string, error) {
	var ct ContainerType
	if t, ok := specAnnotations[annotations.KubernetesContainerType]; ok {
		switch t {
		case string(ContainerTypeContainer):
			ct = ContainerTypeContainer
		case string(ContainerTypeSandbox):
			ct = ContainerTypeSandbox
		default:
			return ContainerTypeNone, "", fmt.Errorf("invalid %q: %q", annotations.KubernetesContainerType, t)
		}
	}

	id := specAnnotations[annotations.KubernetesSandboxID]

	switch ct {
	case ContainerTypeContainer, ContainerTypeSandbox:
		if id == "" {
			return ContainerTypeNone, "", fmt.Errorf("cannot specify %q without %q", annotations.KubernetesContainerType, annotations.KubernetesSandboxID)
		}
	default:
		if id != "" {
			return ContainerTypeNone, "", fmt.Errorf("cannot specify %q without %q", annotations.KubernetesSandboxID, annotations.KubernetesContainerType)
		}
	}
	return ct, id, nil
}

// Platform identifies the OS/architecture pair a task's rootfs and
// engine target. For wasm tasks this is informational only; the shim
// never needs to cross-compile or emulate.
type Platform struct {
	OS           string
	Architecture string
}

func (p Platform) String() string {
	return p.OS + "/" + p.Architecture
}

// WasmLayer is one OCI image layer the image cache has identified as
// carrying wasm module content, keyed by the digest containerd's
// content store uses to address it.
type WasmLayer struct {
	Digest    string
	MediaType string
}

// RuntimeContext is the shim's normalized view of a task's OCI bundle:
// its entrypoint, the platform it runs on, the wasm layers (if any)
// backing its modules, and the CRI pod grouping it participates in.
type RuntimeContext struct {
	Bundle      string
	Rootfs      string
	Entrypoint  Entrypoint
	Source      Source
	Platform    Platform
	WasmLayers  []WasmLayer
	SandboxType ContainerType
	SandboxID   string

	// CgroupsPath is the spec's Linux.CgroupsPath, for both targets:
	// runc places a native task there, and an in-process wasm run
	// joins it through executor.Isolate. Empty when the spec names no
	// cgroup path.
	CgroupsPath string
	// Unified reports whether the host's cgroup hierarchy is the v2
	// unified hierarchy, decided once at context construction since it
	// is a host property rather than a per-task one.
	Unified bool

	// Namespaces is the spec's Linux.Namespaces, consulted by a wasm
	// dispatch to join the same namespaces a forked runc child would
	// have entered.
	Namespaces []specs.LinuxNamespace
	// Resources is the spec's Linux.Resources, applied to a wasm
	// task's cgroup the same way runc would apply it to a forked
	// child's.
	Resources *specs.LinuxResources
}

// NewRuntimeContext derives a RuntimeContext from an OCI runtime spec
// and the bundle/rootfs paths containerd supplied for the task.
func NewRuntimeContext(spec *specs.Spec, bundle, rootfs string) (*RuntimeContext, error) {
	if spec.Process == nil || len(spec.Process.Args) == 0 {
		return nil, fmt.Errorf("spec has no process arguments to derive an entrypoint from")
	}
	ep, err := ParseEntrypoint(spec.Process.Args[0])
	if err != nil {
		return nil, err
	}

	ct, sid, err := GetSandboxTypeAndID(spec.Annotations)
	if err != nil {
		return nil, err
	}

	if spec.Linux == nil {
		return nil, fmt.Errorf("spec is not a Linux container spec")
	}
	host := platforms.DefaultSpec()
	plat := Platform{OS: host.OS, Architecture: host.Architecture}

	var cgroupsPath string
	if spec.Linux != nil {
		cgroupsPath = spec.Linux.CgroupsPath
	}

	return &RuntimeContext{
		Bundle:      bundle,
		Rootfs:      rootfs,
		Entrypoint:  ep,
		Source:      Source{FilePath: ep.Path},
		Platform:    plat,
		SandboxType: ct,
		SandboxID:   sid,
		CgroupsPath: cgroupsPath,
		Unified:     cgroups.IsCgroup2UnifiedMode(),
		Namespaces:  spec.Linux.Namespaces,
		Resources:   spec.Linux.Resources,
	}, nil
}

// IsSandbox reports whether this task is the CRI sandbox/pause
// container of a pod, rather than a workload container within it.
func (rc *RuntimeContext) IsSandbox() bool {
	return rc.SandboxType == ContainerTypeSandbox
}
