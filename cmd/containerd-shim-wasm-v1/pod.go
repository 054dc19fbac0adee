package main

import (
	"fmt"

	"github.com/containerd/errdefs"

	"github.com/containerd/wasm-shim/internal/task"
)

// pod groups a CRI sandbox's own sandbox task together with the
// workload container tasks created against the same sandbox id, the
// way a single shim instance tracks every task in a pod.
type pod struct {
	sandboxID string
	tasks     *task.Registry[*hostedTask]
}

func newPod(sandboxID string) *pod {
	return &pod{sandboxID: sandboxID, tasks: task.NewRegistry[*hostedTask]()}
}

func (p *pod) AddTask(id string, t *hostedTask) error {
	return p.tasks.Add(id, t)
}

func (p *pod) GetTask(id string) (*hostedTask, error) {
	return p.tasks.Get(id)
}

func (p *pod) RemoveTask(id string) {
	p.tasks.Remove(id)
}

func (p *pod) ListTasks() []*hostedTask {
	return p.tasks.List()
}

var errNotSandbox = fmt.Errorf("shim is not tracking a sandbox: %w", errdefs.ErrFailedPrecondition)

func podFrom(v interface{}) (*pod, error) {
	p, ok := v.(*pod)
	if !ok {
		return nil, errNotSandbox
	}
	return p, nil
}
