package task

import (
	"testing"

	"github.com/containerd/errdefs"
)

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry[int]()

	if err := r.Add("a", 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add("a", 2); !errdefs.IsAlreadyExists(err) {
		t.Fatalf("Add duplicate: got %v, want ErrAlreadyExists", err)
	}

	v, err := r.Get("a")
	if err != nil || v != 1 {
		t.Fatalf("Get(a) = (%d, %v), want (1, nil)", v, err)
	}

	if _, err := r.Get("missing"); !errdefs.IsNotFound(err) {
		t.Fatalf("Get(missing): got %v, want ErrNotFound", err)
	}

	r.Remove("a")
	if _, err := r.Get("a"); !errdefs.IsNotFound(err) {
		t.Fatalf("Get after Remove: got %v, want ErrNotFound", err)
	}
	r.Remove("never-added") // no-op, must not panic
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry[string]()
	_ = r.Add("a", "x")
	_ = r.Add("b", "y")

	got := r.List()
	if len(got) != 2 {
		t.Fatalf("List() returned %d items, want 2", len(got))
	}
}
