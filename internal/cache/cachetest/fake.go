// Package cachetest provides an in-memory content/images/leases
// backend for exercising internal/cache without a real containerd
// daemon, in the spirit of the teacher's hand-rolled fakes for its own
// RPC-surface tests (cmd/containerd-shim-runhcs-v1/service_internal_test.go).
package cachetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/leases"
	"github.com/containerd/errdefs"
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Store is an in-memory content.Store that also backs an images.Store
// (via Images) and a leases.Manager (via Leases), guarded by a single
// mutex. It is not safe to share across unrelated tests; each test
// should construct its own.
type Store struct {
	mu sync.Mutex

	blobs  map[digest.Digest][]byte
	info   map[digest.Digest]content.Info
	images map[string]images.Image
	leases map[string]leases.Lease
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		blobs:  map[digest.Digest][]byte{},
		info:   map[digest.Digest]content.Info{},
		images: map[string]images.Image{},
		leases: map[string]leases.Lease{},
	}
}

// PutImage registers name as resolving to target, for
// images.Store.Get and ResolveWasmLayers to find.
func (s *Store) PutImage(name string, target ocispec.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[name] = images.Image{Name: name, Target: target}
}

// PutBlob seeds the store with dgst's content directly, bypassing the
// Writer streaming path, so tests can populate a manifest blob.
func (s *Store) PutBlob(dgst digest.Digest, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[dgst] = data
	s.info[dgst] = content.Info{Digest: dgst, Size: int64(len(data)), Labels: map[string]string{}}
}

// imageStore adapts Store's image map to images.Store, kept as a
// separate type from Store because images.Store.Delete(ctx, name,
// opts...) and content.Manager.Delete(ctx, dgst) collide by name.
type imageStore struct{ s *Store }

func (i *imageStore) Get(ctx context.Context, name string) (images.Image, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	img, ok := i.s.images[name]
	if !ok {
		return images.Image{}, fmt.Errorf("image %s: %w", name, errdefs.ErrNotFound)
	}
	return img, nil
}

func (i *imageStore) List(ctx context.Context, filters ...string) ([]images.Image, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	out := make([]images.Image, 0, len(i.s.images))
	for _, img := range i.s.images {
		out = append(out, img)
	}
	return out, nil
}

func (i *imageStore) Create(ctx context.Context, image images.Image) (images.Image, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if _, ok := i.s.images[image.Name]; ok {
		return images.Image{}, fmt.Errorf("image %s: %w", image.Name, errdefs.ErrAlreadyExists)
	}
	i.s.images[image.Name] = image
	return image, nil
}

func (i *imageStore) Update(ctx context.Context, image images.Image, fieldpaths ...string) (images.Image, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	i.s.images[image.Name] = image
	return image, nil
}

func (i *imageStore) Delete(ctx context.Context, name string, opts ...images.DeleteOpt) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	delete(i.s.images, name)
	return nil
}

// Images returns an images.Store backed by this store.
func (s *Store) Images() images.Store {
	return &imageStore{s: s}
}

func (s *Store) Info(ctx context.Context, dgst digest.Digest) (content.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.info[dgst]
	if !ok {
		return content.Info{}, fmt.Errorf("content %s: %w", dgst, errdefs.ErrNotFound)
	}
	return info, nil
}

func (s *Store) Update(ctx context.Context, info content.Info, fieldpaths ...string) (content.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.info[info.Digest]
	if !ok {
		return content.Info{}, fmt.Errorf("content %s: %w", info.Digest, errdefs.ErrNotFound)
	}
	if cur.Labels == nil {
		cur.Labels = map[string]string{}
	}
	for k, v := range info.Labels {
		cur.Labels[k] = v
	}
	s.info[info.Digest] = cur
	return cur, nil
}

func (s *Store) Walk(ctx context.Context, fn content.WalkFunc, filters ...string) error {
	s.mu.Lock()
	infos := make([]content.Info, 0, len(s.info))
	for _, info := range s.info {
		infos = append(infos, info)
	}
	s.mu.Unlock()

	for _, info := range infos {
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, dgst digest.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, dgst)
	delete(s.info, dgst)
	return nil
}

func (s *Store) ReaderAt(ctx context.Context, desc ocispec.Descriptor) (content.ReaderAt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[desc.Digest]
	if !ok {
		return nil, fmt.Errorf("content %s: %w", desc.Digest, errdefs.ErrNotFound)
	}
	return &readerAt{b: b}, nil
}

func (s *Store) Writer(ctx context.Context, opts ...content.WriterOpt) (content.Writer, error) {
	var wOpts content.WriterOpts
	for _, o := range opts {
		if err := o(&wOpts); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	if wOpts.Desc.Digest != "" {
		if _, ok := s.blobs[wOpts.Desc.Digest]; ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("content %s: %w", wOpts.Desc.Digest, errdefs.ErrAlreadyExists)
		}
	}
	s.mu.Unlock()

	return &writer{s: s, ref: wOpts.Ref, buf: &bytes.Buffer{}}, nil
}

func (s *Store) ListStatuses(ctx context.Context, filters ...string) ([]content.Status, error) {
	return nil, nil
}

func (s *Store) Status(ctx context.Context, ref string) (content.Status, error) {
	return content.Status{}, fmt.Errorf("status %s: %w", ref, errdefs.ErrNotFound)
}

func (s *Store) Abort(ctx context.Context, ref string) error {
	return nil
}

func (s *Store) Create(ctx context.Context, opts ...leases.Opt) (leases.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := leases.Lease{ID: fmt.Sprintf("lease-%d", len(s.leases))}
	for _, o := range opts {
		if err := o(&l); err != nil {
			return leases.Lease{}, err
		}
	}
	s.leases[l.ID] = l
	return l, nil
}

func (s *Store) Delete2(ctx context.Context, l leases.Lease, opts ...leases.DeleteOpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, l.ID)
	return nil
}

// leaseManager adapts Store's Create/Delete2 to leases.Manager, whose
// Delete method collides in name (but not signature) with
// content.Manager's Delete(ctx, digest.Digest) error.
type leaseManager struct{ s *Store }

func (l *leaseManager) Create(ctx context.Context, opts ...leases.Opt) (leases.Lease, error) {
	return l.s.Create(ctx, opts...)
}

func (l *leaseManager) Delete(ctx context.Context, lease leases.Lease, opts ...leases.DeleteOpt) error {
	return l.s.Delete2(ctx, lease, opts...)
}

func (l *leaseManager) List(ctx context.Context, filters ...string) ([]leases.Lease, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	out := make([]leases.Lease, 0, len(l.s.leases))
	for _, lse := range l.s.leases {
		out = append(out, lse)
	}
	return out, nil
}

func (l *leaseManager) AddResource(ctx context.Context, lease leases.Lease, r leases.Resource) error {
	return nil
}

func (l *leaseManager) DeleteResource(ctx context.Context, lease leases.Lease, r leases.Resource) error {
	return nil
}

func (l *leaseManager) ListResources(ctx context.Context, lease leases.Lease) ([]leases.Resource, error) {
	return nil, nil
}

// Leases returns a leases.Manager backed by this store.
func (s *Store) Leases() leases.Manager {
	return &leaseManager{s: s}
}

type readerAt struct {
	b []byte
}

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.b)) {
		return 0, io.EOF
	}
	n := copy(p, r.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *readerAt) Size() int64 { return int64(len(r.b)) }
func (r *readerAt) Close() error { return nil }

type writer struct {
	s   *Store
	ref string
	buf *bytes.Buffer
}

func (w *writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *writer) Close() error { return nil }

func (w *writer) Digest() digest.Digest { return digest.FromBytes(w.buf.Bytes()) }

func (w *writer) Status() (content.Status, error) {
	return content.Status{Ref: w.ref, Offset: int64(w.buf.Len()), Total: int64(w.buf.Len())}, nil
}

func (w *writer) Truncate(size int64) error {
	w.buf.Truncate(int(size))
	return nil
}

func (w *writer) Commit(ctx context.Context, size int64, expected digest.Digest, opts ...content.Opt) error {
	data := w.buf.Bytes()
	dgst := digest.FromBytes(data)
	if expected != "" && expected != dgst {
		return fmt.Errorf("unexpected commit digest %s, expected %s", dgst, expected)
	}

	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if _, ok := w.s.blobs[dgst]; ok {
		return fmt.Errorf("content %s: %w", dgst, errdefs.ErrAlreadyExists)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	w.s.blobs[dgst] = cp
	w.s.info[dgst] = content.Info{Digest: dgst, Size: int64(len(cp)), Labels: map[string]string{}}
	return nil
}
