package cache

import (
	"context"
	"fmt"
	"io"

	"github.com/containerd/containerd/v2/core/content"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// maxChunk bounds a single Write call into the content store, so a
// large precompiled artifact streams in instead of needing to be
// buffered whole in memory.
const maxChunk = 15 << 20 // 15MiB

// writeContent streams the bytes read from r into store under ref,
// expected to total exactly size bytes and hash to expected. It
// probes the writer's existing offset first via Stat so a retried
// write resumes instead of restarting: a prior attempt that was
// interrupted partway through left its progress recorded against ref.
func writeContent(ctx context.Context, store content.Store, mediaType, ref string, expected digest.Digest, size int64, r io.Reader) error {
	desc := ocispec.Descriptor{MediaType: mediaType, Digest: expected, Size: size}
	w, err := store.Writer(ctx, content.WithRef(ref), content.WithDescriptor(desc))
	if err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("opening content writer for %s: %w", ref, err)
	}
	defer w.Close()

	st, err := w.Status()
	if err != nil {
		return fmt.Errorf("statting content writer for %s: %w", ref, err)
	}
	if st.Offset > 0 {
		if _, err := io.CopyN(io.Discard, r, st.Offset); err != nil {
			return fmt.Errorf("seeking source past already-written offset %d: %w", st.Offset, err)
		}
	}

	buf := make([]byte, maxChunk)
	written := st.Offset
	for written < size {
		n := size - written
		if n > maxChunk {
			n = maxChunk
		}
		nr, err := io.ReadFull(r, buf[:n])
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return fmt.Errorf("writing chunk at offset %d: %w", written, werr)
			}
		}
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return fmt.Errorf("reading source for %s: %w", ref, err)
		}
		if err == io.EOF {
			break
		}
	}

	if written != size {
		return fmt.Errorf("short write for %s: wrote %d, expected %d", ref, written, size)
	}

	if err := w.Commit(ctx, size, expected); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("committing %s: %w", ref, err)
	}
	return nil
}
