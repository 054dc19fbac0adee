package executor

import (
	"io"
	"os"
	"os/exec"

	runc "github.com/containerd/go-runc"

	"github.com/containerd/wasm-shim/internal/engine"
)

// StdioPaths are the three named fifos containerd creates and passes
// to the shim for a task's stdio, or empty strings for a stream the
// caller didn't request (detached task).
type StdioPaths struct {
	Stdin  string
	Stdout string
	Stderr string
}

// directIO implements [runc.IO] over already-open files, dup2'ing a
// detached task's unset streams onto /dev/null so the child process
// never blocks writing to a stream nobody is reading.
type directIO struct {
	in           *os.File
	out, errFile *os.File
}

var _ runc.IO = (*directIO)(nil)

func (d *directIO) Stdin() io.WriteCloser { return nil }
func (d *directIO) Stdout() io.ReadCloser { return nil }
func (d *directIO) Stderr() io.ReadCloser { return nil }
func (d *directIO) Close() error {
	closeAll(d.in, d.out, d.errFile)
	return nil
}

// Set implements [runc.IO] by attaching the already-open fifos
// directly as the child's file descriptors, which is the "direct"
// (as opposed to relayed-through-a-pipe-in-this-process) stdio mode.
func (d *directIO) Set(cmd *exec.Cmd) {
	cmd.Stdin = d.in
	cmd.Stdout = d.out
	cmd.Stderr = d.errFile
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}

// Open opens the paths present in p (dup2-ing onto /dev/null for any
// left empty) and returns a [runc.IO] ready to hand to runc create.
func (p StdioPaths) Open() (runc.IO, error) {
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	in := openOr(p.Stdin, os.O_RDONLY, null)
	out := openOr(p.Stdout, os.O_WRONLY, null)
	errf := openOr(p.Stderr, os.O_WRONLY, null)
	return &directIO{in: in, out: out, errFile: errf}, nil
}

func openOr(path string, flag int, fallback *os.File) *os.File {
	if path == "" {
		return fallback
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return fallback
	}
	return f
}

// OpenEngine builds the [engine.Stdio] an in-process wasm run needs,
// reusing the same fifo paths as the runc path so dispatch between
// the two targets is otherwise invisible to the task service.
func (p StdioPaths) OpenEngine() (engine.Stdio, error) {
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return engine.Stdio{}, err
	}
	return engine.Stdio{
		Stdin:  openOr(p.Stdin, os.O_RDONLY, null),
		Stdout: openOr(p.Stdout, os.O_WRONLY, null),
		Stderr: openOr(p.Stderr, os.O_WRONLY, null),
	}, nil
}
