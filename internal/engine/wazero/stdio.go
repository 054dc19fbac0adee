package wazero

import "io"

func stdinOrEmpty(r io.Reader) io.Reader {
	if r == nil {
		return emptyReader{}
	}
	return r
}

func stdoutOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

type emptyReader struct{}

func (emptyReader) Read(_ []byte) (int, error) { return 0, io.EOF }
