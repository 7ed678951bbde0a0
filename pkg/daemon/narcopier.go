package daemon

import (
	"io"

	"github.com/Enzime/hnix-store/pkg/nar"
)

// copyNAR reads exactly one complete NAR archive from src and writes it to
// dst. It parses the NAR structure to determine when the archive ends,
// which is necessary because the Nix daemon sends raw NAR data without a
// length prefix; see pkg/nar for the grammar scanner itself.
func copyNAR(dst io.Writer, src io.Reader) error {
	return nar.CopyOne(dst, src)
}

// countingWriter wraps an io.Writer, tracking the total number of bytes
// written through it. nar.CopyOne reports only an error, not a count, so
// callers that need byte totals for metrics wrap their destination in one
// of these instead.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)

	return n, err
}
