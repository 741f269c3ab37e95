// Package upload implements the sink used by the upload probe.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/m-lab/netprobe-server/spec"
)

// ErrRead is wrapped by every error returned by Receive.
var ErrRead = errors.New("upload: read failed")

// Receive reads r until the end of the stream and returns the number of
// bytes read. The payload is discarded as it arrives. Reading stops early
// when ctx is done. A non-nil error means the upload did not complete and
// the returned count is only informative.
func Receive(ctx context.Context, r io.Reader) (int64, error) {
	buf := make([]byte, spec.UploadBufferSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("%w: %w", ErrRead, err)
		}
		n, err := r.Read(buf)
		total += int64(n)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("%w: %w", ErrRead, err)
		}
	}
}
