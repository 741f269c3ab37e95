// Package download implements the paced byte stream served by the download
// probe. A stream is a lazy, finite sequence of equally sized chunks. Chunks
// are produced only when the consumer asks for the next one, so a slow
// transport naturally slows down production.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/m-lab/netprobe-server/logging"
)

// ErrCanceled is returned when the consumer goes away before the stream is
// exhausted, either because the context is done or because writing failed.
var ErrCanceled = errors.New("download: canceled")

// SleepFunc suspends the caller for d or until ctx is done, whichever
// happens first. It returns a non-nil error only when ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the SleepFunc backed by a real timer.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Params configures a stream.
type Params struct {
	// ChunkSize is the size in bytes of every chunk.
	ChunkSize int

	// ChunkCount is the number of chunks in the stream.
	ChunkCount int

	// Delay precedes every chunk, including the first one. Thus a stream
	// lasts at least ChunkCount*Delay.
	Delay time.Duration

	// Sleep implements Delay. When nil, Sleep is used.
	Sleep SleepFunc
}

// Validate returns an error if the params cannot describe a stream.
func (p Params) Validate() error {
	if p.ChunkSize < 0 {
		return fmt.Errorf("download: negative chunk size %d", p.ChunkSize)
	}
	if p.ChunkCount < 0 {
		return fmt.Errorf("download: negative chunk count %d", p.ChunkCount)
	}
	if p.Delay < 0 {
		return fmt.Errorf("download: negative delay %s", p.Delay)
	}
	return nil
}

// TotalBytes returns the number of bytes in a complete stream.
func (p Params) TotalBytes() int64 {
	if p.ChunkSize <= 0 || p.ChunkCount <= 0 {
		return 0
	}
	return int64(p.ChunkSize) * int64(p.ChunkCount)
}

// Stream is a single download. Streams are not safe for concurrent use and
// cannot be restarted; Open a new one instead.
type Stream struct {
	params  Params
	sleep   SleepFunc
	chunk   []byte
	emitted int
}

// Open creates a stream. No payload is allocated until the first chunk is
// requested.
func Open(p Params) *Stream {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	if p.ChunkSize < 0 {
		p.ChunkSize = 0
	}
	return &Stream{params: p, sleep: sleep}
}

func makeRandomData(size int) []byte {
	const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	data := make([]byte, size)
	// Random letters are not easily compressed by middleboxes. The content
	// is otherwise irrelevant.
	for i := range data {
		data[i] = letterBytes[rand.Intn(len(letterBytes))]
	}
	return data
}

func canceled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

// Remaining returns the number of chunks not yet produced.
func (s *Stream) Remaining() int {
	if n := s.params.ChunkCount - s.emitted; n > 0 {
		return n
	}
	return 0
}

// Next waits for the configured delay and returns the next chunk. It returns
// io.EOF once all chunks have been produced, and an error wrapping
// ErrCanceled if ctx is done first. The returned slice is reused by later
// calls, so callers must be done with it before calling Next again.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	if s.Remaining() == 0 {
		return nil, io.EOF
	}
	if s.params.Delay > 0 {
		if err := s.sleep(ctx, s.params.Delay); err != nil {
			return nil, canceled(err)
		}
	} else if err := ctx.Err(); err != nil {
		return nil, canceled(err)
	}
	if s.chunk == nil {
		s.chunk = makeRandomData(s.params.ChunkSize)
	}
	s.emitted++
	return s.chunk, nil
}

// Send writes the rest of the stream to w, flushing after every chunk when w
// supports it. It returns the number of bytes written. A nil error means the
// stream was sent completely; otherwise the error wraps ErrCanceled.
func (s *Stream) Send(ctx context.Context, w io.Writer) (int64, error) {
	logging.Logger.Debug("download: send start")
	defer logging.Logger.Debug("download: send stop")
	flusher, _ := w.(interface{ Flush() })
	var total int64
	for {
		chunk, err := s.Next(ctx)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, canceled(err)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
