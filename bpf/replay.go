package bpf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// replayBatch bounds how many events one Poll hands out, so a caller
// checking for cancellation between polls stays responsive.
const replayBatch = 64

// ReplaySource feeds events from a file of back-to-back encoded call stacks,
// as written by a Recorder. It returns io.EOF once the file is exhausted.
type ReplaySource struct {
	r       *bufio.Reader
	c       io.Closer
	handler EventHandler
	buf     []byte
}

func OpenReplay(path string, handler EventHandler) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}

	s := NewReplaySource(f, handler)
	s.c = f

	return s, nil
}

func NewReplaySource(r io.Reader, handler EventHandler) *ReplaySource {
	return &ReplaySource{
		r:       bufio.NewReader(r),
		handler: handler,
		buf:     make([]byte, CallStackSize),
	}
}

// Poll ignores timeout: replayed data is always available.
func (s *ReplaySource) Poll(_ time.Duration) (int, error) {
	for n := 0; n < replayBatch; n++ {
		_, err := io.ReadFull(s.r, s.buf)
		if errors.Is(err, io.EOF) {
			return n, io.EOF
		} else if errors.Is(err, io.ErrUnexpectedEOF) {
			return n, fmt.Errorf("%w: truncated replay file", ErrShortRecord)
		} else if err != nil {
			return n, fmt.Errorf("failed to read replay file: %w", err)
		}

		if err := s.handler(s.buf); err != nil {
			return n, err
		}
	}

	return replayBatch, nil
}

func (s *ReplaySource) Close() error {
	if s.c == nil {
		return nil
	}

	return s.c.Close()
}

// Recorder appends raw events to w in the format ReplaySource reads.
type Recorder struct {
	w io.Writer
}

func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

// Wrap returns a handler that records every event before passing it on.
func (r *Recorder) Wrap(next EventHandler) EventHandler {
	return func(data []byte) error {
		if len(data) >= CallStackSize {
			if _, err := r.w.Write(data[:CallStackSize]); err != nil {
				return fmt.Errorf("failed to record event: %w", err)
			}
		}

		return next(data)
	}
}
