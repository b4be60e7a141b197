package bpf

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"go.uber.org/zap"
)

// Source delivers raw events to its handler.
type Source interface {
	// Poll waits up to timeout for events and hands every available one to
	// the handler. It returns the number of events handled; a timeout is
	// not an error.
	Poll(timeout time.Duration) (int, error)
	Close() error
}

// ringbufBatch bounds how many events one Poll drains, so a producer that
// keeps up cannot hold Poll forever.
const ringbufBatch = 256

type recordReader interface {
	SetDeadline(t time.Time)
	ReadInto(rec *ringbuf.Record) error
	Close() error
}

// RingbufSource reads events from a BPF ring buffer.
type RingbufSource struct {
	logger  *zap.SugaredLogger
	m       *ebpf.Map
	rd      recordReader
	handler EventHandler
	rec     ringbuf.Record
}

// NewRingbufSource takes ownership of m.
func NewRingbufSource(logger *zap.SugaredLogger, m *ebpf.Map, handler EventHandler) (*RingbufSource, error) {
	rd, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, fmt.Errorf("failed to get reader to ringbuf: %w", err)
	}

	s := newRingbufSource(logger, rd, handler)
	s.m = m

	return s, nil
}

func newRingbufSource(logger *zap.SugaredLogger, rd recordReader, handler EventHandler) *RingbufSource {
	return &RingbufSource{
		logger:  logger,
		rd:      rd,
		handler: handler,
	}
}

func (s *RingbufSource) Poll(timeout time.Duration) (int, error) {
	s.rd.SetDeadline(time.Now().Add(timeout))

	for n := 0; n < ringbufBatch; {
		err := s.rd.ReadInto(&s.rec)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, nil
		} else if errors.Is(err, ringbuf.ErrClosed) {
			s.logger.Infow("ringbuf closed")
			return n, fmt.Errorf("%w: %w", ErrSourceClosed, err)
		} else if err != nil {
			return n, fmt.Errorf("failed to read from ringbuf: %w", err)
		}

		if err := s.handler(s.rec.RawSample); err != nil {
			return n, err
		}
		n++

		// drain whatever else is already there, without waiting
		s.rd.SetDeadline(time.Unix(1, 0))
	}

	return ringbufBatch, nil
}

func (s *RingbufSource) Close() error {
	if s.m != nil {
		defer s.m.Close()
	}

	if err := s.rd.Close(); err != nil {
		return fmt.Errorf("failed to close ringbuf reader: %w", err)
	}

	return nil
}
