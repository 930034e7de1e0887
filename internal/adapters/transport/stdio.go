package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/pkg/logger"
	"github.com/okian/parley/pkg/metrics"
)

const maxFrame = 1 << 20

// Stdio reads JSON event lines from r and writes JSON reply lines to w.
type Stdio struct {
	base
	r io.Reader

	wmu sync.Mutex
	w   io.Writer
}

// NewStdio creates a line-oriented JSON transport.
func NewStdio(r io.Reader, w io.Writer, opts ...Option) *Stdio {
	s := &Stdio{r: r, w: w}
	s.init("stdio", opts)
	return s
}

// Start begins reading. Events is closed at end of input.
func (s *Stdio) Start(ctx context.Context) error {
	go s.readLoop(ctx)
	return nil
}

func (s *Stdio) readLoop(ctx context.Context) {
	defer s.closeEvents()
	sc := bufio.NewScanner(s.r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrame)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := s.decode(line)
		if err != nil {
			s.logger.Warn(ctx, "skipping frame", logger.Error(err))
			continue
		}
		if !s.deliver(ctx, ev) && ctx.Err() != nil {
			return
		}
	}
	if err := sc.Err(); err != nil {
		s.logger.Error(ctx, "read failed", logger.Error(err))
	}
}

// Send writes msg as one JSON line.
func (s *Stdio) Send(_ context.Context, msg model.Message) error {
	bs, err := encode(msg)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.w.Write(append(bs, '\n')); err != nil {
		metrics.RecordTransportFrame(s.name, "out", "error")
		return err
	}
	metrics.RecordTransportFrame(s.name, "out", "ok")
	return nil
}

// Stop is a no-op; the reader ends with its input.
func (s *Stdio) Stop(context.Context) error { return nil }
