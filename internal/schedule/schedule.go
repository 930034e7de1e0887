// Package schedule turns cron entries into synthetic tick events.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/pkg/logger"
	"github.com/okian/parley/pkg/metrics"
)

// Entry is one scheduled announcement.
type Entry struct {
	Name    string `koanf:"name"`
	Cron    string `koanf:"cron"`
	Target  string `koanf:"target"`
	Payload string `koanf:"payload"`
}

type compiled struct {
	Entry
	expr *cronexpr.Expression
}

// Scheduler emits a tick event whenever an entry comes due.
type Scheduler struct {
	entries []compiled
	now     func() time.Time
	logger  logger.Logger
}

// New validates entries and builds a scheduler.
func New(entries []Entry, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		now:    time.Now,
		logger: logger.Get().Named("schedule"),
	}
	for _, opt := range opts {
		opt(s)
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Name) == "" || strings.TrimSpace(e.Target) == "" {
			return nil, fmt.Errorf("%w: name and target are required", ErrInvalidEntry)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("%w: duplicate name %s", ErrInvalidEntry, e.Name)
		}
		seen[e.Name] = true
		expr, err := cronexpr.Parse(e.Cron)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEntry, e.Name, err)
		}
		s.entries = append(s.entries, compiled{Entry: e, expr: expr})
	}
	return s, nil
}

// Len returns the number of entries.
func (s *Scheduler) Len() int { return len(s.entries) }

// Next returns the earliest fire time after t and the entries due then.
// It returns the zero time when nothing will fire again.
func (s *Scheduler) Next(t time.Time) (time.Time, []Entry) {
	var (
		at  time.Time
		due []Entry
	)
	for _, c := range s.entries {
		n := c.expr.Next(t)
		if n.IsZero() {
			continue
		}
		switch {
		case at.IsZero() || n.Before(at):
			at = n
			due = []Entry{c.Entry}
		case n.Equal(at):
			due = append(due, c.Entry)
		}
	}
	return at, due
}

// Tick builds the event for e firing at t. Ticks aimed at a nick come
// from that nick so replies route back to it.
func Tick(e Entry, t time.Time) model.Event {
	ev := model.Event{
		Kind:    model.KindTick,
		Target:  e.Target,
		Payload: e.Payload,
		TS:      t,
	}
	if !model.IsChannelName(e.Target) {
		ev.Source = model.Prefix{Nick: e.Target}
	}
	return ev
}

// Run emits ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context, emit func(model.Event)) error {
	if len(s.entries) == 0 {
		<-ctx.Done()
		return nil
	}
	for {
		at, due := s.Next(s.now())
		if at.IsZero() {
			s.logger.Info(ctx, "no further schedule entries")
			<-ctx.Done()
			return nil
		}
		timer := time.NewTimer(time.Until(at))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		for _, e := range due {
			metrics.RecordScheduleTick(e.Name)
			s.logger.Debug(ctx, "tick", logger.String("entry", e.Name), logger.String("target", e.Target))
			emit(Tick(e, at))
		}
	}
}
