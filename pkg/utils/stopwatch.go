package utils

import (
	"sync"
	"time"
)

// Lap is one recorded phase of a Stopwatch.
type Lap struct {
	Name     string
	Duration time.Duration
}

// Stopwatch records named phases in the order they finish and reports them
// through a Logger. A nil logger keeps the stopwatch silent.
type Stopwatch struct {
	mu     sync.Mutex
	name   string
	clock  Clock
	logger Logger
	start  time.Time
	laps   []Lap
}

// StopwatchOption configures a Stopwatch.
type StopwatchOption func(*Stopwatch)

// WithClock sets a custom clock for testability.
func WithClock(clock Clock) StopwatchOption {
	return func(s *Stopwatch) {
		s.clock = clock
	}
}

// WithLogger sets the logger laps are reported to.
func WithLogger(logger Logger) StopwatchOption {
	return func(s *Stopwatch) {
		s.logger = logger
	}
}

// NewStopwatch creates a started Stopwatch.
func NewStopwatch(name string, opts ...StopwatchOption) *Stopwatch {
	s := &Stopwatch{
		name:  name,
		clock: SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.start = s.clock.Now()
	return s
}

// Phase starts a phase and returns the function that stops it.
//
//	defer sw.Phase("aggregate")()
func (s *Stopwatch) Phase(name string) func() time.Duration {
	begin := s.clock.Now()
	var once sync.Once
	var d time.Duration
	return func() time.Duration {
		once.Do(func() {
			d = s.clock.Now().Sub(begin)
			s.mu.Lock()
			s.laps = append(s.laps, Lap{Name: name, Duration: d})
			s.mu.Unlock()
			if s.logger != nil {
				s.logger.Debug("[%s] %s took %s", s.name, name, d.Round(time.Microsecond))
			}
		})
		return d
	}
}

// Laps returns a copy of the finished phases.
func (s *Stopwatch) Laps() []Lap {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Lap, len(s.laps))
	copy(out, s.laps)
	return out
}

// Total returns the time elapsed since the stopwatch was created.
func (s *Stopwatch) Total() time.Duration {
	return s.clock.Now().Sub(s.start)
}
