package supervisor

import (
	"fmt"
	"time"
)

// Strategy decides how long to wait before restarting a crashed worker.
type Strategy interface {
	// Delay returns the pause before the next restart given the number of
	// consecutive failures so far (1 for the first crash).
	Delay(failures int) time.Duration
}

// NewStrategy builds a restart strategy by name.
//
// "always" restarts immediately after every crash. "backoff" doubles the
// pause from initial up to max on consecutive crashes, so a worker that
// dies on startup does not spin the supervisor.
func NewStrategy(name string, initial, max time.Duration) (Strategy, error) {
	switch name {
	case "always":
		return alwaysStrategy{}, nil
	case "backoff":
		if initial <= 0 {
			initial = time.Second
		}
		if max < initial {
			max = initial
		}
		return backoffStrategy{initial: initial, max: max}, nil
	default:
		return nil, fmt.Errorf("unknown restart strategy %q", name)
	}
}

type alwaysStrategy struct{}

func (alwaysStrategy) Delay(failures int) time.Duration {
	return 0
}

type backoffStrategy struct {
	initial time.Duration
	max     time.Duration
}

func (s backoffStrategy) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}

	delay := s.initial
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.max {
			return s.max
		}
	}

	if delay > s.max {
		return s.max
	}
	return delay
}
