// Package supervisor runs the two alert sources as independently
// supervised long-running units. A fault in one unit restarts that
// unit alone; the other keeps running.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/uialert/stock-alert-monitor/internal/obs"
)

// State is the lifecycle state of a supervised unit.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFaulted  State = "faulted"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Unit is a long-running task. Run blocks until the context is
// canceled or the unit fails; a nil or context error means a clean
// stop, anything else is a fault.
type Unit interface {
	Name() string
	Run(ctx context.Context) error
}

type supervised struct {
	unit     Unit
	state    State
	restarts int
	lastErr  error
}

// Supervisor owns the lifecycle of its units.
type Supervisor struct {
	restartBase time.Duration
	restartMax  time.Duration

	mu     sync.Mutex
	units  []*supervised
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRestartBackoff overrides the restart backoff bounds.
func WithRestartBackoff(base, max time.Duration) Option {
	return func(s *Supervisor) {
		s.restartBase = base
		s.restartMax = max
	}
}

// New creates a Supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		restartBase: 5 * time.Second,
		restartMax:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a unit. Must be called before Start.
func (s *Supervisor) Add(u Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = append(s.units, &supervised{unit: u, state: StateStopped})
}

// Start launches every registered unit in its own goroutine.
func (s *Supervisor) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	units := s.units
	s.mu.Unlock()
	for _, su := range units {
		s.wg.Add(1)
		go s.supervise(ctx, su)
	}
}

// Stop cancels all units and waits for them to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// supervise runs one unit's restart loop. A fault transitions the unit
// back to starting after a backoff that grows with consecutive faults
// and resets after a sufficiently long run.
func (s *Supervisor) supervise(ctx context.Context, su *supervised) {
	defer s.wg.Done()
	consecutive := 0
	for {
		s.setState(su, StateStarting, nil)
		s.setState(su, StateRunning, nil)
		started := time.Now()
		err := su.unit.Run(ctx)

		if err == nil || ctx.Err() != nil {
			s.setState(su, StateStopping, nil)
			s.setState(su, StateStopped, nil)
			obs.Logger.Info("unit_stopped", "unit", su.unit.Name())
			return
		}

		// Treat a long healthy run as recovery.
		if time.Since(started) > s.restartMax {
			consecutive = 0
		}
		consecutive++
		s.mu.Lock()
		su.restarts++
		s.mu.Unlock()
		s.setState(su, StateFaulted, err)

		backoff := s.restartBase << (consecutive - 1)
		if backoff > s.restartMax || backoff <= 0 {
			backoff = s.restartMax
		}
		obs.Logger.Error("unit_faulted",
			"unit", su.unit.Name(),
			"error", err,
			"restart_in_sec", backoff.Seconds(),
		)
		select {
		case <-ctx.Done():
			s.setState(su, StateStopped, nil)
			return
		case <-time.After(backoff):
		}
	}
}

func (s *Supervisor) setState(su *supervised, st State, err error) {
	s.mu.Lock()
	su.state = st
	if err != nil {
		su.lastErr = err
	}
	s.mu.Unlock()
}

// UnitStatus describes one unit for the status API.
type UnitStatus struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Restarts int    `json:"restarts"`
	LastErr  string `json:"last_error,omitempty"`
}

// States returns a snapshot of every unit's lifecycle state.
func (s *Supervisor) States() []UnitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UnitStatus, 0, len(s.units))
	for _, su := range s.units {
		us := UnitStatus{Name: su.unit.Name(), State: su.state, Restarts: su.restarts}
		if su.lastErr != nil {
			us.LastErr = su.lastErr.Error()
		}
		out = append(out, us)
	}
	return out
}
