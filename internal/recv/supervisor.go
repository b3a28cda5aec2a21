package recv

import "time"

// DefaultFinalizeTimeout is how long a stream may wait for missing frames
// after its final marker before being forced to completion.
const DefaultFinalizeTimeout = 10 * time.Second

// Supervisor owns the completion policy: it forces streams past their
// finalization deadline and decides when the whole run may stop. The receive
// loop polls it on every channel-read timeout; the poll interval is the
// loop's read timeout, which exists only so the supervisor gets a chance to
// re-check deadlines while no data is arriving.
type Supervisor struct {
	finalize time.Duration
	clock    func() time.Time
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorClock overrides the time source (for tests).
func WithSupervisorClock(now func() time.Time) SupervisorOption {
	return func(s *Supervisor) { s.clock = now }
}

// NewSupervisor builds a supervisor with the given finalization timeout.
// A non-positive timeout falls back to the default.
func NewSupervisor(finalize time.Duration, opts ...SupervisorOption) *Supervisor {
	if finalize <= 0 {
		finalize = DefaultFinalizeTimeout
	}
	s := &Supervisor{finalize: finalize, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick re-evaluates finalization deadlines, forcing expired streams to
// completion. Returns the number of streams forced.
func (s *Supervisor) Tick(d *Demux) int {
	return d.ForceExpired(s.clock(), s.finalize)
}

// RunDone reports whether the receive loop may terminate: every subscribed
// stream has completed. Never true in accept-all mode.
func (s *Supervisor) RunDone(d *Demux) bool {
	return d.AllSubscribedComplete()
}
