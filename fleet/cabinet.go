// Package fleet implements the cabinet state machine and the manager that
// drives a fleet of them: observing liveness, pushing the selected ROM over
// netboot, and sequencing power cycles.
package fleet

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Phase is one state of the cabinet state machine.
type Phase string

const (
	PhaseStartup      Phase = "startup"
	PhaseWaitPowerOn  Phase = "wait_power_on"
	PhaseSendGame     Phase = "send_game"
	PhaseWaitPowerOff Phase = "wait_power_off"
)

// State is the cabinet's current phase and, for PhaseSendGame, its
// transfer progress (0-100; meaningless in any other phase).
type State struct {
	Phase    Phase
	Progress int
}

// Cabinet is one NAOMI cabinet's state machine over a netboot Host.
type Cabinet struct {
	region      Region
	description string
	patches     map[string][]string
	target      string
	version     string

	host Host
	log  *logrus.Entry

	mu              sync.Mutex
	currentFilename *string
	desiredFilename *string
	state           State
}

// NewCabinet constructs a cabinet. filename may be nil ("no ROM selected
// yet"). patches is copied defensively.
func NewCabinet(host Host, region Region, description string, filename *string, patches map[string][]string, log *logrus.Entry) (*Cabinet, error) {
	if !validRegion(region) {
		return nil, configFormatf("unrecognized region %q", region)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	copied := make(map[string][]string, len(patches))
	for rom, list := range patches {
		copied[rom] = append([]string(nil), list...)
	}

	return &Cabinet{
		region:          region,
		description:     description,
		patches:         copied,
		target:          host.Target(),
		version:         host.Version(),
		host:            host,
		log:             log,
		currentFilename: clonePtr(filename),
		desiredFilename: clonePtr(filename),
		state:           State{Phase: PhaseStartup},
	}, nil
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func (c *Cabinet) String() string {
	return fmt.Sprintf("Cabinet(ip=%q, description=%q, filename=%v, region=%s)", c.IP(), c.description, c.Filename(), c.region)
}

// IP returns the cabinet's canonical dotted-IPv4 address.
func (c *Cabinet) IP() string { return c.host.IP() }

// Target returns the cabinet's configured target board identifier, if any.
func (c *Cabinet) Target() string { return c.target }

// Version returns the cabinet's configured netboot protocol version, if any.
func (c *Cabinet) Version() string { return c.version }

// Region returns the cabinet's configured region.
func (c *Cabinet) Region() Region { return c.region }

// Description returns the cabinet's human-readable label.
func (c *Cabinet) Description() string { return c.description }

// Patches returns the rom_path -> patch list mapping. The returned map must
// not be mutated by the caller.
func (c *Cabinet) Patches() map[string][]string { return c.patches }

// Filename returns the currently desired ROM filename, or nil if none is
// selected.
func (c *Cabinet) Filename() *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clonePtr(c.desiredFilename)
}

// SetFilename selects a new ROM to push. It only updates the desired
// filename: the state machine itself advances the currently-running
// filename, once the cabinet has safely power-cycled, to avoid rebooting a
// cabinet that is merely being relabeled to the game it is already
// playing.
func (c *Cabinet) SetFilename(filename *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.desiredFilename = clonePtr(filename)
}

// State returns the current phase and progress.
func (c *Cabinet) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// cloneStateFrom atomically copies src's state into c, unless src is
// currently sending a game: a rewrite-in-flight cannot be continued by a
// new object, so the destination is left at its constructed default
// (Startup) in that case. Used by Manager.UpdateCabinet so that editing a
// cabinet's metadata does not resend a game to a cabinet that is past its
// transfer; a cabinet caught mid-transfer starts over from Startup.
func (c *Cabinet) cloneStateFrom(src *Cabinet) {
	var state *State
	src.mu.Lock()
	if src.state.Phase != PhaseSendGame {
		s := src.state
		state = &s
	}
	src.mu.Unlock()

	if state != nil {
		c.mu.Lock()
		c.state = *state
		c.mu.Unlock()
	}
}

// Tick advances the host's own state, then performs at most one state
// transition under the cabinet lock.
func (c *Cabinet) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.host.Tick()

	switch c.state.Phase {
	case PhaseStartup:
		c.state = State{Phase: PhaseWaitPowerOn}

	case PhaseWaitPowerOn:
		if !c.host.Alive() {
			return
		}
		if c.desiredFilename == nil {
			c.state = State{Phase: PhaseWaitPowerOff}
			return
		}
		patches := c.patches[*c.desiredFilename]
		if err := c.host.Send(*c.desiredFilename, patches); err != nil {
			c.log.WithError(err).WithField("ip", c.host.IP()).Warn("failed to start netboot send, will retry on the next tick")
			return
		}
		c.state = State{Phase: PhaseSendGame}

	case PhaseSendGame:
		switch c.host.Status() {
		case HostStatusInactive:
			panic(&InvariantError{Msg: fmt.Sprintf("cabinet %s is SendGame but host is Inactive", c.host.IP())})
		case HostStatusTransferring:
			current, total := c.host.Progress()
			progress := 0
			if total > 0 {
				progress = current * 100 / total
			}
			c.state = State{Phase: PhaseSendGame, Progress: progress}
		case HostStatusFailed:
			c.state = State{Phase: PhaseWaitPowerOn}
		case HostStatusCompleted:
			if err := c.host.Reboot(); err != nil {
				c.log.WithError(err).WithField("ip", c.host.IP()).Warn("reboot command failed")
			}
			c.state = State{Phase: PhaseWaitPowerOff}
		}

	case PhaseWaitPowerOff:
		if !c.host.Alive() {
			c.state = State{Phase: PhaseWaitPowerOn}
			return
		}
		if !stringPtrEqual(c.currentFilename, c.desiredFilename) {
			c.currentFilename = clonePtr(c.desiredFilename)
			c.state = State{Phase: PhaseWaitPowerOn}
		}

	default:
		panic(&InvariantError{Msg: fmt.Sprintf("cabinet %s reached impossible phase %q", c.host.IP(), c.state.Phase)})
	}
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
