package fleet

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager owns a fleet of cabinets keyed by canonical IP and runs the 1 Hz
// poll loop that drives each cabinet's state machine.
type Manager struct {
	log *logrus.Entry

	mu       sync.Mutex
	cabinets map[string]*Cabinet

	pollInterval time.Duration
	stop         chan struct{}
	wg           sync.WaitGroup
	started      bool
}

// NewManager constructs a manager over the given cabinets (keyed by their
// own IP) and starts its poll loop immediately, matching the upstream
// project's daemon-thread-at-construction behavior.
func NewManager(cabinets []*Cabinet, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{
		log:          log,
		cabinets:     make(map[string]*Cabinet, len(cabinets)),
		pollInterval: time.Second,
		stop:         make(chan struct{}),
	}
	for _, c := range cabinets {
		m.cabinets[c.IP()] = c
	}
	m.startPolling()
	return m
}

func (m *Manager) startPolling() {
	if m.started {
		return
	}
	m.started = true
	m.wg.Add(1)
	go m.pollLoop()
}

func (m *Manager) pollLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			for _, cab := range m.snapshot() {
				cab.Tick()
			}
		}
	}
}

// snapshot copies out the current cabinet set, sorted by IP, without
// holding the manager lock while cabinets are ticked.
func (m *Manager) snapshot() []*Cabinet {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Cabinet, 0, len(m.cabinets))
	for _, c := range m.cabinets {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP() < out[j].IP() })
	return out
}

// Close stops the poll loop and waits for any in-flight tick to finish. It
// does not save the fleet to disk; callers that want that call Save
// themselves (Save still works after Close).
func (m *Manager) Close() {
	close(m.stop)
	m.wg.Wait()
}

// AddCabinet adds a new cabinet, failing if one with the same IP already
// exists.
func (m *Manager) AddCabinet(c *Cabinet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cabinets[c.IP()]; ok {
		return fleetOpf("there is already a cabinet with IP %s", c.IP())
	}
	m.cabinets[c.IP()] = c
	return nil
}

// RemoveCabinet removes a cabinet, failing if none exists at ip.
func (m *Manager) RemoveCabinet(ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cabinets[ip]; !ok {
		return fleetOpf("there is no cabinet with IP %s", ip)
	}
	delete(m.cabinets, ip)
	return nil
}

// UpdateCabinet replaces the cabinet at c.IP() with c, failing if absent.
// Before replacing, it clones the old cabinet's state into c per
// Cabinet.cloneStateFrom, so editing metadata does not resend a game to a
// cabinet that is past its transfer; a cabinet caught mid-transfer starts
// over from Startup.
func (m *Manager) UpdateCabinet(c *Cabinet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.cabinets[c.IP()]
	if !ok {
		return fleetOpf("there is no cabinet with IP %s", c.IP())
	}
	c.cloneStateFrom(old)
	m.cabinets[c.IP()] = c
	return nil
}

// Cabinet returns the cabinet at ip, failing if absent.
func (m *Manager) Cabinet(ip string) (*Cabinet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cabinets[ip]
	if !ok {
		return nil, fleetOpf("there is no cabinet with IP %s", ip)
	}
	return c, nil
}

// Cabinets returns every cabinet, sorted by IP.
func (m *Manager) Cabinets() []*Cabinet {
	return m.snapshot()
}

// Exists reports whether a cabinet with ip is present.
func (m *Manager) Exists(ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cabinets[ip]
	return ok
}
