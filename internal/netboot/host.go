// Package netboot implements the wire transport one NAOMI cabinet is
// driven over: a connectionless liveness probe, a chunked file push with
// progress tracking, and a reboot command, all addressed by IP over UDP.
package netboot

import (
	"encoding/binary"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gtranche/netboot/internal/patchlist"
)

// Status is the transfer status of a Host. It lives here rather than in the
// fleet package because fleet imports netboot, not the other way around;
// fleet.HostStatus is a type alias of Status, so fleet.Cabinet reads
// Status() through the narrow fleet.Host interface with no conversion.
type Status int

const (
	StatusInactive Status = iota
	StatusTransferring
	StatusFailed
	StatusCompleted
)

const (
	defaultPort  = 19810
	probeMagic   = "NBPR"
	probeTimeout = 150 * time.Millisecond
	chunkSize    = 8192
	frameTimeout = 500 * time.Millisecond
	maxRetries   = 5
)

// packetConn is the slice of net.PacketConn this package needs, narrowed
// so tests can substitute an in-memory fake instead of real sockets.
type packetConn interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	SetDeadline(t time.Time) error
	Close() error
}

// Dialer opens a packet-oriented connection to a cabinet's netboot
// listener. The default dials real UDP; tests inject a fake.
type Dialer func(ip string) (packetConn, error)

func defaultDialer(ip string) (packetConn, error) {
	raddr := &net.UDPAddr{IP: net.ParseIP(ip), Port: defaultPort}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Option configures a Host at construction.
type Option func(*Host)

// WithTarget sets the cabinet's target board identifier.
func WithTarget(target string) Option {
	return func(h *Host) { h.target = target }
}

// WithVersion sets the cabinet's netboot protocol version string.
func WithVersion(version string) Option {
	return func(h *Host) { h.version = version }
}

// WithDialer overrides how Host opens its transport connection, for tests.
func WithDialer(d Dialer) Option {
	return func(h *Host) { h.dial = d }
}

// WithLogger attaches a logger; defaults to the standard logger.
func WithLogger(log *logrus.Entry) Option {
	return func(h *Host) { h.log = log }
}

// Host is one cabinet's netboot transport.
type Host struct {
	ip      string
	target  string
	version string
	dial    Dialer
	log     *logrus.Entry

	mu       sync.Mutex
	alive    bool
	status   Status
	current  int
	total    int
	transfer *transferState
}

type transferState struct {
	data    []byte
	offset  int
	retries int
	done    bool
	failed  bool
}

// NewHost constructs a Host addressed at ip.
func NewHost(ip string, opts ...Option) *Host {
	h := &Host{
		ip:   ip,
		dial: defaultDialer,
		log:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) IP() string      { return h.ip }
func (h *Host) Target() string  { return h.target }
func (h *Host) Version() string { return h.version }

// Alive reports the cabinet's liveness as of the last Tick.
func (h *Host) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// Status reports the current transfer status.
func (h *Host) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Progress reports bytes sent so far and the total to send.
func (h *Host) Progress() (current, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current, h.total
}

// Tick probes liveness and, if a transfer is in flight, steps it forward.
// Both the probe and one transfer step are bounded by short per-call
// deadlines, keeping the per-tick budget well under the manager's 1 Hz
// poll interval even while Cabinet.lock is held for the whole call.
func (h *Host) Tick() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.alive = h.probe()

	if h.status == StatusTransferring {
		h.stepTransfer()
	}
}

func (h *Host) probe() bool {
	conn, err := h.dial(h.ip)
	if err != nil {
		return false
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(probeTimeout)); err != nil {
		return false
	}
	if _, err := conn.WriteTo([]byte(probeMagic), nil); err != nil {
		return false
	}

	buf := make([]byte, 4)
	n, _, err := conn.ReadFrom(buf)
	return err == nil && n == 4 && string(buf) == "NBOK"
}

// stepTransfer sends the next chunk of the in-flight transfer and waits
// (within frameTimeout) for its ack, advancing current on success and
// retrying up to maxRetries times on a timeout before failing the
// transfer.
func (h *Host) stepTransfer() {
	t := h.transfer
	if t == nil || t.done {
		return
	}

	conn, err := h.dial(h.ip)
	if err != nil {
		h.failTransfer()
		return
	}
	defer conn.Close()

	end := t.offset + chunkSize
	if end > len(t.data) {
		end = len(t.data)
	}
	frame := encodeFrame(uint32(t.offset), t.data[t.offset:end])

	if err := conn.SetDeadline(time.Now().Add(frameTimeout)); err != nil {
		h.failTransfer()
		return
	}
	if _, err := conn.WriteTo(frame, nil); err != nil {
		h.retryOrFail()
		return
	}

	ack := make([]byte, 4)
	n, _, err := conn.ReadFrom(ack)
	if err != nil || n != 4 || binary.LittleEndian.Uint32(ack) != uint32(t.offset) {
		h.retryOrFail()
		return
	}

	t.retries = 0
	t.offset = end
	h.current = t.offset
	if t.offset >= len(t.data) {
		t.done = true
		h.status = StatusCompleted
	}
}

func (h *Host) retryOrFail() {
	h.transfer.retries++
	if h.transfer.retries > maxRetries {
		h.failTransfer()
	}
}

func (h *Host) failTransfer() {
	h.transfer.done = true
	h.transfer.failed = true
	h.status = StatusFailed
}

func encodeFrame(offset uint32, chunk []byte) []byte {
	frame := make([]byte, 4+len(chunk))
	binary.LittleEndian.PutUint32(frame, offset)
	copy(frame[4:], chunk)
	return frame
}

// Send reads romPath, applies the named patch scripts in order, and begins
// transmitting the result. Patch application happens here (rather than in
// the caller) because it is this transport's job to produce the exact
// bytes that land on the cabinet; the settings patcher, by contrast, is
// run offline against the ROM file beforehand (naomiboot bake).
func (h *Host) Send(romPath string, patchPaths []string) error {
	data, err := os.ReadFile(romPath)
	if err != nil {
		return err
	}

	for _, patchPath := range patchPaths {
		script, err := os.ReadFile(patchPath)
		if err != nil {
			return err
		}
		ops, err := patchlist.Parse(string(script))
		if err != nil {
			return err
		}
		data, err = patchlist.Apply(data, ops)
		if err != nil {
			return err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.transfer = &transferState{data: data}
	h.current = 0
	h.total = len(data)
	h.status = StatusTransferring
	return nil
}

// Reboot sends the power-cycle command.
func (h *Host) Reboot() error {
	conn, err := h.dial(h.ip)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(probeTimeout)); err != nil {
		return err
	}
	_, err = conn.WriteTo([]byte("NBRB"), nil)
	return err
}
