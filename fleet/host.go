package fleet

import "github.com/gtranche/netboot/internal/netboot"

// HostStatus is the current phase of a netboot transfer (re-exported from
// internal/netboot so callers of this package never need to import it
// directly).
type HostStatus = netboot.Status

const (
	HostStatusInactive     = netboot.StatusInactive
	HostStatusTransferring = netboot.StatusTransferring
	HostStatusFailed       = netboot.StatusFailed
	HostStatusCompleted    = netboot.StatusCompleted
)

// Host is the narrow slice of NetbootTransport the cabinet state machine
// drives. internal/netboot.Host implements it against a real UDP
// transport; tests substitute a fake.
type Host interface {
	// Tick advances the host's own liveness/transfer state. Cabinet.Tick
	// calls this once per tick before reading any other method, and the
	// two must observe a consistent snapshot in between.
	Tick()
	Alive() bool
	Send(filename string, patches []string) error
	Reboot() error
	Status() HostStatus
	Progress() (current, total int)
	IP() string
	Target() string
	Version() string
}
