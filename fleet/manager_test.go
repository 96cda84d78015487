package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdleManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(nil, nil)
	t.Cleanup(m.Close)
	return m
}

func cabinetAt(t *testing.T, ip string) *Cabinet {
	t.Helper()
	c, err := NewCabinet(&fakeHost{ip: ip}, RegionUSA, "cab "+ip, nil, nil, nil)
	require.NoError(t, err)
	return c
}

func TestManagerStartsEmpty(t *testing.T) {
	m := newIdleManager(t)
	assert.Empty(t, m.Cabinets())
}

func TestAddCabinetThenExists(t *testing.T) {
	m := newIdleManager(t)
	require.NoError(t, m.AddCabinet(cabinetAt(t, "10.0.0.1")))
	assert.True(t, m.Exists("10.0.0.1"))
}

func TestAddCabinetRejectsDuplicateIP(t *testing.T) {
	m := newIdleManager(t)
	require.NoError(t, m.AddCabinet(cabinetAt(t, "10.0.0.1")))
	err := m.AddCabinet(cabinetAt(t, "10.0.0.1"))
	assert.Error(t, err)
}

func TestRemoveCabinet(t *testing.T) {
	m := newIdleManager(t)
	require.NoError(t, m.AddCabinet(cabinetAt(t, "10.0.0.1")))
	require.NoError(t, m.RemoveCabinet("10.0.0.1"))
	assert.False(t, m.Exists("10.0.0.1"))
}

func TestRemoveCabinetMissingFails(t *testing.T) {
	m := newIdleManager(t)
	assert.Error(t, m.RemoveCabinet("10.0.0.1"))
}

func TestCabinetMissingFails(t *testing.T) {
	m := newIdleManager(t)
	_, err := m.Cabinet("10.0.0.1")
	assert.Error(t, err)
}

func TestCabinetsAreSortedByIP(t *testing.T) {
	m := newIdleManager(t)
	require.NoError(t, m.AddCabinet(cabinetAt(t, "10.0.0.3")))
	require.NoError(t, m.AddCabinet(cabinetAt(t, "10.0.0.1")))
	require.NoError(t, m.AddCabinet(cabinetAt(t, "10.0.0.2")))

	cabs := m.Cabinets()
	require.Len(t, cabs, 3)
	assert.Equal(t, "10.0.0.1", cabs[0].IP())
	assert.Equal(t, "10.0.0.2", cabs[1].IP())
	assert.Equal(t, "10.0.0.3", cabs[2].IP())
}

func TestUpdateCabinetRequiresExistingIP(t *testing.T) {
	m := newIdleManager(t)
	err := m.UpdateCabinet(cabinetAt(t, "10.0.0.1"))
	assert.Error(t, err)
}

func TestUpdateCabinetRestartsInFlightTransfer(t *testing.T) {
	m := newIdleManager(t)
	host := &fakeHost{ip: "10.0.0.1", alive: true}
	filename := "game.bin"
	old, err := NewCabinet(host, RegionUSA, "old desc", &filename, nil, nil)
	require.NoError(t, err)
	old.Tick() // -> WaitPowerOn
	old.Tick() // -> SendGame
	require.NoError(t, m.AddCabinet(old))
	require.Equal(t, PhaseSendGame, old.State().Phase)

	edited, err := NewCabinet(&fakeHost{ip: "10.0.0.1"}, RegionUSA, "new desc", &filename, nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.UpdateCabinet(edited))

	got, err := m.Cabinet("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, PhaseStartup, got.State().Phase)
	assert.Equal(t, "new desc", got.Description())
}

func TestUpdateCabinetPreservesStateWhenOldWasNotSending(t *testing.T) {
	m := newIdleManager(t)
	old := cabinetAt(t, "10.0.0.1")
	old.Tick() // -> WaitPowerOn
	require.NoError(t, m.AddCabinet(old))

	edited := cabinetAt(t, "10.0.0.1")
	require.NoError(t, m.UpdateCabinet(edited))

	got, err := m.Cabinet("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, PhaseWaitPowerOn, got.State().Phase)
}

func TestCloseStopsPolling(t *testing.T) {
	m := NewManager(nil, nil)
	m.Close()
	// a second Close would panic on a closed channel; absence of panic here
	// demonstrates Close is safe to call exactly once per manager lifetime.
}
