package netboot

import (
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory packetConn that answers probes and transfer
// frames the way a real NAOMI netboot listener would, without a socket.
type fakeConn struct {
	closed   bool
	deadline time.Time
	last     []byte

	// reply queues the next bytes ReadFrom hands back, or nil to time out.
	reply func(written []byte) []byte
}

func (c *fakeConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	c.last = append([]byte(nil), b...)
	return len(b), nil
}

func (c *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	if c.reply == nil {
		return 0, nil, os.ErrDeadlineExceeded
	}
	resp := c.reply(c.last)
	if resp == nil {
		return 0, nil, os.ErrDeadlineExceeded
	}
	n := copy(b, resp)
	return n, nil, nil
}

func (c *fakeConn) SetDeadline(t time.Time) error { c.deadline = t; return nil }
func (c *fakeConn) Close() error                  { c.closed = true; return nil }

var _ packetConn = (*fakeConn)(nil)

func okDialer(conn *fakeConn) Dialer {
	return func(ip string) (packetConn, error) { return conn, nil }
}

func TestTickProbeAlive(t *testing.T) {
	conn := &fakeConn{reply: func([]byte) []byte { return []byte("NBOK") }}
	h := NewHost("10.0.0.5", WithDialer(okDialer(conn)))

	h.Tick()

	assert.True(t, h.Alive())
	assert.True(t, conn.closed)
}

func TestTickProbeDead(t *testing.T) {
	conn := &fakeConn{reply: nil}
	h := NewHost("10.0.0.5", WithDialer(okDialer(conn)))

	h.Tick()

	assert.False(t, h.Alive())
}

func TestSendReadsRomAndStartsTransfer(t *testing.T) {
	dir := t.TempDir()
	romPath := filepath.Join(dir, "game.bin")
	require.NoError(t, os.WriteFile(romPath, []byte{1, 2, 3, 4, 5}, 0o644))

	conn := &fakeConn{reply: func([]byte) []byte { return []byte("NBOK") }}
	h := NewHost("10.0.0.5", WithDialer(okDialer(conn)))

	require.NoError(t, h.Send(romPath, nil))

	assert.Equal(t, StatusTransferring, h.Status())
	cur, total := h.Progress()
	assert.Equal(t, 0, cur)
	assert.Equal(t, 5, total)
}

func TestSendAppliesPatches(t *testing.T) {
	dir := t.TempDir()
	romPath := filepath.Join(dir, "game.bin")
	require.NoError(t, os.WriteFile(romPath, make([]byte, 8), 0o644))

	patchPath := filepath.Join(dir, "p.patch")
	require.NoError(t, os.WriteFile(patchPath, []byte("write at 0 = AA BB"), 0o644))

	conn := &fakeConn{}
	h := NewHost("10.0.0.5", WithDialer(okDialer(conn)))

	require.NoError(t, h.Send(romPath, []string{patchPath}))

	_, total := h.Progress()
	assert.Equal(t, 8, total)
	assert.Equal(t, []byte{0xAA, 0xBB, 0, 0, 0, 0, 0, 0}, h.transfer.data)
}

func TestSendMissingRomFails(t *testing.T) {
	h := NewHost("10.0.0.5")
	err := h.Send("/nonexistent/rom.bin", nil)
	assert.Error(t, err)
}

func TestStepTransferAdvancesOnAck(t *testing.T) {
	dir := t.TempDir()
	romPath := filepath.Join(dir, "game.bin")
	data := make([]byte, chunkSize+10)
	require.NoError(t, os.WriteFile(romPath, data, 0o644))

	conn := &fakeConn{reply: func(written []byte) []byte {
		ack := make([]byte, 4)
		binary.LittleEndian.PutUint32(ack, binary.LittleEndian.Uint32(written))
		return ack
	}}
	h := NewHost("10.0.0.5", WithDialer(okDialer(conn)))
	require.NoError(t, h.Send(romPath, nil))

	h.mu.Lock()
	h.stepTransfer()
	h.mu.Unlock()

	cur, _ := h.Progress()
	assert.Equal(t, chunkSize, cur)
	assert.Equal(t, StatusTransferring, h.Status())
}

func TestStepTransferCompletesOnFinalChunk(t *testing.T) {
	dir := t.TempDir()
	romPath := filepath.Join(dir, "game.bin")
	data := make([]byte, 10)
	require.NoError(t, os.WriteFile(romPath, data, 0o644))

	conn := &fakeConn{reply: func(written []byte) []byte {
		ack := make([]byte, 4)
		binary.LittleEndian.PutUint32(ack, binary.LittleEndian.Uint32(written))
		return ack
	}}
	h := NewHost("10.0.0.5", WithDialer(okDialer(conn)))
	require.NoError(t, h.Send(romPath, nil))

	h.mu.Lock()
	h.stepTransfer()
	h.mu.Unlock()

	assert.Equal(t, StatusCompleted, h.Status())
}

func TestStepTransferRetriesThenFails(t *testing.T) {
	dir := t.TempDir()
	romPath := filepath.Join(dir, "game.bin")
	require.NoError(t, os.WriteFile(romPath, make([]byte, 10), 0o644))

	conn := &fakeConn{reply: nil}
	h := NewHost("10.0.0.5", WithDialer(okDialer(conn)))
	require.NoError(t, h.Send(romPath, nil))

	for i := 0; i <= maxRetries; i++ {
		h.mu.Lock()
		h.stepTransfer()
		h.mu.Unlock()
	}

	assert.Equal(t, StatusFailed, h.Status())
}

func TestRebootWritesCommand(t *testing.T) {
	conn := &fakeConn{reply: func([]byte) []byte { return nil }}
	h := NewHost("10.0.0.5", WithDialer(okDialer(conn)))

	require.NoError(t, h.Reboot())
	assert.Equal(t, []byte("NBRB"), conn.last)
}
