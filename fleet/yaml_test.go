package fleet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyDocumentYieldsEmptyFleet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("---\n"), 0o644))

	m, err := Load(path, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	assert.Empty(t, m.Cabinets())
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/fleet.yaml", nil)
	assert.Error(t, err)
}

func TestLoadRejectsBadIP(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	doc := "not-an-ip:\n  description: foo\n  region: usa\n  filename: null\n  patches: {}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownRegion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	doc := "10.0.0.1:\n  description: foo\n  region: atlantis\n  filename: null\n  patches: {}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	doc := "10.0.0.1:\n  description: foo\n  region: usa\n  filename: /nonexistent/rom.bin\n  patches: {}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestLoadValidRecord(t *testing.T) {
	dir := t.TempDir()
	romPath := filepath.Join(dir, "game.bin")
	require.NoError(t, os.WriteFile(romPath, []byte{1}, 0o644))

	path := filepath.Join(dir, "fleet.yaml")
	doc := "10.0.0.1:\n" +
		"  description: cab one\n" +
		"  region: usa\n" +
		"  filename: " + romPath + "\n" +
		"  patches: {}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	m, err := Load(path, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	require.True(t, m.Exists("10.0.0.1"))
	cab, err := m.Cabinet("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "cab one", cab.Description())
	assert.Equal(t, RegionUSA, cab.Region())
	require.NotNil(t, cab.Filename())
	assert.Equal(t, romPath, *cab.Filename())
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	romPath := filepath.Join(dir, "game.bin")
	require.NoError(t, os.WriteFile(romPath, []byte{1}, 0o644))

	m := NewManager(nil, nil)
	t.Cleanup(m.Close)
	host := &fakeHost{ip: "10.0.0.9", target: "rev-a", version: "1.0"}
	cab, err := NewCabinet(host, RegionKorea, "round trip cab", &romPath, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddCabinet(cab))

	savePath := filepath.Join(dir, "out.yaml")
	require.NoError(t, m.Save(savePath))

	reloaded, err := Load(savePath, nil)
	require.NoError(t, err)
	t.Cleanup(reloaded.Close)

	got, err := reloaded.Cabinet("10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, "round trip cab", got.Description())
	assert.Equal(t, RegionKorea, got.Region())
	require.NotNil(t, got.Filename())
	assert.Equal(t, romPath, *got.Filename())
}
