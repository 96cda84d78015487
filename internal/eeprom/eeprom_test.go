package eeprom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsWellFormedImage(t *testing.T) {
	img := BuildForTesting([4]byte{'B', 'C', 'Y', '0'})
	require.True(t, Validate(img))
	require.Equal(t, [4]byte{'B', 'C', 'Y', '0'}, Serial(img))
}

func TestValidateRejectsWrongLength(t *testing.T) {
	require.False(t, Validate(make([]byte, 100)))
	require.False(t, Validate(make([]byte, 256)))
}

func TestValidateRejectsMismatchedBackup(t *testing.T) {
	img := BuildForTesting([4]byte{'B', 'C', 'Y', '0'})
	img[systemBackupOff+serialOffsetInBlk] = 'X'
	require.False(t, Validate(img))
}

func TestValidateRejectsBadChecksum(t *testing.T) {
	img := BuildForTesting([4]byte{'B', 'C', 'Y', '0'})
	img[1] ^= 0xFF
	require.False(t, Validate(img))
}

func TestSpecSerialOffsetsMatchBothCopies(t *testing.T) {
	img := BuildForTesting([4]byte{'A', 'B', 'C', 'D'})
	require.Equal(t, []byte("ABCD"), img[3:7])
	require.Equal(t, []byte("ABCD"), img[21:25])
}
