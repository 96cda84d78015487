package romfmt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestROM(t *testing.T, sections []Section, entrypoint uint32, body []byte) []byte {
	t.Helper()
	h := &Header{
		Serial: [4]byte{'B', 'C', 'Y', '0'},
	}
	h.MainExecutable.Sections = sections
	h.MainExecutable.Entrypoint = entrypoint
	data := append(h.Serialize(), body...)
	return data
}

func TestParseHeaderRoundTrip(t *testing.T) {
	body := make([]byte, 256)
	data := buildTestROM(t, []Section{{Offset: HeaderLength, LoadAddress: 0x0C020000, Length: 256}}, 0x0C020000, body)

	rom, err := NewROM(data)
	require.NoError(t, err)
	require.Equal(t, [4]byte{'B', 'C', 'Y', '0'}, rom.Header.Serial)
	require.Len(t, rom.Header.MainExecutable.Sections, 1)
	require.Equal(t, data[:HeaderLength], rom.Header.Serialize())
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	data := make([]byte, HeaderLength)
	_, err := ParseHeader(data)
	require.Error(t, err)
}

func TestParseHeaderRejectsSectionPastEnd(t *testing.T) {
	data := buildTestROM(t, []Section{{Offset: HeaderLength, LoadAddress: 0x1000, Length: 1024}}, 0x1000, nil)
	_, err := NewROM(data)
	require.Error(t, err)
}

func TestHeaderCloneIsIndependent(t *testing.T) {
	h := &Header{}
	h.MainExecutable.Sections = []Section{{Offset: 1, LoadAddress: 2, Length: 3}}
	clone := h.Clone()
	clone.MainExecutable.Sections[0].Length = 99
	require.Equal(t, uint32(3), h.MainExecutable.Sections[0].Length)
}

func TestSectionSentinelStopsParsing(t *testing.T) {
	h := &Header{}
	h.MainExecutable.Sections = []Section{
		{Offset: HeaderLength, LoadAddress: 0x1000, Length: 16},
	}
	data := append(h.Serialize(), make([]byte, 16)...)

	rom, err := NewROM(data)
	require.NoError(t, err)
	require.Len(t, rom.Header.MainExecutable.Sections, 1)
}
