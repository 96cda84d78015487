// Package romfmt parses and serializes the NAOMI ROM header this module
// patches. The real header format lives in the fleet's ROM toolchain
// (NaomiRom in the upstream Python project); this is a self-contained
// reimplementation of the surface the settings patcher needs: a fixed-size
// header holding a game serial, a main executable section table (capped at
// eight entries) and an entrypoint.
package romfmt

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderLength is the size in bytes of the fixed ROM header that
	// precedes the executable body.
	HeaderLength = 0x360

	// MaxSections is the maximum number of sections the main executable's
	// section table can hold.
	MaxSections = 8

	magicOffset      = 0x000
	magicLength      = 4
	serialOffset     = 0x008
	serialLength     = 4
	descOffset       = 0x010
	descLength       = 16
	sectionTableOff  = 0x020
	sectionEntryLen  = 12
	entrypointOffset = sectionTableOff + MaxSections*sectionEntryLen // 0x080

	// sectionSentinel marks an unused section-table slot, terminating the
	// list early. Real NAOMI-family headers use the same all-ones
	// sentinel word.
	sectionSentinel = 0xFFFFFFFF
)

var magic = [magicLength]byte{'N', 'A', 'O', 'M'}

// Section describes one loadable region of the ROM's executable.
type Section struct {
	Offset      uint32
	LoadAddress uint32
	Length      uint32
}

// Executable is the ROM's main (and only, in this format) executable: an
// ordered section table plus the address execution begins at.
type Executable struct {
	Sections   []Section
	Entrypoint uint32
}

// Header is the fixed-size region at the front of a ROM image.
type Header struct {
	Serial         [4]byte
	Description    [16]byte
	MainExecutable Executable
}

// ParseHeader reads a Header from the first HeaderLength bytes of data.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderLength {
		return nil, fmt.Errorf("romfmt: header requires %d bytes, got %d", HeaderLength, len(data))
	}
	if string(data[magicOffset:magicOffset+magicLength]) != string(magic[:]) {
		return nil, fmt.Errorf("romfmt: bad magic %q", data[magicOffset:magicOffset+magicLength])
	}

	h := &Header{}
	copy(h.Serial[:], data[serialOffset:serialOffset+serialLength])
	copy(h.Description[:], data[descOffset:descOffset+descLength])

	for i := 0; i < MaxSections; i++ {
		off := sectionTableOff + i*sectionEntryLen
		offset := binary.LittleEndian.Uint32(data[off : off+4])
		if offset == sectionSentinel {
			break
		}
		h.MainExecutable.Sections = append(h.MainExecutable.Sections, Section{
			Offset:      offset,
			LoadAddress: binary.LittleEndian.Uint32(data[off+4 : off+8]),
			Length:      binary.LittleEndian.Uint32(data[off+8 : off+12]),
		})
	}
	h.MainExecutable.Entrypoint = binary.LittleEndian.Uint32(data[entrypointOffset : entrypointOffset+4])

	return h, nil
}

// Serialize renders the header back to its on-disk HeaderLength-byte form.
func (h *Header) Serialize() []byte {
	out := make([]byte, HeaderLength)
	copy(out[magicOffset:], magic[:])
	copy(out[serialOffset:], h.Serial[:])
	copy(out[descOffset:], h.Description[:])

	for i := 0; i < MaxSections; i++ {
		off := sectionTableOff + i*sectionEntryLen
		if i >= len(h.MainExecutable.Sections) {
			binary.LittleEndian.PutUint32(out[off:], sectionSentinel)
			continue
		}
		sec := h.MainExecutable.Sections[i]
		binary.LittleEndian.PutUint32(out[off:], sec.Offset)
		binary.LittleEndian.PutUint32(out[off+4:], sec.LoadAddress)
		binary.LittleEndian.PutUint32(out[off+8:], sec.Length)
	}
	binary.LittleEndian.PutUint32(out[entrypointOffset:], h.MainExecutable.Entrypoint)

	return out
}

// Clone returns a deep copy, safe to mutate independently of h.
func (h *Header) Clone() *Header {
	clone := &Header{
		Serial:      h.Serial,
		Description: h.Description,
		MainExecutable: Executable{
			Entrypoint: h.MainExecutable.Entrypoint,
			Sections:   append([]Section(nil), h.MainExecutable.Sections...),
		},
	}
	return clone
}

// ROM is an immutable-until-replaced byte buffer plus its parsed header.
type ROM struct {
	Data   []byte
	Header *Header
}

// NewROM parses data into a ROM and checks that every section lies within
// data. It does not compare data's header bytes against a re-serialization
// of the parsed header.
func NewROM(data []byte) (*ROM, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	for _, sec := range header.MainExecutable.Sections {
		end := uint64(sec.Offset) + uint64(sec.Length)
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("romfmt: section at offset %#x length %d exceeds rom length %d", sec.Offset, sec.Length, len(data))
		}
	}
	return &ROM{Data: data, Header: header}, nil
}

// Bytes returns the ROM's full byte image, header first.
func (r *ROM) Bytes() []byte {
	return r.Data
}
