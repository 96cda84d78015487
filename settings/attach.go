package settings

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/gtranche/netboot/internal/romfmt"
	"github.com/gtranche/netboot/internal/trojan"
)

// attachSection writes bytes as a section at the given load address,
// overwriting an existing section of the same address (which must match
// length exactly) or appending a new one. It never mutates rom; it returns
// the new data and header on success.
func attachSection(rom *romfmt.ROM, location uint32, payload []byte, log *logrus.Entry) ([]byte, *romfmt.Header, error) {
	header := rom.Header.Clone()

	for _, sec := range header.MainExecutable.Sections {
		if sec.LoadAddress != location {
			continue
		}
		if sec.Length != uint32(len(payload)) {
			return nil, nil, patchFormatf("found section at load address %#x, but it is the wrong size (%d != %d)", location, sec.Length, len(payload))
		}

		log.Debug("overwriting existing settings section in place")
		data := make([]byte, len(rom.Data))
		copy(data, rom.Data)
		copy(data[sec.Offset:sec.Offset+sec.Length], payload)
		return data, header, nil
	}

	if len(header.MainExecutable.Sections) >= romfmt.MaxSections {
		return nil, nil, patchFormatf("ROM already has the maximum number of %d sections", romfmt.MaxSections)
	}

	log.Debug("attaching new settings section at the end of the ROM")
	newOffset := uint32(len(rom.Data))
	header.MainExecutable.Sections = append(header.MainExecutable.Sections, romfmt.Section{
		Offset:      newOffset,
		LoadAddress: location,
		Length:      uint32(len(payload)),
	})

	data := make([]byte, 0, len(header.Serialize())+len(rom.Data)-romfmt.HeaderLength+len(payload))
	data = append(data, header.Serialize()...)
	data = append(data, rom.Data[romfmt.HeaderLength:]...)
	data = append(data, payload...)
	return data, header, nil
}

// patchExe rewrites the four placeholder regions of a cloned trojan image
// with the original entrypoint, the settings payload, the options word,
// and the debug word, in that order.
func patchExe(exe []byte, originalEntrypoint uint32, payload []byte, optionsBit, debugBit uint32) ([]byte, error) {
	entryBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(entryBytes, originalEntrypoint)
	exe, err := trojan.PatchPlaceholder(exe, trojan.PlaceholderEntrypoint, entryBytes)
	if err != nil {
		return nil, patchFormatf("%s", err)
	}

	if payload != nil {
		exe, err = trojan.PatchPlaceholder(exe, trojan.PlaceholderPayload, payload)
		if err != nil {
			return nil, patchFormatf("%s", err)
		}
	}

	optBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(optBytes, optionsBit)
	exe, err = trojan.PatchPlaceholder(exe, trojan.PlaceholderOptions, optBytes)
	if err != nil {
		return nil, patchFormatf("%s", err)
	}

	dbgBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(dbgBytes, debugBit)
	exe, err = trojan.PatchPlaceholder(exe, trojan.PlaceholderDebug, dbgBytes)
	if err != nil {
		return nil, patchFormatf("%s", err)
	}

	return exe, nil
}

// attachTrojan relocates and patches a compiled settings trojan onto rom,
// preserving the true game entrypoint across re-patching and updating the
// ROM's section table and entrypoint so the trojan runs first.
func attachTrojan(rom *romfmt.ROM, trojanBin []byte, debugBit, optionsBit uint32, payload []byte, log *logrus.Entry) ([]byte, *romfmt.Header, error) {
	exe := append([]byte(nil), trojanBin...)
	cfg, err := trojan.ReadConfig(exe)
	if err != nil {
		return nil, nil, patchFormatf("trojan has no config block: %s", err)
	}
	location := cfg.LoadAddress

	header := rom.Header.Clone()
	data := rom.Data
	found := false

	for i, sec := range header.MainExecutable.Sections {
		if sec.LoadAddress != location {
			continue
		}
		found = true

		oldCfg, err := trojan.ReadConfig(rom.Data[sec.Offset : sec.Offset+sec.Length])
		if err != nil {
			return nil, nil, patchFormatf("existing trojan section has no config block: %s", err)
		}

		exe, err = patchExe(exe, oldCfg.OriginalEntrypoint, payload, optionsBit, debugBit)
		if err != nil {
			return nil, nil, err
		}

		if sec.Offset+sec.Length == uint32(len(rom.Data)) {
			log.Debug("overwriting old trojan section at the tail of the ROM")
			newData := make([]byte, sec.Offset, sec.Offset+uint32(len(exe)))
			copy(newData, rom.Data[:sec.Offset])
			newData = append(newData, exe...)
			data = newData
			header.MainExecutable.Sections[i].Length = uint32(len(exe))
		} else {
			log.Debug("zeroing old trojan section and attaching new trojan at the tail")
			newData := make([]byte, len(rom.Data))
			copy(newData, rom.Data)
			for j := sec.Offset; j < sec.Offset+sec.Length; j++ {
				newData[j] = 0
			}
			newOffset := uint32(len(newData))
			newData = append(newData, exe...)
			data = newData
			header.MainExecutable.Sections[i].Offset = newOffset
			header.MainExecutable.Sections[i].Length = uint32(len(exe))
			header.MainExecutable.Sections[i].LoadAddress = location
		}
		break
	}

	if !found {
		if len(header.MainExecutable.Sections) >= romfmt.MaxSections {
			return nil, nil, patchFormatf("ROM already has the maximum number of %d sections", romfmt.MaxSections)
		}

		log.Debug("attaching trojan as a new section at the end of the ROM")
		exe, err = patchExe(exe, rom.Header.MainExecutable.Entrypoint, payload, optionsBit, debugBit)
		if err != nil {
			return nil, nil, err
		}

		newOffset := uint32(len(rom.Data))
		header.MainExecutable.Sections = append(header.MainExecutable.Sections, romfmt.Section{
			Offset:      newOffset,
			LoadAddress: location,
			Length:      uint32(len(exe)),
		})

		newData := make([]byte, len(rom.Data))
		copy(newData, rom.Data)
		data = append(newData, exe...)
	}

	header.MainExecutable.Entrypoint = location

	final := make([]byte, 0, romfmt.HeaderLength+len(data)-romfmt.HeaderLength)
	final = append(final, header.Serialize()...)
	final = append(final, data[romfmt.HeaderLength:]...)
	return final, header, nil
}
