// Package trojan implements the byte-level primitives the settings patcher
// needs to work with a compiled "settings trojan": the small executable
// that writes EEPROM settings to the cabinet's save medium before jumping
// to the real game.
//
// Build-time invariant: the compiled trojan this package scans must contain
// exactly one run of each placeholder sentinel byte (0xAA, 0xBB, 0xCF,
// 0xDD) and exactly one config block (bracketed by 0xEE). The scan below
// takes the first run it finds; a trojan built with stray runs of these
// bytes in its code or data will silently mispatch. The config block's own
// original_entrypoint/sentinel/debug words double as the 0xAA/0xCF/0xDD
// placeholder runs (patching one updates the other), so those three fields
// must not also appear as a separate run elsewhere in the image; only the
// 0xBB payload placeholder lives outside the config block.
package trojan

import (
	"encoding/binary"
	"fmt"
)

const (
	bracketLen  = 4
	wordsLen    = 20
	// ConfigLength is the size in bytes of one TrojanConfig block.
	ConfigLength = bracketLen + wordsLen + bracketLen

	bracketByte = 0xEE

	// PlaceholderEntrypoint marks where the original game entrypoint is
	// written back into the trojan, little-endian.
	PlaceholderEntrypoint byte = 0xAA
	// PlaceholderPayload marks where the settings payload itself goes.
	PlaceholderPayload byte = 0xBB
	// PlaceholderOptions marks the sentinel-mode options word.
	PlaceholderOptions byte = 0xCF
	// PlaceholderDebug marks the debug-mode word.
	PlaceholderDebug byte = 0xDD

	sentinelUnset = 0
	sentinelOn    = 1
	sentinelWild  = 0xCFCFCFCF

	debugUnset = 0
	debugOn    = 1
	debugWild  = 0xDDDDDDDD
)

// Config is the 28-byte configuration block embedded in a compiled trojan:
// four 0xEE bytes, five little-endian words, four more 0xEE bytes.
type Config struct {
	OriginalEntrypoint uint32
	LoadAddress        uint32
	Sentinel           uint32
	Debug              uint32
	Date               uint32
}

// SentinelEnabled reports whether the sentinel word is non-zero. ReadConfig
// accepts the wildcard ("unpatched") value, since it also reads the
// unpatched trojan image; a wildcard reads as enabled here. Settings
// detection (settings.Patcher.Info) discards configs that still carry a
// wildcard word.
func (c Config) SentinelEnabled() bool { return c.Sentinel != 0 }

// DebugEnabled reports whether the debug bit is set.
func (c Config) DebugEnabled() bool { return c.Debug != 0 }

// Year, Month and Day decode the Date field, stored as decimal YYYYMMDD.
func (c Config) Year() int  { return int(c.Date / 10000) }
func (c Config) Month() int { return int((c.Date / 100) % 100) }
func (c Config) Day() int   { return int(c.Date % 100) }

func validSentinel(v uint32) bool {
	return v == sentinelUnset || v == sentinelOn || v == sentinelWild
}

func validDebug(v uint32) bool {
	return v == debugUnset || v == debugOn || v == debugWild
}

// ReadConfig scans data for the first valid TrojanConfig block: a 28-byte
// window bracketed by four 0xEE bytes on each side, whose sentinel and
// debug words are one of the allowed values. It continues past brackets
// whose flag words don't validate, and fails if none is found.
func ReadConfig(data []byte) (Config, error) {
	for i := 0; i+ConfigLength <= len(data); i++ {
		if !allEqual(data[i:i+bracketLen], bracketByte) {
			continue
		}
		tailStart := i + bracketLen + wordsLen
		if !allEqual(data[tailStart:tailStart+bracketLen], bracketByte) {
			continue
		}

		words := data[i+bracketLen : tailStart]
		sentinel := binary.LittleEndian.Uint32(words[8:12])
		debug := binary.LittleEndian.Uint32(words[12:16])
		if !validSentinel(sentinel) || !validDebug(debug) {
			continue
		}

		return Config{
			OriginalEntrypoint: binary.LittleEndian.Uint32(words[0:4]),
			LoadAddress:        binary.LittleEndian.Uint32(words[4:8]),
			Sentinel:           sentinel,
			Debug:              debug,
			Date:               binary.LittleEndian.Uint32(words[16:20]),
		}, nil
	}
	return Config{}, fmt.Errorf("trojan: no config block found")
}

func allEqual(b []byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}
	return true
}

// PatchPlaceholder finds the first contiguous run of len(replacement) bytes
// all equal to sentinel and overwrites it with replacement, returning a new
// slice. It never mutates data. An error is returned if no such run exists.
func PatchPlaceholder(data []byte, sentinel byte, replacement []byte) ([]byte, error) {
	n := len(replacement)
	for i := 0; i+n <= len(data); i++ {
		if allEqual(data[i:i+n], sentinel) {
			out := make([]byte, len(data))
			copy(out, data)
			copy(out[i:i+n], replacement)
			return out, nil
		}
	}
	return nil, fmt.Errorf("trojan: no run of %d 0x%02X bytes found", n, sentinel)
}
