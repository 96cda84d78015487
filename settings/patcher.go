// Package settings implements the ROM settings patcher: detecting,
// reading, and writing the EEPROM-via-trojan or raw SRAM settings payload
// attached to a NAOMI ROM image.
package settings

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/gtranche/netboot/internal/eeprom"
	"github.com/gtranche/netboot/internal/romfmt"
	"github.com/gtranche/netboot/internal/trojan"
)

// Kind is the settings payload a ROM carries.
type Kind int

const (
	KindNone Kind = iota
	KindEeprom
	KindSram
)

func (k Kind) String() string {
	switch k {
	case KindEeprom:
		return "eeprom"
	case KindSram:
		return "sram"
	default:
		return "none"
	}
}

const (
	// SRAMLocation is the load address battery-backed SRAM settings are
	// attached at.
	SRAMLocation = 0x00200000
	// SRAMSize is the fixed length of an SRAM settings section.
	SRAMSize = 32768
	// EEPROMSize is the fixed length of an EEPROM settings payload.
	EEPROMSize = eeprom.Size
	// MaxTrojanSize caps how large a section can be before it is rejected
	// as a fast reject during trojan detection.
	MaxTrojanSize = 512 * 1024
)

// Info reports the sentinel/debug mode and compiled date of an attached
// settings trojan.
type Info struct {
	Sentinel bool
	Debug    bool
	Year     int
	Month    int
	Day      int
}

// PutOptions controls the mode bits baked into a newly attached trojan.
type PutOptions struct {
	EnableSentinel bool
	EnableDebug    bool
}

// Patcher reads and writes the settings payload attached to one ROM image.
// It is not safe for concurrent use; callers needing concurrent access
// should hold their own lock (fleet.Cabinet does exactly this).
type Patcher struct {
	rom    *romfmt.ROM
	trojan []byte
	log    *logrus.Entry
	kind   *Kind
}

// NewPatcher builds a Patcher over rom. trojan may be nil if the caller
// only intends to read settings or attach SRAM (EEPROM attachment requires
// a non-empty trojan). If trojan exceeds MaxTrojanSize, construction fails:
// the compiled trojan this module ships can never legitimately be that
// large, so a larger one indicates a build misconfiguration.
func NewPatcher(rom *romfmt.ROM, trojanBin []byte, log *logrus.Entry) (*Patcher, error) {
	if len(trojanBin) > MaxTrojanSize {
		return nil, patchFormatf("trojan of %d bytes exceeds max trojan size %d", len(trojanBin), MaxTrojanSize)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Patcher{rom: rom, trojan: trojanBin, log: log}, nil
}

// ROM returns the patcher's current ROM image.
func (p *Patcher) ROM() *romfmt.ROM {
	return p.rom
}

// cacheKind records k as the patcher's settings kind. If a kind was
// already cached and disagrees, that is an invariant violation: the kind
// is supposed to be a pure function of ROM content.
func (p *Patcher) cacheKind(k Kind) Kind {
	if p.kind == nil {
		kk := k
		p.kind = &kk
		return kk
	}
	if *p.kind != k {
		panic(&InvariantError{Msg: "settings kind recomputed to a different value"})
	}
	return *p.kind
}

// setKind overwrites the cached kind unconditionally. Put uses this after a
// successful attach, since the attach just changed what the ROM actually
// carries; cacheKind's equality assertion is for catching a Settings read
// that disagrees with the kind already cached, not for this case.
func (p *Patcher) setKind(k Kind) {
	kk := k
	p.kind = &kk
}

// Kind reports the settings payload this ROM carries, computing and
// caching it on first use.
func (p *Patcher) Kind() (Kind, error) {
	if p.kind != nil {
		return *p.kind, nil
	}
	k, err := p.detectKind()
	if err != nil {
		return KindNone, err
	}
	kk := k
	p.kind = &kk
	return kk, nil
}

func (p *Patcher) detectKind() (Kind, error) {
	for _, sec := range p.rom.Header.MainExecutable.Sections {
		if sec.LoadAddress == SRAMLocation && sec.Length == SRAMSize {
			return KindSram, nil
		}
	}
	info, err := p.Info()
	if err != nil {
		return KindNone, err
	}
	if info != nil {
		return KindEeprom, nil
	}
	return KindNone, nil
}

// entrypointSection returns the bytes of the section containing the ROM's
// entrypoint (where the trojan, if any, must live), skipping sections too
// large to plausibly be a trojan. Returns nil if no section contains the
// entrypoint.
func (p *Patcher) entrypointSection() []byte {
	exe := p.rom.Header.MainExecutable
	for _, sec := range exe.Sections {
		if exe.Entrypoint < sec.LoadAddress || exe.Entrypoint >= sec.LoadAddress+sec.Length {
			continue
		}
		if sec.Length > MaxTrojanSize {
			continue
		}
		return p.rom.Data[sec.Offset : sec.Offset+sec.Length]
	}
	return nil
}

// Info extracts the sentinel/debug/date config of the trojan attached at
// the ROM's entrypoint, or nil if none is attached.
func (p *Patcher) Info() (*Info, error) {
	section := p.entrypointSection()
	if section == nil {
		return nil, nil
	}
	cfg, err := trojan.ReadConfig(section)
	if err != nil {
		// Not a trojan: this is the "no settings attached" case, not a
		// real error.
		return nil, nil
	}
	if cfg.Sentinel == 0xCFCFCFCF || cfg.Debug == 0xDDDDDDDD {
		// Wildcard words mean an unpatched trojan, which carries no settings.
		return nil, nil
	}
	return &Info{
		Sentinel: cfg.SentinelEnabled(),
		Debug:    cfg.DebugEnabled(),
		Year:     cfg.Year(),
		Month:    cfg.Month(),
		Day:      cfg.Day(),
	}, nil
}

// Settings returns the raw settings payload attached to the ROM: the whole
// SRAM section for Sram, or the embedded EEPROM window for Eeprom. Returns
// nil, nil if no settings are attached.
func (p *Patcher) Settings() ([]byte, error) {
	exe := p.rom.Header.MainExecutable
	for _, sec := range exe.Sections {
		if sec.LoadAddress == SRAMLocation && sec.Length == SRAMSize {
			p.cacheKind(KindSram)
			return p.rom.Data[sec.Offset : sec.Offset+sec.Length], nil
		}

		if exe.Entrypoint < sec.LoadAddress || exe.Entrypoint >= sec.LoadAddress+sec.Length {
			continue
		}
		if sec.Length > MaxTrojanSize {
			continue
		}
		section := p.rom.Data[sec.Offset : sec.Offset+sec.Length]
		if _, err := trojan.ReadConfig(section); err != nil {
			continue
		}
		for i := 0; i+EEPROMSize <= len(section); i++ {
			window := section[i : i+EEPROMSize]
			if eeprom.Validate(window) {
				p.cacheKind(KindEeprom)
				return window, nil
			}
		}
	}

	p.cacheKind(KindNone)
	return nil, nil
}

// Put writes payload as the ROM's settings, inferring EEPROM (128 bytes) or
// SRAM (32768 bytes) from its length. The ROM is only mutated on success.
func (p *Patcher) Put(payload []byte, opts PutOptions) error {
	switch len(payload) {
	case EEPROMSize:
		return p.putEeprom(payload, opts)
	case SRAMSize:
		return p.putSram(payload)
	default:
		return mismatchf("unrecognized settings payload length %d", len(payload))
	}
}

func (p *Patcher) putEeprom(payload []byte, opts PutOptions) error {
	if !eeprom.Validate(payload) {
		return mismatchf("settings payload is not a well-formed EEPROM image")
	}
	serial := p.rom.Header.Serial
	if !bytes.Equal(payload[3:7], serial[:]) || !bytes.Equal(payload[21:25], serial[:]) {
		return mismatchf("settings payload is not for this game")
	}

	kind, err := p.Kind()
	if err != nil {
		return err
	}
	if kind == KindSram {
		return mismatchf("cannot attach an EEPROM settings payload: ROM already carries SRAM settings")
	}
	if len(p.trojan) == 0 {
		return patchFormatf("cannot attach EEPROM settings without a trojan")
	}

	data, header, err := attachTrojan(p.rom, p.trojan, boolWord(opts.EnableDebug), boolWord(opts.EnableSentinel), payload, p.log)
	if err != nil {
		return err
	}

	p.rom = &romfmt.ROM{Data: data, Header: header}
	p.setKind(KindEeprom)
	return nil
}

func (p *Patcher) putSram(payload []byte) error {
	kind, err := p.Kind()
	if err != nil {
		return err
	}
	if kind == KindEeprom {
		return mismatchf("cannot attach an SRAM settings payload: ROM already carries EEPROM settings")
	}

	data, header, err := attachSection(p.rom, SRAMLocation, payload, p.log)
	if err != nil {
		return err
	}

	p.rom = &romfmt.ROM{Data: data, Header: header}
	p.setKind(KindSram)
	return nil
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
