package settings

import _ "embed"

//go:embed trojan/settingstrojan.bin
var defaultTrojan []byte

// DefaultTrojan returns the settings trojan shipped with this module,
// embedded at build time as a read-only data section. Callers that want a
// private copy to mutate (e.g. to hand to NewPatcher, which clones it on
// every Put anyway) can use it as-is; the returned slice must not be
// written to in place.
func DefaultTrojan() []byte {
	return defaultTrojan
}
