package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/ogier/pflag"
	log "github.com/sirupsen/logrus"

	"github.com/gtranche/netboot/config"
	"github.com/gtranche/netboot/fleet"
	"github.com/gtranche/netboot/internal/romfmt"
	"github.com/gtranche/netboot/settings"
)

const (
	verbose_text     = "If true, be verbose."
	config_text      = "Daemon config file."
	rom_in_text      = "ROM image to read."
	rom_out_text     = "ROM image to write (defaults to overwriting the input)."
	payload_text     = "Raw settings payload to attach (128 bytes for EEPROM, 32768 for SRAM)."
	sentinel_text    = "Enable the trojan's sentinel mode bit."
	debug_text       = "Enable the trojan's debug mode bit."
	trojan_file_text = "Trojan binary to embed instead of the built-in default."
)

var (
	verbose     = flag.BoolP("verbose", "d", false, verbose_text)
	config_file = flag.StringP("config", "c", "naomiboot.yaml", config_text)
)

func main() {
	flag.Parse()
	if *verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	switch flag.Arg(0) {
	case "serve":
		serve()
	case "bake":
		bake()
	default:
		fmt.Println("usage: naomiboot [-d] [-c config] <serve|bake> [flags]")
		os.Exit(2)
	}
}

// serve loads the daemon config and fleet document and runs the fleet
// manager's poll loop until interrupted, saving the fleet back out on a
// clean shutdown.
func serve() {
	cfg, err := config.Load(*config_file)
	if err != nil {
		panic(err)
	}

	entry := log.NewEntry(log.StandardLogger())
	manager, err := fleet.Load(cfg.FleetPath, entry)
	if err != nil {
		panic(err)
	}

	entry.WithField("fleet_path", cfg.FleetPath).Info("fleet loaded, polling started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	entry.Info("shutting down")
	manager.Close()
	if err := manager.Save(cfg.FleetPath); err != nil {
		panic(err)
	}
}

var (
	bake_rom_in      = flag.StringP("rom", "r", "", rom_in_text)
	bake_rom_out     = flag.StringP("out", "o", "", rom_out_text)
	bake_payload     = flag.StringP("payload", "p", "", payload_text)
	bake_sentinel    = flag.Bool("sentinel", false, sentinel_text)
	bake_debug       = flag.Bool("debug", false, debug_text)
	bake_trojan_file = flag.String("trojan", "", trojan_file_text)
)

// bake attaches a settings payload to a ROM image offline, the way a
// release build pins the config a cabinet will boot with before the ROM
// file is ever referenced by a fleet document.
func bake() {
	if *bake_rom_in == "" || *bake_payload == "" {
		fmt.Println("usage: naomiboot bake -r rom.bin -p payload.bin [-o out.bin] [--sentinel] [--debug] [--trojan trojan.bin]")
		os.Exit(2)
	}
	out := *bake_rom_out
	if out == "" {
		out = *bake_rom_in
	}

	romBytes, err := os.ReadFile(*bake_rom_in)
	if err != nil {
		panic(err)
	}
	rom, err := romfmt.NewROM(romBytes)
	if err != nil {
		panic(err)
	}

	trojanBin := settings.DefaultTrojan()
	if *bake_trojan_file != "" {
		trojanBin, err = os.ReadFile(*bake_trojan_file)
		if err != nil {
			panic(err)
		}
	}

	entry := log.NewEntry(log.StandardLogger())
	patcher, err := settings.NewPatcher(rom, trojanBin, entry)
	if err != nil {
		panic(err)
	}

	payload, err := os.ReadFile(*bake_payload)
	if err != nil {
		panic(err)
	}

	opts := settings.PutOptions{EnableSentinel: *bake_sentinel, EnableDebug: *bake_debug}
	if err := patcher.Put(payload, opts); err != nil {
		panic(err)
	}

	if err := os.WriteFile(out, patcher.ROM().Bytes(), 0o644); err != nil {
		panic(err)
	}
	fmt.Printf("wrote %s (%d bytes)\n", out, len(patcher.ROM().Bytes()))
}
