package fleet

import (
	"net"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/gtranche/netboot/internal/netboot"
)

type yamlCabinet struct {
	Description string              `yaml:"description"`
	Region      string              `yaml:"region"`
	Filename    *string             `yaml:"filename"`
	Patches     map[string][]string `yaml:"patches"`
	Target      *string             `yaml:"target,omitempty"`
	Version     *string             `yaml:"version,omitempty"`
}

func canonicalIP(raw string) (string, bool) {
	ip := net.ParseIP(raw)
	if ip == nil {
		return "", false
	}
	v4 := ip.To4()
	if v4 == nil {
		return "", false
	}
	return v4.String(), true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// requiredCabinetKeys are the keys cabinet.py treats as mandatory on every
// record; a record missing one of these is malformed, not merely sparse.
var requiredCabinetKeys = []string{"description", "region", "filename", "patches"}

func checkRequiredKeys(ip string, node *yaml.Node) error {
	present := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		present[node.Content[i].Value] = true
	}
	for _, key := range requiredCabinetKeys {
		if !present[key] {
			return configFormatf("cabinet record for %s is missing required key %q", ip, key)
		}
	}
	return nil
}

// Load reads a fleet YAML document: a top-level mapping of IP to cabinet
// record. An empty document (top-level null) yields an empty fleet. Load
// aborts on the first malformed record; no partial fleet is returned.
func Load(path string, log *logrus.Entry) (*Manager, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, configFormatf("cannot read %s: %s", path, err)
	}

	var rawDoc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &rawDoc); err != nil {
		return nil, configFormatf("invalid YAML in %s: %s", path, err)
	}
	if rawDoc == nil {
		return NewManager(nil, log), nil
	}

	cabinets := make([]*Cabinet, 0, len(rawDoc))
	for ip, node := range rawDoc {
		canon, ok := canonicalIP(ip)
		if !ok {
			return nil, configFormatf("invalid IP address %q in %s", ip, path)
		}

		if err := checkRequiredKeys(canon, &node); err != nil {
			return nil, err
		}
		var rec yamlCabinet
		if err := node.Decode(&rec); err != nil {
			return nil, configFormatf("malformed cabinet record for %s in %s: %s", canon, path, err)
		}

		if rec.Filename != nil && !fileExists(*rec.Filename) {
			return nil, configFormatf("file %q for %s does not exist", *rec.Filename, canon)
		}
		for rom, patches := range rec.Patches {
			if !fileExists(rom) {
				return nil, configFormatf("file %q for %s does not exist", rom, canon)
			}
			for _, p := range patches {
				if !fileExists(p) {
					return nil, configFormatf("file %q for %s does not exist", p, canon)
				}
			}
		}

		region := Region(strings.ToLower(rec.Region))
		if !validRegion(region) {
			return nil, configFormatf("unrecognized region %q for %s", rec.Region, canon)
		}

		target := ""
		if rec.Target != nil {
			target = *rec.Target
		}
		version := ""
		if rec.Version != nil {
			version = *rec.Version
		}

		host := netboot.NewHost(canon, netboot.WithTarget(target), netboot.WithVersion(version))
		cab, err := NewCabinet(host, region, rec.Description, rec.Filename, rec.Patches, log)
		if err != nil {
			return nil, err
		}
		cabinets = append(cabinets, cab)
	}

	return NewManager(cabinets, log), nil
}

// Save writes the fleet as a YAML document: cabinets keyed by canonical IP,
// sorted (yaml.v3 sorts map keys on encode, which is also spec's required
// sort order since IPs are already canonical dotted-quad strings).
func (m *Manager) Save(path string) error {
	doc := make(map[string]yamlCabinet, len(m.cabinets))
	for _, cab := range m.Cabinets() {
		var target, version *string
		if cab.Target() != "" {
			t := cab.Target()
			target = &t
		}
		if cab.Version() != "" {
			v := cab.Version()
			version = &v
		}
		doc[cab.IP()] = yamlCabinet{
			Description: cab.Description(),
			Region:      string(cab.Region()),
			Filename:    cab.Filename(),
			Patches:     cab.Patches(),
			Target:      target,
			Version:     version,
		}
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return configFormatf("cannot marshal fleet: %s", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return configFormatf("cannot write %s: %s", path, err)
	}
	return nil
}
