package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileDocument is the on-disk allow-list format. The portal UI reads the
// same file to decide which embeds go through the proxy.
type fileDocument struct {
	Hosts []string `yaml:"hosts"`
}

// LoadFile reads hostnames from a YAML allow-list file.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("allowlist: read %s: %w", path, err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("allowlist: parse %s: %w", path, err)
	}
	if len(doc.Hosts) == 0 {
		return nil, fmt.Errorf("allowlist: %s lists no hosts", path)
	}

	return doc.Hosts, nil
}
