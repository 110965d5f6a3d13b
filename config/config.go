// Package config loads the driver's tunables from a YAML file, following
// dswarbrick/smart's cmd/drivedb use of gopkg.in/yaml.v2 for its on-disk
// data. None of these values are a literal part of spec.md's component
// design; they're the knobs SPEC_FULL.md's host-environment section
// introduces so the same binary can run against /dev/mem, a sysfs BAR
// resource file, or a test fixture without a recompile.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full set of values diskctl needs before it can open the
// AHCI HBA and TPM.
type Config struct {
	// PCIAccess selects how configuration space is reached: "sysfs" (the
	// default) or "ecam".
	PCIAccess string `yaml:"pci_access,omitempty"`

	// MemDevice overrides the file mmap'd in place of physical memory
	// (default "/dev/mem"). Tests point this at a fixture file.
	MemDevice string `yaml:"mem_device,omitempty"`

	// ABAROverride, when non-zero, skips AHCI's PCI BAR5 read and uses this
	// physical address directly.
	ABAROverride uint64 `yaml:"abar_override,omitempty"`

	// TPMBaseOverride, when non-zero, skips ACPI TPM2/TCPA table discovery.
	TPMBaseOverride uint64 `yaml:"tpm_base_override,omitempty"`

	// PortTimeout is passed to PreparePort, which re-reads FRE/ST once after
	// a fixed 1ms delay and does not poll against it; DataTimeout bounds
	// read/write/flush completion; IdentifyTimeout bounds IDENTIFY.
	PortTimeout     time.Duration `yaml:"port_timeout,omitempty"`
	DataTimeout     time.Duration `yaml:"data_timeout,omitempty"`
	IdentifyTimeout time.Duration `yaml:"identify_timeout,omitempty"`

	// Verbose enables trace.LogSink instead of the no-op sink.
	Verbose bool `yaml:"verbose,omitempty"`
}

// Default returns the values diskctl falls back to when no config file is
// given.
func Default() Config {
	return Config{
		PCIAccess:       "sysfs",
		MemDevice:       "/dev/mem",
		PortTimeout:     1 * time.Second,
		DataTimeout:     10 * time.Second,
		IdentifyTimeout: 5 * time.Second,
	}
}

// Load reads and parses a YAML config file, filling unset fields from
// Default().
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
