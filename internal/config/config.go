// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.

// Package config describes a hart's static configuration as YAML, the
// form a RISC-V functional simulator's memory map, extension set, and
// CSR resets naturally take and the same tagged-struct/yaml.Unmarshal
// pattern tinyrange-cc's site_config.go uses for its own deployment
// config.
package config

import (
	"fmt"
	"os"

	"github.com/gmofishsauce/rvhart/internal/csr"
	"gopkg.in/yaml.v3"
)

// Region is one entry of the memory map: a byte range and the accesses
// permitted against it.
type Region struct {
	Low   uint64 `yaml:"low"`
	High  uint64 `yaml:"high"`
	Read  bool   `yaml:"read"`
	Write bool   `yaml:"write"`
	Exec  bool   `yaml:"exec"`
}

// CSRReset overrides a single CSR's reset value; addr is parsed as a
// RISC-V CSR address, e.g. 0x300 for mstatus.
type CSRReset struct {
	Addr  uint16 `yaml:"addr"`
	Value uint64 `yaml:"value"`
}

// Config is a complete hart configuration: register width, enabled
// extensions, the physical memory map, and the handful of parameters
// that change the shape of the CSR/trigger files rather than their
// contents.
type Config struct {
	Xlen       int        `yaml:"xlen"` // 32 or 64
	Extensions string     `yaml:"extensions"` // e.g. "imafdc"
	Memory     []Region   `yaml:"memory"`
	CSRResets  []CSRReset `yaml:"csr_resets"`

	MaxHpmCounters int `yaml:"max_hpm_counters"`
	TriggerCount   int `yaml:"trigger_count"`
	StoreQueueDepth int `yaml:"store_queue_depth"`

	EnableLinuxSyscalls bool   `yaml:"enable_linux_syscalls"`
	ProgramBreak        uint64 `yaml:"program_break"`

	// EnableProfile turns on per-opcode retirement counting in the hart
	// loop (Hart.Profile), off by default since it costs a map write per
	// instruction.
	EnableProfile bool `yaml:"enable_profile"`

	// MaxPerfEventID bounds the event id a write to MHPMEVENT3..31 may
	// select, clamped as it is written.
	MaxPerfEventID uint64 `yaml:"max_perf_event_id"`

	// EnableFastInterrupt turns on the MEIVT/MEIPT/MEICIDPL vectored
	// external-interrupt claim path, bypassing MTVEC the way the
	// original implementation's fast-interrupt extension does.
	EnableFastInterrupt bool `yaml:"enable_fast_interrupt"`

	// NMIVector and NMICauseBit configure non-maskable interrupt
	// delivery: the fixed PC NMIs dispatch to, and the bit set in MCAUSE
	// in addition to the interrupt cause code. With the default of 63
	// that bit is the interrupt bit itself, so MCAUSE does not tell an
	// NMI apart from a standard interrupt with the same cause code.
	NMIVector   uint64 `yaml:"nmi_vector"`
	NMICauseBit uint   `yaml:"nmi_cause_bit"`
}

// Default returns the configuration a plain RV64IMAFDC hart boots
// with when no config file is supplied.
func Default() Config {
	return Config{
		Xlen:            64,
		Extensions:      "imafdc",
		MaxHpmCounters:  29,
		TriggerCount:    4,
		StoreQueueDepth: 16,
		MaxPerfEventID:  csr.MaxEventID,
		NMIVector:       0,
		NMICauseBit:     63,
		Memory: []Region{
			{Low: 0, High: 0x100000000, Read: true, Write: true, Exec: true},
		},
	}
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports whether cfg describes an implementable hart.
func (c Config) Validate() error {
	if c.Xlen != 32 && c.Xlen != 64 {
		return fmt.Errorf("xlen must be 32 or 64, got %d", c.Xlen)
	}
	if len(c.Memory) == 0 {
		return fmt.Errorf("at least one memory region is required")
	}
	for _, r := range c.Memory {
		if r.High <= r.Low {
			return fmt.Errorf("memory region [0x%x, 0x%x) is empty or inverted", r.Low, r.High)
		}
	}
	if c.TriggerCount < 0 {
		return fmt.Errorf("trigger_count must be non-negative, got %d", c.TriggerCount)
	}
	if c.NMICauseBit > 63 {
		return fmt.Errorf("nmi_cause_bit must be 0-63, got %d", c.NMICauseBit)
	}
	return nil
}

// HasExtension reports whether letter (lowercase, e.g. 'f') appears in
// the configured extension string.
func (c Config) HasExtension(letter byte) bool {
	for i := 0; i < len(c.Extensions); i++ {
		if c.Extensions[i] == letter {
			return true
		}
	}
	return false
}
