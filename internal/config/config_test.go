// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestLoadParsesYAMLAndOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hart.yml")
	yamlText := `
xlen: 32
extensions: imac
memory:
  - low: 0
    high: 0x10000
    read: true
    write: true
    exec: true
csr_resets:
  - addr: 0x300
    value: 0x1800
`
	if err := os.WriteFile(path, []byte(yamlText), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Xlen != 32 {
		t.Errorf("Xlen = %d, want 32", cfg.Xlen)
	}
	if !cfg.HasExtension('m') || cfg.HasExtension('f') {
		t.Errorf("Extensions = %q, want imac semantics", cfg.Extensions)
	}
	if len(cfg.CSRResets) != 1 || cfg.CSRResets[0].Addr != 0x300 {
		t.Errorf("CSRResets = %+v", cfg.CSRResets)
	}
	// Fields not present in the file should retain Default()'s values.
	if cfg.TriggerCount != 4 {
		t.Errorf("TriggerCount = %d, want default 4", cfg.TriggerCount)
	}
}

func TestValidateRejectsBadXlen(t *testing.T) {
	cfg := Default()
	cfg.Xlen = 16
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for xlen=16")
	}
}

func TestValidateRejectsEmptyMemory(t *testing.T) {
	cfg := Default()
	cfg.Memory = nil
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty memory map")
	}
}

func TestValidateRejectsInvertedRegion(t *testing.T) {
	cfg := Default()
	cfg.Memory = []Region{{Low: 0x100, High: 0x100}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty/inverted region")
	}
}
