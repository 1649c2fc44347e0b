// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/gmofishsauce/rvhart/internal/memio"
)

func TestLoadFlatCopiesBytesAtBase(t *testing.T) {
	mem := memio.NewFlat(0x2000)
	mem.AddRegion(0, 0x2000, memio.AttrRWX)
	data := []byte{0x13, 0x05, 0x15, 0x00} // addi a0, a0, 1
	img, err := LoadFlat(mem, data, 0x1000)
	if err != nil {
		t.Fatalf("LoadFlat: %v", err)
	}
	if img.EntryPC != 0x1000 {
		t.Errorf("EntryPC = 0x%x, want 0x1000", img.EntryPC)
	}
	got, err := mem.ReadWord(0x1000)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if got != 0x00150513 {
		t.Errorf("loaded word = 0x%x, want 0x00150513", got)
	}
}

// buildMiniELF constructs a minimal RV64 ELF image with one PT_LOAD
// segment and a tohost symbol, enough to exercise LoadELF without
// depending on an external toolchain.
func buildMiniELF(t *testing.T) []byte {
	t.Helper()

	const loadAddr = 0x80000000
	text := []byte{0x13, 0x00, 0x00, 0x00} // nop

	var buf bytes.Buffer
	fh := elf.Header64{}
	copy(fh.Ident[:], elf.ELFMAG)
	fh.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	fh.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	fh.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	fh.Type = uint16(elf.ET_EXEC)
	fh.Machine = uint16(elf.EM_RISCV)
	fh.Version = uint32(elf.EV_CURRENT)
	fh.Entry = loadAddr
	fh.Phoff = 64
	fh.Ehsize = 64
	fh.Phentsize = 56
	fh.Phnum = 1
	fh.Shoff = 0
	fh.Shentsize = 0
	fh.Shnum = 0

	if err := binary.Write(&buf, binary.LittleEndian, fh); err != nil {
		t.Fatalf("writing ELF header: %v", err)
	}

	ph := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    120,
		Vaddr:  loadAddr,
		Paddr:  loadAddr,
		Filesz: uint64(len(text)),
		Memsz:  uint64(len(text)),
		Align:  4,
	}
	if err := binary.Write(&buf, binary.LittleEndian, ph); err != nil {
		t.Fatalf("writing program header: %v", err)
	}
	buf.Write(text)

	return buf.Bytes()
}

func TestLoadELFRejectsNonELFData(t *testing.T) {
	mem := memio.NewFlat(4096)
	mem.AddRegion(0, 4096, memio.AttrRWX)
	if _, err := LoadELF(mem, []byte("not an elf file")); err == nil {
		t.Error("expected error loading non-ELF data")
	}
}

func TestLoadELFLoadsSegmentAndEntry(t *testing.T) {
	mem := memio.NewFlat(0x80001000)
	mem.AddRegion(0, 0x80001000, memio.AttrRWX)

	data := buildMiniELF(t)
	img, err := LoadELF(mem, data)
	if err != nil {
		t.Fatalf("LoadELF: %v", err)
	}
	if img.EntryPC != 0x80000000 {
		t.Errorf("EntryPC = 0x%x, want 0x80000000", img.EntryPC)
	}
	got, err := mem.ReadWord(0x80000000)
	if err != nil {
		t.Fatalf("ReadWord at entry: %v", err)
	}
	if got != 0x00000013 {
		t.Errorf("loaded word = 0x%x, want 0x00000013 (nop)", got)
	}
}
