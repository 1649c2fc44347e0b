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

// Package loader populates a hart's memory from a program image, the
// generalization of the teacher's emul/memory.go LoadBinary (a fixed
// two-section header format) to both raw flat binaries and ELF
// executables, the formats a RISC-V newlib/Linux target actually
// produces.
package loader

import (
	"debug/elf"
	"fmt"

	"github.com/gmofishsauce/rvhart/internal/memio"
)

// Image describes a loaded program: where execution should begin, and
// the address of the tohost symbol if present (the HTIF-style exit
// word; the hart stops the run on a store to it, see Hart.SetTohost).
type Image struct {
	EntryPC    uint64
	TohostAddr uint64
	HasTohost  bool
}

// LoadELF loads every PT_LOAD segment of an ELF executable into mem at
// its virtual (p_vaddr) address and returns the entry point
// and tohost location, if any.
func LoadELF(mem *memio.Flat, data []byte) (Image, error) {
	f, err := elf.NewFile(bytesReaderAt(data))
	if err != nil {
		return Image{}, fmt.Errorf("loader: not an ELF file: %w", err)
	}
	defer f.Close()

	img := Image{EntryPC: f.Entry}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		buf := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(buf, 0); err != nil {
			return Image{}, fmt.Errorf("loader: reading segment at 0x%x: %w", prog.Vaddr, err)
		}
		for i, b := range buf {
			if err := mem.WriteByte(prog.Vaddr+uint64(i), b); err != nil {
				return Image{}, fmt.Errorf("loader: writing segment at 0x%x: %w", prog.Vaddr+uint64(i), err)
			}
		}
		// Bytes between Filesz and Memsz (.bss) are left zeroed, which
		// NewFlat already guarantees.
	}

	if syms, err := f.Symbols(); err == nil {
		for _, s := range syms {
			if s.Name == "tohost" {
				img.TohostAddr = s.Value
				img.HasTohost = true
				break
			}
		}
	}

	return img, nil
}

// LoadFlat copies a raw headerless binary into mem starting at base
// and returns an Image whose entry point is base itself. Used for
// bare-metal test programs that carry no ELF header.
func LoadFlat(mem *memio.Flat, data []byte, base uint64) (Image, error) {
	for i, b := range data {
		if err := mem.WriteByte(base+uint64(i), b); err != nil {
			return Image{}, fmt.Errorf("loader: writing flat image at 0x%x: %w", base+uint64(i), err)
		}
	}
	return Image{EntryPC: base}, nil
}

// bytesReaderAt adapts a byte slice to io.ReaderAt for debug/elf.
type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, fmt.Errorf("loader: read past end of image at offset %d", off)
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("loader: short read at offset %d", off)
	}
	return n, nil
}
