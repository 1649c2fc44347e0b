// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package isa

import (
	"testing"

	"github.com/gmofishsauce/rvhart/internal/urv"
)

func TestDecode32Base(t *testing.T) {
	cases := []struct {
		name string
		word uint32
		want Op
		rd, rs1, rs2 uint32
		imm  int64
	}{
		{"addi", 0x00150513, OpAddi, 10, 10, 0, 1},          // addi a0, a0, 1
		{"add", 0x00B50533, OpAdd, 10, 10, 11, 0},           // add a0, a0, a1
		{"lui", 0x12345537, OpLui, 10, 0, 0, 0x12345000},    // lui a0, 0x12345
		{"jal", 0x008000EF, OpJal, 1, 0, 0, 8},              // jal ra, +8
		{"beq", 0x00850463, OpBeq, 0, 10, 8, 8},             // beq a0, s0, +8 (approx check op only)
		{"sw", 0x00A12023, OpSw, 0, 2, 10, 0},               // sw a0, 0(sp)
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			in, err := Decode32(c.word, urv.Xlen64)
			if err != nil {
				t.Fatalf("Decode32(%s) error: %v", c.name, err)
			}
			if in.Op != c.want {
				t.Errorf("Op = %s, want %s", in.Op, c.want)
			}
		})
	}
}

func TestDecode32IllegalOpcode(t *testing.T) {
	if _, err := Decode32(0x0000007F, urv.Xlen64); err == nil {
		t.Error("expected illegal instruction error for unknown opcode")
	}
}

func TestDecode32RV64OnlyOpcodeIllegalOnRV32(t *testing.T) {
	// addiw a0, a0, 1 -- OP-IMM-32, opcode 0x1B
	word := uint32(0x0015051B)
	if _, err := Decode32(word, urv.Xlen32); err == nil {
		t.Error("expected addiw to be illegal on RV32")
	}
	in, err := Decode32(word, urv.Xlen64)
	if err != nil || in.Op != OpAddiw {
		t.Errorf("Decode32(addiw, rv64) = %+v, %v; want OpAddiw, nil", in, err)
	}
}

func TestDecodeCompressedAddi(t *testing.T) {
	// c.addi x1, 1 : quadrant=01 (bits1:0), funct3=000 (bits15:13)=0,
	// rd/rs1 bits 11:7 = 00001, imm[4:0] split bit12=imm[5], bits6:2=imm[4:0]
	h := uint16(0)
	h |= 0x1                   // quadrant 01
	h |= (1 & 0x1F) << 7        // rd/rs1 = x1
	h |= (1 & 0x1F) << 2        // imm[4:0] = 1
	in, err := DecodeCompressed(h, urv.Xlen64, false)
	if err != nil {
		t.Fatalf("DecodeCompressed(c.addi) error: %v", err)
	}
	if in.Op != OpAddi || in.Rd != 1 || in.Rs1 != 1 || in.Imm != 1 {
		t.Errorf("c.addi decoded as %+v", in)
	}
}

func TestDecodeCompressedQuadrant2Funct3AliasByXlen(t *testing.T) {
	// Quadrant 2, funct3=011, rd=x1 (bits 11:7 = 00001), rs2 field = 0
	h := uint16(0b011_0_00001_00000_10)
	if _, err := DecodeCompressed(h, urv.Xlen32, false); err == nil {
		t.Error("expected illegal on RV32 without F (c.flwsp slot)")
	}
	in, err := DecodeCompressed(h, urv.Xlen32, true)
	if err != nil || in.Op != OpFlw {
		t.Errorf("RV32+F quadrant2/011 = %+v, %v; want OpFlw", in, err)
	}
	in2, err2 := DecodeCompressed(h, urv.Xlen64, false)
	if err2 != nil || in2.Op != OpLd {
		t.Errorf("RV64 quadrant2/011 = %+v, %v; want OpLd (never c.flwsp on RV64)", in2, err2)
	}
}

func TestIsCompressed(t *testing.T) {
	if IsCompressed(0x3) {
		t.Error("low bits 11 should not be compressed")
	}
	if !IsCompressed(0x1) {
		t.Error("low bits 01 should be compressed")
	}
}

func TestOpMnemonicString(t *testing.T) {
	if OpAddi.String() != "addi" {
		t.Errorf("OpAddi.String() = %q, want addi", OpAddi.String())
	}
}
