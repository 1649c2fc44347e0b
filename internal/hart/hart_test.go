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

package hart

import (
	"testing"

	"github.com/gmofishsauce/rvhart/internal/config"
	"github.com/gmofishsauce/rvhart/internal/csr"
	"github.com/gmofishsauce/rvhart/internal/memio"
)

const (
	opcodeLoad   = 0x03
	opcodeStore  = 0x23
	opcodeAluI   = 0x13
	opcodeSystem = 0x73
)

func encodeR(opcode, funct3, funct7, rd, rs1, rs2 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeI(opcode, funct3, rd, rs1 uint32, imm int64) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeS(opcode, funct3, rs1, rs2 uint32, imm int64) uint32 {
	u := uint32(imm)
	return (u>>5)&0x7F<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u&0x1F)<<7 | opcode
}

func encodeCsr(funct3, rd, rs1 uint32, csrNum uint32) uint32 {
	return csrNum<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcodeSystem
}

// newTestHart builds a Hart over a flat RWX memory region, the
// minimum collaborator set execute dispatch needs.
func newTestHart(t *testing.T, extensions string) (*Hart, *memio.Flat) {
	t.Helper()
	cfg := config.Default()
	cfg.Extensions = extensions
	mem := memio.NewFlat(0x10000)
	mem.AddRegion(0, 0x10000, memio.AttrRWX)
	h := New(cfg, mem)
	h.SetEntry(0)
	return h, mem
}

func mustWriteWord(t *testing.T, mem *memio.Flat, addr uint64, word uint32) {
	t.Helper()
	if err := mem.WriteWord(addr, word); err != nil {
		t.Fatalf("writing word at 0x%x: %v", addr, err)
	}
}

func TestAddiZeroToOne(t *testing.T) {
	h, mem := newTestHart(t, "imafdc")
	mustWriteWord(t, mem, 0, encodeI(opcodeAluI, 0x0, 1, 0, 1)) // addi x1, x0, 1

	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := h.PeekIntReg(1); got != 1 {
		t.Errorf("x1 = %d, want 1", got)
	}
	if h.PC() != 4 {
		t.Errorf("PC = %d, want 4", h.PC())
	}
	if h.InstructionCount() != 1 {
		t.Errorf("InstructionCount = %d, want 1", h.InstructionCount())
	}
}

func TestStoreToTohostStops(t *testing.T) {
	h, mem := newTestHart(t, "imafdc")
	const tohostAddr = 0x1000
	const value = 0x42

	h.SetTohost(tohostAddr)
	h.PokeIntReg(1, value)
	h.PokeIntReg(2, tohostAddr)
	// sw x1, 0(x2)
	mustWriteWord(t, mem, 0, encodeS(opcodeStore, 0x2, 2, 1, 0))

	err := h.Step()
	stop, ok := err.(*Stop)
	if !ok {
		t.Fatalf("Step error = %v (%T), want *Stop", err, err)
	}
	if stop.Reason != StopTohost {
		t.Errorf("stop reason = %v, want StopTohost", stop.Reason)
	}
	if stop.Value != value {
		t.Errorf("stop value = %d, want %d", stop.Value, value)
	}
}

func TestIllegalCsrTraps(t *testing.T) {
	h, mem := newTestHart(t, "imafdc")
	const unimplemented = 0xFFF
	word := encodeCsr(0x1, 0, 0, unimplemented) // csrrw x0, 0xfff, x0
	mustWriteWord(t, mem, 0, word)

	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	cause, _ := h.Csr.Read(csr.Mcause)
	if cause != excIllegalInstruction {
		t.Errorf("mcause = %d, want %d", cause, excIllegalInstruction)
	}
	tval, _ := h.Csr.Read(csr.Mtval)
	if tval != uint64(word) {
		t.Errorf("mtval = 0x%x, want 0x%x", tval, word)
	}
	mepc, _ := h.Csr.Read(csr.Mepc)
	if mepc != 0 {
		t.Errorf("mepc = %d, want 0", mepc)
	}
}

func TestLoadMisalignedTraps(t *testing.T) {
	h, mem := newTestHart(t, "imafdc")
	h.PokeIntReg(1, 1) // unaligned half-word address
	// lh x2, 0(x1)
	mustWriteWord(t, mem, 0, encodeI(opcodeLoad, 0x1, 2, 1, 0))

	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	cause, _ := h.Csr.Read(csr.Mcause)
	if cause != excLoadAddrMisaligned {
		t.Errorf("mcause = %d, want %d", cause, excLoadAddrMisaligned)
	}
	mtval, _ := h.Csr.Read(csr.Mtval)
	if mtval != 1 {
		t.Errorf("mtval = %d, want 1", mtval)
	}
}

func TestEbreakDelegatesToSupervisor(t *testing.T) {
	h, mem := newTestHart(t, "imafdcs")
	h.Csr.Write(csr.Medeleg, 1<<excBreakpoint)
	h.priv = PrivilegeUser
	// ebreak
	mustWriteWord(t, mem, 0, encodeI(opcodeSystem, 0x0, 0, 0, 1))

	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if h.priv != PrivilegeSupervisor {
		t.Errorf("priv = %v, want PrivilegeSupervisor", h.priv)
	}
	scause, _ := h.Csr.Read(csr.Scause)
	if scause != excBreakpoint {
		t.Errorf("scause = %d, want %d", scause, excBreakpoint)
	}
	sepc, _ := h.Csr.Read(csr.Sepc)
	if sepc != 0 {
		t.Errorf("sepc = %d, want 0", sepc)
	}
	mepc, _ := h.Csr.Read(csr.Mepc)
	if mepc != 0 {
		t.Errorf("mepc = %d, want 0 (trap delegated, machine state untouched)", mepc)
	}
}

func TestPendingTimerInterruptTaken(t *testing.T) {
	h, mem := newTestHart(t, "imafdc")
	mustWriteWord(t, mem, 0, encodeI(opcodeAluI, 0x0, 1, 0, 1)) // addi x1, x0, 1

	const mieMTIE = 1 << 7 // MIE.MTIE
	h.Csr.Write(csr.Mie, mieMTIE)
	h.Csr.SetPending(false, true, false)
	mstatus, _ := h.Csr.Read(csr.Mstatus)
	h.Csr.Write(csr.Mstatus, mstatus|mstatusBitsMIE)

	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := h.PeekIntReg(1); got != 0 {
		t.Errorf("x1 = %d, want 0 (addi must not have retired, interrupt preempted it)", got)
	}
	cause, _ := h.Csr.Read(csr.Mcause)
	if cause != intMTI|interruptCauseBit {
		t.Errorf("mcause = 0x%x, want 0x%x", cause, intMTI|interruptCauseBit)
	}
	mepc, _ := h.Csr.Read(csr.Mepc)
	if mepc != 0 {
		t.Errorf("mepc = %d, want 0", mepc)
	}
}

func TestAddSub(t *testing.T) {
	h, mem := newTestHart(t, "imafdc")
	h.PokeIntReg(1, 10)
	h.PokeIntReg(2, 3)
	// add x3, x1, x2
	mustWriteWord(t, mem, 0, encodeR(0x33, 0x0, 0x00, 3, 1, 2))
	// sub x4, x1, x2
	mustWriteWord(t, mem, 4, encodeR(0x33, 0x0, 0x20, 4, 1, 2))

	if err := h.Step(); err != nil {
		t.Fatalf("Step (add): %v", err)
	}
	if got := h.PeekIntReg(3); got != 13 {
		t.Errorf("x3 = %d, want 13", got)
	}
	if err := h.Step(); err != nil {
		t.Fatalf("Step (sub): %v", err)
	}
	if got := h.PeekIntReg(4); got != 7 {
		t.Errorf("x4 = %d, want 7", got)
	}
}
