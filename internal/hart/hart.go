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

// Package hart is the fetch-decode-execute loop and trap engine, the
// generalization of the teacher's emul/cpu.go CPU and emul/execute.go
// dispatch from the WUT-4's fixed base/XOP/YOP/ZOP/VOP instruction
// groups to RISC-V's opcode-identified instruction set, carried
// through internal/isa's decoder.
package hart

import (
	"fmt"

	"github.com/gmofishsauce/rvhart/internal/config"
	"github.com/gmofishsauce/rvhart/internal/csr"
	"github.com/gmofishsauce/rvhart/internal/isa"
	"github.com/gmofishsauce/rvhart/internal/memio"
	"github.com/gmofishsauce/rvhart/internal/regfile"
	sysbridge "github.com/gmofishsauce/rvhart/internal/syscall"
	"github.com/gmofishsauce/rvhart/internal/trace"
	"github.com/gmofishsauce/rvhart/internal/trigger"
	"github.com/gmofishsauce/rvhart/internal/urv"
)

// Privilege is the hart's current execution mode. Numeric values match
// original_source/CsRegs.hpp's PrivilegeMode so trap delegation masks
// line up directly with MEDELEG/MIDELEG bit positions.
type Privilege int

const (
	PrivilegeUser       Privilege = 0
	PrivilegeSupervisor Privilege = 1
	PrivilegeMachine    Privilege = 3
)

// StopReason identifies why Step returned a *Stop, mirroring
// spec's stop-condition list (tohost store, stop address, instruction
// limit, guest exit, external halt).
type StopReason int

const (
	StopNone StopReason = iota
	StopTohost
	StopAddress
	StopInstructionLimit
	StopExit
	StopExternal
)

// Stop is returned by Step (never treated as an execution error) when
// one of the host-facing stop conditions fires.
type Stop struct {
	Reason StopReason
	Value  int64
}

func (s *Stop) Error() string {
	return fmt.Sprintf("stop (reason=%d value=%d)", s.Reason, s.Value)
}

// maxConsecutiveIllegal bounds how many illegal-instruction traps at
// the same PC are tolerated before the run is terminated, per spec's
// "prevent infinite loops after program corruption" requirement.
const maxConsecutiveIllegal = 16

// Hart is a single RISC-V hardware thread: register files, CSR file,
// trigger engine, and the loop that ties them to a Memory.
type Hart struct {
	Xlen urv.Xlen
	pc   uint64

	Int *regfile.IntFile
	Fp  *regfile.FPFile
	Csr *csr.File
	Trg *trigger.Engine
	Mem memio.Memory

	priv Privilege

	hasM, hasA, hasF, hasD, hasC, hasS bool

	instCount uint64
	maxInst   uint64
	hasMaxInst bool

	stopAddr    uint64
	hasStopAddr bool

	tohostAddr uint64
	hasTohost  bool

	reservValid bool
	reservAddr  uint64

	lastIllegalPC     uint64
	consecutiveIllegal int
	haveLastIllegal   bool

	progBreak uint64

	Tracer   *trace.Logger
	Syscalls *sysbridge.Bridge

	external bool // set by Halt to request an external stop

	fastInterrupt bool   // vectored external-interrupt claim path enabled
	nmiPending    bool   // latched, checked and cleared before any standard interrupt
	nmiVector     uint64 // fixed PC an NMI dispatches to
	nmiCauseBit   uint   // extra MCAUSE bit marking a trap as an NMI

	enableProfile bool
	Profile       map[isa.Op]uint64 // per-opcode retirement counts, nil unless enabled
}

// New constructs a Hart from cfg, with mem as its backing physical
// memory (already populated by internal/loader).
func New(cfg config.Config, mem memio.Memory) *Hart {
	xlen := urv.Xlen64
	if cfg.Xlen == 32 {
		xlen = urv.Xlen32
	}

	h := &Hart{
		Xlen: xlen,
		Int:  regfile.NewIntFile(),
		Fp:   regfile.NewFPFile(),
		Mem:  mem,
		priv: PrivilegeMachine,

		hasM: cfg.HasExtension('m'),
		hasA: cfg.HasExtension('a'),
		hasF: cfg.HasExtension('f'),
		hasD: cfg.HasExtension('d'),
		hasC: cfg.HasExtension('c'),
		hasS: cfg.HasExtension('s'),
	}

	h.Csr = csr.NewFile(xlen)
	h.Csr.SetMaxHpmCounters(cfg.MaxHpmCounters)
	if cfg.MaxPerfEventID != 0 {
		h.Csr.SetMaxEventId(cfg.MaxPerfEventID)
	}

	h.fastInterrupt = cfg.EnableFastInterrupt
	h.nmiVector = cfg.NMIVector
	h.nmiCauseBit = cfg.NMICauseBit
	if h.nmiCauseBit == 0 {
		h.nmiCauseBit = 63
	}

	h.enableProfile = cfg.EnableProfile
	if h.enableProfile {
		h.Profile = make(map[isa.Op]uint64)
	}

	if cfg.TriggerCount > 0 {
		h.Trg = trigger.NewEngine(cfg.TriggerCount, xlen.Bits())
		h.Csr.SetTriggerBank(h.Trg)
	}

	for _, r := range cfg.CSRResets {
		h.Csr.Poke(csr.Number(r.Addr), r.Value)
	}

	if cfg.MaxHpmCounters == 0 {
		h.Csr.SetMaxHpmCounters(29)
	}

	h.progBreak = cfg.ProgramBreak

	return h
}

// SetEntry sets the initial PC, typically the loader's reported entry
// point.
func (h *Hart) SetEntry(pc uint64) { h.pc = pc }

// SetTohost configures the address a store to which stops the run,
// the HTIF-style exit protocol newlib/Linux test binaries use.
func (h *Hart) SetTohost(addr uint64) {
	h.tohostAddr = addr
	h.hasTohost = true
}

// SetSyscallBridge wires a Linux/newlib syscall bridge into ecall
// handling; once set, ecall dispatches to the bridge instead of
// raising the architectural ecall-from-<mode> exception.
func (h *Hart) SetSyscallBridge(b *sysbridge.Bridge) { h.Syscalls = b }

// ReadInt and WriteInt expose the integer register file to
// internal/syscall's Bridge, which depends only on this narrow
// interface rather than the full Hart.
func (h *Hart) ReadInt(reg uint32) uint64      { return h.Int.Read(reg) }
func (h *Hart) WriteInt(reg uint32, v uint64) { h.Int.Write(reg, v) }

// SetStopAddress configures a PC value that stops the run when reached
// before the instruction at that address executes.
func (h *Hart) SetStopAddress(addr uint64) {
	h.stopAddr = addr
	h.hasStopAddr = true
}

// SetMaxInstructions configures a retired-instruction count limit.
func (h *Hart) SetMaxInstructions(n uint64) {
	h.maxInst = n
	h.hasMaxInst = true
}

// Halt requests the run loop stop before the next instruction.
func (h *Hart) Halt() { h.external = true }

// SetNmi latches a non-maskable interrupt request; it is delivered
// before the next instruction's fetch, ahead of any standard interrupt
// and regardless of MSTATUS.MIE.
func (h *Hart) SetNmi() { h.nmiPending = true }

// PC returns the current program counter.
func (h *Hart) PC() uint64 { return h.pc }

// SetPC pokes the program counter directly, used by snapshot restore.
func (h *Hart) SetPC(addr uint64) { h.pc = addr }

// InstructionCount returns the number of instructions retired so far.
func (h *Hart) InstructionCount() uint64 { return h.instCount }

// SetInstructionCount pokes the retired-instruction counter, used by
// snapshot restore.
func (h *Hart) SetInstructionCount(n uint64) { h.instCount = n }

// ProgramBreak and SetProgramBreak expose the syscall bridge's brk
// value for snapshotting.
func (h *Hart) ProgramBreak() uint64     { return h.progBreak }
func (h *Hart) SetProgramBreak(a uint64) { h.progBreak = a }

// PeekIntReg/PokeIntReg/PeekFPReg/PokeFPReg and WalkCSRs/PokeCSR
// satisfy internal/snapshot.State.
func (h *Hart) PeekIntReg(n int) uint64        { return h.Int.Read(uint32(n)) }
func (h *Hart) PokeIntReg(n int, v uint64) bool { h.Int.Poke(uint32(n), v); return true }
func (h *Hart) PeekFPReg(n int) uint64         { return h.Fp.ReadDouble(uint32(n)) }
func (h *Hart) PokeFPReg(n int, v uint64) bool { h.Fp.Poke(uint32(n), v); return true }
func (h *Hart) HasF() bool                     { return h.hasF || h.hasD }

func (h *Hart) WalkCSRs(fn func(addr uint16, value uint64)) {
	h.Csr.Walk(func(n csr.Number, v uint64) { fn(uint16(n), v) })
}

func (h *Hart) PokeCSR(addr uint16, v uint64) bool {
	n := csr.Number(addr)
	if !h.Csr.Implemented(n) {
		return false
	}
	h.Csr.Poke(n, v)
	return true
}

// Step fetches, decodes, and executes exactly one instruction,
// retiring it or delivering a trap. It returns a non-nil error only
// for a Stop (host-facing, not an architectural fault) or an internal
// memory error from the collaborator.
func (h *Hart) Step() error {
	if h.hasStopAddr && h.pc == h.stopAddr {
		return &Stop{Reason: StopAddress}
	}
	if h.hasMaxInst && h.instCount >= h.maxInst {
		return &Stop{Reason: StopInstructionLimit}
	}
	if h.external {
		return &Stop{Reason: StopExternal}
	}

	h.Csr.ClearWriteLog()
	if h.Trg != nil {
		h.Trg.ClearModified()
	}
	h.Csr.IncrementCycle()

	if h.nmiPending {
		h.nmiPending = false
		h.raiseNmi(intMEI, h.pc, h.nmiVector, h.nmiCauseBit)
		return nil
	}

	if cause, ok := h.pendingInterrupt(); ok {
		if h.fastInterrupt && cause == intMEI && h.fastInterruptClaimed() {
			meihap, _ := h.Csr.Read(csr.Meihap)
			h.raiseFastInterrupt(meihap&0x3FF, h.pc)
		} else {
			h.raiseInterrupt(cause, h.pc)
		}
		return nil
	}

	startPC := h.pc

	raw, length, ferr := h.fetch()
	if ferr != nil {
		h.raiseException(excInstAccessFault, startPC, startPC)
		return nil
	}

	var in isa.Inst
	var derr error
	if length == 2 {
		in, derr = isa.DecodeCompressed(uint16(raw), h.Xlen, h.hasF)
	} else {
		in, derr = isa.Decode32(raw, h.Xlen)
	}
	if derr != nil {
		return h.illegalInstruction(startPC, uint64(raw))
	}

	if h.Trg != nil {
		if fired := h.Trg.CheckInstAddr(startPC, trigger.TimingBefore, trigger.Privilege(h.priv)); len(fired) != 0 {
			h.handleTriggerFire(fired, startPC, startPC)
			return nil
		}
	}

	if !h.haveLastIllegal || h.lastIllegalPC != startPC {
		h.consecutiveIllegal = 0
		h.haveLastIllegal = false
	}

	h.Int.ClearLastWrite()
	h.Fp.ClearLastWrite()

	h.pc = startPC + uint64(length)
	if err := h.execute(in, startPC); err != nil {
		// Memory and CSR writes the instruction made before faulting or
		// stopping are traced inline by the execute path itself (see
		// traceMemWrite), since a Stop here means this call never
		// reaches the retirement trace below.
		return err
	}

	h.instCount++
	h.Csr.IncrementInstret()
	if h.enableProfile {
		h.Profile[in.Op]++
	}

	if h.Trg != nil {
		if fired := h.Trg.StepICount(); len(fired) != 0 {
			h.handleTriggerFire(fired, h.pc, h.pc)
		}
	}

	if h.Tracer != nil {
		h.logRetired(startPC, raw, in)
	}

	return nil
}

// handleTriggerFire dispatches the action of a set of fired triggers:
// if any requests entering debug mode it takes priority, otherwise a
// synchronous breakpoint exception is raised. The firing itself (the
// hit bit each trigger just set) is recorded in the CSR write log as a
// write to TDATA1.
func (h *Hart) handleTriggerFire(fired []trigger.Fired, pc, tval uint64) {
	h.Csr.RecordWrite(csr.Tdata1)

	debug := false
	for _, f := range fired {
		if f.Action == trigger.ActionDebugMode {
			debug = true
		}
	}
	if debug {
		h.enterDebugMode(pc)
		return
	}
	h.raiseException(excBreakpoint, pc, tval)
}

// enterDebugMode implements a trigger's "enter debug mode" action:
// DPC saves the PC a normal trap would have used, DCSR.cause records
// that a trigger caused entry, and the run halts the way Halt does
// (there is no resident debug monitor to resume execution here).
func (h *Hart) enterDebugMode(pc uint64) {
	const dcsrCauseShift = 6
	const dcsrCauseMask = 0x7
	const dcsrCauseTrigger = 2

	dcsr, _ := h.Csr.Read(csr.Dcsr)
	dcsr &^= dcsrCauseMask << dcsrCauseShift
	dcsr |= dcsrCauseTrigger << dcsrCauseShift
	h.Csr.Write(csr.Dcsr, dcsr)
	h.Csr.Write(csr.Dpc, pc)
	h.external = true
}

// logRetired emits one trace record per resource the just-retired
// instruction changed: the integer or FP register write (if any) and
// every CSR the write log recorded, per spec's "zero or more resource-
// change tuples" per-instruction model. Memory writes are logged
// inline by the store/AMO execute paths, since a store to tohost stops
// the run before this point is ever reached.
func (h *Hart) logRetired(pc uint64, raw uint32, in isa.Inst) {
	text := in.Op.String()
	logged := false

	if idx, value, _, ok := h.Int.LastWrite(); ok {
		h.Tracer.Log(0, pc, raw, trace.ResourceInt, uint64(idx), value, text)
		logged = true
	}
	if idx, value, ok := h.Fp.LastWrite(); ok {
		h.Tracer.Log(0, pc, raw, trace.ResourceFP, uint64(idx), value, text)
		logged = true
	}
	for _, n := range h.Csr.WriteLog() {
		v, _ := h.Csr.Read(n)
		h.Tracer.Log(0, pc, raw, trace.ResourceCSR, uint64(n), v, text)
		logged = true
	}

	if !logged {
		h.Tracer.Log(0, pc, raw, trace.ResourceNone, 0, 0, text)
	}
}

// illegalInstruction raises IllegalInstruction and, per spec,
// terminates the run if the same PC has faulted too many times in a
// row (infinite-loop-after-corruption guard).
func (h *Hart) illegalInstruction(pc uint64, raw uint64) error {
	if h.haveLastIllegal && h.lastIllegalPC == pc {
		h.consecutiveIllegal++
	} else {
		h.consecutiveIllegal = 1
		h.haveLastIllegal = true
		h.lastIllegalPC = pc
	}
	h.raiseException(excIllegalInstruction, pc, raw)
	if h.consecutiveIllegal >= maxConsecutiveIllegal {
		return &Stop{Reason: StopExternal}
	}
	return nil
}

// fetch reads the instruction at the current PC, checking the low two
// bits to decide whether it is a 2-byte compressed form or a 4-byte
// base-width form, the same quadrant test internal/isa.IsCompressed
// applies to an already-fetched half-word.
func (h *Hart) fetch() (uint32, int, error) {
	low, err := h.Mem.FetchHalf(h.pc)
	if err != nil {
		return 0, 0, err
	}
	if isa.IsCompressed(low) {
		return uint32(low), 2, nil
	}
	word, err := h.Mem.FetchWord(h.pc)
	if err != nil {
		return 0, 0, err
	}
	return word, 4, nil
}
