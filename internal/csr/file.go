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

package csr

import "github.com/gmofishsauce/rvhart/internal/urv"

// mstatusMIE is the bit position of the machine-mode global interrupt
// enable flag within mstatus.
const mstatusMIE = 1 << 3

// regdef is a table entry describing one implemented CSR: its write
// mask (bits a CSR instruction may change) and poke mask (bits a debug
// poke may change, normally a superset of the write mask).
type regdef struct {
	writeMask uint64
	pokeMask  uint64
	readOnly  bool
}

// TriggerBank is the subset of the debug trigger engine the CSR file
// needs in order to route tselect/tdata1/tdata2/tdata3 accesses to the
// currently selected trigger. internal/hart wires a *trigger.Engine in
// at startup; a nil bank makes the trigger window read as zero and
// reject writes, matching a hart built with zero triggers.
type TriggerBank interface {
	Count() int
	ReadData1(idx int) uint64
	WriteData1(idx int, val uint64) bool
	ReadData2(idx int) uint64
	WriteData2(idx int, val uint64)
	ReadData3(idx int) uint64
	WriteData3(idx int, val uint64)
}

// File is the machine-mode control and status register file.
type File struct {
	xlen urv.Xlen
	regs map[Number]uint64
	defs map[Number]regdef

	maxHpmCounters int // configured count of implemented MHPMCOUNTER3..n

	mdseacLocked bool
	tselect      int
	triggers     TriggerBank

	// meip/mtip/msip are the pending-interrupt bits the hart ORs into
	// MIP on read; they are not part of the stored register value
	// because they reflect live wire state, not CSR-write state.
	meip, mtip, msip bool

	// maxEventID bounds the value a write to MHPMEVENT3..31 may take;
	// eventOfCounter[i] is the event id MHPMCOUNTER(3+i) currently
	// counts, indexed the same way as the MHPMEVENT/MHPMCOUNTER range.
	maxEventID    uint64
	eventOfCounter [29]uint64

	// cycle and instret are the master 64-bit values MCYCLE/MCYCLEH and
	// MINSTRET/MINSTRETH present the low/high halves of.
	cycle, instret uint64

	// writeLog records the CSR numbers touched by the most recent
	// sequence of Write calls (including collateral side-effect
	// writes), cleared by the hart loop at the start of each fetch.
	writeLog []Number
}

// NewFile returns a CSR file reset to its power-on state for the given
// register width.
func NewFile(xlen urv.Xlen) *File {
	f := &File{xlen: xlen, maxHpmCounters: 29, maxEventID: MaxEventID}
	f.defs = buildDefs()
	f.Reset()
	return f
}

// SetMaxEventId bounds the event id a write to MHPMEVENT3..31 may
// select; a write above the bound is clamped (spec's "clamp the
// written value to a configured maximum event id").
func (f *File) SetMaxEventId(id uint64) {
	f.maxEventID = id
}

// SetTriggerBank wires the debug trigger engine backing tselect and the
// tdataN window. Call once during hart construction.
func (f *File) SetTriggerBank(t TriggerBank) {
	f.triggers = t
}

// SetMaxHpmCounters bounds which MHPMCOUNTER3..31/MHPMEVENT3..31 pairs
// are implemented; a counter or event beyond that bound is reported as
// unimplemented, so Read and Write on it fail like on any other
// unimplemented CSR.
func (f *File) SetMaxHpmCounters(n int) {
	if n < 0 {
		n = 0
	}
	if n > 29 {
		n = 29
	}
	f.maxHpmCounters = n
}

// IncrementCycle advances MCYCLE/MCYCLEH by one and every performance
// counter currently assigned to EventClockActive, called once per hart
// loop iteration regardless of whether an instruction retires.
func (f *File) IncrementCycle() {
	f.cycle++
	f.storeCounterPair(Mcycle, Mcycleh, f.cycle)
	f.UpdateCounters(uint64(EventClockActive))
}

// IncrementInstret advances MINSTRET/MINSTRETH by one and every
// performance counter currently assigned to EventInstCommitted, called
// once per retired instruction.
func (f *File) IncrementInstret() {
	f.instret++
	f.storeCounterPair(Minstret, Minstreth, f.instret)
	f.UpdateCounters(uint64(EventInstCommitted))
}

// storeCounterPair writes a 64-bit counter value into its low/high CSR
// pair: on an XLEN-64 hart the low register holds the full value and
// the high register is unused; on XLEN-32 the pair ties to the two
// halves of the same backing counter.
func (f *File) storeCounterPair(low, high Number, value uint64) {
	if f.xlen == urv.Xlen64 {
		f.regs[low] = value
		return
	}
	f.regs[low] = value & 0xFFFFFFFF
	f.regs[high] = value >> 32
}

// UpdateCounters advances every implemented MHPMCOUNTER3..31 currently
// assigned (via its MHPMEVENT register) to event, mirroring the
// original perf-register bank's updateCounters: an event increments
// every counter that currently counts it, not just one.
func (f *File) UpdateCounters(event uint64) {
	for i := 0; i < f.maxHpmCounters && i < len(f.eventOfCounter); i++ {
		if f.eventOfCounter[i] != event {
			continue
		}
		lo := Mhpmcounter3First + Number(i)
		hi := Mhpmcounter3hFirst + Number(i)
		value := f.regs[lo] | (f.regs[hi] << 32)
		f.storeCounterPair(lo, hi, value+1)
	}
}

func buildDefs() map[Number]regdef {
	all := uint64(0xFFFFFFFFFFFFFFFF)
	wam := all // write-any-mask: every bit writable
	rom := regdef{writeMask: 0, pokeMask: all, readOnly: true}

	d := map[Number]regdef{
		Mstatus:    {writeMask: 0x7FFFFFFF, pokeMask: all},
		Misa:       rom,
		Medeleg:    {writeMask: wam, pokeMask: all},
		Mideleg:    {writeMask: wam, pokeMask: all},
		Mie:        {writeMask: wam, pokeMask: all},
		Mtvec:      {writeMask: ^uint64(2), pokeMask: all}, // bit 1 reserved, never writable
		Mcounteren: {writeMask: wam, pokeMask: all},

		Mscratch: {writeMask: wam, pokeMask: all},
		Mepc:     {writeMask: ^uint64(1), pokeMask: all}, // low bit hardwired zero
		Mcause:   {writeMask: wam, pokeMask: all},
		Mtval:    {writeMask: wam, pokeMask: all},
		Mip:      {writeMask: wam, pokeMask: all},

		Fflags: {writeMask: 0x1F, pokeMask: 0x1F},
		Frm:    {writeMask: 0x7, pokeMask: 0x7},
		Fcsr:   {writeMask: 0xFF, pokeMask: 0xFF},

		Satp: {writeMask: wam, pokeMask: all},

		Sstatus:    {writeMask: 0x000DE133, pokeMask: all},
		Sie:        {writeMask: wam, pokeMask: all},
		Stvec:      {writeMask: ^uint64(2), pokeMask: all},
		Scounteren: {writeMask: wam, pokeMask: all},
		Sscratch:   {writeMask: wam, pokeMask: all},
		Sepc:       {writeMask: ^uint64(1), pokeMask: all},
		Scause:     {writeMask: wam, pokeMask: all},
		Stval:      {writeMask: wam, pokeMask: all},
		Sip:        {writeMask: wam, pokeMask: all},

		Tselect: {writeMask: wam, pokeMask: all},
		Tdata1:  {writeMask: wam, pokeMask: all},
		Tdata2:  {writeMask: wam, pokeMask: all},
		Tdata3:  {writeMask: wam, pokeMask: all},

		Dcsr:     {writeMask: wam, pokeMask: all},
		Dpc:      {writeMask: ^uint64(1), pokeMask: all},
		Dscratch: {writeMask: wam, pokeMask: all},

		Mrac:  {writeMask: wam, pokeMask: all},
		Mdeau: {writeMask: 0, pokeMask: all},
		// mdseac is read-only to CSR instructions but pokeable, matching
		// a register the hart itself latches a fault address into.
		Mdseac: {writeMask: 0, pokeMask: all, readOnly: true},
		Mdseal: {writeMask: wam, pokeMask: all},

		// Low 10 bits of meivt (the vector table base alignment field)
		// are not writable; meihap is entirely read-only to CSR writes
		// and only changes via the meivt side effect or a poke.
		Meivt:    {writeMask: ^uint64(0x3FF), pokeMask: all},
		Meipt:    {writeMask: wam, pokeMask: all},
		Meicidpl: {writeMask: wam, pokeMask: all},
		Meicurpl: {writeMask: wam, pokeMask: all},
		Meihap:   {writeMask: 0, pokeMask: ^uint64(3), readOnly: true},

		Mcycle:    {writeMask: wam, pokeMask: all},
		Mcycleh:   {writeMask: wam, pokeMask: all},
		Minstret:  {writeMask: wam, pokeMask: all},
		Minstreth: {writeMask: wam, pokeMask: all},

		Mvendorid:  rom,
		Marchid:    rom,
		Mimpid:     rom,
		Mhartid:    rom,
		Mconfigptr: rom,
	}

	for n := Mhpmevent3First; n <= Mhpmevent3Last; n++ {
		d[n] = regdef{writeMask: wam, pokeMask: all}
	}
	for n := Mhpmcounter3First; n <= Mhpmcounter3Last; n++ {
		d[n] = regdef{writeMask: wam, pokeMask: all}
	}
	for n := Mhpmcounter3hFirst; n <= Mhpmcounter3hLast; n++ {
		d[n] = regdef{writeMask: wam, pokeMask: all}
	}
	return d
}

// Reset restores every register to its power-on value of zero and
// clears transient state (tselect, mdseac lock).
func (f *File) Reset() {
	f.regs = make(map[Number]uint64, len(f.defs))
	f.tselect = 0
	f.mdseacLocked = false
	f.meip, f.mtip, f.msip = false, false, false
	f.cycle, f.instret = 0, 0
	for i := range f.eventOfCounter {
		f.eventOfCounter[i] = uint64(EventNone)
	}
	f.writeLog = nil
}

// SetPending sets or clears the live external/timer/software interrupt
// pending bits the hart loop ORs into MIP on read.
func (f *File) SetPending(meip, mtip, msip bool) {
	f.meip, f.mtip, f.msip = meip, mtip, msip
}

// Walk calls fn once for every implemented non-trigger CSR in
// ascending address order, used by internal/snapshot to serialize the
// whole file without needing to know its address space.
func (f *File) Walk(fn func(n Number, value uint64)) {
	numbers := make([]Number, 0, len(f.defs))
	for n := range f.defs {
		numbers = append(numbers, n)
	}
	for i := 1; i < len(numbers); i++ {
		for j := i; j > 0 && numbers[j-1] > numbers[j]; j-- {
			numbers[j-1], numbers[j] = numbers[j], numbers[j-1]
		}
	}
	for _, n := range numbers {
		if isTriggerWindow(n) || n == Tselect || !f.Implemented(n) {
			continue
		}
		v, ok := f.Read(n)
		if ok {
			fn(n, v)
		}
	}
}

// Implemented reports whether n names a register this file models.
func (f *File) Implemented(n Number) bool {
	if isTriggerWindow(n) {
		return f.triggers != nil
	}
	if IsMhpmevent(n) && !f.hpmCounterImplemented(n, true) {
		return false
	}
	if IsMhpmcounter(n) && !f.hpmCounterImplemented(n, false) {
		return false
	}
	_, ok := f.defs[n]
	return ok
}

func isTriggerWindow(n Number) bool {
	return n == Tdata1 || n == Tdata2 || n == Tdata3
}

func (f *File) hpmCounterImplemented(n Number, event bool) bool {
	var idx int
	if event {
		idx = int(n - Mhpmevent3First)
	} else if n >= Mhpmcounter3First && n <= Mhpmcounter3Last {
		idx = int(n - Mhpmcounter3First)
	} else {
		idx = int(n - Mhpmcounter3hFirst)
	}
	return idx < f.maxHpmCounters
}

// Read returns the current value of n and whether it is implemented.
func (f *File) Read(n Number) (uint64, bool) {
	if isTriggerWindow(n) {
		return f.readTrigger(n)
	}
	if n == Tselect {
		return uint64(f.tselect), f.triggers != nil
	}
	if !f.Implemented(n) {
		return 0, false
	}
	if n == Mip {
		return f.regs[Mip] | f.livePendingBits(), true
	}
	if n == Mstatus {
		v := f.regs[Mstatus]
		if v&mstatusMIE != 0 {
			v |= mstatusMIE
		} else {
			v &^= mstatusMIE
		}
		return v, true
	}
	return f.regs[n], true
}

func (f *File) livePendingBits() uint64 {
	var v uint64
	if f.meip {
		v |= 1 << 11
	}
	if f.mtip {
		v |= 1 << 7
	}
	if f.msip {
		v |= 1 << 3
	}
	return v
}

func (f *File) readTrigger(n Number) (uint64, bool) {
	if f.triggers == nil {
		return 0, false
	}
	switch n {
	case Tdata1:
		return f.triggers.ReadData1(f.tselect), true
	case Tdata2:
		return f.triggers.ReadData2(f.tselect), true
	case Tdata3:
		return f.triggers.ReadData3(f.tselect), true
	}
	return 0, false
}

// Write performs a CSR-instruction write: masked against writeMask,
// with side effects on sibling registers. Returns false if n is not
// implemented (the caller should raise an illegal-instruction trap);
// a write to a read-only register is accepted but has no effect, per
// the RISC-V Zicsr rule that only CSRRW-with-same-value writes to a
// read-only CSR are legal and all others are silently ignored here
// (neither the decoder nor the execute path traps CSRRS/CSRRC with
// nonzero rs1 against a read-only CSR; such writes are also ignored).
func (f *File) Write(n Number, value uint64) bool {
	if isTriggerWindow(n) {
		ok := f.writeTrigger(n, value)
		if ok {
			f.writeLog = append(f.writeLog, n)
		}
		return ok
	}
	if n == Tselect {
		if f.triggers == nil {
			return false
		}
		if int(value) < f.triggers.Count() {
			f.tselect = int(value)
		}
		f.writeLog = append(f.writeLog, n)
		return true
	}
	if !f.Implemented(n) {
		return false
	}
	def := f.defs[n]
	if def.readOnly {
		return true
	}
	f.regs[n] = (f.regs[n] &^ def.writeMask) | (value & def.writeMask)
	f.writeLog = append(f.writeLog, n)
	f.applySideEffects(n, value)
	return true
}

func (f *File) writeTrigger(n Number, value uint64) bool {
	if f.triggers == nil {
		return false
	}
	switch n {
	case Tdata1:
		return f.triggers.WriteData1(f.tselect, value)
	case Tdata2:
		f.triggers.WriteData2(f.tselect, value)
		return true
	case Tdata3:
		f.triggers.WriteData3(f.tselect, value)
		return true
	}
	return false
}

// WriteLog returns the CSR numbers touched since the last ClearWriteLog,
// in write order, including collateral registers a primary write also
// modified (e.g. a write to FFLAGS logs FCSR too).
func (f *File) WriteLog() []Number {
	return f.writeLog
}

// ClearWriteLog discards the accumulated write log; the hart loop calls
// this at the start of each fetch so the log reflects one instruction's
// writes at a time.
func (f *File) ClearWriteLog() {
	f.writeLog = f.writeLog[:0]
}

// RecordWrite appends n to the write log for a register change the file
// itself did not originate, such as a trigger's hit bit set by the
// trigger engine when it fires.
func (f *File) RecordWrite(n Number) {
	f.writeLog = append(f.writeLog, n)
}

// Poke sets n unconditionally (subject only to the poke mask), used by
// snapshot restore and the external debug interface. Poke bypasses the
// read-only flag so e.g. mdseac and meihap can be latched by the hart.
func (f *File) Poke(n Number, value uint64) {
	if isTriggerWindow(n) || n == Tselect {
		return
	}
	def, ok := f.defs[n]
	if !ok {
		return
	}
	f.regs[n] = (f.regs[n] &^ def.pokeMask) | (value & def.pokeMask)
}

// applySideEffects runs the sibling-register updates the original
// implementation's CSR file performs on a handful of special
// addresses, in terms of the just-written masked value.
func (f *File) applySideEffects(n Number, rawValue uint64) {
	switch n {
	case Fflags:
		fcsr := f.regs[Fcsr]
		fcsr = (fcsr &^ 0x1F) | (rawValue & 0x1F)
		f.regs[Fcsr] = fcsr
		f.writeLog = append(f.writeLog, Fcsr)

	case Frm:
		fcsr := f.regs[Fcsr]
		fcsr = (fcsr &^ 0xE0) | ((rawValue << 5) & 0xE0)
		f.regs[Fcsr] = fcsr
		f.writeLog = append(f.writeLog, Fcsr)

	case Fcsr:
		v := f.regs[Fcsr]
		f.regs[Fflags] = v & 0x1F
		f.regs[Frm] = (v >> 5) & 0x7
		f.writeLog = append(f.writeLog, Fflags, Frm)

	case Mdeau:
		// Writing mdeau (of any value) unlocks mdseac so the next
		// memory fault may latch a fresh address into it.
		f.mdseacLocked = false

	case Meivt:
		// Propagate the vector table base into meihap, preserving the
		// claim-id bits meihap's own low 10 bits hold.
		meihap := f.regs[Meihap]
		meihap &= 0x3FF
		meihap |= f.regs[Meivt] &^ 0x3FF
		f.regs[Meihap] = meihap
		f.writeLog = append(f.writeLog, Meihap)

	case Mstatus:
		// No additional bookkeeping needed: Read recomputes the cached
		// MIE presentation bit directly from the stored value.

	default:
		if IsMhpmevent(n) {
			event := rawValue
			if event > f.maxEventID {
				event = f.maxEventID
			}
			idx := int(n - Mhpmevent3First)
			f.regs[n] = event
			if idx < len(f.eventOfCounter) {
				f.eventOfCounter[idx] = event
			}
		}
	}
}

// MdseacLocked reports whether mdseac is currently locked against a new
// fault address (cleared by a write to mdeau).
func (f *File) MdseacLocked() bool {
	return f.mdseacLocked
}

// LatchMdseac records a synchronous bus error address into mdseac and
// locks it until mdeau is written, mirroring the original hart's single
// outstanding "deferred bus error" slot.
func (f *File) LatchMdseac(addr uint64) {
	if f.mdseacLocked {
		return
	}
	f.regs[Mdseac] = addr
	f.mdseacLocked = true
}

// MstatusMIE reports the cached global machine-interrupt-enable bit.
func (f *File) MstatusMIE() bool {
	return f.regs[Mstatus]&mstatusMIE != 0
}

// SetMstatusMIE sets or clears the global interrupt enable bit, used by
// the trap engine on entry (clear, saving the old value to MPIE) and by
// MRET (restore from MPIE).
func (f *File) SetMstatusMIE(on bool) {
	if on {
		f.regs[Mstatus] |= mstatusMIE
	} else {
		f.regs[Mstatus] &^= mstatusMIE
	}
}
