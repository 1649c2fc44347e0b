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

// Package csr implements the control and status register file: the
// 12-bit CSR address space, per-register write and poke masks, and the
// handful of registers whose writes have side effects on a sibling
// register (FFLAGS/FRM/FCSR, MEIVT/MEIHAP, MDEAU/MDSEAC, the MHPMEVENT
// counter-reassociation table, and the cached MSTATUS interrupt-enable
// flag).
package csr

// Number is a 12-bit CSR address.
type Number uint16

// Machine-level CSR numbers, named and grouped the way the RISC-V
// privileged spec groups them.
const (
	Fflags Number = 0x001
	Frm    Number = 0x002
	Fcsr   Number = 0x003

	Mstatus    Number = 0x300
	Misa       Number = 0x301
	Medeleg    Number = 0x302
	Mideleg    Number = 0x303
	Mie        Number = 0x304
	Mtvec      Number = 0x305
	Mcounteren Number = 0x306

	Mscratch Number = 0x340
	Mepc     Number = 0x341
	Mcause   Number = 0x342
	Mtval    Number = 0x343
	Mip      Number = 0x344

	Satp Number = 0x180

	// Supervisor-level CSRs, modeled so a hart configured with S-mode
	// can receive a delegated trap per MEDELEG/MIDELEG.
	Sstatus    Number = 0x100
	Sie        Number = 0x104
	Stvec      Number = 0x105
	Scounteren Number = 0x106
	Sscratch   Number = 0x140
	Sepc       Number = 0x141
	Scause     Number = 0x142
	Stval      Number = 0x143
	Sip        Number = 0x144

	Tselect Number = 0x7A0
	Tdata1  Number = 0x7A1
	Tdata2  Number = 0x7A2
	Tdata3  Number = 0x7A3

	Dcsr     Number = 0x7B0
	Dpc      Number = 0x7B1
	Dscratch Number = 0x7B2

	// Non-standard machine registers, named for the original
	// implementation's "CORE-V" style extensions.
	Mrac   Number = 0x7C0
	Mdeau  Number = 0x7C1
	Mdseal Number = 0xBC0

	Meivt    Number = 0xBC8
	Meipt    Number = 0xBC9
	Meicidpl Number = 0xBCB
	Meicurpl Number = 0xBCC
	Meihap   Number = 0xFC8
	Mdseac   Number = 0xFC0

	Mcycle   Number = 0xB00
	Mcycleh  Number = 0xB80
	Minstret Number = 0xB02
	Minstreth Number = 0xB82

	Mhpmevent3First Number = 0x323
	Mhpmevent3Last  Number = 0x33F

	Mhpmcounter3First  Number = 0xB03
	Mhpmcounter3Last   Number = 0xB1F
	Mhpmcounter3hFirst Number = 0xB83
	Mhpmcounter3hLast  Number = 0xB9F

	Mvendorid   Number = 0xF11
	Marchid     Number = 0xF12
	Mimpid      Number = 0xF13
	Mhartid     Number = 0xF14
	Mconfigptr  Number = 0xF15
)

// Event identifies a countable condition an MHPMEVENT register may
// associate a performance counter with, numbered the way the original
// implementation's perf-register event table numbers them.
type Event uint64

const (
	EventNone Event = iota
	EventClockActive
	EventICacheHits
	EventICacheMisses
	EventInstCommitted
	EventInst16Committed
	EventInst32Committed
	EventInstAligned
	EventInstDecode
	EventMult
	EventDiv
	EventLoad
	EventStore
	EventMisalignLoad
	EventMisalignStore
	EventAlu
	EventCsrRead
	EventCsrReadWrite
	EventCsrWrite
	EventEbreak
	EventEcall
	EventFence
	EventFencei
	EventMret
	EventBranch
	EventBranchMiss
	EventBranchTaken
)

// MaxEventID is the default bound a write to MHPMEVENT3..31 is clamped
// to before associating the written counter with an event.
const MaxEventID = uint64(EventBranchTaken)

// IsMhpmevent reports whether n is one of MHPMEVENT3..MHPMEVENT31.
func IsMhpmevent(n Number) bool {
	return n >= Mhpmevent3First && n <= Mhpmevent3Last
}

// IsMhpmcounter reports whether n is one of the MHPMCOUNTER3..31 or
// MHPMCOUNTER3H..31H shadow counters.
func IsMhpmcounter(n Number) bool {
	return (n >= Mhpmcounter3First && n <= Mhpmcounter3Last) ||
		(n >= Mhpmcounter3hFirst && n <= Mhpmcounter3hLast)
}
