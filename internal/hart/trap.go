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

import "github.com/gmofishsauce/rvhart/internal/csr"

// Synchronous exception causes, the standard RISC-V mcause encoding.
const (
	excInstAddrMisaligned = 0
	excInstAccessFault    = 1
	excIllegalInstruction = 2
	excBreakpoint         = 3
	excLoadAddrMisaligned = 4
	excLoadAccessFault    = 5
	excStoreAddrMisaligned = 6
	excStoreAccessFault    = 7
	excEcallFromU         = 8
	excEcallFromS         = 9
	excEcallFromM         = 11
)

const mstatusBitsSIE = 1 << 1
const mstatusBitsMIE = 1 << 3
const mstatusBitsSPIE = 1 << 5
const mstatusBitsMPIE = 1 << 7
const mstatusBitsSPP = 1 << 8
const mstatusBitsMPPShift = 11
const mstatusBitsMPPMask = 0x3 << mstatusBitsMPPShift

// raiseException implements the delivery algorithm: pick the target
// privilege by consulting MEDELEG (never delegating above the current
// privilege), write xCAUSE/xEPC/xTVAL, push xIE into xPIE in MSTATUS,
// switch privilege, and set PC from xTVEC.
func (h *Hart) raiseException(cause uint64, pc, tval uint64) {
	tgt := h.delegateTarget(cause)

	switch tgt {
	case PrivilegeSupervisor:
		h.Csr.Write(csr.Scause, cause)
		h.Csr.Write(csr.Sepc, pc)
		h.Csr.Write(csr.Stval, tval)
		h.pushTrapMstatus(true)
		h.pc = trapVector(read(h.Csr, csr.Stvec), cause, false)
	default:
		h.Csr.Write(csr.Mcause, cause)
		h.Csr.Write(csr.Mepc, pc)
		h.Csr.Write(csr.Mtval, tval)
		h.pushTrapMstatus(false)
		h.pc = trapVector(read(h.Csr, csr.Mtvec), cause, false)
	}

	h.priv = tgt
}

// interruptCauseBit marks mcause/scause as carrying an interrupt code
// rather than a synchronous exception code, per the standard encoding.
const interruptCauseBit = uint64(1) << 63

// raiseInterrupt delivers an asynchronous interrupt the same way
// raiseException delivers a synchronous one, except PC is never an
// instruction address to retry (there is nothing to retry) and vectored
// mode, when configured, dispatches through tvec.base + 4*cause rather
// than tvec.base alone.
func (h *Hart) raiseInterrupt(cause uint64, pc uint64) {
	tgt := h.delegateInterruptTarget(cause)
	full := cause | interruptCauseBit

	switch tgt {
	case PrivilegeSupervisor:
		h.Csr.Write(csr.Scause, full)
		h.Csr.Write(csr.Sepc, pc)
		h.Csr.Write(csr.Stval, 0)
		h.pushTrapMstatus(true)
		h.pc = trapVector(read(h.Csr, csr.Stvec), cause, true)
	default:
		h.Csr.Write(csr.Mcause, full)
		h.Csr.Write(csr.Mepc, pc)
		h.Csr.Write(csr.Mtval, 0)
		h.pushTrapMstatus(false)
		h.pc = trapVector(read(h.Csr, csr.Mtvec), cause, true)
	}

	h.priv = tgt
}

// trapVector computes the trap target PC from an xTVEC value: mode 0
// (low two bits) selects direct (base, every cause), mode 1 selects
// vectored (base + 4*cause, interrupts only; exceptions still go to base).
func trapVector(tvec, cause uint64, isInterrupt bool) uint64 {
	base := tvec &^ 0x3
	if isInterrupt && tvec&0x3 == 1 {
		return base + 4*cause
	}
	return base
}

func read(f *csr.File, n csr.Number) uint64 {
	v, _ := f.Read(n)
	return v
}

// delegateTarget picks the target privilege for a synchronous
// exception: delegated to supervisor mode if the hart implements S
// mode, MEDELEG's bit for this cause is set, and the current privilege
// is at or below supervisor (a trap never delegates to a mode higher
// than the one that took it).
func (h *Hart) delegateTarget(cause uint64) Privilege {
	if !h.hasS || h.priv == PrivilegeMachine {
		return PrivilegeMachine
	}
	medeleg, _ := h.Csr.Read(csr.Medeleg)
	if cause < 64 && medeleg&(1<<cause) != 0 {
		return PrivilegeSupervisor
	}
	return PrivilegeMachine
}

// delegateInterruptTarget is delegateTarget's counterpart for
// asynchronous interrupts, consulting MIDELEG instead of MEDELEG.
func (h *Hart) delegateInterruptTarget(cause uint64) Privilege {
	if !h.hasS || h.priv == PrivilegeMachine {
		return PrivilegeMachine
	}
	mideleg, _ := h.Csr.Read(csr.Mideleg)
	if cause < 64 && mideleg&(1<<cause) != 0 {
		return PrivilegeSupervisor
	}
	return PrivilegeMachine
}

// standard interrupt cause codes, RISC-V privileged spec table 3.6.
const (
	intSSI = 1
	intMSI = 3
	intSTI = 5
	intMTI = 7
	intSEI = 9
	intMEI = 11
)

// pendingInterrupt returns the highest-priority interrupt that is both
// pending (MIP) and enabled (MIE), masked by the global enable for the
// hart's current privilege, and whether one exists. Priority order
// matches the privileged spec: MEI, MSI, MTI, SEI, SSI, STI.
func (h *Hart) pendingInterrupt() (uint64, bool) {
	mip, _ := h.Csr.Read(csr.Mip)
	mie, _ := h.Csr.Read(csr.Mie)
	pending := mip & mie
	if pending == 0 {
		return 0, false
	}

	mstatus, _ := h.Csr.Read(csr.Mstatus)
	globalM := mstatus&mstatusBitsMIE != 0
	globalS := mstatus&mstatusBitsSIE != 0

	for _, cause := range []uint64{intMEI, intMSI, intMTI, intSEI, intSSI, intSTI} {
		if pending&(1<<cause) == 0 {
			continue
		}
		tgt := h.delegateInterruptTarget(cause)
		switch {
		case tgt == PrivilegeMachine && h.priv != PrivilegeMachine:
			return cause, true
		case tgt == PrivilegeMachine && h.priv == PrivilegeMachine && globalM:
			return cause, true
		case tgt == PrivilegeSupervisor && h.priv == PrivilegeUser:
			return cause, true
		case tgt == PrivilegeSupervisor && h.priv == PrivilegeSupervisor && globalS:
			return cause, true
		}
	}
	return 0, false
}

// pushTrapMstatus saves the pre-trap interrupt-enable bit into the
// target privilege's xPIE, clears xIE, and records the privilege the
// trap was taken from into xPP.
func (h *Hart) pushTrapMstatus(toSupervisor bool) {
	mstatus, _ := h.Csr.Read(csr.Mstatus)
	cur := h.priv

	if toSupervisor {
		sie := mstatus&mstatusBitsSIE != 0
		mstatus &^= mstatusBitsSPIE
		if sie {
			mstatus |= mstatusBitsSPIE
		}
		mstatus &^= mstatusBitsSIE
		mstatus &^= mstatusBitsSPP
		if cur == PrivilegeSupervisor {
			mstatus |= mstatusBitsSPP
		}
	} else {
		mie := mstatus&mstatusBitsMIE != 0
		mstatus &^= mstatusBitsMPIE
		if mie {
			mstatus |= mstatusBitsMPIE
		}
		h.Csr.SetMstatusMIE(false)
		mstatus &^= mstatusBitsMIE
		mstatus &^= mstatusBitsMPPMask
		mstatus |= (uint64(cur) << mstatusBitsMPPShift) & mstatusBitsMPPMask
	}

	h.Csr.Write(csr.Mstatus, mstatus)
}

// fastInterruptClaimed reports whether the currently-claimed external
// interrupt (MEICIDPL, its priority level) clears the configured
// priority threshold (MEIPT), the gate initiateFastInterrupt applies
// before taking the vectored claim path rather than a plain MEI.
func (h *Hart) fastInterruptClaimed() bool {
	meipt, _ := h.Csr.Read(csr.Meipt)
	meicidpl, _ := h.Csr.Read(csr.Meicidpl)
	return meicidpl > meipt
}

// raiseFastInterrupt delivers a claimed external interrupt through the
// vectored fast-interrupt path: the handler address is fetched directly
// from the MEIVT-based vector table at the claimed interrupt id
// (latched into MEIHAP's low bits), bypassing MTVEC entirely. Used only
// when fast-interrupt mode is enabled and MEICIDPL indicates a claimed
// interrupt above MEIPT's threshold.
func (h *Hart) raiseFastInterrupt(claimID uint64, pc uint64) {
	full := intMEI | interruptCauseBit
	h.Csr.Write(csr.Mcause, full)
	h.Csr.Write(csr.Mepc, pc)
	h.Csr.Write(csr.Mtval, 0)
	h.pushTrapMstatus(false)

	meivt, _ := h.Csr.Read(csr.Meivt)
	base := meivt &^ 0x3FF
	entryAddr := base + 4*claimID
	entry, err := h.Mem.FetchWord(entryAddr)
	if err != nil {
		h.pc = base
	} else {
		h.pc = uint64(entry)
	}

	h.priv = PrivilegeMachine
}

// raiseNmi delivers a non-maskable interrupt: fixed vector, MEPC/MCAUSE
// written directly (never delegated, never masked by MSTATUS.MIE), and
// MCAUSE carries bit nmiCauseBit set in addition to the standard
// interrupt-cause encoding. When nmiCauseBit is 63 (the default) that
// bit is the interrupt bit itself, so MCAUSE is identical to a standard
// interrupt with the same cause code.
func (h *Hart) raiseNmi(cause uint64, pc uint64, vector uint64, nmiCauseBit uint) {
	full := cause | interruptCauseBit | (uint64(1) << nmiCauseBit)
	h.Csr.Write(csr.Mcause, full)
	h.Csr.Write(csr.Mepc, pc)
	h.Csr.Write(csr.Mtval, 0)
	h.pushTrapMstatus(false)
	h.pc = vector
	h.priv = PrivilegeMachine
}

// ExecuteMret implements the MRET return sequence: PC <- MEPC, MIE <-
// MPIE, MPIE <- 1, privilege <- MPP, MPP <- U.
func (h *Hart) executeMret() {
	mstatus, _ := h.Csr.Read(csr.Mstatus)
	mpie := mstatus&mstatusBitsMPIE != 0
	mpp := Privilege((mstatus & mstatusBitsMPPMask) >> mstatusBitsMPPShift)

	h.Csr.SetMstatusMIE(mpie)
	mstatus, _ = h.Csr.Read(csr.Mstatus)
	mstatus |= mstatusBitsMPIE
	mstatus &^= mstatusBitsMPPMask
	mstatus |= uint64(PrivilegeUser) << mstatusBitsMPPShift
	h.Csr.Write(csr.Mstatus, mstatus)

	h.priv = mpp
	h.pc, _ = h.Csr.Read(csr.Mepc)
}

// executeSret implements SRET analogously using SPIE/SIE/SPP, only
// valid when the hart implements supervisor mode.
func (h *Hart) executeSret() {
	mstatus, _ := h.Csr.Read(csr.Mstatus)
	spie := mstatus&mstatusBitsSPIE != 0
	spp := PrivilegeUser
	if mstatus&mstatusBitsSPP != 0 {
		spp = PrivilegeSupervisor
	}

	mstatus &^= mstatusBitsSIE
	if spie {
		mstatus |= mstatusBitsSIE
	}
	mstatus |= mstatusBitsSPIE
	mstatus &^= mstatusBitsSPP
	h.Csr.Write(csr.Mstatus, mstatus)

	h.priv = spp
	h.pc, _ = h.Csr.Read(csr.Sepc)
}
