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
	"math"
	"math/bits"

	"github.com/gmofishsauce/rvhart/internal/csr"
	"github.com/gmofishsauce/rvhart/internal/isa"
	sysbridge "github.com/gmofishsauce/rvhart/internal/syscall"
	"github.com/gmofishsauce/rvhart/internal/trace"
	"github.com/gmofishsauce/rvhart/internal/trigger"
	"github.com/gmofishsauce/rvhart/internal/urv"
)

// execute dispatches one decoded instruction. pc is the address it
// was fetched from; h.pc already holds pc+length (Step's convention)
// and a taken branch or jump overwrites it directly.
func (h *Hart) execute(in isa.Inst, pc uint64) error {
	switch in.Op {
	case isa.OpIllegal:
		return h.illegalInstruction(pc, uint64(in.Raw))

	case isa.OpLui:
		h.writeInt(in.Rd, urv.SignExtendXlen(h.Xlen, uint64(uint32(in.Imm))))
	case isa.OpAuipc:
		h.writeInt(in.Rd, h.Xlen.Mask(pc+uint64(in.Imm)))

	case isa.OpJal:
		h.writeInt(in.Rd, h.pc)
		h.pc = h.Xlen.Mask(pc + uint64(in.Imm))
	case isa.OpJalr:
		link := h.pc
		target := h.Xlen.Mask((h.readInt(in.Rs1) + uint64(in.Imm)) &^ 1)
		h.writeInt(in.Rd, link)
		h.pc = target

	case isa.OpBeq, isa.OpBne, isa.OpBlt, isa.OpBge, isa.OpBltu, isa.OpBgeu:
		h.Csr.UpdateCounters(uint64(csr.EventBranch))
		if h.executeBranch(in, pc) {
			h.Csr.UpdateCounters(uint64(csr.EventBranchTaken))
		}

	case isa.OpLb, isa.OpLh, isa.OpLw, isa.OpLbu, isa.OpLhu, isa.OpLwu, isa.OpLd:
		return h.executeLoad(in, pc)
	case isa.OpSb, isa.OpSh, isa.OpSw, isa.OpSd:
		return h.executeStore(in, pc)

	case isa.OpAddi:
		h.writeInt(in.Rd, h.Xlen.Mask(h.readInt(in.Rs1)+uint64(in.Imm)))
	case isa.OpSlti:
		h.writeInt(in.Rd, boolUint(h.readIntSigned(in.Rs1) < in.Imm))
	case isa.OpSltiu:
		h.writeInt(in.Rd, boolUint(h.readInt(in.Rs1) < uint64(in.Imm)))
	case isa.OpXori:
		h.writeInt(in.Rd, h.Xlen.Mask(h.readInt(in.Rs1)^uint64(in.Imm)))
	case isa.OpOri:
		h.writeInt(in.Rd, h.Xlen.Mask(h.readInt(in.Rs1)|uint64(in.Imm)))
	case isa.OpAndi:
		h.writeInt(in.Rd, h.Xlen.Mask(h.readInt(in.Rs1)&uint64(in.Imm)))
	case isa.OpSlli:
		h.writeInt(in.Rd, h.Xlen.Mask(h.readInt(in.Rs1)<<uint(in.Imm)))
	case isa.OpSrli:
		h.writeInt(in.Rd, h.Xlen.Mask(h.shiftMask(in.Rs1)>>uint(in.Imm)))
	case isa.OpSrai:
		h.writeInt(in.Rd, h.Xlen.Mask(uint64(h.readIntSigned(in.Rs1)>>uint(in.Imm))))

	case isa.OpAdd:
		h.writeInt(in.Rd, h.Xlen.Mask(h.readInt(in.Rs1)+h.readInt(in.Rs2)))
	case isa.OpSub:
		h.writeInt(in.Rd, h.Xlen.Mask(h.readInt(in.Rs1)-h.readInt(in.Rs2)))
	case isa.OpSll:
		h.writeInt(in.Rd, h.Xlen.Mask(h.readInt(in.Rs1)<<h.shiftAmount(in.Rs2)))
	case isa.OpSlt:
		h.writeInt(in.Rd, boolUint(h.readIntSigned(in.Rs1) < h.readIntSigned(in.Rs2)))
	case isa.OpSltu:
		h.writeInt(in.Rd, boolUint(h.readInt(in.Rs1) < h.readInt(in.Rs2)))
	case isa.OpXor:
		h.writeInt(in.Rd, h.Xlen.Mask(h.readInt(in.Rs1)^h.readInt(in.Rs2)))
	case isa.OpSrl:
		h.writeInt(in.Rd, h.Xlen.Mask(h.shiftMask(in.Rs1)>>h.shiftAmount(in.Rs2)))
	case isa.OpSra:
		h.writeInt(in.Rd, h.Xlen.Mask(uint64(h.readIntSigned(in.Rs1)>>h.shiftAmount(in.Rs2))))
	case isa.OpOr:
		h.writeInt(in.Rd, h.Xlen.Mask(h.readInt(in.Rs1)|h.readInt(in.Rs2)))
	case isa.OpAnd:
		h.writeInt(in.Rd, h.Xlen.Mask(h.readInt(in.Rs1)&h.readInt(in.Rs2)))

	case isa.OpAddiw:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(h.readInt(in.Rs1))+uint32(in.Imm)), 31))
	case isa.OpSlliw:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(h.readInt(in.Rs1))<<uint(in.Imm)), 31))
	case isa.OpSrliw:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(h.readInt(in.Rs1))>>uint(in.Imm)), 31))
	case isa.OpSraiw:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(int32(uint32(h.readInt(in.Rs1)))>>uint(in.Imm))), 31))
	case isa.OpAddw:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(h.readInt(in.Rs1))+uint32(h.readInt(in.Rs2))), 31))
	case isa.OpSubw:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(h.readInt(in.Rs1))-uint32(h.readInt(in.Rs2))), 31))
	case isa.OpSllw:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(h.readInt(in.Rs1))<<(h.readInt(in.Rs2)&0x1F)), 31))
	case isa.OpSrlw:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(h.readInt(in.Rs1))>>(h.readInt(in.Rs2)&0x1F)), 31))
	case isa.OpSraw:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(int32(uint32(h.readInt(in.Rs1)))>>(h.readInt(in.Rs2)&0x1F))), 31))

	case isa.OpFence:
		h.Csr.UpdateCounters(uint64(csr.EventFence))
	case isa.OpFenceI:
		h.Csr.UpdateCounters(uint64(csr.EventFencei))
		// full barrier; no hart-visible state change.

	case isa.OpEcall:
		h.Csr.UpdateCounters(uint64(csr.EventEcall))
		return h.executeEcall(pc)
	case isa.OpEbreak:
		h.Csr.UpdateCounters(uint64(csr.EventEbreak))
		if h.Trg != nil {
			if fired := h.Trg.CheckInstOpcode(uint64(in.Raw), trigger.TimingBefore, trigger.Privilege(h.priv)); len(fired) != 0 {
				h.handleTriggerFire(fired, pc, pc)
				return nil
			}
		}
		h.raiseException(excBreakpoint, pc, pc)
	case isa.OpMret:
		h.Csr.UpdateCounters(uint64(csr.EventMret))
		h.executeMret()
	case isa.OpSret:
		if !h.hasS {
			return h.illegalInstruction(pc, uint64(in.Raw))
		}
		h.executeSret()
	case isa.OpUret:
		return h.illegalInstruction(pc, uint64(in.Raw))
	case isa.OpWfi:
		// treated as a one-cycle nop: no low-power model.

	case isa.OpCsrrw, isa.OpCsrrs, isa.OpCsrrc, isa.OpCsrrwi, isa.OpCsrrsi, isa.OpCsrrci:
		return h.executeCsr(in, pc)

	case isa.OpMul, isa.OpMulh, isa.OpMulhsu, isa.OpMulhu, isa.OpDiv, isa.OpDivu, isa.OpRem, isa.OpRemu,
		isa.OpMulw, isa.OpDivw, isa.OpDivuw, isa.OpRemw, isa.OpRemuw:
		if !h.hasM {
			return h.illegalInstruction(pc, uint64(in.Raw))
		}
		h.executeMulDiv(in)

	case isa.OpLrW, isa.OpScW, isa.OpAmoswapW, isa.OpAmoaddW, isa.OpAmoxorW, isa.OpAmoandW, isa.OpAmoorW,
		isa.OpAmominW, isa.OpAmomaxW, isa.OpAmominuW, isa.OpAmomaxuW,
		isa.OpLrD, isa.OpScD, isa.OpAmoswapD, isa.OpAmoaddD, isa.OpAmoxorD, isa.OpAmoandD, isa.OpAmoorD,
		isa.OpAmominD, isa.OpAmomaxD, isa.OpAmominuD, isa.OpAmomaxuD:
		if !h.hasA {
			return h.illegalInstruction(pc, uint64(in.Raw))
		}
		return h.executeAmo(in, pc)

	case isa.OpFlw:
		if !h.hasF {
			return h.illegalInstruction(pc, uint64(in.Raw))
		}
		return h.executeFLoad(in, pc)
	case isa.OpFld:
		if !h.hasD {
			return h.illegalInstruction(pc, uint64(in.Raw))
		}
		return h.executeFLoad(in, pc)
	case isa.OpFsw:
		if !h.hasF {
			return h.illegalInstruction(pc, uint64(in.Raw))
		}
		return h.executeFStore(in, pc)
	case isa.OpFsd:
		if !h.hasD {
			return h.illegalInstruction(pc, uint64(in.Raw))
		}
		return h.executeFStore(in, pc)

	default:
		if isa.IsFloatOp(in.Op) {
			if !h.hasF {
				return h.illegalInstruction(pc, uint64(in.Raw))
			}
			if isa.IsDoubleOp(in.Op) && !h.hasD {
				return h.illegalInstruction(pc, uint64(in.Raw))
			}
			h.executeFloat(in)
			return nil
		}
		return h.illegalInstruction(pc, uint64(in.Raw))
	}
	return nil
}

func (h *Hart) executeBranch(in isa.Inst, pc uint64) bool {
	var taken bool
	switch in.Op {
	case isa.OpBeq:
		taken = h.readInt(in.Rs1) == h.readInt(in.Rs2)
	case isa.OpBne:
		taken = h.readInt(in.Rs1) != h.readInt(in.Rs2)
	case isa.OpBlt:
		taken = h.readIntSigned(in.Rs1) < h.readIntSigned(in.Rs2)
	case isa.OpBge:
		taken = h.readIntSigned(in.Rs1) >= h.readIntSigned(in.Rs2)
	case isa.OpBltu:
		taken = h.readInt(in.Rs1) < h.readInt(in.Rs2)
	case isa.OpBgeu:
		taken = h.readInt(in.Rs1) >= h.readInt(in.Rs2)
	}
	if taken {
		h.pc = h.Xlen.Mask(pc + uint64(in.Imm))
	}
	return taken
}

// executeLoad handles the integer load forms, checking natural
// alignment and watchpoint triggers before the actual memory access.
func (h *Hart) executeLoad(in isa.Inst, pc uint64) error {
	addr := h.Xlen.Mask(h.readInt(in.Rs1) + uint64(in.Imm))
	size := loadSize(in.Op)
	if size > 1 && addr%uint64(size) != 0 {
		h.raiseException(excLoadAddrMisaligned, pc, addr)
		return nil
	}
	if h.Trg != nil {
		if fired := h.Trg.CheckLoadStoreAddr(addr, trigger.TimingBefore, true, trigger.Privilege(h.priv)); len(fired) != 0 {
			h.handleTriggerFire(fired, pc, addr)
			return nil
		}
	}
	h.Csr.UpdateCounters(uint64(csr.EventLoad))

	var value uint64
	var err error
	switch in.Op {
	case isa.OpLb:
		var b uint8
		b, err = h.Mem.ReadByte(addr)
		value = uint64(int64(int8(b)))
	case isa.OpLbu:
		var b uint8
		b, err = h.Mem.ReadByte(addr)
		value = uint64(b)
	case isa.OpLh:
		var w uint16
		w, err = h.Mem.ReadHalf(addr)
		value = uint64(int64(int16(w)))
	case isa.OpLhu:
		var w uint16
		w, err = h.Mem.ReadHalf(addr)
		value = uint64(w)
	case isa.OpLw:
		var w uint32
		w, err = h.Mem.ReadWord(addr)
		value = uint64(int64(int32(w)))
	case isa.OpLwu:
		var w uint32
		w, err = h.Mem.ReadWord(addr)
		value = uint64(w)
	case isa.OpLd:
		value, err = h.Mem.ReadDouble(addr)
	}
	if err != nil {
		h.raiseException(excLoadAccessFault, pc, addr)
		return nil
	}
	h.writeInt(in.Rd, value)
	return nil
}

// executeStore handles the integer store forms, including the
// store-to-tohost stop condition.
func (h *Hart) executeStore(in isa.Inst, pc uint64) error {
	addr := h.Xlen.Mask(h.readInt(in.Rs1) + uint64(in.Imm))
	size := storeSize(in.Op)
	if size > 1 && addr%uint64(size) != 0 {
		h.raiseException(excStoreAddrMisaligned, pc, addr)
		return nil
	}
	if h.Trg != nil {
		if fired := h.Trg.CheckLoadStoreAddr(addr, trigger.TimingBefore, false, trigger.Privilege(h.priv)); len(fired) != 0 {
			h.handleTriggerFire(fired, pc, addr)
			return nil
		}
	}
	h.Csr.UpdateCounters(uint64(csr.EventStore))

	val := h.readInt(in.Rs2)
	var err error
	switch in.Op {
	case isa.OpSb:
		err = h.Mem.WriteByte(addr, uint8(val))
	case isa.OpSh:
		err = h.Mem.WriteHalf(addr, uint16(val))
	case isa.OpSw:
		err = h.Mem.WriteWord(addr, uint32(val))
	case isa.OpSd:
		err = h.Mem.WriteDouble(addr, val)
	}
	if err != nil {
		h.raiseException(excStoreAccessFault, pc, addr)
		return nil
	}
	h.traceMemWrite(pc, in.Raw, addr, val, in.Op.String())
	if h.hasTohost && addr == h.tohostAddr {
		return &Stop{Reason: StopTohost, Value: int64(val)}
	}
	return nil
}

// traceMemWrite emits a memory-write trace record immediately, rather
// than waiting for the hart loop's retirement trace, so a store that
// triggers a Stop (e.g. a write to tohost) still gets its change
// recorded before the run stops.
func (h *Hart) traceMemWrite(pc uint64, raw uint32, addr, value uint64, text string) {
	if h.Tracer == nil {
		return
	}
	h.Tracer.Log(0, pc, raw, trace.ResourceMemory, addr, value, text)
}

func loadSize(op isa.Op) int {
	switch op {
	case isa.OpLh, isa.OpLhu:
		return 2
	case isa.OpLw, isa.OpLwu:
		return 4
	case isa.OpLd:
		return 8
	}
	return 1
}

func storeSize(op isa.Op) int {
	switch op {
	case isa.OpSh:
		return 2
	case isa.OpSw:
		return 4
	case isa.OpSd:
		return 8
	}
	return 1
}

// executeAmo handles LR/SC and the read-modify-write AMOs, for both
// the word and double-word forms.
func (h *Hart) executeAmo(in isa.Inst, pc uint64) error {
	addr := h.Xlen.Mask(h.readInt(in.Rs1))
	isDouble := isAmoDouble(in.Op)
	size := uint64(4)
	if isDouble {
		size = 8
	}
	if addr%size != 0 {
		h.raiseException(excStoreAddrMisaligned, pc, addr)
		return nil
	}

	switch in.Op {
	case isa.OpLrW, isa.OpLrD:
		var val uint64
		var err error
		if isDouble {
			val, err = h.Mem.ReadDouble(addr)
		} else {
			var w uint32
			w, err = h.Mem.ReadWord(addr)
			val = uint64(int64(int32(w)))
		}
		if err != nil {
			h.raiseException(excLoadAccessFault, pc, addr)
			return nil
		}
		h.reservValid = true
		h.reservAddr = addr
		h.writeInt(in.Rd, val)
		return nil

	case isa.OpScW, isa.OpScD:
		if !h.reservValid || h.reservAddr != addr {
			h.reservValid = false
			h.writeInt(in.Rd, 1)
			return nil
		}
		h.reservValid = false
		var err error
		rs2 := h.readInt(in.Rs2)
		if isDouble {
			err = h.Mem.WriteDouble(addr, rs2)
		} else {
			err = h.Mem.WriteWord(addr, uint32(rs2))
		}
		if err != nil {
			h.raiseException(excStoreAccessFault, pc, addr)
			return nil
		}
		h.traceMemWrite(pc, in.Raw, addr, rs2, in.Op.String())
		if h.hasTohost && addr == h.tohostAddr {
			return &Stop{Reason: StopTohost, Value: int64(rs2)}
		}
		h.writeInt(in.Rd, 0)
		return nil
	}

	var old int64
	var oldu uint64
	var err error
	if isDouble {
		oldu, err = h.Mem.ReadDouble(addr)
		old = int64(oldu)
	} else {
		var w uint32
		w, err = h.Mem.ReadWord(addr)
		oldu = uint64(w)
		old = int64(int32(w))
	}
	if err != nil {
		h.raiseException(excLoadAccessFault, pc, addr)
		return nil
	}

	rs2 := h.readInt(in.Rs2)
	var result uint64
	switch in.Op {
	case isa.OpAmoswapW, isa.OpAmoswapD:
		result = rs2
	case isa.OpAmoaddW, isa.OpAmoaddD:
		result = oldu + rs2
	case isa.OpAmoxorW, isa.OpAmoxorD:
		result = oldu ^ rs2
	case isa.OpAmoandW, isa.OpAmoandD:
		result = oldu & rs2
	case isa.OpAmoorW, isa.OpAmoorD:
		result = oldu | rs2
	case isa.OpAmominW:
		result = uint64(minI64(old, int64(int32(uint32(rs2)))))
	case isa.OpAmominD:
		result = uint64(minI64(old, int64(rs2)))
	case isa.OpAmomaxW:
		result = uint64(maxI64(old, int64(int32(uint32(rs2)))))
	case isa.OpAmomaxD:
		result = uint64(maxI64(old, int64(rs2)))
	case isa.OpAmominuW:
		result = minU64(uint64(uint32(oldu)), uint64(uint32(rs2)))
	case isa.OpAmominuD:
		result = minU64(oldu, rs2)
	case isa.OpAmomaxuW:
		result = maxU64(uint64(uint32(oldu)), uint64(uint32(rs2)))
	case isa.OpAmomaxuD:
		result = maxU64(oldu, rs2)
	}

	if isDouble {
		err = h.Mem.WriteDouble(addr, result)
	} else {
		err = h.Mem.WriteWord(addr, uint32(result))
	}
	if err != nil {
		h.raiseException(excStoreAccessFault, pc, addr)
		return nil
	}
	h.traceMemWrite(pc, in.Raw, addr, result, in.Op.String())
	if h.hasTohost && addr == h.tohostAddr {
		return &Stop{Reason: StopTohost, Value: int64(result)}
	}

	if isDouble {
		h.writeInt(in.Rd, oldu)
	} else {
		h.writeInt(in.Rd, uint64(old))
	}
	return nil
}

func isAmoDouble(op isa.Op) bool {
	switch op {
	case isa.OpLrD, isa.OpScD, isa.OpAmoswapD, isa.OpAmoaddD, isa.OpAmoxorD, isa.OpAmoandD, isa.OpAmoorD,
		isa.OpAmominD, isa.OpAmomaxD, isa.OpAmominuD, isa.OpAmomaxuD:
		return true
	}
	return false
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func (h *Hart) executeFLoad(in isa.Inst, pc uint64) error {
	addr := h.Xlen.Mask(h.readInt(in.Rs1) + uint64(in.Imm))
	if in.Op == isa.OpFld {
		if addr%8 != 0 {
			h.raiseException(excLoadAddrMisaligned, pc, addr)
			return nil
		}
		v, err := h.Mem.ReadDouble(addr)
		if err != nil {
			h.raiseException(excLoadAccessFault, pc, addr)
			return nil
		}
		h.Fp.WriteDouble(in.Rd, v)
		return nil
	}
	if addr%4 != 0 {
		h.raiseException(excLoadAddrMisaligned, pc, addr)
		return nil
	}
	v, err := h.Mem.ReadWord(addr)
	if err != nil {
		h.raiseException(excLoadAccessFault, pc, addr)
		return nil
	}
	h.Fp.WriteSingle(in.Rd, v)
	return nil
}

func (h *Hart) executeFStore(in isa.Inst, pc uint64) error {
	addr := h.Xlen.Mask(h.readInt(in.Rs1) + uint64(in.Imm))
	if in.Op == isa.OpFsd {
		if addr%8 != 0 {
			h.raiseException(excStoreAddrMisaligned, pc, addr)
			return nil
		}
		v := h.Fp.ReadDouble(in.Rs2)
		if err := h.Mem.WriteDouble(addr, v); err != nil {
			h.raiseException(excStoreAccessFault, pc, addr)
			return nil
		}
		h.traceMemWrite(pc, in.Raw, addr, v, in.Op.String())
		return nil
	}
	if addr%4 != 0 {
		h.raiseException(excStoreAddrMisaligned, pc, addr)
		return nil
	}
	v := h.Fp.ReadSingle(in.Rs2)
	if err := h.Mem.WriteWord(addr, v); err != nil {
		h.raiseException(excStoreAccessFault, pc, addr)
		return nil
	}
	h.traceMemWrite(pc, in.Raw, addr, uint64(v), in.Op.String())
	return nil
}

func (h *Hart) executeMulDiv(in isa.Inst) {
	switch in.Op {
	case isa.OpDiv, isa.OpDivu, isa.OpRem, isa.OpRemu, isa.OpDivw, isa.OpDivuw, isa.OpRemw, isa.OpRemuw:
		h.Csr.UpdateCounters(uint64(csr.EventDiv))
	default:
		h.Csr.UpdateCounters(uint64(csr.EventMult))
	}

	a, b := h.readInt(in.Rs1), h.readInt(in.Rs2)
	switch in.Op {
	case isa.OpMul:
		h.writeInt(in.Rd, h.Xlen.Mask(a*b))
	case isa.OpMulh:
		h.writeInt(in.Rd, h.Xlen.Mask(uint64(mulhSigned(int64(a), int64(b)))))
	case isa.OpMulhsu:
		h.writeInt(in.Rd, h.Xlen.Mask(uint64(mulhSU(int64(a), b))))
	case isa.OpMulhu:
		hi, _ := bits.Mul64(a, b)
		h.writeInt(in.Rd, h.Xlen.Mask(hi))
	case isa.OpDiv:
		h.writeInt(in.Rd, h.Xlen.Mask(uint64(divSigned(int64(a), int64(b)))))
	case isa.OpDivu:
		if b == 0 {
			h.writeInt(in.Rd, ^uint64(0))
		} else {
			h.writeInt(in.Rd, h.Xlen.Mask(a/b))
		}
	case isa.OpRem:
		h.writeInt(in.Rd, h.Xlen.Mask(uint64(remSigned(int64(a), int64(b)))))
	case isa.OpRemu:
		if b == 0 {
			h.writeInt(in.Rd, a)
		} else {
			h.writeInt(in.Rd, h.Xlen.Mask(a%b))
		}
	case isa.OpMulw:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(a)*uint32(b)), 31))
	case isa.OpDivw:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(divSigned32(int32(a), int32(b)))), 31))
	case isa.OpDivuw:
		ua, ub := uint32(a), uint32(b)
		if ub == 0 {
			h.writeInt(in.Rd, ^uint64(0))
		} else {
			h.writeInt(in.Rd, urv.SignExtend(uint64(ua/ub), 31))
		}
	case isa.OpRemw:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(remSigned32(int32(a), int32(b)))), 31))
	case isa.OpRemuw:
		ua, ub := uint32(a), uint32(b)
		if ub == 0 {
			h.writeInt(in.Rd, urv.SignExtend(uint64(ua), 31))
		} else {
			h.writeInt(in.Rd, urv.SignExtend(uint64(ua%ub), 31))
		}
	}
}

func mulhSigned(a, b int64) int64 {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	hi -= uint64(a>>63) & uint64(b)
	hi -= uint64(b>>63) & uint64(a)
	return int64(hi)
}

func mulhSU(a int64, b uint64) int64 {
	hi, _ := bits.Mul64(uint64(a), b)
	hi -= uint64(a>>63) & b
	return int64(hi)
}

func divSigned(a, b int64) int64 {
	if b == 0 {
		return -1
	}
	if a == math.MinInt64 && b == -1 {
		return a
	}
	return a / b
}

func remSigned(a, b int64) int64 {
	if b == 0 {
		return a
	}
	if a == math.MinInt64 && b == -1 {
		return 0
	}
	return a % b
}

func divSigned32(a, b int32) int32 {
	if b == 0 {
		return -1
	}
	if a == math.MinInt32 && b == -1 {
		return a
	}
	return a / b
}

func remSigned32(a, b int32) int32 {
	if b == 0 {
		return a
	}
	if a == math.MinInt32 && b == -1 {
		return 0
	}
	return a % b
}

func (h *Hart) executeEcall(pc uint64) error {
	if h.Syscalls != nil {
		if err := h.Syscalls.Emulate(); err != nil {
			if exit, ok := err.(*sysbridge.Exit); ok {
				return &Stop{Reason: StopExit, Value: exit.Code}
			}
			return err
		}
		return nil
	}

	var cause uint64
	switch h.priv {
	case PrivilegeMachine:
		cause = excEcallFromM
	case PrivilegeSupervisor:
		cause = excEcallFromS
	default:
		cause = excEcallFromU
	}
	h.raiseException(cause, pc, 0)
	return nil
}

func (h *Hart) executeCsr(in isa.Inst, pc uint64) error {
	n := csr.Number(in.Csr)
	if !h.Csr.Implemented(n) {
		return h.illegalInstruction(pc, uint64(in.Raw))
	}

	old, ok := h.Csr.Read(n)
	if !ok {
		return h.illegalInstruction(pc, uint64(in.Raw))
	}

	immSource := in.Op == isa.OpCsrrwi || in.Op == isa.OpCsrrsi || in.Op == isa.OpCsrrci
	var src uint64
	if immSource {
		src = uint64(in.Rs1)
	} else {
		src = h.readInt(in.Rs1)
	}

	var next uint64
	write := true
	switch in.Op {
	case isa.OpCsrrw, isa.OpCsrrwi:
		next = src
	case isa.OpCsrrs, isa.OpCsrrsi:
		next = old | src
		write = immSource || in.Rs1 != 0
	case isa.OpCsrrc, isa.OpCsrrci:
		next = old &^ src
		write = immSource || in.Rs1 != 0
	}

	if write {
		if !h.Csr.Write(n, next) {
			return h.illegalInstruction(pc, uint64(in.Raw))
		}
	}

	switch {
	case write && in.Rd != 0:
		h.Csr.UpdateCounters(uint64(csr.EventCsrReadWrite))
	case write:
		h.Csr.UpdateCounters(uint64(csr.EventCsrWrite))
	default:
		h.Csr.UpdateCounters(uint64(csr.EventCsrRead))
	}

	if in.Rd != 0 {
		h.writeInt(in.Rd, old)
	}
	return nil
}

func (h *Hart) executeFloat(in isa.Inst) {
	switch in.Op {
	case isa.OpFmvXW:
		h.writeInt(in.Rd, urv.SignExtend(uint64(h.Fp.ReadSingle(in.Rs1)), 31))
		return
	case isa.OpFmvWX:
		h.Fp.WriteSingle(in.Rd, uint32(h.readInt(in.Rs1)))
		return
	case isa.OpFmvXD:
		h.writeInt(in.Rd, h.Fp.ReadDouble(in.Rs1))
		return
	case isa.OpFmvDX:
		h.Fp.WriteDouble(in.Rd, h.readInt(in.Rs1))
		return
	}

	if isa.IsDoubleOp(in.Op) {
		h.executeFloatDouble(in)
		return
	}
	h.executeFloatSingle(in)
}

func (h *Hart) executeFloatSingle(in isa.Inst) {
	a := math.Float32frombits(h.Fp.ReadSingle(in.Rs1))
	b := math.Float32frombits(h.Fp.ReadSingle(in.Rs2))
	switch in.Op {
	case isa.OpFaddS:
		h.Fp.WriteSingle(in.Rd, math.Float32bits(a+b))
	case isa.OpFsubS:
		h.Fp.WriteSingle(in.Rd, math.Float32bits(a-b))
	case isa.OpFmulS:
		h.Fp.WriteSingle(in.Rd, math.Float32bits(a*b))
	case isa.OpFdivS:
		h.Fp.WriteSingle(in.Rd, math.Float32bits(a/b))
	case isa.OpFsqrtS:
		h.Fp.WriteSingle(in.Rd, math.Float32bits(float32(math.Sqrt(float64(a)))))
	case isa.OpFminS:
		h.Fp.WriteSingle(in.Rd, math.Float32bits(fminS(a, b)))
	case isa.OpFmaxS:
		h.Fp.WriteSingle(in.Rd, math.Float32bits(fmaxS(a, b)))
	case isa.OpFsgnjS:
		h.Fp.WriteSingle(in.Rd, sgnjBits32(a, b, false, false))
	case isa.OpFsgnjnS:
		h.Fp.WriteSingle(in.Rd, sgnjBits32(a, b, true, false))
	case isa.OpFsgnjxS:
		h.Fp.WriteSingle(in.Rd, sgnjBits32(a, b, false, true))
	case isa.OpFeqS:
		h.writeInt(in.Rd, boolUint(a == b))
	case isa.OpFltS:
		h.writeInt(in.Rd, boolUint(a < b))
	case isa.OpFleS:
		h.writeInt(in.Rd, boolUint(a <= b))
	case isa.OpFclassS:
		h.writeInt(in.Rd, classifyS(a))
	case isa.OpFcvtWS:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(int32(a))), 31))
	case isa.OpFcvtWuS:
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(a)), 31))
	case isa.OpFcvtLS:
		h.writeInt(in.Rd, uint64(int64(a)))
	case isa.OpFcvtLuS:
		h.writeInt(in.Rd, uint64(a))
	case isa.OpFcvtSW:
		h.Fp.WriteSingle(in.Rd, math.Float32bits(float32(int32(h.readInt(in.Rs1)))))
	case isa.OpFcvtSWu:
		h.Fp.WriteSingle(in.Rd, math.Float32bits(float32(uint32(h.readInt(in.Rs1)))))
	case isa.OpFcvtSL:
		h.Fp.WriteSingle(in.Rd, math.Float32bits(float32(int64(h.readInt(in.Rs1)))))
	case isa.OpFcvtSLu:
		h.Fp.WriteSingle(in.Rd, math.Float32bits(float32(h.readInt(in.Rs1))))
	case isa.OpFmaddS:
		c := math.Float32frombits(h.Fp.ReadSingle(in.Rs3))
		h.Fp.WriteSingle(in.Rd, math.Float32bits(a*b+c))
	case isa.OpFmsubS:
		c := math.Float32frombits(h.Fp.ReadSingle(in.Rs3))
		h.Fp.WriteSingle(in.Rd, math.Float32bits(a*b-c))
	case isa.OpFnmsubS:
		c := math.Float32frombits(h.Fp.ReadSingle(in.Rs3))
		h.Fp.WriteSingle(in.Rd, math.Float32bits(-(a*b)+c))
	case isa.OpFnmaddS:
		c := math.Float32frombits(h.Fp.ReadSingle(in.Rs3))
		h.Fp.WriteSingle(in.Rd, math.Float32bits(-(a*b)-c))
	}
}

func (h *Hart) executeFloatDouble(in isa.Inst) {
	switch in.Op {
	case isa.OpFcvtSD:
		d := math.Float64frombits(h.Fp.ReadDouble(in.Rs1))
		h.Fp.WriteSingle(in.Rd, math.Float32bits(float32(d)))
		return
	case isa.OpFcvtDS:
		s := math.Float32frombits(h.Fp.ReadSingle(in.Rs1))
		h.Fp.WriteDouble(in.Rd, math.Float64bits(float64(s)))
		return
	case isa.OpFcvtWD:
		d := math.Float64frombits(h.Fp.ReadDouble(in.Rs1))
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(int32(d))), 31))
		return
	case isa.OpFcvtWuD:
		d := math.Float64frombits(h.Fp.ReadDouble(in.Rs1))
		h.writeInt(in.Rd, urv.SignExtend(uint64(uint32(d)), 31))
		return
	case isa.OpFcvtLD:
		d := math.Float64frombits(h.Fp.ReadDouble(in.Rs1))
		h.writeInt(in.Rd, uint64(int64(d)))
		return
	case isa.OpFcvtLuD:
		d := math.Float64frombits(h.Fp.ReadDouble(in.Rs1))
		h.writeInt(in.Rd, uint64(d))
		return
	case isa.OpFcvtDW:
		h.Fp.WriteDouble(in.Rd, math.Float64bits(float64(int32(h.readInt(in.Rs1)))))
		return
	case isa.OpFcvtDWu:
		h.Fp.WriteDouble(in.Rd, math.Float64bits(float64(uint32(h.readInt(in.Rs1)))))
		return
	case isa.OpFcvtDL:
		h.Fp.WriteDouble(in.Rd, math.Float64bits(float64(int64(h.readInt(in.Rs1)))))
		return
	case isa.OpFcvtDLu:
		h.Fp.WriteDouble(in.Rd, math.Float64bits(float64(h.readInt(in.Rs1))))
		return
	}

	a := math.Float64frombits(h.Fp.ReadDouble(in.Rs1))
	b := math.Float64frombits(h.Fp.ReadDouble(in.Rs2))
	switch in.Op {
	case isa.OpFaddD:
		h.Fp.WriteDouble(in.Rd, math.Float64bits(a+b))
	case isa.OpFsubD:
		h.Fp.WriteDouble(in.Rd, math.Float64bits(a-b))
	case isa.OpFmulD:
		h.Fp.WriteDouble(in.Rd, math.Float64bits(a*b))
	case isa.OpFdivD:
		h.Fp.WriteDouble(in.Rd, math.Float64bits(a/b))
	case isa.OpFsqrtD:
		h.Fp.WriteDouble(in.Rd, math.Float64bits(math.Sqrt(a)))
	case isa.OpFminD:
		h.Fp.WriteDouble(in.Rd, math.Float64bits(fminD(a, b)))
	case isa.OpFmaxD:
		h.Fp.WriteDouble(in.Rd, math.Float64bits(fmaxD(a, b)))
	case isa.OpFsgnjD:
		h.Fp.WriteDouble(in.Rd, sgnjBits64(a, b, false, false))
	case isa.OpFsgnjnD:
		h.Fp.WriteDouble(in.Rd, sgnjBits64(a, b, true, false))
	case isa.OpFsgnjxD:
		h.Fp.WriteDouble(in.Rd, sgnjBits64(a, b, false, true))
	case isa.OpFeqD:
		h.writeInt(in.Rd, boolUint(a == b))
	case isa.OpFltD:
		h.writeInt(in.Rd, boolUint(a < b))
	case isa.OpFleD:
		h.writeInt(in.Rd, boolUint(a <= b))
	case isa.OpFclassD:
		h.writeInt(in.Rd, classifyD(a))
	case isa.OpFmaddD:
		c := math.Float64frombits(h.Fp.ReadDouble(in.Rs3))
		h.Fp.WriteDouble(in.Rd, math.Float64bits(a*b+c))
	case isa.OpFmsubD:
		c := math.Float64frombits(h.Fp.ReadDouble(in.Rs3))
		h.Fp.WriteDouble(in.Rd, math.Float64bits(a*b-c))
	case isa.OpFnmsubD:
		c := math.Float64frombits(h.Fp.ReadDouble(in.Rs3))
		h.Fp.WriteDouble(in.Rd, math.Float64bits(-(a*b)+c))
	case isa.OpFnmaddD:
		c := math.Float64frombits(h.Fp.ReadDouble(in.Rs3))
		h.Fp.WriteDouble(in.Rd, math.Float64bits(-(a*b)-c))
	}
}

func fminS(a, b float32) float32 {
	switch {
	case math.IsNaN(float64(a)) && math.IsNaN(float64(b)):
		return float32(math.NaN())
	case math.IsNaN(float64(a)):
		return b
	case math.IsNaN(float64(b)):
		return a
	case a < b:
		return a
	default:
		return b
	}
}

func fmaxS(a, b float32) float32 {
	switch {
	case math.IsNaN(float64(a)) && math.IsNaN(float64(b)):
		return float32(math.NaN())
	case math.IsNaN(float64(a)):
		return b
	case math.IsNaN(float64(b)):
		return a
	case a > b:
		return a
	default:
		return b
	}
}

func fminD(a, b float64) float64 {
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return math.NaN()
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	case a < b:
		return a
	default:
		return b
	}
}

func fmaxD(a, b float64) float64 {
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return math.NaN()
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	case a > b:
		return a
	default:
		return b
	}
}

func sgnjBits32(a, b float32, negate, xor bool) uint32 {
	abits := math.Float32bits(a) &^ (1 << 31)
	var sign uint32
	switch {
	case xor:
		sign = (math.Float32bits(a) & (1 << 31)) ^ (math.Float32bits(b) & (1 << 31))
	case negate:
		sign = (math.Float32bits(b) & (1 << 31)) ^ (1 << 31)
	default:
		sign = math.Float32bits(b) & (1 << 31)
	}
	return abits | sign
}

func sgnjBits64(a, b float64, negate, xor bool) uint64 {
	abits := math.Float64bits(a) &^ (1 << 63)
	var sign uint64
	switch {
	case xor:
		sign = (math.Float64bits(a) & (1 << 63)) ^ (math.Float64bits(b) & (1 << 63))
	case negate:
		sign = (math.Float64bits(b) & (1 << 63)) ^ (1 << 63)
	default:
		sign = math.Float64bits(b) & (1 << 63)
	}
	return abits | sign
}

// classifyS implements fclass.s, returning the ten-bit classification
// mask the RISC-V F extension defines (bit 0 = -inf ... bit 9 = quiet NaN).
func classifyS(a float32) uint64 {
	bits := math.Float32bits(a)
	neg := bits&(1<<31) != 0
	switch {
	case math.IsInf(float64(a), 1):
		return 1 << 7
	case math.IsInf(float64(a), -1):
		return 1 << 0
	case math.IsNaN(float64(a)):
		if bits&(1<<22) != 0 {
			return 1 << 9
		}
		return 1 << 8
	case a == 0:
		if neg {
			return 1 << 3
		}
		return 1 << 4
	default:
		exp := (bits >> 23) & 0xFF
		switch {
		case exp == 0 && neg:
			return 1 << 2
		case exp == 0:
			return 1 << 5
		case neg:
			return 1 << 1
		default:
			return 1 << 6
		}
	}
}

func classifyD(a float64) uint64 {
	bits := math.Float64bits(a)
	neg := bits&(1<<63) != 0
	switch {
	case math.IsInf(a, 1):
		return 1 << 7
	case math.IsInf(a, -1):
		return 1 << 0
	case math.IsNaN(a):
		if bits&(1<<51) != 0 {
			return 1 << 9
		}
		return 1 << 8
	case a == 0:
		if neg {
			return 1 << 3
		}
		return 1 << 4
	default:
		exp := (bits >> 52) & 0x7FF
		switch {
		case exp == 0 && neg:
			return 1 << 2
		case exp == 0:
			return 1 << 5
		case neg:
			return 1 << 1
		default:
			return 1 << 6
		}
	}
}

func boolUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (h *Hart) readInt(n uint32) uint64     { return h.Int.Read(n) }
func (h *Hart) writeInt(n uint32, v uint64) { h.Int.Write(n, v) }

func (h *Hart) readIntSigned(n uint32) int64 {
	v := h.Int.Read(n)
	if h.Xlen == urv.Xlen32 {
		return int64(int32(uint32(v)))
	}
	return int64(v)
}

// shiftMask returns rs1's value masked to the hart's width for a
// logical right shift, so a 32-bit shift doesn't pick up stale high
// bits the mask would otherwise expose.
func (h *Hart) shiftMask(rs1 uint32) uint64 {
	return h.Xlen.Mask(h.readInt(rs1))
}

// shiftAmount masks rs2 to the field width a shift-by-register
// instruction actually consumes (5 bits on RV32, 6 on RV64).
func (h *Hart) shiftAmount(rs2 uint32) uint {
	v := h.readInt(rs2)
	if h.Xlen == urv.Xlen32 {
		return uint(v & 0x1F)
	}
	return uint(v & 0x3F)
}
