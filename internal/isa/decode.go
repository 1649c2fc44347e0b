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

package isa

import "github.com/gmofishsauce/rvhart/internal/urv"

// IsCompressed reports whether the low 16 bits of a fetched
// instruction word name a 2-byte (C extension) instruction: the
// low two bits are anything but 0b11.
func IsCompressed(low16 uint16) bool {
	return low16&0x3 != 0x3
}

func rd(w uint32) uint32     { return (w >> 7) & 0x1F }
func rs1(w uint32) uint32    { return (w >> 15) & 0x1F }
func rs2(w uint32) uint32    { return (w >> 20) & 0x1F }
func rs3(w uint32) uint32    { return (w >> 27) & 0x1F }
func funct3(w uint32) uint32 { return (w >> 12) & 0x7 }
func funct7(w uint32) uint32 { return (w >> 25) & 0x7F }

func immI(w uint32) int64 { return int64(int32(w) >> 20) }

func immS(w uint32) int64 {
	v := ((w >> 7) & 0x1F) | ((w >> 20) & 0xFE0)
	return int64(urv.SignExtend(uint64(v), 11))
}

func immB(w uint32) int64 {
	v := ((w >> 7) & 0x1E) |
		((w >> 20) & 0x7E0) |
		((w << 4) & 0x800) |
		((w >> 19) & 0x1000)
	return int64(urv.SignExtend(uint64(v), 12))
}

func immU(w uint32) int64 {
	return int64(int32(w & 0xFFFFF000))
}

func immJ(w uint32) int64 {
	v := ((w >> 20) & 0x7FE) |
		((w >> 9) & 0x800) |
		(w & 0xFF000) |
		((w >> 11) & 0x100000)
	return int64(urv.SignExtend(uint64(v), 20))
}

// Decode32 decodes a 32-bit instruction word. xlen governs which
// RV64-only opcodes (OP-IMM-32, OP-32, LD/SD, 64-bit AMOs) are legal.
func Decode32(w uint32, xlen urv.Xlen) (Inst, error) {
	in := Inst{Raw: w, Length: 4}
	opcode := w & 0x7F

	switch opcode {
	case 0x37: // LUI
		in.Op, in.Rd, in.Imm = OpLui, rd(w), immU(w)

	case 0x17: // AUIPC
		in.Op, in.Rd, in.Imm = OpAuipc, rd(w), immU(w)

	case 0x6F: // JAL
		in.Op, in.Rd, in.Imm = OpJal, rd(w), immJ(w)

	case 0x67: // JALR
		if funct3(w) != 0 {
			return in, illegal(w)
		}
		in.Op, in.Rd, in.Rs1, in.Imm = OpJalr, rd(w), rs1(w), immI(w)

	case 0x63: // BRANCH
		ops := [...]Op{OpBeq, OpBne, OpIllegal, OpIllegal, OpBlt, OpBge, OpBltu, OpBgeu}
		op := ops[funct3(w)]
		if op == OpIllegal {
			return in, illegal(w)
		}
		in.Op, in.Rs1, in.Rs2, in.Imm = op, rs1(w), rs2(w), immB(w)

	case 0x03: // LOAD
		ops := [...]Op{OpLb, OpLh, OpLw, OpLd, OpLbu, OpLhu, OpLwu, OpIllegal}
		op := ops[funct3(w)]
		if op == OpIllegal || ((op == OpLwu || op == OpLd) && xlen != urv.Xlen64) {
			return in, illegal(w)
		}
		in.Op, in.Rd, in.Rs1, in.Imm = op, rd(w), rs1(w), immI(w)

	case 0x23: // STORE
		ops := [...]Op{OpSb, OpSh, OpSw, OpSd, OpIllegal, OpIllegal, OpIllegal, OpIllegal}
		op := ops[funct3(w)]
		if op == OpIllegal || (op == OpSd && xlen != urv.Xlen64) {
			return in, illegal(w)
		}
		in.Op, in.Rs1, in.Rs2, in.Imm = op, rs1(w), rs2(w), immS(w)

	case 0x13: // OP-IMM
		return decodeOpImm(w, in, false)

	case 0x1B: // OP-IMM-32 (RV64 only)
		if xlen != urv.Xlen64 {
			return in, illegal(w)
		}
		return decodeOpImm(w, in, true)

	case 0x33: // OP
		return decodeOp(w, in, false)

	case 0x3B: // OP-32 (RV64 only)
		if xlen != urv.Xlen64 {
			return in, illegal(w)
		}
		return decodeOp(w, in, true)

	case 0x0F: // MISC-MEM
		if funct3(w) == 1 {
			in.Op = OpFenceI
		} else {
			in.Op = OpFence
			in.Pred = (w >> 24) & 0xF
			in.Succ = (w >> 20) & 0xF
		}

	case 0x73: // SYSTEM
		return decodeSystem(w, in)

	case 0x2F: // AMO
		return decodeAmo(w, in, xlen)

	case 0x07: // LOAD-FP
		op := OpFlw
		if funct3(w) == 3 {
			op = OpFld
		} else if funct3(w) != 2 {
			return in, illegal(w)
		}
		in.Op, in.Rd, in.Rs1, in.Imm = op, rd(w), rs1(w), immI(w)

	case 0x27: // STORE-FP
		op := OpFsw
		if funct3(w) == 3 {
			op = OpFsd
		} else if funct3(w) != 2 {
			return in, illegal(w)
		}
		in.Op, in.Rs1, in.Rs2, in.Imm = op, rs1(w), rs2(w), immS(w)

	case 0x43, 0x47, 0x4B, 0x4F: // FMADD/FMSUB/FNMSUB/FNMADD
		return decodeFused(w, in, opcode)

	case 0x53: // OP-FP
		return decodeOpFp(w, in)

	default:
		return in, illegal(w)
	}

	return in, nil
}

func decodeOpImm(w uint32, in Inst, wide bool) (Inst, error) {
	f3 := funct3(w)
	in.Rd, in.Rs1 = rd(w), rs1(w)
	switch f3 {
	case 0:
		in.Op, in.Imm = pick(wide, OpAddiw, OpAddi), immI(w)
	case 1:
		if wide {
			if funct7(w) != 0 {
				return in, illegal(w)
			}
			in.Op, in.Imm = OpSlliw, int64(rs2(w))
		} else {
			if funct7(w)&0x7E != 0 {
				return in, illegal(w)
			}
			in.Op, in.Imm = OpSlli, int64((w>>20)&0x3F)
		}
	case 2:
		in.Op, in.Imm = OpSlti, immI(w)
	case 3:
		in.Op, in.Imm = OpSltiu, immI(w)
	case 4:
		in.Op, in.Imm = OpXori, immI(w)
	case 5:
		top := funct7(w)
		if wide {
			shamt := int64(rs2(w))
			switch top {
			case 0x00:
				in.Op, in.Imm = OpSrliw, shamt
			case 0x20:
				in.Op, in.Imm = OpSraiw, shamt
			default:
				return in, illegal(w)
			}
		} else {
			shamt := int64((w >> 20) & 0x3F)
			switch top & 0x7E {
			case 0x00:
				in.Op, in.Imm = OpSrli, shamt
			case 0x20:
				in.Op, in.Imm = OpSrai, shamt
			default:
				return in, illegal(w)
			}
		}
	case 6:
		in.Op, in.Imm = OpOri, immI(w)
	case 7:
		in.Op, in.Imm = OpAndi, immI(w)
	}
	return in, nil
}

func decodeOp(w uint32, in Inst, wide bool) (Inst, error) {
	f3, f7 := funct3(w), funct7(w)
	in.Rd, in.Rs1, in.Rs2 = rd(w), rs1(w), rs2(w)

	if f7 == 0x01 { // M extension
		mOps32 := [...]Op{OpMul, OpMulh, OpMulhsu, OpMulhu, OpDiv, OpDivu, OpRem, OpRemu}
		mOps64 := [...]Op{OpMulw, OpIllegal, OpIllegal, OpIllegal, OpDivw, OpDivuw, OpRemw, OpRemuw}
		if wide {
			in.Op = mOps64[f3]
		} else {
			in.Op = mOps32[f3]
		}
		if in.Op == OpIllegal {
			return in, illegal(w)
		}
		return in, nil
	}

	if wide {
		switch f3 {
		case 0:
			if f7 == 0x20 {
				in.Op = OpSubw
			} else if f7 == 0 {
				in.Op = OpAddw
			} else {
				return in, illegal(w)
			}
		case 1:
			in.Op = OpSllw
		case 5:
			if f7 == 0x20 {
				in.Op = OpSraw
			} else if f7 == 0 {
				in.Op = OpSrlw
			} else {
				return in, illegal(w)
			}
		default:
			return in, illegal(w)
		}
		return in, nil
	}

	switch f3 {
	case 0:
		if f7 == 0x20 {
			in.Op = OpSub
		} else if f7 == 0 {
			in.Op = OpAdd
		} else {
			return in, illegal(w)
		}
	case 1:
		in.Op = OpSll
	case 2:
		in.Op = OpSlt
	case 3:
		in.Op = OpSltu
	case 4:
		in.Op = OpXor
	case 5:
		if f7 == 0x20 {
			in.Op = OpSra
		} else if f7 == 0 {
			in.Op = OpSrl
		} else {
			return in, illegal(w)
		}
	case 6:
		in.Op = OpOr
	case 7:
		in.Op = OpAnd
	}
	return in, nil
}

func decodeSystem(w uint32, in Inst) (Inst, error) {
	f3 := funct3(w)
	if f3 == 0 {
		imm := w >> 20
		switch {
		case imm == 0 && rd(w) == 0 && rs1(w) == 0:
			in.Op = OpEcall
		case imm == 1 && rd(w) == 0 && rs1(w) == 0:
			in.Op = OpEbreak
		case imm == 0x302:
			in.Op = OpMret
		case imm == 0x102:
			in.Op = OpSret
		case imm == 0x002:
			in.Op = OpUret
		case imm == 0x105:
			in.Op = OpWfi
		default:
			return in, illegal(w)
		}
		return in, nil
	}

	in.Rd, in.Rs1, in.Csr = rd(w), rs1(w), uint16(w>>20)
	switch f3 {
	case 1:
		in.Op = OpCsrrw
	case 2:
		in.Op = OpCsrrs
	case 3:
		in.Op = OpCsrrc
	case 5:
		in.Op, in.Imm = OpCsrrwi, int64(rs1(w))
	case 6:
		in.Op, in.Imm = OpCsrrsi, int64(rs1(w))
	case 7:
		in.Op, in.Imm = OpCsrrci, int64(rs1(w))
	default:
		return in, illegal(w)
	}
	return in, nil
}

func decodeAmo(w uint32, in Inst, xlen urv.Xlen) (Inst, error) {
	f3 := funct3(w)
	if f3 != 2 && f3 != 3 {
		return in, illegal(w)
	}
	if f3 == 3 && xlen != urv.Xlen64 {
		return in, illegal(w)
	}
	top5 := (w >> 27) & 0x1F
	in.Rd, in.Rs1, in.Rs2 = rd(w), rs1(w), rs2(w)
	in.Rl = (w>>25)&1 != 0
	in.Aq = (w>>26)&1 != 0

	var ops32 = map[uint32]Op{
		0x02: OpLrW, 0x03: OpScW, 0x01: OpAmoswapW, 0x00: OpAmoaddW,
		0x04: OpAmoxorW, 0x0C: OpAmoandW, 0x08: OpAmoorW,
		0x10: OpAmominW, 0x14: OpAmomaxW, 0x18: OpAmominuW, 0x1C: OpAmomaxuW,
	}
	var ops64 = map[uint32]Op{
		0x02: OpLrD, 0x03: OpScD, 0x01: OpAmoswapD, 0x00: OpAmoaddD,
		0x04: OpAmoxorD, 0x0C: OpAmoandD, 0x08: OpAmoorD,
		0x10: OpAmominD, 0x14: OpAmomaxD, 0x18: OpAmominuD, 0x1C: OpAmomaxuD,
	}
	table := ops32
	if f3 == 3 {
		table = ops64
	}
	op, ok := table[top5]
	if !ok {
		return in, illegal(w)
	}
	if (op == OpLrW || op == OpLrD) && rs2(w) != 0 {
		return in, illegal(w)
	}
	in.Op = op
	return in, nil
}

func decodeFused(w uint32, in Inst, opcode uint32) (Inst, error) {
	fmtBit := (w >> 25) & 0x3
	in.Rd, in.Rs1, in.Rs2, in.Rs3, in.Rm = rd(w), rs1(w), rs2(w), rs3(w), funct3(w)

	var single, double Op
	switch opcode {
	case 0x43:
		single, double = OpFmaddS, OpFmaddD
	case 0x47:
		single, double = OpFmsubS, OpFmsubD
	case 0x4B:
		single, double = OpFnmsubS, OpFnmsubD
	case 0x4F:
		single, double = OpFnmaddS, OpFnmaddD
	}
	switch fmtBit {
	case 0:
		in.Op = single
	case 1:
		in.Op = double
	default:
		return in, illegal(w)
	}
	return in, nil
}

func decodeOpFp(w uint32, in Inst) (Inst, error) {
	f7 := funct7(w)
	fmtBit := f7 & 0x3
	in.Rd, in.Rs1, in.Rs2, in.Rm = rd(w), rs1(w), rs2(w), funct3(w)

	switch f7 >> 2 {
	case 0x00: // FADD
		in.Op = pick(fmtBit == 1, OpFaddD, OpFaddS)
	case 0x01: // FSUB
		in.Op = pick(fmtBit == 1, OpFsubD, OpFsubS)
	case 0x02: // FMUL
		in.Op = pick(fmtBit == 1, OpFmulD, OpFmulS)
	case 0x03: // FDIV
		in.Op = pick(fmtBit == 1, OpFdivD, OpFdivS)
	case 0x0B: // FSQRT
		in.Op = pick(fmtBit == 1, OpFsqrtD, OpFsqrtS)
	case 0x04: // FSGNJ family
		double := fmtBit == 1
		switch funct3(w) {
		case 0:
			in.Op = pick(double, OpFsgnjD, OpFsgnjS)
		case 1:
			in.Op = pick(double, OpFsgnjnD, OpFsgnjnS)
		case 2:
			in.Op = pick(double, OpFsgnjxD, OpFsgnjxS)
		default:
			return in, illegal(w)
		}
	case 0x05: // FMIN/FMAX
		double := fmtBit == 1
		if funct3(w) == 0 {
			in.Op = pick(double, OpFminD, OpFminS)
		} else {
			in.Op = pick(double, OpFmaxD, OpFmaxS)
		}
	case 0x14: // FEQ/FLT/FLE
		double := fmtBit == 1
		switch funct3(w) {
		case 2:
			in.Op = pick(double, OpFeqD, OpFeqS)
		case 1:
			in.Op = pick(double, OpFltD, OpFltS)
		case 0:
			in.Op = pick(double, OpFleD, OpFleS)
		default:
			return in, illegal(w)
		}
	case 0x08: // FCVT.S.D / FCVT.D.S
		if fmtBit == 1 {
			in.Op = OpFcvtDS
		} else {
			in.Op = OpFcvtSD
		}
	case 0x1C: // FMV.X.W / FCLASS.S (and D variants)
		double := fmtBit == 1
		if funct3(w) == 0 {
			in.Op = pick(double, OpFmvXD, OpFmvXW)
		} else {
			in.Op = pick(double, OpFclassD, OpFclassS)
		}
	case 0x1E: // FMV.W.X / FMV.D.X
		in.Op = pick(fmtBit == 1, OpFmvDX, OpFmvWX)
	case 0x18: // FCVT.W(U)/L(U).S or .D
		in.Op = fcvtToInt(fmtBit == 1, rs2(w))
	case 0x1A: // FCVT.S/D.W(U)/L(U)
		in.Op = fcvtFromInt(fmtBit == 1, rs2(w))
	default:
		return in, illegal(w)
	}
	if in.Op == OpIllegal {
		return in, illegal(w)
	}
	return in, nil
}

func fcvtToInt(double bool, rs2 uint32) Op {
	switch rs2 {
	case 0:
		return pick(double, OpFcvtWD, OpFcvtWS)
	case 1:
		return pick(double, OpFcvtWuD, OpFcvtWuS)
	case 2:
		return pick(double, OpFcvtLD, OpFcvtLS)
	case 3:
		return pick(double, OpFcvtLuD, OpFcvtLuS)
	}
	return OpIllegal
}

func fcvtFromInt(double bool, rs2 uint32) Op {
	switch rs2 {
	case 0:
		return pick(double, OpFcvtDW, OpFcvtSW)
	case 1:
		return pick(double, OpFcvtDWu, OpFcvtSWu)
	case 2:
		return pick(double, OpFcvtDL, OpFcvtSL)
	case 3:
		return pick(double, OpFcvtDLu, OpFcvtSLu)
	}
	return OpIllegal
}

func pick(cond bool, ifTrue, ifFalse Op) Op {
	if cond {
		return ifTrue
	}
	return ifFalse
}

type illegalInstructionError struct {
	word uint32
}

func (e illegalInstructionError) Error() string {
	return "illegal instruction: " + hex32(e.word)
}

func illegal(w uint32) error {
	return illegalInstructionError{word: w}
}

func hex32(w uint32) string {
	const digits = "0123456789abcdef"
	buf := [10]byte{'0', 'x'}
	for i := 0; i < 8; i++ {
		buf[9-i] = digits[(w>>(4*uint(i)))&0xF]
	}
	return string(buf[:])
}
