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

// Package isa decodes RISC-V instruction words, both the 32-bit base
// encoding and the 16-bit compressed (C extension) encoding, into a
// single canonical Inst form the hart's execute dispatch consumes. The
// compressed decoder rewrites directly to the equivalent base-form
// operand fields rather than producing a separate compressed
// representation; internal/hart never special-cases instruction
// length beyond advancing the PC by 2 or 4.
package isa

import "fmt"

// Op identifies a decoded instruction. Names and groupings mirror the
// canonical RISC-V instruction set naming; compressed forms decode
// straight to the Op of the base instruction they're equivalent to
// (e.g. c.addi produces OpAddi), except where a compressed form has no
// 32-bit equivalent worth naming separately.
type Op int

const (
	OpIllegal Op = iota

	OpLui
	OpAuipc
	OpJal
	OpJalr

	OpBeq
	OpBne
	OpBlt
	OpBge
	OpBltu
	OpBgeu

	OpLb
	OpLh
	OpLw
	OpLbu
	OpLhu

	OpSb
	OpSh
	OpSw

	OpAddi
	OpSlti
	OpSltiu
	OpXori
	OpOri
	OpAndi
	OpSlli
	OpSrli
	OpSrai
	OpAdd
	OpSub
	OpSll
	OpSlt
	OpSltu
	OpXor
	OpSrl
	OpSra
	OpOr
	OpAnd

	OpFence
	OpFenceI

	OpEcall
	OpEbreak

	OpCsrrw
	OpCsrrs
	OpCsrrc
	OpCsrrwi
	OpCsrrsi
	OpCsrrci

	// rv64i
	OpLwu
	OpLd
	OpSd
	OpAddiw
	OpSlliw
	OpSrliw
	OpSraiw
	OpAddw
	OpSubw
	OpSllw
	OpSrlw
	OpSraw

	// M extension
	OpMul
	OpMulh
	OpMulhsu
	OpMulhu
	OpDiv
	OpDivu
	OpRem
	OpRemu
	OpMulw
	OpDivw
	OpDivuw
	OpRemw
	OpRemuw

	// A extension
	OpLrW
	OpScW
	OpAmoswapW
	OpAmoaddW
	OpAmoxorW
	OpAmoandW
	OpAmoorW
	OpAmominW
	OpAmomaxW
	OpAmominuW
	OpAmomaxuW
	OpLrD
	OpScD
	OpAmoswapD
	OpAmoaddD
	OpAmoxorD
	OpAmoandD
	OpAmoorD
	OpAmominD
	OpAmomaxD
	OpAmominuD
	OpAmomaxuD

	// F extension
	OpFlw
	OpFsw
	OpFmaddS
	OpFmsubS
	OpFnmsubS
	OpFnmaddS
	OpFaddS
	OpFsubS
	OpFmulS
	OpFdivS
	OpFsqrtS
	OpFsgnjS
	OpFsgnjnS
	OpFsgnjxS
	OpFminS
	OpFmaxS
	OpFcvtWS
	OpFcvtWuS
	OpFmvXW
	OpFeqS
	OpFltS
	OpFleS
	OpFclassS
	OpFcvtSW
	OpFcvtSWu
	OpFmvWX
	OpFcvtLS
	OpFcvtLuS
	OpFcvtSL
	OpFcvtSLu

	// D extension
	OpFld
	OpFsd
	OpFmaddD
	OpFmsubD
	OpFnmsubD
	OpFnmaddD
	OpFaddD
	OpFsubD
	OpFmulD
	OpFdivD
	OpFsqrtD
	OpFsgnjD
	OpFsgnjnD
	OpFsgnjxD
	OpFminD
	OpFmaxD
	OpFcvtSD
	OpFcvtDS
	OpFeqD
	OpFltD
	OpFleD
	OpFclassD
	OpFcvtWD
	OpFcvtWuD
	OpFcvtDW
	OpFcvtDWu
	OpFcvtLD
	OpFcvtLuD
	OpFmvXD
	OpFcvtDL
	OpFcvtDLu
	OpFmvDX

	// Privileged
	OpMret
	OpUret
	OpSret
	OpWfi
)

var mnemonics = map[Op]string{
	OpIllegal: "illegal",
	OpLui:     "lui", OpAuipc: "auipc", OpJal: "jal", OpJalr: "jalr",
	OpBeq: "beq", OpBne: "bne", OpBlt: "blt", OpBge: "bge", OpBltu: "bltu", OpBgeu: "bgeu",
	OpLb: "lb", OpLh: "lh", OpLw: "lw", OpLbu: "lbu", OpLhu: "lhu",
	OpSb: "sb", OpSh: "sh", OpSw: "sw",
	OpAddi: "addi", OpSlti: "slti", OpSltiu: "sltiu", OpXori: "xori", OpOri: "ori",
	OpAndi: "andi", OpSlli: "slli", OpSrli: "srli", OpSrai: "srai",
	OpAdd: "add", OpSub: "sub", OpSll: "sll", OpSlt: "slt", OpSltu: "sltu",
	OpXor: "xor", OpSrl: "srl", OpSra: "sra", OpOr: "or", OpAnd: "and",
	OpFence: "fence", OpFenceI: "fence.i",
	OpEcall: "ecall", OpEbreak: "ebreak",
	OpCsrrw: "csrrw", OpCsrrs: "csrrs", OpCsrrc: "csrrc",
	OpCsrrwi: "csrrwi", OpCsrrsi: "csrrsi", OpCsrrci: "csrrci",
	OpLwu: "lwu", OpLd: "ld", OpSd: "sd",
	OpAddiw: "addiw", OpSlliw: "slliw", OpSrliw: "srliw", OpSraiw: "sraiw",
	OpAddw: "addw", OpSubw: "subw", OpSllw: "sllw", OpSrlw: "srlw", OpSraw: "sraw",
	OpMul: "mul", OpMulh: "mulh", OpMulhsu: "mulhsu", OpMulhu: "mulhu",
	OpDiv: "div", OpDivu: "divu", OpRem: "rem", OpRemu: "remu",
	OpMulw: "mulw", OpDivw: "divw", OpDivuw: "divuw", OpRemw: "remw", OpRemuw: "remuw",
	OpLrW: "lr.w", OpScW: "sc.w", OpAmoswapW: "amoswap.w", OpAmoaddW: "amoadd.w",
	OpAmoxorW: "amoxor.w", OpAmoandW: "amoand.w", OpAmoorW: "amoor.w",
	OpAmominW: "amomin.w", OpAmomaxW: "amomax.w", OpAmominuW: "amominu.w", OpAmomaxuW: "amomaxu.w",
	OpLrD: "lr.d", OpScD: "sc.d", OpAmoswapD: "amoswap.d", OpAmoaddD: "amoadd.d",
	OpAmoxorD: "amoxor.d", OpAmoandD: "amoand.d", OpAmoorD: "amoor.d",
	OpAmominD: "amomin.d", OpAmomaxD: "amomax.d", OpAmominuD: "amominu.d", OpAmomaxuD: "amomaxu.d",
	OpFlw: "flw", OpFsw: "fsw",
	OpFmaddS: "fmadd.s", OpFmsubS: "fmsub.s", OpFnmsubS: "fnmsub.s", OpFnmaddS: "fnmadd.s",
	OpFaddS: "fadd.s", OpFsubS: "fsub.s", OpFmulS: "fmul.s", OpFdivS: "fdiv.s", OpFsqrtS: "fsqrt.s",
	OpFsgnjS: "fsgnj.s", OpFsgnjnS: "fsgnjn.s", OpFsgnjxS: "fsgnjx.s",
	OpFminS: "fmin.s", OpFmaxS: "fmax.s",
	OpFcvtWS: "fcvt.w.s", OpFcvtWuS: "fcvt.wu.s", OpFmvXW: "fmv.x.w",
	OpFeqS: "feq.s", OpFltS: "flt.s", OpFleS: "fle.s", OpFclassS: "fclass.s",
	OpFcvtSW: "fcvt.s.w", OpFcvtSWu: "fcvt.s.wu", OpFmvWX: "fmv.w.x",
	OpFcvtLS: "fcvt.l.s", OpFcvtLuS: "fcvt.lu.s", OpFcvtSL: "fcvt.s.l", OpFcvtSLu: "fcvt.s.lu",
	OpFld: "fld", OpFsd: "fsd",
	OpFmaddD: "fmadd.d", OpFmsubD: "fmsub.d", OpFnmsubD: "fnmsub.d", OpFnmaddD: "fnmadd.d",
	OpFaddD: "fadd.d", OpFsubD: "fsub.d", OpFmulD: "fmul.d", OpFdivD: "fdiv.d", OpFsqrtD: "fsqrt.d",
	OpFsgnjD: "fsgnj.d", OpFsgnjnD: "fsgnjn.d", OpFsgnjxD: "fsgnjx.d",
	OpFminD: "fmin.d", OpFmaxD: "fmax.d",
	OpFcvtSD: "fcvt.s.d", OpFcvtDS: "fcvt.d.s",
	OpFeqD: "feq.d", OpFltD: "flt.d", OpFleD: "fle.d", OpFclassD: "fclass.d",
	OpFcvtWD: "fcvt.w.d", OpFcvtWuD: "fcvt.wu.d", OpFcvtDW: "fcvt.d.w", OpFcvtDWu: "fcvt.d.wu",
	OpFcvtLD: "fcvt.l.d", OpFcvtLuD: "fcvt.lu.d", OpFmvXD: "fmv.x.d",
	OpFcvtDL: "fcvt.d.l", OpFcvtDLu: "fcvt.d.lu", OpFmvDX: "fmv.d.x",
	OpMret: "mret", OpUret: "uret", OpSret: "sret", OpWfi: "wfi",
}

// String returns the canonical lower-case mnemonic for op.
func (op Op) String() string {
	if s, ok := mnemonics[op]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Inst is a fully decoded instruction, compressed or base-width,
// rewritten to a single canonical operand form.
type Inst struct {
	Op     Op
	Raw    uint32 // the raw instruction word (16 bits zero-extended if compressed)
	Length int    // 2 or 4

	Rd, Rs1, Rs2, Rs3 uint32
	Imm               int64
	Csr               uint16

	Rm       uint32 // rounding mode (funct3) field on FP ops
	Aq, Rl   bool    // acquire/release bits on atomics
	Pred, Succ uint32 // fence predecessor/successor bits
}

// Compressed reports whether this instruction decoded from a 16-bit
// word.
func (in Inst) Compressed() bool { return in.Length == 2 }

// IsFloatOp reports whether op is an F- or D-extension compute
// instruction other than the load/store forms (which the hart's
// execute dispatch handles directly alongside the integer loads and
// stores).
func IsFloatOp(op Op) bool {
	return (op >= OpFmaddS && op <= OpFcvtSLu) || (op >= OpFmaddD && op <= OpFmvDX)
}

// IsDoubleOp reports whether op operates on double-precision operands,
// used to gate D-extension compute ops on the D extension even though
// they share execute dispatch with the single-precision F forms.
func IsDoubleOp(op Op) bool {
	return op >= OpFmaddD && op <= OpFmvDX
}
