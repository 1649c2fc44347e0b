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

// DecodeCompressed decodes a 16-bit C-extension instruction, rewriting
// it to the equivalent base instruction's operand fields. hasF reports
// whether the F extension is enabled, which disambiguates the quadrant
// 2 c.flwsp/c.ldsp encoding collision on RV32 (see the c.ldsp case
// below).
func DecodeCompressed(half uint16, xlen urv.Xlen, hasF bool) (Inst, error) {
	in := Inst{Raw: uint32(half), Length: 2}
	w := uint32(half)
	quadrant := half & 0x3
	f3 := (half >> 13) & 0x7

	switch quadrant {
	case 0:
		return decodeC0(w, half, in, xlen, hasF)
	case 1:
		return decodeC1(w, half, in, xlen)
	case 2:
		return decodeC2(w, half, in, xlen, hasF)
	}
	_ = f3
	return in, illegalC(half)
}

// cReg maps the compressed 3-bit register fields (x8-x15) to
// full 5-bit register numbers.
func cReg(bits uint16) uint32 { return uint32(bits&0x7) + 8 }

func decodeC0(w uint32, half uint16, in Inst, xlen urv.Xlen, hasF bool) (Inst, error) {
	f3 := (half >> 13) & 0x7
	rdp := cReg(half >> 2)
	rs1p := cReg(half >> 7)

	switch f3 {
	case 0: // C.ADDI4SPN
		nzuimm := ((half >> 7) & 0x30) | ((half >> 1) & 0x3C0) |
			((half >> 4) & 0x4) | ((half >> 2) & 0x8)
		if nzuimm == 0 {
			return in, illegalC(half)
		}
		in.Op, in.Rd, in.Rs1, in.Imm = OpAddi, rdp, 2, int64(nzuimm)
		return in, nil

	case 1: // C.FLD
		imm := cLdImm(half)
		in.Op, in.Rd, in.Rs1, in.Imm = OpFld, rdp, rs1p, imm
		return in, nil

	case 2: // C.LW
		imm := cLwImm(half)
		in.Op, in.Rd, in.Rs1, in.Imm = OpLw, rdp, rs1p, imm
		return in, nil

	case 3: // C.FLW (RV32, requires F) / C.LD (RV64)
		imm := cLdImm(half)
		if xlen == urv.Xlen32 {
			imm = cLwImm(half)
		}
		in.Rd, in.Rs1, in.Imm = rdp, rs1p, imm
		if xlen == urv.Xlen32 {
			if !hasF {
				return in, illegalC(half)
			}
			in.Op = OpFlw
		} else {
			in.Op = OpLd
		}
		return in, nil

	case 5: // C.FSD
		imm := cLdImm(half)
		in.Op, in.Rs1, in.Rs2, in.Imm = OpFsd, rs1p, rdp, imm
		return in, nil

	case 6: // C.SW
		imm := cLwImm(half)
		in.Op, in.Rs1, in.Rs2, in.Imm = OpSw, rs1p, rdp, imm
		return in, nil

	case 7: // C.FSW (RV32, requires F) / C.SD (RV64)
		imm := cLdImm(half)
		if xlen == urv.Xlen32 {
			imm = cLwImm(half)
		}
		in.Rs1, in.Rs2, in.Imm = rs1p, rdp, imm
		if xlen == urv.Xlen32 {
			if !hasF {
				return in, illegalC(half)
			}
			in.Op = OpFsw
		} else {
			in.Op = OpSd
		}
		return in, nil
	}
	return in, illegalC(half)
}

func cLwImm(half uint16) int64 {
	v := ((half >> 7) & 0x38) | ((half << 1) & 0x40) | ((half >> 4) & 0x4)
	return int64(v)
}

func cLdImm(half uint16) int64 {
	v := ((half >> 7) & 0x38) | ((half << 1) & 0xC0)
	return int64(v)
}

func decodeC1(w uint32, half uint16, in Inst, xlen urv.Xlen) (Inst, error) {
	f3 := (half >> 13) & 0x7
	rdRs1 := uint32((half >> 7) & 0x1F)

	switch f3 {
	case 0: // C.NOP / C.ADDI
		imm := cImm6(half)
		in.Op, in.Rd, in.Rs1, in.Imm = OpAddi, rdRs1, rdRs1, imm
		return in, nil

	case 1: // C.JAL (RV32) / C.ADDIW (RV64)
		if xlen == urv.Xlen32 {
			imm := cJImm(half)
			in.Op, in.Rd, in.Imm = OpJal, 1, imm
			return in, nil
		}
		if rdRs1 == 0 {
			return in, illegalC(half)
		}
		imm := cImm6(half)
		in.Op, in.Rd, in.Rs1, in.Imm = OpAddiw, rdRs1, rdRs1, imm
		return in, nil

	case 2: // C.LI
		imm := cImm6(half)
		in.Op, in.Rd, in.Rs1, in.Imm = OpAddi, rdRs1, 0, imm
		return in, nil

	case 3: // C.ADDI16SP / C.LUI
		if rdRs1 == 2 {
			imm := cAddi16spImm(half)
			if imm == 0 {
				return in, illegalC(half)
			}
			in.Op, in.Rd, in.Rs1, in.Imm = OpAddi, 2, 2, imm
			return in, nil
		}
		imm := cLuiImm(half)
		if imm == 0 {
			return in, illegalC(half)
		}
		in.Op, in.Rd, in.Imm = OpLui, rdRs1, imm
		return in, nil

	case 4:
		return decodeC1Arith(half, in, xlen)

	case 5: // C.J
		in.Op, in.Imm = OpJal, cJImm(half)
		in.Rd = 0
		return in, nil

	case 6, 7: // C.BEQZ / C.BNEZ
		rs1p := cReg(half >> 7)
		op := OpBeq
		if f3 == 7 {
			op = OpBne
		}
		in.Op, in.Rs1, in.Rs2, in.Imm = op, rs1p, 0, cBImm(half)
		return in, nil
	}
	return in, illegalC(half)
}

func decodeC1Arith(half uint16, in Inst, xlen urv.Xlen) (Inst, error) {
	rdp := cReg(half >> 7)
	funct2High := (half >> 10) & 0x3

	switch funct2High {
	case 0: // C.SRLI
		shamt := cShamt(half, xlen)
		in.Op, in.Rd, in.Rs1, in.Imm = OpSrli, rdp, rdp, int64(shamt)
		return in, nil
	case 1: // C.SRAI
		shamt := cShamt(half, xlen)
		in.Op, in.Rd, in.Rs1, in.Imm = OpSrai, rdp, rdp, int64(shamt)
		return in, nil
	case 2: // C.ANDI
		imm := cImm6(half)
		in.Op, in.Rd, in.Rs1, in.Imm = OpAndi, rdp, rdp, imm
		return in, nil
	case 3:
		rs2p := cReg(half >> 2)
		isWord := (half>>12)&1 != 0
		switch (half >> 5) & 0x3 {
		case 0:
			in.Op = pick(isWord, OpSubw, OpSub)
		case 1:
			in.Op = pick(isWord, OpAddw, OpXor)
		case 2:
			if isWord {
				return in, illegalC(half)
			}
			in.Op = OpOr
		case 3:
			if isWord {
				return in, illegalC(half)
			}
			in.Op = OpAnd
		}
		in.Rd, in.Rs1, in.Rs2 = rdp, rdp, rs2p
		return in, nil
	}
	return in, illegalC(half)
}

func cShamt(half uint16, xlen urv.Xlen) uint32 {
	shamt := uint32((half>>2)&0x1F) | uint32((half>>7)&0x20)
	if xlen == urv.Xlen32 {
		shamt &= 0x1F
	}
	return shamt
}

func cImm6(half uint16) int64 {
	v := uint32((half>>2)&0x1F) | uint32((half>>7)&0x20)
	return int64(urv.SignExtend(uint64(v), 5))
}

func cLuiImm(half uint16) int64 {
	v := (uint32((half>>2)&0x1F) | uint32((half>>7)&0x20)) << 12
	return int64(urv.SignExtend(uint64(v), 17))
}

func cAddi16spImm(half uint16) int64 {
	// nzimm[9|4|6|8:7|5], per the canonical bit mapping.
	var v uint32
	if half&(1<<12) != 0 {
		v |= 1 << 9
	}
	if half&(1<<6) != 0 {
		v |= 1 << 4
	}
	if half&(1<<5) != 0 {
		v |= 1 << 6
	}
	if half&(1<<4) != 0 {
		v |= 1 << 8
	}
	if half&(1<<3) != 0 {
		v |= 1 << 7
	}
	if half&(1<<2) != 0 {
		v |= 1 << 5
	}
	return int64(urv.SignExtend(uint64(v), 9))
}

func cJImm(half uint16) int64 {
	var v uint32
	bit := func(pos, dest uint) {
		if half&(1<<pos) != 0 {
			v |= 1 << dest
		}
	}
	bit(12, 11)
	bit(11, 4)
	bit(10, 9)
	bit(9, 8)
	bit(8, 10)
	bit(7, 6)
	bit(6, 7)
	bit(5, 3)
	bit(4, 2)
	bit(3, 1)
	bit(2, 5)
	return int64(urv.SignExtend(uint64(v), 11))
}

func cBImm(half uint16) int64 {
	var v uint32
	bit := func(pos, dest uint) {
		if half&(1<<pos) != 0 {
			v |= 1 << dest
		}
	}
	bit(12, 8)
	bit(11, 4)
	bit(10, 3)
	bit(6, 7)
	bit(5, 6)
	bit(4, 2)
	bit(3, 1)
	bit(2, 5)
	return int64(urv.SignExtend(uint64(v), 8))
}

func decodeC2(w uint32, half uint16, in Inst, xlen urv.Xlen, hasF bool) (Inst, error) {
	f3 := (half >> 13) & 0x7
	rdRs1 := uint32((half >> 7) & 0x1F)
	rs2 := uint32((half >> 2) & 0x1F)

	switch f3 {
	case 0: // C.SLLI
		shamt := cShamt(half, xlen)
		if rdRs1 == 0 {
			return in, illegalC(half)
		}
		in.Op, in.Rd, in.Rs1, in.Imm = OpSlli, rdRs1, rdRs1, int64(shamt)
		return in, nil

	case 1: // C.FLDSP
		in.Op, in.Rd, in.Rs1, in.Imm = OpFld, rdRs1, 2, cLdspImm(half)
		return in, nil

	case 2: // C.LWSP
		if rdRs1 == 0 {
			return in, illegalC(half)
		}
		in.Op, in.Rd, in.Rs1, in.Imm = OpLw, rdRs1, 2, cLwspImm(half)
		return in, nil

	case 3:
		// Quadrant 2, funct3=011: C.FLWSP on RV32 (requires F), C.LDSP
		// on RV64. These two 16-bit encodings alias; selecting by xlen
		// keeps RV32+F from ever being decoded as c.ldsp, the bug the
		// original emulator reproduced because it dispatched this slot
		// by F-extension presence alone instead of by xlen first.
		if xlen == urv.Xlen32 {
			if !hasF {
				return in, illegalC(half)
			}
			in.Op, in.Rd, in.Rs1, in.Imm = OpFlw, rdRs1, 2, cLwspImm(half)
			return in, nil
		}
		if rdRs1 == 0 {
			return in, illegalC(half)
		}
		in.Op, in.Rd, in.Rs1, in.Imm = OpLd, rdRs1, 2, cLdspImm(half)
		return in, nil

	case 4:
		funct1 := (half >> 12) & 1
		if funct1 == 0 {
			if rs2 == 0 { // C.JR
				if rdRs1 == 0 {
					return in, illegalC(half)
				}
				in.Op, in.Rd, in.Rs1, in.Imm = OpJalr, 0, rdRs1, 0
				return in, nil
			}
			// C.MV
			in.Op, in.Rd, in.Rs1, in.Rs2 = OpAdd, rdRs1, 0, rs2
			return in, nil
		}
		if rs2 == 0 {
			if rdRs1 == 0 { // C.EBREAK
				in.Op = OpEbreak
				return in, nil
			}
			// C.JALR
			in.Op, in.Rd, in.Rs1, in.Imm = OpJalr, 1, rdRs1, 0
			return in, nil
		}
		// C.ADD
		in.Op, in.Rd, in.Rs1, in.Rs2 = OpAdd, rdRs1, rdRs1, rs2
		return in, nil

	case 5: // C.FSDSP
		in.Op, in.Rs1, in.Rs2, in.Imm = OpFsd, 2, rs2, cSdspImm(half)
		return in, nil

	case 6: // C.SWSP
		in.Op, in.Rs1, in.Rs2, in.Imm = OpSw, 2, rs2, cSwspImm(half)
		return in, nil

	case 7:
		if xlen == urv.Xlen32 {
			if !hasF {
				return in, illegalC(half)
			}
			in.Op, in.Rs1, in.Rs2, in.Imm = OpFsw, 2, rs2, cSwspImm(half)
			return in, nil
		}
		in.Op, in.Rs1, in.Rs2, in.Imm = OpSd, 2, rs2, cSdspImm(half)
		return in, nil
	}
	return in, illegalC(half)
}

func cLwspImm(half uint16) int64 {
	v := ((uint32(half) >> 2) & 0x1C) | ((uint32(half) >> 7) & 0x20) | ((uint32(half) << 4) & 0xC0)
	return int64(v)
}

func cLdspImm(half uint16) int64 {
	v := ((uint32(half) >> 2) & 0x18) | ((uint32(half) >> 7) & 0x20) | ((uint32(half) << 4) & 0x1C0)
	return int64(v)
}

func cSwspImm(half uint16) int64 {
	v := ((uint32(half) >> 7) & 0x3C) | ((uint32(half) >> 1) & 0xC0)
	return int64(v)
}

func cSdspImm(half uint16) int64 {
	v := ((uint32(half) >> 7) & 0x38) | ((uint32(half) >> 1) & 0x1C0)
	return int64(v)
}

type illegalCompressedError struct {
	half uint16
}

func (e illegalCompressedError) Error() string {
	return "illegal compressed instruction: " + hex16(e.half)
}

func illegalC(half uint16) error {
	return illegalCompressedError{half: half}
}

func hex16(h uint16) string {
	const digits = "0123456789abcdef"
	buf := [6]byte{'0', 'x'}
	for i := 0; i < 4; i++ {
		buf[5-i] = digits[(h>>(4*uint(i)))&0xF]
	}
	return string(buf[:])
}
