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

// Package snapshot saves and restores hart architectural state as a
// line-oriented text format, grounded on original_source's
// saveSnapshotRegs/loadSnapshotRegs: one line per register, tagged by a
// short type code ("po" program order, "pb" program break, "pc"
// program counter, "x" integer register, "f" FP register, "c" CSR).
package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// State is the register surface a hart exposes for snapshotting; the
// concrete *hart.Hart satisfies this without snapshot needing to import
// the hart package's execution types.
type State interface {
	InstructionCount() uint64
	SetInstructionCount(n uint64)
	ProgramBreak() uint64
	SetProgramBreak(addr uint64)
	PC() uint64
	SetPC(addr uint64)

	PeekIntReg(n int) uint64
	PokeIntReg(n int, v uint64) bool
	PeekFPReg(n int) uint64
	PokeFPReg(n int, v uint64) bool

	// CSRs are enumerated by address; WalkCSRs calls fn for every
	// implemented CSR in ascending address order. PokeCSR reports
	// whether the address is implemented.
	WalkCSRs(fn func(addr uint16, value uint64))
	PokeCSR(addr uint16, value uint64) bool

	HasF() bool
}

// Save writes st's architectural state to w in the po/pb/pc/x/f/c line
// format.
func Save(w io.Writer, st State) error {
	bw := bufio.NewWriter(w)

	if _, err := fmt.Fprintf(bw, "po %d\n", st.InstructionCount()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "pb 0x%x\n", st.ProgramBreak()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "pc 0x%x\n", st.PC()); err != nil {
		return err
	}
	for i := 1; i < 32; i++ {
		if _, err := fmt.Fprintf(bw, "x %d 0x%x\n", i, st.PeekIntReg(i)); err != nil {
			return err
		}
	}
	for i := 0; i < 32; i++ {
		if _, err := fmt.Fprintf(bw, "f %d 0x%x\n", i, st.PeekFPReg(i)); err != nil {
			return err
		}
	}
	var werr error
	st.WalkCSRs(func(addr uint16, value uint64) {
		if werr != nil {
			return
		}
		_, werr = fmt.Fprintf(bw, "c 0x%x 0x%x\n", addr, value)
	})
	if werr != nil {
		return werr
	}

	return bw.Flush()
}

// Load restores st's architectural state from r, which must be in the
// format Save produces. It reports the line number of any malformed
// line via the returned error.
func Load(r io.Reader, st State) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "pc":
			v, err := parseValue(fields, 1)
			if err != nil {
				return lineErr(lineNum, line, err)
			}
			st.SetPC(v)
		case "po":
			v, err := parseValue(fields, 1)
			if err != nil {
				return lineErr(lineNum, line, err)
			}
			st.SetInstructionCount(v)
		case "pb":
			v, err := parseValue(fields, 1)
			if err != nil {
				return lineErr(lineNum, line, err)
			}
			st.SetProgramBreak(v)
		case "x":
			n, v, err := parseRegAndValue(fields)
			if err != nil {
				return lineErr(lineNum, line, err)
			}
			if !st.PokeIntReg(n, v) {
				return lineErr(lineNum, line, fmt.Errorf("poke of integer register %d failed", n))
			}
		case "f":
			n, v, err := parseRegAndValue(fields)
			if err != nil {
				return lineErr(lineNum, line, err)
			}
			if st.HasF() {
				if !st.PokeFPReg(n, v) {
					return lineErr(lineNum, line, fmt.Errorf("poke of FP register %d failed", n))
				}
			}
		case "c":
			addr, v, err := parseRegAndValue(fields)
			if err != nil {
				return lineErr(lineNum, line, err)
			}
			if !st.PokeCSR(uint16(addr), v) {
				return lineErr(lineNum, line, fmt.Errorf("poke of CSR 0x%x failed", addr))
			}
		default:
			return lineErr(lineNum, line, fmt.Errorf("unrecognized record type %q", fields[0]))
		}
	}
	return scanner.Err()
}

func parseValue(fields []string, idx int) (uint64, error) {
	if idx >= len(fields) {
		return 0, fmt.Errorf("missing value field")
	}
	return strconv.ParseUint(fields[idx], 0, 64)
}

func parseRegAndValue(fields []string) (int, uint64, error) {
	if len(fields) < 3 {
		return 0, 0, fmt.Errorf("expected register number and value")
	}
	num, err := strconv.ParseUint(fields[1], 0, 32)
	if err != nil {
		return 0, 0, err
	}
	val, err := strconv.ParseUint(fields[2], 0, 64)
	if err != nil {
		return 0, 0, err
	}
	return int(num), val, nil
}

func lineErr(lineNum int, line string, cause error) error {
	return fmt.Errorf("snapshot: line %d: %w: %q", lineNum, cause, line)
}
