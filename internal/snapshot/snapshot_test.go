// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package snapshot

import (
	"bytes"
	"strings"
	"testing"
)

type fakeState struct {
	instCount, progBreak, pc uint64
	ints, fps                [32]uint64
	csrs                     map[uint16]uint64
	hasF                     bool
}

func newFakeState() *fakeState {
	return &fakeState{csrs: map[uint16]uint64{0x300: 0x1800, 0x341: 0xdeadbeef}}
}

func (s *fakeState) InstructionCount() uint64     { return s.instCount }
func (s *fakeState) SetInstructionCount(n uint64) { s.instCount = n }
func (s *fakeState) ProgramBreak() uint64         { return s.progBreak }
func (s *fakeState) SetProgramBreak(a uint64)     { s.progBreak = a }
func (s *fakeState) PC() uint64                   { return s.pc }
func (s *fakeState) SetPC(a uint64)               { s.pc = a }
func (s *fakeState) PeekIntReg(n int) uint64      { return s.ints[n] }
func (s *fakeState) PokeIntReg(n int, v uint64) bool {
	s.ints[n] = v
	return true
}
func (s *fakeState) PeekFPReg(n int) uint64 { return s.fps[n] }
func (s *fakeState) PokeFPReg(n int, v uint64) bool {
	s.fps[n] = v
	return true
}
func (s *fakeState) HasF() bool { return s.hasF }
func (s *fakeState) WalkCSRs(fn func(addr uint16, value uint64)) {
	for addr, v := range s.csrs {
		fn(addr, v)
	}
}
func (s *fakeState) PokeCSR(addr uint16, v uint64) bool {
	if _, ok := s.csrs[addr]; !ok {
		return false
	}
	s.csrs[addr] = v
	return true
}

func TestSaveLoadRoundTrip(t *testing.T) {
	src := newFakeState()
	src.hasF = true
	src.instCount = 42
	src.progBreak = 0x20000
	src.pc = 0x1000
	src.ints[10] = 7
	src.fps[1] = 0x3ff0000000000000

	var buf bytes.Buffer
	if err := Save(&buf, src); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dst := newFakeState()
	dst.hasF = true
	if err := Load(&buf, dst); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if dst.instCount != 42 || dst.progBreak != 0x20000 || dst.pc != 0x1000 {
		t.Errorf("scalars = %+v, want instCount=42 progBreak=0x20000 pc=0x1000", dst)
	}
	if dst.ints[10] != 7 {
		t.Errorf("x10 = %d, want 7", dst.ints[10])
	}
	if dst.fps[1] != 0x3ff0000000000000 {
		t.Errorf("f1 = 0x%x, want 0x3ff0000000000000", dst.fps[1])
	}
	if dst.csrs[0x341] != 0xdeadbeef {
		t.Errorf("mepc = 0x%x, want 0xdeadbeef", dst.csrs[0x341])
	}
}

func TestLoadRejectsUnknownRecordType(t *testing.T) {
	r := strings.NewReader("zz garbage\n")
	if err := Load(r, newFakeState()); err == nil {
		t.Error("expected error for unrecognized record type")
	}
}

func TestLoadSkipsFPWhenNoFSupport(t *testing.T) {
	r := strings.NewReader("f 1 0x123\n")
	dst := newFakeState()
	dst.hasF = false
	if err := Load(r, dst); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if dst.fps[1] != 0 {
		t.Errorf("f1 = 0x%x, want 0 (F not supported)", dst.fps[1])
	}
}
