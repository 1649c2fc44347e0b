// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package memio

import "testing"

func TestReadWriteWordRoundTrip(t *testing.T) {
	m := NewFlat(4096)
	m.AddRegion(0, 4096, AttrRWX)
	if err := m.WriteWord(0x100, 0xDEADBEEF); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	got, err := m.ReadWord(0x100)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if got != 0xDEADBEEF {
		t.Errorf("ReadWord = 0x%x, want 0xdeadbeef", got)
	}
}

func TestUnregisteredRegionFaults(t *testing.T) {
	m := NewFlat(4096)
	if _, err := m.ReadByte(0); err == nil {
		t.Error("expected access fault reading an unregistered region")
	}
}

func TestReadOnlyRegionRejectsWrite(t *testing.T) {
	m := NewFlat(4096)
	m.AddRegion(0, 4096, AttrRead|AttrExecute)
	if err := m.WriteByte(0, 1); err == nil {
		t.Error("expected access fault writing a read-only region")
	}
}

func TestOutOfBoundsFaults(t *testing.T) {
	m := NewFlat(16)
	m.AddRegion(0, 16, AttrRWX)
	if _, err := m.ReadWord(14); err == nil {
		t.Error("expected access fault for word read overrunning memory size")
	}
}

func TestMMRWriteMaskPreservesUnmaskedBits(t *testing.T) {
	m := NewFlat(4096)
	m.AddRegion(0, 4096, AttrRWX)
	m.RegisterMMR(0x200, 0x204, 0x0000FFFF)
	if err := m.WriteWord(0x200, 0xFFFFFFFF); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	got, _ := m.ReadWord(0x200)
	if got != 0x0000FFFF {
		t.Errorf("masked write = 0x%x, want 0x0000ffff", got)
	}
	if err := m.WriteWord(0x200, 0x12340000); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	got, _ = m.ReadWord(0x200)
	if got != 0x00000000 {
		t.Errorf("masked write preserving upper bits = 0x%x, want 0x00000000 (upper 0x1234 not stored, low half takes the written zeros)", got)
	}
}

func TestFetchRequiresExecuteAttr(t *testing.T) {
	m := NewFlat(4096)
	m.AddRegion(0, 4096, AttrRead|AttrWrite)
	if _, err := m.FetchWord(0); err == nil {
		t.Error("expected fetch to fault on a non-executable region")
	}
}

func TestOverlappingRegionsLastAddedWins(t *testing.T) {
	m := NewFlat(4096)
	m.AddRegion(0, 4096, AttrRWX)
	m.AddRegion(0x100, 0x200, AttrRead)
	if err := m.WriteByte(0x150, 1); err == nil {
		t.Error("expected the narrower read-only override to win over the broad RWX region")
	}
}
