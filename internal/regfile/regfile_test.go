// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package regfile

import "testing"

func TestIntFileX0IsHardwiredZero(t *testing.T) {
	f := NewIntFile()
	f.Write(0, 0xDEADBEEF)
	if got := f.Read(0); got != 0 {
		t.Errorf("x0 = 0x%x, want 0", got)
	}
	if idx, _, _, ok := f.LastWrite(); ok {
		t.Errorf("write to x0 should not register as a last write, got idx=%d", idx)
	}
}

func TestIntFileLastWrite(t *testing.T) {
	f := NewIntFile()
	f.Write(5, 10)
	f.ClearLastWrite()
	f.Write(5, 20)
	idx, val, prior, ok := f.LastWrite()
	if !ok || idx != 5 || val != 20 || prior != 10 {
		t.Errorf("LastWrite() = (%d, %d, %d, %v), want (5, 20, 10, true)", idx, val, prior, ok)
	}
}

func TestIntFileClearLastWrite(t *testing.T) {
	f := NewIntFile()
	f.Write(3, 1)
	f.ClearLastWrite()
	if _, _, _, ok := f.LastWrite(); ok {
		t.Error("LastWrite() should report none after ClearLastWrite")
	}
}

func TestFPFileNaNBoxing(t *testing.T) {
	f := NewFPFile()
	f.WriteSingle(1, 0x3F800000) // 1.0f
	got := f.ReadDouble(1)
	want := uint64(boxTag | 0x3F800000)
	if got != want {
		t.Errorf("ReadDouble(1) = 0x%016x, want 0x%016x", got, want)
	}
	if single := f.ReadSingle(1); single != 0x3F800000 {
		t.Errorf("ReadSingle(1) = 0x%08x, want 0x3f800000", single)
	}
}

func TestFPFileUnboxedReadCanonicalizes(t *testing.T) {
	f := NewFPFile()
	f.WriteDouble(2, 0x1234567890ABCDEF) // not NaN-boxed
	if got := f.ReadSingle(2); got != 0x7FC00000 {
		t.Errorf("ReadSingle on non-boxed double = 0x%08x, want canonical qNaN 0x7fc00000", got)
	}
}

func TestFPFileReset(t *testing.T) {
	f := NewFPFile()
	f.WriteDouble(4, 0xFF)
	f.Reset()
	if got := f.ReadDouble(4); got != 0 {
		t.Errorf("after Reset, f4 = 0x%x, want 0", got)
	}
}
