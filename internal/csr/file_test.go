// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package csr

import (
	"testing"

	"github.com/gmofishsauce/rvhart/internal/urv"
)

func TestUnimplementedCsrRejectsReadAndWrite(t *testing.T) {
	f := NewFile(urv.Xlen64)
	if _, ok := f.Read(0x7FF); ok {
		t.Error("Read of unimplemented CSR should report not-implemented")
	}
	if f.Write(0x7FF, 1) {
		t.Error("Write of unimplemented CSR should report not-implemented")
	}
}

func TestFflagsFrmFcsrAliasing(t *testing.T) {
	f := NewFile(urv.Xlen64)
	f.Write(Fflags, 0x1F)
	f.Write(Frm, 0x5)
	got, _ := f.Read(Fcsr)
	want := uint64(0x5<<5 | 0x1F)
	if got != want {
		t.Errorf("fcsr = 0x%x, want 0x%x", got, want)
	}

	f.Write(Fcsr, 0x03)
	if v, _ := f.Read(Fflags); v != 0x03 {
		t.Errorf("fflags = 0x%x, want 0x03 after fcsr write", v)
	}
	if v, _ := f.Read(Frm); v != 0 {
		t.Errorf("frm = 0x%x, want 0 after fcsr write", v)
	}
}

func TestMeivtPropagatesBaseToMeihap(t *testing.T) {
	f := NewFile(urv.Xlen64)
	f.Write(Meivt, 0x1000)
	got, _ := f.Read(Meihap)
	if got != 0x1000 {
		t.Errorf("meihap = 0x%x, want 0x1000", got)
	}
	// meihap itself is read-only to CSR writes.
	f.Write(Meihap, 0xFFFFFFFF)
	if got, _ = f.Read(Meihap); got != 0x1000 {
		t.Errorf("meihap changed by direct write: 0x%x", got)
	}
}

func TestMdseacLockedUntilMdeauWrite(t *testing.T) {
	f := NewFile(urv.Xlen64)
	f.LatchMdseac(0xBAD0)
	f.LatchMdseac(0xBAD1)
	if got, _ := f.Read(Mdseac); got != 0xBAD0 {
		t.Errorf("mdseac = 0x%x, want first latched value 0xbad0", got)
	}
	f.Write(Mdeau, 0)
	f.LatchMdseac(0xBAD1)
	if got, _ := f.Read(Mdseac); got != 0xBAD1 {
		t.Errorf("mdseac = 0x%x, want 0xbad1 after unlock", got)
	}
}

func TestMepcLowBitNotWritable(t *testing.T) {
	f := NewFile(urv.Xlen64)
	f.Write(Mepc, 0x1001)
	if got, _ := f.Read(Mepc); got != 0x1000 {
		t.Errorf("mepc = 0x%x, want 0x1000 (low bit masked)", got)
	}
}

func TestMipReflectsLivePendingBits(t *testing.T) {
	f := NewFile(urv.Xlen64)
	f.SetPending(true, false, false)
	got, _ := f.Read(Mip)
	if got&(1<<11) == 0 {
		t.Errorf("mip = 0x%x, want MEIP (bit 11) set", got)
	}
}

func TestMstatusMIERoundTrip(t *testing.T) {
	f := NewFile(urv.Xlen64)
	f.SetMstatusMIE(true)
	if !f.MstatusMIE() {
		t.Error("MstatusMIE() = false after SetMstatusMIE(true)")
	}
	f.SetMstatusMIE(false)
	if f.MstatusMIE() {
		t.Error("MstatusMIE() = true after SetMstatusMIE(false)")
	}
}

func TestHpmCounterClampedByMax(t *testing.T) {
	f := NewFile(urv.Xlen64)
	f.SetMaxHpmCounters(1)
	if !f.Implemented(Mhpmevent3First) {
		t.Error("mhpmevent3 should be implemented with max=1")
	}
	if f.Implemented(Mhpmevent3First + 1) {
		t.Error("mhpmevent4 should not be implemented with max=1")
	}
}

func TestTselectWithoutTriggersRejected(t *testing.T) {
	f := NewFile(urv.Xlen64)
	if f.Write(Tselect, 0) {
		t.Error("Write to tselect should fail with no trigger bank wired")
	}
	if _, ok := f.Read(Tdata1); ok {
		t.Error("Read of tdata1 should fail with no trigger bank wired")
	}
}

type fakeTriggers struct {
	data1, data2, data3 [2]uint64
}

func (b *fakeTriggers) Count() int                     { return 2 }
func (b *fakeTriggers) ReadData1(idx int) uint64        { return b.data1[idx] }
func (b *fakeTriggers) WriteData1(idx int, v uint64) bool { b.data1[idx] = v; return true }
func (b *fakeTriggers) ReadData2(idx int) uint64        { return b.data2[idx] }
func (b *fakeTriggers) WriteData2(idx int, v uint64)    { b.data2[idx] = v }
func (b *fakeTriggers) ReadData3(idx int) uint64        { return b.data3[idx] }
func (b *fakeTriggers) WriteData3(idx int, v uint64)    { b.data3[idx] = v }

func TestTselectRoutesTdataToSelectedTrigger(t *testing.T) {
	f := NewFile(urv.Xlen64)
	f.SetTriggerBank(&fakeTriggers{})
	f.Write(Tselect, 1)
	f.Write(Tdata2, 0xCAFE)
	if v, _ := f.Read(Tdata2); v != 0xCAFE {
		t.Errorf("tdata2 = 0x%x, want 0xcafe", v)
	}
	f.Write(Tselect, 0)
	if v, _ := f.Read(Tdata2); v != 0 {
		t.Errorf("tdata2 for trigger 0 = 0x%x, want 0 (independent of trigger 1)", v)
	}
}
