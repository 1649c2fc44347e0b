// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package trigger

import "testing"

func addressTriggerData1(typ Type, load, store, execute, m bool, match Match, chain, after bool, selectData bool) uint64 {
	var v uint64
	if load {
		v |= bitLoad
	}
	if store {
		v |= bitStore
	}
	if execute {
		v |= bitExecute
	}
	if m {
		v |= bitM
	}
	v |= uint64(match) << shiftMatch
	if chain {
		v |= bitChain
	}
	if after {
		v |= bitTiming
	}
	if selectData {
		v |= bitSelect
	}
	v |= uint64(typ) << typeShift
	return v
}

func TestStoreAddressTriggerMatchesEqual(t *testing.T) {
	e := NewEngine(1, 64)
	d1 := addressTriggerData1(TypeAddress, false, true, false, true, MatchEqual, false, false, false)
	e.Configure(0, d1, 0x2000, 0, ^uint64(0), ^uint64(0), ^uint64(0))

	if fired := e.CheckLoadStoreAddr(0x2000, TimingBefore, false, PrivilegeMachine); len(fired) != 1 {
		t.Errorf("expected trigger 0 to fire on store to 0x2000, got %v", fired)
	}
	if fired := e.CheckLoadStoreAddr(0x3000, TimingBefore, false, PrivilegeMachine); len(fired) != 0 {
		t.Errorf("expected no fire for non-matching store address, got %v", fired)
	}
	if fired := e.CheckLoadStoreAddr(0x2000, TimingBefore, true, PrivilegeMachine); len(fired) != 0 {
		t.Errorf("load should not fire a store-only trigger, got %v", fired)
	}
	if fired := e.CheckLoadStoreAddr(0x2000, TimingBefore, false, PrivilegeUser); len(fired) != 0 {
		t.Errorf("trigger enabled only for M-mode should not fire in U-mode, got %v", fired)
	}
}

func TestTriggerEnabledOnlyForUserMode(t *testing.T) {
	e := NewEngine(1, 64)
	d1 := addressTriggerData1(TypeAddress, false, true, false, false, MatchEqual, false, false, false)
	d1 |= bitU
	e.Configure(0, d1, 0x2000, 0, ^uint64(0), ^uint64(0), ^uint64(0))

	if fired := e.CheckLoadStoreAddr(0x2000, TimingBefore, false, PrivilegeMachine); len(fired) != 0 {
		t.Errorf("trigger enabled only for U-mode should not fire in M-mode, got %v", fired)
	}
	if fired := e.CheckLoadStoreAddr(0x2000, TimingBefore, false, PrivilegeUser); len(fired) != 1 {
		t.Errorf("expected trigger to fire in U-mode, got %v", fired)
	}
}

func TestChainedTriggersFireOnlyWhenBothMatch(t *testing.T) {
	e := NewEngine(2, 64)
	d1a := addressTriggerData1(TypeAddress, false, true, false, true, MatchEqual, true, false, false)
	d1b := addressTriggerData1(TypeAddress, false, true, false, true, MatchEqual, false, false, true)
	e.Configure(0, d1a, 0x1000, 0, ^uint64(0), ^uint64(0), ^uint64(0))
	e.Configure(1, d1b, 0xABCD, 0, ^uint64(0), ^uint64(0), ^uint64(0))

	if fired := e.CheckLoadStoreAddr(0x1000, TimingBefore, false, PrivilegeMachine); len(fired) != 0 {
		t.Errorf("chained pair should not fire on address-only match, got %v", fired)
	}

	firedData := e.CheckLoadStoreData(0xABCD, TimingBefore, false, PrivilegeMachine)
	if len(firedData) != 0 {
		t.Errorf("chain requires the address match in the same evaluation pass, data-only check should not fire the pair, got %v", firedData)
	}
}

func TestICountTriggerFiresAtZero(t *testing.T) {
	e := NewEngine(1, 64)
	var d1 uint64
	d1 |= bitICountM
	d1 |= 2 << shiftICount
	d1 |= uint64(TypeInstCount) << typeShift
	e.Configure(0, d1, 0, 0, ^uint64(0), ^uint64(0), ^uint64(0))

	if fired := e.StepICount(); len(fired) != 0 {
		t.Errorf("expected no fire after first decrement, got %v", fired)
	}
	if fired := e.StepICount(); len(fired) != 1 {
		t.Errorf("expected trigger 0 to fire when count reaches zero, got %v", fired)
	}
}

func TestReadWriteDataRespectsMask(t *testing.T) {
	e := NewEngine(1, 64)
	e.Configure(0, 0, 0, 0, 0x0F, ^uint64(0), ^uint64(0))
	e.WriteData1(0, 0xFF)
	if got := e.ReadData1(0); got != 0x0F {
		t.Errorf("writeData1 masked write = 0x%x, want 0x0f", got)
	}
}

func TestOutOfRangeIndexIsSafe(t *testing.T) {
	e := NewEngine(1, 64)
	if e.WriteData1(5, 1) {
		t.Error("WriteData1 with out-of-range index should return false")
	}
	if got := e.ReadData1(5); got != 0 {
		t.Errorf("ReadData1 out of range = 0x%x, want 0", got)
	}
}
