// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package trace

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogFormatsIntRegisterRecord(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.Log(0, 0x1000, 0x00150513, ResourceInt, 10, 1, "addi a0, a0, 1")

	line := buf.String()
	if !strings.HasPrefix(line, "#1 0 00001000 00150513 r 0000000a 0x00000001 addi a0, a0, 1\n") {
		t.Errorf("unexpected record: %q", line)
	}
}

func TestLogUsesDashForNoResource(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.Log(0, 0, 0x13, ResourceNone, 0, 0, "nop")
	if !strings.Contains(buf.String(), " - ") {
		t.Errorf("expected dash placeholder for no-resource record, got %q", buf.String())
	}
}

func TestSeqIncrementsPerRecord(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.Log(0, 0, 0, ResourceNone, 0, 0, "a")
	l.Log(0, 4, 0, ResourceNone, 0, 0, "b")
	if l.Seq() != 2 {
		t.Errorf("Seq() = %d, want 2", l.Seq())
	}
}
