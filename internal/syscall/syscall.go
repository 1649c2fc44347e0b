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

// Package syscall bridges a hart's ecall instruction to the host OS,
// the generalization of the teacher's emul/io.go console bridge from a
// single read/write-a-byte console into the newlib/Linux syscall ABI
// a real RISC-V binary expects: close, read, write, exit, exit_group,
// brk, fstat, gettimeofday. openat is recognized but always fails with
// ENOSYS.
package syscall

import (
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gmofishsauce/rvhart/internal/memio"
)

// Linux syscall numbers this bridge understands, matching the RV64
// Linux ABI the teacher's target toolchain (and original_source's
// Syscall.cpp) emulates.
const (
	sysClose        = 57
	sysRead         = 63
	sysWrite        = 64
	sysFstat        = 80
	sysExit         = 93
	sysExitGroup    = 94
	sysGettimeofday = 169
	sysBrk          = 214
	sysOpenat       = 56
)

// Exit is returned by Emulate when the guest program calls exit or
// exit_group; the hart loop treats it as a run terminator carrying the
// exit code in Code.
type Exit struct{ Code int64 }

func (e *Exit) Error() string { return "guest program exited" }

// Regs is the narrow register surface Emulate needs: reading the a0-a3
// argument registers and the a7 syscall number, and writing the a0
// return value. internal/hart's register file satisfies this directly.
type Regs interface {
	ReadInt(reg uint32) uint64
	WriteInt(reg uint32, v uint64)
}

const (
	regA0 = 10
	regA1 = 11
	regA2 = 12
	regA3 = 13
	regA7 = 17
)

// Bridge emulates the subset of the Linux syscall ABI a newlib-hosted
// RISC-V program needs to run to completion: console I/O, a handful of
// file operations, and program termination.
type Bridge struct {
	mem   memio.Memory
	regs  Regs
	brk   uint64
	stdin io.Reader
	stdout,
	stderr io.Writer
}

// NewBridge returns a Bridge reading guest memory and registers through
// mem/regs and the host's stdin/stdout/stderr for console I/O.
func NewBridge(mem memio.Memory, regs Regs) *Bridge {
	return &Bridge{mem: mem, regs: regs, stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
}

// SetBreak sets the initial program break returned by a zero-argument
// brk call, matching Syscall::setTargetProgramBreak.
func (b *Bridge) SetBreak(addr uint64) { b.brk = addr }

// Emulate dispatches on the a7 syscall number, consuming a0-a2 and
// returning the a0 result, mirroring Syscall::emulate's single entry
// point. It returns *Exit when the guest calls exit/exit_group.
func (b *Bridge) Emulate() error {
	num := b.regs.ReadInt(regA7)
	a0 := b.regs.ReadInt(regA0)
	a1 := b.regs.ReadInt(regA1)
	a2 := b.regs.ReadInt(regA2)

	var result uint64
	var err error

	switch num {
	case sysClose:
		result, err = b.doClose(a0)
	case sysRead:
		result, err = b.doRead(a0, a1, a2)
	case sysWrite:
		result, err = b.doWrite(a0, a1, a2)
	case sysFstat:
		result, err = b.doFstat(a0, a1)
	case sysExit, sysExitGroup:
		return &Exit{Code: int64(a0)}
	case sysGettimeofday:
		result, err = b.doGettimeofday(a0)
	case sysBrk:
		result = b.doBrk(a0)
	case sysOpenat:
		result = uint64(negErrno(unix.ENOSYS))
	default:
		result = uint64(negErrno(unix.ENOSYS))
	}

	if err != nil {
		result = uint64(negErrno(errnoOf(err)))
	}
	b.regs.WriteInt(regA0, result)
	return nil
}

func negErrno(e unix.Errno) uint64 {
	return uint64(int64(-int64(e)))
}

func errnoOf(err error) unix.Errno {
	if errno, ok := err.(unix.Errno); ok {
		return errno
	}
	return unix.EIO
}

func (b *Bridge) doClose(fd uint64) (uint64, error) {
	switch int(fd) {
	case 0, 1, 2:
		return 0, nil // never actually close the console descriptors
	}
	return 0, unix.EBADF
}

func (b *Bridge) doRead(fd, bufAddr, count uint64) (uint64, error) {
	if fd != 0 {
		return 0, unix.EBADF
	}
	buf := make([]byte, count)
	n, err := b.stdin.Read(buf)
	if err != nil && err != io.EOF {
		return 0, unix.EIO
	}
	for i := 0; i < n; i++ {
		if werr := b.mem.WriteByte(bufAddr+uint64(i), buf[i]); werr != nil {
			return 0, unix.EFAULT
		}
	}
	return uint64(n), nil
}

func (b *Bridge) doWrite(fd, bufAddr, count uint64) (uint64, error) {
	var w io.Writer
	switch fd {
	case 1:
		w = b.stdout
	case 2:
		w = b.stderr
	default:
		return 0, unix.EBADF
	}
	buf := make([]byte, count)
	for i := range buf {
		v, err := b.mem.ReadByte(bufAddr + uint64(i))
		if err != nil {
			return 0, unix.EFAULT
		}
		buf[i] = v
	}
	n, err := w.Write(buf)
	if err != nil {
		return 0, unix.EIO
	}
	return uint64(n), nil
}

// guestStat is the layout the RV64 newlib/Linux ABI expects for struct
// stat; only the fields a typical guest program inspects are filled in.
type guestStat struct {
	Dev, Ino      uint64
	Mode          uint32
	Nlink         uint32
	Uid, Gid      uint32
	_             uint32
	Rdev          uint64
	Size          int64
	Blksize       int64
	Blocks        int64
	Atime, Atimen int64
	Mtime, Mtimen int64
	Ctime, Ctimen int64
}

func (b *Bridge) doFstat(fd, statAddr uint64) (uint64, error) {
	if fd > 2 {
		return 0, unix.EBADF
	}
	st := guestStat{Mode: 0o20000 | 0o666, Blksize: 1024} // S_IFCHR for console fds
	return 0, writeStruct(b.mem, statAddr, &st)
}

func (b *Bridge) doGettimeofday(tvAddr uint64) (uint64, error) {
	if tvAddr == 0 {
		return 0, nil
	}
	now := time.Now()
	sec := uint64(now.Unix())
	usec := uint64(now.Nanosecond() / 1000)
	if err := b.mem.WriteDouble(tvAddr, sec); err != nil {
		return 0, unix.EFAULT
	}
	if err := b.mem.WriteDouble(tvAddr+8, usec); err != nil {
		return 0, unix.EFAULT
	}
	return 0, nil
}

func (b *Bridge) doBrk(addr uint64) uint64 {
	if addr == 0 {
		return b.brk
	}
	b.brk = addr
	return b.brk
}

// writeStruct serializes a fixed-layout struct field by field in
// little-endian order into guest memory; used only for the stat
// buffer, whose exact field widths are fixed above.
func writeStruct(mem memio.Memory, addr uint64, st *guestStat) error {
	words := []uint64{
		st.Dev, st.Ino,
		uint64(st.Mode) | uint64(st.Nlink)<<32,
		uint64(st.Uid) | uint64(st.Gid)<<32,
		st.Rdev,
		uint64(st.Size),
		uint64(st.Blksize),
		uint64(st.Blocks),
		uint64(st.Atime), uint64(st.Atimen),
		uint64(st.Mtime), uint64(st.Mtimen),
		uint64(st.Ctime), uint64(st.Ctimen),
	}
	for i, w := range words {
		if err := mem.WriteDouble(addr+uint64(i*8), w); err != nil {
			return err
		}
	}
	return nil
}
