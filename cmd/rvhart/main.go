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

package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/gmofishsauce/rvhart/internal/config"
	"github.com/gmofishsauce/rvhart/internal/hart"
	"github.com/gmofishsauce/rvhart/internal/loader"
	"github.com/gmofishsauce/rvhart/internal/memio"
	sysbridge "github.com/gmofishsauce/rvhart/internal/syscall"
	"github.com/gmofishsauce/rvhart/internal/trace"
)

var (
	configPath  = flag.String("config", "", "Hart configuration YAML (default: built-in RV64IMAFDC)")
	traceFile   = flag.String("trace", "", "Write execution trace to file")
	maxInst     = flag.Uint64("max-instructions", 0, "Stop after N retired instructions (0 = unlimited)")
	stopAddr    = flag.String("stop-address", "", "Stop before executing the instruction at this address")
	xlenFlag    = flag.Int("xlen", 0, "Override the config's XLEN (32 or 64)")
	debugFlag   = flag.Bool("debug", false, "Enter the interactive peek/poke console instead of free-running")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

const version = "1.0.0"

var savedTermState *term.State

func setupTerminal() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	state, err := term.GetState(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to get terminal state: %v", err)
	}
	savedTermState = state
	if _, err := term.MakeRaw(int(os.Stdin.Fd())); err != nil {
		return fmt.Errorf("failed to set raw mode: %v", err)
	}
	return nil
}

func restoreTerminal() {
	if savedTermState != nil && term.IsTerminal(int(os.Stdin.Fd())) {
		term.Restore(int(os.Stdin.Fd()), savedTermState)
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("rvhart v%s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 1 {
		usage()
		os.Exit(1)
	}
	imageFile := args[0]

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *xlenFlag != 0 {
		cfg.Xlen = *xlenFlag
	}

	data, err := os.ReadFile(imageFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading image file: %v\n", err)
		os.Exit(1)
	}

	mem := newFlatMemory(cfg)

	img, err := loadImage(mem, data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading image: %v\n", err)
		os.Exit(1)
	}

	h := hart.New(cfg, mem)
	h.SetEntry(img.EntryPC)
	if img.HasTohost {
		h.SetTohost(img.TohostAddr)
	}
	h.SetProgramBreak(cfg.ProgramBreak)

	if cfg.EnableLinuxSyscalls {
		bridge := sysbridge.NewBridge(mem, h)
		bridge.SetBreak(cfg.ProgramBreak)
		h.SetSyscallBridge(bridge)
	}

	if *maxInst > 0 {
		h.SetMaxInstructions(*maxInst)
	}
	if *stopAddr != "" {
		addr, err := strconv.ParseUint(*stopAddr, 0, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Bad -stop-address %q: %v\n", *stopAddr, err)
			os.Exit(1)
		}
		h.SetStopAddress(addr)
	}

	var traceOut *os.File
	if *traceFile != "" {
		traceOut, err = os.Create(*traceFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating trace file: %v\n", err)
			os.Exit(1)
		}
		defer traceOut.Close()
		h.Tracer = trace.NewLogger(traceOut)
	}

	if err := setupTerminal(); err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up terminal: %v\n", err)
		os.Exit(1)
	}
	defer restoreTerminal()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		h.Halt()
	}()

	startTime := time.Now()
	var runErr error
	if *debugFlag {
		runErr = runDebugConsole(h)
	} else {
		runErr = run(h)
	}
	elapsed := time.Since(startTime)

	restoreTerminal()

	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "Instructions: %d\n", h.InstructionCount())
	fmt.Fprintf(os.Stderr, "Time: %v\n", elapsed.Round(time.Millisecond))
	if elapsed.Seconds() > 0 {
		mhz := (float64(h.InstructionCount()) / 1_000_000.0) / elapsed.Seconds()
		fmt.Fprintf(os.Stderr, "Speed: %.3f MIPS\n", mhz)
	}

	exitCode := describeStop(runErr)
	os.Exit(exitCode)
}

func loadConfig() (config.Config, error) {
	if *configPath == "" {
		return config.Default(), nil
	}
	return config.Load(*configPath)
}

// newFlatMemory sizes a Flat large enough for the highest configured
// region and installs every region's access attributes.
func newFlatMemory(cfg config.Config) *memio.Flat {
	var top uint64
	for _, r := range cfg.Memory {
		if r.High > top {
			top = r.High
		}
	}
	mem := memio.NewFlat(top)
	for _, r := range cfg.Memory {
		var attr memio.Attr
		if r.Read {
			attr |= memio.AttrRead
		}
		if r.Write {
			attr |= memio.AttrWrite
		}
		if r.Exec {
			attr |= memio.AttrExecute
		}
		mem.AddRegion(r.Low, r.High, attr)
	}
	return mem
}

// loadImage dispatches on the image's leading magic: ELF files start
// with 0x7F 'E' 'L' 'F', anything else is treated as a headerless flat
// binary loaded at physical address zero.
func loadImage(mem *memio.Flat, data []byte) (loader.Image, error) {
	if len(data) >= 4 && data[0] == 0x7F && data[1] == 'E' && data[2] == 'L' && data[3] == 'F' {
		return loader.LoadELF(mem, data)
	}
	return loader.LoadFlat(mem, data, 0)
}

// run free-runs the hart until a Stop or an unexpected error.
func run(h *hart.Hart) error {
	for {
		if err := h.Step(); err != nil {
			return err
		}
	}
}

// describeStop reports why the run ended and returns a process exit
// code: 1 for an error that is not a *hart.Stop, otherwise the low 8
// bits of the stop's Value (a guest exit code or tohost value), which
// is 0 for a stop that carries no value.
func describeStop(err error) int {
	stop, ok := err.(*hart.Stop)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	switch stop.Reason {
	case hart.StopTohost:
		fmt.Fprintf(os.Stderr, "Exit: tohost store, value %d\n", stop.Value)
	case hart.StopAddress:
		fmt.Fprintf(os.Stderr, "Exit: reached stop address\n")
	case hart.StopInstructionLimit:
		fmt.Fprintf(os.Stderr, "Exit: instruction limit reached\n")
	case hart.StopExit:
		fmt.Fprintf(os.Stderr, "Exit: guest exit code %d\n", stop.Value)
	case hart.StopExternal:
		fmt.Fprintf(os.Stderr, "Exit: halted\n")
	}
	if stop.Value != 0 {
		return int(stop.Value & 0xFF)
	}
	return 0
}

// runDebugConsole implements the interactive peek interface:
// single-step or free-run with a command prompt between instructions,
// safe only while the hart is paused. It has no poke command. Commands operate on one line at
// a time since the terminal is in raw mode for Ctrl-C handling.
func runDebugConsole(h *hart.Hart) error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Fprintf(os.Stderr, "rvhart debug console. Commands: s[tep], c[ontinue], x<n> (peek xN), f<n> (peek fN), pc, q(uit)\n")
	for {
		fmt.Fprintf(os.Stderr, "(rvhart) ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return &hart.Stop{Reason: hart.StopExternal}
		}
		cmd := strings.TrimSpace(line)
		switch {
		case cmd == "q" || cmd == "quit":
			return &hart.Stop{Reason: hart.StopExternal}
		case cmd == "s" || cmd == "step" || cmd == "":
			if err := h.Step(); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "pc = 0x%x\n", h.PC())
		case cmd == "c" || cmd == "continue":
			if err := run(h); err != nil {
				return err
			}
		case cmd == "pc":
			fmt.Fprintf(os.Stderr, "pc = 0x%x\n", h.PC())
		case strings.HasPrefix(cmd, "x"):
			n, err := strconv.Atoi(cmd[1:])
			if err != nil || n < 0 || n > 31 {
				fmt.Fprintf(os.Stderr, "bad register %q\n", cmd)
				continue
			}
			fmt.Fprintf(os.Stderr, "x%d = 0x%x\n", n, h.PeekIntReg(n))
		case strings.HasPrefix(cmd, "f"):
			n, err := strconv.Atoi(cmd[1:])
			if err != nil || n < 0 || n > 31 {
				fmt.Fprintf(os.Stderr, "bad register %q\n", cmd)
				continue
			}
			fmt.Fprintf(os.Stderr, "f%d = 0x%x\n", n, h.PeekFPReg(n))
		default:
			fmt.Fprintf(os.Stderr, "unrecognized command %q\n", cmd)
		}
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <image-file>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "rvhart - RISC-V hart functional simulator\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nArguments:\n")
	fmt.Fprintf(os.Stderr, "  <image-file>    ELF executable or headerless flat binary\n")
}
