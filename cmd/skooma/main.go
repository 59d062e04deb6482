// cmd/skooma/main.go
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	"skooma/internal/bytecode"
	"skooma/internal/compiler"
	skerrors "skooma/internal/errors"
	"skooma/internal/repl"
	"skooma/internal/vm"
)

// Exit codes follow the sysexits convention: 65 for bad input, 70 for an
// internal software error.
const (
	exitUsage        = 64
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

func main() {
	args := os.Args[1:]
	switch len(args) {
	case 0:
		if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			repl.Start(os.Stdin, os.Stdout)
			return
		}
		// Piped input: treat the whole of stdin as one script.
		source, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, errors.Wrap(err, "reading stdin"))
			os.Exit(exitIOError)
		}
		os.Exit(runSource(string(source), "stdin"))
	case 1:
		os.Exit(runFile(args[0]))
	default:
		fmt.Fprintln(os.Stderr, "Usage: skooma [path]")
		os.Exit(exitUsage)
	}
}

func runFile(path string) int {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrapf(err, "reading %s", path))
		return exitIOError
	}
	return runSource(string(source), path)
}

func runSource(source, name string) int {
	machine := vm.New()
	defer machine.Destroy()

	// Diagnostics toggles, same spirit as the DEBUG_* build defines of
	// other bytecode VMs: code dump, GC logging, allocation-time GC.
	if os.Getenv("SKOOMA_DEBUG_GC") != "" {
		machine.SetGCDebug(true)
	}
	if os.Getenv("SKOOMA_STRESS_GC") != "" {
		machine.SetGCStress(true)
	}

	fn, err := compiler.Compile(machine, source, name)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCompileError
	}
	if os.Getenv("SKOOMA_DEBUG_CODE") != "" {
		bytecode.Disassemble(os.Stderr, &fn.Chunk, name)
	}
	if st := machine.Interpret(fn, name); st != skerrors.Ok {
		return exitRuntimeError
	}
	return 0
}
