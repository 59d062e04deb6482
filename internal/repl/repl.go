// internal/repl/repl.go
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"skooma/internal/compiler"
	"skooma/internal/vm"
)

// Start runs the interactive line loop against one persistent VM, so
// globals and interned strings survive across inputs.
func Start(in io.Reader, out io.Writer) {
	fmt.Fprintln(out, "Skooma "+vm.Version+" | type 'exit' to quit")
	scanner := bufio.NewScanner(in)

	machine := vm.New()
	machine.SetStdout(out)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}
		line := scanner.Text()
		if line == "exit" {
			break
		}
		if line == "" {
			continue
		}

		fn, err := compiler.Compile(machine, line, "repl")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		machine.Interpret(fn, "repl")
	}
}
