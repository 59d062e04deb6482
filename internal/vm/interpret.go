package vm

import (
	"fmt"
	"io"
	"os"

	"skooma/internal/errors"
)

func (vm *VM) errOut() io.Writer { return os.Stderr }

// RunScript executes a compiled top-level function. On a runtime error
// the trace is available through the returned RuntimeError and the
// machine is unwound to the stack, frame and marker state it had before
// the call.
func (vm *VM) RunScript(fn *OFunction, name string) (st errors.Status, rerr *errors.RuntimeError) {
	vm.scriptName = name
	vm.errStatus = errors.Ok

	savedSp := vm.sp
	vm.push(ObjVal(fn))
	closure := vm.newClosure(fn)
	vm.stack[vm.sp-1] = ObjVal(closure)

	savedFc := vm.fc
	savedCs := len(vm.callstart)
	savedRs := len(vm.retstart)

	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(stackOverflow); !ok {
				panic(r)
			}
			st = vm.overflowRecover(savedSp, savedFc, savedCs, savedRs)
			rerr = vm.RuntimeErrorValue()
		}
	}()

	pushed, st := vm.callClosure(closure, nil, vm.sp-1, 0, 0)
	if st == errors.Ok && pushed {
		st = vm.run(savedFc)
	}
	if st != errors.Ok {
		rerr = vm.RuntimeErrorValue()
		vm.unwind(savedSp, savedFc, savedCs, savedRs)
		vm.errStatus = errors.Ok
		return st, rerr
	}

	// Remember the script so embedders can ask whether it already ran.
	key := ObjVal(vm.InternString(name))
	vm.pushTempRoot(key)
	vm.loaded.Insert(key, Bool(true))
	vm.popTempRoot()
	return errors.Ok, nil
}

// Interpret runs a compiled script and reports errors to stderr, the
// bare entry the CLI uses.
func (vm *VM) Interpret(fn *OFunction, name string) errors.Status {
	st, rerr := vm.RunScript(fn, name)
	if rerr != nil {
		fmt.Fprintln(vm.errOut(), rerr.Error())
	}
	return st
}

// IsLoaded reports whether a script with this name already ran.
func (vm *VM) IsLoaded(name string) bool {
	_, ok := vm.loaded.Get(ObjVal(vm.InternString(name)))
	return ok
}
