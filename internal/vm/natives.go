package vm

import (
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"skooma/internal/errors"
)

// registerNatives installs the core host-function set every VM ships
// with. Each is defined as a fixed global so scripts can't shadow them
// by accident.
func (vm *VM) registerNatives() {
	vm.defineNative("clock", 0, false, nativeClock)
	vm.defineNative("typeof", 1, false, nativeTypeof)
	vm.defineNative("tostr", 1, false, nativeToStr)
	vm.defineNative("len", 1, false, nativeLen)
	vm.defineNative("assert", 1, true, nativeAssert)
	vm.defineNative("error", 1, false, nativeError)
	vm.defineNative("println", 0, true, nativePrintln)
	vm.defineNative("gccollect", 0, false, nativeGCCollect)
	vm.defineNative("memstats", 0, false, nativeMemStats)
	vm.defineNative("objcount", 0, false, nativeObjCount)
	vm.defineNative("uuid", 0, false, nativeUUID)
}

func (vm *VM) defineNative(name string, arity int, isva bool, fn CFunction) {
	vm.PushCFn(fn, name, arity, isva)
	native := vm.pop()
	vm.DefineGlobalDirect(name, native, true)
}

func nativeClock(vm *VM) int {
	vm.PushNumber(float64(time.Now().UnixNano()) / 1e9)
	return 1
}

func nativeTypeof(vm *VM) int {
	vm.PushString(vm.TypeName(0))
	return 1
}

func nativeToStr(vm *VM) int {
	s, st := vm.displayValue(vm.at(0))
	if st != errors.Ok {
		return 0
	}
	vm.PushString(s)
	return 1
}

func nativeLen(vm *VM) int {
	if !vm.IsString(0) && !vm.IsInstance(0) {
		vm.PushFString("len expects a string or instance (got %s)", vm.TypeName(0))
		vm.Error(errors.BadArg)
		return 0
	}
	vm.PushNumber(float64(vm.RawLen(0)))
	return 1
}

func nativeAssert(vm *VM) int {
	if vm.at(0).Falsey() {
		msg := "assertion failed."
		if vm.GetTop() > 1 {
			if s, ok := vm.GetString(1); ok {
				msg = s
			}
		}
		vm.PushFString("Assert: %s", msg)
		vm.Error(errors.BadArg)
		return 0
	}
	vm.Push(0)
	return 1
}

func nativeError(vm *VM) int {
	s, st := vm.displayValue(vm.at(0))
	if st != errors.Ok {
		return 0
	}
	vm.PushFString("Error: %s", s)
	vm.Error(errors.BadArg)
	return 0
}

func nativePrintln(vm *VM) int {
	n := vm.GetTop()
	for i := 0; i < n; i++ {
		s, st := vm.displayValue(vm.at(i))
		if st != errors.Ok {
			return 0
		}
		if i > 0 {
			fmt.Fprint(vm.stdout, " ")
		}
		fmt.Fprint(vm.stdout, s)
	}
	fmt.Fprintln(vm.stdout)
	return 0
}

func nativeGCCollect(vm *VM) int {
	before := vm.BytesAllocated()
	vm.CollectGarbage()
	vm.PushNumber(float64(before - vm.BytesAllocated()))
	return 1
}

func nativeMemStats(vm *VM) int {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	vm.PushFString("script heap %s (%d objects), process heap %s",
		humanize.Bytes(vm.BytesAllocated()), vm.ObjCount(), humanize.Bytes(ms.HeapAlloc))
	return 1
}

func nativeObjCount(vm *VM) int {
	vm.PushNumber(float64(vm.ObjCount()))
	return 1
}

func nativeUUID(vm *VM) int {
	vm.PushString(uuid.NewString())
	return 1
}
