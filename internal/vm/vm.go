package vm

import (
	"fmt"
	"io"
	"os"

	"skooma/internal/bytecode"
	"skooma/internal/errors"
)

const (
	// StackMax is the fixed value-stack depth.
	StackMax = 1 << 15
	// FramesMax is the fixed call-frame depth.
	FramesMax = 256
)

// MulRet requests all actual return values from Call/PCall.
const MulRet = -1

// Version of the runtime.
const Version = "1.0.0"

// CallFrame is one activation record. Callee is the stack slot holding
// the function value itself; local slot 0 aliases it (methods see the
// receiver there).
type CallFrame struct {
	Closure *OClosure
	Fn      *OFunction // set instead of Closure for bare functions
	Native  *ONative   // set while a host function runs in this frame
	ip      int
	callee  int
	retcnt  int // caller-declared result count; 0 means "all"
	vacnt   int // variadic extras parked above the declared params
}

func (f *CallFrame) function() *OFunction {
	if f.Closure != nil {
		return f.Closure.Fn
	}
	return f.Fn
}

func (f *CallFrame) chunk() *bytecode.Chunk {
	return &f.function().Chunk
}

// slot maps a compile-time local index to a value-stack slot. Locals
// declared after the parameters sit above the variadic extras.
func (f *CallFrame) slot(idx int) int {
	if f.vacnt > 0 && idx > f.function().Arity {
		return f.callee + f.vacnt + idx
	}
	return f.callee + idx
}

// Variable is a global slot: current value plus flags. An Empty value
// means the name has an id but was never defined.
type Variable struct {
	Value Value
	Fixed bool
}

// VM is a Skooma virtual machine. It is strictly owned by the creating
// thread; Lock/Unlock are no-op seams for embedders that serialize
// externally.
type VM struct {
	stack []Value
	sp    int

	frames []CallFrame
	fc     int

	// Argument/return list markers: saved sp values, popped by CALL/RET
	// to recover argc and the return count.
	callstart []int
	retstart  []int

	openUpvals *OUpvalue

	globalIDs   Table // name -> Number(index)
	globalVals  []Variable
	globalNames []*OString

	strings Table // weak interning table
	loaded  Table // scripts already interpreted

	// Heap bookkeeping (gc.go).
	objects        Obj
	objCount       int
	grayStack      []Obj
	bytesAllocated uint64
	gcNext         uint64
	gcStress       bool
	gcDebug        bool
	tempRoots      []Value
	compilerRoots  func(mark func(Obj))

	// Static strings interned at boot.
	ssInit    *OString
	ssDisplay *OString

	scriptName string
	trace      []errors.TraceFrame
	errStatus  errors.Status

	panicFn CFunction
	userdata interface{}

	stdout io.Writer
}

// stackOverflow is the panic payload for a fatal stack overflow; the API
// boundary recovers it into a StackOverflow status.
type stackOverflow struct{}

// New creates a fresh VM with the core natives registered.
func New() *VM {
	vm := &VM{
		stack:  make([]Value, StackMax),
		frames: make([]CallFrame, FramesMax),
		gcNext: gcMinHeap,
		stdout: os.Stdout,
	}
	vm.ssInit = vm.InternString("__init__")
	vm.ssDisplay = vm.InternString("__display__")
	vm.registerNatives()
	return vm
}

// NewWith creates a VM carrying embedder userdata.
func NewWith(userdata interface{}) *VM {
	vm := New()
	vm.userdata = userdata
	return vm
}

// Destroy drops every heap object. The VM must not be used afterwards.
func (vm *VM) Destroy() {
	for o := vm.objects; o != nil; {
		next := o.Header().Next
		vm.freeObj(o)
		o = next
	}
	vm.objects = nil
	vm.sp = 0
	vm.fc = 0
}

// Lock and Unlock default to no-ops. A VM is owned by one thread;
// embedders that must share one can serialize through these seams.
func (vm *VM) Lock()   {}
func (vm *VM) Unlock() {}

// Userdata returns the pointer given at creation.
func (vm *VM) Userdata() interface{} { return vm.userdata }

// SetStdout redirects print output (used by the REPL and tests).
func (vm *VM) SetStdout(w io.Writer) { vm.stdout = w }

// ---------------------------------------------------------------------
// Stack primitives

func (vm *VM) push(v Value) {
	if vm.sp >= StackMax {
		panic(stackOverflow{})
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) popN(n int) {
	vm.sp -= n
}

func (vm *VM) peek(dist int) Value {
	return vm.stack[vm.sp-1-dist]
}

func (vm *VM) setPeek(dist int, v Value) {
	vm.stack[vm.sp-1-dist] = v
}

func (vm *VM) pushCallstart(sp int) { vm.callstart = append(vm.callstart, sp) }
func (vm *VM) pushRetstart(sp int)  { vm.retstart = append(vm.retstart, sp) }

func (vm *VM) popCallstart() int {
	m := vm.callstart[len(vm.callstart)-1]
	vm.callstart = vm.callstart[:len(vm.callstart)-1]
	return m
}

func (vm *VM) popRetstart() int {
	m := vm.retstart[len(vm.retstart)-1]
	vm.retstart = vm.retstart[:len(vm.retstart)-1]
	return m
}

// ---------------------------------------------------------------------
// Globals

// GlobalIndex assigns (or returns) the dense id for a global name. Fresh
// ids start out Empty: declared but undefined.
func (vm *VM) GlobalIndex(name *OString) int {
	if idx, ok := vm.globalIDs.Get(ObjVal(name)); ok {
		return int(idx.AsNumber())
	}
	idx := len(vm.globalVals)
	vm.globalVals = append(vm.globalVals, Variable{Value: Empty()})
	vm.globalNames = append(vm.globalNames, name)
	vm.globalIDs.Insert(ObjVal(name), Number(float64(idx)))
	return idx
}

// DefineGlobalDirect is the host path to define a global, bypassing
// bytecode. It overwrites silently and may mark the slot fixed.
func (vm *VM) DefineGlobalDirect(name string, v Value, fixed bool) {
	idx := vm.GlobalIndex(vm.InternString(name))
	vm.globalVals[idx] = Variable{Value: v, Fixed: fixed}
}

// ---------------------------------------------------------------------
// Upvalues

func (vm *VM) captureUpvalue(slot int, fixed bool) *OUpvalue {
	var prev *OUpvalue
	u := vm.openUpvals
	for u != nil && u.Location > slot {
		prev = u
		u = u.NextOpen
	}
	if u != nil && u.Location == slot {
		return u
	}
	created := vm.newUpvalue(slot)
	created.Fixed = fixed
	created.NextOpen = u
	if prev == nil {
		vm.openUpvals = created
	} else {
		prev.NextOpen = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the given slot.
func (vm *VM) closeUpvalues(from int) {
	for vm.openUpvals != nil && vm.openUpvals.Location >= from {
		u := vm.openUpvals
		u.Closed = vm.stack[u.Location]
		u.Location = upvalClosed
		vm.openUpvals = u.NextOpen
		u.NextOpen = nil
	}
}

// ---------------------------------------------------------------------
// Errors

func (vm *VM) frameLine(f *CallFrame) int {
	if f.function() == nil {
		return 0
	}
	ip := f.ip - 1
	if ip < 0 {
		ip = 0
	}
	return f.chunk().Line(ip)
}

// runtimeError formats the message, snapshots the stack trace (innermost
// first) and leaves the message String on top of the stack.
func (vm *VM) runtimeError(code errors.Status, format string, args ...interface{}) errors.Status {
	msg := fmt.Sprintf(format, args...)
	vm.trace = vm.trace[:0]
	for i := vm.fc - 1; i >= 0; i-- {
		f := &vm.frames[i]
		name := vm.scriptName
		in := "script"
		if f.Native != nil {
			name = f.Native.Name.Chars
			in = name + "()"
		} else if fn := f.function(); fn != nil && fn.Name != nil {
			name = fn.Name.Chars
			in = fn.Name.Chars + "()"
		}
		vm.trace = append(vm.trace, errors.TraceFrame{
			Script: name,
			Line:   vm.frameLine(f),
			In:     in,
		})
	}
	vm.errStatus = code
	if vm.sp >= StackMax {
		vm.sp = StackMax - 1
	}
	vm.push(ObjVal(vm.InternString(msg)))
	return code
}

// RuntimeErrorValue builds the error value for the host after a failed
// protected call.
func (vm *VM) RuntimeErrorValue() *errors.RuntimeError {
	msg := ""
	if vm.sp > 0 && vm.peek(0).IsString() {
		msg = vm.peek(0).AsString().Chars
	}
	trace := make([]errors.TraceFrame, len(vm.trace))
	copy(trace, vm.trace)
	return &errors.RuntimeError{Code: vm.errStatus, Message: msg, Trace: trace}
}

// ---------------------------------------------------------------------
// Calls

// callValue dispatches a call. The stack is [callee, arg0 .. argN-1]
// with callee at calleeIdx. Reports whether a new frame was pushed.
func (vm *VM) callValue(calleeIdx, argc, retcnt int) (bool, errors.Status) {
	callee := vm.stack[calleeIdx]
	if !callee.IsObj() {
		return false, vm.runtimeError(errors.NotCallable, "tried calling non-callable value (%s)", callee.TypeName())
	}
	switch o := callee.O.(type) {
	case *OClosure:
		return vm.callClosure(o, nil, calleeIdx, argc, retcnt)
	case *OFunction:
		return vm.callClosure(nil, o, calleeIdx, argc, retcnt)
	case *ONative:
		return false, vm.callNative(o, calleeIdx, argc, retcnt)
	case *OClass:
		instance := vm.newInstance(o)
		vm.stack[calleeIdx] = ObjVal(instance)
		if o.Init != nil {
			return vm.callClosure(o.Init, nil, calleeIdx, argc, 1)
		}
		if argc != 0 {
			return false, vm.runtimeError(errors.ArgcMismatch, "expected 0 arguments but got %d.", argc)
		}
		// No initializer: the instance is the single result.
		vm.sp = calleeIdx + 1
		vm.adjustResults(calleeIdx, 1, retcnt)
		return false, errors.Ok
	case *OBoundMethod:
		vm.stack[calleeIdx] = o.Receiver
		return vm.callClosure(o.Method, nil, calleeIdx, argc, retcnt)
	default:
		return false, vm.runtimeError(errors.NotCallable, "tried calling non-callable value (%s)", callee.TypeName())
	}
}

func (vm *VM) callClosure(closure *OClosure, bare *OFunction, calleeIdx, argc, retcnt int) (bool, errors.Status) {
	fn := bare
	if closure != nil {
		fn = closure.Fn
	}
	if fn.IsVa {
		if argc < fn.Arity {
			return false, vm.runtimeError(errors.ArgcMin,
				"expected at least %d arguments but got %d.", fn.Arity, argc)
		}
	} else if argc != fn.Arity {
		return false, vm.runtimeError(errors.ArgcMismatch,
			"expected %d arguments but got %d.", fn.Arity, argc)
	}
	if vm.fc >= FramesMax {
		return false, vm.runtimeError(errors.FrameOverflow, "call frame overflow.")
	}
	frame := &vm.frames[vm.fc]
	vm.fc++
	frame.Closure = closure
	frame.Fn = bare
	frame.Native = nil
	frame.ip = 0
	frame.callee = calleeIdx
	frame.retcnt = retcnt
	frame.vacnt = 0
	if fn.IsVa {
		frame.vacnt = argc - fn.Arity
	}
	return true, errors.Ok
}

func (vm *VM) callNative(n *ONative, calleeIdx, argc, retcnt int) errors.Status {
	if n.IsVa {
		if argc < n.Arity {
			return vm.runtimeError(errors.ArgcMin,
				"expected at least %d arguments but got %d.", n.Arity, argc)
		}
	} else if argc != n.Arity {
		return vm.runtimeError(errors.ArgcMismatch,
			"expected %d arguments but got %d.", n.Arity, argc)
	}
	// Natives see their arguments as the current frame window.
	frame := &vm.frames[vm.fc]
	vm.fc++
	frame.Closure = nil
	frame.Fn = nil
	frame.Native = n
	frame.ip = 0
	frame.callee = calleeIdx
	frame.retcnt = retcnt
	frame.vacnt = argc - n.Arity
	vm.errStatus = errors.Ok
	nres := n.Fn(vm)
	vm.fc--
	if vm.errStatus != errors.Ok {
		return vm.errStatus
	}
	// Results sit above the arguments; slide them down over the callee.
	resBase := vm.sp - nres
	for i := 0; i < nres; i++ {
		vm.stack[calleeIdx+i] = vm.stack[resBase+i]
	}
	vm.sp = calleeIdx + nres
	vm.adjustResults(calleeIdx, nres, retcnt)
	return errors.Ok
}

// adjustResults pads with nil or truncates so exactly want results start
// at base. want == 0 keeps all actual results.
func (vm *VM) adjustResults(base, got, want int) {
	if want == 0 {
		return
	}
	for got < want {
		vm.push(Nil())
		got++
	}
	if got > want {
		vm.sp = base + want
	}
}

// callSync runs a call to completion before returning, entering the
// interpreter if the callee is bytecode. Stack: [callee, args...].
func (vm *VM) callSync(calleeIdx, argc, retcnt int) errors.Status {
	pushed, st := vm.callValue(calleeIdx, argc, retcnt)
	if st != errors.Ok {
		return st
	}
	if pushed {
		return vm.run(vm.fc - 1)
	}
	return errors.Ok
}

// displayValue renders a value, routing instances through a __display__
// method when their class has one.
func (vm *VM) displayValue(v Value) (string, errors.Status) {
	if v.IsObj() {
		if inst, ok := v.O.(*OInstance); ok {
			if m, found := inst.Class.Methods.Get(ObjVal(vm.ssDisplay)); found {
				// Receiver occupies the callee slot, like a bound call.
				vm.push(ObjVal(inst))
				calleeIdx := vm.sp - 1
				pushed, st := vm.callClosure(m.O.(*OClosure), nil, calleeIdx, 0, 1)
				if st != errors.Ok {
					return "", st
				}
				if pushed {
					if st = vm.run(vm.fc - 1); st != errors.Ok {
						return "", st
					}
				}
				res := vm.pop()
				if !res.IsString() {
					return "", vm.runtimeError(errors.BadDisplay,
						"display method returned invalid value (%s).", res.TypeName())
				}
				return res.AsString().Chars, errors.Ok
			}
		}
	}
	return v.String(), errors.Ok
}
