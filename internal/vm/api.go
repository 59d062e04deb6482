package vm

import (
	"fmt"
	"math"

	"skooma/internal/errors"
)

// The embedding API. The host addresses the script stack with signed
// indices: non-negative indices count from the current frame's first
// argument slot (index 0 is a native's first argument), negative indices
// count from the top (-1 is the topmost value).

func (vm *VM) frameBase() int {
	if vm.fc > 0 {
		return vm.frames[vm.fc-1].callee + 1
	}
	return 0
}

func (vm *VM) absIndex(idx int) (int, bool) {
	var abs int
	if idx < 0 {
		abs = vm.sp + idx
	} else {
		abs = vm.frameBase() + idx
	}
	if abs < 0 || abs >= vm.sp {
		return 0, false
	}
	return abs, true
}

func (vm *VM) at(idx int) Value {
	abs, ok := vm.absIndex(idx)
	if !ok {
		return Empty()
	}
	return vm.stack[abs]
}

// GetTop reports how many values the current frame window holds.
func (vm *VM) GetTop() int { return vm.sp - vm.frameBase() }

// SetTop grows (with nil) or shrinks the frame window to idx elements.
// A negative idx counts from the top, so SetTop(-1) pops nothing and
// SetTop(-(n+1)) pops n.
func (vm *VM) SetTop(idx int) {
	var target int
	if idx < 0 {
		target = vm.sp + idx + 1
	} else {
		target = vm.frameBase() + idx
	}
	if target < vm.frameBase() {
		target = vm.frameBase()
	}
	for vm.sp < target {
		vm.push(Nil())
	}
	if vm.sp > target {
		vm.closeUpvalues(target)
		vm.sp = target
	}
}

// Pop removes n values from the top.
func (vm *VM) Pop(n int) { vm.SetTop(-n - 1) }

// ---------------------------------------------------------------------
// Type inspection

// Type returns the kind tag of the value at idx, or -1 for an invalid
// index.
func (vm *VM) Type(idx int) int {
	abs, ok := vm.absIndex(idx)
	if !ok {
		return -1
	}
	v := vm.stack[abs]
	switch v.Kind {
	case ValNil:
		return 0
	case ValNumber:
		return 1
	case ValBool:
		return 2
	case ValObj:
		return 3 + int(v.O.Header().Type)
	default:
		return -1
	}
}

// TypeName returns the user-visible type name of the value at idx.
func (vm *VM) TypeName(idx int) string {
	abs, ok := vm.absIndex(idx)
	if !ok {
		return "none"
	}
	return vm.stack[abs].TypeName()
}

func (vm *VM) IsNil(idx int) bool    { return vm.at(idx).IsNil() }
func (vm *VM) IsBool(idx int) bool   { return vm.at(idx).IsBool() }
func (vm *VM) IsNumber(idx int) bool { return vm.at(idx).IsNumber() }
func (vm *VM) IsString(idx int) bool { return vm.at(idx).IsString() }

func (vm *VM) isObjKind(idx int, t OType) bool {
	v := vm.at(idx)
	return v.IsObj() && v.O.Header().Type == t
}

func (vm *VM) IsClass(idx int) bool    { return vm.isObjKind(idx, OtClass) }
func (vm *VM) IsInstance(idx int) bool { return vm.isObjKind(idx, OtInstance) }
func (vm *VM) IsNative(idx int) bool   { return vm.isObjKind(idx, OtNative) }
func (vm *VM) IsClosure(idx int) bool  { return vm.isObjKind(idx, OtClosure) }
func (vm *VM) IsMethod(idx int) bool   { return vm.isObjKind(idx, OtBoundMethod) }

// GetBool fetches a boolean; the flag reports whether the value was one.
func (vm *VM) GetBool(idx int) (bool, bool) {
	v := vm.at(idx)
	if !v.IsBool() {
		return false, false
	}
	return v.AsBool(), true
}

// GetNumber fetches a number; the flag reports whether the value was one.
func (vm *VM) GetNumber(idx int) (float64, bool) {
	v := vm.at(idx)
	if !v.IsNumber() {
		return 0, false
	}
	return v.AsNumber(), true
}

// GetString fetches string contents; the flag reports whether the value
// was a string.
func (vm *VM) GetString(idx int) (string, bool) {
	v := vm.at(idx)
	if !v.IsString() {
		return "", false
	}
	return v.AsString().Chars, true
}

// RawLen reports the byte length of a string or the field count of an
// instance at idx.
func (vm *VM) RawLen(idx int) int {
	v := vm.at(idx)
	if v.IsString() {
		return len(v.AsString().Chars)
	}
	if inst, ok := instanceOf(v); ok {
		return inst.Fields.Len()
	}
	return 0
}

// StrLen reports the byte length of the string at idx.
func (vm *VM) StrLen(idx int) int {
	if s, ok := vm.GetString(idx); ok {
		return len(s)
	}
	return 0
}

// ToString renders the value at idx the way print would, without the
// __display__ hook.
func (vm *VM) ToString(idx int) string { return vm.at(idx).String() }

// ---------------------------------------------------------------------
// Pushing

func (vm *VM) PushNil()             { vm.push(Nil()) }
func (vm *VM) PushBool(b bool)      { vm.push(Bool(b)) }
func (vm *VM) PushNumber(n float64) { vm.push(Number(n)) }

// PushString interns and pushes a string.
func (vm *VM) PushString(s string) { vm.push(ObjVal(vm.InternString(s))) }

// PushCString is PushString for hosts that build from byte slices.
func (vm *VM) PushCString(b []byte) { vm.PushString(string(b)) }

// PushFString formats and pushes; the built string is returned.
func (vm *VM) PushFString(format string, args ...interface{}) string {
	s := fmt.Sprintf(format, args...)
	vm.PushString(s)
	return s
}

// Push copies the value at idx onto the top.
func (vm *VM) Push(idx int) {
	vm.push(vm.at(idx))
}

// PushValue pushes a raw Value (host-constructed).
func (vm *VM) PushValue(v Value) { vm.push(v) }

// PushCFn wraps a host function and pushes it.
func (vm *VM) PushCFn(fn CFunction, name string, arity int, isva bool) {
	nameStr := vm.InternString(name)
	vm.pushTempRoot(ObjVal(nameStr))
	native := vm.newNative(nameStr, fn, arity, isva)
	vm.popTempRoot()
	vm.push(ObjVal(native))
}

// PushMethod pushes instance.name as a bound method. Reports success.
func (vm *VM) PushMethod(idx int, name string) bool {
	inst, ok := instanceOf(vm.at(idx))
	if !ok {
		return false
	}
	m, found := inst.Class.Methods.Get(ObjVal(vm.InternString(name)))
	if !found {
		return false
	}
	bound := vm.newBoundMethod(ObjVal(inst), m.O.(*OClosure))
	vm.push(ObjVal(bound))
	return true
}

// PushGlobal pushes the global with the given name. Reports success.
func (vm *VM) PushGlobal(name string) bool {
	idx, ok := vm.globalIDs.Get(ObjVal(vm.InternString(name)))
	if !ok {
		return false
	}
	g := vm.globalVals[int(idx.AsNumber())]
	if g.Value.IsEmpty() {
		return false
	}
	vm.push(g.Value)
	return true
}

// ---------------------------------------------------------------------
// Stack surgery

// Remove deletes the value at idx, shifting everything above it down.
func (vm *VM) Remove(idx int) {
	abs, ok := vm.absIndex(idx)
	if !ok {
		return
	}
	copy(vm.stack[abs:], vm.stack[abs+1:vm.sp])
	vm.sp--
}

// Insert moves the top value into idx, shifting everything above up.
func (vm *VM) Insert(idx int) {
	abs, ok := vm.absIndex(idx)
	if !ok {
		return
	}
	top := vm.stack[vm.sp-1]
	copy(vm.stack[abs+1:vm.sp], vm.stack[abs:vm.sp-1])
	vm.stack[abs] = top
}

// Replace pops the top value into idx.
func (vm *VM) Replace(idx int) {
	abs, ok := vm.absIndex(idx)
	if !ok {
		return
	}
	vm.stack[abs] = vm.pop()
}

// Copy copies the value at src into dst.
func (vm *VM) Copy(src, dst int) {
	s, ok1 := vm.absIndex(src)
	d, ok2 := vm.absIndex(dst)
	if !ok1 || !ok2 {
		return
	}
	vm.stack[d] = vm.stack[s]
}

// EnsureStack reports whether n more slots fit on the stack.
func (vm *VM) EnsureStack(n int) bool {
	return vm.sp+n <= StackMax
}

// ---------------------------------------------------------------------
// Globals and fields

// GetGlobal pushes the global and returns its type tag, or -1 if the
// name is undefined.
func (vm *VM) GetGlobal(name string) int {
	if !vm.PushGlobal(name) {
		return -1
	}
	return vm.Type(-1)
}

// SetGlobal pops the top value into the global, creating it if needed.
func (vm *VM) SetGlobal(name string, fixed bool) errors.Status {
	idx := vm.GlobalIndex(vm.InternString(name))
	g := &vm.globalVals[idx]
	if !g.Value.IsEmpty() && g.Fixed {
		return errors.FixedAssign
	}
	g.Value = vm.pop()
	g.Fixed = fixed
	return errors.Ok
}

// GetField pushes instance.field and returns its type tag, or -1 when
// missing or when idx is not an instance.
func (vm *VM) GetField(idx int, field string) int {
	inst, ok := instanceOf(vm.at(idx))
	if !ok {
		return -1
	}
	v, found := inst.Fields.Get(ObjVal(vm.InternString(field)))
	if !found {
		return -1
	}
	vm.push(v)
	return vm.Type(-1)
}

// SetField pops the top value into instance.field.
func (vm *VM) SetField(idx int, field string) errors.Status {
	inst, ok := instanceOf(vm.at(idx))
	if !ok {
		return errors.BadPropertyAccess
	}
	key := ObjVal(vm.InternString(field))
	vm.pushTempRoot(key)
	inst.Fields.Insert(key, vm.peek(0))
	vm.popTempRoot()
	vm.pop()
	return errors.Ok
}

// GetUpvalue pushes upvalue idx of the closure at fidx. Reports success.
func (vm *VM) GetUpvalue(fidx, idx int) bool {
	v := vm.at(fidx)
	c, ok := v.O.(*OClosure)
	if !v.IsObj() || !ok || idx < 0 || idx >= len(c.Upvals) {
		return false
	}
	vm.push(c.Upvals[idx].Get(vm))
	return true
}

// SetUpvalue pops the top value into upvalue idx of the closure at fidx.
func (vm *VM) SetUpvalue(fidx, idx int) bool {
	v := vm.at(fidx)
	c, ok := v.O.(*OClosure)
	if !v.IsObj() || !ok || idx < 0 || idx >= len(c.Upvals) {
		return false
	}
	c.Upvals[idx].Set(vm, vm.pop())
	return true
}

// ---------------------------------------------------------------------
// Comparison and arithmetic entry points

// Comparison operators for Compare.
const (
	CmpEq = iota
	CmpLt
	CmpGt
	CmpLe
	CmpGe
)

// Compare applies op to the values at the two indices.
func (vm *VM) Compare(idx1, idx2, op int) (bool, errors.Status) {
	a, b := vm.at(idx1), vm.at(idx2)
	if op == CmpEq {
		return Equal(a, b), errors.Ok
	}
	if !a.IsNumber() || !b.IsNumber() {
		return false, errors.BadCompare
	}
	x, y := a.AsNumber(), b.AsNumber()
	switch op {
	case CmpLt:
		return x < y, errors.Ok
	case CmpGt:
		return x > y, errors.Ok
	case CmpLe:
		return x <= y, errors.Ok
	case CmpGe:
		return x >= y, errors.Ok
	}
	return false, errors.BadCompare
}

// Arithmetic operators for Arith.
const (
	ArAdd = iota
	ArSub
	ArMul
	ArDiv
	ArMod
	ArPow
	ArNot
	ArUmin
)

// Arith applies op to the topmost value (unary ops) or the two topmost
// values, replacing them with the result.
func (vm *VM) Arith(op int) errors.Status {
	switch op {
	case ArNot:
		vm.setPeek(0, Bool(vm.peek(0).Falsey()))
		return errors.Ok
	case ArUmin:
		if !vm.peek(0).IsNumber() {
			return errors.BadArg
		}
		vm.setPeek(0, Number(-vm.peek(0).AsNumber()))
		return errors.Ok
	}

	a, b := vm.peek(1), vm.peek(0)
	if op == ArAdd && a.IsString() && b.IsString() {
		s := vm.InternString(a.AsString().Chars + b.AsString().Chars)
		vm.popN(2)
		vm.push(ObjVal(s))
		return errors.Ok
	}
	if !a.IsNumber() || !b.IsNumber() {
		return errors.BadBinop
	}
	x, y := a.AsNumber(), b.AsNumber()
	var r float64
	switch op {
	case ArAdd:
		r = x + y
	case ArSub:
		r = x - y
	case ArMul:
		r = x * y
	case ArDiv:
		r = x / y
	case ArMod:
		r = flooredMod(x, y)
	case ArPow:
		r = math.Pow(x, y)
	default:
		return errors.BadArg
	}
	vm.popN(2)
	vm.push(Number(r))
	return errors.Ok
}

// ToCFunction returns the host function at idx, or nil.
func (vm *VM) ToCFunction(idx int) CFunction {
	v := vm.at(idx)
	if n, ok := v.O.(*ONative); ok && v.IsObj() {
		return n.Fn
	}
	return nil
}

// ---------------------------------------------------------------------
// Calls

// Call invokes the callable below the arguments: stack [fn, arg0..argN].
// Errors invoke the panic handler, print a trace and unwind the whole
// machine.
func (vm *VM) Call(argc, retcnt int) errors.Status {
	st, rerr := vm.protectedCall(argc, retcnt)
	if st != errors.Ok {
		if vm.panicFn != nil {
			vm.panicFn(vm)
		}
		if rerr != nil {
			fmt.Fprintln(vm.errOut(), rerr.Error())
		}
		vm.resetAfterError()
	}
	return st
}

// PCall invokes like Call but leaves the error message on the stack and
// returns the status to the host.
func (vm *VM) PCall(argc, retcnt int) errors.Status {
	st, _ := vm.protectedCall(argc, retcnt)
	return st
}

func (vm *VM) protectedCall(argc, retcnt int) (st errors.Status, rerr *errors.RuntimeError) {
	// Internally 0 encodes "all actual results"; the API expresses that
	// as MulRet and 0 as "discard the results".
	internal := retcnt
	if retcnt == MulRet {
		internal = 0
	}
	savedSp := vm.sp - argc - 1
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

	vm.errStatus = errors.Ok
	st = vm.callSync(savedSp, argc, internal)
	if st != errors.Ok {
		rerr = vm.RuntimeErrorValue()
		msg := vm.pop()
		vm.unwind(savedSp, savedFc, savedCs, savedRs)
		vm.push(msg)
		return st, rerr
	}
	if retcnt == 0 {
		vm.closeUpvalues(savedSp)
		vm.sp = savedSp
	}
	return st, nil
}

func (vm *VM) unwind(sp, fc, cs, rs int) {
	vm.closeUpvalues(sp)
	vm.sp = sp
	vm.fc = fc
	vm.callstart = vm.callstart[:cs]
	vm.retstart = vm.retstart[:rs]
}

func (vm *VM) overflowRecover(sp, fc, cs, rs int) errors.Status {
	vm.errStatus = errors.StackOverflow
	vm.trace = vm.trace[:0]
	vm.unwind(sp, fc, cs, rs)
	vm.push(ObjVal(vm.InternString("stack overflow.")))
	return errors.StackOverflow
}

func (vm *VM) resetAfterError() {
	vm.unwind(0, 0, 0, 0)
	vm.errStatus = errors.Ok
}

// Error raises a runtime error from a native function. The error message
// is the value on top of the stack.
func (vm *VM) Error(code errors.Status) errors.Status {
	msg := "error"
	if vm.sp > 0 {
		msg = vm.peek(0).String()
		vm.pop()
	}
	return vm.runtimeError(code, "%s", msg)
}

// SetPanic installs a handler invoked after an unprotected error; the
// previous handler is returned.
func (vm *VM) SetPanic(fn CFunction) CFunction {
	prev := vm.panicFn
	vm.panicFn = fn
	return prev
}
