package vm

import (
	"fmt"
	"math"

	"skooma/internal/bytecode"
	"skooma/internal/errors"
)

// run executes bytecode until the frame count drops back to stopFc. A
// non-Ok status leaves the error message on top of the stack.
func (vm *VM) run(stopFc int) errors.Status {
	frame := &vm.frames[vm.fc-1]
	chunk := frame.chunk()

	readByte := func() byte {
		b := chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readU24 := func() int {
		v := chunk.ReadU24(frame.ip)
		frame.ip += 3
		return v
	}
	readConst := func() Value {
		return chunk.Constants[readByte()].(Value)
	}
	readConstL := func() Value {
		return chunk.Constants[readU24()].(Value)
	}
	readString := func() *OString { return readConst().AsString() }
	readStringL := func() *OString { return readConstL().AsString() }
	reload := func() {
		frame = &vm.frames[vm.fc-1]
		chunk = frame.chunk()
	}

	for {
		op := bytecode.OpCode(readByte())
		switch op {

		// ----- stack ---------------------------------------------------
		case bytecode.OpPop:
			vm.pop()
		case bytecode.OpPopN:
			vm.popN(readU24())

		// ----- constants -----------------------------------------------
		case bytecode.OpConst:
			vm.push(readConst())
		case bytecode.OpConstL:
			vm.push(readConstL())
		case bytecode.OpNil:
			vm.push(Nil())
		case bytecode.OpNilN:
			n := readU24()
			for i := 0; i < n; i++ {
				vm.push(Nil())
			}
		case bytecode.OpTrue:
			vm.push(Bool(true))
		case bytecode.OpFalse:
			vm.push(Bool(false))

		// ----- arithmetic ----------------------------------------------
		case bytecode.OpNeg:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError(errors.BadArg, "operand must be a number (got %s).", vm.peek(0).TypeName())
			}
			vm.setPeek(0, Number(-vm.peek(0).AsNumber()))

		case bytecode.OpAdd:
			a, b := vm.peek(1), vm.peek(0)
			switch {
			case a.IsNumber() && b.IsNumber():
				vm.popN(2)
				vm.push(Number(a.AsNumber() + b.AsNumber()))
			case a.IsString() && b.IsString():
				// Operands stay on the stack across the allocation.
				s := vm.InternString(a.AsString().Chars + b.AsString().Chars)
				vm.popN(2)
				vm.push(ObjVal(s))
			default:
				return vm.runtimeError(errors.BadBinop, "operands must be numbers or strings.")
			}

		case bytecode.OpSub:
			if st := vm.binaryNum(op); st != errors.Ok {
				return st
			}
		case bytecode.OpMul:
			if st := vm.binaryNum(op); st != errors.Ok {
				return st
			}
		case bytecode.OpDiv:
			if st := vm.binaryNum(op); st != errors.Ok {
				return st
			}
		case bytecode.OpMod:
			if st := vm.binaryNum(op); st != errors.Ok {
				return st
			}
		case bytecode.OpPow:
			if st := vm.binaryNum(op); st != errors.Ok {
				return st
			}

		// ----- logic and comparison ------------------------------------
		case bytecode.OpNot:
			vm.setPeek(0, Bool(vm.peek(0).Falsey()))
		case bytecode.OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(Bool(Equal(a, b)))
		case bytecode.OpNotEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(Bool(!Equal(a, b)))
		case bytecode.OpEq:
			// Peek-equality: the left operand stays for reuse.
			b := vm.pop()
			vm.push(Bool(Equal(vm.peek(0), b)))
		case bytecode.OpLess, bytecode.OpLessEqual, bytecode.OpGreater, bytecode.OpGreaterEqual:
			a, b := vm.peek(1), vm.peek(0)
			if !a.IsNumber() || !b.IsNumber() {
				return vm.runtimeError(errors.BadCompare, "operands must be numbers (got %s and %s).", a.TypeName(), b.TypeName())
			}
			vm.popN(2)
			x, y := a.AsNumber(), b.AsNumber()
			switch op {
			case bytecode.OpLess:
				vm.push(Bool(x < y))
			case bytecode.OpLessEqual:
				vm.push(Bool(x <= y))
			case bytecode.OpGreater:
				vm.push(Bool(x > y))
			case bytecode.OpGreaterEqual:
				vm.push(Bool(x >= y))
			}

		// ----- globals -------------------------------------------------
		case bytecode.OpDefineGlobal:
			if st := vm.defineGlobal(int(readByte())); st != errors.Ok {
				return st
			}
		case bytecode.OpDefineGlobalL:
			if st := vm.defineGlobal(readU24()); st != errors.Ok {
				return st
			}
		case bytecode.OpGetGlobal:
			if st := vm.getGlobal(int(readByte())); st != errors.Ok {
				return st
			}
		case bytecode.OpGetGlobalL:
			if st := vm.getGlobal(readU24()); st != errors.Ok {
				return st
			}
		case bytecode.OpSetGlobal:
			if st := vm.setGlobal(int(readByte())); st != errors.Ok {
				return st
			}
		case bytecode.OpSetGlobalL:
			if st := vm.setGlobal(readU24()); st != errors.Ok {
				return st
			}

		// ----- locals --------------------------------------------------
		case bytecode.OpGetLocal:
			vm.push(vm.stack[frame.slot(int(readByte()))])
		case bytecode.OpGetLocalL:
			vm.push(vm.stack[frame.slot(readU24())])
		case bytecode.OpSetLocal:
			vm.stack[frame.slot(int(readByte()))] = vm.peek(0)
		case bytecode.OpSetLocalL:
			vm.stack[frame.slot(readU24())] = vm.peek(0)

		// ----- upvalues ------------------------------------------------
		case bytecode.OpGetUpvalue:
			vm.push(frame.Closure.Upvals[readU24()].Get(vm))
		case bytecode.OpSetUpvalue:
			u := frame.Closure.Upvals[readU24()]
			if u.Fixed {
				return vm.runtimeError(errors.FixedAssign, "assignment to fixed variable.")
			}
			u.Set(vm, vm.peek(0))
		case bytecode.OpCloseUpval:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()
		case bytecode.OpCloseUpvalN:
			n := readU24()
			vm.closeUpvalues(vm.sp - n)
			vm.popN(n)

		// ----- jumps ---------------------------------------------------
		case bytecode.OpJmp:
			frame.ip += readU24()
		case bytecode.OpJmpAndPop:
			frame.ip += readU24()
			vm.pop()
		case bytecode.OpJmpIfFalse:
			off := readU24()
			if vm.peek(0).Falsey() {
				frame.ip += off
			}
		case bytecode.OpJmpIfFalsePop:
			off := readU24()
			if vm.pop().Falsey() {
				frame.ip += off
			}
		case bytecode.OpJmpIfFalseOrPop:
			// and: keep a falsy left operand, discard a truthy one.
			off := readU24()
			if vm.peek(0).Falsey() {
				frame.ip += off
			} else {
				vm.pop()
			}
		case bytecode.OpJmpIfFalseAndPop:
			// or: discard a falsy left operand, keep a truthy one.
			off := readU24()
			if vm.peek(0).Falsey() {
				vm.pop()
				frame.ip += off
			}
		case bytecode.OpLoop:
			frame.ip -= readU24()

		// ----- calls ---------------------------------------------------
		case bytecode.OpCallStart:
			vm.pushCallstart(vm.sp)
		case bytecode.OpRetStart:
			vm.pushRetstart(vm.sp)

		case bytecode.OpCall:
			retcnt := int(readByte())
			marker := vm.popCallstart()
			argc := vm.sp - marker
			pushed, st := vm.callValue(marker-1, argc, retcnt)
			if st != errors.Ok {
				return st
			}
			if pushed {
				reload()
			}

		case bytecode.OpInvoke:
			name := readStringL()
			retcnt := int(readByte())
			marker := vm.popCallstart()
			argc := vm.sp - marker
			pushed, st := vm.invoke(name, marker-1, argc, retcnt)
			if st != errors.Ok {
				return st
			}
			if pushed {
				reload()
			}

		case bytecode.OpInvokeIndex:
			retcnt := int(readByte())
			marker := vm.popCallstart()
			argc := vm.sp - marker
			// Key sits between the receiver and the arguments.
			key := vm.stack[marker-1]
			if !key.IsString() {
				return vm.runtimeError(errors.BadPropertyAccess, "value index must be a string (got %s).", key.TypeName())
			}
			// Shift the arguments down over the key slot.
			for i := 0; i < argc; i++ {
				vm.stack[marker-1+i] = vm.stack[marker+i]
			}
			vm.sp--
			pushed, st := vm.invoke(key.AsString(), marker-2, argc, retcnt)
			if st != errors.Ok {
				return st
			}
			if pushed {
				reload()
			}

		case bytecode.OpInvokeSuper:
			name := readStringL()
			retcnt := int(readByte())
			super := vm.pop().O.(*OClass)
			marker := vm.popCallstart()
			argc := vm.sp - marker
			m, found := super.Methods.Get(ObjVal(name))
			if !found {
				return vm.runtimeError(errors.UndefinedProperty, "undefined property '%s'.", name.Chars)
			}
			pushed, st := vm.callClosure(m.O.(*OClosure), nil, marker-1, argc, retcnt)
			if st != errors.Ok {
				return st
			}
			if pushed {
				reload()
			}

		case bytecode.OpRet:
			marker := vm.popRetstart()
			nres := vm.sp - marker
			want := frame.retcnt
			vm.closeUpvalues(frame.callee)
			// Slide the results down over the frame window.
			for i := 0; i < nres; i++ {
				vm.stack[frame.callee+i] = vm.stack[marker+i]
			}
			vm.sp = frame.callee + nres
			vm.adjustResults(frame.callee, nres, want)
			vm.fc--
			if vm.fc == stopFc {
				return errors.Ok
			}
			reload()

		case bytecode.OpTopRet:
			// End of a top-level script: nothing to return.
			vm.closeUpvalues(frame.callee)
			vm.sp = frame.callee
			vm.fc--
			if vm.fc == stopFc {
				return errors.Ok
			}
			reload()

		// ----- closures and classes ------------------------------------
		case bytecode.OpClosure:
			fn := readConstL().O.(*OFunction)
			closure := vm.newClosure(fn)
			vm.push(ObjVal(closure))
			for i := 0; i < fn.Upvalc; i++ {
				isLocal := readByte() == 1
				flags := readByte()
				idx := readU24()
				if isLocal {
					closure.Upvals[i] = vm.captureUpvalue(frame.slot(idx), flags&1 != 0)
				} else {
					closure.Upvals[i] = frame.Closure.Upvals[idx]
				}
			}

		case bytecode.OpClass:
			name := readStringL()
			vm.push(ObjVal(vm.newClass(name)))

		case bytecode.OpMethod:
			if st := vm.defineMethod(readString()); st != errors.Ok {
				return st
			}
		case bytecode.OpMethodL:
			if st := vm.defineMethod(readStringL()); st != errors.Ok {
				return st
			}

		case bytecode.OpOverload:
			slot := readByte()
			if slot != bytecode.OverloadInit {
				return vm.runtimeError(errors.BadArg, "overload slot %d is reserved.", slot)
			}
			class := vm.peek(1).O.(*OClass)
			class.Init = vm.peek(0).O.(*OClosure)

		case bytecode.OpInherit:
			superv := vm.peek(1)
			if !superv.IsObj() || superv.O.Header().Type != OtClass {
				return vm.runtimeError(errors.BadInherit, "can't inherit from non-class value (%s).", superv.TypeName())
			}
			super := superv.O.(*OClass)
			sub := vm.peek(0).O.(*OClass)
			super.Methods.Into(&sub.Methods)
			sub.Init = super.Init
			vm.pop()

		case bytecode.OpGetProperty:
			if st := vm.getProperty(readString()); st != errors.Ok {
				return st
			}
		case bytecode.OpGetPropertyL:
			if st := vm.getProperty(readStringL()); st != errors.Ok {
				return st
			}
		case bytecode.OpSetProperty:
			if st := vm.setProperty(readString()); st != errors.Ok {
				return st
			}
		case bytecode.OpSetPropertyL:
			if st := vm.setProperty(readStringL()); st != errors.Ok {
				return st
			}

		case bytecode.OpGetSuper:
			if st := vm.getSuper(readString()); st != errors.Ok {
				return st
			}
		case bytecode.OpGetSuperL:
			if st := vm.getSuper(readStringL()); st != errors.Ok {
				return st
			}

		case bytecode.OpIndex:
			key := vm.peek(0)
			if !key.IsString() {
				return vm.runtimeError(errors.BadPropertyAccess, "value index must be a string (got %s).", key.TypeName())
			}
			vm.pop()
			if st := vm.getProperty(key.AsString()); st != errors.Ok {
				return st
			}

		case bytecode.OpSetIndex:
			// [receiver, key, value] -> [value]
			key := vm.peek(1)
			if !key.IsString() {
				return vm.runtimeError(errors.BadPropertyAccess, "value index must be a string (got %s).", key.TypeName())
			}
			val := vm.peek(0)
			recv := vm.peek(2)
			inst, ok := instanceOf(recv)
			if !ok {
				return vm.runtimeError(errors.BadPropertyAccess, "only instances have properties (got %s).", recv.TypeName())
			}
			inst.Fields.Insert(ObjVal(key.AsString()), val)
			vm.popN(3)
			vm.push(val)

		// ----- iteration -----------------------------------------------
		case bytecode.OpForeachPrep:
			vars := int(readByte())
			iter := vm.stack[vm.sp-vars-1]
			control := vm.stack[vm.sp-vars]
			vm.push(iter)
			calleeIdx := vm.sp - 1
			vm.push(control)
			pushed, st := vm.callValue(calleeIdx, 1, vars)
			if st != errors.Ok {
				return st
			}
			if pushed {
				reload()
			}

		case bytecode.OpForeach:
			vars := int(readByte())
			resBase := vm.sp - vars
			cont := !vm.stack[resBase].IsNil()
			for i := 0; i < vars; i++ {
				vm.stack[resBase-vars+i] = vm.stack[resBase+i]
			}
			vm.sp = resBase
			vm.push(Bool(cont))

		// ----- misc ----------------------------------------------------
		case bytecode.OpValist:
			n := int(readByte())
			base := frame.callee + frame.function().Arity + 1
			if n == 0 {
				n = frame.vacnt
			}
			for i := 0; i < n; i++ {
				if i < frame.vacnt {
					vm.push(vm.stack[base+i])
				} else {
					vm.push(Nil())
				}
			}

		case bytecode.OpPrint:
			s, st := vm.displayValue(vm.peek(0))
			if st != errors.Ok {
				return st
			}
			vm.pop()
			fmt.Fprintln(vm.stdout, s)

		default:
			return vm.runtimeError(errors.BadArg, "unknown opcode %d.", byte(op))
		}
	}
}

func instanceOf(v Value) (*OInstance, bool) {
	if !v.IsObj() {
		return nil, false
	}
	i, ok := v.O.(*OInstance)
	return i, ok
}

// binaryNum handles the numeric-only binary operators.
func (vm *VM) binaryNum(op bytecode.OpCode) errors.Status {
	a, b := vm.peek(1), vm.peek(0)
	if !a.IsNumber() || !b.IsNumber() {
		return vm.runtimeError(errors.BadBinop, "operands must be numbers (got %s and %s).", a.TypeName(), b.TypeName())
	}
	x, y := a.AsNumber(), b.AsNumber()
	var r float64
	switch op {
	case bytecode.OpSub:
		r = x - y
	case bytecode.OpMul:
		r = x * y
	case bytecode.OpDiv:
		r = x / y
	case bytecode.OpMod:
		r = flooredMod(x, y)
	case bytecode.OpPow:
		r = math.Pow(x, y)
	}
	vm.popN(2)
	vm.push(Number(r))
	return errors.Ok
}

// flooredMod is floored modulo over the truncated-to-integer operands.
func flooredMod(x, y float64) float64 {
	a, b := math.Trunc(x), math.Trunc(y)
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// ---------------------------------------------------------------------
// Opcode helpers

func (vm *VM) defineGlobal(idx int) errors.Status {
	g := &vm.globalVals[idx]
	if !g.Value.IsEmpty() {
		return vm.runtimeError(errors.GlobalRedef, "redefinition of global '%s'.", vm.globalNames[idx].Chars)
	}
	g.Value = vm.pop()
	return errors.Ok
}

func (vm *VM) getGlobal(idx int) errors.Status {
	g := vm.globalVals[idx]
	if g.Value.IsEmpty() {
		return vm.runtimeError(errors.UndefinedGlobal, "undefined global '%s'.", vm.globalNames[idx].Chars)
	}
	vm.push(g.Value)
	return errors.Ok
}

func (vm *VM) setGlobal(idx int) errors.Status {
	g := &vm.globalVals[idx]
	if g.Value.IsEmpty() {
		return vm.runtimeError(errors.UndefinedGlobal, "undefined global '%s'.", vm.globalNames[idx].Chars)
	}
	if g.Fixed {
		return vm.runtimeError(errors.FixedAssign, "assignment to fixed global '%s'.", vm.globalNames[idx].Chars)
	}
	g.Value = vm.peek(0)
	return errors.Ok
}

func (vm *VM) defineMethod(name *OString) errors.Status {
	class := vm.peek(1).O.(*OClass)
	method := vm.peek(0)
	class.Methods.Insert(ObjVal(name), method)
	// The initializer cache always equals the method named __init__;
	// identity compare against the boot-interned string.
	if name == vm.ssInit {
		class.Init = method.O.(*OClosure)
	}
	vm.pop()
	return errors.Ok
}

func (vm *VM) getProperty(name *OString) errors.Status {
	recv := vm.peek(0)
	inst, ok := instanceOf(recv)
	if !ok {
		return vm.runtimeError(errors.BadPropertyAccess, "only instances have properties (got %s).", recv.TypeName())
	}
	if v, found := inst.Fields.Get(ObjVal(name)); found {
		vm.pop()
		vm.push(v)
		return errors.Ok
	}
	if m, found := inst.Class.Methods.Get(ObjVal(name)); found {
		bound := vm.newBoundMethod(recv, m.O.(*OClosure))
		vm.pop()
		vm.push(ObjVal(bound))
		return errors.Ok
	}
	return vm.runtimeError(errors.UndefinedProperty, "undefined property '%s'.", name.Chars)
}

func (vm *VM) setProperty(name *OString) errors.Status {
	// [receiver, value] -> [value]
	recv := vm.peek(1)
	inst, ok := instanceOf(recv)
	if !ok {
		return vm.runtimeError(errors.BadPropertyAccess, "only instances have properties (got %s).", recv.TypeName())
	}
	val := vm.peek(0)
	inst.Fields.Insert(ObjVal(name), val)
	vm.popN(2)
	vm.push(val)
	return errors.Ok
}

func (vm *VM) getSuper(name *OString) errors.Status {
	// [receiver, superclass] -> [bound method]
	super := vm.pop().O.(*OClass)
	m, found := super.Methods.Get(ObjVal(name))
	if !found {
		return vm.runtimeError(errors.UndefinedProperty, "undefined property '%s'.", name.Chars)
	}
	bound := vm.newBoundMethod(vm.peek(0), m.O.(*OClosure))
	vm.pop()
	vm.push(ObjVal(bound))
	return errors.Ok
}

// invoke is the fused property access + call.
func (vm *VM) invoke(name *OString, calleeIdx, argc, retcnt int) (bool, errors.Status) {
	recv := vm.stack[calleeIdx]
	inst, ok := instanceOf(recv)
	if !ok {
		return false, vm.runtimeError(errors.BadPropertyAccess, "only instances have properties (got %s).", recv.TypeName())
	}
	// A field shadows a method and is called as a plain value; the
	// bound-method allocation is skipped either way.
	if v, found := inst.Fields.Get(ObjVal(name)); found {
		vm.stack[calleeIdx] = v
		return vm.callValue(calleeIdx, argc, retcnt)
	}
	m, found := inst.Class.Methods.Get(ObjVal(name))
	if !found {
		return false, vm.runtimeError(errors.UndefinedProperty, "undefined property '%s'.", name.Chars)
	}
	return vm.callClosure(m.O.(*OClosure), nil, calleeIdx, argc, retcnt)
}
