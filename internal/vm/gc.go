package vm

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"skooma/internal/bytecode"
)

// GC tunables. The collector runs whenever live bytes cross gcNext; after
// a sweep the threshold is recomputed from what survived.
const (
	gcMinHeap    = 1 << 20
	gcGrowFactor = 2
)

// allocObj links a fresh object into the global chain and charges its
// size to the accounting. May run a full collection first, so the caller
// must have pinned every not-yet-reachable object.
func (vm *VM) allocObj(o Obj, size uint64) {
	vm.bytesAllocated += size
	if vm.gcStress || vm.bytesAllocated > vm.gcNext {
		vm.CollectGarbage()
	}
	h := o.Header()
	h.Next = vm.objects
	vm.objects = o
	vm.objCount++
}

func (vm *VM) newString(chars string, hash uint64) *OString {
	s := &OString{Chars: chars, Hash: hash}
	s.O.Type = OtString
	vm.allocObj(s, sizeString+uint64(len(chars)))
	return s
}

// InternString returns the unique String for the given byte sequence.
func (vm *VM) InternString(chars string) *OString {
	hash := HashString(chars)
	if s := vm.strings.FindString(chars, hash); s != nil {
		return s
	}
	s := vm.newString(chars, hash)
	// Pin across the insert: table growth may allocate and collect.
	vm.pushTempRoot(ObjVal(s))
	vm.strings.Insert(ObjVal(s), Nil())
	vm.popTempRoot()
	return s
}

// NewFunction creates an empty function under construction. The compiler
// holds it as a GC root until compilation finishes.
func (vm *VM) NewFunction() *OFunction {
	f := &OFunction{}
	f.O.Type = OtFunction
	vm.allocObj(f, sizeFunction)
	return f
}

func (vm *VM) newClosure(fn *OFunction) *OClosure {
	c := &OClosure{Fn: fn, Upvals: make([]*OUpvalue, fn.Upvalc)}
	c.O.Type = OtClosure
	vm.allocObj(c, sizeClosure+uint64(fn.Upvalc)*8)
	return c
}

func (vm *VM) newUpvalue(location int) *OUpvalue {
	u := &OUpvalue{Location: location, Closed: Nil()}
	u.O.Type = OtUpvalue
	vm.allocObj(u, sizeUpvalue)
	return u
}

func (vm *VM) newNative(name *OString, fn CFunction, arity int, isva bool) *ONative {
	n := &ONative{Name: name, Fn: fn, Arity: arity, IsVa: isva}
	n.O.Type = OtNative
	vm.allocObj(n, sizeNative)
	return n
}

func (vm *VM) newClass(name *OString) *OClass {
	c := &OClass{Name: name}
	c.O.Type = OtClass
	vm.allocObj(c, sizeClass)
	return c
}

func (vm *VM) newInstance(class *OClass) *OInstance {
	i := &OInstance{Class: class}
	i.O.Type = OtInstance
	vm.allocObj(i, sizeInstance)
	return i
}

func (vm *VM) newBoundMethod(receiver Value, method *OClosure) *OBoundMethod {
	b := &OBoundMethod{Receiver: receiver, Method: method}
	b.O.Type = OtBoundMethod
	vm.allocObj(b, sizeBoundMethod)
	return b
}

// pushTempRoot pins a value that is not yet reachable from any root.
func (vm *VM) pushTempRoot(v Value) { vm.tempRoots = append(vm.tempRoots, v) }
func (vm *VM) popTempRoot()         { vm.tempRoots = vm.tempRoots[:len(vm.tempRoots)-1] }

func (vm *VM) markValue(v Value) {
	if v.IsObj() {
		vm.MarkObj(v.O)
	}
}

// MarkObj grays a white object. Strings and natives have no outgoing
// object references besides their name and are blackened immediately.
func (vm *VM) MarkObj(o Obj) {
	if o == nil {
		return
	}
	h := o.Header()
	if h.Marked {
		return
	}
	h.Marked = true
	switch h.Type {
	case OtString:
		return
	case OtNative:
		n := o.(*ONative)
		if n.Name != nil {
			n.Name.O.Marked = true
		}
		return
	}
	vm.grayStack = append(vm.grayStack, o)
}

func (vm *VM) markTable(t *Table) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.Key.IsEmpty() || e.Key.IsNil() {
			continue
		}
		vm.markValue(e.Key)
		vm.markValue(e.Val)
	}
}

// blacken marks all outgoing references of a gray object.
func (vm *VM) blacken(o Obj) {
	switch obj := o.(type) {
	case *OUpvalue:
		vm.markValue(obj.Closed)
	case *OFunction:
		if obj.Name != nil {
			vm.MarkObj(obj.Name)
		}
		for _, c := range obj.Chunk.Constants {
			if v, ok := c.(Value); ok {
				vm.markValue(v)
			}
		}
	case *OClosure:
		vm.MarkObj(obj.Fn)
		for _, u := range obj.Upvals {
			if u != nil {
				vm.MarkObj(u)
			}
		}
	case *OClass:
		vm.MarkObj(obj.Name)
		vm.markTable(&obj.Methods)
		if obj.Init != nil {
			vm.MarkObj(obj.Init)
		}
	case *OInstance:
		vm.MarkObj(obj.Class)
		vm.markTable(&obj.Fields)
	case *OBoundMethod:
		vm.markValue(obj.Receiver)
		vm.MarkObj(obj.Method)
	}
}

func (vm *VM) markRoots() {
	for i := 0; i < vm.sp; i++ {
		vm.markValue(vm.stack[i])
	}
	for i := 0; i < vm.fc; i++ {
		f := &vm.frames[i]
		if f.Closure != nil {
			vm.MarkObj(f.Closure)
		} else if f.Fn != nil {
			vm.MarkObj(f.Fn)
		}
	}
	for u := vm.openUpvals; u != nil; u = u.NextOpen {
		vm.MarkObj(u)
	}
	// Global names, their index values and the live globals themselves.
	vm.markTable(&vm.globalIDs)
	for i := range vm.globalVals {
		vm.markValue(vm.globalVals[i].Value)
	}
	vm.markTable(&vm.loaded)
	// The boot-interned static strings: interning is weak, so without
	// this they would be swept whenever nothing else holds them and the
	// cached pointers would go stale.
	vm.MarkObj(vm.ssInit)
	vm.MarkObj(vm.ssDisplay)
	for _, v := range vm.tempRoots {
		vm.markValue(v)
	}
	// While a compilation is in progress the functions under
	// construction are roots too.
	if vm.compilerRoots != nil {
		vm.compilerRoots(vm.MarkObj)
	}
}

// removeWeakInterns drops intern-table entries whose key is still white
// after marking; interning holds its strings weakly.
func (vm *VM) removeWeakInterns() {
	for i := range vm.strings.entries {
		e := &vm.strings.entries[i]
		if e.Key.IsObj() && !e.Key.O.Header().Marked {
			vm.strings.Remove(e.Key)
		}
	}
}

func (vm *VM) sweep() {
	var prev Obj
	cur := vm.objects
	for cur != nil {
		h := cur.Header()
		if h.Marked {
			h.Marked = false
			prev = cur
			cur = h.Next
			continue
		}
		unreached := cur
		cur = h.Next
		if prev != nil {
			prev.Header().Next = cur
		} else {
			vm.objects = cur
		}
		vm.freeObj(unreached)
	}
}

// freeObj unlinks an object's payload so the host GC can reclaim it and
// credits the byte accounting.
func (vm *VM) freeObj(o Obj) {
	h := o.Header()
	h.Next = nil
	switch obj := o.(type) {
	case *OString:
		vm.bytesAllocated -= sizeString + uint64(len(obj.Chars))
	case *OFunction:
		vm.bytesAllocated -= sizeFunction
		obj.Chunk = bytecode.Chunk{}
	case *OClosure:
		vm.bytesAllocated -= sizeClosure + uint64(len(obj.Upvals))*8
		obj.Upvals = nil
	case *ONative:
		vm.bytesAllocated -= sizeNative
	case *OUpvalue:
		vm.bytesAllocated -= sizeUpvalue
		obj.Closed = Nil()
	case *OClass:
		vm.bytesAllocated -= sizeClass
		obj.Methods = Table{}
		obj.Init = nil
	case *OInstance:
		vm.bytesAllocated -= sizeInstance
		obj.Fields = Table{}
	case *OBoundMethod:
		vm.bytesAllocated -= sizeBoundMethod
	}
	vm.objCount--
}

// CollectGarbage runs a full stop-the-world mark-and-sweep cycle.
func (vm *VM) CollectGarbage() {
	before := vm.bytesAllocated
	if vm.gcDebug {
		fmt.Fprintf(os.Stderr, "-- gc start (%s in use)\n", humanize.Bytes(before))
	}

	vm.markRoots()
	for len(vm.grayStack) > 0 {
		o := vm.grayStack[len(vm.grayStack)-1]
		vm.grayStack = vm.grayStack[:len(vm.grayStack)-1]
		vm.blacken(o)
	}
	vm.removeWeakInterns()
	vm.sweep()

	vm.gcNext = vm.bytesAllocated * gcGrowFactor
	if vm.gcNext < gcMinHeap {
		vm.gcNext = gcMinHeap
	}

	if vm.gcDebug {
		fmt.Fprintf(os.Stderr, "-- gc end: freed %s, %s in use, next at %s\n",
			humanize.Bytes(before-vm.bytesAllocated),
			humanize.Bytes(vm.bytesAllocated),
			humanize.Bytes(vm.gcNext))
	}
}

// BytesAllocated reports the accounted live heap size.
func (vm *VM) BytesAllocated() uint64 { return vm.bytesAllocated }

// ObjCount reports how many objects are linked in the heap chain.
func (vm *VM) ObjCount() int { return vm.objCount }

// SetGCStress makes every allocation trigger a collection (debug mode).
func (vm *VM) SetGCStress(on bool) { vm.gcStress = on }

// SetGCDebug toggles collection logging.
func (vm *VM) SetGCDebug(on bool) { vm.gcDebug = on }

// SetCompilerRoots installs the callback the compiler uses to expose the
// functions it is constructing as GC roots. Pass nil when done.
func (vm *VM) SetCompilerRoots(f func(mark func(Obj))) { vm.compilerRoots = f }
