package vm

import (
	"fmt"

	"skooma/internal/bytecode"
)

// OType tags a heap object kind.
type OType uint8

const (
	OtString OType = iota
	OtFunction
	OtClosure
	OtNative
	OtUpvalue
	OtClass
	OtInstance
	OtBoundMethod
)

var otypeNames = [...]string{
	OtString:      "string",
	OtFunction:    "function",
	OtClosure:     "closure",
	OtNative:      "native",
	OtUpvalue:     "upvalue",
	OtClass:       "class",
	OtInstance:    "instance",
	OtBoundMethod: "method",
}

func (t OType) Name() string { return otypeNames[t] }

// O is the object header every heap object embeds: kind tag, GC mark bit
// and the link in the global object chain. The original packs all three
// into 64 bits; here it is a plain struct.
type O struct {
	Type   OType
	Marked bool
	Next   Obj
}

func (o *O) Header() *O { return o }

// Obj is a reference to any heap object. The header is reachable in O(1)
// without knowing the concrete kind.
type Obj interface {
	Header() *O
}

// OString is an interned immutable string. Hash is precomputed at
// interning time.
type OString struct {
	O
	Chars string
	Hash  uint64
}

// OFunction is compiled bytecode plus its metadata. Functions are created
// only by the compiler.
type OFunction struct {
	O
	Name   *OString
	Arity  int
	Upvalc int
	IsVa   bool
	IsInit bool
	Chunk  bytecode.Chunk
}

// UpvalCount satisfies bytecode.FuncConst for the disassembler.
func (f *OFunction) UpvalCount() int { return f.Upvalc }

// OClosure pairs a function with its captured upvalues.
type OClosure struct {
	O
	Fn     *OFunction
	Upvals []*OUpvalue
}

// OUpvalue is the captured-variable box. While open, Location is the
// index of the live value-stack slot; once closed, Location is -1 and
// Closed owns the value. NextOpen threads the open-upvalue list in
// decreasing stack order.
type OUpvalue struct {
	O
	Location int
	Closed   Value
	Fixed    bool
	NextOpen *OUpvalue
}

const upvalClosed = -1

func (u *OUpvalue) IsOpen() bool { return u.Location != upvalClosed }

// Get reads through the box.
func (u *OUpvalue) Get(vm *VM) Value {
	if u.IsOpen() {
		return vm.stack[u.Location]
	}
	return u.Closed
}

// Set writes through the box.
func (u *OUpvalue) Set(vm *VM, v Value) {
	if u.IsOpen() {
		vm.stack[u.Location] = v
	} else {
		u.Closed = v
	}
}

// CFunction is the host function signature: it reads its arguments
// through the embedding API and returns how many results it pushed.
type CFunction func(vm *VM) int

// ONative wraps a host function.
type ONative struct {
	O
	Name  *OString
	Fn    CFunction
	Arity int
	IsVa  bool
}

// OClass holds the methods table and a cached initializer for fast
// construction.
type OClass struct {
	O
	Name    *OString
	Methods Table
	Init    *OClosure
}

// OInstance is a class instance; the fields table uses only String keys.
type OInstance struct {
	O
	Class  *OClass
	Fields Table
}

// OBoundMethod is a method extracted from an instance: receiver plus
// closure.
type OBoundMethod struct {
	O
	Receiver Value
	Method   *OClosure
}

// Approximate per-kind heap sizes fed to the GC byte accounting.
const (
	sizeO           = 24
	sizeString      = sizeO + 24
	sizeFunction    = sizeO + 96
	sizeClosure     = sizeO + 32
	sizeNative      = sizeO + 40
	sizeUpvalue     = sizeO + 40
	sizeClass       = sizeO + 64
	sizeInstance    = sizeO + 48
	sizeBoundMethod = sizeO + 32
	sizeEntry       = 40
)

func objToString(o Obj) string {
	switch obj := o.(type) {
	case *OString:
		return obj.Chars
	case *OFunction:
		if obj.Name == nil {
			return "<script>"
		}
		return fmt.Sprintf("<fn %s>", obj.Name.Chars)
	case *OClosure:
		if obj.Fn.Name == nil {
			return "<script>"
		}
		return fmt.Sprintf("<fn %s>", obj.Fn.Name.Chars)
	case *ONative:
		return fmt.Sprintf("<native %s>", obj.Name.Chars)
	case *OUpvalue:
		return "upvalue"
	case *OClass:
		return obj.Name.Chars
	case *OInstance:
		return fmt.Sprintf("%s instance", obj.Class.Name.Chars)
	case *OBoundMethod:
		return fmt.Sprintf("<fn %s>", obj.Method.Fn.Name.Chars)
	default:
		return "object"
	}
}
