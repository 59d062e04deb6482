package vm

import (
	"fmt"
	"math"
	"strconv"
)

// ValueKind tags the Value union.
type ValueKind uint8

const (
	ValNil ValueKind = iota
	ValBool
	ValNumber
	ValEmpty // internal sentinel: table hole / uninitialized global
	ValObj
)

// Value is the tagged union used everywhere in the runtime. Numbers are
// IEEE-754 doubles; booleans reuse the number payload.
type Value struct {
	Kind ValueKind
	N    float64
	O    Obj
}

func Nil() Value   { return Value{Kind: ValNil} }
func Empty() Value { return Value{Kind: ValEmpty} }

func Bool(b bool) Value {
	v := Value{Kind: ValBool}
	if b {
		v.N = 1
	}
	return v
}

func Number(n float64) Value { return Value{Kind: ValNumber, N: n} }
func ObjVal(o Obj) Value     { return Value{Kind: ValObj, O: o} }

func (v Value) IsNil() bool    { return v.Kind == ValNil }
func (v Value) IsBool() bool   { return v.Kind == ValBool }
func (v Value) IsNumber() bool { return v.Kind == ValNumber }
func (v Value) IsEmpty() bool  { return v.Kind == ValEmpty }
func (v Value) IsObj() bool    { return v.Kind == ValObj }

func (v Value) AsBool() bool      { return v.N != 0 }
func (v Value) AsNumber() float64 { return v.N }

func (v Value) IsString() bool {
	return v.Kind == ValObj && v.O.Header().Type == OtString
}

func (v Value) AsString() *OString { return v.O.(*OString) }

// Falsey: nil and false are falsy, everything else is truthy. This is
// the only implicit coercion in the language.
func (v Value) Falsey() bool {
	return v.Kind == ValNil || (v.Kind == ValBool && v.N == 0)
}

// Equal compares two values. Strings compare by interning identity, all
// other objects by identity.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ValNil, ValEmpty:
		return true
	case ValBool:
		return a.AsBool() == b.AsBool()
	case ValNumber:
		return a.N == b.N
	case ValObj:
		return a.O == b.O
	default:
		return false
	}
}

// NumberToString renders a number the way the runtime prints it: integral
// doubles print without a fractional part.
func NumberToString(n float64) string {
	if n == math.Trunc(n) && !math.IsInf(n, 0) && math.Abs(n) < 1e17 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// String renders the value for print and tostr. Instances with a
// __display__ method are handled by the VM, not here.
func (v Value) String() string {
	switch v.Kind {
	case ValNil:
		return "nil"
	case ValEmpty:
		return "empty"
	case ValBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case ValNumber:
		return NumberToString(v.N)
	case ValObj:
		return objToString(v.O)
	default:
		return fmt.Sprintf("value(%d)", v.Kind)
	}
}

// TypeName is the user-visible type name of a value.
func (v Value) TypeName() string {
	switch v.Kind {
	case ValNil:
		return "nil"
	case ValBool:
		return "bool"
	case ValNumber:
		return "number"
	case ValObj:
		return v.O.Header().Type.Name()
	default:
		return "empty"
	}
}
