package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skooma/internal/errors"
)

func TestPushAndInspect(t *testing.T) {
	machine := New()
	machine.PushNil()
	machine.PushBool(true)
	machine.PushNumber(3.5)
	machine.PushString("hi")

	assert.Equal(t, 4, machine.GetTop())
	assert.True(t, machine.IsNil(0))
	assert.True(t, machine.IsBool(1))
	assert.True(t, machine.IsNumber(2))
	assert.True(t, machine.IsString(3))

	// Negative indices count from the top.
	assert.True(t, machine.IsString(-1))
	assert.True(t, machine.IsNil(-4))

	b, ok := machine.GetBool(1)
	require.True(t, ok)
	assert.True(t, b)
	n, ok := machine.GetNumber(2)
	require.True(t, ok)
	assert.Equal(t, 3.5, n)
	s, ok := machine.GetString(-1)
	require.True(t, ok)
	assert.Equal(t, "hi", s)

	_, ok = machine.GetNumber(3)
	assert.False(t, ok, "type mismatch reports failure")
}

func TestTypeNamesAPI(t *testing.T) {
	machine := New()
	machine.PushNumber(1)
	assert.Equal(t, "number", machine.TypeName(-1))
	assert.Equal(t, "none", machine.TypeName(99))
}

func TestSetTopAndPop(t *testing.T) {
	machine := New()
	machine.PushNumber(1)
	machine.PushNumber(2)
	machine.PushNumber(3)

	machine.Pop(1)
	assert.Equal(t, 2, machine.GetTop())

	machine.SetTop(4)
	assert.Equal(t, 4, machine.GetTop())
	assert.True(t, machine.IsNil(-1), "growth fills with nil")

	machine.SetTop(0)
	assert.Equal(t, 0, machine.GetTop())
}

func TestStackSurgery(t *testing.T) {
	machine := New()
	machine.PushNumber(1)
	machine.PushNumber(2)
	machine.PushNumber(3)

	machine.Remove(1) // [1, 3]
	assert.Equal(t, 2, machine.GetTop())
	n, _ := machine.GetNumber(1)
	assert.Equal(t, 3.0, n)

	machine.PushNumber(9)
	machine.Insert(0) // [9, 1, 3]
	n, _ = machine.GetNumber(0)
	assert.Equal(t, 9.0, n)

	machine.PushNumber(7)
	machine.Replace(0) // [7, 1, 3]
	n, _ = machine.GetNumber(0)
	assert.Equal(t, 7.0, n)

	machine.Copy(0, 2) // [7, 1, 7]
	n, _ = machine.GetNumber(2)
	assert.Equal(t, 7.0, n)
}

func TestRawLen(t *testing.T) {
	machine := New()
	machine.PushString("abcd")
	assert.Equal(t, 4, machine.RawLen(-1))
	assert.Equal(t, 4, machine.StrLen(-1))
}

func TestGlobalsAPI(t *testing.T) {
	machine := New()
	machine.PushNumber(42)
	require.Equal(t, errors.Ok, machine.SetGlobal("answer", false))

	assert.True(t, machine.PushGlobal("answer"))
	n, _ := machine.GetNumber(-1)
	assert.Equal(t, 42.0, n)

	assert.False(t, machine.PushGlobal("missing"))
	assert.Equal(t, -1, machine.GetGlobal("missing"))
}

func TestFixedGlobal(t *testing.T) {
	machine := New()
	machine.PushNumber(1)
	require.Equal(t, errors.Ok, machine.SetGlobal("locked", true))

	machine.PushNumber(2)
	assert.Equal(t, errors.FixedAssign, machine.SetGlobal("locked", false))
}

func TestCallNative(t *testing.T) {
	machine := New()
	machine.PushCFn(func(v *VM) int {
		a, _ := v.GetNumber(0)
		b, _ := v.GetNumber(1)
		v.PushNumber(a + b)
		return 1
	}, "add", 2, false)
	machine.PushNumber(20)
	machine.PushNumber(22)

	st := machine.PCall(2, 1)
	require.Equal(t, errors.Ok, st)
	n, ok := machine.GetNumber(-1)
	require.True(t, ok)
	assert.Equal(t, 42.0, n)
}

func TestNativeMultiReturn(t *testing.T) {
	machine := New()
	machine.PushCFn(func(v *VM) int {
		v.PushNumber(1)
		v.PushNumber(2)
		v.PushNumber(3)
		return 3
	}, "three", 0, false)

	base := machine.GetTop() - 1
	st := machine.PCall(0, MulRet)
	require.Equal(t, errors.Ok, st)
	assert.Equal(t, base+3, machine.GetTop())
}

func TestNativeRetcntPadsAndTruncates(t *testing.T) {
	machine := New()
	one := func(v *VM) int {
		v.PushNumber(7)
		return 1
	}

	machine.PushCFn(one, "one", 0, false)
	require.Equal(t, errors.Ok, machine.PCall(0, 3))
	assert.Equal(t, 3, machine.GetTop())
	assert.True(t, machine.IsNil(-1), "missing results pad with nil")
	machine.SetTop(0)

	machine.PushCFn(one, "one", 0, false)
	require.Equal(t, errors.Ok, machine.PCall(0, 0))
	assert.Equal(t, 0, machine.GetTop(), "retcnt 0 discards results")
}

func TestPCallArityError(t *testing.T) {
	machine := New()
	machine.PushCFn(func(v *VM) int { return 0 }, "f", 2, false)
	machine.PushNumber(1)

	st := machine.PCall(1, 0)
	assert.Equal(t, errors.ArgcMismatch, st)
	msg, ok := machine.GetString(-1)
	require.True(t, ok, "error message is left on the stack")
	assert.Contains(t, msg, "expected 2 arguments but got 1")
}

func TestPCallNotCallable(t *testing.T) {
	machine := New()
	machine.PushNumber(5)
	st := machine.PCall(0, 0)
	assert.Equal(t, errors.NotCallable, st)
	msg, _ := machine.GetString(-1)
	assert.Contains(t, msg, "non-callable")
}

func TestNativeRaisesError(t *testing.T) {
	machine := New()
	machine.PushCFn(func(v *VM) int {
		v.PushString("boom")
		v.Error(errors.BadArg)
		return 0
	}, "thrower", 0, false)

	st := machine.PCall(0, 0)
	assert.Equal(t, errors.BadArg, st)
	msg, _ := machine.GetString(-1)
	assert.Equal(t, "boom", msg)
}

func TestVariadicNativeArity(t *testing.T) {
	machine := New()
	machine.PushCFn(func(v *VM) int {
		v.PushNumber(float64(v.GetTop()))
		return 1
	}, "argc", 1, true)
	machine.PushNumber(1)
	machine.PushNumber(2)
	machine.PushNumber(3)

	require.Equal(t, errors.Ok, machine.PCall(3, 1))
	n, _ := machine.GetNumber(-1)
	assert.Equal(t, 3.0, n)

	machine.SetTop(0)
	machine.PushCFn(func(v *VM) int { return 0 }, "argc", 1, true)
	assert.Equal(t, errors.ArgcMin, machine.PCall(0, 0))
}

func TestEnsureStack(t *testing.T) {
	machine := New()
	assert.True(t, machine.EnsureStack(100))
	assert.False(t, machine.EnsureStack(StackMax+1))
}

func TestPushMethodAndGetField(t *testing.T) {
	machine := New()
	class := machine.newClass(machine.InternString("Box"))
	inst := machine.newInstance(class)
	machine.push(ObjVal(inst))

	machine.PushNumber(5)
	require.Equal(t, errors.Ok, machine.SetField(0, "size"))
	assert.Equal(t, 1, machine.RawLen(0))

	tag := machine.GetField(0, "size")
	assert.NotEqual(t, -1, tag)
	n, _ := machine.GetNumber(-1)
	assert.Equal(t, 5.0, n)

	assert.Equal(t, -1, machine.GetField(0, "missing"))
	assert.False(t, machine.PushMethod(0, "nope"))
}

func TestSetPanicHandler(t *testing.T) {
	machine := New()
	called := false
	machine.SetPanic(func(v *VM) int {
		called = true
		return 0
	})
	machine.PushNumber(1)
	machine.Call(0, 0) // not callable, unprotected
	assert.True(t, called)
	prev := machine.SetPanic(nil)
	assert.NotNil(t, prev)

	called = false
	machine.SetPanic(prev)
	machine.PushNumber(1)
	machine.PCall(0, 0)
	assert.False(t, called, "protected calls bypass the panic handler")
}
