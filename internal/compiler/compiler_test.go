package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skooma/internal/bytecode"
	"skooma/internal/vm"
)

func compileErr(t *testing.T, source string) string {
	machine := vm.New()
	fn, err := Compile(machine, source, "test")
	require.Error(t, err)
	require.Nil(t, fn)
	return err.Error()
}

func compileOk(t *testing.T, source string) *vm.OFunction {
	machine := vm.New()
	fn, err := Compile(machine, source, "test")
	require.NoError(t, err)
	require.NotNil(t, fn)
	return fn
}

func TestCompileExpressionStatement(t *testing.T) {
	fn := compileOk(t, "1 + 2;")
	code := fn.Chunk.Code
	require.NotEmpty(t, code)
	assert.Equal(t, bytecode.OpConst, bytecode.OpCode(code[0]))
	// Trailing implicit script return.
	assert.Equal(t, bytecode.OpTopRet, bytecode.OpCode(code[len(code)-1]))
}

func TestConstantDedup(t *testing.T) {
	fn := compileOk(t, `var a = 1; var b = 1; var c = "s"; var d = "s";`)
	nums, strs := 0, 0
	for _, c := range fn.Chunk.Constants {
		v := c.(vm.Value)
		if v.IsNumber() {
			nums++
		}
		if v.IsString() {
			strs++
		}
	}
	assert.Equal(t, 1, nums, "identical number literals share a pool slot")
	assert.Equal(t, 1, strs, "identical string literals share a pool slot")
}

func TestErrorFormat(t *testing.T) {
	msg := compileErr(t, "var 1 = 2;")
	assert.Contains(t, msg, "[line 1] Error at '1': Expect variable name.")
}

func TestErrorAtEnd(t *testing.T) {
	msg := compileErr(t, "1 +")
	assert.Contains(t, msg, "at end")
}

func TestPanicModeSuppressesCascades(t *testing.T) {
	// One bad statement, then a clean one; only a single diagnostic.
	msg := compileErr(t, "var = 1;\nvar ok = 2;")
	assert.Equal(t, 1, strings.Count(msg, "Error"))
}

func TestSynchronizeRecoversPerStatement(t *testing.T) {
	msg := compileErr(t, "var = 1;\nvar = 2;")
	assert.Equal(t, 2, strings.Count(msg, "[line"), "one diagnostic per statement after resync")
}

func TestSemanticErrors(t *testing.T) {
	tests := []struct {
		name, src, want string
	}{
		{"return at top level", "return 1;", "Can't return from top-level code."},
		{"self outside class", "print self;", "Can't use 'self' outside of a class."},
		{"super outside class", "print super.m;", "Can't use 'super' outside of a class."},
		{"super without superclass", "class A { m() { return super.m; } }", "Can't use 'super' in a class with no superclass."},
		{"self inherit", "class A : A {}", "A class can't inherit from itself."},
		{"initializer returns value", "class A { __init__() { return 1; } }", "Can't return a value from an initializer."},
		{"local redeclaration", "{ var a = 1; var a = 2; }", "Already a variable with this name in this scope."},
		{"own initializer", "{ var a = a; }", "Can't read local variable in its own initializer."},
		{"invalid assign target", "1 + 2 = 3;", "Invalid assignment target."},
		{"impl reserved", "impl A {}", "'impl' is reserved."},
		{"valist outside variadic", "fn f(a) { return ...; }", "Can't use '...' outside a variadic function."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, compileErr(t, tt.src), tt.want)
		})
	}
}

func TestInitializerBareReturnAllowed(t *testing.T) {
	compileOk(t, "class A { __init__() { return; } }")
}

func TestTooManyParameters(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("fn f(")
	for i := 0; i < 257; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("p")
		sb.WriteString(strings.Repeat("x", 1)) // p x suffix keeps names unique below
		sb.WriteString(string(rune('a' + i%26)))
		sb.WriteString(string(rune('a' + (i/26)%26)))
	}
	sb.WriteString(") { return; }")
	msg := compileErr(t, sb.String())
	assert.Contains(t, msg, "Can't have more than 255 parameters.")
}

func TestUpvalueResolution(t *testing.T) {
	fn := compileOk(t, `
fn outer() {
	var x = 1;
	fn middle() {
		fn inner() {
			return x;
		}
		return inner;
	}
	return middle;
}
`)
	// outer holds middle as a constant; middle holds inner. Walk down
	// and check the capture counts.
	var middle, inner *vm.OFunction
	for _, c := range fn.Chunk.Constants {
		if v := c.(vm.Value); v.IsObj() {
			if f, ok := v.O.(*vm.OFunction); ok && f.Name != nil && f.Name.Chars == "outer" {
				for _, cc := range f.Chunk.Constants {
					if vv := cc.(vm.Value); vv.IsObj() {
						if m, ok := vv.O.(*vm.OFunction); ok && m.Name != nil && m.Name.Chars == "middle" {
							middle = m
						}
					}
				}
			}
		}
	}
	require.NotNil(t, middle)
	assert.Equal(t, 1, middle.Upvalc, "middle captures x for inner")
	for _, cc := range middle.Chunk.Constants {
		if vv := cc.(vm.Value); vv.IsObj() {
			if f, ok := vv.O.(*vm.OFunction); ok && f.Name != nil && f.Name.Chars == "inner" {
				inner = f
			}
		}
	}
	require.NotNil(t, inner)
	assert.Equal(t, 1, inner.Upvalc)
}

func TestVariadicDeclaration(t *testing.T) {
	fn := compileOk(t, "fn f(a, b, ...) { return ...; }")
	for _, c := range fn.Chunk.Constants {
		if v := c.(vm.Value); v.IsObj() {
			if f, ok := v.O.(*vm.OFunction); ok && f.Name != nil && f.Name.Chars == "f" {
				assert.True(t, f.IsVa)
				assert.Equal(t, 2, f.Arity)
				return
			}
		}
	}
	t.Fatal("function constant not found")
}

func TestInitializerFlag(t *testing.T) {
	fn := compileOk(t, "class A { __init__(x) {} m() {} }")
	found := false
	var walk func(f *vm.OFunction)
	walk = func(f *vm.OFunction) {
		for _, c := range f.Chunk.Constants {
			if v := c.(vm.Value); v.IsObj() {
				if sub, ok := v.O.(*vm.OFunction); ok {
					if sub.Name != nil && sub.Name.Chars == "__init__" {
						assert.True(t, sub.IsInit)
						found = true
					}
					walk(sub)
				}
			}
		}
	}
	walk(fn)
	assert.True(t, found)
}
