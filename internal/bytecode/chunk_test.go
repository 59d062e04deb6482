package bytecode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadU24(t *testing.T) {
	c := NewChunk()
	for _, v := range []int{0, 1, 255, 256, 65535, 1 << 20, MaxJump} {
		c.Code = c.Code[:0]
		c.Lines = c.Lines[:0]
		c.WriteU24(v, 1)
		require.Len(t, c.Code, 3)
		assert.Equal(t, v, c.ReadU24(0))
	}
}

func TestPatchU24(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpJmp, 1)
	c.WriteU24(0, 1)
	c.PatchU24(1, 0x123456)
	assert.Equal(t, 0x123456, c.ReadU24(1))
}

func TestLineTable(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpNil, 3)
	c.WriteOp(OpPop, 7)
	assert.Equal(t, 3, c.Line(0))
	assert.Equal(t, 7, c.Line(1))
	assert.Equal(t, 0, c.Line(99))
}

func TestAddConstant(t *testing.T) {
	c := NewChunk()
	assert.Equal(t, 0, c.AddConstant(1.0))
	assert.Equal(t, 1, c.AddConstant("x"))
	assert.Len(t, c.Constants, 2)
}

func TestOpcodeNames(t *testing.T) {
	assert.Equal(t, "CONST", OpConst.String())
	assert.Equal(t, "JMP_IF_FALSE_OR_POP", OpJmpIfFalseOrPop.String())
	assert.Equal(t, "FOREACH_PREP", OpForeachPrep.String())
	assert.Equal(t, "TOPRET", OpTopRet.String())
}

func TestDisassembleSmoke(t *testing.T) {
	c := NewChunk()
	idx := c.AddConstant(42.0)
	c.WriteOp(OpConst, 1)
	c.WriteByte(byte(idx), 1)
	c.WriteOp(OpNeg, 1)
	c.WriteOp(OpPrint, 2)
	c.WriteOp(OpJmp, 2)
	c.WriteU24(1, 2)
	c.WriteOp(OpPop, 2)

	var sb strings.Builder
	Disassemble(&sb, c, "test")
	out := sb.String()
	assert.Contains(t, out, "== test ==")
	assert.Contains(t, out, "CONST")
	assert.Contains(t, out, "NEG")
	assert.Contains(t, out, "PRINT")
	assert.Contains(t, out, "JMP")
}
