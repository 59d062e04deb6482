package bytecode

import (
	"fmt"
	"io"
)

// Disassemble writes a readable listing of the whole chunk.
func Disassemble(w io.Writer, c *Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = DisassembleInstruction(w, c, offset)
	}
}

// DisassembleInstruction prints one instruction and returns the offset of
// the next one.
func DisassembleInstruction(w io.Writer, c *Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && c.Line(offset) == c.Line(offset-1) {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", c.Line(offset))
	}

	op := OpCode(c.Code[offset])
	switch op {
	case OpPop, OpNil, OpTrue, OpFalse, OpNeg, OpAdd, OpSub, OpMul, OpDiv,
		OpMod, OpPow, OpNot, OpEqual, OpNotEqual, OpEq, OpLess, OpLessEqual,
		OpGreater, OpGreaterEqual, OpCloseUpval, OpCallStart, OpRetStart,
		OpRet, OpTopRet, OpInherit, OpIndex, OpSetIndex, OpPrint:
		fmt.Fprintf(w, "%s\n", op)
		return offset + 1

	case OpConst, OpGetGlobal, OpSetGlobal, OpDefineGlobal, OpGetLocal,
		OpSetLocal, OpMethod, OpGetProperty, OpSetProperty, OpGetSuper:
		fmt.Fprintf(w, "%-20s %d\n", op, c.Code[offset+1])
		return offset + 2

	case OpOverload, OpForeachPrep, OpForeach, OpValist:
		fmt.Fprintf(w, "%-20s %d\n", op, c.Code[offset+1])
		return offset + 2

	case OpCall, OpInvokeIndex:
		fmt.Fprintf(w, "%-20s retcnt=%d\n", op, c.Code[offset+1])
		return offset + 2

	case OpConstL, OpGetGlobalL, OpSetGlobalL, OpDefineGlobalL, OpGetLocalL,
		OpSetLocalL, OpGetUpvalue, OpSetUpvalue, OpMethodL, OpGetPropertyL,
		OpSetPropertyL, OpGetSuperL, OpClass, OpPopN, OpNilN, OpCloseUpvalN:
		fmt.Fprintf(w, "%-20s %d\n", op, c.ReadU24(offset+1))
		return offset + 4

	case OpJmp, OpJmpAndPop, OpJmpIfFalse, OpJmpIfFalsePop,
		OpJmpIfFalseOrPop, OpJmpIfFalseAndPop:
		jump := c.ReadU24(offset + 1)
		fmt.Fprintf(w, "%-20s %04d -> %04d\n", op, offset, offset+4+jump)
		return offset + 4

	case OpLoop:
		jump := c.ReadU24(offset + 1)
		fmt.Fprintf(w, "%-20s %04d -> %04d\n", op, offset, offset+4-jump)
		return offset + 4

	case OpInvoke, OpInvokeSuper:
		idx := c.ReadU24(offset + 1)
		fmt.Fprintf(w, "%-20s const=%d retcnt=%d\n", op, idx, c.Code[offset+4])
		return offset + 5

	case OpClosure:
		idx := c.ReadU24(offset + 1)
		fmt.Fprintf(w, "%-20s const=%d %v\n", op, idx, c.Constants[idx])
		offset += 4
		if fn, ok := c.Constants[idx].(FuncConst); ok {
			for i := 0; i < fn.UpvalCount(); i++ {
				isLocal := c.Code[offset] == 1
				kind := "upvalue"
				if isLocal {
					kind = "local"
				}
				fmt.Fprintf(w, "%04d    |   capture %s %d\n",
					offset, kind, c.ReadU24(offset+2))
				offset += CaptureDescSize
			}
		}
		return offset

	default:
		fmt.Fprintf(w, "unknown opcode %d\n", byte(op))
		return offset + 1
	}
}
