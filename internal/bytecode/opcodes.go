package bytecode

type OpCode byte

const (
	// Stack
	OpPop OpCode = iota
	OpPopN

	// Constants
	OpConst
	OpConstL
	OpNil
	OpNilN
	OpTrue
	OpFalse

	// Arithmetic
	OpNeg
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow

	// Logic and comparison
	OpNot
	OpEqual
	OpNotEqual
	OpEq
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual

	// Variables
	OpDefineGlobal
	OpDefineGlobalL
	OpGetGlobal
	OpGetGlobalL
	OpSetGlobal
	OpSetGlobalL
	OpGetLocal
	OpGetLocalL
	OpSetLocal
	OpSetLocalL
	OpGetUpvalue
	OpSetUpvalue
	OpCloseUpval
	OpCloseUpvalN

	// Control flow
	OpJmp
	OpJmpAndPop
	OpJmpIfFalse
	OpJmpIfFalsePop
	OpJmpIfFalseOrPop
	OpJmpIfFalseAndPop
	OpLoop

	// Calls
	OpCallStart
	OpRetStart
	OpCall
	OpInvoke
	OpInvokeIndex
	OpInvokeSuper
	OpRet
	OpTopRet

	// Closures and classes
	OpClosure
	OpClass
	OpMethod
	OpMethodL
	OpOverload
	OpInherit
	OpGetProperty
	OpGetPropertyL
	OpSetProperty
	OpSetPropertyL
	OpGetSuper
	OpGetSuperL
	OpIndex
	OpSetIndex

	// Iteration
	OpForeachPrep
	OpForeach

	// Misc
	OpValist
	OpPrint
)

var opNames = [...]string{
	OpPop:              "POP",
	OpPopN:             "POPN",
	OpConst:            "CONST",
	OpConstL:           "CONSTL",
	OpNil:              "NIL",
	OpNilN:             "NILN",
	OpTrue:             "TRUE",
	OpFalse:            "FALSE",
	OpNeg:              "NEG",
	OpAdd:              "ADD",
	OpSub:              "SUB",
	OpMul:              "MUL",
	OpDiv:              "DIV",
	OpMod:              "MOD",
	OpPow:              "POW",
	OpNot:              "NOT",
	OpEqual:            "EQUAL",
	OpNotEqual:         "NOT_EQUAL",
	OpEq:               "EQ",
	OpLess:             "LESS",
	OpLessEqual:        "LESS_EQUAL",
	OpGreater:          "GREATER",
	OpGreaterEqual:     "GREATER_EQUAL",
	OpDefineGlobal:     "DEFINE_GLOBAL",
	OpDefineGlobalL:    "DEFINE_GLOBALL",
	OpGetGlobal:        "GET_GLOBAL",
	OpGetGlobalL:       "GET_GLOBALL",
	OpSetGlobal:        "SET_GLOBAL",
	OpSetGlobalL:       "SET_GLOBALL",
	OpGetLocal:         "GET_LOCAL",
	OpGetLocalL:        "GET_LOCALL",
	OpSetLocal:         "SET_LOCAL",
	OpSetLocalL:        "SET_LOCALL",
	OpGetUpvalue:       "GET_UPVALUE",
	OpSetUpvalue:       "SET_UPVALUE",
	OpCloseUpval:       "CLOSE_UPVAL",
	OpCloseUpvalN:      "CLOSE_UPVALN",
	OpJmp:              "JMP",
	OpJmpAndPop:        "JMP_AND_POP",
	OpJmpIfFalse:       "JMP_IF_FALSE",
	OpJmpIfFalsePop:    "JMP_IF_FALSE_POP",
	OpJmpIfFalseOrPop:  "JMP_IF_FALSE_OR_POP",
	OpJmpIfFalseAndPop: "JMP_IF_FALSE_AND_POP",
	OpLoop:             "LOOP",
	OpCallStart:        "CALLSTART",
	OpRetStart:         "RETSTART",
	OpCall:             "CALL",
	OpInvoke:           "INVOKE",
	OpInvokeIndex:      "INVOKE_INDEX",
	OpInvokeSuper:      "INVOKE_SUPER",
	OpRet:              "RET",
	OpTopRet:           "TOPRET",
	OpClosure:          "CLOSURE",
	OpClass:            "CLASS",
	OpMethod:           "METHOD",
	OpMethodL:          "METHODL",
	OpOverload:         "OVERLOAD",
	OpInherit:          "INHERIT",
	OpGetProperty:      "GET_PROPERTY",
	OpGetPropertyL:     "GET_PROPERTYL",
	OpSetProperty:      "SET_PROPERTY",
	OpSetPropertyL:     "SET_PROPERTYL",
	OpGetSuper:         "GET_SUPER",
	OpGetSuperL:        "GET_SUPERL",
	OpIndex:            "INDEX",
	OpSetIndex:         "SET_INDEX",
	OpForeachPrep:      "FOREACH_PREP",
	OpForeach:          "FOREACH",
	OpValist:           "VALIST",
	OpPrint:            "PRINT",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "UNKNOWN"
}

// Overload slots. Only Init is dispatched; every other slot is reserved
// and rejected by the interpreter.
const (
	OverloadInit byte = iota
	OverloadDisplay
	OverloadCount
)
