package compiler

import (
	"strconv"

	"skooma/internal/bytecode"
	"skooma/internal/lexer"
	"skooma/internal/vm"
)

// Precedence ladder, low to high. Each token maps to at most one prefix
// and one infix handler; the engine recurses while the next token's
// precedence is at least the requested one.
type precedence int

const (
	precNone precedence = iota
	precAssignment // =
	precTernary    // ?:
	precOr         // or
	precAnd        // and
	precEquality   // == !=
	precComparison // < <= > >=
	precTerm       // + -
	precFactor     // * / %
	precPower      // **
	precUnary      // ! -
	precCall       // . () []
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

var rules map[lexer.TokenType]parseRule

// The rule table references handlers that reference the table; filled in
// here to break the initialization cycle.
func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLParen:       {prefix: (*Compiler).grouping, infix: (*Compiler).call, prec: precCall},
		lexer.TokenLBracket:     {infix: (*Compiler).index, prec: precCall},
		lexer.TokenDot:          {infix: (*Compiler).dot, prec: precCall},
		lexer.TokenMinus:        {prefix: (*Compiler).unary, infix: (*Compiler).binary, prec: precTerm},
		lexer.TokenPlus:         {infix: (*Compiler).binary, prec: precTerm},
		lexer.TokenSlash:        {infix: (*Compiler).binary, prec: precFactor},
		lexer.TokenStar:         {infix: (*Compiler).binary, prec: precFactor},
		lexer.TokenPercent:      {infix: (*Compiler).binary, prec: precFactor},
		lexer.TokenStarStar:     {infix: (*Compiler).power, prec: precPower},
		lexer.TokenBang:         {prefix: (*Compiler).unary},
		lexer.TokenBangEqual:    {infix: (*Compiler).binary, prec: precEquality},
		lexer.TokenEqualEqual:   {infix: (*Compiler).binary, prec: precEquality},
		lexer.TokenLess:         {infix: (*Compiler).binary, prec: precComparison},
		lexer.TokenLessEqual:    {infix: (*Compiler).binary, prec: precComparison},
		lexer.TokenGreater:      {infix: (*Compiler).binary, prec: precComparison},
		lexer.TokenGreaterEqual: {infix: (*Compiler).binary, prec: precComparison},
		lexer.TokenQMark:        {infix: (*Compiler).ternary, prec: precTernary},
		lexer.TokenAnd:          {infix: (*Compiler).and, prec: precAnd},
		lexer.TokenOr:           {infix: (*Compiler).or, prec: precOr},
		lexer.TokenIdentifier:   {prefix: (*Compiler).variable},
		lexer.TokenString:       {prefix: (*Compiler).stringLiteral},
		lexer.TokenNumber:       {prefix: (*Compiler).number},
		lexer.TokenDotDotDot:    {prefix: (*Compiler).valist},
		lexer.TokenFn:           {prefix: (*Compiler).fnLiteral},
		lexer.TokenTrue:         {prefix: (*Compiler).literal},
		lexer.TokenFalse:        {prefix: (*Compiler).literal},
		lexer.TokenNil:          {prefix: (*Compiler).literal},
		lexer.TokenSelf:         {prefix: (*Compiler).self},
		lexer.TokenSuper:        {prefix: (*Compiler).super},
	}
}

func getRule(t lexer.TokenType) parseRule {
	return rules[t]
}

func (c *Compiler) expression() {
	c.parsePrecedence(precAssignment)
}

// parsePrecedence is the Pratt engine: one prefix handler, then infix
// handlers while precedence allows. Assignment targets are only valid at
// the lowest level, signalled through canAssign.
func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := getRule(c.previous.Type).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}
	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.current.Type).prec {
		c.advance()
		infix := getRule(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.error("Invalid assignment target.")
	}
}

// ---------------------------------------------------------------------
// Prefix handlers

func (c *Compiler) grouping(_ bool) {
	c.expression()
	c.expect(lexer.TokenRParen, "Expect ')' after expression.")
}

func (c *Compiler) number(_ bool) {
	n, err := strconv.ParseFloat(c.previous.Lexeme, 64)
	if err != nil {
		c.error("Invalid number literal.")
		return
	}
	c.emitConstant(vm.Number(n))
}

func (c *Compiler) stringLiteral(_ bool) {
	lexeme := c.previous.Lexeme
	chars := lexeme[1 : len(lexeme)-1] // strip the quotes
	c.emitConstant(vm.ObjVal(c.vm.InternString(chars)))
}

func (c *Compiler) literal(_ bool) {
	switch c.previous.Type {
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenNil:
		c.emitOp(bytecode.OpNil)
	}
}

func (c *Compiler) unary(_ bool) {
	op := c.previous.Type
	c.parsePrecedence(precUnary)
	switch op {
	case lexer.TokenBang:
		c.emitOp(bytecode.OpNot)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpNeg)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous.Lexeme, canAssign)
}

// namedVariable emits the load or store for a name: local, upvalue or
// global, in that resolution order.
func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getShort, getLong, setShort, setLong bytecode.OpCode
	var idx int

	if idx = c.resolveLocal(c.ctx, name); idx != -1 {
		getShort, getLong = bytecode.OpGetLocal, bytecode.OpGetLocalL
		setShort, setLong = bytecode.OpSetLocal, bytecode.OpSetLocalL
	} else if idx = c.resolveUpvalue(c.ctx, name); idx != -1 {
		if canAssign && c.match(lexer.TokenEqual) {
			c.expression()
			c.emitOp(bytecode.OpSetUpvalue)
			c.emitU24(idx)
		} else {
			c.emitOp(bytecode.OpGetUpvalue)
			c.emitU24(idx)
		}
		return
	} else {
		idx = c.vm.GlobalIndex(c.vm.InternString(name))
		getShort, getLong = bytecode.OpGetGlobal, bytecode.OpGetGlobalL
		setShort, setLong = bytecode.OpSetGlobal, bytecode.OpSetGlobalL
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitIndexed(setShort, setLong, idx)
	} else {
		c.emitIndexed(getShort, getLong, idx)
	}
}

func (c *Compiler) self(_ bool) {
	if c.class == nil {
		c.error("Can't use 'self' outside of a class.")
		return
	}
	c.namedVariable("self", false)
}

func (c *Compiler) super(_ bool) {
	if c.class == nil {
		c.error("Can't use 'super' outside of a class.")
	} else if !c.class.hasSuper {
		c.error("Can't use 'super' in a class with no superclass.")
	}
	c.expect(lexer.TokenDot, "Expect '.' after 'super'.")
	c.expect(lexer.TokenIdentifier, "Expect superclass method name.")
	nameConst := c.identifierConstant(c.previous.Lexeme)

	c.namedVariable("self", false)
	if c.match(lexer.TokenLParen) {
		retcnt := c.argumentList()
		c.namedVariable("super", false)
		c.emitOp(bytecode.OpInvokeSuper)
		c.emitU24(nameConst)
		c.emitByte(retcnt)
	} else {
		c.namedVariable("super", false)
		c.emitIndexed(bytecode.OpGetSuper, bytecode.OpGetSuperL, nameConst)
	}
}

// valist pushes the current call's variadic extras.
func (c *Compiler) valist(_ bool) {
	if c.ctx.fn == nil || !c.ctx.fn.IsVa {
		c.error("Can't use '...' outside a variadic function.")
		return
	}
	c.emitOp(bytecode.OpValist)
	c.emitByte(0)
}

// fnLiteral compiles an anonymous function expression.
func (c *Compiler) fnLiteral(_ bool) {
	c.function(kindFunction, "fn")
}

// ---------------------------------------------------------------------
// Infix handlers

func (c *Compiler) binary(_ bool) {
	op := c.previous.Type
	rule := getRule(op)
	c.parsePrecedence(rule.prec + 1)

	switch op {
	case lexer.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpSub)
	case lexer.TokenStar:
		c.emitOp(bytecode.OpMul)
	case lexer.TokenSlash:
		c.emitOp(bytecode.OpDiv)
	case lexer.TokenPercent:
		c.emitOp(bytecode.OpMod)
	case lexer.TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case lexer.TokenBangEqual:
		c.emitOp(bytecode.OpNotEqual)
	case lexer.TokenLess:
		c.emitOp(bytecode.OpLess)
	case lexer.TokenLessEqual:
		c.emitOp(bytecode.OpLessEqual)
	case lexer.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitOp(bytecode.OpGreaterEqual)
	}
}

// power is right-associative: parse the right side at the same level.
func (c *Compiler) power(_ bool) {
	c.parsePrecedence(precPower)
	c.emitOp(bytecode.OpPow)
}

func (c *Compiler) and(_ bool) {
	endJump := c.emitJump(bytecode.OpJmpIfFalseOrPop)
	c.parsePrecedence(precAnd + 1)
	c.patchJump(endJump)
}

func (c *Compiler) or(_ bool) {
	rhsJump := c.emitJump(bytecode.OpJmpIfFalseAndPop)
	endJump := c.emitJump(bytecode.OpJmp)
	c.patchJump(rhsJump)
	c.parsePrecedence(precOr + 1)
	c.patchJump(endJump)
}

func (c *Compiler) ternary(_ bool) {
	elseJump := c.emitJump(bytecode.OpJmpIfFalsePop)
	c.parsePrecedence(precTernary)
	c.expect(lexer.TokenColon, "Expect ':' after then branch.")
	endJump := c.emitJump(bytecode.OpJmp)
	c.patchJump(elseJump)
	c.parsePrecedence(precTernary)
	c.patchJump(endJump)
}

// argumentList compiles `arg, ...)` after the marker and returns the
// declared result count for the call opcode.
func (c *Compiler) argumentList() byte {
	c.emitOp(bytecode.OpCallStart)
	if !c.check(lexer.TokenRParen) {
		for {
			c.expression()
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.expect(lexer.TokenRParen, "Expect ')' after arguments.")
	return 1
}

func (c *Compiler) call(_ bool) {
	retcnt := c.argumentList()
	c.emitOp(bytecode.OpCall)
	c.emitByte(retcnt)
}

func (c *Compiler) dot(canAssign bool) {
	c.expect(lexer.TokenIdentifier, "Expect property name after '.'.")
	nameConst := c.identifierConstant(c.previous.Lexeme)

	switch {
	case canAssign && c.match(lexer.TokenEqual):
		c.expression()
		c.emitIndexed(bytecode.OpSetProperty, bytecode.OpSetPropertyL, nameConst)
	case c.match(lexer.TokenLParen):
		retcnt := c.argumentList()
		c.emitOp(bytecode.OpInvoke)
		c.emitU24(nameConst)
		c.emitByte(retcnt)
	default:
		c.emitIndexed(bytecode.OpGetProperty, bytecode.OpGetPropertyL, nameConst)
	}
}

func (c *Compiler) index(canAssign bool) {
	c.expression()
	c.expect(lexer.TokenRBracket, "Expect ']' after index.")

	switch {
	case canAssign && c.match(lexer.TokenEqual):
		c.expression()
		c.emitOp(bytecode.OpSetIndex)
	case c.match(lexer.TokenLParen):
		retcnt := c.argumentList()
		c.emitOp(bytecode.OpInvokeIndex)
		c.emitByte(retcnt)
	default:
		c.emitOp(bytecode.OpIndex)
	}
}
