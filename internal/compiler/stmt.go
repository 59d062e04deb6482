package compiler

import (
	"skooma/internal/bytecode"
	"skooma/internal/lexer"
	"skooma/internal/vm"
)

func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.TokenClass):
		c.classDeclaration()
	case c.match(lexer.TokenFn):
		c.fnDeclaration()
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.TokenPrint):
		c.printStatement()
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	case c.match(lexer.TokenImpl):
		c.error("'impl' is reserved.")
	case c.match(lexer.TokenLBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(lexer.TokenRBrace) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.expect(lexer.TokenRBrace, "Expect '}' after block.")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.expect(lexer.TokenSemicolon, "Expect ';' after value.")
	c.emitOp(bytecode.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.expect(lexer.TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) varDeclaration() {
	globalIdx, _ := c.parseVariable("Expect variable name.")
	if c.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.expect(lexer.TokenSemicolon, "Expect ';' after variable declaration.")
	c.defineVariable(globalIdx)
}

func (c *Compiler) fnDeclaration() {
	globalIdx, name := c.parseVariable("Expect function name.")
	// A function may refer to itself; the name is live inside the body.
	c.markInitialized()
	c.function(kindFunction, name)
	c.defineVariable(globalIdx)
}

// function compiles a parameter list and body into a fresh context and
// emits the closure with its capture descriptors.
func (c *Compiler) function(kind funcKind, name string) {
	c.pushCtx(kind, name)
	c.beginScope()

	c.expect(lexer.TokenLParen, "Expect '(' after function name.")
	if !c.check(lexer.TokenRParen) {
		for {
			if c.match(lexer.TokenDotDotDot) {
				c.ctx.fn.IsVa = true
				break
			}
			if c.ctx.fn.Arity >= MaxParams {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			c.ctx.fn.Arity++
			idx, _ := c.parseVariable("Expect parameter name.")
			c.defineVariable(idx)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.expect(lexer.TokenRParen, "Expect ')' after parameters.")
	c.expect(lexer.TokenLBrace, "Expect '{' before function body.")
	c.block()

	upvals := c.ctx.upvals
	fn := c.popCtx()

	c.emitOp(bytecode.OpClosure)
	c.emitU24(c.makeConstant(vm.ObjVal(fn)))
	for _, u := range upvals {
		if u.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		var flags byte
		if u.fixed {
			flags |= 1
		}
		c.emitByte(flags)
		c.emitU24(u.index)
	}
}

func (c *Compiler) classDeclaration() {
	c.expect(lexer.TokenIdentifier, "Expect class name.")
	className := c.previous.Lexeme
	nameConst := c.identifierConstant(className)
	globalIdx := c.declareVariable(className)

	c.emitOp(bytecode.OpClass)
	c.emitU24(nameConst)
	c.defineVariable(globalIdx)

	cls := &classCtx{enclosing: c.class}
	c.class = cls

	if c.match(lexer.TokenColon) {
		c.expect(lexer.TokenIdentifier, "Expect superclass name.")
		superName := c.previous.Lexeme
		c.variable(false) // push superclass
		if superName == className {
			c.error("A class can't inherit from itself.")
		}
		c.beginScope()
		c.addLocal("super")
		c.defineVariable(-1)
		c.namedVariable(className, false) // push subclass
		c.emitOp(bytecode.OpInherit)
		cls.hasSuper = true
	}

	c.namedVariable(className, false) // class on stack for method binding
	c.expect(lexer.TokenLBrace, "Expect '{' before class body.")
	for !c.check(lexer.TokenRBrace) && !c.check(lexer.TokenEOF) {
		c.method()
	}
	c.expect(lexer.TokenRBrace, "Expect '}' after class body.")
	c.emitOp(bytecode.OpPop)

	if cls.hasSuper {
		c.endScope()
	}
	c.class = cls.enclosing
}

func (c *Compiler) method() {
	c.expect(lexer.TokenIdentifier, "Expect method name.")
	name := c.previous.Lexeme
	nameConst := c.identifierConstant(name)

	kind := kindMethod
	if name == "__init__" {
		kind = kindInitializer
	}
	c.function(kind, name)
	if kind == kindInitializer {
		c.emitOp(bytecode.OpOverload)
		c.emitByte(bytecode.OverloadInit)
	}
	c.emitIndexed(bytecode.OpMethod, bytecode.OpMethodL, nameConst)
}

func (c *Compiler) returnStatement() {
	if c.ctx.kind == kindScript {
		c.error("Can't return from top-level code.")
	}
	if c.match(lexer.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.ctx.kind == kindInitializer {
		c.error("Can't return a value from an initializer.")
	}
	c.emitOp(bytecode.OpRetStart)
	c.expression()
	for c.match(lexer.TokenComma) {
		c.expression()
	}
	c.expect(lexer.TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(bytecode.OpRet)
}

func (c *Compiler) ifStatement() {
	c.expect(lexer.TokenLParen, "Expect '(' after 'if'.")
	c.expression()
	c.expect(lexer.TokenRParen, "Expect ')' after condition.")

	elseJump := c.emitJump(bytecode.OpJmpIfFalsePop)
	c.statement()
	endJump := c.emitJump(bytecode.OpJmp)
	c.patchJump(elseJump)
	if c.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(endJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.chunk().Code)
	c.expect(lexer.TokenLParen, "Expect '(' after 'while'.")
	c.expression()
	c.expect(lexer.TokenRParen, "Expect ')' after condition.")

	exitJump := c.emitJump(bytecode.OpJmpIfFalsePop)
	c.statement()
	c.emitLoop(loopStart)
	c.patchJump(exitJump)
}

// forStatement compiles both loop forms: the C-style three-clause loop
// and `for k, v in iter`.
func (c *Compiler) forStatement() {
	if c.check(lexer.TokenLParen) {
		c.cForStatement()
		return
	}
	c.foreachStatement()
}

func (c *Compiler) cForStatement() {
	c.beginScope()
	c.expect(lexer.TokenLParen, "Expect '(' after 'for'.")
	switch {
	case c.match(lexer.TokenSemicolon):
		// no initializer
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.chunk().Code)
	exitJump := -1
	if !c.match(lexer.TokenSemicolon) {
		c.expression()
		c.expect(lexer.TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(bytecode.OpJmpIfFalsePop)
	}

	if !c.match(lexer.TokenRParen) {
		bodyJump := c.emitJump(bytecode.OpJmp)
		incrStart := len(c.chunk().Code)
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.expect(lexer.TokenRParen, "Expect ')' after for clauses.")
		c.emitLoop(loopStart)
		loopStart = incrStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)
	if exitJump != -1 {
		c.patchJump(exitJump)
	}
	c.endScope()
}

// foreachStatement desugars `for k, v in iter { ... }`: the iterator is
// evaluated once into a hidden local, each round it is invoked with the
// previous control value and its results land in the loop variables.
func (c *Compiler) foreachStatement() {
	c.beginScope()

	var names []string
	c.expect(lexer.TokenIdentifier, "Expect loop variable name.")
	names = append(names, c.previous.Lexeme)
	for c.match(lexer.TokenComma) {
		c.expect(lexer.TokenIdentifier, "Expect loop variable name.")
		names = append(names, c.previous.Lexeme)
	}
	if len(names) > bytecode.ShortOperandMax {
		c.error("Too many loop variables.")
	}
	c.expect(lexer.TokenIn, "Expect 'in' after loop variables.")

	// Hidden iterator slot, then one nil-initialized slot per variable.
	c.expression()
	c.addLocal("(iter)")
	c.markInitialized()
	c.emitOp(bytecode.OpNilN)
	c.emitU24(len(names))
	for _, name := range names {
		c.declareVariable(name)
		c.markInitialized()
	}

	loopStart := len(c.chunk().Code)
	c.emitOp(bytecode.OpForeachPrep)
	c.emitByte(byte(len(names)))
	c.emitOp(bytecode.OpForeach)
	c.emitByte(byte(len(names)))
	exitJump := c.emitJump(bytecode.OpJmpIfFalsePop)

	c.expect(lexer.TokenLBrace, "Expect '{' before loop body.")
	c.beginScope()
	c.block()
	c.endScope()

	c.emitLoop(loopStart)
	c.patchJump(exitJump)
	c.endScope()
}
