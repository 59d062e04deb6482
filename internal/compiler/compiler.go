// Package compiler turns Skooma source text into bytecode in a single
// pass: a Pratt parser drives emission directly into the function under
// construction, with no intermediate tree.
package compiler

import (
	"skooma/internal/bytecode"
	"skooma/internal/errors"
	"skooma/internal/lexer"
	"skooma/internal/vm"
)

const (
	// MaxParams bounds declared parameters per function.
	MaxParams = 255
	// MaxLocals bounds locals per function; indices above 255 use the
	// long opcode forms.
	MaxLocals = 1 << 24
	// MaxUpvalues bounds captured variables per function.
	MaxUpvalues = 1 << 24
)

type funcKind int

const (
	kindScript funcKind = iota
	kindFunction
	kindMethod
	kindInitializer
)

// local is one entry of the compile-time locals stack. depth -1 marks a
// declared-but-uninitialized name.
type local struct {
	name     string
	depth    int
	captured bool
	fixed    bool
}

type upvalue struct {
	index   int
	isLocal bool
	fixed   bool
}

// funcCtx is one compilation context: the function being built plus its
// scope bookkeeping. Contexts nest with function literals.
type funcCtx struct {
	enclosing  *funcCtx
	fn         *vm.OFunction
	kind       funcKind
	locals     []local
	upvals     []upvalue
	scopeDepth int
	consts     map[interface{}]int // constant-pool dedup
}

// classCtx tracks the innermost class being compiled.
type classCtx struct {
	enclosing *classCtx
	hasSuper  bool
}

// Compiler carries the parser state shared by all nested contexts.
type Compiler struct {
	vm        *vm.VM
	scanner   *lexer.Scanner
	previous  lexer.Token
	current   lexer.Token
	hadError  bool
	panicMode bool
	errs      []*errors.SyntaxError
	ctx       *funcCtx
	class     *classCtx
}

// Compile builds a top-level function from source. On failure it returns
// the aggregated diagnostics and no function.
func Compile(machine *vm.VM, source, name string) (*vm.OFunction, error) {
	c := &Compiler{
		vm:      machine,
		scanner: lexer.NewScanner(source),
	}
	// The functions under construction are GC roots while we run.
	machine.SetCompilerRoots(func(mark func(vm.Obj)) {
		for ctx := c.ctx; ctx != nil; ctx = ctx.enclosing {
			mark(ctx.fn)
		}
	})
	defer machine.SetCompilerRoots(nil)

	c.pushCtx(kindScript, "")
	c.advance()
	for !c.match(lexer.TokenEOF) {
		c.declaration()
	}
	fn := c.popCtx()
	if c.hadError {
		return nil, &errors.CompileError{Errors: c.errs}
	}
	return fn, nil
}

func (c *Compiler) pushCtx(kind funcKind, name string) {
	fn := c.vm.NewFunction()
	ctx := &funcCtx{
		enclosing: c.ctx,
		fn:        fn,
		kind:      kind,
		consts:    make(map[interface{}]int),
	}
	// Link the context before interning the name: the function must be a
	// GC root before the next allocation.
	c.ctx = ctx
	if kind != kindScript {
		fn.Name = c.vm.InternString(name)
	}
	if kind == kindInitializer {
		fn.IsInit = true
	}
	// Slot zero belongs to the callee; methods see the receiver there.
	slot0 := local{depth: 0}
	if kind == kindMethod || kind == kindInitializer {
		slot0.name = "self"
	}
	ctx.locals = append(ctx.locals, slot0)
}

// popCtx finishes the current function: emits the implicit return and
// restores the enclosing context.
func (c *Compiler) popCtx() *vm.OFunction {
	c.emitReturn()
	fn := c.ctx.fn
	c.ctx = c.ctx.enclosing
	return fn
}

func (c *Compiler) emitReturn() {
	switch c.ctx.kind {
	case kindScript:
		c.emitOp(bytecode.OpTopRet)
	case kindInitializer:
		c.emitOp(bytecode.OpRetStart)
		c.emitOp(bytecode.OpGetLocal)
		c.emitByte(0)
		c.emitOp(bytecode.OpRet)
	default:
		c.emitOp(bytecode.OpRetStart)
		c.emitOp(bytecode.OpRet)
	}
}

// ---------------------------------------------------------------------
// Parser plumbing

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scanner.Scan()
		if c.current.Type != lexer.TokenError {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) expect(t lexer.TokenType, msg string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *Compiler) check(t lexer.TokenType) bool {
	return c.current.Type == t
}

func (c *Compiler) match(t lexer.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) errorAt(tok lexer.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true
	lexeme := tok.Lexeme
	if tok.Type == lexer.TokenEOF {
		lexeme = ""
	} else if tok.Type == lexer.TokenError {
		lexeme = errors.NoLexeme
	}
	c.errs = append(c.errs, &errors.SyntaxError{
		Line:    tok.Line,
		Lexeme:  lexeme,
		Message: msg,
	})
}

func (c *Compiler) error(msg string)          { c.errorAt(c.previous, msg) }
func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.current, msg) }

// synchronize skips tokens until a statement boundary so one mistake
// doesn't cascade.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != lexer.TokenEOF {
		if c.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case lexer.TokenClass, lexer.TokenFn, lexer.TokenVar, lexer.TokenFor,
			lexer.TokenIf, lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn,
			lexer.TokenRBrace:
			return
		}
		c.advance()
	}
}

// ---------------------------------------------------------------------
// Emission

func (c *Compiler) chunk() *bytecode.Chunk {
	return &c.ctx.fn.Chunk
}

func (c *Compiler) emitOp(op bytecode.OpCode) {
	c.chunk().WriteOp(op, c.previous.Line)
}

func (c *Compiler) emitByte(b byte) {
	c.chunk().WriteByte(b, c.previous.Line)
}

func (c *Compiler) emitU24(v int) {
	c.chunk().WriteU24(v, c.previous.Line)
}

// emitIndexed picks the short or long opcode form by index width.
func (c *Compiler) emitIndexed(short, long bytecode.OpCode, idx int) {
	if idx <= bytecode.ShortOperandMax {
		c.emitOp(short)
		c.emitByte(byte(idx))
	} else {
		c.emitOp(long)
		c.emitU24(idx)
	}
}

// makeConstant adds a deduplicated constant to the pool.
func (c *Compiler) makeConstant(v vm.Value) int {
	var key interface{}
	switch {
	case v.IsNumber():
		key = v.AsNumber()
	case v.IsObj():
		key = v.O
	}
	if key != nil {
		if idx, ok := c.ctx.consts[key]; ok {
			return idx
		}
	}
	idx := c.chunk().AddConstant(v)
	if idx > bytecode.MaxConst {
		c.error("Too many constants in one chunk.")
		return 0
	}
	if key != nil {
		c.ctx.consts[key] = idx
	}
	return idx
}

func (c *Compiler) emitConstant(v vm.Value) {
	c.emitIndexed(bytecode.OpConst, bytecode.OpConstL, c.makeConstant(v))
}

// identifierConstant interns the name and returns its pool index.
func (c *Compiler) identifierConstant(name string) int {
	return c.makeConstant(vm.ObjVal(c.vm.InternString(name)))
}

// emitJump writes op with a placeholder displacement and returns the
// operand offset for patching.
func (c *Compiler) emitJump(op bytecode.OpCode) int {
	c.emitOp(op)
	offset := len(c.chunk().Code)
	c.emitU24(0)
	return offset
}

func (c *Compiler) patchJump(offset int) {
	dist := len(c.chunk().Code) - offset - 3
	if dist > bytecode.MaxJump {
		c.error("Too much code to jump over.")
		return
	}
	c.chunk().PatchU24(offset, dist)
}

// emitLoop writes a backward jump to loopStart.
func (c *Compiler) emitLoop(loopStart int) {
	dist := len(c.chunk().Code) + 4 - loopStart
	if dist > bytecode.MaxJump {
		c.error("Loop body too large.")
		dist = 0
	}
	c.emitOp(bytecode.OpLoop)
	c.emitU24(dist)
}

// ---------------------------------------------------------------------
// Scopes and variables

func (c *Compiler) beginScope() {
	c.ctx.scopeDepth++
}

// endScope pops the scope's locals, closing any that were captured.
func (c *Compiler) endScope() {
	ctx := c.ctx
	ctx.scopeDepth--
	n := 0
	captured := false
	for len(ctx.locals) > 0 {
		l := &ctx.locals[len(ctx.locals)-1]
		if l.depth <= ctx.scopeDepth {
			break
		}
		if l.captured {
			captured = true
		}
		ctx.locals = ctx.locals[:len(ctx.locals)-1]
		n++
	}
	switch {
	case n == 0:
	case captured:
		c.emitOp(bytecode.OpCloseUpvalN)
		c.emitU24(n)
	case n == 1:
		c.emitOp(bytecode.OpPop)
	default:
		c.emitOp(bytecode.OpPopN)
		c.emitU24(n)
	}
}

func (c *Compiler) addLocal(name string) {
	if len(c.ctx.locals) >= MaxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.ctx.locals = append(c.ctx.locals, local{name: name, depth: -1})
}

func (c *Compiler) markInitialized() {
	if c.ctx.scopeDepth == 0 {
		return
	}
	c.ctx.locals[len(c.ctx.locals)-1].depth = c.ctx.scopeDepth
}

// declareVariable reserves the name in the current scope. Globals are
// resolved to dense ids; the return value is the global id or -1 for a
// local.
func (c *Compiler) declareVariable(name string) int {
	if c.ctx.scopeDepth == 0 {
		return c.vm.GlobalIndex(c.vm.InternString(name))
	}
	for i := len(c.ctx.locals) - 1; i >= 0; i-- {
		l := &c.ctx.locals[i]
		if l.depth != -1 && l.depth < c.ctx.scopeDepth {
			break
		}
		if l.name == name {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
	return -1
}

// parseVariable consumes an identifier and declares it.
func (c *Compiler) parseVariable(errMsg string) (int, string) {
	c.expect(lexer.TokenIdentifier, errMsg)
	name := c.previous.Lexeme
	return c.declareVariable(name), name
}

// defineVariable makes a declared variable usable: globals get their
// define opcode, locals are just marked initialized.
func (c *Compiler) defineVariable(globalIdx int) {
	if globalIdx < 0 {
		c.markInitialized()
		return
	}
	c.emitIndexed(bytecode.OpDefineGlobal, bytecode.OpDefineGlobalL, globalIdx)
}

func (c *Compiler) resolveLocal(ctx *funcCtx, name string) int {
	for i := len(ctx.locals) - 1; i >= 0; i-- {
		l := &ctx.locals[i]
		if l.name == name && l.name != "" {
			if l.depth == -1 {
				c.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// resolveUpvalue walks outward contexts and threads a capture back in.
func (c *Compiler) resolveUpvalue(ctx *funcCtx, name string) int {
	if ctx.enclosing == nil {
		return -1
	}
	if idx := c.resolveLocal(ctx.enclosing, name); idx != -1 {
		ctx.enclosing.locals[idx].captured = true
		return c.addUpvalue(ctx, idx, true, ctx.enclosing.locals[idx].fixed)
	}
	if idx := c.resolveUpvalue(ctx.enclosing, name); idx != -1 {
		return c.addUpvalue(ctx, idx, false, ctx.enclosing.upvals[idx].fixed)
	}
	return -1
}

// addUpvalue dedups: re-capturing a name reuses the existing entry.
func (c *Compiler) addUpvalue(ctx *funcCtx, index int, isLocal, fixed bool) int {
	for i, u := range ctx.upvals {
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}
	if len(ctx.upvals) >= MaxUpvalues {
		c.error("Too many closure variables in function.")
		return 0
	}
	ctx.upvals = append(ctx.upvals, upvalue{index: index, isLocal: isLocal, fixed: fixed})
	ctx.fn.Upvalc = len(ctx.upvals)
	return len(ctx.upvals) - 1
}
