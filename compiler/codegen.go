package compiler

import (
	"fmt"
	"math/big"

	"github.com/bluebook-vm/bluebook/vm"
)

// ---------------------------------------------------------------------------
// Codegen: Compile AST to bytecode
// ---------------------------------------------------------------------------

// Codegen compiles one analyzed method to a CompiledMethod.
type Codegen struct {
	vm       *vm.VM
	class    *vm.Class
	b        *vm.MethodBuilder
	a        *analysis
	frame    *frame
	instVars map[string]int
	errors   []string
}

// NewCodegen creates a code generator for methods of class.
func NewCodegen(v *vm.VM, class *vm.Class) *Codegen {
	g := &Codegen{
		vm:       v,
		class:    class,
		instVars: make(map[string]int),
	}
	for i, name := range class.AllInstVarNames() {
		g.instVars[name] = i
	}
	return g
}

// Errors returns accumulated compilation errors.
func (g *Codegen) Errors() []string {
	return g.errors
}

// errorf records a compilation error.
func (g *Codegen) errorf(format string, args ...interface{}) {
	g.errors = append(g.errors, fmt.Sprintf(format, args...))
}

// CompileMethod compiles a method definition. When answerLast is set the
// value of the last statement is returned, as for a DoIt; otherwise a
// method without an explicit return answers self.
func (g *Codegen) CompileMethod(def *MethodDef, a *analysis, answerLast bool) (*vm.CompiledMethod, error) {
	g.a = a
	g.frame = a.method
	g.b = vm.NewMethodBuilder(g.vm.Memory, g.class, def.Selector, len(def.Parameters))
	g.b.NumTemps = a.method.size
	g.b.Primitive = def.Primitive
	g.b.Source = def.SourceText

	if f := g.frame; f.vectorSlot >= 0 {
		g.b.PushNewArray(len(f.vector), false)
		g.b.StoreTemporary(f.vectorSlot, true)
	}

	stmts := def.Statements
	if answerLast && len(stmts) > 0 {
		if last, ok := stmts[len(stmts)-1].(*ExprStmt); ok {
			stmts = append(stmts[:len(stmts)-1:len(stmts)-1], &Return{Loc: last.Loc, Value: last.Expr})
		}
	}
	if !g.statements(stmts) {
		if answerLast {
			g.b.ReturnNil()
		} else {
			g.b.ReturnSelf()
		}
	}

	if len(g.errors) > 0 {
		return nil, &vm.CompileError{Class: g.class.DisplayName(), Messages: g.errors}
	}
	return g.b.Build()
}

// statements compiles statements for effect and reports whether the last
// one returned.
func (g *Codegen) statements(stmts []Stmt) bool {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *Return:
			g.compileReturn(s)
			return true
		case *ExprStmt:
			g.compileEffect(s.Expr)
		}
	}
	return false
}

// sequence compiles statements leaving the value of the last one, or nil
// for none. It reports whether a return ended the sequence.
func (g *Codegen) sequence(stmts []Stmt) bool {
	if len(stmts) == 0 {
		g.b.PushNil()
		return false
	}
	for i, stmt := range stmts {
		switch s := stmt.(type) {
		case *Return:
			g.compileReturn(s)
			return true
		case *ExprStmt:
			if i < len(stmts)-1 {
				g.compileEffect(s.Expr)
			} else {
				g.compileExpr(s.Expr)
			}
		}
	}
	return false
}

func (g *Codegen) compileReturn(r *Return) {
	switch r.Value.(type) {
	case *Self:
		g.b.ReturnSelf()
		return
	case *TrueLiteral:
		g.b.ReturnSpecial(vm.True)
		return
	case *FalseLiteral:
		g.b.ReturnSpecial(vm.False)
		return
	case *NilLiteral:
		g.b.ReturnSpecial(vm.Nil)
		return
	}
	g.compileExpr(r.Value)
	g.b.ReturnTop()
}

// compileEffect compiles an expression whose value is discarded.
func (g *Codegen) compileEffect(expr Expr) {
	if a, ok := expr.(*Assignment); ok {
		g.compileExpr(a.Value)
		g.store(a.Variable, true)
		return
	}
	g.compileExpr(expr)
	g.b.Pop()
}

// ---------------------------------------------------------------------------
// Expression compilation
// ---------------------------------------------------------------------------

func (g *Codegen) compileExpr(expr Expr) {
	switch e := expr.(type) {
	case *IntLiteral:
		g.pushInteger(e.Value)
	case *FloatLiteral, *StringLiteral, *SymbolLiteral, *CharLiteral, *ArrayLiteral, *ByteArrayLiteral:
		g.pushLiteral(g.literalValue(e))
	case *NilLiteral:
		g.b.PushNil()
	case *TrueLiteral:
		g.b.PushTrue()
	case *FalseLiteral:
		g.b.PushFalse()
	case *Self, *Super:
		g.b.PushSelf()
	case *ThisContext:
		g.b.PushThisContext()
	case *DynamicArray:
		if len(e.Elements) > 127 {
			g.errorf("line %d: brace array of %d elements is too large", e.Loc.Start.Line, len(e.Elements))
			return
		}
		for _, elem := range e.Elements {
			g.compileExpr(elem)
		}
		g.b.PushNewArray(len(e.Elements), true)
	case *Variable:
		g.load(e)
	case *Assignment:
		g.compileExpr(e.Value)
		g.store(e.Variable, false)
	case *UnaryMessage:
		if inlinable(e) {
			g.compileInlined(e, e.Selector, e.Receiver, nil)
			return
		}
		super := g.compileReceiver(e.Receiver)
		g.send(e.Selector, 0, super)
	case *BinaryMessage:
		super := g.compileReceiver(e.Receiver)
		g.compileExpr(e.Argument)
		g.send(e.Selector, 1, super)
	case *KeywordMessage:
		if inlinable(e) {
			g.compileInlined(e, e.Selector, e.Receiver, e.Arguments)
			return
		}
		super := g.compileReceiver(e.Receiver)
		for _, arg := range e.Arguments {
			g.compileExpr(arg)
		}
		g.send(e.Selector, len(e.Arguments), super)
	case *Cascade:
		g.compileCascade(e)
	case *Block:
		g.compileBlock(e)
	default:
		g.errorf("unknown expression type: %T", expr)
	}
}

// compileReceiver pushes a receiver and reports whether the send goes to
// super.
func (g *Codegen) compileReceiver(e Expr) bool {
	g.compileExpr(e)
	_, super := e.(*Super)
	return super
}

// send emits a send, using the one byte special form when selector is a
// special selector.
func (g *Codegen) send(selector string, nargs int, super bool) {
	if !super {
		if i := vm.SpecialSelectorIndex(selector); i >= 0 && vm.SpecialSelectors[i].NumArgs == nargs {
			g.b.SendSpecial(i)
			return
		}
	}
	lit := g.b.SelectorLiteral(selector)
	if super {
		g.b.SuperSend(lit, nargs)
		return
	}
	g.b.Send(lit, nargs)
}

func (g *Codegen) compileCascade(c *Cascade) {
	super := g.compileReceiver(c.Receiver)
	for i, msg := range c.Messages {
		last := i == len(c.Messages)-1
		if !last {
			g.b.Dup()
		}
		for _, arg := range msg.Arguments {
			g.compileExpr(arg)
		}
		g.send(msg.Selector, len(msg.Arguments), super)
		if !last {
			g.b.Pop()
		}
	}
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

func (g *Codegen) pushLiteral(v vm.Value) {
	g.b.PushLiteralConstant(g.b.Literal(v))
}

func (g *Codegen) pushInteger(n *big.Int) {
	if n.IsInt64() {
		i := n.Int64()
		if g.b.PushSmallConstant(i) {
			return
		}
		if vm.IsSmallIntRange(i) {
			g.pushLiteral(vm.FromSmallInt(i))
			return
		}
	}
	g.pushLiteral(g.vm.Memory.NewBigInt(n))
}

// literalValue builds the object for a literal node.
func (g *Codegen) literalValue(e Expr) vm.Value {
	mem := g.vm.Memory
	switch l := e.(type) {
	case *IntLiteral:
		if l.Value.IsInt64() {
			return mem.NewInteger(l.Value.Int64())
		}
		return mem.NewBigInt(l.Value)
	case *FloatLiteral:
		return mem.NewFloat(l.Value)
	case *StringLiteral:
		return mem.NewString(l.Value)
	case *SymbolLiteral:
		return mem.Intern(l.Value)
	case *CharLiteral:
		return vm.FromChar(l.Value)
	case *ByteArrayLiteral:
		return mem.NewBytes(mem.Classes.ByteArray, l.Value)
	case *ArrayLiteral:
		elems := make([]vm.Value, len(l.Elements))
		for i, elem := range l.Elements {
			elems[i] = g.literalValue(elem)
		}
		return mem.NewArray(elems...)
	case *TrueLiteral:
		return vm.True
	case *FalseLiteral:
		return vm.False
	}
	return vm.Nil
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// vectorSlot answers the slot holding owner's temp vector in the current
// frame.
func (g *Codegen) vectorSlot(owner *frame) int {
	if owner == g.frame {
		return owner.vectorSlot
	}
	return g.frame.slots[owner]
}

func (g *Codegen) loadVar(v *variable) {
	switch {
	case v.remote():
		g.b.PushRemoteTemp(v.vectorIndex, g.vectorSlot(v.frame))
	case v.frame == g.frame:
		g.b.PushTemporary(v.slot)
	default:
		g.b.PushTemporary(g.frame.slots[v])
	}
}

func (g *Codegen) storeVar(v *variable, pop bool) {
	switch {
	case v.remote():
		g.b.StoreRemoteTemp(v.vectorIndex, g.vectorSlot(v.frame), pop)
	case v.frame == g.frame:
		g.b.StoreTemporary(v.slot, pop)
	default:
		g.errorf("cannot store into copied variable '%s'", v.name)
	}
}

func (g *Codegen) load(ref *Variable) {
	if v := g.a.refs[ref]; v != nil {
		g.loadVar(v)
		return
	}
	if i, ok := g.instVars[ref.Name]; ok {
		g.b.PushReceiverVariable(i)
		return
	}
	g.b.PushLiteralVariable(g.b.Literal(g.binding(ref.Name)))
}

func (g *Codegen) store(ref *Variable, pop bool) {
	if v := g.a.refs[ref]; v != nil {
		g.storeVar(v, pop)
		return
	}
	if i, ok := g.instVars[ref.Name]; ok {
		g.b.StoreReceiverVariable(i, pop)
		return
	}
	g.b.StoreLiteralVariable(g.b.Literal(g.binding(ref.Name)), pop)
}

// binding answers the association for a class variable or global,
// declaring an undeclared global bound to nil.
func (g *Codegen) binding(name string) vm.Value {
	if b, ok := g.class.BindingOf(name); ok {
		return b
	}
	b, _ := g.vm.GlobalBinding(name, true)
	return b
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

// compileBlock emits a closure: the copied values, the closure creation
// and the embedded body. The body pushes its temps and temp vector, then
// answers its last statement.
func (g *Codegen) compileBlock(block *Block) {
	f := g.a.blockFrames[block]
	for _, key := range f.copied {
		switch k := key.(type) {
		case *variable:
			g.loadVar(k)
		case *frame:
			g.b.PushTemporary(g.vectorSlot(k))
		}
	}
	end := g.b.NewLabel()
	g.b.PushClosure(len(f.copied), len(block.Parameters), end)

	outer := g.frame
	g.frame = f
	for i := 0; i < f.numLocals; i++ {
		g.b.PushNil()
	}
	if f.vectorSlot >= 0 {
		g.b.PushNewArray(len(f.vector), false)
	}
	if !g.sequence(block.Statements) {
		g.b.BlockReturnTop()
	}
	g.frame = outer
	g.b.Mark(end)
}

// inlineBody compiles an inlined block's statements in place, leaving
// their value. Declared temps start out nil on every entry.
func (g *Codegen) inlineBody(e Expr) {
	block := e.(*Block)
	vars := g.a.blockVars[block]
	for _, v := range vars[len(block.Parameters):] {
		g.b.PushNil()
		g.storeVar(v, true)
	}
	g.sequence(block.Statements)
}

// bindOrPop stores the value on top into the inlined block's parameter, or
// drops it when the block takes none.
func (g *Codegen) bindOrPop(e Expr) {
	block := e.(*Block)
	if len(block.Parameters) == 0 {
		g.b.Pop()
		return
	}
	g.storeVar(g.a.blockVars[block][0], true)
}

// ---------------------------------------------------------------------------
// Inlined control structures
// ---------------------------------------------------------------------------

func (g *Codegen) compileInlined(msg Expr, selector string, recv Expr, args []Expr) {
	b := g.b
	end := b.NewLabel()
	switch selector {
	case "ifTrue:", "ifFalse:":
		other := b.NewLabel()
		g.compileExpr(recv)
		g.jumpUnless(selector == "ifTrue:", other)
		g.inlineBody(args[0])
		b.Jump(end)
		b.Mark(other)
		b.PushNil()

	case "ifTrue:ifFalse:", "ifFalse:ifTrue:":
		other := b.NewLabel()
		g.compileExpr(recv)
		g.jumpUnless(selector == "ifTrue:ifFalse:", other)
		g.inlineBody(args[0])
		b.Jump(end)
		b.Mark(other)
		g.inlineBody(args[1])

	case "and:", "or:":
		short := b.NewLabel()
		g.compileExpr(recv)
		g.jumpUnless(selector == "and:", short)
		g.inlineBody(args[0])
		b.Jump(end)
		b.Mark(short)
		if selector == "and:" {
			b.PushFalse()
		} else {
			b.PushTrue()
		}

	case "whileTrue:", "whileFalse:", "whileTrue", "whileFalse":
		top := b.NewLabel()
		exit := b.NewLabel()
		b.Mark(top)
		g.inlineBody(recv)
		g.jumpUnless(selector == "whileTrue:" || selector == "whileTrue", exit)
		if len(args) > 0 {
			g.inlineBody(args[0])
			b.Pop()
		}
		b.Jump(top)
		b.Mark(exit)
		b.PushNil()

	case "repeat":
		top := b.NewLabel()
		b.Mark(top)
		g.inlineBody(recv)
		b.Pop()
		b.Jump(top)
		b.PushNil()

	case "timesRepeat:":
		hidden := g.a.hidden[msg]
		counter, limit := hidden[0], hidden[1]
		g.compileExpr(recv)
		g.storeVar(limit, true)
		b.PushSmallConstant(1)
		g.storeVar(counter, true)
		g.loop(counter, limit, 1, func() { g.inlineBody(args[0]) })
		b.PushNil()

	case "to:do:", "to:by:do:":
		body := args[len(args)-1]
		index := g.a.blockVars[body.(*Block)][0]
		limit := g.a.hidden[msg][0]
		step := int64(1)
		if selector == "to:by:do:" {
			step, _ = loopStep(args[1])
		}
		g.compileExpr(recv)
		g.storeVar(index, true)
		g.compileExpr(args[0])
		g.storeVar(limit, true)
		g.loop(index, limit, step, func() { g.inlineBody(body) })
		b.PushNil()

	case "ifNil:", "ifNotNil:", "ifNil:ifNotNil:", "ifNotNil:ifNil:":
		g.compileExpr(recv)
		b.Dup()
		b.PushNil()
		g.send("==", 1, false)
		switch selector {
		case "ifNil:":
			b.JumpIfFalse(end)
			b.Pop()
			g.inlineBody(args[0])
		case "ifNotNil:":
			b.JumpIfTrue(end)
			g.bindOrPop(args[0])
			g.inlineBody(args[0])
		default:
			nilBlock, notNilBlock := args[0], args[1]
			if selector == "ifNotNil:ifNil:" {
				nilBlock, notNilBlock = args[1], args[0]
			}
			notNil := b.NewLabel()
			b.JumpIfFalse(notNil)
			b.Pop()
			g.inlineBody(nilBlock)
			b.Jump(end)
			b.Mark(notNil)
			g.bindOrPop(notNilBlock)
			g.inlineBody(notNilBlock)
		}

	default:
		g.errorf("cannot inline %s", selector)
	}
	b.Mark(end)
}

// jumpUnless pops a condition and jumps to l when it is not when.
func (g *Codegen) jumpUnless(when bool, l *vm.Label) {
	if when {
		g.b.JumpIfFalse(l)
	} else {
		g.b.JumpIfTrue(l)
	}
}

// loop emits a counting loop: while index <= limit (>= for a negative
// step) run body for effect, then advance index by step. Nothing is left
// on the stack.
func (g *Codegen) loop(index, limit *variable, step int64, body func()) {
	b := g.b
	top := b.NewLabel()
	done := b.NewLabel()
	b.Mark(top)
	g.loadVar(index)
	g.loadVar(limit)
	if step > 0 {
		g.send("<=", 1, false)
	} else {
		g.send(">=", 1, false)
	}
	b.JumpIfFalse(done)
	body()
	b.Pop()
	g.loadVar(index)
	g.pushInteger(big.NewInt(step))
	g.send("+", 1, false)
	g.storeVar(index, true)
	b.Jump(top)
	b.Mark(done)
}
