package compiler

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Semantic analysis: scopes, checks and closure analysis
// ---------------------------------------------------------------------------

type varKind int

const (
	varArg varKind = iota
	varTemp
	varHidden // loop counters and limits of inlined loops
)

// variable is an argument or temporary. It lives in the frame of the
// method or real block that declares it, or that an inlined block is
// inlined into.
type variable struct {
	name     string
	kind     varKind
	frame    *frame
	captured bool // referenced from a block activation other than its own
	written  bool

	slot        int // frame slot when not remote
	vectorIndex int // temp vector slot when remote
}

// remote reports whether v lives in its frame's temp vector. Captured
// variables that are never assigned are copied into each closure instead.
func (v *variable) remote() bool { return v.captured && v.written }

// frame is one activation shape: the method itself or a real block.
type frame struct {
	outer *frame
	block *Block // nil for the method
	vars  []*variable
	free  []*variable // outer variables used here or in nested frames

	// layout
	numArgs    int
	copied     []interface{} // *variable copied by value, or *frame for its temp vector
	slots      map[interface{}]int
	numLocals  int // non-remote temps
	vector     []*variable
	vectorSlot int
	size       int
}

func (f *frame) addFree(v *variable) {
	for _, w := range f.free {
		if w == v {
			return
		}
	}
	f.free = append(f.free, v)
}

// layout assigns slots: arguments, copied values, local temps, then the
// temp vector.
func (f *frame) layout() {
	f.slots = make(map[interface{}]int)
	slot := f.numArgs
	for _, v := range f.free {
		var key interface{} = v
		if v.remote() {
			key = v.frame
		}
		if _, ok := f.slots[key]; ok {
			continue
		}
		f.slots[key] = slot
		f.copied = append(f.copied, key)
		slot++
	}
	for i, v := range f.vars {
		switch {
		case v.kind == varArg && i < f.numArgs:
			v.slot = i
		case v.remote():
			v.vectorIndex = len(f.vector)
			f.vector = append(f.vector, v)
		default:
			v.slot = slot
			slot++
			f.numLocals++
		}
	}
	f.vectorSlot = -1
	if len(f.vector) > 0 {
		f.vectorSlot = slot
		slot++
	}
	f.size = slot
}

type scope struct {
	outer *scope
	frame *frame
	names map[string]*variable
}

func (s *scope) lookup(name string) *variable {
	for ; s != nil; s = s.outer {
		if v, ok := s.names[name]; ok {
			return v
		}
	}
	return nil
}

// analysis is the result of analyzing one method.
type analysis struct {
	method      *frame
	frames      []*frame
	refs        map[*Variable]*variable
	blockFrames map[*Block]*frame
	blockVars   map[*Block][]*variable // parameters then temps of inlined blocks
	hidden      map[Node][]*variable
}

// SemanticAnalyzer checks a method and resolves its variables before code
// generation.
type SemanticAnalyzer struct {
	errors   []string
	warnings []string

	instVars map[string]bool
	resolves func(name string) bool // class variables and globals

	result *analysis
}

// NewSemanticAnalyzer creates an analyzer for a class with the given
// instance variables. resolves reports whether a name is a class variable
// or global; it may be nil.
func NewSemanticAnalyzer(instVars []string, resolves func(string) bool) *SemanticAnalyzer {
	s := &SemanticAnalyzer{
		instVars: make(map[string]bool),
		resolves: resolves,
	}
	for _, name := range instVars {
		s.instVars[name] = true
	}
	return s
}

// Errors returns accumulated analysis errors.
func (s *SemanticAnalyzer) Errors() []string {
	return s.errors
}

// Warnings returns accumulated warnings.
func (s *SemanticAnalyzer) Warnings() []string {
	return s.warnings
}

// errorAt records an error with position information.
func (s *SemanticAnalyzer) errorAt(node Node, format string, args ...interface{}) {
	pos := node.Span().Start
	msg := fmt.Sprintf("line %d, column %d: %s", pos.Line, pos.Column, fmt.Sprintf(format, args...))
	s.errors = append(s.errors, msg)
}

// warnAt records a warning with position information.
func (s *SemanticAnalyzer) warnAt(node Node, format string, args ...interface{}) {
	pos := node.Span().Start
	msg := fmt.Sprintf("line %d, column %d: %s", pos.Line, pos.Column, fmt.Sprintf(format, args...))
	s.warnings = append(s.warnings, msg)
}

// AnalyzeMethod performs semantic analysis on a method definition.
func (s *SemanticAnalyzer) AnalyzeMethod(method *MethodDef) {
	s.result = &analysis{
		refs:        make(map[*Variable]*variable),
		blockFrames: make(map[*Block]*frame),
		blockVars:   make(map[*Block][]*variable),
		hidden:      make(map[Node][]*variable),
	}
	f := s.newFrame(nil, nil, len(method.Parameters))
	s.result.method = f
	sc := &scope{frame: f, names: make(map[string]*variable)}

	for _, param := range method.Parameters {
		s.declare(sc, param, varArg, method)
	}
	for _, temp := range method.Temps {
		s.declare(sc, temp, varTemp, method)
	}

	s.analyzeStatements(sc, method.Statements)

	for _, fr := range s.result.frames {
		fr.layout()
	}
}

func (s *SemanticAnalyzer) newFrame(outer *frame, block *Block, numArgs int) *frame {
	f := &frame{outer: outer, block: block, numArgs: numArgs}
	s.result.frames = append(s.result.frames, f)
	return f
}

func (s *SemanticAnalyzer) declare(sc *scope, name string, kind varKind, at Node) *variable {
	if _, dup := sc.names[name]; dup {
		s.errorAt(at, "duplicate name '%s'", name)
	}
	if s.instVars[name] {
		s.warnAt(at, "'%s' shadows an instance variable", name)
	}
	v := &variable{name: name, kind: kind, frame: sc.frame}
	sc.frame.vars = append(sc.frame.vars, v)
	sc.names[name] = v
	return v
}

// hiddenTemp allocates an unnamed temporary in the current frame.
func (s *SemanticAnalyzer) hiddenTemp(sc *scope, owner Node) *variable {
	v := &variable{kind: varHidden, frame: sc.frame, written: true}
	sc.frame.vars = append(sc.frame.vars, v)
	s.result.hidden[owner] = append(s.result.hidden[owner], v)
	return v
}

// reference records a use of v from sc. A use from another frame captures
// v, and every frame between needs it as a copied value.
func (s *SemanticAnalyzer) reference(sc *scope, v *variable) {
	if v.frame == sc.frame {
		return
	}
	v.captured = true
	for f := sc.frame; f != nil && f != v.frame; f = f.outer {
		f.addFree(v)
	}
}

// analyzeStatements analyzes a list of statements.
func (s *SemanticAnalyzer) analyzeStatements(sc *scope, stmts []Stmt) {
	for i, stmt := range stmts {
		switch st := stmt.(type) {
		case *ExprStmt:
			s.analyzeExpr(sc, st.Expr)
		case *Return:
			s.analyzeExpr(sc, st.Value)
			if i < len(stmts)-1 {
				s.warnAt(stmts[i+1], "unreachable code after return")
			}
		}
	}
}

// analyzeExpr analyzes an expression.
func (s *SemanticAnalyzer) analyzeExpr(sc *scope, expr Expr) {
	switch e := expr.(type) {
	case *Variable:
		s.analyzeVariable(sc, e)
	case *Assignment:
		s.analyzeExpr(sc, e.Value)
		s.analyzeAssignment(sc, e)
	case *UnaryMessage:
		if inlinable(e) {
			s.analyzeInlined(sc, e, e.Receiver, nil)
			return
		}
		s.analyzeExpr(sc, e.Receiver)
	case *BinaryMessage:
		s.analyzeExpr(sc, e.Receiver)
		s.analyzeExpr(sc, e.Argument)
	case *KeywordMessage:
		if inlinable(e) {
			s.analyzeInlined(sc, e, e.Receiver, e.Arguments)
			return
		}
		s.analyzeExpr(sc, e.Receiver)
		for _, arg := range e.Arguments {
			s.analyzeExpr(sc, arg)
		}
	case *Cascade:
		s.analyzeExpr(sc, e.Receiver)
		for _, msg := range e.Messages {
			for _, arg := range msg.Arguments {
				s.analyzeExpr(sc, arg)
			}
		}
	case *Block:
		s.analyzeBlock(sc, e)
	case *DynamicArray:
		for _, elem := range e.Elements {
			s.analyzeExpr(sc, elem)
		}
	}
}

// analyzeVariable resolves a name: scope variables first, then instance
// variables, class variables and globals. Unknown names are warned about
// and later declared as undeclared globals.
func (s *SemanticAnalyzer) analyzeVariable(sc *scope, v *Variable) *variable {
	if sv := sc.lookup(v.Name); sv != nil {
		s.result.refs[v] = sv
		s.reference(sc, sv)
		return sv
	}
	if s.instVars[v.Name] || (s.resolves != nil && s.resolves(v.Name)) {
		return nil
	}
	s.warnAt(v, "undeclared variable '%s'", v.Name)
	return nil
}

func (s *SemanticAnalyzer) analyzeAssignment(sc *scope, a *Assignment) {
	sv := s.analyzeVariable(sc, a.Variable)
	if sv == nil {
		return
	}
	if sv.kind == varArg {
		s.errorAt(a, "cannot assign to argument '%s'", sv.name)
		return
	}
	sv.written = true
}

// analyzeBlock analyzes a real block: it gets its own frame.
func (s *SemanticAnalyzer) analyzeBlock(sc *scope, block *Block) {
	f := s.newFrame(sc.frame, block, len(block.Parameters))
	s.result.blockFrames[block] = f
	inner := &scope{outer: sc, frame: f, names: make(map[string]*variable)}
	for _, param := range block.Parameters {
		s.declare(inner, param, varArg, block)
	}
	for _, temp := range block.Temps {
		s.declare(inner, temp, varTemp, block)
	}
	s.analyzeStatements(inner, block.Statements)
}

// analyzeInlinedBlock analyzes a block whose body is compiled in place. Its
// parameters and temps become temps of the enclosing frame; parameters are
// assigned by the generated code.
func (s *SemanticAnalyzer) analyzeInlinedBlock(sc *scope, block *Block) {
	inner := &scope{outer: sc, frame: sc.frame, names: make(map[string]*variable)}
	var vars []*variable
	for _, param := range block.Parameters {
		v := s.declare(inner, param, varTemp, block)
		v.written = true
		vars = append(vars, v)
	}
	for _, temp := range block.Temps {
		vars = append(vars, s.declare(inner, temp, varTemp, block))
	}
	s.result.blockVars[block] = vars
	s.analyzeStatements(inner, block.Statements)
}

// analyzeInlined walks an inlined control structure in evaluation order.
func (s *SemanticAnalyzer) analyzeInlined(sc *scope, msg Expr, recv Expr, args []Expr) {
	switch selectorOf(msg) {
	case "to:do:", "to:by:do:":
		s.hiddenTemp(sc, msg) // limit
	case "timesRepeat:":
		s.hiddenTemp(sc, msg) // counter
		s.hiddenTemp(sc, msg) // limit
	}
	for _, e := range append([]Expr{recv}, args...) {
		if b, ok := e.(*Block); ok && inlinedOperand(msg, e) {
			s.analyzeInlinedBlock(sc, b)
			continue
		}
		s.analyzeExpr(sc, e)
	}
}

// ---------------------------------------------------------------------------
// Inlined control structures
// ---------------------------------------------------------------------------

func selectorOf(msg Expr) string {
	switch m := msg.(type) {
	case *UnaryMessage:
		return m.Selector
	case *KeywordMessage:
		return m.Selector
	}
	return ""
}

// blockArity answers the parameter count of a literal block, or -1.
func blockArity(e Expr) int {
	if b, ok := e.(*Block); ok {
		return len(b.Parameters)
	}
	return -1
}

// inlinable reports whether a send is compiled as a control structure
// rather than a real send. The operands must be literal blocks of the
// right arity.
func inlinable(msg Expr) bool {
	switch m := msg.(type) {
	case *UnaryMessage:
		switch m.Selector {
		case "whileTrue", "whileFalse", "repeat":
			return blockArity(m.Receiver) == 0
		}
	case *KeywordMessage:
		if _, ok := m.Receiver.(*Super); ok {
			return false
		}
		args := m.Arguments
		switch m.Selector {
		case "ifTrue:", "ifFalse:", "and:", "or:", "timesRepeat:", "ifNil:":
			return blockArity(args[0]) == 0
		case "ifTrue:ifFalse:", "ifFalse:ifTrue:":
			return blockArity(args[0]) == 0 && blockArity(args[1]) == 0
		case "whileTrue:", "whileFalse:":
			return blockArity(m.Receiver) == 0 && blockArity(args[0]) == 0
		case "ifNotNil:":
			return blockArity(args[0]) == 0 || blockArity(args[0]) == 1
		case "ifNil:ifNotNil:":
			a := blockArity(args[1])
			return blockArity(args[0]) == 0 && (a == 0 || a == 1)
		case "ifNotNil:ifNil:":
			a := blockArity(args[0])
			return blockArity(args[1]) == 0 && (a == 0 || a == 1)
		case "to:do:":
			return blockArity(args[1]) == 1
		case "to:by:do:":
			_, ok := loopStep(args[1])
			return ok && blockArity(args[2]) == 1
		}
	}
	return false
}

// inlinedOperand reports whether operand e of an inlined send is a block
// compiled in place.
func inlinedOperand(msg Expr, e Expr) bool {
	if _, ok := e.(*Block); !ok {
		return false
	}
	switch m := msg.(type) {
	case *UnaryMessage:
		return e == m.Receiver
	case *KeywordMessage:
		switch m.Selector {
		case "whileTrue:", "whileFalse:":
			return true
		case "to:do:", "to:by:do:":
			return e == m.Arguments[len(m.Arguments)-1]
		}
		return e != m.Receiver
	}
	return false
}

// loopStep answers the literal step of to:by:do:, which must be a nonzero
// SmallInteger literal.
func loopStep(e Expr) (int64, bool) {
	lit, ok := e.(*IntLiteral)
	if !ok || !lit.Value.IsInt64() {
		return 0, false
	}
	n := lit.Value.Int64()
	if n == 0 || n > 1<<30 || n < -(1<<30) {
		return 0, false
	}
	return n, true
}

// ---------------------------------------------------------------------------
// Integration with Compile function
// ---------------------------------------------------------------------------

// Analyze runs semantic analysis on a method and returns its errors and
// warnings.
func Analyze(method *MethodDef, instVars []string) (errors, warnings []string) {
	analyzer := NewSemanticAnalyzer(instVars, nil)
	analyzer.AnalyzeMethod(method)
	return analyzer.Errors(), analyzer.Warnings()
}
