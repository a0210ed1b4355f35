package vm

import "fmt"

// MaxLiterals is the largest literal frame a method may carry.
const MaxLiterals = 256

// ---------------------------------------------------------------------------
// CompiledMethod: bytecodes, literal frame and header fields
// ---------------------------------------------------------------------------

// CompiledMethod is an immutable compiled method. Block bodies are embedded
// in the bytecodes of their home method and share its literal frame.
type CompiledMethod struct {
	header

	NumArgs   int
	NumTemps  int // arguments included
	FrameSize int // temps plus maximum operand depth, set by Verify
	Primitive int // 0 for none

	Literals  []Value
	Bytecodes []byte

	Selector     Value
	SelectorName string
	MethodClass  *Class
	Source       string

	sites []sendSite // lazily sized to the bytecodes, indexed by pc
}

// String renders Class>>selector.
func (m *CompiledMethod) String() string {
	if m.MethodClass == nil {
		return "nil>>" + m.SelectorName
	}
	return m.MethodClass.DisplayName() + ">>" + m.SelectorName
}

// IsUnwindMarked reports whether activations of m are ensure:/ifCurtailed:
// contexts.
func (m *CompiledMethod) IsUnwindMarked() bool { return m.Primitive == 198 }

// IsHandlerMarked reports whether activations of m are on:do: contexts.
func (m *CompiledMethod) IsHandlerMarked() bool { return m.Primitive == 199 }

// Literal pointer slots are readable; methods are never mutated in place.
func (m *CompiledMethod) NumSlots() int { return len(m.Literals) }

func (m *CompiledMethod) FetchPointer(i int) (Value, error) {
	if i < 0 || i >= len(m.Literals) {
		return Nil, ErrIndexOutOfBounds
	}
	return m.Literals[i], nil
}

func (m *CompiledMethod) StorePointer(int, Value) error { return ErrImmutable }

func (m *CompiledMethod) references(visit func(Value)) {
	m.visitClass(visit)
	for _, lit := range m.Literals {
		visit(lit)
	}
	visit(m.Selector)
	if m.MethodClass != nil {
		visit(m.MethodClass.oop)
	}
}

// site returns the send-site cache slot for the send at pc.
func (m *CompiledMethod) site(pc int) *sendSite {
	if m.sites == nil {
		m.sites = make([]sendSite, len(m.Bytecodes))
	}
	return &m.sites[pc]
}

// Disassemble renders the method's bytecodes.
func (m *CompiledMethod) Disassemble(mem *Memory) string {
	return Disassemble(m.Bytecodes, func(i int) string {
		if i >= len(m.Literals) {
			return fmt.Sprintf("<bad literal %d>", i)
		}
		return mem.DescribeLiteral(m.Literals[i])
	})
}

// DescribeLiteral renders a literal for disassembly.
func (mem *Memory) DescribeLiteral(v Value) string {
	if s := mem.SymbolName(v); s != "" {
		return "#" + s
	}
	if s, ok := mem.StringValue(v); ok {
		return fmt.Sprintf("%q", s)
	}
	if f, ok := mem.FloatValue(v); ok {
		return fmt.Sprintf("%g", f)
	}
	if b, ok := mem.BigInt(v); ok {
		return b.String()
	}
	if c := mem.ClassFor(v); c != nil {
		return c.DisplayName()
	}
	if a := mem.Pointers(v); a != nil && a.Class() == mem.Classes.Association && len(a.Slots) == 2 {
		return mem.SymbolName(a.Slots[0]) + "->" + a.Slots[1].String()
	}
	if p := mem.Pointers(v); p != nil && p.Class() == mem.Classes.Array {
		return fmt.Sprintf("#(%d elements)", len(p.Slots))
	}
	return v.String()
}

// ---------------------------------------------------------------------------
// MethodBuilder
// ---------------------------------------------------------------------------

// MethodBuilder assembles a CompiledMethod: bytecodes through the embedded
// BytecodeBuilder, literals through Literal.
type MethodBuilder struct {
	*BytecodeBuilder

	mem       *Memory
	class     *Class
	selector  string
	numArgs   int
	NumTemps  int
	Primitive int
	Source    string
	literals  []Value
}

// NewMethodBuilder starts a method for selector in class.
func NewMethodBuilder(mem *Memory, class *Class, selector string, numArgs int) *MethodBuilder {
	return &MethodBuilder{
		BytecodeBuilder: NewBytecodeBuilder(),
		mem:             mem,
		class:           class,
		selector:        selector,
		numArgs:         numArgs,
		NumTemps:        numArgs,
	}
}

// Memory returns the memory literals are allocated in.
func (b *MethodBuilder) Memory() *Memory { return b.mem }

// Literal adds v to the literal frame, reusing an identical entry.
func (b *MethodBuilder) Literal(v Value) int {
	for i, lit := range b.literals {
		if lit == v {
			return i
		}
	}
	if len(b.literals) >= MaxLiterals {
		b.fail("method %s has more than %d literals", b.selector, MaxLiterals)
		return 0
	}
	b.literals = append(b.literals, v)
	return len(b.literals) - 1
}

// SelectorLiteral adds an interned selector to the literal frame.
func (b *MethodBuilder) SelectorLiteral(name string) int {
	return b.Literal(b.mem.Intern(name))
}

// Build finishes the method, verifies it and registers it in memory.
func (b *MethodBuilder) Build() (*CompiledMethod, error) {
	code, err := b.Finish()
	if err != nil {
		return nil, err
	}
	m := &CompiledMethod{
		NumArgs:      b.numArgs,
		NumTemps:     b.NumTemps,
		Primitive:    b.Primitive,
		Literals:     b.literals,
		Bytecodes:    code,
		SelectorName: b.selector,
		Selector:     b.mem.Intern(b.selector),
		MethodClass:  b.class,
		Source:       b.Source,
	}
	if err := Verify(m); err != nil {
		return nil, fmt.Errorf("%s: %w", m, err)
	}
	b.mem.register(m, b.mem.Classes.CompiledMethod)
	return m, nil
}

// instructionStart reports whether pc begins an instruction or is the end
// of the method.
func (m *CompiledMethod) instructionStart(pc int) bool {
	at := 0
	for at < pc {
		in, err := Decode(m.Bytecodes, at)
		if err != nil {
			return false
		}
		at = in.Next()
	}
	return at == pc
}
