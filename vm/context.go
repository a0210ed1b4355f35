package vm

// ---------------------------------------------------------------------------
// Context: heap-allocated activation record
// ---------------------------------------------------------------------------

// Named slots of a Context as seen from Smalltalk.
const (
	ContextSender = iota
	ContextPC
	ContextStackp
	ContextMethod
	ContextClosureOrNil
	ContextReceiver
	ContextInstSize
)

// Context is one method or block activation. The frame holds arguments,
// then temporaries (copied values for blocks), then the operand stack; sp is
// the number of live frame slots.
//
// A context is dead once it has returned or been unwound: its pc is -1 and
// its sender nil.
type Context struct {
	header

	sender   Value
	pc       int
	sp       int
	method   *CompiledMethod
	closure  Value
	receiver Value
	stack    []Value
}

func (c *Context) Sender() Value { return c.sender }
func (c *Context) PC() int { return c.pc }
func (c *Context) SP() int { return c.sp }
func (c *Context) Method() *CompiledMethod { return c.method }
func (c *Context) Receiver() Value { return c.receiver }
func (c *Context) ClosureOrNil() Value { return c.closure }
func (c *Context) IsBlockContext() bool { return c.closure != Nil }
func (c *Context) IsDead() bool { return c.pc < 0 }
func (c *Context) Frame() []Value { return c.stack[:c.sp] }
func (c *Context) TempAt(i int) Value { return c.stack[i] }
func (c *Context) SetTempAt(i int, v Value) { c.stack[i] = v }
func (c *Context) top() Value { return c.stack[c.sp-1] }
func (c *Context) peek(n int) Value { return c.stack[c.sp-1-n] }
func (c *Context) setTop(v Value) { c.stack[c.sp-1] = v }
func (c *Context) drop(n int) { c.sp -= n }
func (c *Context) args(n int) []Value { return c.stack[c.sp-n : c.sp] }

func (c *Context) push(v Value) bool {
	if c.sp >= len(c.stack) {
		return false
	}
	c.stack[c.sp] = v
	c.sp++
	return true
}

// reserve grows the frame so n more values fit. Only host-initiated sends
// (perform:, valueWithArguments:) push beyond the verified frame size.
func (c *Context) reserve(n int) {
	if need := c.sp + n; need > len(c.stack) {
		grown := make([]Value, need+frameSlack)
		copy(grown, c.stack[:c.sp])
		c.stack = grown
	}
}

func (c *Context) pop() Value {
	c.sp--
	return c.stack[c.sp]
}

// markDead detaches the context from the chain.
func (c *Context) markDead() {
	c.pc = -1
	c.sender = Nil
}

// NumSlots covers the named slots and the live part of the frame.
func (c *Context) NumSlots() int { return ContextInstSize + c.sp }

func (c *Context) FetchPointer(i int) (Value, error) {
	switch i {
	case ContextSender:
		return c.sender, nil
	case ContextPC:
		if c.pc < 0 {
			return Nil, nil
		}
		return FromSmallInt(int64(c.pc)), nil
	case ContextStackp:
		return FromSmallInt(int64(c.sp)), nil
	case ContextMethod:
		return c.method.oop, nil
	case ContextClosureOrNil:
		return c.closure, nil
	case ContextReceiver:
		return c.receiver, nil
	}
	i -= ContextInstSize
	if i < 0 || i >= c.sp {
		return Nil, ErrIndexOutOfBounds
	}
	return c.stack[i], nil
}

// StorePointer writes a named slot or a frame slot. The sender must be a
// context or nil (checked by the caller, which holds the memory), the pc
// and stack pointer must be in range.
func (c *Context) StorePointer(i int, v Value) error {
	switch i {
	case ContextSender:
		c.sender = v
		return nil
	case ContextPC:
		if v == Nil {
			c.pc = -1
			return nil
		}
		if !v.IsSmallInt() || v.SmallInt() < 0 || v.SmallInt() > int64(len(c.method.Bytecodes)) {
			return ErrWrongKind
		}
		if !c.method.instructionStart(int(v.SmallInt())) {
			return ErrIndexOutOfBounds
		}
		c.pc = int(v.SmallInt())
		return nil
	case ContextStackp:
		if !v.IsSmallInt() || v.SmallInt() < 0 || v.SmallInt() > int64(len(c.stack)) {
			return ErrWrongKind
		}
		n := int(v.SmallInt())
		for j := c.sp; j < n; j++ {
			c.stack[j] = Nil
		}
		c.sp = n
		return nil
	case ContextMethod:
		return ErrImmutable
	case ContextClosureOrNil:
		c.closure = v
		return nil
	case ContextReceiver:
		c.receiver = v
		return nil
	}
	i -= ContextInstSize
	if i < 0 || i >= c.sp {
		return ErrIndexOutOfBounds
	}
	c.stack[i] = v
	return nil
}

func (c *Context) references(visit func(Value)) {
	c.visitClass(visit)
	visit(c.sender)
	visit(c.method.oop)
	visit(c.closure)
	visit(c.receiver)
	for _, v := range c.stack[:c.sp] {
		visit(v)
	}
}

// ---------------------------------------------------------------------------
// BlockClosure
// ---------------------------------------------------------------------------

// Named slots of a BlockClosure.
const (
	ClosureOuterContext = iota
	ClosureStartPC
	ClosureNumArgs
	ClosureInstSize
)

// BlockClosure is a block: its outer context, the pc its body starts at,
// its argument count and the values copied in at creation.
type BlockClosure struct {
	header

	outerContext Value
	startPC      int
	numArgs      int
	copied       []Value
}

func (b *BlockClosure) OuterContext() Value { return b.outerContext }
func (b *BlockClosure) StartPC() int { return b.startPC }
func (b *BlockClosure) NumArgs() int { return b.numArgs }
func (b *BlockClosure) Copied() []Value { return b.copied }

func (b *BlockClosure) NumSlots() int { return ClosureInstSize + len(b.copied) }

func (b *BlockClosure) FetchPointer(i int) (Value, error) {
	switch i {
	case ClosureOuterContext:
		return b.outerContext, nil
	case ClosureStartPC:
		return FromSmallInt(int64(b.startPC)), nil
	case ClosureNumArgs:
		return FromSmallInt(int64(b.numArgs)), nil
	}
	i -= ClosureInstSize
	if i < 0 || i >= len(b.copied) {
		return Nil, ErrIndexOutOfBounds
	}
	return b.copied[i], nil
}

// StorePointer only allows the copied values to change.
func (b *BlockClosure) StorePointer(i int, v Value) error {
	i -= ClosureInstSize
	if i < -ClosureInstSize {
		return ErrIndexOutOfBounds
	}
	if i < 0 {
		return ErrImmutable
	}
	if i >= len(b.copied) {
		return ErrIndexOutOfBounds
	}
	b.copied[i] = v
	return nil
}

func (b *BlockClosure) references(visit func(Value)) {
	b.visitClass(visit)
	visit(b.outerContext)
	for _, v := range b.copied {
		visit(v)
	}
}

// ---------------------------------------------------------------------------
// Allocation and chain walking
// ---------------------------------------------------------------------------

// newMethodContext allocates an activation of method. The receiver and
// arguments are installed; the remaining temps are nil.
func (m *Memory) newMethodContext(method *CompiledMethod, receiver Value, args []Value, sender Value) *Context {
	c := &Context{
		sender:   sender,
		method:   method,
		closure:  Nil,
		receiver: receiver,
		stack:    make([]Value, method.FrameSize+frameSlack),
		sp:       method.NumTemps,
	}
	copy(c.stack, args)
	m.register(c, m.Classes.Context)
	return c
}

// newBlockContext allocates an activation of closure with args.
func (m *Memory) newBlockContext(closure *BlockClosure, outer *Context, args []Value, sender Value) *Context {
	c := &Context{
		sender:   sender,
		pc:       closure.startPC,
		method:   outer.method,
		closure:  closure.oop,
		receiver: outer.receiver,
		stack:    make([]Value, outer.method.FrameSize+frameSlack),
	}
	c.sp = copy(c.stack, args)
	c.sp += copy(c.stack[c.sp:], closure.copied)
	m.register(c, m.Classes.Context)
	return c
}

// newClosure allocates a closure over outer.
func (m *Memory) newClosure(outer *Context, startPC, numArgs int, copied []Value) *BlockClosure {
	b := &BlockClosure{
		outerContext: outer.oop,
		startPC:      startPC,
		numArgs:      numArgs,
		copied:       copied,
	}
	m.register(b, m.Classes.BlockClosure)
	return b
}

// Home returns the method context a block context's closure was created
// in, or c itself for a method context. It answers nil when an outer
// context is missing.
func (m *Memory) Home(c *Context) *Context {
	for c != nil && c.closure != Nil {
		b := m.Closure(c.closure)
		if b == nil {
			return nil
		}
		c = m.ContextFor(b.outerContext)
	}
	return c
}

// senderOf resolves c's sender, nil at the bottom of the chain.
func (m *Memory) senderOf(c *Context) *Context {
	return m.ContextFor(c.sender)
}

// isOnChain reports whether target is c or reached from c through senders.
func (m *Memory) isOnChain(c, target *Context) bool {
	for ; c != nil; c = m.senderOf(c) {
		if c == target {
			return true
		}
	}
	return false
}
