package vm

import (
	"context"
	"fmt"
)

// frameSlack is the headroom every frame has beyond its verified size, for
// sends the interpreter itself makes (cannotReturn:, aboutToReturn:through:).
const frameSlack = 3

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Send sends selector to receiver with args and runs the interpreter until
// that send returns. Unhandled Smalltalk errors come back as *UnhandledError;
// fatal conditions as *FatalError or a sentinel error.
func (vm *VM) Send(ctx context.Context, receiver Value, selector string, args ...Value) (Value, error) {
	return vm.run(ctx, receiver, selector, args, nil)
}

// Evaluate runs a compiled doit with nil as the receiver.
func (vm *VM) Evaluate(ctx context.Context, method *CompiledMethod) (Value, error) {
	return vm.run(ctx, Nil, method.SelectorName, nil, method)
}

// EvaluateWith runs a compiled doit against receiver.
func (vm *VM) EvaluateWith(ctx context.Context, receiver Value, method *CompiledMethod) (Value, error) {
	return vm.run(ctx, receiver, method.SelectorName, nil, method)
}

// run builds an entry context whose only instruction is the send, then
// interprets until the entry context returns.
func (vm *VM) run(ctx context.Context, receiver Value, selector string, args []Value, direct *CompiledMethod) (Value, error) {
	if vm.running {
		return Nil, ErrReentrant
	}
	nargs := len(args)
	if direct != nil && direct.NumArgs != nargs {
		return Nil, fmt.Errorf("vm: %s takes %d arguments", direct, direct.NumArgs)
	}
	// The receiver and arguments are the driver's temps.
	b := NewMethodBuilder(vm.Memory, vm.Memory.Classes.UndefinedObject, selector, 0)
	b.NumTemps = nargs + 1
	for i := 0; i <= nargs; i++ {
		b.PushTemporary(i)
	}
	b.Send(b.SelectorLiteral(selector), nargs)
	b.ReturnTop()
	driver, err := b.Build()
	if err != nil {
		return Nil, err
	}

	temps := append([]Value{receiver}, args...)
	entry := vm.Memory.newMethodContext(driver, Nil, temps, Nil)

	vm.running = true
	vm.done = false
	vm.err = nil
	vm.result = Nil
	vm.entry = entry
	vm.entryProcess = vm.activeProcess()
	vm.active = entry
	defer func() {
		vm.restoreEntryProcess()
		vm.running = false
		vm.entry = nil
		vm.active = nil
	}()

	if direct != nil {
		// Skip to the return and activate the method in place of the send.
		entry.pc = len(driver.Bytecodes) - 1
		for _, v := range temps {
			entry.push(v)
		}
		vm.activate(direct, nargs)
	}
	vm.interpret(ctx)
	if vm.err != nil {
		return Nil, vm.err
	}
	return vm.result, nil
}

// finish ends the current run with value.
func (vm *VM) finish(value Value) {
	vm.result = value
	vm.done = true
}

// halt ends the current run with a fatal error.
func (vm *VM) halt(err error) {
	if vm.done {
		return
	}
	fe := &FatalError{Err: err}
	if c := vm.active; c != nil && c.method != nil {
		fe.Selector = c.method.SelectorName
		if c.method.MethodClass != nil {
			fe.Class = c.method.MethodClass.DisplayName()
		}
	}
	log.Errorf("halted: %s", fe)
	vm.err = fe
	vm.done = true
}

// ---------------------------------------------------------------------------
// The dispatch loop
// ---------------------------------------------------------------------------

func (vm *VM) interpret(ctx context.Context) {
	countdown := vm.opts.CheckInterval
	for !vm.done {
		if countdown--; countdown <= 0 {
			countdown = vm.opts.CheckInterval
			if err := ctx.Err(); err != nil {
				vm.err = fmt.Errorf("vm: interrupted: %w", err)
				return
			}
			if len(vm.timers) > 0 {
				vm.fireTimers()
			}
			if vm.Memory.sinceGC >= vm.opts.GCThreshold {
				vm.collectGarbage()
			}
		}
		if vm.active == nil {
			vm.idle(ctx)
			continue
		}

		c := vm.active
		code := c.method.Bytecodes
		pc := c.pc
		if pc < 0 || pc >= len(code) {
			vm.halt(fmt.Errorf("%w: pc %d outside %s", ErrVerify, pc, c.method))
			return
		}
		b := int(code[pc])
		c.pc++

		switch {
		case b < 16:
			vm.push(vm.receiverVariable(c, b))
		case b < 32:
			vm.push(c.stack[b-16])
		case b < 64:
			vm.push(c.method.Literals[b-32])
		case b < 96:
			vm.push(vm.literalVariable(c, b-64))
		case b < 104:
			vm.storeReceiverVariable(c, b-96, c.pop())
		case b < 112:
			c.stack[b-104] = c.pop()
		case b == BCPushSelf:
			vm.push(c.receiver)
		case b == BCPushTrue:
			vm.push(True)
		case b == BCPushFalse:
			vm.push(False)
		case b == BCPushNil:
			vm.push(Nil)
		case b <= BCPushTwo:
			vm.push(FromSmallInt(int64(b - BCPushZero)))
		case b == BCReturnSelf:
			vm.methodReturn(c.receiver)
		case b == BCReturnTrue:
			vm.methodReturn(True)
		case b == BCReturnFalse:
			vm.methodReturn(False)
		case b == BCReturnNil:
			vm.methodReturn(Nil)
		case b == BCReturnTop:
			vm.methodReturn(c.top())
		case b == BCBlockReturnTop:
			vm.returnToSender(c, c.top())
		case b < BCExtendedPush:
			vm.halt(fmt.Errorf("%w: unused bytecode %d", ErrVerify, b))
		case b < BCPop:
			vm.extended(c, b, pc)
		case b == BCPop:
			c.drop(1)
		case b == BCDup:
			vm.push(c.top())
		case b == BCPushThisContext:
			vm.push(c.oop)
		case b == BCPushNewArray:
			vm.pushNewArray(c, int(code[pc+1]))
		case b == 139:
			vm.halt(fmt.Errorf("%w: unused bytecode %d", ErrVerify, b))
		case b == BCPushRemoteTemp:
			vm.push(vm.remoteTemp(c, int(code[pc+1]), int(code[pc+2])))
			c.pc += 2
		case b == BCStoreRemoteTemp:
			vm.storeRemoteTemp(c, int(code[pc+1]), int(code[pc+2]), c.top())
			c.pc += 2
		case b == BCPopStoreRemoteTemp:
			vm.storeRemoteTemp(c, int(code[pc+1]), int(code[pc+2]), c.pop())
			c.pc += 2
		case b == BCPushClosure:
			vm.pushClosure(c, int(code[pc+1]), int(code[pc+2])<<8|int(code[pc+3]))
		case b < BCShortJumpIfFalse:
			c.pc += b - BCShortJump + 1
		case b < BCLongJump:
			vm.jumpIf(c, False, pc, b-BCShortJumpIfFalse+1)
		case b < BCLongJumpIfTrue:
			c.pc += 1 + (b-164)*256 + int(code[pc+1])
		case b < BCLongJumpIfFalse:
			c.pc++
			vm.jumpIf(c, True, pc, (b&3)*256+int(code[pc+1]))
		case b < BCSendSpecial:
			c.pc++
			vm.jumpIf(c, False, pc, (b&3)*256+int(code[pc+1]))
		case b < BCSendLiteral0:
			vm.sendSpecial(c, b-BCSendSpecial, pc)
		default:
			lit := b & 15
			vm.send(c, c.method.Literals[lit], (b-BCSendLiteral0)>>4, false, pc)
		}
	}
}

func (vm *VM) push(v Value) {
	if !vm.active.push(v) {
		vm.halt(ErrStackOverflow)
	}
}

// extended executes bytecodes 128-134.
func (vm *VM) extended(c *Context, b, pc int) {
	code := c.method.Bytecodes
	d := int(code[pc+1])
	c.pc++
	switch b {
	case BCExtendedPush:
		i := d & 63
		switch d >> 6 {
		case 0:
			vm.push(vm.receiverVariable(c, i))
		case 1:
			vm.push(c.stack[i])
		case 2:
			vm.push(c.method.Literals[i])
		case 3:
			vm.push(vm.literalVariable(c, i))
		}
	case BCExtendedStore, BCExtendedPopStore:
		i := d & 63
		v := c.top()
		if b == BCExtendedPopStore {
			c.drop(1)
		}
		switch d >> 6 {
		case 0:
			vm.storeReceiverVariable(c, i, v)
		case 1:
			c.stack[i] = v
		case 2:
			vm.halt(fmt.Errorf("%w: store into literal constant", ErrVerify))
		case 3:
			vm.storeLiteralVariable(c, i, v)
		}
	case BCSingleExtendedSend:
		vm.send(c, c.method.Literals[d&31], d>>5, false, pc)
	case BCDoubleExtended:
		lit := int(code[pc+2])
		c.pc++
		switch d >> 5 {
		case 0:
			vm.send(c, c.method.Literals[lit], d&31, false, pc)
		case 1:
			vm.send(c, c.method.Literals[lit], d&31, true, pc)
		case 2:
			vm.push(vm.receiverVariable(c, lit))
		case 3:
			vm.push(c.method.Literals[lit])
		case 4:
			vm.push(vm.literalVariable(c, lit))
		case 5:
			vm.storeReceiverVariable(c, lit, c.top())
		case 6:
			vm.storeReceiverVariable(c, lit, c.pop())
		case 7:
			vm.storeLiteralVariable(c, lit, c.top())
		}
	case BCSingleExtendedSuper:
		vm.send(c, c.method.Literals[d&31], d>>5, true, pc)
	case BCSecondExtendedSend:
		vm.send(c, c.method.Literals[d&63], d>>6, false, pc)
	}
}

// ---------------------------------------------------------------------------
// Variable access
// ---------------------------------------------------------------------------

func (vm *VM) receiverVariable(c *Context, i int) Value {
	o := vm.Memory.object(c.receiver)
	if o == nil {
		vm.halt(fmt.Errorf("%w: receiver variable %d of %s", ErrNotAnObject, i, c.receiver))
		return Nil
	}
	v, err := o.FetchPointer(i)
	if err != nil {
		vm.halt(fmt.Errorf("receiver variable %d: %w", i, err))
	}
	return v
}

func (vm *VM) storeReceiverVariable(c *Context, i int, v Value) {
	o := vm.Memory.object(c.receiver)
	if o == nil {
		vm.halt(fmt.Errorf("%w: receiver variable %d of %s", ErrNotAnObject, i, c.receiver))
		return
	}
	if err := o.StorePointer(i, v); err != nil {
		vm.halt(fmt.Errorf("receiver variable %d: %w", i, err))
	}
}

func (vm *VM) binding(c *Context, i int) *PointersObject {
	assoc := vm.Memory.Pointers(c.method.Literals[i])
	if assoc == nil || len(assoc.Slots) < 2 {
		vm.halt(fmt.Errorf("%w: literal %d is not a binding", ErrWrongKind, i))
		return nil
	}
	return assoc
}

func (vm *VM) literalVariable(c *Context, i int) Value {
	if assoc := vm.binding(c, i); assoc != nil {
		return assoc.Slots[1]
	}
	return Nil
}

func (vm *VM) storeLiteralVariable(c *Context, i int, v Value) {
	if assoc := vm.binding(c, i); assoc != nil {
		assoc.Slots[1] = v
	}
}

func (vm *VM) tempVector(c *Context, vector int) *PointersObject {
	p := vm.Memory.Pointers(c.stack[vector])
	if p == nil {
		vm.halt(fmt.Errorf("%w: temp %d is not a temp vector", ErrWrongKind, vector))
	}
	return p
}

func (vm *VM) remoteTemp(c *Context, index, vector int) Value {
	p := vm.tempVector(c, vector)
	if p == nil {
		return Nil
	}
	if index >= len(p.Slots) {
		vm.halt(fmt.Errorf("remote temp %d: %w", index, ErrIndexOutOfBounds))
		return Nil
	}
	return p.Slots[index]
}

func (vm *VM) storeRemoteTemp(c *Context, index, vector int, v Value) {
	p := vm.tempVector(c, vector)
	if p == nil {
		return
	}
	if index >= len(p.Slots) {
		vm.halt(fmt.Errorf("remote temp %d: %w", index, ErrIndexOutOfBounds))
		return
	}
	p.Slots[index] = v
}

// ---------------------------------------------------------------------------
// Arrays, closures and jumps
// ---------------------------------------------------------------------------

func (vm *VM) pushNewArray(c *Context, d int) {
	c.pc++
	size := d & 127
	slots := make([]Value, size)
	if d&128 != 0 {
		copy(slots, c.stack[c.sp-size:c.sp])
		c.drop(size)
	}
	vm.push(vm.Memory.NewPointersWith(vm.Memory.Classes.Array, slots))
}

func (vm *VM) pushClosure(c *Context, d, size int) {
	c.pc += 3
	numCopied, numArgs := d>>4, d&15
	copied := make([]Value, numCopied)
	copy(copied, c.stack[c.sp-numCopied:c.sp])
	c.drop(numCopied)
	closure := vm.Memory.newClosure(c, c.pc, numArgs, copied)
	vm.push(closure.oop)
	c.pc += size
}

// jumpIf pops the condition and jumps by delta when it equals when. A
// non-boolean is sent mustBeBoolean with the pc reset to the jump, so the
// jump is retried with the answer.
func (vm *VM) jumpIf(c *Context, when Value, jumpPC, delta int) {
	cond := c.top()
	switch cond {
	case when:
		c.drop(1)
		c.pc += delta
	case True, False:
		c.drop(1)
	default:
		c.pc = jumpPC
		vm.send(c, vm.sel.mustBeBoolean, 0, false, -1)
	}
}

// ---------------------------------------------------------------------------
// Sends
// ---------------------------------------------------------------------------

// send performs a send of selector with nargs arguments from c. sitePC is
// the pc of the send bytecode, -1 for sends without a cache site.
func (vm *VM) send(c *Context, selector Value, nargs int, super bool, sitePC int) {
	var class *Class
	if super {
		mc := c.method.MethodClass
		if mc == nil {
			vm.halt(fmt.Errorf("vm: super send of %s outside a class", vm.Memory.SymbolName(selector)))
			return
		}
		class = mc.Superclass
		if class == nil {
			vm.doesNotUnderstand(c, selector, nargs, nil)
			return
		}
	} else {
		class = vm.Memory.ClassOf(c.peek(nargs))
	}
	var site *sendSite
	if sitePC >= 0 {
		site = c.method.site(sitePC)
	}
	method := vm.lookupMethod(site, class, selector)
	if method == nil {
		vm.doesNotUnderstand(c, selector, nargs, class)
		return
	}
	vm.invoke(method, nargs)
}

// invoke runs method's primitive if it has one and activates the method
// when there is none or it fails.
func (vm *VM) invoke(method *CompiledMethod, nargs int) {
	if method.Primitive != 0 {
		if prim := vm.primitive(method.Primitive); prim != nil {
			c := vm.active
			result, status := prim(vm, c.peek(nargs), c.args(nargs))
			switch status {
			case PrimSuccess:
				c.drop(nargs + 1)
				c.push(result)
				return
			case PrimActivated:
				return
			}
		}
	}
	vm.activate(method, nargs)
}

// activate pushes a new context for method; the receiver and arguments are
// taken from the active context's stack.
func (vm *VM) activate(method *CompiledMethod, nargs int) {
	c := vm.active
	nc := vm.Memory.newMethodContext(method, c.peek(nargs), c.args(nargs), c.oop)
	c.drop(nargs + 1)
	vm.active = nc
}

// doesNotUnderstand replaces the arguments with a Message and sends
// doesNotUnderstand: to the receiver.
func (vm *VM) doesNotUnderstand(c *Context, selector Value, nargs int, lookupClass *Class) {
	mem := vm.Memory
	args := make([]Value, nargs)
	copy(args, c.args(nargs))
	lookupValue := Nil
	if lookupClass != nil {
		lookupValue = lookupClass.oop
	} else {
		lookupClass = mem.ClassOf(c.peek(nargs))
	}
	if lookupClass == nil {
		vm.halt(fmt.Errorf("%w: #%s sent to %s", ErrNotAnObject, mem.SymbolName(selector), c.peek(nargs)))
		return
	}
	msg := mem.NewPointersWith(mem.Classes.Message, []Value{selector, mem.NewArray(args...), lookupValue})
	c.drop(nargs)
	c.push(msg)

	method := lookupClass.Lookup(vm.sel.doesNotUnderstand)
	if method == nil {
		err := &FatalError{
			Err:      ErrDoesNotUnderstandMissing,
			Selector: mem.SymbolName(selector),
			Class:    lookupClass.DisplayName(),
		}
		log.Criticalf("%s", err)
		vm.err = err
		vm.done = true
		return
	}
	vm.invoke(method, 1)
}

// sendSpecial runs the inline fast path for a special selector and falls
// back to a full send.
func (vm *VM) sendSpecial(c *Context, index, pc int) {
	switch index {
	case specialIdentity:
		arg := c.pop()
		c.setTop(FromBool(c.top() == arg))
		return
	case specialClass:
		c.setTop(vm.Memory.ClassOf(c.top()).oop)
		return
	}
	if index < 16 {
		a, b := c.peek(1), c.peek(0)
		if a.IsSmallInt() && b.IsSmallInt() {
			if r, ok := smallIntegerOp(index, a.SmallInt(), b.SmallInt()); ok {
				c.drop(1)
				c.setTop(r)
				return
			}
		}
	}
	vm.send(c, vm.specialSelectors[index], SpecialSelectors[index].NumArgs, false, pc)
}

// smallIntegerOp evaluates special selectors 0-15 on two SmallIntegers. It
// fails when the answer is not a SmallInteger or Boolean.
func smallIntegerOp(index int, a, b int64) (Value, bool) {
	small := func(n int64) (Value, bool) {
		if !IsSmallIntRange(n) {
			return Nil, false
		}
		return FromSmallInt(n), true
	}
	switch index {
	case 0:
		return small(a + b)
	case 1:
		return small(a - b)
	case 2:
		return FromBool(a < b), true
	case 3:
		return FromBool(a > b), true
	case 4:
		return FromBool(a <= b), true
	case 5:
		return FromBool(a >= b), true
	case 6:
		return FromBool(a == b), true
	case 7:
		return FromBool(a != b), true
	case 8:
		if r, ok := mulSmall(a, b); ok {
			return FromSmallInt(r), true
		}
	case 9:
		if b != 0 && a%b == 0 {
			return small(a / b)
		}
	case 10:
		if b != 0 {
			_, m := floorDivModInt(a, b)
			return FromSmallInt(m), true
		}
	case 12:
		return shiftSmall(a, b)
	case 13:
		if b != 0 {
			q, _ := floorDivModInt(a, b)
			return small(q)
		}
	case 14:
		return FromSmallInt(a & b), true
	case 15:
		return FromSmallInt(a | b), true
	}
	return Nil, false
}

// mulSmall multiplies and reports whether the product is a SmallInteger.
func mulSmall(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/b != a || !IsSmallIntRange(r) {
		return 0, false
	}
	return r, true
}

func floorDivModInt(a, b int64) (int64, int64) {
	q, m := a/b, a%b
	if m != 0 && (m < 0) != (b < 0) {
		q--
		m += b
	}
	return q, m
}

func shiftSmall(a, n int64) (Value, bool) {
	switch {
	case n >= 0 && n < 62:
		r := a << uint(n)
		if r>>uint(n) != a || !IsSmallIntRange(r) {
			return Nil, false
		}
		return FromSmallInt(r), true
	case n < 0 && n > -64:
		return FromSmallInt(a >> uint(-n)), true
	case n <= -64:
		if a < 0 {
			return FromSmallInt(-1), true
		}
		return FromSmallInt(0), true
	}
	if a == 0 {
		return FromSmallInt(0), true
	}
	return Nil, false
}

// sendFromHost makes the active context send selector to receiver with
// args, as if a send bytecode had pushed them. Used by primitives that
// redirect control (perform:, value:).
func (vm *VM) sendFromHost(receiver Value, selector Value, args []Value, lookupClass *Class) {
	c := vm.active
	c.reserve(len(args) + 1)
	c.push(receiver)
	for _, a := range args {
		c.push(a)
	}
	if lookupClass == nil {
		lookupClass = vm.Memory.ClassOf(receiver)
	}
	method := lookupClass.Lookup(selector)
	if method == nil {
		vm.doesNotUnderstand(c, selector, len(args), lookupClass)
		return
	}
	vm.invoke(method, len(args))
}

// ---------------------------------------------------------------------------
// Returns
// ---------------------------------------------------------------------------

// methodReturn returns value from the home method. In a method context it
// is a plain return; in a block context it is a non-local return.
func (vm *VM) methodReturn(value Value) {
	c := vm.active
	if c.closure == Nil {
		vm.returnToSender(c, value)
		return
	}
	vm.nonLocalReturn(c, value)
}

// returnToSender ends c and hands value to its sender. A nil or dead
// sender is a BadReturn.
func (vm *VM) returnToSender(c *Context, value Value) {
	if c == vm.entry {
		c.markDead()
		vm.finish(value)
		return
	}
	sender := vm.Memory.ContextFor(c.sender)
	if sender == nil || sender.IsDead() {
		vm.cannotReturn(c, value)
		return
	}
	c.markDead()
	sender.push(value)
	vm.active = sender
}

// nonLocalReturn returns value from the home method of block context c,
// abandoning every context in between. When an unwind-marked context
// (ensure:, ifCurtailed:) lies in between, the return is handed to
// Smalltalk through aboutToReturn:through: so the unwind blocks run.
func (vm *VM) nonLocalReturn(c *Context, value Value) {
	mem := vm.Memory
	home := mem.Home(c)
	if home == nil || home.IsDead() || !mem.isOnChain(c, home) {
		vm.cannotReturn(c, value)
		return
	}
	if home != vm.entry {
		if s := mem.senderOf(home); s == nil || s.IsDead() {
			vm.cannotReturn(c, value)
			return
		}
	}
	for x := mem.senderOf(c); x != nil && x != home; x = mem.senderOf(x) {
		if x.method.IsUnwindMarked() {
			vm.replaceReturnValue(c)
			c.push(c.oop)
			c.push(value)
			c.push(x.oop)
			vm.send(c, vm.sel.aboutToReturn, 2, false, -1)
			return
		}
	}
	for x := c; x != home; {
		next := mem.senderOf(x)
		x.markDead()
		x = next
	}
	vm.returnToSender(home, value)
}

// cannotReturn sends cannotReturn: to the context that tried to return.
// Execution continues in c with the answer.
func (vm *VM) cannotReturn(c *Context, value Value) {
	vm.replaceReturnValue(c)
	c.push(c.oop)
	c.push(value)
	vm.send(c, vm.sel.cannotReturn, 1, false, -1)
}

// replaceReturnValue drops the value a returnTop left on the stack so a
// redirected return answers in its place.
func (vm *VM) replaceReturnValue(c *Context) {
	op := c.method.Bytecodes[c.pc-1]
	if op == BCReturnTop || op == BCBlockReturnTop {
		c.drop(1)
	}
}
