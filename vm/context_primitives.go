package vm

// ---------------------------------------------------------------------------
// Context primitives: frame access and the unwinding support used by the
// exception system
// ---------------------------------------------------------------------------

func (vm *VM) registerContextPrimitives() {
	// findNextUnwindContextUpTo: searches the senders of the receiver,
	// stopping before the argument.
	vm.prims[195] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		c := vm.Memory.ContextFor(rcvr)
		if c == nil || (args[0] != Nil && vm.Memory.ContextFor(args[0]) == nil) {
			return fail()
		}
		for x := vm.Memory.senderOf(c); x != nil && x.oop != args[0]; x = vm.Memory.senderOf(x) {
			if x.method.IsUnwindMarked() {
				return success(x.oop)
			}
		}
		return success(Nil)
	}

	// terminateTo: kills the contexts between the receiver and the
	// argument and makes the argument the receiver's sender.
	vm.prims[196] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		c := vm.Memory.ContextFor(rcvr)
		target := vm.Memory.ContextFor(args[0])
		if c == nil || (target == nil && args[0] != Nil) {
			return fail()
		}
		if target != nil && vm.Memory.isOnChain(vm.Memory.senderOf(c), target) {
			for x := vm.Memory.senderOf(c); x != target; {
				next := vm.Memory.senderOf(x)
				x.markDead()
				x = next
			}
		}
		c.sender = args[0]
		return success(rcvr)
	}

	// findNextHandlerContextStarting answers the first on:do: context at or
	// above the receiver.
	vm.prims[197] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		c := vm.Memory.ContextFor(rcvr)
		if c == nil {
			return fail()
		}
		for x := c; x != nil; x = vm.Memory.senderOf(x) {
			if x.method.IsHandlerMarked() {
				return success(x.oop)
			}
		}
		return success(Nil)
	}

	// at:, at:put:, size over the live frame
	vm.prims[210] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		c := vm.Memory.ContextFor(rcvr)
		i, ok := smallIndex(args[0])
		if c == nil || !ok || i > c.sp {
			return fail()
		}
		return success(c.stack[i-1])
	}
	vm.prims[211] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		c := vm.Memory.ContextFor(rcvr)
		i, ok := smallIndex(args[0])
		if c == nil || !ok || i > c.sp {
			return fail()
		}
		c.stack[i-1] = args[1]
		return success(args[1])
	}
	vm.prims[212] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		c := vm.Memory.ContextFor(rcvr)
		if c == nil {
			return fail()
		}
		return success(FromSmallInt(int64(c.sp)))
	}

	// privRestart rewinds the receiver to its state on activation (pc at
	// the start, arguments kept, other temps nil) and resumes it, abandoning
	// the contexts above it. Unwind blocks have already run.
	vm.prims[1017] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		c := vm.Memory.ContextFor(rcvr)
		if c == nil || c == vm.active || c.IsDead() || !vm.Memory.isOnChain(vm.active, c) {
			return fail()
		}
		var b *BlockClosure
		if c.closure != Nil {
			if b = vm.Memory.Closure(c.closure); b == nil {
				return fail()
			}
		}
		for x := vm.active; x != c; {
			next := vm.Memory.senderOf(x)
			x.markDead()
			x = next
		}
		if b == nil {
			for i := c.method.NumArgs; i < c.method.NumTemps; i++ {
				c.stack[i] = Nil
			}
			c.pc = 0
			c.sp = c.method.NumTemps
		} else {
			c.pc = b.startPC
			c.sp = b.numArgs + copy(c.stack[b.numArgs:], b.copied)
		}
		vm.active = c
		return activated()
	}
}
