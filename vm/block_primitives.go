package vm

// ---------------------------------------------------------------------------
// BlockClosure primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerBlockPrimitives() {
	// value, value:, value:value:, value:value:value:, value:value:value:value:
	for n := 0; n <= 4; n++ {
		vm.prims[201+n] = vm.closureValue
	}
	vm.prims[221] = vm.closureValue // valueNoContextSwitch
	vm.prims[222] = vm.closureValue // valueNoContextSwitch:

	// valueWithArguments:
	vm.prims[206] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		elems, ok := vm.Memory.ArrayElements(args[0])
		if !ok {
			return fail()
		}
		b, outer := vm.closureParts(rcvr, len(elems))
		if b == nil {
			return fail()
		}
		copied := make([]Value, len(elems))
		copy(copied, elems)
		vm.active.drop(2)
		vm.activateClosure(b, outer, copied)
		return activated()
	}

	// asContext answers a suspended activation with no sender, the initial
	// context of a new Process.
	vm.prims[1019] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		b, outer := vm.closureParts(rcvr, 0)
		if b == nil {
			return fail()
		}
		ctx := vm.Memory.newBlockContext(b, outer, nil, Nil)
		return success(ctx.oop)
	}
}

// closureParts checks that rcvr is a closure taking nargs arguments whose
// outer context still exists.
func (vm *VM) closureParts(rcvr Value, nargs int) (*BlockClosure, *Context) {
	b := vm.Memory.Closure(rcvr)
	if b == nil || b.numArgs != nargs {
		return nil, nil
	}
	outer := vm.Memory.ContextFor(b.outerContext)
	if outer == nil {
		return nil, nil
	}
	return b, outer
}

func (vm *VM) closureValue(_ *VM, rcvr Value, args []Value) (Value, PrimStatus) {
	b, outer := vm.closureParts(rcvr, len(args))
	if b == nil {
		return fail()
	}
	copied := make([]Value, len(args))
	copy(copied, args)
	vm.active.drop(len(args) + 1)
	vm.activateClosure(b, outer, copied)
	return activated()
}

// activateClosure makes a new block context the active one, returning to
// the current active context.
func (vm *VM) activateClosure(b *BlockClosure, outer *Context, args []Value) {
	vm.active = vm.Memory.newBlockContext(b, outer, args, vm.active.oop)
}
