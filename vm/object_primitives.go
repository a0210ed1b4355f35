package vm

// ---------------------------------------------------------------------------
// Object primitives: indexing, instantiation, identity, copying
// ---------------------------------------------------------------------------

// maxInstantiateSize bounds basicNew: so a bad argument fails the primitive
// instead of exhausting the host.
const maxInstantiateSize = 1 << 24

func smallIndex(v Value) (int, bool) {
	if !v.IsSmallInt() {
		return 0, false
	}
	n := v.SmallInt()
	if n < 1 || n > 1<<31 {
		return 0, false
	}
	return int(n), true
}

func (vm *VM) registerObjectPrimitives() {
	// at:
	vm.prims[60] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		i, ok := smallIndex(args[0])
		if !ok {
			return fail()
		}
		if _, isContext := vm.Memory.object(rcvr).(*Context); isContext {
			return fail()
		}
		v, err := vm.Memory.BasicAt(rcvr, i)
		if err != nil {
			return fail()
		}
		return success(v)
	}
	// at:put:
	vm.prims[61] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		i, ok := smallIndex(args[0])
		if !ok || vm.Memory.ClassOf(rcvr) == vm.Memory.Classes.Symbol {
			return fail()
		}
		if err := vm.Memory.BasicAtPut(rcvr, i, args[1]); err != nil {
			return fail()
		}
		return success(args[1])
	}
	// size
	vm.prims[62] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		return success(FromSmallInt(int64(vm.Memory.IndexedSize(rcvr))))
	}

	// basicNew
	vm.prims[70] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		class := vm.Memory.ClassFor(rcvr)
		if class == nil {
			return fail()
		}
		v, err := vm.Memory.Instantiate(class, 0)
		if err != nil {
			return fail()
		}
		return success(v)
	}
	// basicNew:
	vm.prims[71] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		class := vm.Memory.ClassFor(rcvr)
		if class == nil || !class.Format.IsIndexable() || !args[0].IsSmallInt() {
			return fail()
		}
		n := args[0].SmallInt()
		if n < 0 || n > maxInstantiateSize {
			return fail()
		}
		v, err := vm.Memory.Instantiate(class, int(n))
		if err != nil {
			return fail()
		}
		return success(v)
	}

	// instVarAt:
	vm.prims[73] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		i, ok := smallIndex(args[0])
		if !ok {
			return fail()
		}
		v, err := vm.Memory.InstVarAt(rcvr, i)
		if err != nil {
			return fail()
		}
		return success(v)
	}
	// instVarAt:put:
	vm.prims[74] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		i, ok := smallIndex(args[0])
		if !ok {
			return fail()
		}
		if c := vm.Memory.ContextFor(rcvr); c != nil && i-1 == ContextSender {
			if args[1] != Nil && vm.Memory.ContextFor(args[1]) == nil {
				return fail()
			}
		}
		if err := vm.Memory.InstVarAtPut(rcvr, i, args[1]); err != nil {
			return fail()
		}
		return success(args[1])
	}
	// identityHash
	vm.prims[75] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		return success(vm.IdentityHash(rcvr))
	}

	// replaceFrom:to:with:startingAt:
	vm.prims[105] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		start, ok1 := smallIndex(args[0])
		if !args[1].IsSmallInt() || !ok1 {
			return fail()
		}
		stop := int(args[1].SmallInt())
		repStart, ok2 := smallIndex(args[3])
		if !ok2 || stop < start-1 || vm.Memory.ClassOf(rcvr) == vm.Memory.Classes.Symbol {
			return fail()
		}
		n := stop - start + 1
		if stop > vm.Memory.IndexedSize(rcvr) || repStart+n-1 > vm.Memory.IndexedSize(args[2]) {
			return fail()
		}
		switch dst := vm.Memory.object(rcvr).(type) {
		case *PointersObject:
			src := vm.Memory.Pointers(args[2])
			if src == nil || !dst.class.Format.IsIndexable() || !src.class.Format.IsIndexable() {
				return fail()
			}
			di, si := dst.class.InstSize()+start-1, src.class.InstSize()+repStart-1
			copy(dst.Slots[di:di+n], src.Slots[si:si+n])
		case *BytesObject:
			src := vm.Memory.Bytes(args[2])
			if src == nil {
				return fail()
			}
			copy(dst.Bytes[start-1:start-1+n], src.Bytes[repStart-1:repStart-1+n])
		case *WordsObject:
			src, ok := vm.Memory.object(args[2]).(*WordsObject)
			if !ok {
				return fail()
			}
			copy(dst.Words[start-1:start-1+n], src.Words[repStart-1:repStart-1+n])
		default:
			return fail()
		}
		return success(rcvr)
	}

	// ==, ~~, class
	vm.prims[110] = func(_ *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		return success(FromBool(rcvr == args[0]))
	}
	vm.prims[169] = func(_ *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		return success(FromBool(rcvr != args[0]))
	}
	vm.prims[111] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		return success(vm.Memory.ClassOf(rcvr).oop)
	}

	// shallowCopy
	vm.prims[148] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		v, err := vm.Memory.ShallowCopy(rcvr)
		if err != nil {
			return fail()
		}
		return success(v)
	}
}

// IdentityHash answers the identity hash of any value as a SmallInteger.
func (vm *VM) IdentityHash(v Value) Value {
	switch {
	case v.IsSmallInt():
		return v
	case v.IsChar():
		return FromSmallInt(int64(v.Char()))
	case v.IsObject():
		if o := vm.Memory.object(v); o != nil {
			return FromSmallInt(int64(o.IdentityHash()))
		}
	}
	return FromSmallInt(int64(v >> tagBits))
}
