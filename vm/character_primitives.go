package vm

// ---------------------------------------------------------------------------
// Character primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerCharacterPrimitives() {
	// Character class value:
	vm.prims[170] = func(_ *VM, _ Value, args []Value) (Value, PrimStatus) {
		if !args[0].IsSmallInt() || args[0].SmallInt() < 0 || args[0].SmallInt() > 0x10FFFF {
			return fail()
		}
		return success(FromChar(rune(args[0].SmallInt())))
	}
	// Character value
	vm.prims[171] = func(_ *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		if !rcvr.IsChar() {
			return fail()
		}
		return success(FromSmallInt(int64(rcvr.Char())))
	}
}
