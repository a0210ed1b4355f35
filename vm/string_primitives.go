package vm

import (
	"bytes"
	"hash/fnv"
)

// ---------------------------------------------------------------------------
// String and Symbol primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerStringPrimitives() {
	// String at:
	vm.prims[63] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		i, ok := smallIndex(args[0])
		if !ok {
			return fail()
		}
		v, err := vm.Memory.StringAt(rcvr, i)
		if err != nil {
			return fail()
		}
		return success(v)
	}
	// String at:put:
	vm.prims[64] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		i, ok := smallIndex(args[0])
		if !ok {
			return fail()
		}
		if err := vm.Memory.StringAtPut(rcvr, i, args[1]); err != nil {
			return fail()
		}
		return success(args[1])
	}
	// asSymbol
	vm.prims[1001] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		s, ok := vm.Memory.StringValue(rcvr)
		if !ok {
			return fail()
		}
		return success(vm.Memory.Intern(s))
	}
	// compare: answers -1, 0 or 1 comparing bytes
	vm.prims[1005] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		a, b := vm.Memory.Bytes(rcvr), vm.Memory.Bytes(args[0])
		if a == nil || b == nil {
			return fail()
		}
		return success(FromSmallInt(int64(bytes.Compare(a.Bytes, b.Bytes))))
	}
	// hash of the contents, equal for equal strings and symbols
	vm.prims[1023] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		b := vm.Memory.Bytes(rcvr)
		if b == nil {
			return fail()
		}
		h := fnv.New32a()
		h.Write(b.Bytes)
		return success(FromSmallInt(int64(h.Sum32() & 0x3FFFFFFF)))
	}
}
