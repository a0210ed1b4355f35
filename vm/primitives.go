package vm

// ---------------------------------------------------------------------------
// Primitive dispatch
// ---------------------------------------------------------------------------

// PrimStatus is the outcome of a primitive.
type PrimStatus uint8

const (
	// PrimFail leaves the stack untouched; the method's bytecodes run.
	PrimFail PrimStatus = iota
	// PrimSuccess replaces the receiver and arguments with the result.
	PrimSuccess
	// PrimActivated means the primitive arranged the stack and the active
	// context itself (block activation, perform:, process switches).
	PrimActivated
)

// PrimitiveFunc implements a numbered primitive. args aliases the active
// context's stack and must not be retained. A primitive checks all its
// preconditions before mutating anything.
type PrimitiveFunc func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus)

// maxPrimitive bounds the primitive table.
const maxPrimitive = 1100

func success(v Value) (Value, PrimStatus) { return v, PrimSuccess }
func fail() (Value, PrimStatus)           { return Nil, PrimFail }
func activated() (Value, PrimStatus)      { return Nil, PrimActivated }

func (vm *VM) primitive(n int) PrimitiveFunc {
	if n <= 0 || n >= len(vm.prims) {
		return nil
	}
	return vm.prims[n]
}

// RegisterPrimitive installs fn as primitive n, replacing any existing one.
func (vm *VM) RegisterPrimitive(n int, fn PrimitiveFunc) {
	if n <= 0 || n >= maxPrimitive {
		panic("vm: primitive number out of range")
	}
	vm.prims[n] = fn
}

// HasPrimitive reports whether primitive n is implemented.
func (vm *VM) HasPrimitive(n int) bool { return vm.primitive(n) != nil }

func (vm *VM) registerPrimitives() {
	vm.prims = make([]PrimitiveFunc, maxPrimitive)
	vm.registerSmallIntegerPrimitives()
	vm.registerIntegerPrimitives()
	vm.registerFloatPrimitives()
	vm.registerObjectPrimitives()
	vm.registerStringPrimitives()
	vm.registerCharacterPrimitives()
	vm.registerBlockPrimitives()
	vm.registerContextPrimitives()
	vm.registerProcessPrimitives()
	vm.registerSystemPrimitives()
	vm.registerClassReflectionPrimitives()
	vm.registerCompilerPrimitives()
}

// returnFromPrimitive completes a primitive that is about to switch
// contexts: the receiver and arguments are replaced by v in the active
// context before control moves elsewhere.
func (vm *VM) returnFromPrimitive(nargs int, v Value) {
	c := vm.active
	c.drop(nargs + 1)
	c.push(v)
}
