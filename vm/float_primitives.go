package vm

import (
	"math"
	"math/big"
	"strconv"
)

// ---------------------------------------------------------------------------
// Float primitives (40-59)
// ---------------------------------------------------------------------------

// asFloat converts any number to a double.
func (m *Memory) asFloat(v Value) (float64, bool) {
	if v.IsSmallInt() {
		return float64(v.SmallInt()), true
	}
	if f, ok := m.FloatValue(v); ok {
		return f, true
	}
	if b, ok := m.BigInt(v); ok {
		f, _ := new(big.Float).SetInt(b).Float64()
		return f, true
	}
	return 0, false
}

func (vm *VM) registerFloatPrimitives() {
	// Integer asFloat
	vm.prims[40] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		if !vm.Memory.IsInteger(rcvr) {
			return fail()
		}
		f, _ := vm.Memory.asFloat(rcvr)
		return success(vm.Memory.NewFloat(f))
	}

	arith := func(fn func(a, b float64) (float64, bool)) PrimitiveFunc {
		return func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
			a, ok1 := vm.Memory.FloatValue(rcvr)
			b, ok2 := vm.Memory.asFloat(args[0])
			if !ok1 || !ok2 {
				return fail()
			}
			r, ok := fn(a, b)
			if !ok {
				return fail()
			}
			return success(vm.Memory.NewFloat(r))
		}
	}
	compare := func(fn func(a, b float64) bool) PrimitiveFunc {
		return func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
			a, ok1 := vm.Memory.FloatValue(rcvr)
			b, ok2 := vm.Memory.asFloat(args[0])
			if !ok1 || !ok2 {
				return fail()
			}
			return success(FromBool(fn(a, b)))
		}
	}
	unary := func(fn func(a float64) (float64, bool)) PrimitiveFunc {
		return func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
			a, ok := vm.Memory.FloatValue(rcvr)
			if !ok {
				return fail()
			}
			r, ok := fn(a)
			if !ok {
				return fail()
			}
			return success(vm.Memory.NewFloat(r))
		}
	}
	always := func(fn func(float64) float64) func(float64) (float64, bool) {
		return func(a float64) (float64, bool) { return fn(a), true }
	}

	vm.prims[41] = arith(func(a, b float64) (float64, bool) { return a + b, true })
	vm.prims[42] = arith(func(a, b float64) (float64, bool) { return a - b, true })
	vm.prims[43] = compare(func(a, b float64) bool { return a < b })
	vm.prims[44] = compare(func(a, b float64) bool { return a > b })
	vm.prims[45] = compare(func(a, b float64) bool { return a <= b })
	vm.prims[46] = compare(func(a, b float64) bool { return a >= b })
	vm.prims[47] = compare(func(a, b float64) bool { return a == b })
	vm.prims[48] = compare(func(a, b float64) bool { return a != b })
	vm.prims[49] = arith(func(a, b float64) (float64, bool) { return a * b, true })
	vm.prims[50] = arith(func(a, b float64) (float64, bool) { return a / b, b != 0 })

	// truncated
	vm.prims[51] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		a, ok := vm.Memory.FloatValue(rcvr)
		if !ok || math.IsNaN(a) || math.IsInf(a, 0) {
			return fail()
		}
		t := math.Trunc(a)
		if t >= -(1<<62) && t < 1<<62 {
			return success(vm.Memory.NewInteger(int64(t)))
		}
		b, _ := big.NewFloat(t).Int(nil)
		return success(vm.Memory.NewBigInt(b))
	}
	vm.prims[52] = unary(always(func(a float64) float64 {
		_, frac := math.Modf(a)
		return frac
	}))
	// exponent
	vm.prims[53] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		a, ok := vm.Memory.FloatValue(rcvr)
		if !ok {
			return fail()
		}
		if a == 0 {
			return success(FromSmallInt(0))
		}
		_, exp := math.Frexp(a)
		return success(FromSmallInt(int64(exp - 1)))
	}
	vm.prims[54] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		a, ok := vm.Memory.FloatValue(rcvr)
		if !ok || !args[0].IsSmallInt() {
			return fail()
		}
		return success(vm.Memory.NewFloat(math.Ldexp(a, int(args[0].SmallInt()))))
	}
	vm.prims[55] = unary(func(a float64) (float64, bool) { return math.Sqrt(a), a >= 0 })
	vm.prims[56] = unary(always(math.Sin))
	vm.prims[57] = unary(always(math.Atan))
	vm.prims[58] = unary(func(a float64) (float64, bool) { return math.Log(a), a > 0 })
	vm.prims[59] = unary(always(math.Exp))

	// Float printString
	vm.prims[1003] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		a, ok := vm.Memory.FloatValue(rcvr)
		if !ok {
			return fail()
		}
		return success(vm.Memory.NewString(printFloat(a)))
	}
}

// printFloat renders a double the way Float>>printString does: shortest
// round-trip digits, always with a fraction or exponent.
func printFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	for _, c := range s {
		if c == '.' || c == 'e' {
			return s
		}
	}
	return s + ".0"
}
