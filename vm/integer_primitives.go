package vm

import (
	"math/big"
	"strconv"
)

// ---------------------------------------------------------------------------
// SmallInteger primitives (1-17)
// ---------------------------------------------------------------------------

// Both operands must be SmallIntegers and so must the answer; otherwise the
// primitive fails and the fallback retries on Integer (21-37).
func (vm *VM) registerSmallIntegerPrimitives() {
	for i, op := range []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 13} {
		index := op
		prim := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}[i]
		vm.prims[prim] = func(_ *VM, rcvr Value, args []Value) (Value, PrimStatus) {
			if !rcvr.IsSmallInt() || !args[0].IsSmallInt() {
				return fail()
			}
			if r, ok := smallIntegerOp(index, rcvr.SmallInt(), args[0].SmallInt()); ok {
				return success(r)
			}
			return fail()
		}
	}
	small2 := func(fn func(a, b int64) (int64, bool)) PrimitiveFunc {
		return func(_ *VM, rcvr Value, args []Value) (Value, PrimStatus) {
			if !rcvr.IsSmallInt() || !args[0].IsSmallInt() {
				return fail()
			}
			r, ok := fn(rcvr.SmallInt(), args[0].SmallInt())
			if !ok || !IsSmallIntRange(r) {
				return fail()
			}
			return success(FromSmallInt(r))
		}
	}
	vm.prims[13] = small2(func(a, b int64) (int64, bool) {
		if b == 0 {
			return 0, false
		}
		return a / b, true
	})
	vm.prims[14] = small2(func(a, b int64) (int64, bool) { return a & b, true })
	vm.prims[15] = small2(func(a, b int64) (int64, bool) { return a | b, true })
	vm.prims[16] = small2(func(a, b int64) (int64, bool) { return a ^ b, true })
	vm.prims[17] = func(_ *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		if !rcvr.IsSmallInt() || !args[0].IsSmallInt() {
			return fail()
		}
		if r, ok := shiftSmall(rcvr.SmallInt(), args[0].SmallInt()); ok {
			return success(r)
		}
		return fail()
	}
}

// ---------------------------------------------------------------------------
// Integer primitives (21-37): any mix of SmallInteger and large integers
// ---------------------------------------------------------------------------

func (vm *VM) registerIntegerPrimitives() {
	arith := func(fn func(a, b *big.Int) *big.Int) PrimitiveFunc {
		return func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
			a, ok1 := vm.Memory.BigInt(rcvr)
			b, ok2 := vm.Memory.BigInt(args[0])
			if !ok1 || !ok2 {
				return fail()
			}
			r := fn(a, b)
			if r == nil {
				return fail()
			}
			return success(vm.Memory.NewBigInt(r))
		}
	}
	compare := func(fn func(c int) bool) PrimitiveFunc {
		return func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
			a, ok1 := vm.Memory.BigInt(rcvr)
			b, ok2 := vm.Memory.BigInt(args[0])
			if !ok1 || !ok2 {
				return fail()
			}
			return success(FromBool(fn(a.Cmp(b))))
		}
	}
	vm.prims[21] = arith(func(a, b *big.Int) *big.Int { return new(big.Int).Add(a, b) })
	vm.prims[22] = arith(func(a, b *big.Int) *big.Int { return new(big.Int).Sub(a, b) })
	vm.prims[23] = compare(func(c int) bool { return c < 0 })
	vm.prims[24] = compare(func(c int) bool { return c > 0 })
	vm.prims[25] = compare(func(c int) bool { return c <= 0 })
	vm.prims[26] = compare(func(c int) bool { return c >= 0 })
	vm.prims[27] = compare(func(c int) bool { return c == 0 })
	vm.prims[28] = compare(func(c int) bool { return c != 0 })
	vm.prims[29] = arith(func(a, b *big.Int) *big.Int { return new(big.Int).Mul(a, b) })
	vm.prims[30] = arith(func(a, b *big.Int) *big.Int {
		if b.Sign() == 0 {
			return nil
		}
		q, r := new(big.Int).QuoRem(a, b, new(big.Int))
		if r.Sign() != 0 {
			return nil
		}
		return q
	})
	vm.prims[31] = arith(func(a, b *big.Int) *big.Int {
		if b.Sign() == 0 {
			return nil
		}
		_, m := FloorDivMod(a, b)
		return m
	})
	vm.prims[32] = arith(func(a, b *big.Int) *big.Int {
		if b.Sign() == 0 {
			return nil
		}
		q, _ := FloorDivMod(a, b)
		return q
	})
	vm.prims[33] = arith(func(a, b *big.Int) *big.Int {
		if b.Sign() == 0 {
			return nil
		}
		return new(big.Int).Quo(a, b)
	})
	vm.prims[34] = arith(func(a, b *big.Int) *big.Int { return new(big.Int).And(a, b) })
	vm.prims[35] = arith(func(a, b *big.Int) *big.Int { return new(big.Int).Or(a, b) })
	vm.prims[36] = arith(func(a, b *big.Int) *big.Int { return new(big.Int).Xor(a, b) })
	vm.prims[37] = arith(func(a, b *big.Int) *big.Int {
		if !b.IsInt64() {
			return nil
		}
		n := b.Int64()
		switch {
		case n > 1<<16:
			return nil
		case n >= 0:
			return new(big.Int).Lsh(a, uint(n))
		case n < -(1 << 20):
			if a.Sign() < 0 {
				return big.NewInt(-1)
			}
			return big.NewInt(0)
		}
		return new(big.Int).Rsh(a, uint(-n))
	})

	// Integer printString / printString: base
	vm.prims[1004] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		base := 10
		if len(args) == 1 {
			if !args[0].IsSmallInt() || args[0].SmallInt() < 2 || args[0].SmallInt() > 36 {
				return fail()
			}
			base = int(args[0].SmallInt())
		}
		if rcvr.IsSmallInt() {
			return success(vm.Memory.NewString(strconv.FormatInt(rcvr.SmallInt(), base)))
		}
		b, ok := vm.Memory.BigInt(rcvr)
		if !ok {
			return fail()
		}
		return success(vm.Memory.NewString(b.Text(base)))
	}
}
