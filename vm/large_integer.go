package vm

import "math/big"

// ---------------------------------------------------------------------------
// Large integers
// ---------------------------------------------------------------------------

// Integers outside the SmallInteger range are byte objects of class
// LargePositiveInteger or LargeNegativeInteger holding the magnitude in
// little-endian order. Every arithmetic result goes through NewInteger or
// NewBigInt, which demote to SmallInteger whenever the value fits, so a
// large integer instance never holds a value in SmallInteger range.

var (
	bigMinSmall = big.NewInt(MinSmallInt)
	bigMaxSmall = big.NewInt(MaxSmallInt)
)

// NewInteger answers n as a SmallInteger or a large integer.
func (m *Memory) NewInteger(n int64) Value {
	if IsSmallIntRange(n) {
		return FromSmallInt(n)
	}
	return m.NewBigInt(big.NewInt(n))
}

// NewBigInt answers the normalized integer for b.
func (m *Memory) NewBigInt(b *big.Int) Value {
	if b.Cmp(bigMinSmall) >= 0 && b.Cmp(bigMaxSmall) <= 0 {
		return FromSmallInt(b.Int64())
	}
	be := b.Bytes() // big-endian magnitude
	le := make([]byte, len(be))
	for i, c := range be {
		le[len(be)-1-i] = c
	}
	class := m.Classes.LargePositiveInteger
	if b.Sign() < 0 {
		class = m.Classes.LargeNegativeInteger
	}
	return m.NewBytes(class, le)
}

// IsLargeInteger reports whether v is a large integer object.
func (m *Memory) IsLargeInteger(v Value) bool {
	b := m.Bytes(v)
	if b == nil {
		return false
	}
	c := b.Class()
	return c == m.Classes.LargePositiveInteger || c == m.Classes.LargeNegativeInteger
}

// IsInteger reports whether v is a SmallInteger or a large integer.
func (m *Memory) IsInteger(v Value) bool {
	return v.IsSmallInt() || m.IsLargeInteger(v)
}

// BigInt converts any integer to a *big.Int.
func (m *Memory) BigInt(v Value) (*big.Int, bool) {
	if v.IsSmallInt() {
		return big.NewInt(v.SmallInt()), true
	}
	b := m.Bytes(v)
	if b == nil {
		return nil, false
	}
	neg := false
	switch b.Class() {
	case m.Classes.LargePositiveInteger:
	case m.Classes.LargeNegativeInteger:
		neg = true
	default:
		return nil, false
	}
	be := make([]byte, len(b.Bytes))
	for i, c := range b.Bytes {
		be[len(b.Bytes)-1-i] = c
	}
	n := new(big.Int).SetBytes(be)
	if neg {
		n.Neg(n)
	}
	return n, true
}

// Int64 converts an integer that fits in 64 bits.
func (m *Memory) Int64(v Value) (int64, bool) {
	if v.IsSmallInt() {
		return v.SmallInt(), true
	}
	b, ok := m.BigInt(v)
	if !ok || !b.IsInt64() {
		return 0, false
	}
	return b.Int64(), true
}

// FloorDivMod returns the quotient rounded toward negative infinity and the
// matching modulo, the semantics of // and \\.
func FloorDivMod(a, b *big.Int) (*big.Int, *big.Int) {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 && (r.Sign() < 0) != (b.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
		r.Add(r, b)
	}
	return q, r
}
