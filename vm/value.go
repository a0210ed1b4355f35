package vm

import "fmt"

// Value is a tagged object reference.
//
// The low three bits hold the tag:
//   - 0: special object (nil, true, false); the zero Value is Nil
//   - 1: SmallInteger, 61-bit two's complement payload
//   - 2: Character, Unicode code point payload
//   - 3: heap object, payload is the arena index (the oop)
//
// Immediates carry no heap identity; two Values are identical (==) exactly
// when their bits are equal.
type Value uint64

const (
	tagBits  = 3
	tagMask  = Value(1<<tagBits - 1)
	tagSpec  = Value(0)
	tagInt   = Value(1)
	tagChar  = Value(2)
	tagOop   = Value(3)
	specNil  = 0
	specTrue = 1
	specFals = 2
)

// Pre-defined special values
const (
	Nil   Value = specNil<<tagBits | tagSpec
	True  Value = specTrue<<tagBits | tagSpec
	False Value = specFals<<tagBits | tagSpec
)

// SmallInteger range (61-bit signed)
const (
	MaxSmallInt int64 = 1<<60 - 1
	MinSmallInt int64 = -(1 << 60)
)

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// FromSmallInt encodes n as a SmallInteger. The caller must check the range
// with IsSmallIntRange first.
func FromSmallInt(n int64) Value {
	return Value(uint64(n)<<tagBits) | tagInt
}

// IsSmallIntRange reports whether n fits in a SmallInteger.
func IsSmallIntRange(n int64) bool {
	return n >= MinSmallInt && n <= MaxSmallInt
}

// FromChar encodes a Character.
func FromChar(r rune) Value {
	return Value(uint64(uint32(r))<<tagBits) | tagChar
}

// FromBool returns True or False.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

func fromOop(index uint32) Value {
	return Value(uint64(index)<<tagBits) | tagOop
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsSmallInt reports whether v is a SmallInteger.
func (v Value) IsSmallInt() bool { return v&tagMask == tagInt }

// IsChar reports whether v is a Character.
func (v Value) IsChar() bool { return v&tagMask == tagChar }

// IsObject reports whether v references a heap object.
func (v Value) IsObject() bool { return v&tagMask == tagOop }

// IsImmediate reports whether v has no heap identity.
func (v Value) IsImmediate() bool { return v&tagMask != tagOop }

// IsNil reports whether v is nil.
func (v Value) IsNil() bool { return v == Nil }

// IsBool reports whether v is true or false.
func (v Value) IsBool() bool { return v == True || v == False }

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// SmallInt decodes a SmallInteger. The result is meaningless for other tags.
func (v Value) SmallInt() int64 { return int64(v) >> tagBits }

// Char decodes a Character.
func (v Value) Char() rune { return rune(uint32(uint64(v) >> tagBits)) }

// Oop returns the arena index of a heap object.
func (v Value) Oop() uint32 { return uint32(uint64(v) >> tagBits) }

// String renders v for debugging. Heap objects print as their oop; use
// VM.PrintString for a Smalltalk rendering.
func (v Value) String() string {
	switch v & tagMask {
	case tagInt:
		return fmt.Sprintf("%d", v.SmallInt())
	case tagChar:
		return fmt.Sprintf("$%c", v.Char())
	case tagOop:
		return fmt.Sprintf("@%d", v.Oop())
	}
	switch v {
	case Nil:
		return "nil"
	case True:
		return "true"
	case False:
		return "false"
	}
	return fmt.Sprintf("special(%d)", uint64(v)>>tagBits)
}
