package vm

import "math"

// Object is a heap-allocated object living in the arena.
//
// Every kind shares a header (oop, class, identity hash, mark bit). The
// pointer view (FetchPointer/StorePointer) covers named instance variables
// followed by indexable pointer slots; byte, word and float objects expose
// no pointer slots and are reached through their own accessors.
type Object interface {
	hdr() *header
	OOP() Value
	Class() *Class
	IdentityHash() uint32

	// NumSlots is the number of pointer slots (named plus indexable).
	NumSlots() int
	// FetchPointer reads pointer slot i (0-based).
	FetchPointer(i int) (Value, error)
	// StorePointer writes pointer slot i (0-based).
	StorePointer(i int, v Value) error

	// references calls visit for every Value the object refers to, its class
	// included.
	references(visit func(Value))
}

type header struct {
	oop    Value
	class  *Class
	hash   uint32
	marked bool
}

func (h *header) hdr() *header { return h }
func (h *header) OOP() Value { return h.oop }
func (h *header) Class() *Class { return h.class }
func (h *header) IdentityHash() uint32 { return h.hash }
func (h *header) setClass(c *Class) { h.class = c }
func (h *header) visitClass(visit func(Value)) {
	if h.class != nil {
		visit(h.class.oop)
	}
}

// ---------------------------------------------------------------------------
// PointersObject
// ---------------------------------------------------------------------------

// PointersObject holds named instance variables followed by indexable
// pointer slots.
type PointersObject struct {
	header
	Slots []Value
}

func (o *PointersObject) NumSlots() int { return len(o.Slots) }

func (o *PointersObject) FetchPointer(i int) (Value, error) {
	if i < 0 || i >= len(o.Slots) {
		return Nil, ErrIndexOutOfBounds
	}
	return o.Slots[i], nil
}

func (o *PointersObject) StorePointer(i int, v Value) error {
	if i < 0 || i >= len(o.Slots) {
		return ErrIndexOutOfBounds
	}
	o.Slots[i] = v
	return nil
}

// IndexedSize returns the number of indexable slots.
func (o *PointersObject) IndexedSize() int {
	return len(o.Slots) - o.class.InstSize()
}

func (o *PointersObject) references(visit func(Value)) {
	o.visitClass(visit)
	for _, v := range o.Slots {
		visit(v)
	}
}

// ---------------------------------------------------------------------------
// BytesObject
// ---------------------------------------------------------------------------

// BytesObject holds raw bytes: strings, symbols, byte arrays and the
// magnitude of large integers.
type BytesObject struct {
	header
	Bytes []byte
}

func (o *BytesObject) NumSlots() int { return 0 }
func (o *BytesObject) FetchPointer(int) (Value, error) { return Nil, ErrIndexOutOfBounds }
func (o *BytesObject) StorePointer(int, Value) error { return ErrIndexOutOfBounds }
func (o *BytesObject) references(visit func(Value)) { o.visitClass(visit) }

// String returns the bytes as a Go string.
func (o *BytesObject) String() string { return string(o.Bytes) }

// ---------------------------------------------------------------------------
// WordsObject
// ---------------------------------------------------------------------------

// WordsObject holds 32-bit words.
type WordsObject struct {
	header
	Words []uint32
}

func (o *WordsObject) NumSlots() int { return 0 }
func (o *WordsObject) FetchPointer(int) (Value, error) { return Nil, ErrIndexOutOfBounds }
func (o *WordsObject) StorePointer(int, Value) error { return ErrIndexOutOfBounds }
func (o *WordsObject) references(visit func(Value)) { o.visitClass(visit) }

// ---------------------------------------------------------------------------
// FloatObject
// ---------------------------------------------------------------------------

// FloatObject is a boxed IEEE 754 double. Its indexable view is the two
// 32-bit halves, high word first.
type FloatObject struct {
	header
	Value float64
}

func (o *FloatObject) NumSlots() int { return 0 }
func (o *FloatObject) FetchPointer(int) (Value, error) { return Nil, ErrIndexOutOfBounds }
func (o *FloatObject) StorePointer(int, Value) error { return ErrIndexOutOfBounds }
func (o *FloatObject) references(visit func(Value)) { o.visitClass(visit) }

func (o *FloatObject) word(i int) uint32 {
	bits := math.Float64bits(o.Value)
	if i == 0 {
		return uint32(bits >> 32)
	}
	return uint32(bits)
}

func (o *FloatObject) setWord(i int, w uint32) {
	bits := math.Float64bits(o.Value)
	if i == 0 {
		bits = bits&0xFFFFFFFF | uint64(w)<<32
	} else {
		bits = bits&^0xFFFFFFFF | uint64(w)
	}
	o.Value = math.Float64frombits(bits)
}
