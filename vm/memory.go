package vm

import "fmt"

// ---------------------------------------------------------------------------
// Object memory
// ---------------------------------------------------------------------------

// KnownClasses holds the classes the interpreter and primitives refer to by
// role. They are created by the bootstrap or restored from a snapshot.
type KnownClasses struct {
	Object               *Class
	Behavior             *Class
	Class                *Class
	Metaclass            *Class
	UndefinedObject      *Class
	Boolean              *Class
	True                 *Class
	False                *Class
	Magnitude            *Class
	Character            *Class
	Number               *Class
	Integer              *Class
	SmallInteger         *Class
	LargePositiveInteger *Class
	LargeNegativeInteger *Class
	Float                *Class
	Collection           *Class
	Array                *Class
	String               *Class
	Symbol               *Class
	ByteArray            *Class
	WordArray            *Class
	Association          *Class
	Message              *Class
	CompiledMethod       *Class
	BlockClosure         *Class
	Context              *Class
	Link                 *Class
	LinkedList           *Class
	Process              *Class
	Semaphore            *Class
	ProcessorScheduler   *Class
	SystemDictionary     *Class
}

// Memory is the arena of heap objects. A heap Value's payload is an index
// into objects; index 0 is never used. Freed indices are recycled through
// the free list after a collection.
type Memory struct {
	objects  []Object
	free     []uint32
	nextHash uint32
	sinceGC  int

	Classes KnownClasses
	symbols map[string]Value
}

// NewMemory creates an empty arena.
func NewMemory() *Memory {
	return &Memory{
		objects:  make([]Object, 1, 4096),
		nextHash: 1,
		symbols:  make(map[string]Value),
	}
}

// register places o in the arena and assigns its oop and identity hash.
func (m *Memory) register(o Object, class *Class) Value {
	h := o.hdr()
	h.class = class
	h.hash = m.nextHash & 0x3FFFFF
	m.nextHash = m.nextHash*1103515245 + 12345
	if h.hash == 0 {
		h.hash = 1
	}
	var idx uint32
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
		m.objects[idx] = o
	} else {
		idx = uint32(len(m.objects))
		m.objects = append(m.objects, o)
	}
	h.oop = fromOop(idx)
	m.sinceGC++
	return h.oop
}

// Fetch returns the heap object v refers to.
func (m *Memory) Fetch(v Value) (Object, error) {
	if !v.IsObject() {
		return nil, ErrNotAnObject
	}
	idx := v.Oop()
	if idx == 0 || int(idx) >= len(m.objects) || m.objects[idx] == nil {
		return nil, fmt.Errorf("%w: @%d", ErrFreedObject, idx)
	}
	return m.objects[idx], nil
}

// object returns the heap object for v or nil.
func (m *Memory) object(v Value) Object {
	if !v.IsObject() {
		return nil
	}
	idx := v.Oop()
	if int(idx) >= len(m.objects) {
		return nil
	}
	return m.objects[idx]
}

// Live returns the number of objects in the arena.
func (m *Memory) Live() int {
	return len(m.objects) - 1 - len(m.free)
}

// ClassOf returns the class of any value in O(1).
func (m *Memory) ClassOf(v Value) *Class {
	switch v & tagMask {
	case tagInt:
		return m.Classes.SmallInteger
	case tagChar:
		return m.Classes.Character
	case tagOop:
		if o := m.object(v); o != nil {
			return o.Class()
		}
		return nil
	}
	switch v {
	case True:
		return m.Classes.True
	case False:
		return m.Classes.False
	}
	return m.Classes.UndefinedObject
}

// IsKindOf reports whether v is an instance of class or a subclass.
func (m *Memory) IsKindOf(v Value, class *Class) bool {
	c := m.ClassOf(v)
	return c != nil && c.InheritsFrom(class)
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// Instantiate creates a new instance of class with indexable size n. All
// pointer slots are nil and all bytes and words are zero.
func (m *Memory) Instantiate(class *Class, n int) (Value, error) {
	if n < 0 {
		return Nil, ErrIndexOutOfBounds
	}
	if n > 0 && !class.Format.IsIndexable() {
		return Nil, ErrNotIndexable
	}
	switch class.Format {
	case FormatFixed, FormatIndexable:
		return m.NewPointers(class, class.InstSize()+n), nil
	case FormatBytes:
		return m.NewBytes(class, make([]byte, n)), nil
	case FormatWords:
		return m.NewWords(class, make([]uint32, n)), nil
	case FormatFloat:
		return m.register(&FloatObject{}, class), nil
	}
	return Nil, fmt.Errorf("vm: cannot instantiate %s (format %s)", class.Name, class.Format)
}

// NewPointers allocates a pointer object with n nil slots.
func (m *Memory) NewPointers(class *Class, n int) Value {
	return m.register(&PointersObject{Slots: make([]Value, n)}, class)
}

// NewPointersWith allocates a pointer object holding slots.
func (m *Memory) NewPointersWith(class *Class, slots []Value) Value {
	return m.register(&PointersObject{Slots: slots}, class)
}

// NewBytes allocates a byte object that takes ownership of b.
func (m *Memory) NewBytes(class *Class, b []byte) Value {
	return m.register(&BytesObject{Bytes: b}, class)
}

// NewWords allocates a word object that takes ownership of w.
func (m *Memory) NewWords(class *Class, w []uint32) Value {
	return m.register(&WordsObject{Words: w}, class)
}

// NewFloat boxes f.
func (m *Memory) NewFloat(f float64) Value {
	return m.register(&FloatObject{Value: f}, m.Classes.Float)
}

// NewString allocates a String.
func (m *Memory) NewString(s string) Value {
	return m.NewBytes(m.Classes.String, []byte(s))
}

// NewArray allocates an Array holding elems.
func (m *Memory) NewArray(elems ...Value) Value {
	slots := make([]Value, len(elems))
	copy(slots, elems)
	return m.NewPointersWith(m.Classes.Array, slots)
}

// NewAssociation allocates key -> value.
func (m *Memory) NewAssociation(key, value Value) Value {
	return m.NewPointersWith(m.Classes.Association, []Value{key, value})
}

// Intern returns the unique Symbol for s.
func (m *Memory) Intern(s string) Value {
	if v, ok := m.symbols[s]; ok {
		return v
	}
	v := m.NewBytes(m.Classes.Symbol, []byte(s))
	m.symbols[s] = v
	return v
}

// LookupSymbol returns the Symbol for s if it has been interned.
func (m *Memory) LookupSymbol(s string) (Value, bool) {
	v, ok := m.symbols[s]
	return v, ok
}

// ---------------------------------------------------------------------------
// Typed accessors
// ---------------------------------------------------------------------------

// Bytes returns the byte object v refers to, or nil.
func (m *Memory) Bytes(v Value) *BytesObject {
	b, _ := m.object(v).(*BytesObject)
	return b
}

// Pointers returns the pointer object v refers to, or nil.
func (m *Memory) Pointers(v Value) *PointersObject {
	p, _ := m.object(v).(*PointersObject)
	return p
}

// ClassFor returns the class object v refers to, or nil.
func (m *Memory) ClassFor(v Value) *Class {
	c, _ := m.object(v).(*Class)
	return c
}

// Method returns the CompiledMethod v refers to, or nil.
func (m *Memory) Method(v Value) *CompiledMethod {
	cm, _ := m.object(v).(*CompiledMethod)
	return cm
}

// ContextFor returns the Context v refers to, or nil.
func (m *Memory) ContextFor(v Value) *Context {
	c, _ := m.object(v).(*Context)
	return c
}

// Closure returns the BlockClosure v refers to, or nil.
func (m *Memory) Closure(v Value) *BlockClosure {
	c, _ := m.object(v).(*BlockClosure)
	return c
}

// FloatValue returns the double held by a Float, or false.
func (m *Memory) FloatValue(v Value) (float64, bool) {
	f, ok := m.object(v).(*FloatObject)
	if !ok {
		return 0, false
	}
	return f.Value, true
}

// StringValue returns the contents of a String or Symbol.
func (m *Memory) StringValue(v Value) (string, bool) {
	b := m.Bytes(v)
	if b == nil {
		return "", false
	}
	c := b.Class()
	if c != m.Classes.Symbol && !c.InheritsFrom(m.Classes.String) {
		return "", false
	}
	return string(b.Bytes), true
}

// SymbolName returns the name of a Symbol, or "" when v is not one.
func (m *Memory) SymbolName(v Value) string {
	b := m.Bytes(v)
	if b == nil || b.Class() != m.Classes.Symbol {
		return ""
	}
	return string(b.Bytes)
}

// ArrayElements returns the slots of an Array.
func (m *Memory) ArrayElements(v Value) ([]Value, bool) {
	p := m.Pointers(v)
	if p == nil || !p.Class().InheritsFrom(m.Classes.Array) {
		return nil, false
	}
	return p.Slots, true
}

// ---------------------------------------------------------------------------
// Indexed access
// ---------------------------------------------------------------------------

// IndexedSize returns the number of indexable slots of v (0 for
// non-indexable objects and immediates).
func (m *Memory) IndexedSize(v Value) int {
	switch o := m.object(v).(type) {
	case *PointersObject:
		return o.IndexedSize()
	case *BytesObject:
		return len(o.Bytes)
	case *WordsObject:
		return len(o.Words)
	case *FloatObject:
		return 2
	case *Context:
		return o.sp
	}
	return 0
}

// BasicAt reads indexable slot i (1-based) of v. Bytes and words answer
// SmallIntegers.
func (m *Memory) BasicAt(v Value, i int) (Value, error) {
	switch o := m.object(v).(type) {
	case *PointersObject:
		n := o.class.InstSize()
		if i < 1 || i > len(o.Slots)-n || !o.class.Format.IsIndexable() {
			return Nil, ErrIndexOutOfBounds
		}
		return o.Slots[n+i-1], nil
	case *BytesObject:
		if i < 1 || i > len(o.Bytes) {
			return Nil, ErrIndexOutOfBounds
		}
		return FromSmallInt(int64(o.Bytes[i-1])), nil
	case *WordsObject:
		if i < 1 || i > len(o.Words) {
			return Nil, ErrIndexOutOfBounds
		}
		return FromSmallInt(int64(o.Words[i-1])), nil
	case *FloatObject:
		if i < 1 || i > 2 {
			return Nil, ErrIndexOutOfBounds
		}
		return FromSmallInt(int64(o.word(i - 1))), nil
	case nil:
		return Nil, ErrNotIndexable
	}
	return Nil, ErrNotIndexable
}

// BasicAtPut writes indexable slot i (1-based) of v. The object is left
// untouched when the index or the value kind is wrong.
func (m *Memory) BasicAtPut(v Value, i int, val Value) error {
	switch o := m.object(v).(type) {
	case *PointersObject:
		n := o.class.InstSize()
		if i < 1 || i > len(o.Slots)-n || !o.class.Format.IsIndexable() {
			return ErrIndexOutOfBounds
		}
		o.Slots[n+i-1] = val
		return nil
	case *BytesObject:
		if i < 1 || i > len(o.Bytes) {
			return ErrIndexOutOfBounds
		}
		if !val.IsSmallInt() || val.SmallInt() < 0 || val.SmallInt() > 255 {
			return ErrWrongKind
		}
		o.Bytes[i-1] = byte(val.SmallInt())
		return nil
	case *WordsObject:
		if i < 1 || i > len(o.Words) {
			return ErrIndexOutOfBounds
		}
		if !val.IsSmallInt() || val.SmallInt() < 0 || val.SmallInt() > 0xFFFFFFFF {
			return ErrWrongKind
		}
		o.Words[i-1] = uint32(val.SmallInt())
		return nil
	case *FloatObject:
		if i < 1 || i > 2 {
			return ErrIndexOutOfBounds
		}
		if !val.IsSmallInt() || val.SmallInt() < 0 || val.SmallInt() > 0xFFFFFFFF {
			return ErrWrongKind
		}
		o.setWord(i-1, uint32(val.SmallInt()))
		return nil
	}
	return ErrNotIndexable
}

// StringAt reads character i (1-based) of a byte string.
func (m *Memory) StringAt(v Value, i int) (Value, error) {
	b := m.Bytes(v)
	if b == nil {
		return Nil, ErrNotIndexable
	}
	if i < 1 || i > len(b.Bytes) {
		return Nil, ErrIndexOutOfBounds
	}
	return FromChar(rune(b.Bytes[i-1])), nil
}

// StringAtPut writes character i (1-based) of a byte string. Symbols are
// immutable.
func (m *Memory) StringAtPut(v Value, i int, ch Value) error {
	b := m.Bytes(v)
	if b == nil || b.Class() == m.Classes.Symbol {
		return ErrNotIndexable
	}
	if i < 1 || i > len(b.Bytes) {
		return ErrIndexOutOfBounds
	}
	if !ch.IsChar() || ch.Char() > 255 {
		return ErrWrongKind
	}
	b.Bytes[i-1] = byte(ch.Char())
	return nil
}

// InstVarAt reads named instance variable i (1-based).
func (m *Memory) InstVarAt(v Value, i int) (Value, error) {
	o := m.object(v)
	if o == nil {
		return Nil, ErrNotAnObject
	}
	if i < 1 || i > o.NumSlots() {
		return Nil, ErrIndexOutOfBounds
	}
	return o.FetchPointer(i - 1)
}

// InstVarAtPut writes named instance variable i (1-based).
func (m *Memory) InstVarAtPut(v Value, i int, val Value) error {
	o := m.object(v)
	if o == nil {
		return ErrNotAnObject
	}
	if i < 1 || i > o.NumSlots() {
		return ErrIndexOutOfBounds
	}
	return o.StorePointer(i-1, val)
}

// ShallowCopy copies v; immediates answer themselves.
func (m *Memory) ShallowCopy(v Value) (Value, error) {
	switch o := m.object(v).(type) {
	case *PointersObject:
		slots := make([]Value, len(o.Slots))
		copy(slots, o.Slots)
		return m.NewPointersWith(o.class, slots), nil
	case *BytesObject:
		if o.class == m.Classes.Symbol {
			return v, nil
		}
		b := make([]byte, len(o.Bytes))
		copy(b, o.Bytes)
		return m.NewBytes(o.class, b), nil
	case *WordsObject:
		w := make([]uint32, len(o.Words))
		copy(w, o.Words)
		return m.NewWords(o.class, w), nil
	case *FloatObject:
		return m.register(&FloatObject{Value: o.Value}, o.class), nil
	case nil:
		return v, nil
	}
	return Nil, fmt.Errorf("vm: cannot copy %s", m.ClassOf(v).Name)
}
