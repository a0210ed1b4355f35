package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Snapshot: the whole arena as canonical CBOR
// ---------------------------------------------------------------------------

const (
	snapshotMagic   = "BLUEBOOK"
	snapshotVersion = 1
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type objectKind uint8

const (
	kindPointers objectKind = iota + 1
	kindBytes
	kindWords
	kindFloat
	kindClass
	kindMethod
	kindContext
	kindClosure
)

// imageFile is the top-level snapshot record. Oops are arena indices and
// are preserved across save and load, so Values need no relocation.
type imageFile struct {
	Magic     string            `cbor:"1,keyasint"`
	Version   int               `cbor:"2,keyasint"`
	ID        string            `cbor:"3,keyasint"`
	Created   int64             `cbor:"4,keyasint"`
	NextHash  uint32            `cbor:"5,keyasint"`
	Processor uint64            `cbor:"6,keyasint"`
	Known     map[string]uint32 `cbor:"7,keyasint"`
	Globals   map[string]uint64 `cbor:"8,keyasint"`
	Objects   []objectRecord    `cbor:"9,keyasint"`
}

type objectRecord struct {
	Oop   uint32     `cbor:"1,keyasint"`
	Kind  objectKind `cbor:"2,keyasint"`
	Class uint32     `cbor:"3,keyasint"`
	Hash  uint32     `cbor:"4,keyasint"`
	Slots []uint64   `cbor:"5,keyasint,omitempty"`
	Bytes []byte     `cbor:"6,keyasint,omitempty"`
	Words []uint32   `cbor:"7,keyasint,omitempty"`
	Float float64    `cbor:"8,keyasint,omitempty"`

	// classes
	Name      string            `cbor:"9,keyasint,omitempty"`
	Super     uint32            `cbor:"10,keyasint,omitempty"`
	Format    Format            `cbor:"11,keyasint,omitempty"`
	InstVars  []string          `cbor:"12,keyasint,omitempty"`
	Category  string            `cbor:"13,keyasint,omitempty"`
	ThisClass uint32            `cbor:"14,keyasint,omitempty"`
	Methods   map[uint32]uint32 `cbor:"15,keyasint,omitempty"` // selector -> method
	ClassPool map[string]uint64 `cbor:"16,keyasint,omitempty"`

	// methods
	NumArgs     int    `cbor:"17,keyasint,omitempty"`
	NumTemps    int    `cbor:"18,keyasint,omitempty"`
	Primitive   int    `cbor:"19,keyasint,omitempty"`
	Selector    uint32 `cbor:"20,keyasint,omitempty"`
	MethodClass uint32 `cbor:"21,keyasint,omitempty"`
	Source      string `cbor:"22,keyasint,omitempty"`

	// contexts and closures
	Sender   uint64 `cbor:"23,keyasint,omitempty"`
	PC       int    `cbor:"24,keyasint,omitempty"`
	Method   uint32 `cbor:"25,keyasint,omitempty"`
	Closure  uint64 `cbor:"26,keyasint,omitempty"`
	Receiver uint64 `cbor:"27,keyasint,omitempty"`
	FrameCap int    `cbor:"28,keyasint,omitempty"`
}

func encodeValues(vs []Value) []uint64 {
	out := make([]uint64, len(vs))
	for i, v := range vs {
		out[i] = uint64(v)
	}
	return out
}

func decodeValues(us []uint64) []Value {
	out := make([]Value, len(us))
	for i, u := range us {
		out[i] = Value(u)
	}
	return out
}

func classOop(c *Class) uint32 {
	if c == nil {
		return 0
	}
	return c.oop.Oop()
}

// ---------------------------------------------------------------------------
// Save
// ---------------------------------------------------------------------------

// SaveSnapshot writes the VM's object memory to w. Outside a run the
// arena is collected first so only live objects are written.
func (vm *VM) SaveSnapshot(w io.Writer) error {
	if !vm.running {
		vm.collectGarbage()
	}
	mem := vm.Memory
	if vm.ImageID == "" {
		vm.ImageID = uuid.NewString()
	}
	img := imageFile{
		Magic:     snapshotMagic,
		Version:   snapshotVersion,
		ID:        vm.ImageID,
		Created:   time.Now().Unix(),
		NextHash:  mem.nextHash,
		Processor: uint64(vm.processor),
		Known:     make(map[string]uint32),
		Globals:   make(map[string]uint64, len(vm.globals)),
		Objects:   make([]objectRecord, 0, mem.Live()),
	}
	for _, s := range mem.Classes.slots() {
		img.Known[s.name] = classOop(*s.slot)
	}
	for name, assoc := range vm.globals {
		img.Globals[name] = uint64(assoc)
	}
	for _, o := range mem.objects {
		if o != nil {
			img.Objects = append(img.Objects, vm.record(o))
		}
	}
	data, err := cborEncMode.Marshal(&img)
	if err != nil {
		return fmt.Errorf("vm: encode snapshot: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("vm: write snapshot: %w", err)
	}
	log.Infof("saved snapshot %s: %d objects, %d bytes", vm.ImageID, len(img.Objects), len(data))
	return nil
}

func (vm *VM) record(o Object) objectRecord {
	h := o.hdr()
	r := objectRecord{Oop: h.oop.Oop(), Class: classOop(h.class), Hash: h.hash}
	switch x := o.(type) {
	case *PointersObject:
		r.Kind = kindPointers
		r.Slots = encodeValues(x.Slots)
	case *BytesObject:
		r.Kind = kindBytes
		r.Bytes = x.Bytes
	case *WordsObject:
		r.Kind = kindWords
		r.Words = x.Words
	case *FloatObject:
		r.Kind = kindFloat
		r.Float = x.Value
	case *Class:
		r.Kind = kindClass
		r.Name = x.Name
		r.Super = classOop(x.Superclass)
		r.Format = x.Format
		r.InstVars = x.InstVarNames
		r.Category = x.Category
		r.ThisClass = classOop(x.thisClass)
		r.Methods = make(map[uint32]uint32, len(x.methods))
		for sel, m := range x.methods {
			r.Methods[sel.Oop()] = m.oop.Oop()
		}
		r.ClassPool = make(map[string]uint64, len(x.ClassPool))
		for name, b := range x.ClassPool {
			r.ClassPool[name] = uint64(b)
		}
	case *CompiledMethod:
		r.Kind = kindMethod
		r.NumArgs = x.NumArgs
		r.NumTemps = x.NumTemps
		r.Primitive = x.Primitive
		r.Slots = encodeValues(x.Literals)
		r.Bytes = x.Bytecodes
		r.Selector = x.Selector.Oop()
		r.MethodClass = classOop(x.MethodClass)
		r.Source = x.Source
	case *Context:
		r.Kind = kindContext
		r.Sender = uint64(x.sender)
		r.PC = x.pc
		r.Method = x.method.oop.Oop()
		r.Closure = uint64(x.closure)
		r.Receiver = uint64(x.receiver)
		r.Slots = encodeValues(x.stack[:x.sp])
		r.FrameCap = len(x.stack)
	case *BlockClosure:
		r.Kind = kindClosure
		r.Sender = uint64(x.outerContext)
		r.PC = x.startPC
		r.NumArgs = x.numArgs
		r.Slots = encodeValues(x.copied)
	}
	return r
}

// SaveSnapshotFile writes a snapshot to path through a temporary file, so
// an interrupted save never leaves a truncated image behind.
func (vm *VM) SaveSnapshotFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".bluebook-*")
	if err != nil {
		return fmt.Errorf("vm: save snapshot: %w", err)
	}
	bw := bufio.NewWriter(tmp)
	err = vm.SaveSnapshot(bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// LoadSnapshot reads a snapshot written by SaveSnapshot and validates the
// graph before returning the VM.
func LoadSnapshot(r io.Reader, opts Options) (*VM, error) {
	var img imageFile
	if err := cbor.NewDecoder(r).Decode(&img); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedImage, err)
	}
	if img.Magic != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformedImage, img.Magic)
	}
	if img.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedImage, img.Version)
	}

	vm := newVM(opts)
	vm.ImageID = img.ID
	mem := vm.Memory
	if err := mem.restore(img.Objects); err != nil {
		return nil, err
	}
	mem.nextHash = img.NextHash
	for _, s := range mem.Classes.slots() {
		*s.slot = mem.ClassFor(fromOop(img.Known[s.name]))
	}
	for name, assoc := range img.Globals {
		vm.globals[name] = Value(assoc)
	}
	vm.processor = Value(img.Processor)
	for _, o := range mem.objects {
		if b, ok := o.(*BytesObject); ok && b.class != nil && b.class == mem.Classes.Symbol {
			mem.symbols[string(b.Bytes)] = b.oop
		}
	}
	if err := vm.Validate(); err != nil {
		return nil, err
	}
	vm.initSelectors()
	log.Infof("loaded snapshot %s: %d objects", img.ID, mem.Live())
	return vm, nil
}

// LoadSnapshotFile opens path and loads it.
func LoadSnapshotFile(path string, opts Options) (*VM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vm: load snapshot: %w", err)
	}
	defer f.Close()
	return LoadSnapshot(bufio.NewReader(f), opts)
}

// restore rebuilds the arena in two passes: allocate every object at its
// recorded index, then resolve the references between Go-level objects.
func (m *Memory) restore(records []objectRecord) error {
	size := 1
	for _, r := range records {
		if r.Oop == 0 {
			return fmt.Errorf("%w: object at index 0", ErrMalformedImage)
		}
		if int(r.Oop) >= size {
			size = int(r.Oop) + 1
		}
	}
	m.objects = make([]Object, size)
	for _, r := range records {
		if m.objects[r.Oop] != nil {
			return fmt.Errorf("%w: duplicate object @%d", ErrMalformedImage, r.Oop)
		}
		var o Object
		switch r.Kind {
		case kindPointers:
			o = &PointersObject{Slots: decodeValues(r.Slots)}
		case kindBytes:
			o = &BytesObject{Bytes: append([]byte{}, r.Bytes...)}
		case kindWords:
			o = &WordsObject{Words: append([]uint32{}, r.Words...)}
		case kindFloat:
			o = &FloatObject{Value: r.Float}
		case kindClass:
			o = &Class{Name: r.Name, Format: r.Format, InstVarNames: r.InstVars, Category: r.Category,
				methods: make(map[Value]*CompiledMethod), ClassPool: make(map[string]Value)}
		case kindMethod:
			o = &CompiledMethod{NumArgs: r.NumArgs, NumTemps: r.NumTemps, Primitive: r.Primitive,
				Literals: decodeValues(r.Slots), Bytecodes: r.Bytes, Source: r.Source}
		case kindContext:
			if r.FrameCap < len(r.Slots) {
				return fmt.Errorf("%w: context @%d frame overflows", ErrMalformedImage, r.Oop)
			}
			stack := make([]Value, r.FrameCap)
			copy(stack, decodeValues(r.Slots))
			o = &Context{sender: Value(r.Sender), pc: r.PC, sp: len(r.Slots), closure: Value(r.Closure),
				receiver: Value(r.Receiver), stack: stack}
		case kindClosure:
			o = &BlockClosure{outerContext: Value(r.Sender), startPC: r.PC, numArgs: r.NumArgs,
				copied: decodeValues(r.Slots)}
		default:
			return fmt.Errorf("%w: object @%d has unknown kind %d", ErrMalformedImage, r.Oop, r.Kind)
		}
		h := o.hdr()
		h.oop = fromOop(r.Oop)
		h.hash = r.Hash
		m.objects[r.Oop] = o
	}
	for i := 1; i < size; i++ {
		if m.objects[i] == nil {
			m.free = append(m.free, uint32(i))
		}
	}

	class := func(oop uint32) *Class {
		if oop == 0 {
			return nil
		}
		return m.ClassFor(fromOop(oop))
	}
	for _, r := range records {
		o := m.objects[r.Oop]
		o.hdr().class = class(r.Class)
		switch x := o.(type) {
		case *Class:
			x.Superclass = class(r.Super)
			x.thisClass = class(r.ThisClass)
			for name, b := range r.ClassPool {
				x.ClassPool[name] = Value(b)
			}
		case *CompiledMethod:
			x.Selector = fromOop(r.Selector)
			x.MethodClass = class(r.MethodClass)
		case *Context:
			x.method = m.Method(fromOop(r.Method))
			if x.method == nil {
				return fmt.Errorf("%w: context @%d has no method", ErrMalformedImage, r.Oop)
			}
		}
	}
	// Methods and instance sizes need the selectors and superclasses above.
	for _, r := range records {
		x, ok := m.objects[r.Oop].(*Class)
		if !ok {
			continue
		}
		for sel, meth := range r.Methods {
			cm := m.Method(fromOop(meth))
			if cm == nil {
				return fmt.Errorf("%w: class %s refers to a missing method", ErrMalformedImage, x.Name)
			}
			x.methods[fromOop(sel)] = cm
		}
	}
	for _, o := range m.objects {
		if c, ok := o.(*Class); ok {
			c.instSize = instSizeOf(c, len(m.objects))
		}
	}
	return nil
}

// instSizeOf sums instance variables along the chain, stopping on a cycle
// (which Validate reports).
func instSizeOf(c *Class, limit int) int {
	n := 0
	for s := c; s != nil && limit > 0; s, limit = s.Superclass, limit-1 {
		n += len(s.InstVarNames)
	}
	return n
}
