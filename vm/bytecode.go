package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Bytecode set
// ---------------------------------------------------------------------------

// The interpreter executes the classic closure bytecode set. Short forms
// pack the operand into the opcode byte; extended forms carry it in the
// following bytes.
const (
	BCPushReceiverVariable  = 0   // 0-15
	BCPushTemporary         = 16  // 16-31
	BCPushLiteralConstant   = 32  // 32-63
	BCPushLiteralVariable   = 64  // 64-95
	BCPopStoreReceiverVar   = 96  // 96-103
	BCPopStoreTemporary     = 104 // 104-111
	BCPushSelf              = 112
	BCPushTrue              = 113
	BCPushFalse             = 114
	BCPushNil               = 115
	BCPushMinusOne          = 116
	BCPushZero              = 117
	BCPushOne               = 118
	BCPushTwo               = 119
	BCReturnSelf            = 120
	BCReturnTrue            = 121
	BCReturnFalse           = 122
	BCReturnNil             = 123
	BCReturnTop             = 124
	BCBlockReturnTop        = 125
	BCExtendedPush          = 128
	BCExtendedStore         = 129
	BCExtendedPopStore      = 130
	BCSingleExtendedSend    = 131
	BCDoubleExtended        = 132
	BCSingleExtendedSuper   = 133
	BCSecondExtendedSend    = 134
	BCPop                   = 135
	BCDup                   = 136
	BCPushThisContext       = 137
	BCPushNewArray          = 138
	BCPushRemoteTemp        = 140
	BCStoreRemoteTemp       = 141
	BCPopStoreRemoteTemp    = 142
	BCPushClosure           = 143
	BCShortJump             = 144 // 144-151
	BCShortJumpIfFalse      = 152 // 152-159
	BCLongJump              = 160 // 160-167
	BCLongJumpIfTrue        = 168 // 168-171
	BCLongJumpIfFalse       = 172 // 172-175
	BCSendSpecial           = 176 // 176-207
	BCSendLiteral0          = 208 // 208-223
	BCSendLiteral1          = 224 // 224-239
	BCSendLiteral2          = 240 // 240-255
	longJumpBias            = 1024
	maxLongConditionalDelta = 1023
)

// Special selectors sent by bytecodes 176-207, with their argument counts.
var SpecialSelectors = [32]struct {
	Name    string
	NumArgs int
}{
	{"+", 1}, {"-", 1}, {"<", 1}, {">", 1}, {"<=", 1}, {">=", 1}, {"=", 1}, {"~=", 1},
	{"*", 1}, {"/", 1}, {"\\\\", 1}, {"@", 1}, {"bitShift:", 1}, {"//", 1}, {"bitAnd:", 1}, {"bitOr:", 1},
	{"at:", 1}, {"at:put:", 2}, {"size", 0}, {"next", 0}, {"nextPut:", 1}, {"atEnd", 0}, {"==", 1}, {"class", 0},
	{"blockCopy:", 1}, {"value", 0}, {"value:", 1}, {"do:", 1}, {"new", 0}, {"new:", 1}, {"x", 0}, {"y", 0},
}

// Indices into SpecialSelectors that the interpreter handles specially.
const (
	specialAdd      = 0
	specialSub      = 1
	specialEqual    = 6
	specialIdentity = 22
	specialClass    = 23
)

// SpecialSelectorIndex returns the index of name in SpecialSelectors, or -1.
func SpecialSelectorIndex(name string) int {
	for i, s := range SpecialSelectors {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// Decoded instructions
// ---------------------------------------------------------------------------

// Op is the decoded meaning of an instruction, independent of its encoding.
type Op uint8

const (
	OpPushReceiverVariable Op = iota
	OpPushTemporary
	OpPushLiteralConstant
	OpPushLiteralVariable
	OpStoreReceiverVariable
	OpPopStoreReceiverVariable
	OpStoreTemporary
	OpPopStoreTemporary
	OpStoreLiteralVariable
	OpPopStoreLiteralVariable
	OpPushSelf
	OpPushConstant // A: the SmallInteger or special constant as a Value
	OpReturnSelf
	OpReturnTrue
	OpReturnFalse
	OpReturnNil
	OpReturnTop
	OpBlockReturnTop
	OpSend      // A literal index, B argument count
	OpSuperSend // A literal index, B argument count
	OpSendSpecial
	OpPop
	OpDup
	OpPushThisContext
	OpPushNewArray // A size, B 1 when popping elements
	OpPushRemoteTemp
	OpStoreRemoteTemp
	OpPopStoreRemoteTemp
	OpPushClosure // A copied count, B argument count, C body size
	OpJump
	OpJumpIfTrue
	OpJumpIfFalse
)

var opNames = [...]string{
	OpPushReceiverVariable:     "pushRcvr",
	OpPushTemporary:            "pushTemp",
	OpPushLiteralConstant:      "pushLit",
	OpPushLiteralVariable:      "pushLitVar",
	OpStoreReceiverVariable:    "storeRcvr",
	OpPopStoreReceiverVariable: "popStoreRcvr",
	OpStoreTemporary:           "storeTemp",
	OpPopStoreTemporary:        "popStoreTemp",
	OpStoreLiteralVariable:     "storeLitVar",
	OpPopStoreLiteralVariable:  "popStoreLitVar",
	OpPushSelf:                 "self",
	OpPushConstant:             "pushConst",
	OpReturnSelf:               "returnSelf",
	OpReturnTrue:               "returnTrue",
	OpReturnFalse:              "returnFalse",
	OpReturnNil:                "returnNil",
	OpReturnTop:                "returnTop",
	OpBlockReturnTop:           "blockReturn",
	OpSend:                     "send",
	OpSuperSend:                "superSend",
	OpSendSpecial:              "sendSpecial",
	OpPop:                      "pop",
	OpDup:                      "dup",
	OpPushThisContext:          "thisContext",
	OpPushNewArray:             "pushArray",
	OpPushRemoteTemp:           "pushRemoteTemp",
	OpStoreRemoteTemp:          "storeRemoteTemp",
	OpPopStoreRemoteTemp:       "popStoreRemoteTemp",
	OpPushClosure:              "closure",
	OpJump:                     "jump",
	OpJumpIfTrue:               "jumpTrue",
	OpJumpIfFalse:              "jumpFalse",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", op)
}

// Instruction is one decoded bytecode.
type Instruction struct {
	PC  int
	Len int
	Op  Op
	A   int
	B   int
	C   int
	V   Value // constant for OpPushConstant
}

// Next returns the pc of the following instruction.
func (in Instruction) Next() int { return in.PC + in.Len }

// JumpTarget returns the destination of a jump.
func (in Instruction) JumpTarget() int { return in.Next() + in.A }

// IsReturn reports whether the instruction leaves the context.
func (in Instruction) IsReturn() bool {
	return in.Op >= OpReturnSelf && in.Op <= OpBlockReturnTop
}

// Decode decodes the instruction at pc.
func Decode(code []byte, pc int) (Instruction, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, fmt.Errorf("%w: pc %d outside method", ErrVerify, pc)
	}
	b := int(code[pc])
	in := Instruction{PC: pc, Len: 1}
	need := func(n int) error {
		if pc+n > len(code) {
			return fmt.Errorf("%w: truncated instruction at %d", ErrVerify, pc)
		}
		in.Len = n
		return nil
	}
	switch {
	case b < 16:
		in.Op, in.A = OpPushReceiverVariable, b
	case b < 32:
		in.Op, in.A = OpPushTemporary, b-16
	case b < 64:
		in.Op, in.A = OpPushLiteralConstant, b-32
	case b < 96:
		in.Op, in.A = OpPushLiteralVariable, b-64
	case b < 104:
		in.Op, in.A = OpPopStoreReceiverVariable, b-96
	case b < 112:
		in.Op, in.A = OpPopStoreTemporary, b-104
	case b == BCPushSelf:
		in.Op = OpPushSelf
	case b <= BCPushTwo:
		in.Op = OpPushConstant
		in.V = [...]Value{True, False, Nil, FromSmallInt(-1), FromSmallInt(0), FromSmallInt(1), FromSmallInt(2)}[b-BCPushTrue]
	case b == BCReturnSelf:
		in.Op = OpReturnSelf
	case b == BCReturnTrue:
		in.Op = OpReturnTrue
	case b == BCReturnFalse:
		in.Op = OpReturnFalse
	case b == BCReturnNil:
		in.Op = OpReturnNil
	case b == BCReturnTop:
		in.Op = OpReturnTop
	case b == BCBlockReturnTop:
		in.Op = OpBlockReturnTop
	case b == BCExtendedPush, b == BCExtendedStore, b == BCExtendedPopStore:
		if err := need(2); err != nil {
			return in, err
		}
		kind, idx := int(code[pc+1])>>6, int(code[pc+1])&63
		in.A = idx
		switch b {
		case BCExtendedPush:
			in.Op = [...]Op{OpPushReceiverVariable, OpPushTemporary, OpPushLiteralConstant, OpPushLiteralVariable}[kind]
		case BCExtendedStore:
			if kind == 2 {
				return in, fmt.Errorf("%w: store into literal constant at %d", ErrVerify, pc)
			}
			in.Op = [...]Op{OpStoreReceiverVariable, OpStoreTemporary, 0, OpStoreLiteralVariable}[kind]
		default:
			if kind == 2 {
				return in, fmt.Errorf("%w: store into literal constant at %d", ErrVerify, pc)
			}
			in.Op = [...]Op{OpPopStoreReceiverVariable, OpPopStoreTemporary, 0, OpPopStoreLiteralVariable}[kind]
		}
	case b == BCSingleExtendedSend:
		if err := need(2); err != nil {
			return in, err
		}
		in.Op, in.A, in.B = OpSend, int(code[pc+1])&31, int(code[pc+1])>>5
	case b == BCDoubleExtended:
		if err := need(3); err != nil {
			return in, err
		}
		op, n, lit := int(code[pc+1])>>5, int(code[pc+1])&31, int(code[pc+2])
		in.A, in.B = lit, n
		switch op {
		case 0:
			in.Op = OpSend
		case 1:
			in.Op = OpSuperSend
		case 2:
			in.Op = OpPushReceiverVariable
		case 3:
			in.Op = OpPushLiteralConstant
		case 4:
			in.Op = OpPushLiteralVariable
		case 5:
			in.Op = OpStoreReceiverVariable
		case 6:
			in.Op = OpPopStoreReceiverVariable
		case 7:
			in.Op = OpStoreLiteralVariable
		}
		if op >= 2 {
			in.B = 0
		}
	case b == BCSingleExtendedSuper:
		if err := need(2); err != nil {
			return in, err
		}
		in.Op, in.A, in.B = OpSuperSend, int(code[pc+1])&31, int(code[pc+1])>>5
	case b == BCSecondExtendedSend:
		if err := need(2); err != nil {
			return in, err
		}
		in.Op, in.A, in.B = OpSend, int(code[pc+1])&63, int(code[pc+1])>>6
	case b == BCPop:
		in.Op = OpPop
	case b == BCDup:
		in.Op = OpDup
	case b == BCPushThisContext:
		in.Op = OpPushThisContext
	case b == BCPushNewArray:
		if err := need(2); err != nil {
			return in, err
		}
		in.Op, in.A, in.B = OpPushNewArray, int(code[pc+1])&127, int(code[pc+1])>>7
	case b == BCPushRemoteTemp, b == BCStoreRemoteTemp, b == BCPopStoreRemoteTemp:
		if err := need(3); err != nil {
			return in, err
		}
		in.Op = [...]Op{OpPushRemoteTemp, OpStoreRemoteTemp, OpPopStoreRemoteTemp}[b-BCPushRemoteTemp]
		in.A, in.B = int(code[pc+1]), int(code[pc+2])
	case b == BCPushClosure:
		if err := need(4); err != nil {
			return in, err
		}
		in.Op = OpPushClosure
		in.A, in.B = int(code[pc+1])>>4, int(code[pc+1])&15
		in.C = int(code[pc+2])<<8 | int(code[pc+3])
	case b >= BCShortJump && b < BCShortJumpIfFalse:
		in.Op, in.A = OpJump, b-BCShortJump+1
	case b >= BCShortJumpIfFalse && b < BCLongJump:
		in.Op, in.A = OpJumpIfFalse, b-BCShortJumpIfFalse+1
	case b >= BCLongJump && b < BCLongJumpIfTrue:
		if err := need(2); err != nil {
			return in, err
		}
		in.Op, in.A = OpJump, (b-164)*256+int(code[pc+1])
	case b >= BCLongJumpIfTrue && b < BCLongJumpIfFalse:
		if err := need(2); err != nil {
			return in, err
		}
		in.Op, in.A = OpJumpIfTrue, (b&3)*256+int(code[pc+1])
	case b >= BCLongJumpIfFalse && b < BCSendSpecial:
		if err := need(2); err != nil {
			return in, err
		}
		in.Op, in.A = OpJumpIfFalse, (b&3)*256+int(code[pc+1])
	case b >= BCSendSpecial && b < BCSendLiteral0:
		in.Op, in.A = OpSendSpecial, b-BCSendSpecial
		in.B = SpecialSelectors[in.A].NumArgs
	case b >= BCSendLiteral0:
		in.Op, in.A, in.B = OpSend, b&15, (b-BCSendLiteral0)>>4
	default:
		return in, fmt.Errorf("%w: unknown bytecode %d at %d", ErrVerify, b, pc)
	}
	return in, nil
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: emits the shortest encoding for each instruction
// ---------------------------------------------------------------------------

// BytecodeBuilder assembles bytecodes. Jumps are emitted in their two byte
// long form against labels and patched by Finish.
type BytecodeBuilder struct {
	bytes   []byte
	patches []patch
	err     error
}

type patchKind uint8

const (
	patchJump patchKind = iota
	patchJumpTrue
	patchJumpFalse
	patchClosure
)

type patch struct {
	pos   int // position of the opcode byte
	kind  patchKind
	label *Label
}

// Label marks a position in the bytecode for jumps.
type Label struct {
	pos int // -1 until marked
}

// NewBytecodeBuilder creates an empty builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{}
}

// Len returns the current size in bytes.
func (b *BytecodeBuilder) Len() int { return len(b.bytes) }

// Err returns the first encoding error.
func (b *BytecodeBuilder) Err() error { return b.err }

func (b *BytecodeBuilder) fail(format string, args ...interface{}) {
	if b.err == nil {
		b.err = fmt.Errorf("vm: "+format, args...)
	}
}

// EmitRaw appends raw bytes.
func (b *BytecodeBuilder) EmitRaw(bytes ...byte) {
	b.bytes = append(b.bytes, bytes...)
}

// NewLabel creates an unmarked label.
func (b *BytecodeBuilder) NewLabel() *Label { return &Label{pos: -1} }

// Mark binds label to the current position.
func (b *BytecodeBuilder) Mark(l *Label) { l.pos = len(b.bytes) }

func (b *BytecodeBuilder) PushReceiverVariable(i int) {
	switch {
	case i < 16:
		b.EmitRaw(byte(BCPushReceiverVariable + i))
	case i < 64:
		b.EmitRaw(BCExtendedPush, byte(i))
	case i < 256:
		b.EmitRaw(BCDoubleExtended, 2<<5, byte(i))
	default:
		b.fail("receiver variable index %d too large", i)
	}
}

func (b *BytecodeBuilder) PushTemporary(i int) {
	switch {
	case i < 16:
		b.EmitRaw(byte(BCPushTemporary + i))
	case i < 64:
		b.EmitRaw(BCExtendedPush, byte(1<<6|i))
	default:
		b.fail("temporary index %d too large", i)
	}
}

func (b *BytecodeBuilder) PushLiteralConstant(i int) {
	switch {
	case i < 32:
		b.EmitRaw(byte(BCPushLiteralConstant + i))
	case i < 64:
		b.EmitRaw(BCExtendedPush, byte(2<<6|i))
	case i < 256:
		b.EmitRaw(BCDoubleExtended, 3<<5, byte(i))
	default:
		b.fail("literal index %d too large", i)
	}
}

func (b *BytecodeBuilder) PushLiteralVariable(i int) {
	switch {
	case i < 32:
		b.EmitRaw(byte(BCPushLiteralVariable + i))
	case i < 64:
		b.EmitRaw(BCExtendedPush, byte(3<<6|i))
	case i < 256:
		b.EmitRaw(BCDoubleExtended, 4<<5, byte(i))
	default:
		b.fail("literal index %d too large", i)
	}
}

func (b *BytecodeBuilder) StoreReceiverVariable(i int, pop bool) {
	switch {
	case pop && i < 8:
		b.EmitRaw(byte(BCPopStoreReceiverVar + i))
	case i < 64:
		if pop {
			b.EmitRaw(BCExtendedPopStore, byte(i))
		} else {
			b.EmitRaw(BCExtendedStore, byte(i))
		}
	case i < 256:
		if pop {
			b.EmitRaw(BCDoubleExtended, 6<<5, byte(i))
		} else {
			b.EmitRaw(BCDoubleExtended, 5<<5, byte(i))
		}
	default:
		b.fail("receiver variable index %d too large", i)
	}
}

func (b *BytecodeBuilder) StoreTemporary(i int, pop bool) {
	switch {
	case pop && i < 8:
		b.EmitRaw(byte(BCPopStoreTemporary + i))
	case i < 64:
		if pop {
			b.EmitRaw(BCExtendedPopStore, byte(1<<6|i))
		} else {
			b.EmitRaw(BCExtendedStore, byte(1<<6|i))
		}
	default:
		b.fail("temporary index %d too large", i)
	}
}

func (b *BytecodeBuilder) StoreLiteralVariable(i int, pop bool) {
	switch {
	case i < 64:
		if pop {
			b.EmitRaw(BCExtendedPopStore, byte(3<<6|i))
		} else {
			b.EmitRaw(BCExtendedStore, byte(3<<6|i))
		}
	case i < 256:
		b.EmitRaw(BCDoubleExtended, 7<<5, byte(i))
		if pop {
			b.Pop()
		}
	default:
		b.fail("literal index %d too large", i)
	}
}

func (b *BytecodeBuilder) PushSelf() { b.EmitRaw(BCPushSelf) }
func (b *BytecodeBuilder) PushNil() { b.EmitRaw(BCPushNil) }
func (b *BytecodeBuilder) PushTrue() { b.EmitRaw(BCPushTrue) }
func (b *BytecodeBuilder) PushFalse() { b.EmitRaw(BCPushFalse) }
func (b *BytecodeBuilder) Pop() { b.EmitRaw(BCPop) }
func (b *BytecodeBuilder) Dup() { b.EmitRaw(BCDup) }
func (b *BytecodeBuilder) PushThisContext() { b.EmitRaw(BCPushThisContext) }
func (b *BytecodeBuilder) ReturnTop() { b.EmitRaw(BCReturnTop) }
func (b *BytecodeBuilder) ReturnSelf() { b.EmitRaw(BCReturnSelf) }
func (b *BytecodeBuilder) ReturnNil() { b.EmitRaw(BCReturnNil) }
func (b *BytecodeBuilder) BlockReturnTop() { b.EmitRaw(BCBlockReturnTop) }
func (b *BytecodeBuilder) SendSpecial(i int) { b.EmitRaw(byte(BCSendSpecial + i)) }

// PushSmallConstant emits the one byte push for -1, 0, 1 or 2 and reports
// whether n was one of them.
func (b *BytecodeBuilder) PushSmallConstant(n int64) bool {
	if n < -1 || n > 2 {
		return false
	}
	b.EmitRaw(byte(BCPushZero + n))
	return true
}

// Return emits the one byte return for a special value.
func (b *BytecodeBuilder) ReturnSpecial(v Value) {
	switch v {
	case True:
		b.EmitRaw(BCReturnTrue)
	case False:
		b.EmitRaw(BCReturnFalse)
	default:
		b.EmitRaw(BCReturnNil)
	}
}

// Send emits a send of the selector at literal index lit.
func (b *BytecodeBuilder) Send(lit, nargs int) {
	switch {
	case nargs <= 2 && lit < 16:
		b.EmitRaw(byte(BCSendLiteral0 + nargs*16 + lit))
	case nargs < 8 && lit < 32:
		b.EmitRaw(BCSingleExtendedSend, byte(nargs<<5|lit))
	case nargs < 4 && lit < 64:
		b.EmitRaw(BCSecondExtendedSend, byte(nargs<<6|lit))
	case nargs < 32 && lit < 256:
		b.EmitRaw(BCDoubleExtended, byte(nargs), byte(lit))
	default:
		b.fail("send of literal %d with %d arguments cannot be encoded", lit, nargs)
	}
}

// SuperSend emits a super send of the selector at literal index lit.
func (b *BytecodeBuilder) SuperSend(lit, nargs int) {
	switch {
	case nargs < 8 && lit < 32:
		b.EmitRaw(BCSingleExtendedSuper, byte(nargs<<5|lit))
	case nargs < 32 && lit < 256:
		b.EmitRaw(BCDoubleExtended, byte(1<<5|nargs), byte(lit))
	default:
		b.fail("super send of literal %d with %d arguments cannot be encoded", lit, nargs)
	}
}

// PushNewArray emits an Array creation; with pop the top size elements
// become its contents.
func (b *BytecodeBuilder) PushNewArray(size int, pop bool) {
	if size > 127 {
		b.fail("array of %d elements too large", size)
		return
	}
	flag := 0
	if pop {
		flag = 128
	}
	b.EmitRaw(BCPushNewArray, byte(flag|size))
}

func (b *BytecodeBuilder) PushRemoteTemp(index, vector int) {
	b.EmitRaw(BCPushRemoteTemp, byte(index), byte(vector))
}

func (b *BytecodeBuilder) StoreRemoteTemp(index, vector int, pop bool) {
	op := byte(BCStoreRemoteTemp)
	if pop {
		op = BCPopStoreRemoteTemp
	}
	b.EmitRaw(op, byte(index), byte(vector))
}

// PushClosure emits a closure creation whose body ends at end.
func (b *BytecodeBuilder) PushClosure(numCopied, numArgs int, end *Label) {
	if numCopied > 15 || numArgs > 15 {
		b.fail("closure with %d copied values and %d arguments cannot be encoded", numCopied, numArgs)
		return
	}
	b.patches = append(b.patches, patch{pos: len(b.bytes), kind: patchClosure, label: end})
	b.EmitRaw(BCPushClosure, byte(numCopied<<4|numArgs), 0, 0)
}

// Jump emits an unconditional jump to l.
func (b *BytecodeBuilder) Jump(l *Label) {
	b.patches = append(b.patches, patch{pos: len(b.bytes), kind: patchJump, label: l})
	b.EmitRaw(BCLongJump, 0)
}

// JumpIfTrue emits a forward conditional jump to l.
func (b *BytecodeBuilder) JumpIfTrue(l *Label) {
	b.patches = append(b.patches, patch{pos: len(b.bytes), kind: patchJumpTrue, label: l})
	b.EmitRaw(BCLongJumpIfTrue, 0)
}

// JumpIfFalse emits a forward conditional jump to l.
func (b *BytecodeBuilder) JumpIfFalse(l *Label) {
	b.patches = append(b.patches, patch{pos: len(b.bytes), kind: patchJumpFalse, label: l})
	b.EmitRaw(BCLongJumpIfFalse, 0)
}

// ShortJump emits a one byte forward jump of 1-8 bytes.
func (b *BytecodeBuilder) ShortJump(delta int, ifFalse bool) {
	if delta < 1 || delta > 8 {
		b.fail("short jump delta %d out of range", delta)
		return
	}
	base := BCShortJump
	if ifFalse {
		base = BCShortJumpIfFalse
	}
	b.EmitRaw(byte(base + delta - 1))
}

// Finish resolves labels and returns the bytecodes.
func (b *BytecodeBuilder) Finish() ([]byte, error) {
	for _, p := range b.patches {
		if p.label.pos < 0 {
			b.fail("unmarked label")
			break
		}
		switch p.kind {
		case patchClosure:
			size := p.label.pos - (p.pos + 4)
			if size < 0 || size > 0xFFFF {
				b.fail("closure body of %d bytes cannot be encoded", size)
				continue
			}
			b.bytes[p.pos+2] = byte(size >> 8)
			b.bytes[p.pos+3] = byte(size)
		case patchJump:
			delta := p.label.pos - (p.pos + 2)
			if delta < -longJumpBias || delta >= longJumpBias {
				b.fail("jump of %d bytes out of range", delta)
				continue
			}
			v := delta + longJumpBias
			b.bytes[p.pos] = byte(BCLongJump + v>>8)
			b.bytes[p.pos+1] = byte(v)
		default:
			delta := p.label.pos - (p.pos + 2)
			if delta < 0 || delta > maxLongConditionalDelta {
				b.fail("conditional jump of %d bytes out of range", delta)
				continue
			}
			base := BCLongJumpIfTrue
			if p.kind == patchJumpFalse {
				base = BCLongJumpIfFalse
			}
			b.bytes[p.pos] = byte(base + delta>>8)
			b.bytes[p.pos+1] = byte(delta)
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.bytes, nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders one instruction. literal, when non-nil,
// renders literal frame entries.
func DisassembleInstruction(in Instruction, literal func(int) string) string {
	lit := func(i int) string {
		if literal == nil {
			return fmt.Sprintf("%d", i)
		}
		return literal(i)
	}
	name := in.Op.String()
	switch in.Op {
	case OpPushReceiverVariable, OpPushTemporary, OpStoreReceiverVariable, OpPopStoreReceiverVariable,
		OpStoreTemporary, OpPopStoreTemporary:
		return fmt.Sprintf("%04d  %-18s %d", in.PC, name, in.A)
	case OpPushLiteralConstant, OpPushLiteralVariable, OpStoreLiteralVariable, OpPopStoreLiteralVariable:
		return fmt.Sprintf("%04d  %-18s %s", in.PC, name, lit(in.A))
	case OpPushConstant:
		return fmt.Sprintf("%04d  %-18s %s", in.PC, name, in.V)
	case OpSend, OpSuperSend:
		return fmt.Sprintf("%04d  %-18s %s/%d", in.PC, name, lit(in.A), in.B)
	case OpSendSpecial:
		return fmt.Sprintf("%04d  %-18s %s", in.PC, name, SpecialSelectors[in.A].Name)
	case OpPushNewArray:
		if in.B == 1 {
			return fmt.Sprintf("%04d  %-18s %d (pop)", in.PC, name, in.A)
		}
		return fmt.Sprintf("%04d  %-18s %d", in.PC, name, in.A)
	case OpPushRemoteTemp, OpStoreRemoteTemp, OpPopStoreRemoteTemp:
		return fmt.Sprintf("%04d  %-18s %d in %d", in.PC, name, in.A, in.B)
	case OpPushClosure:
		return fmt.Sprintf("%04d  %-18s copied=%d args=%d to %04d", in.PC, name, in.A, in.B, in.Next()+in.C)
	case OpJump, OpJumpIfTrue, OpJumpIfFalse:
		return fmt.Sprintf("%04d  %-18s %04d", in.PC, name, in.JumpTarget())
	}
	return fmt.Sprintf("%04d  %s", in.PC, name)
}

// Disassemble renders a bytecode sequence, one instruction per line.
func Disassemble(code []byte, literal func(int) string) string {
	var sb strings.Builder
	for pc := 0; pc < len(code); {
		in, err := Decode(code, pc)
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		if err != nil {
			fmt.Fprintf(&sb, "%04d  <%v>", pc, err)
			break
		}
		sb.WriteString(DisassembleInstruction(in, literal))
		pc = in.Next()
	}
	return sb.String()
}
