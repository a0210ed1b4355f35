package vm

import (
	"errors"
	"strings"
	"testing"
)

func TestBuilderRoundTripsThroughDecode(t *testing.T) {
	b := NewBytecodeBuilder()
	done := b.NewLabel()
	b.PushTemporary(0)
	b.PushReceiverVariable(20)
	b.PushLiteralConstant(3)
	b.PushSmallConstant(2)
	b.Send(5, 2)
	b.JumpIfFalse(done)
	b.PushSelf()
	b.Pop()
	b.Mark(done)
	b.ReturnTop()
	code, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	want := []struct {
		op   Op
		a, b int
	}{
		{OpPushTemporary, 0, 0},
		{OpPushReceiverVariable, 20, 0},
		{OpPushLiteralConstant, 3, 0},
		{OpPushConstant, 0, 0},
		{OpSend, 5, 2},
		{OpJumpIfFalse, 0, 0},
		{OpPushSelf, 0, 0},
		{OpPop, 0, 0},
		{OpReturnTop, 0, 0},
	}
	pc := 0
	for i, w := range want {
		in, err := Decode(code, pc)
		if err != nil {
			t.Fatalf("instruction %d: %v", i, err)
		}
		if in.Op != w.op {
			t.Fatalf("instruction %d is %s, want %s", i, in.Op, w.op)
		}
		switch w.op {
		case OpPushConstant:
			if in.V != FromSmallInt(2) {
				t.Errorf("constant = %s", in.V)
			}
		case OpJumpIfFalse:
			// jumps over push self and pop to the return
			if target := in.JumpTarget(); code[target] != BCReturnTop {
				t.Errorf("jump lands on %d", code[target])
			}
		default:
			if in.A != w.a || in.B != w.b {
				t.Errorf("instruction %d operands %d,%d, want %d,%d", i, in.A, in.B, w.a, w.b)
			}
		}
		pc = in.Next()
	}
	if pc != len(code) {
		t.Errorf("decoded %d of %d bytes", pc, len(code))
	}
}

func TestDisassemble(t *testing.T) {
	v := newBareVM(t)
	b := NewMethodBuilder(v.Memory, v.Memory.Classes.Object, "answer", 0)
	b.PushLiteralConstant(b.Literal(FromSmallInt(42)))
	b.ReturnTop()
	m, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	text := m.Disassemble(v.Memory)
	for _, want := range []string{"pushLit", "42", "returnTop"} {
		if !strings.Contains(text, want) {
			t.Errorf("disassembly %q lacks %q", text, want)
		}
	}
}

func verifyBytes(numArgs, numTemps int, literals []Value, code ...byte) error {
	m := &CompiledMethod{NumArgs: numArgs, NumTemps: numTemps, Literals: literals, Bytecodes: code, SelectorName: "check"}
	return Verify(m)
}

func TestVerifyRejectsBadMethods(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"empty", verifyBytes(0, 0, nil), "empty method"},
		{"underflow", verifyBytes(0, 0, nil, BCPop, BCReturnSelf), "underflows"},
		{"falls off the end", verifyBytes(0, 0, nil, BCPushSelf), "falls off the end"},
		{"unused bytecode", verifyBytes(0, 0, nil, 139), "unknown bytecode"},
		{"literal out of range", verifyBytes(0, 0, nil, BCPushLiteralConstant+2, BCReturnTop), "literal 2"},
		{"temp out of range", verifyBytes(1, 1, nil, BCPushTemporary+3, BCReturnTop), "temporary 3"},
		{"truncated", verifyBytes(0, 0, nil, BCPushSelf, BCPushClosure, 0), "truncated"},
		{"jump outside", verifyBytes(0, 0, nil, BCShortJump+7, BCReturnSelf), "leaves its body"},
		{"depth mismatch", verifyBytes(0, 0, nil,
			BCPushTrue, BCShortJumpIfFalse, // skip the push when false
			BCPushSelf,
			BCReturnSelf), "stack depth"},
		{"temps below args", verifyBytes(2, 1, nil, BCReturnSelf), "temps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, ErrVerify) {
				t.Fatalf("err = %v", tt.err)
			}
			if !strings.Contains(tt.err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", tt.err, tt.want)
			}
		})
	}
}

func TestVerifyComputesFrameSize(t *testing.T) {
	m := &CompiledMethod{NumArgs: 1, NumTemps: 2, Bytecodes: []byte{
		BCPushSelf, BCPushTemporary, BCPushTemporary + 1, BCPop, BCPop, BCReturnTop,
	}}
	if err := Verify(m); err != nil {
		t.Fatal(err)
	}
	if m.FrameSize != 5 {
		t.Errorf("FrameSize = %d, want 5", m.FrameSize)
	}
}

func TestBuilderRejectsUnmarkedLabel(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Jump(b.NewLabel())
	if _, err := b.Finish(); err == nil {
		t.Error("expected an error for an unmarked label")
	}
}

func TestContextPCMustStartAnInstruction(t *testing.T) {
	v := newBareVM(t)
	b := NewMethodBuilder(v.Memory, v.Memory.Classes.Object, "a:b:c:", 3)
	b.PushSelf()
	b.PushTemporary(0)
	b.PushTemporary(1)
	b.PushTemporary(2)
	b.Send(b.SelectorLiteral("x:y:z:"), 3) // two bytes at pc 4
	b.ReturnTop()
	m, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Bytecodes) != 7 {
		t.Fatalf("method is %d bytes, want 7", len(m.Bytecodes))
	}
	c := v.Memory.newMethodContext(m, Nil, []Value{Nil, Nil, Nil}, Nil)

	tests := []struct {
		pc   int64
		want error
	}{
		{0, nil},
		{4, nil},
		{5, ErrIndexOutOfBounds},
		{6, nil},
		{7, nil},
		{8, ErrWrongKind},
		{-1, ErrWrongKind},
	}
	for _, tt := range tests {
		err := c.StorePointer(ContextPC, FromSmallInt(tt.pc))
		if !errors.Is(err, tt.want) {
			t.Errorf("store pc %d: err = %v, want %v", tt.pc, err, tt.want)
		}
	}
	if c.pc != 7 {
		t.Errorf("pc = %d after rejected stores, want 7", c.pc)
	}
}
