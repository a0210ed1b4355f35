package vm

import "testing"

// ---------------------------------------------------------------------------
// SmallInteger tests
// ---------------------------------------------------------------------------

func TestSmallIntRoundTrip(t *testing.T) {
	tests := []int64{0, 1, -1, 42, -42, 1 << 40, -(1 << 40), MaxSmallInt, MinSmallInt}
	for _, n := range tests {
		v := FromSmallInt(n)
		if !v.IsSmallInt() {
			t.Errorf("FromSmallInt(%d).IsSmallInt() = false", n)
			continue
		}
		if got := v.SmallInt(); got != n {
			t.Errorf("FromSmallInt(%d).SmallInt() = %d", n, got)
		}
		if v.IsObject() || v.IsChar() || v.IsNil() {
			t.Errorf("FromSmallInt(%d) has the wrong tag", n)
		}
	}
}

func TestSmallIntRange(t *testing.T) {
	if !IsSmallIntRange(MaxSmallInt) || !IsSmallIntRange(MinSmallInt) {
		t.Error("range endpoints should fit")
	}
	if IsSmallIntRange(MaxSmallInt+1) || IsSmallIntRange(MinSmallInt-1) {
		t.Error("values past the endpoints should not fit")
	}
}

// ---------------------------------------------------------------------------
// Immediates and specials
// ---------------------------------------------------------------------------

func TestCharRoundTrip(t *testing.T) {
	for _, r := range []rune{0, 'a', ' ', '$', 255, 0x1F600} {
		v := FromChar(r)
		if !v.IsChar() {
			t.Errorf("FromChar(%q).IsChar() = false", r)
		}
		if v.Char() != r {
			t.Errorf("FromChar(%q).Char() = %q", r, v.Char())
		}
		if v.IsSmallInt() {
			t.Errorf("FromChar(%q) looks like a SmallInteger", r)
		}
	}
}

func TestSpecialValues(t *testing.T) {
	var zero Value
	if zero != Nil || !zero.IsNil() {
		t.Error("the zero Value should be nil")
	}
	if !True.IsBool() || !False.IsBool() || Nil.IsBool() {
		t.Error("IsBool is wrong for the specials")
	}
	if FromBool(true) != True || FromBool(false) != False {
		t.Error("FromBool")
	}
	for _, v := range []Value{Nil, True, False, FromSmallInt(3), FromChar('x')} {
		if !v.IsImmediate() || v.IsObject() {
			t.Errorf("%s should be immediate", v)
		}
	}
}

func TestImmediatesNeverAliasHeapObjects(t *testing.T) {
	v := fromOop(1)
	if !v.IsObject() || v.IsImmediate() {
		t.Fatal("oop 1 should be a heap reference")
	}
	if v == FromSmallInt(1) || v == FromChar(1) || v == True {
		t.Error("heap reference compares equal to an immediate")
	}
	if v.Oop() != 1 {
		t.Errorf("Oop() = %d", v.Oop())
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Nil, "nil"},
		{True, "true"},
		{False, "false"},
		{FromSmallInt(-7), "-7"},
		{FromChar('q'), "$q"},
		{fromOop(12), "@12"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
