package vm

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCollectGarbageReclaimsUnreachable(t *testing.T) {
	v := newBareVM(t)
	v.CollectGarbage()
	before := v.Memory.Live()

	garbage := v.Memory.NewString("nobody refers to me")
	kept := v.Memory.NewString("pinned")
	v.Pin(kept)
	v.SetGlobal("Kept", v.Memory.NewArray(FromSmallInt(1)))

	if freed := v.CollectGarbage(); freed != 1 {
		t.Errorf("freed %d objects, want 1", freed)
	}
	if _, err := v.Memory.Fetch(garbage); !errors.Is(err, ErrFreedObject) {
		t.Errorf("unreachable string still live: %v", err)
	}
	if _, err := v.Memory.Fetch(kept); err != nil {
		t.Errorf("pinned string was collected: %v", err)
	}
	// two strings, the array, its binding and the #Kept symbol, less one
	if got := v.Memory.Live(); got != before+4 {
		t.Errorf("live = %d, want %d", got, before+4)
	}

	v.Unpin(kept)
	v.CollectGarbage()
	if _, err := v.Memory.Fetch(kept); !errors.Is(err, ErrFreedObject) {
		t.Errorf("unpinned string survived: %v", err)
	}

	// Freed slots are reused before the arena grows.
	size := len(v.Memory.objects)
	v.Memory.NewString("again")
	if len(v.Memory.objects) != size {
		t.Errorf("arena grew from %d to %d", size, len(v.Memory.objects))
	}
}

func TestPinCounts(t *testing.T) {
	v := newBareVM(t)
	s := v.Memory.NewString("twice")
	v.Pin(s)
	v.Pin(s)
	v.Unpin(s)
	v.CollectGarbage()
	if _, err := v.Memory.Fetch(s); err != nil {
		t.Fatalf("one pin left, but collected: %v", err)
	}
	v.Unpin(s)
	v.CollectGarbage()
	if _, err := v.Memory.Fetch(s); err == nil {
		t.Error("fully unpinned string survived")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	v := newBareVM(t)
	shape, square, _ := shapes(t, v)
	v.AddClassVariable(shape, "Registry")
	v.SetGlobal("Answer", FromSmallInt(42))
	v.SetGlobal("Greeting", v.Memory.NewString("hello"))
	v.SetGlobal("Pi", v.Memory.NewFloat(3.25))
	v.SetGlobal("Sq", instance(t, v, square))

	var buf bytes.Buffer
	if err := v.SaveSnapshot(&buf); err != nil {
		t.Fatal(err)
	}
	w, err := LoadSnapshot(&buf, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if w.ImageID != v.ImageID {
		t.Errorf("image id %s, want %s", w.ImageID, v.ImageID)
	}
	if got, _ := w.Global("Answer"); got != FromSmallInt(42) {
		t.Errorf("Answer = %s", got)
	}
	g, _ := w.Global("Greeting")
	if s, ok := w.Memory.StringValue(g); !ok || s != "hello" {
		t.Errorf("Greeting = %q", s)
	}
	p, _ := w.Global("Pi")
	if f, ok := w.Memory.FloatValue(p); !ok || f != 3.25 {
		t.Errorf("Pi = %v", f)
	}
	if len(w.Classes()) != len(v.Classes()) {
		t.Errorf("%d classes, want %d", len(w.Classes()), len(v.Classes()))
	}
	wshape := w.ClassNamed("Shape")
	if wshape == nil || wshape.Category != "Test" {
		t.Fatalf("Shape = %v", wshape)
	}
	if _, ok := wshape.BindingOf("Registry"); !ok {
		t.Error("class variable lost")
	}
	if w.Memory.Intern("sides") != w.Memory.Intern("sides") {
		t.Error("symbol table not rebuilt")
	}

	// Methods survive and run.
	sq, _ := w.Global("Sq")
	got, err := w.Send(context.Background(), sq, "sides")
	if err != nil || got != FromSmallInt(4) {
		t.Errorf("Sq sides = %s, %v", got, err)
	}
}

func TestSnapshotFile(t *testing.T) {
	v := newBareVM(t)
	v.SetGlobal("Answer", FromSmallInt(7))
	path := filepath.Join(t.TempDir(), "test.image")
	if err := v.SaveSnapshotFile(path); err != nil {
		t.Fatal(err)
	}
	w, err := LoadSnapshotFile(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := w.Global("Answer"); got != FromSmallInt(7) {
		t.Errorf("Answer = %s", got)
	}

	_, err = LoadSnapshotFile(filepath.Join(t.TempDir(), "missing.image"), Options{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: %v", err)
	}
}

func TestLoadRejectsMalformedImages(t *testing.T) {
	tests := map[string][]byte{
		"garbage":   []byte("definitely not cbor"),
		"empty map": {0xa0},
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadSnapshot(bytes.NewReader(data), Options{}); !errors.Is(err, ErrMalformedImage) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestValidateAcceptsBootstrap(t *testing.T) {
	if err := newBareVM(t).Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejectsCyclicSuperclass(t *testing.T) {
	v := newBareVM(t)
	shape, square, _ := shapes(t, v)
	shape.Superclass = square
	err := v.Validate()
	if !errors.Is(err, ErrMalformedImage) {
		t.Fatalf("err = %v", err)
	}
	if !bytes.Contains([]byte(err.Error()), []byte("cyclic")) {
		t.Errorf("err = %v", err)
	}
}

func TestValidateRejectsMissingRootClass(t *testing.T) {
	v := newBareVM(t)
	v.Memory.Classes.Semaphore = nil
	if err := v.Validate(); !errors.Is(err, ErrMalformedImage) {
		t.Errorf("err = %v", err)
	}
}

func TestValidateRejectsUnverifiableMethod(t *testing.T) {
	v := newBareVM(t)
	shape, _, _ := shapes(t, v)
	bad := &CompiledMethod{
		Bytecodes:    []byte{BCPop, BCReturnSelf},
		SelectorName: "broken",
		Selector:     v.Memory.Intern("broken"),
		MethodClass:  shape,
	}
	v.Memory.register(bad, v.Memory.Classes.CompiledMethod)
	shape.putMethod(bad.Selector, bad)
	if err := v.Validate(); !errors.Is(err, ErrMalformedImage) {
		t.Errorf("err = %v", err)
	}
}
