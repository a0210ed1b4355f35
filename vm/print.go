package vm

import (
	"context"
	"fmt"
	"strings"
)

// PrintString sends printString to v and answers the resulting string.
// When the answer is not a string it falls back to Describe.
func (vm *VM) PrintString(ctx context.Context, v Value) (string, error) {
	r, err := vm.Send(ctx, v, "printString")
	if err != nil {
		return "", err
	}
	if s, ok := vm.Memory.StringValue(r); ok {
		return s, nil
	}
	return vm.Describe(v), nil
}

// Describe renders v without running any Smalltalk code.
func (vm *VM) Describe(v Value) string {
	var sb strings.Builder
	vm.describe(&sb, v, 3)
	return sb.String()
}

func (vm *VM) describe(sb *strings.Builder, v Value, depth int) {
	mem := vm.Memory
	switch {
	case v.IsSmallInt(), v == Nil, v == True, v == False:
		sb.WriteString(v.String())
		return
	case v.IsChar():
		sb.WriteString("$")
		sb.WriteRune(v.Char())
		return
	}
	if f, ok := mem.FloatValue(v); ok {
		sb.WriteString(printFloat(f))
		return
	}
	if b, ok := mem.BigInt(v); ok {
		sb.WriteString(b.String())
		return
	}
	if s := mem.SymbolName(v); s != "" {
		sb.WriteString("#" + s)
		return
	}
	if s, ok := mem.StringValue(v); ok {
		sb.WriteString("'" + strings.ReplaceAll(s, "'", "''") + "'")
		return
	}
	if c := mem.ClassFor(v); c != nil {
		sb.WriteString(c.DisplayName())
		return
	}
	if m := mem.Method(v); m != nil {
		sb.WriteString(m.String())
		return
	}
	class := mem.ClassOf(v)
	if class == nil {
		fmt.Fprintf(sb, "<invalid %s>", v)
		return
	}
	if elems, ok := mem.ArrayElements(v); ok && class == mem.Classes.Array {
		if depth == 0 {
			sb.WriteString("#(...)")
			return
		}
		sb.WriteString("#(")
		for i, e := range elems {
			if i > 0 {
				sb.WriteString(" ")
			}
			vm.describe(sb, e, depth-1)
		}
		sb.WriteString(")")
		return
	}
	sb.WriteString(article(class.DisplayName()))
}

// article prefixes a class name with "a" or "an".
func article(name string) string {
	if name != "" && strings.ContainsRune("AEIOUaeiou", rune(name[0])) {
		return "an " + name
	}
	return "a " + name
}
