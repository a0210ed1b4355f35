package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli"

	"github.com/bluebook-vm/bluebook/vm"
)

func disasmCommand(e *env) cli.Command {
	return cli.Command{
		Name:      "disasm",
		Usage:     "disassemble a method",
		ArgsUsage: "Class>>selector",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "source, s", Usage: "print the method source too"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.NewExitError("disasm needs a method, like Integer>>factorial", 2)
			}
			v, err := e.openVM()
			if err != nil {
				return err
			}
			ref := strings.Join(c.Args(), " ")
			if c.Bool("source") {
				if err := e.printSource(v, ref); err != nil {
					return err
				}
			}
			return e.disasm(v, ref)
		},
	}
}

// findMethod resolves "Foo>>bar" or "Foo class>>bar", looking up inherited
// methods too.
func findMethod(v *vm.VM, ref string) (*vm.CompiledMethod, error) {
	className, selector, ok := strings.Cut(ref, ">>")
	className = strings.TrimSpace(className)
	selector = strings.TrimSpace(selector)
	if !ok || className == "" || selector == "" {
		return nil, fmt.Errorf("bad method reference %q, want Class>>selector", ref)
	}
	base, meta := strings.CutSuffix(className, " class")
	class := v.ClassNamed(strings.TrimSpace(base))
	if class == nil {
		return nil, fmt.Errorf("no class %s", base)
	}
	if meta {
		class = class.Metaclass()
	}
	sym, ok := v.Memory.LookupSymbol(selector)
	if !ok {
		return nil, fmt.Errorf("%s does not understand #%s", class.DisplayName(), selector)
	}
	m := class.Lookup(sym)
	if m == nil {
		return nil, fmt.Errorf("%s does not understand #%s", class.DisplayName(), selector)
	}
	return m, nil
}

func (e *env) disasm(v *vm.VM, ref string) error {
	m, err := findMethod(v, ref)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("args %d  temps %d  frame %d  literals %d", m.NumArgs, m.NumTemps, m.FrameSize, len(m.Literals))
	if m.Primitive != 0 {
		header += fmt.Sprintf("  primitive %d", m.Primitive)
	}
	fmt.Fprintf(e.stdout, "%s  %s\n", bold(m.String()), faint(header))
	for _, line := range strings.Split(m.Disassemble(v.Memory), "\n") {
		// "0000  opcode  operands"
		if len(line) > 6 {
			fmt.Fprintf(e.stdout, "%s%s\n", faint(line[:6]), line[6:])
		} else {
			fmt.Fprintln(e.stdout, line)
		}
	}
	return nil
}

func (e *env) printSource(v *vm.VM, ref string) error {
	m, err := findMethod(v, ref)
	if err != nil {
		return err
	}
	if m.Source == "" {
		fmt.Fprintln(e.stdout, faint("(no source)"))
		return nil
	}
	fmt.Fprintln(e.stdout, m.Source)
	fmt.Fprintln(e.stdout)
	return nil
}
