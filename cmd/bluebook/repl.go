package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/urfave/cli"

	"github.com/bluebook-vm/bluebook/compiler"
	"github.com/bluebook-vm/bluebook/vm"
)

const (
	historyFile  = ".bluebook_history"
	promptMain   = "st> "
	promptChunk  = "... "
	replCommands = `:help              this text
:quit              leave
:gc                collect garbage
:stats             object and send cache counts
:classes           list the classes
:disasm C>>sel     disassemble a method
:save [FILE]       save the image`
)

// lineReader is the part of liner the loop needs.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

func replCommand(e *env) cli.Command {
	return cli.Command{
		Name:  "repl",
		Usage: "evaluate expressions interactively",
		Action: func(c *cli.Context) error {
			v, err := e.openVM()
			if err != nil {
				return err
			}
			j, err := e.attachJournal(v)
			if err != nil {
				return err
			}
			defer closeJournal(j)

			ln := liner.NewLiner()
			defer ln.Close()
			ln.SetCtrlCAborts(true)

			home, _ := os.UserHomeDir()
			histPath := filepath.Join(home, historyFile)
			if f, err := os.Open(histPath); err == nil {
				ln.ReadHistory(f)
				f.Close()
			}
			defer func() {
				if f, err := os.Create(histPath); err == nil {
					ln.WriteHistory(f)
					f.Close()
				}
			}()

			return e.repl(v, ln)
		},
	}
}

// repl reads chunks until EOF or :quit. Errors are reported and the loop
// goes on.
func (e *env) repl(v *vm.VM, in lineReader) error {
	fmt.Fprintf(e.stdout, "%s %s\n", bold("bluebook"), faint("(:help for commands)"))
	for {
		chunk, ok := readChunk(in)
		if !ok {
			fmt.Fprintln(e.stdout)
			return nil
		}
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		in.AppendHistory(strings.ReplaceAll(chunk, "\n", " "))

		if strings.HasPrefix(chunk, ":") {
			if e.replCommand(v, chunk) {
				return nil
			}
			continue
		}
		e.evalAndPrint(v, chunk)
	}
}

// readChunk prompts until the brackets of the input balance. An aborted
// line discards the chunk.
func readChunk(in lineReader) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptChunk
		}
		line, err := in.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			b.Reset()
			continue
		}
		if err != nil {
			if err != io.EOF {
				log.Warningf("reading input: %s", err)
			}
			return "", false
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if complete(b.String()) {
			return b.String(), true
		}
	}
}

// complete reports whether src has no open bracket, string or comment.
func complete(src string) bool {
	depth := 0
	rs := []rune(src)
	for i := 0; i < len(rs); i++ {
		switch rs[i] {
		case '\'', '"':
			q := rs[i]
			for i++; i < len(rs); i++ {
				if rs[i] == q {
					if q == '\'' && i+1 < len(rs) && rs[i+1] == '\'' {
						i++
						continue
					}
					break
				}
			}
			if i >= len(rs) {
				return false
			}
		case '$':
			i++
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		}
	}
	return depth <= 0
}

func (e *env) evalAndPrint(v *vm.VM, source string) {
	ctx, stop := interruptible()
	defer stop()
	result, err := compiler.Evaluate(ctx, v, source)
	if err != nil {
		printError(e.stdout, err)
		return
	}
	printed, err := v.PrintString(ctx, result)
	if err != nil {
		printError(e.stdout, err)
		return
	}
	fmt.Fprintln(e.stdout, cyan(printed))
}

// replCommand runs a colon command and reports whether to leave.
func (e *env) replCommand(v *vm.VM, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":q":
		return true
	case ":help", ":h", ":?":
		fmt.Fprintln(e.stdout, replCommands)
	case ":gc":
		fmt.Fprintf(e.stdout, "freed %d objects, %d live\n", v.CollectGarbage(), v.Memory.Live())
	case ":stats":
		s := v.CacheStats()
		fmt.Fprintf(e.stdout, "objects %d\ncache %s: %d hits, %d misses, %d megamorphic (%.1f%%)\n",
			v.Memory.Live(), v.Options().CacheMode, s.Hits, s.Misses, s.Megamorphic, s.HitRate())
	case ":classes":
		names := make([]string, 0)
		for _, c := range v.Classes() {
			names = append(names, c.Name)
		}
		sort.Strings(names)
		fmt.Fprintln(e.stdout, strings.Join(names, " "))
	case ":disasm":
		if len(fields) < 2 {
			fmt.Fprintln(e.stdout, yellow("usage: :disasm Class>>selector"))
			break
		}
		if err := e.disasm(v, strings.Join(fields[1:], " ")); err != nil {
			printError(e.stdout, err)
		}
	case ":save":
		path := e.cfg.ImagePath()
		if len(fields) > 1 {
			path = fields[1]
		}
		if err := e.saveImage(v, path); err != nil {
			printError(e.stdout, err)
		}
	default:
		fmt.Fprintln(e.stdout, yellow("unknown command "+fields[0]+", try :help"))
	}
	return false
}
