package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/bluebook-vm/bluebook/config"
	"github.com/bluebook-vm/bluebook/kernel"
	"github.com/bluebook-vm/bluebook/vm"
)

type workspace struct {
	t      *testing.T
	dir    string
	config string
}

func newWorkspace(t *testing.T, config string) *workspace {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bluebook.toml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0644))
	return &workspace{t: t, dir: dir, config: path}
}

func (w *workspace) write(name, content string) string {
	w.t.Helper()
	path := filepath.Join(w.dir, name)
	require.NoError(w.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run runs the command line and returns its standard output.
func (w *workspace) run(args ...string) (string, error) {
	w.t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp(strings.NewReader(""), &stdout, &stderr)
	argv := append([]string{"bluebook", "--no-color", "--config", w.config}, args...)
	err := app.Run(argv)
	return stdout.String(), err
}

func (w *workspace) mustRun(args ...string) string {
	w.t.Helper()
	out, err := w.run(args...)
	require.NoError(w.t, err, "bluebook %s", strings.Join(args, " "))
	return out
}

const greeterSource = `
Greeter subclass: Object
  instanceVars: name
  classMethod: named: aString [ ^self new setName: aString ]
  method: setName: aString [ name := aString ]
  method: greeting [ ^'Hello, ', name, '!' ]
`

func TestRunEvaluates(t *testing.T) {
	w := newWorkspace(t, "")
	require.Equal(t, "7\n", w.mustRun("run", "-e", "3 + 4"))
	require.Equal(t, "'abc'\n", w.mustRun("run", "-e", "'abc'"))
}

func TestGlobalFlags(t *testing.T) {
	w := newWorkspace(t, "")
	require.Equal(t, "3\n", w.mustRun("-v", "run", "-e", "1 + 2"))
	require.Equal(t, "3\n", w.mustRun("--verbose", "run", "-e", "1 + 2"))
	require.Contains(t, w.mustRun("--version"), "0.4.0")
}

func TestRunFilesIn(t *testing.T) {
	w := newWorkspace(t, "")
	src := w.write("greeter.st", greeterSource)
	out := w.mustRun("run", "-e", "(Greeter named: 'Ada') greeting", src)
	require.Equal(t, "'Hello, Ada!'\n", out)
}

func TestRunReportsErrors(t *testing.T) {
	w := newWorkspace(t, "")
	_, err := w.run("run", "-e", "1 / 0")
	var ue *vm.UnhandledError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, "ZeroDivide", ue.ClassName)

	_, err = w.run("run", "-e", "3 +")
	require.Error(t, err)

	_, err = w.run("run", filepath.Join(w.dir, "missing.st"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestImageSaveAndCheck(t *testing.T) {
	w := newWorkspace(t, "[image]\npath = \"app.image\"\n")
	src := w.write("greeter.st", greeterSource)

	out := w.mustRun("image", "save", "--fresh", src)
	image := filepath.Join(w.dir, "app.image")
	require.Contains(t, out, "saved "+image)

	// The saved image already knows Greeter.
	require.Equal(t, "'Hello, Bob!'\n", w.mustRun("run", "-e", "(Greeter named: 'Bob') greeting"))

	out = w.mustRun("image", "check")
	require.Contains(t, out, image+" ok")
	require.Contains(t, out, "classes")

	bad := w.write("bad.image", "not an image")
	_, err := w.run("image", "check", bad)
	require.ErrorIs(t, err, vm.ErrMalformedImage)
}

func TestRunSave(t *testing.T) {
	w := newWorkspace(t, "")
	w.mustRun("run", "--save", "-e", "Smalltalk at: #Answer put: 42")
	require.Equal(t, "42\n", w.mustRun("run", "-e", "Smalltalk at: #Answer"))
}

func TestImageFlagOverridesConfig(t *testing.T) {
	w := newWorkspace(t, "")
	other := filepath.Join(w.dir, "other.image")
	w.mustRun("image", "save", "--fresh", "-o", other)
	out := w.mustRun("--image", other, "image", "check")
	require.Contains(t, out, other+" ok")
}

func TestDisasm(t *testing.T) {
	w := newWorkspace(t, "")
	out := w.mustRun("disasm", "--source", "Object>>isNil")
	require.Contains(t, out, "isNil\n\t^false")
	require.Contains(t, out, "Object>>isNil")
	require.Contains(t, out, "0000")

	out = w.mustRun("disasm", "UndefinedObject>>isNil")
	require.Contains(t, out, "UndefinedObject>>isNil")

	_, err := w.run("disasm", "Object>>noSuchSelectorAnywhere")
	require.Error(t, err)
	_, err = w.run("disasm", "Nowhere>>isNil")
	require.Error(t, err)
	_, err = w.run("disasm", "isNil")
	require.Error(t, err)
}

func TestChangesJournal(t *testing.T) {
	w := newWorkspace(t, "[changes]\nenabled = true\n")

	// Define a method without saving the image.
	w.mustRun("run", "-e", "Integer compile: 'double ^self * 2'")
	_, err := w.run("run", "-e", "21 double")
	require.Error(t, err, "method survived without a saved image")

	out := w.mustRun("changes", "list", "--source")
	require.Contains(t, out, "install Integer>>double")
	require.Contains(t, out, "double ^self * 2")

	out = w.mustRun("changes", "list", "--selector", "triple")
	require.Empty(t, out)

	out = w.mustRun("changes", "replay")
	require.Contains(t, out, "replayed 1 changes")
	require.Equal(t, "42\n", w.mustRun("run", "-e", "21 double"))
}

func TestServeNeedsSecretForToken(t *testing.T) {
	w := newWorkspace(t, "")
	_, err := w.run("serve", "--print-token")
	require.ErrorContains(t, err, "token secret")
}

func TestBadConfig(t *testing.T) {
	w := newWorkspace(t, "[interpreter]\ncache-mode = \"sometimes\"\n")
	_, err := w.run("run", "-e", "1")
	require.Error(t, err)
}

// scriptedLines feeds the REPL from a slice.
type scriptedLines struct {
	lines   []string
	prompts []string
	history []string
}

func (s *scriptedLines) Prompt(prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedLines) AppendHistory(item string) { s.history = append(s.history, item) }

func TestRepl(t *testing.T) {
	color.NoColor = true
	v, err := kernel.Boot(vm.Options{Output: io.Discard})
	require.NoError(t, err)
	var out bytes.Buffer
	e := &env{cfg: config.Default(), stdout: &out, stderr: io.Discard}

	in := &scriptedLines{lines: []string{
		"3 + 4",
		"[:x |",
		"  x * 2] value: 21",
		"1 / 0",
		":stats",
		":bogus",
		":quit",
		"'never evaluated'",
	}}
	require.NoError(t, e.repl(v, in))

	text := out.String()
	require.Contains(t, text, "7\n")
	require.Contains(t, text, "42\n")
	require.Contains(t, text, "ZeroDivide")
	require.Contains(t, text, "cache monomorphic")
	require.Contains(t, text, "unknown command :bogus")
	require.NotContains(t, text, "never evaluated")
	require.Equal(t, []string{"st> ", "st> ", "... ", "st> ", "st> ", "st> ", "st> "}, in.prompts)
	require.Equal(t, "[:x |   x * 2] value: 21", in.history[1])
}

func TestComplete(t *testing.T) {
	tests := map[string]bool{
		"3 + 4":           true,
		"[:x |":           false,
		"#(1 2":           false,
		"'unterminated":   false,
		"'it''s (fine'":   true,
		"\"comment [\" 1": true,
		"$( printString":  true,
		"x := {1. 2}":     true,
		"[[1] value":      false,
	}
	for src, want := range tests {
		require.Equal(t, want, complete(src), "complete(%q)", src)
	}
}
