// Command bluebook boots or loads a Smalltalk image, files in sources,
// evaluates expressions, and serves the image over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/urfave/cli"

	"github.com/bluebook-vm/bluebook/changes"
	"github.com/bluebook-vm/bluebook/compiler"
	"github.com/bluebook-vm/bluebook/config"
	"github.com/bluebook-vm/bluebook/kernel"
	"github.com/bluebook-vm/bluebook/vm"
)

var log = commonlog.GetLogger("bluebook")

var (
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func main() {
	if err := newApp(os.Stdin, os.Stdout, os.Stderr).Run(os.Args); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// env is the state shared by every command: the loaded configuration and
// the streams to talk to.
type env struct {
	cfg    *config.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	e := &env{stdin: stdin, stdout: stdout, stderr: stderr}

	// -v is --verbose here.
	cli.VersionFlag = cli.BoolFlag{Name: "version", Usage: "print the version"}

	app := cli.NewApp()
	app.Name = "bluebook"
	app.Usage = "a Smalltalk-80 style bytecode virtual machine"
	app.Version = "0.4.0"
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "configuration `FILE` (default: nearest " + config.FileName + ")"},
		cli.StringFlag{Name: "image, i", Usage: "image `FILE`, overriding the configuration"},
		cli.BoolFlag{Name: "verbose, v", Usage: "log debug output"},
		cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
	}
	app.Before = e.setup
	app.Commands = []cli.Command{
		runCommand(e),
		replCommand(e),
		disasmCommand(e),
		imageCommand(e),
		serveCommand(e),
		changesCommand(e),
	}
	return app
}

// setup loads the configuration and applies the global flags.
func (e *env) setup(c *cli.Context) error {
	var cfg *config.Config
	var err error
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		var wd string
		if wd, err = os.Getwd(); err == nil {
			cfg, err = config.FindAndLoad(wd)
		}
	}
	if err != nil {
		return err
	}
	if image := c.String("image"); image != "" {
		if cfg.Image.Path, err = filepath.Abs(image); err != nil {
			return err
		}
	}
	if c.Bool("verbose") && cfg.Log.Verbosity < 2 {
		cfg.Log.Verbosity = 2
	}
	if c.Bool("no-color") {
		color.NoColor = true
	}
	cfg.ConfigureLogging()
	e.cfg = cfg
	return nil
}

// openVM loads the configured image, booting the kernel when there is none.
func (e *env) openVM() (*vm.VM, error) {
	opts := e.cfg.VMOptions()
	opts.Output = e.stdout
	return kernel.Open(e.cfg.ImagePath(), opts)
}

// attachJournal starts recording method changes when the journal is
// enabled. The journal is nil otherwise.
func (e *env) attachJournal(v *vm.VM) (*changes.Journal, error) {
	if !e.cfg.Changes.Enabled {
		return nil, nil
	}
	j, err := changes.Open(e.cfg.ChangesPath())
	if err != nil {
		return nil, err
	}
	v.Observe(j)
	return j, nil
}

func closeJournal(j *changes.Journal) {
	if j == nil {
		return
	}
	if err := j.Close(); err != nil {
		log.Warningf("closing journal: %s", err)
	}
}

// interruptible returns a context cancelled by Ctrl-C.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// fileIn compiles a source file into v.
func fileIn(v *vm.VM, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	classes, err := compiler.FileIn(v, string(data))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	log.Infof("filed in %s: %d classes", path, len(classes))
	return nil
}

func (e *env) saveImage(v *vm.VM, path string) error {
	if err := v.SaveSnapshotFile(path); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "saved %s\n", path)
	return nil
}

// printError reports err, with the Smalltalk stack for unhandled errors.
func printError(w io.Writer, err error) {
	fmt.Fprintln(w, red(err.Error()))
	var ue *vm.UnhandledError
	if errors.As(err, &ue) {
		for _, frame := range ue.Trace {
			fmt.Fprintln(w, faint("  "+frame))
		}
	}
}
