package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/bluebook-vm/bluebook/changes"
	"github.com/bluebook-vm/bluebook/compiler"
)

var filterFlags = []cli.Flag{
	cli.StringFlag{Name: "class", Usage: "only changes to `CLASS` (\"Foo class\" for class side)"},
	cli.StringFlag{Name: "selector", Usage: "only changes to `SELECTOR`"},
	cli.StringFlag{Name: "session", Usage: "only changes recorded in session `ID`"},
	cli.DurationFlag{Name: "since", Usage: "only changes from the last `DURATION`"},
	cli.IntFlag{Name: "limit", Usage: "at most `N` changes"},
}

func changesFilter(c *cli.Context) changes.Filter {
	f := changes.Filter{
		ClassName: c.String("class"),
		Selector:  c.String("selector"),
		Session:   c.String("session"),
		Limit:     c.Int("limit"),
	}
	if d := c.Duration("since"); d > 0 {
		f.Since = time.Now().Add(-d)
	}
	return f
}

func changesCommand(e *env) cli.Command {
	return cli.Command{
		Name:  "changes",
		Usage: "list and replay the method change journal",
		Subcommands: []cli.Command{
			{
				Name:  "list",
				Usage: "list recorded changes",
				Flags: append([]cli.Flag{
					cli.BoolFlag{Name: "source", Usage: "print the source of each change"},
				}, filterFlags...),
				Action: func(c *cli.Context) error {
					return e.changesList(changesFilter(c), c.Bool("source"))
				},
			},
			{
				Name:  "replay",
				Usage: "reinstall recorded changes into the image and save it",
				Flags: append([]cli.Flag{
					cli.BoolTFlag{Name: "save", Usage: "save the image afterwards (default true)"},
				}, filterFlags...),
				Action: func(c *cli.Context) error {
					return e.changesReplay(changesFilter(c), c.BoolT("save"))
				},
			},
		},
	}
}

func (e *env) changesList(f changes.Filter, source bool) error {
	j, err := changes.Open(e.cfg.ChangesPath())
	if err != nil {
		return err
	}
	defer closeJournal(j)

	entries, err := j.Entries(context.Background(), f)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		line := entry.String()
		if entry.Kind == changes.KindRemove {
			line = yellow(line)
		}
		fmt.Fprintln(e.stdout, line)
		if source && entry.Source != "" {
			for _, l := range strings.Split(entry.Source, "\n") {
				fmt.Fprintln(e.stdout, faint("    "+l))
			}
		}
	}
	return nil
}

func (e *env) changesReplay(f changes.Filter, save bool) error {
	v, err := e.openVM()
	if err != nil {
		return err
	}
	j, err := changes.Open(e.cfg.ChangesPath())
	if err != nil {
		return err
	}
	defer closeJournal(j)

	ctx, stop := interruptible()
	defer stop()
	applied, err := j.Replay(ctx, v, compiler.Compile, f)
	fmt.Fprintf(e.stdout, "replayed %d changes\n", applied)
	if err != nil {
		printError(e.stderr, err)
	}
	if save && applied > 0 {
		return e.saveImage(v, e.cfg.ImagePath())
	}
	return nil
}
