package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/bluebook-vm/bluebook/compiler"
)

func runCommand(e *env) cli.Command {
	return cli.Command{
		Name:      "run",
		Usage:     "file in sources, then evaluate an expression",
		ArgsUsage: "[FILE.st...]",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "e, eval", Usage: "`EXPRESSION` to evaluate and print"},
			cli.BoolFlag{Name: "save", Usage: "save the image afterwards"},
		},
		Action: func(c *cli.Context) error {
			return e.run(c.Args(), c.String("eval"), c.Bool("save"))
		},
	}
}

func (e *env) run(files []string, expr string, save bool) error {
	v, err := e.openVM()
	if err != nil {
		return err
	}
	j, err := e.attachJournal(v)
	if err != nil {
		return err
	}
	defer closeJournal(j)

	for _, path := range files {
		if err := fileIn(v, path); err != nil {
			return err
		}
	}

	if expr != "" {
		ctx, stop := interruptible()
		defer stop()
		result, err := compiler.Evaluate(ctx, v, expr)
		if err != nil {
			return err
		}
		printed, err := v.PrintString(ctx, result)
		if err != nil {
			return err
		}
		fmt.Fprintln(e.stdout, printed)
	}

	if save {
		return e.saveImage(v, e.cfg.ImagePath())
	}
	return nil
}
