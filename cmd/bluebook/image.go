package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/bluebook-vm/bluebook/kernel"
	"github.com/bluebook-vm/bluebook/vm"
)

func imageCommand(e *env) cli.Command {
	return cli.Command{
		Name:  "image",
		Usage: "build and inspect image files",
		Subcommands: []cli.Command{
			{
				Name:      "save",
				Usage:     "file in sources and save the image",
				ArgsUsage: "[FILE.st...]",
				Flags: []cli.Flag{
					cli.BoolFlag{Name: "fresh", Usage: "boot the kernel instead of loading the existing image"},
					cli.StringFlag{Name: "o, output", Usage: "write the image to `FILE` instead"},
				},
				Action: func(c *cli.Context) error {
					return e.imageSave(c.Args(), c.Bool("fresh"), c.String("output"))
				},
			},
			{
				Name:      "check",
				Usage:     "load an image and validate its object graph",
				ArgsUsage: "[FILE]",
				Action: func(c *cli.Context) error {
					path := e.cfg.ImagePath()
					if c.NArg() > 0 {
						path = c.Args().First()
					}
					return e.imageCheck(path)
				},
			},
		},
	}
}

func (e *env) imageSave(files []string, fresh bool, output string) error {
	var v *vm.VM
	var err error
	if fresh {
		opts := e.cfg.VMOptions()
		opts.Output = e.stdout
		v, err = kernel.Boot(opts)
	} else {
		v, err = e.openVM()
	}
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
	v.CollectGarbage()
	if output == "" {
		output = e.cfg.ImagePath()
	}
	return e.saveImage(v, output)
}

func (e *env) imageCheck(path string) error {
	opts := e.cfg.VMOptions()
	opts.Output = e.stdout
	v, err := kernel.Load(path, opts)
	if err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return err
	}
	methods := 0
	for _, c := range v.Classes() {
		methods += len(c.Methods()) + len(c.Metaclass().Methods())
	}
	fmt.Fprintf(e.stdout, "%s ok\n", path)
	fmt.Fprintf(e.stdout, "  image    %s\n", v.ImageID)
	fmt.Fprintf(e.stdout, "  classes  %d\n", len(v.Classes()))
	fmt.Fprintf(e.stdout, "  methods  %d\n", methods)
	fmt.Fprintf(e.stdout, "  globals  %d\n", len(v.GlobalNames()))
	fmt.Fprintf(e.stdout, "  objects  %d\n", v.Memory.Live())
	return nil
}
