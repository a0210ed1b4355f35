package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli"

	"github.com/bluebook-vm/bluebook/bridge"
)

func serveCommand(e *env) cli.Command {
	return cli.Command{
		Name:  "serve",
		Usage: "serve the image over HTTP",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "addr", Usage: "listen on `ADDR` instead of the configured address"},
			cli.BoolFlag{Name: "print-token", Usage: "print a bearer token valid for a day"},
			cli.BoolFlag{Name: "save", Usage: "save the image on shutdown"},
		},
		Action: func(c *cli.Context) error {
			return e.serve(c.String("addr"), c.Bool("print-token"), c.Bool("save"))
		},
	}
}

func (e *env) serve(addr string, printToken, save bool) error {
	secret := e.cfg.Bridge.TokenSecret
	if printToken {
		if secret == "" {
			return errors.New("no token secret configured; set token-secret in [bridge]")
		}
		token, err := bridge.IssueToken([]byte(secret), "bluebook", 24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Fprintln(e.stdout, token)
	}
	if addr == "" {
		addr = e.cfg.Bridge.Addr
	}

	v, err := e.openVM()
	if err != nil {
		return err
	}
	j, err := e.attachJournal(v)
	if err != nil {
		return err
	}
	defer closeJournal(j)

	s := bridge.New(v, bridge.WithTokenSecret(secret))
	ctx, stop := interruptible()
	defer stop()
	err = s.ListenAndServe(ctx, addr)
	s.Stop()
	if err != nil {
		return err
	}
	if save {
		return e.saveImage(v, e.cfg.ImagePath())
	}
	return nil
}
