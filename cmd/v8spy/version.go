package main

import (
	"errors"
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"

	"v8spy/internal/proc"
	"v8spy/internal/symbols"
	"v8spy/internal/v8"
)

func cmdVersion(args []string) error {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	pid := fs.Int("pid", 0, "target process id")
	verbose := fs.Bool("verbose", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pid <= 0 {
		return fmt.Errorf("--pid is required")
	}
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	p, err := proc.Attach(*pid)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, err := symbols.BuildContext(*pid)
	if err != nil {
		if errors.Is(err, symbols.ErrNoRuntime) {
			return fmt.Errorf("pid %d is not a supported JavaScript runtime", *pid)
		}
		return err
	}

	ver, err := v8.ReadVersion(ctx, p)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n", ver, ctx.Kind)
	return nil
}
