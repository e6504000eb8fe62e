package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"v8spy/internal/output"
	"v8spy/internal/v8"
)

func cmdResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	pid := fs.Int("pid", 0, "target process id")
	jsonOut := fs.Bool("json", false, "output as JSON")
	outDir := fs.String("out", "", "write layout.json under this directory")
	hold := fs.Bool("hold", false, "ptrace-stop the target while reading")
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

	res, err := v8.Resolve(*pid, v8.Config{Hold: *hold})
	if err != nil {
		return err
	}

	if *outDir != "" {
		if _, err := output.WriteLayoutJSON(*outDir, res); err != nil {
			return err
		}
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Printf("pid:      %d\n", res.Pid)
	fmt.Printf("runtime:  %s\n", res.Runtime)
	fmt.Printf("version:  %s\n", res.Version)
	if missing := res.Layout.Unresolved(); len(missing) > 0 {
		fmt.Printf("unresolved (%d):\n", len(missing))
		for _, name := range missing {
			fmt.Printf("  %s\n", name)
		}
	} else {
		fmt.Println("all layout facts resolved")
	}
	return nil
}
