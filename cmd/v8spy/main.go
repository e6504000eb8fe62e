package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "resolve":
		err = cmdResolve(os.Args[2:])
	case "version":
		err = cmdVersion(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `v8spy — V8 VM layout resolver for live Node.js processes

Usage:
  v8spy resolve --pid <pid> [--json] [--out <dir>]   Resolve the full layout catalogue
  v8spy version --pid <pid>                          Print the engine version only

Flags:
  --pid <pid>     Target process id (required)
  --json          Print the result as JSON on stdout
  --out <dir>     Also write layout.json under <dir>
  --hold          Ptrace-stop the target while reading
  --verbose       Debug logging
`)
}
