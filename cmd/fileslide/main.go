package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess             = 0
	ExitGeneralError        = 1
	ExitInvalidArgs         = 2
	ExitSourceNotAccess     = 3
	ExitRangeNotSatisfiable = 4
	ExitStorageError        = 5
	ExitChecksumError       = 6
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "serve":
		return runServe(cmdArgs)
	case "zip":
		return runZip(cmdArgs)
	case "checksum":
		return runChecksum(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: fileslide <command> [options]

Commands:
  serve     Run the HTTP download service
  zip       Build a ZIP archive (or a byte range of it) from remote files
  checksum  Compute and cache the CRC32 of remote files

Run 'fileslide <command> --help' for command-specific help.`)
}
