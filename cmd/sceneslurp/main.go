package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitInvalidArgs    = 2
	ExitConfigProblem  = 3
	ExitAuthFailure    = 4
	ExitRateLimited    = 5
	ExitPartialFailure = 6
	ExitStorageError   = 7
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
	case "search":
		return runSearch(cmdArgs)
	case "download":
		return runDownload(cmdArgs)
	case "order":
		return runOrder(cmdArgs)
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
	fmt.Fprintln(os.Stderr, `Usage: sceneslurp <command> [options]

Commands:
  search    Query the USGS catalog and print matching products as JSON
  download  Download catalog products into a local directory
  order     Submit, inspect, cancel and download ESPA bulk orders
  help      Show this help

Settings come from -config, then SCENESLURP_* environment variables,
then command-line flags.

Run 'sceneslurp <command> -h' for command-specific help.`)
}
