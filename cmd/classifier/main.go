package main

import (
	"fmt"
	"io"
	"os"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI entrypoint; args[0] is the program name, matching the
// standard os.Args shape.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "serve":
		return runServeCmd(args[2:], stdout, stderr)
	case "batch":
		return runBatchCmd(args[2:], stdout, stderr)
	case "reload-kb":
		return runReloadKBCmd(args[2:], stdout, stderr)
	case "promote":
		return runPromoteCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "fiscalclass-classifier")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  classifier <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve       Run the HTTP API server")
	fmt.Fprintln(w, "  batch       Run a batch classification/determination job")
	fmt.Fprintln(w, "  reload-kb   Force a knowledge-base reload from the configured source")
	fmt.Fprintln(w, "  promote     Promote a correction into the golden set")
	fmt.Fprintln(w, "  help        Show this help")
}
