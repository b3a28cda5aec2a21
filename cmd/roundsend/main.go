// roundsend moves files across an unreliable multicast channel: the sender
// splits a file into sequenced frames, receivers reassemble them in order and
// demultiplex concurrent streams into per-stream outputs.
package main

import (
	"fmt"
	"os"

	"github.com/roundsend/roundsend/internal/cli/receiver"
	"github.com/roundsend/roundsend/internal/cli/sender"
)

const version = "v0.2.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	if isVersionRequest(args) {
		fmt.Println("roundsend " + version)
		return
	}

	switch args[0] {
	case "send":
		sender.Run(args[1:])
	case "recv":
		receiver.Run(args[1:])
	default:
		if hasHelpFlag(args) {
			printUsage()
			return
		}
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: roundsend <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  send   chunk files into frames and multicast them")
	fmt.Fprintln(os.Stderr, "  recv   reassemble subscribed streams from the group")
	fmt.Fprintln(os.Stderr, "examples:")
	fmt.Fprintln(os.Stderr, "  roundsend send --file movie.mp4 --pps 5000")
	fmt.Fprintln(os.Stderr, "  roundsend recv --stream 1 --out movie.mp4")
	fmt.Fprintln(os.Stderr, "  roundsend recv --out 'capture-{stream}.bin'")
	fmt.Fprintln(os.Stderr, "run `roundsend send --help` or `roundsend recv --help` for flags")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// isVersionRequest only inspects the first argument: a later "-v" may be a
// flag value for a subcommand, not a version request.
func isVersionRequest(args []string) bool {
	return len(args) > 0 && (args[0] == "--version" || args[0] == "-v")
}
